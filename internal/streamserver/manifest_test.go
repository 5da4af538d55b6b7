// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package streamserver

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const masterPlaylist = `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=1280000,RESOLUTION=1280x720
stream.m3u8
`

const dashManifest = `<?xml version="1.0"?>
<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" type="dynamic">
  <Period id="0"><AdaptationSet><Representation id="0">
    <SegmentTemplate media="chunk-$Number$.m4s" initialization="init.mp4"/>
  </Representation></AdaptationSet></Period>
</MPD>
`

func TestManifestReady(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
		return p
	}

	tests := []struct {
		name string
		path string
		want bool
	}{
		{"missing", filepath.Join(dir, "none.m3u8"), false},
		{"empty file", write("empty.m3u8", ""), false},
		{"no segments", write("header.m3u8", emptyPlaylist), false},
		{"one segment", write("media.m3u8", playlist), true},
		{"master", write("master.m3u8", masterPlaylist), true},
		{"garbage", write("junk.m3u8", "hello"), false},
		{"dash", write("stream.mpd", dashManifest), true},
		{"dash without segments", write("bare.mpd", "<MPD></MPD>"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ManifestReady(tt.path))
		})
	}
}

func TestWaitManifestReturnsOnceSegmentListed(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cam")
	path := filepath.Join(dir, "stream.m3u8")

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		done <- WaitManifest(ctx, zerolog.Nop(), path)
	}()

	// WaitManifest creates the directory; give it a moment to start watching.
	require.Eventually(t, func() bool {
		_, err := os.Stat(dir)
		return err == nil
	}, waitFor, tick)
	require.NoError(t, os.WriteFile(path, []byte(emptyPlaylist), 0o600))
	select {
	case err := <-done:
		t.Fatalf("returned before a segment was listed: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, os.WriteFile(path, []byte(playlist), 0o600))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("manifest wait did not return")
	}
}

func TestWaitManifestTimesOut(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := WaitManifest(ctx, zerolog.Nop(), filepath.Join(t.TempDir(), "stream.m3u8"))
	assert.ErrorIs(t, err, ErrManifestTimeout)
}

func TestWaitManifestCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WaitManifest(ctx, zerolog.Nop(), filepath.Join(t.TempDir(), "stream.m3u8"))
	assert.ErrorIs(t, err, context.Canceled)
}
