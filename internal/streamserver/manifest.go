// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package streamserver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/grafov/m3u8"
	"github.com/rs/zerolog"
)

// ErrManifestTimeout is returned when no playable manifest appeared in time.
var ErrManifestTimeout = errors.New("manifest not ready")

// ManifestReady reports whether the manifest at path references at least one
// segment. HLS playlists are parsed; a DASH manifest only has to name a
// segment template or list.
func ManifestReady(path string) bool {
	data, err := os.ReadFile(path) // #nosec G304 -- path is built from the device output dir
	if err != nil || len(data) == 0 {
		return false
	}
	if strings.HasSuffix(path, ".mpd") {
		return bytes.Contains(data, []byte("<MPD")) &&
			(bytes.Contains(data, []byte("SegmentTemplate")) || bytes.Contains(data, []byte("SegmentList")))
	}

	pl, kind, err := m3u8.DecodeFrom(bytes.NewReader(data), false)
	if err != nil {
		return false
	}
	switch kind {
	case m3u8.MEDIA:
		media, ok := pl.(*m3u8.MediaPlaylist)
		return ok && media.Count() > 0
	case m3u8.MASTER:
		master, ok := pl.(*m3u8.MasterPlaylist)
		return ok && len(master.Variants) > 0
	}
	return false
}

// WaitManifest blocks until the manifest at path is ready or ctx ends. The
// output directory is watched so the wait ends with the first segment
// instead of on a polling tick.
func WaitManifest(ctx context.Context, logger zerolog.Logger, path string) error {
	if ManifestReady(path) {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify.NewWatcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch directory %s: %w", dir, err)
	}

	// The manifest may have been completed between the first check and Add.
	if ManifestReady(path) {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: %s", ErrManifestTimeout, filepath.Base(path))
			}
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return errors.New("watcher channel closed")
			}
			// Segments land before the playlist is rewritten, so any write
			// or rename in the directory is worth a look.
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) || ev.Has(fsnotify.Rename) {
				if ManifestReady(path) {
					return nil
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("watcher error channel closed")
			}
			logger.Warn().Err(err).Msg("fsnotify watcher error")
		}
	}
}
