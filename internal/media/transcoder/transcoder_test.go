// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transcoder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/camvisor/internal/camera"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestClassifyLine(t *testing.T) {
	tests := []struct {
		line     string
		wantNil  bool
		wantAuth bool
		wantNet  bool
	}{
		{line: "frame=  120 fps= 25 q=2.0 size=N/A time=00:00:04.80", wantNil: true},
		{line: "Input #0, rtsp, from 'rtsp://cam/live':", wantNil: true},
		{line: "[rtsp @ 0x55] method DESCRIBE failed: 401 Unauthorized", wantAuth: true},
		{line: "rtsp://cam/live: Connection refused", wantNet: true},
		{line: "tcp://10.0.0.5:554: Connection timed out", wantNet: true},
		{line: "/tmp/in.jpg: No such file or directory"},
		{line: "Error reinitializing filters! Could not run graph"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			err := ClassifyLine(camera.RoleRestream, tt.line)
			if tt.wantNil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)

			var pf *camera.ProcessFailure
			assert.True(t, errors.As(err, &pf), "every classified line carries a ProcessFailure")
			assert.Equal(t, camera.RoleRestream, pf.Role)

			var authErr *camera.AuthenticationError
			assert.Equal(t, tt.wantAuth, errors.As(err, &authErr))
			var netErr *camera.TransientNetworkError
			assert.Equal(t, tt.wantNet, errors.As(err, &netErr))
		})
	}
}

func TestClassifyLineAuthMapsToRequireAuth(t *testing.T) {
	err := ClassifyLine(camera.RoleSnapshot, "Server returned 401 Unauthorized (authorization failed)")
	assert.Equal(t, camera.StatusRequireAuth, camera.Classify(err))
}

func TestRingBuffer(t *testing.T) {
	r := NewRingBuffer(3)
	assert.Empty(t, r.Last(0))

	r.Add("a")
	r.Add("b")
	assert.Equal(t, []string{"a", "b"}, r.Last(0))

	r.Add("c")
	r.Add("d")
	assert.Equal(t, []string{"b", "c", "d"}, r.Last(0))
	assert.Equal(t, []string{"c", "d"}, r.Last(2))
	assert.Equal(t, []string{"b", "c", "d"}, r.Last(10))
}

func TestSpecFingerprint(t *testing.T) {
	a := Spec{Description: "HLS", Args: []string{"-i", "rtsp://a"}}
	b := Spec{Description: "HLS", Args: []string{"-i", "rtsp://a"}, LogPath: "/other.log"}
	c := Spec{Description: "DASH", Args: []string{"-i", "rtsp://a"}}
	d := Spec{Description: "HLS", Args: []string{"-i", "rtsp://b"}}

	assert.Equal(t, a.Fingerprint(), b.Fingerprint(), "log path is not part of the command")
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), d.Fingerprint())
	assert.Len(t, a.Fingerprint(), 16)
}

func TestLogSinkRotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cam", "restream.log")
	sink, err := openLogSink(path, 16)
	require.NoError(t, err)

	sink.WriteLine("0123456789")
	sink.WriteLine("abcdefghij")
	require.NoError(t, sink.Close())
	sink.WriteLine("ignored after close")

	current, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "abcdefghij\n", string(current))

	rotated, err := os.ReadFile(path + ".1")
	require.NoError(t, err)
	assert.Equal(t, "0123456789\n", string(rotated))
}

func TestScanLinesCR(t *testing.T) {
	adv, tok, err := scanLinesCR([]byte("frame=1\rframe=2\n"), false)
	require.NoError(t, err)
	assert.Equal(t, 8, adv)
	assert.Equal(t, "frame=1", string(tok))

	adv, tok, err = scanLinesCR([]byte("tail"), true)
	require.NoError(t, err)
	assert.Equal(t, 4, adv)
	assert.Equal(t, "tail", string(tok))

	adv, tok, err = scanLinesCR([]byte("partial"), false)
	require.NoError(t, err)
	assert.Zero(t, adv)
	assert.Nil(t, tok)
}

type recorder struct {
	mu        sync.Mutex
	lines     []string
	failures  []error
	exitErr   error
	requested bool
	exited    chan struct{}
}

func newRecorder() *recorder { return &recorder{exited: make(chan struct{})} }

func (r *recorder) events() Events {
	return Events{
		OnOutput: func(line string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.lines = append(r.lines, line)
		},
		OnFailure: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.failures = append(r.failures, err)
		},
		OnExit: func(err error, requested bool) {
			r.mu.Lock()
			r.exitErr = err
			r.requested = requested
			r.mu.Unlock()
			close(r.exited)
		},
	}
}

func shellExecutor() *Executor {
	e := NewExecutor("sh", zerolog.Nop())
	e.KillTimeout = 2 * time.Second
	return e
}

func TestExecutorReportsFailuresAndExit(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("sh not available")
	}
	logPath := filepath.Join(t.TempDir(), "live-preview.log")
	rec := newRecorder()

	h, err := shellExecutor().Start(context.Background(), Spec{
		Role:     camera.RoleLivePreview,
		DeviceID: "cam-1",
		Args:     []string{"-c", "echo 'frame=1 size=2' >&2; echo 'rtsp://cam: Connection refused' >&2; exit 3"},
		LogPath:  logPath,
	}, rec.events())
	require.NoError(t, err)
	assert.Positive(t, h.PID())

	select {
	case <-rec.exited:
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
	assert.False(t, h.Running())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.False(t, rec.requested)
	require.Len(t, rec.failures, 1)
	var netErr *camera.TransientNetworkError
	assert.True(t, errors.As(rec.failures[0], &netErr))

	var pf *camera.ProcessFailure
	require.True(t, errors.As(rec.exitErr, &pf))
	assert.Equal(t, KindExit, pf.Reason)
	assert.Equal(t, rec.exitErr, h.Err())

	assert.Equal(t, []string{"frame=1 size=2", "rtsp://cam: Connection refused"}, h.Tail(0))
	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "Connection refused"))
}

func TestExecutorStopIsRequestedExit(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("sh not available")
	}
	rec := newRecorder()
	h, err := shellExecutor().Start(context.Background(), Spec{
		Role: camera.RoleRestream,
		Args: []string{"-c", "echo started >&2; exec sleep 30"},
	}, rec.events())
	require.NoError(t, err)
	assert.True(t, h.Running())

	require.NoError(t, h.Stop(2*time.Second))
	require.NoError(t, h.Stop(2*time.Second), "second stop is a no-op")

	select {
	case <-rec.exited:
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.True(t, rec.requested)
	assert.NoError(t, rec.exitErr)
	assert.Empty(t, rec.failures)
}

func TestExecutorStartErrors(t *testing.T) {
	e := NewExecutor(filepath.Join(t.TempDir(), "missing-binary"), zerolog.Nop())
	_, err := e.Start(context.Background(), Spec{Role: camera.RoleSnapshot}, Events{})
	var pf *camera.ProcessFailure
	assert.True(t, errors.As(err, &pf))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Start(ctx, Spec{Role: camera.RoleSnapshot}, Events{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSampleStatsRejectsInvalidPID(t *testing.T) {
	_, err := SampleStats(context.Background(), 0)
	assert.Error(t, err)

	st, err := SampleStats(context.Background(), os.Getpid())
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), st.PID)
}
