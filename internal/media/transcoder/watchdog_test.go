// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transcoder

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/camvisor/internal/camera"
)

type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers chan *fakeTicker
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0), tickers: make(chan *fakeTicker, 1)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTicker(time.Duration) Ticker {
	t := &fakeTicker{c: make(chan time.Time)}
	c.tickers <- t
	return t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeTicker struct{ c chan time.Time }

func (t *fakeTicker) C() <-chan time.Time { return t.c }
func (t *fakeTicker) Stop()               {}

func startWatchdog(t *testing.T, w *Watchdog, clock *fakeClock) (*fakeTicker, <-chan error) {
	t.Helper()
	w.clock = clock
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(context.Background()) }()
	select {
	case tk := <-clock.tickers:
		return tk, errCh
	case <-time.After(time.Second):
		t.Fatal("watchdog did not start")
		return nil, nil
	}
}

func TestWatchdogObserve(t *testing.T) {
	w := NewWatchdog(time.Second, time.Second)
	w.Observe("Input #0, rtsp, from 'rtsp://cam/live':")
	assert.Equal(t, WatchStarting, w.State())

	w.Observe("frame=    0 fps=0.0 q=0.0 size=N/A time=N/A bitrate=N/A speed=N/A")
	assert.Equal(t, WatchStarting, w.State(), "zero counters are not progress")

	w.Observe("frame=  120 fps= 25 q=2.0 size=  512kB time=00:00:04.80 bitrate= 873.8kbits/s")
	assert.Equal(t, WatchRunning, w.State())
	assert.Equal(t, int64(120), w.frame)
	assert.Equal(t, int64(512), w.size)
	assert.Equal(t, 4800*time.Millisecond, w.outTime)

	w.Observe("out_time_ms=9000000")
	assert.Equal(t, 9*time.Second, w.outTime)

	w.Observe("progress=end")
	assert.Equal(t, WatchCompleted, w.State())
}

func TestParseClock(t *testing.T) {
	d, ok := parseClock("01:02:03.50")
	require.True(t, ok)
	assert.Equal(t, time.Hour+2*time.Minute+3500*time.Millisecond, d)

	for _, bad := range []string{"N/A", "-00:00:00.04", "12:00", "aa:bb:cc"} {
		_, ok := parseClock(bad)
		assert.False(t, ok, bad)
	}
}

func TestWatchdogStartTimeout(t *testing.T) {
	clock := newFakeClock()
	tk, errCh := startWatchdog(t, NewWatchdog(2*time.Second, 5*time.Second), clock)

	clock.advance(time.Second)
	tk.c <- clock.Now()
	clock.advance(2 * time.Second)
	tk.c <- clock.Now()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrNoProgress)
	case <-time.After(time.Second):
		t.Fatal("start timeout not reported")
	}
}

func TestWatchdogStallTimeout(t *testing.T) {
	clock := newFakeClock()
	w := NewWatchdog(2*time.Second, 5*time.Second)
	tk, errCh := startWatchdog(t, w, clock)

	clock.advance(time.Second)
	w.Observe("frame=10 time=00:00:00.40")
	clock.advance(4 * time.Second)
	tk.c <- clock.Now()
	w.Observe("frame=20 time=00:00:00.80")
	clock.advance(4 * time.Second)
	tk.c <- clock.Now()

	select {
	case err := <-errCh:
		t.Fatalf("stalled while progressing: %v", err)
	default:
	}

	clock.advance(2 * time.Second)
	tk.c <- clock.Now()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrStalled)
		assert.Equal(t, WatchStalled, w.State())
	case <-time.After(time.Second):
		t.Fatal("stall not reported")
	}
}

func TestWatchdogCompletes(t *testing.T) {
	clock := newFakeClock()
	w := NewWatchdog(time.Second, time.Second)
	tk, errCh := startWatchdog(t, w, clock)

	w.Observe("progress=end")
	clock.advance(time.Hour)
	tk.c <- clock.Now()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watchdog did not finish")
	}
}

func TestExecutorTerminatesSilentProcess(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("sh not available")
	}
	e := shellExecutor()
	e.StartTimeout = 100 * time.Millisecond
	rec := newRecorder()

	h, err := e.Start(context.Background(), Spec{
		Role: camera.RoleRestream,
		Args: []string{"-c", "exec sleep 30"},
	}, rec.events())
	require.NoError(t, err)

	select {
	case <-rec.exited:
	case <-time.After(8 * time.Second):
		_ = h.Stop(time.Second)
		t.Fatal("silent process was not terminated")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.False(t, rec.requested)
	require.NotEmpty(t, rec.failures)
	var pf *camera.ProcessFailure
	require.True(t, errors.As(rec.failures[0], &pf))
	assert.Equal(t, KindStalled, pf.Reason)
	assert.ErrorIs(t, rec.failures[0], ErrNoProgress)
}
