// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transcoder

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNoProgress is reported when a process printed no progress before the start timeout.
	ErrNoProgress = errors.New("no progress before start timeout")
	// ErrStalled is reported when progress stopped advancing for the stall timeout.
	ErrStalled = errors.New("progress stalled")
)

// WatchState is the progress state seen by a Watchdog.
type WatchState int

const (
	WatchStarting WatchState = iota
	WatchRunning
	WatchStalled
	WatchTimedOut
	WatchCompleted
)

// Clock is the time source of a Watchdog.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker is the subset of time.Ticker a Watchdog uses.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realClock struct{}

func (realClock) Now() time.Time                   { return time.Now() }
func (realClock) NewTicker(d time.Duration) Ticker { return realTicker{time.NewTicker(d)} }

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// statsField matches both the interactive stats line
// ("frame=  120 fps=25 size=  512kB time=00:00:04.80 ...") and -progress
// key=value output.
var statsField = regexp.MustCompile(`\b(frame|size|time|out_time_ms|total_size|progress)=\s*(\S+)`)

// Watchdog tracks transcoder progress and fails when none arrives in time.
// A zero timeout disables the corresponding check.
type Watchdog struct {
	mu sync.Mutex

	startTimeout time.Duration
	stallTimeout time.Duration
	checkEvery   time.Duration

	frame         int64
	size          int64
	outTime       time.Duration
	lastHeartbeat time.Time
	state         WatchState

	clock Clock
}

// NewWatchdog creates a watchdog.
func NewWatchdog(startTimeout, stallTimeout time.Duration) *Watchdog {
	return &Watchdog{
		startTimeout:  startTimeout,
		stallTimeout:  stallTimeout,
		checkEvery:    time.Second,
		clock:         realClock{},
		lastHeartbeat: time.Now(),
	}
}

// Run checks progress every second until ctx ends, progress completes or a
// timeout is hit.
func (w *Watchdog) Run(ctx context.Context) error {
	w.mu.Lock()
	w.lastHeartbeat = w.clock.Now()
	w.state = WatchStarting
	w.mu.Unlock()

	ticker := w.clock.NewTicker(w.checkEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			done, err := w.check()
			if done || err != nil {
				return err
			}
		}
	}
}

// Observe feeds one output line. Lines without progress fields are ignored.
func (w *Watchdog) Observe(line string) {
	matches := statsField.FindAllStringSubmatch(line, -1)
	if len(matches) == 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	advanced := false
	for _, m := range matches {
		key, val := m[1], m[2]
		switch key {
		case "frame":
			if n, err := strconv.ParseInt(val, 10, 64); err == nil && n > w.frame {
				w.frame = n
				advanced = true
			}
		case "size", "total_size":
			if n := leadingInt(val); n > w.size {
				w.size = n
				advanced = true
			}
		case "time":
			if d, ok := parseClock(val); ok && d > w.outTime {
				w.outTime = d
				advanced = true
			}
		case "out_time_ms":
			// ffmpeg reports microseconds despite the name.
			if n, err := strconv.ParseInt(val, 10, 64); err == nil && time.Duration(n)*time.Microsecond > w.outTime {
				w.outTime = time.Duration(n) * time.Microsecond
				advanced = true
			}
		case "progress":
			if val == "end" {
				w.state = WatchCompleted
			}
		}
	}
	if advanced {
		w.lastHeartbeat = w.clock.Now()
		if w.state == WatchStarting {
			w.state = WatchRunning
		}
	}
}

// State returns the current state.
func (w *Watchdog) State() WatchState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Watchdog) check() (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	elapsed := w.clock.Now().Sub(w.lastHeartbeat)
	switch w.state {
	case WatchCompleted:
		return true, nil
	case WatchStarting:
		if w.startTimeout > 0 && elapsed > w.startTimeout {
			w.state = WatchTimedOut
			return true, ErrNoProgress
		}
	case WatchRunning:
		if w.stallTimeout > 0 && elapsed > w.stallTimeout {
			w.state = WatchStalled
			return true, ErrStalled
		}
	}
	return false, nil
}

func leadingInt(s string) int64 {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	n, _ := strconv.ParseInt(s[:end], 10, 64)
	return n
}

// parseClock parses HH:MM:SS.ff. Negative and N/A values are rejected.
func parseClock(s string) (time.Duration, bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 || strings.HasPrefix(s, "-") {
		return 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	sec, err3 := strconv.ParseFloat(parts[2], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, false
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec*float64(time.Second)), true
}
