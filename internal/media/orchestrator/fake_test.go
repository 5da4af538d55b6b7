// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/camvisor/internal/media/transcoder"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock { return &testClock{now: time.Unix(1_700_000_000, 0)} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeHandle struct {
	pid    int
	spec   transcoder.Spec
	events transcoder.Events
	wg     *sync.WaitGroup

	mu      sync.Mutex
	last    time.Time
	err     error
	done    chan struct{}
	once    sync.Once
	stopped atomic.Int32
	tail    []string
}

func (h *fakeHandle) PID() int { return h.pid }

func (h *fakeHandle) Running() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (h *fakeHandle) LastOutput() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

func (h *fakeHandle) Done() <-chan struct{} { return h.done }

func (h *fakeHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *fakeHandle) Stop(time.Duration) error {
	h.stopped.Add(1)
	h.exit(nil, true)
	return nil
}

func (h *fakeHandle) Tail(int) []string { return h.tail }

// exit closes done and runs OnExit on another goroutine, the same order the
// real monitor uses.
func (h *fakeHandle) exit(err error, requested bool) {
	h.once.Do(func() {
		h.mu.Lock()
		h.err = err
		h.mu.Unlock()
		close(h.done)
		if h.events.OnExit == nil {
			return
		}
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			h.events.OnExit(err, requested)
		}()
	})
}

func (h *fakeHandle) fail(err error) {
	if h.events.OnFailure != nil {
		h.events.OnFailure(err)
	}
}

type fakeStarter struct {
	clock *testClock

	mu      sync.Mutex
	handles []*fakeHandle
	err     error
	onStart func(h *fakeHandle)
	wg      sync.WaitGroup
}

func (s *fakeStarter) Start(ctx context.Context, spec transcoder.Spec, events transcoder.Events) (transcoder.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.err != nil {
		err := s.err
		s.mu.Unlock()
		return nil, err
	}
	h := &fakeHandle{
		pid:    1000 + len(s.handles),
		spec:   spec,
		events: events,
		wg:     &s.wg,
		last:   s.clock.Now(),
		done:   make(chan struct{}),
	}
	s.handles = append(s.handles, h)
	onStart := s.onStart
	s.mu.Unlock()

	if onStart != nil {
		onStart(h)
	}
	return h, nil
}

func (s *fakeStarter) started() []*fakeHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*fakeHandle(nil), s.handles...)
}

func (s *fakeStarter) last() *fakeHandle {
	all := s.started()
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

var errBoom = errors.New("boom")
