// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/camvisor/internal/camera"
	"github.com/ManuGH/camvisor/internal/media/transcoder"
	"github.com/ManuGH/camvisor/internal/notify"
)

var errBoom = errors.New("boom")

type fakeHandle struct {
	pid    int
	spec   transcoder.Spec
	events transcoder.Events
	wg     *sync.WaitGroup

	mu   sync.Mutex
	err  error
	done chan struct{}
	once sync.Once
}

func (h *fakeHandle) PID() int              { return h.pid }
func (h *fakeHandle) LastOutput() time.Time { return time.Now() }
func (h *fakeHandle) Done() <-chan struct{} { return h.done }
func (h *fakeHandle) Tail(int) []string     { return nil }

func (h *fakeHandle) Running() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (h *fakeHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *fakeHandle) Stop(time.Duration) error {
	h.exit(nil, true)
	return nil
}

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
	mu      sync.Mutex
	handles []*fakeHandle
	err     error
	wg      sync.WaitGroup
}

func (s *fakeStarter) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *fakeStarter) Start(ctx context.Context, spec transcoder.Spec, events transcoder.Events) (transcoder.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	h := &fakeHandle{
		pid:    2000 + len(s.handles),
		spec:   spec,
		events: events,
		wg:     &s.wg,
		done:   make(chan struct{}),
	}
	s.handles = append(s.handles, h)
	return h, nil
}

func (s *fakeStarter) byRole(role camera.Role) []*fakeHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*fakeHandle
	for _, h := range s.handles {
		if h.spec.Role == role {
			out = append(out, h)
		}
	}
	return out
}

func (s *fakeStarter) running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, h := range s.handles {
		if h.Running() {
			n++
		}
	}
	return n
}

// gate lets a hook block until the test opens it or the context ends.
type gate struct {
	mu sync.Mutex
	ch chan struct{}
	// err is returned once the gate is open.
	err error
}

func openGate() *gate {
	ch := make(chan struct{})
	close(ch)
	return &gate{ch: ch}
}

func closedGate() *gate { return &gate{ch: make(chan struct{})} }

func (g *gate) wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.ch
	g.mu.Unlock()
	select {
	case <-ch:
	case <-ctx.Done():
		return ctx.Err()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}

func (g *gate) open() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.ch:
	default:
		close(g.ch)
	}
}

func (g *gate) close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.ch:
		g.ch = make(chan struct{})
	default:
	}
}

func (g *gate) setErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.err = err
}

// testHandler implements every optional capability and counts the calls.
type testHandler struct {
	mu         sync.Mutex
	thresholds []int
	audio      []int
	pans       []float64

	disables  atomic.Int32
	resumes   atomic.Int32
	suspends  atomic.Int32
	homes     atomic.Int32
	reboots   atomic.Int32
	audioOffs atomic.Int32
}

func (h *testHandler) Brand() string { return "test" }

func (h *testHandler) SetMotionThreshold(_ context.Context, t int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.thresholds = append(h.thresholds, t)
	return nil
}

func (h *testHandler) DisableMotionAlarm(context.Context) error {
	h.disables.Add(1)
	return nil
}

func (h *testHandler) ResumeMotionAlarm(context.Context) error {
	h.resumes.Add(1)
	return nil
}

func (h *testHandler) SuspendMotionAlarm(context.Context) error {
	h.suspends.Add(1)
	return nil
}

func (h *testHandler) SetAudioThreshold(_ context.Context, t int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.audio = append(h.audio, t)
	return nil
}

func (h *testHandler) DisableAudioAlarm(context.Context) error {
	h.audioOffs.Add(1)
	return nil
}

func (h *testHandler) Pan(_ context.Context, v float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pans = append(h.pans, v)
	return nil
}

func (h *testHandler) Tilt(context.Context, float64) error { return nil }
func (h *testHandler) Zoom(context.Context, float64) error { return nil }
func (h *testHandler) StopMove(context.Context) error      { return nil }

func (h *testHandler) Home(context.Context) error {
	h.homes.Add(1)
	return nil
}

func (h *testHandler) Reboot(context.Context) error {
	h.reboots.Add(1)
	return nil
}

func (h *testHandler) motionThresholds() []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int(nil), h.thresholds...)
}

func (h *testHandler) panValues() []float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]float64(nil), h.pans...)
}

type memStore struct {
	mu     sync.Mutex
	states []camera.ConnectionState
}

func (m *memStore) Save(_ context.Context, _ string, st camera.ConnectionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, st)
	return nil
}

func (m *memStore) statuses() []camera.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]camera.Status, 0, len(m.states))
	for _, st := range m.states {
		out = append(out, st.Status)
	}
	return out
}

type fakeConn struct{ open atomic.Bool }

func (c *fakeConn) IsOpen() bool { return c.open.Load() }

func (c *fakeConn) Close() error {
	c.open.Store(false)
	return nil
}

// liveNotifier forwards to a Recorder and counts events published on an
// already finished context.
type liveNotifier struct {
	next *notify.Recorder
	dead atomic.Int32
}

func (n *liveNotifier) Publish(ctx context.Context, ev notify.Event) error {
	if ctx.Err() != nil {
		n.dead.Add(1)
	}
	return n.next.Publish(ctx, ev)
}
