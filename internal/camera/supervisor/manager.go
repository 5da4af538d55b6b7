// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/camvisor/internal/camera"
	"github.com/ManuGH/camvisor/internal/log"
)

// maxParallel bounds concurrent activations and deactivations.
const maxParallel = 8

// Manager owns the supervisors of all configured devices.
type Manager struct {
	cfg      Config
	deps     Deps
	registry *camera.Registry
	logger   zerolog.Logger

	mu     sync.RWMutex
	sups   map[string]*Supervisor
	closed bool
}

// NewManager creates a manager. Handlers are bound through registry.
func NewManager(cfg Config, registry *camera.Registry, deps Deps) *Manager {
	if deps.Scheduler == nil {
		deps.Scheduler = NewScheduler(log.WithComponent("scheduler"))
	}
	if registry == nil {
		registry = camera.NewRegistry()
	}
	return &Manager{
		cfg:      cfg.WithDefaults(),
		deps:     deps,
		registry: registry,
		logger:   log.WithComponent("supervisor"),
		sups:     make(map[string]*Supervisor),
	}
}

// Apply reconciles the supervised devices with devices: unknown ids are
// activated, known ones updated and missing ones deactivated. Devices whose
// handler cannot be bound are skipped and reported in the returned error.
func (m *Manager) Apply(ctx context.Context, devices []*camera.Device) error {
	var errs []error
	want := make(map[string]*camera.Device, len(devices))
	for _, d := range devices {
		if d == nil || d.ID == "" {
			errs = append(errs, camera.ConfigErrorf("device without id"))
			continue
		}
		if _, dup := want[d.ID]; dup {
			errs = append(errs, camera.ConfigErrorf("duplicate device id %q", d.ID))
			continue
		}
		if err := m.registry.Bind(d); err != nil {
			errs = append(errs, fmt.Errorf("device %s: %w", d.ID, err))
			continue
		}
		want[d.ID] = d
	}

	type update struct {
		sup *Supervisor
		d   *camera.Device
	}
	var added, removed []*Supervisor
	var updated []update

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrDisposed
	}
	for id, sup := range m.sups {
		if _, ok := want[id]; !ok {
			removed = append(removed, sup)
			delete(m.sups, id)
		}
	}
	for id, d := range want {
		if sup, ok := m.sups[id]; ok {
			updated = append(updated, update{sup, d})
			continue
		}
		sup := New(d, m.cfg, m.deps)
		m.sups[id] = sup
		added = append(added, sup)
	}
	m.mu.Unlock()

	var emu sync.Mutex
	collect := func(err error) {
		if err != nil {
			emu.Lock()
			errs = append(errs, err)
			emu.Unlock()
		}
	}

	var g errgroup.Group
	g.SetLimit(maxParallel)
	for _, sup := range removed {
		g.Go(func() error { collect(sup.Deactivate(ctx)); return nil })
	}
	for _, sup := range added {
		g.Go(func() error { collect(sup.Activate(ctx)); return nil })
	}
	for _, u := range updated {
		g.Go(func() error { collect(u.sup.UpdateDevice(ctx, u.d)); return nil })
	}
	_ = g.Wait()

	m.logger.Info().
		Str(log.FieldEvent, "supervisor.apply").
		Int("added", len(added)).
		Int("updated", len(updated)).
		Int("removed", len(removed)).
		Msg("device set applied")
	return errors.Join(errs...)
}

// Get returns the supervisor of id.
func (m *Manager) Get(id string) (*Supervisor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sup, ok := m.sups[id]
	return sup, ok
}

// List returns every supervisor ordered by device id.
func (m *Manager) List() []*Supervisor {
	m.mu.RLock()
	out := make([]*Supervisor, 0, len(m.sups))
	for _, sup := range m.sups {
		out = append(out, sup)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Statuses returns the connection state of every device.
func (m *Manager) Statuses() map[string]camera.ConnectionState {
	out := make(map[string]camera.ConnectionState)
	for _, sup := range m.List() {
		out[sup.ID()] = sup.State()
	}
	return out
}

// Remove deactivates and forgets one device.
func (m *Manager) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	sup, ok := m.sups[id]
	delete(m.sups, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("device %s: %w", id, camera.ErrNotStarted)
	}
	return sup.Deactivate(ctx)
}

// Shutdown deactivates every device and waits for the scheduler to drain.
// Later Apply calls fail with ErrDisposed.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	sups := make([]*Supervisor, 0, len(m.sups))
	for _, sup := range m.sups {
		sups = append(sups, sup)
	}
	m.sups = make(map[string]*Supervisor)
	m.closed = true
	m.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(maxParallel)
	for _, sup := range sups {
		g.Go(func() error { return sup.Deactivate(ctx) })
	}
	err := g.Wait()

	done := make(chan struct{})
	go func() {
		m.deps.Scheduler.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Join(err, fmt.Errorf("scheduler drain: %w", ctx.Err()))
	}
	return err
}
