// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package supervisor owns the connection lifecycle of every camera: the
// connect-probe and health-poll jobs, the status state machine, the device's
// endpoints, snapshot cache, stream hub and channel registry.
package supervisor

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/camvisor/internal/camera"
	"github.com/ManuGH/camvisor/internal/camera/channels"
	"github.com/ManuGH/camvisor/internal/camera/endpoint"
	"github.com/ManuGH/camvisor/internal/camera/snapshot"
	"github.com/ManuGH/camvisor/internal/camera/streamhub"
	"github.com/ManuGH/camvisor/internal/log"
	"github.com/ManuGH/camvisor/internal/media/orchestrator"
	"github.com/ManuGH/camvisor/internal/metrics"
	"github.com/ManuGH/camvisor/internal/notify"
	"github.com/ManuGH/camvisor/internal/telemetry"
)

// ErrDisposed is returned by operations on a deactivated supervisor.
var ErrDisposed = errors.New("supervisor disposed")

// StateStore persists connection states.
type StateStore interface {
	Save(ctx context.Context, deviceID string, st camera.ConnectionState) error
}

// Deps are the shared collaborators handed to every supervisor.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Scheduler    *Scheduler
	Store        StateStore
	Notifier     notify.Notifier
	// HTTPClient fetches vendor snapshot URLs.
	HTTPClient *http.Client
	Clock      func() time.Time
}

// Supervisor drives one device.
type Supervisor struct {
	cfg      Config
	orch     *orchestrator.Orchestrator
	sched    *Scheduler
	store    StateStore
	notifier notify.Notifier
	client   *http.Client
	now      func() time.Time
	logger   zerolog.Logger
	tracer   trace.Tracer

	endpoints *endpoint.Registry
	snapshots *snapshot.Cache
	hub       *streamhub.Hub
	channels  *channels.Registry

	// ctx lives until Deactivate; every job and async capture derives from it.
	ctx    context.Context
	cancel context.CancelFunc
	async  sync.WaitGroup

	mu         sync.Mutex
	device     *camera.Device
	media      *orchestrator.Media
	urls       camera.URLSet
	urlHash    string
	state      camera.ConnectionState
	started    bool
	disposed   bool
	failures   int
	lastSeen   time.Time
	connectJob *Job
	pollJob    *Job
	jobs       []*Job
	actions    []camera.Action
	actionsAt  time.Time
}

// New creates an inactive supervisor for d. deps.Orchestrator is required.
func New(d *camera.Device, cfg Config, deps Deps) *Supervisor {
	cfg = cfg.WithDefaults()
	if deps.Orchestrator == nil {
		panic("supervisor: orchestrator is required")
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	sched := deps.Scheduler
	if sched == nil {
		sched = NewScheduler(log.WithComponent("scheduler"))
	}
	var notifier notify.Notifier = notify.Nop{}
	if deps.Notifier != nil {
		notifier = deps.Notifier
	}
	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.ProbeTimeout}
	}
	logger := log.WithDevice("supervisor", d.ID)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		cfg:      cfg,
		orch:     deps.Orchestrator,
		sched:    sched,
		store:    deps.Store,
		notifier: notifier,
		client:   client,
		now:      now,
		logger:   logger,
		tracer:   telemetry.Tracer("camvisor/supervisor"),
		ctx:      ctx,
		cancel:   cancel,
		device:   d,
		state:    camera.ConnectionState{Status: camera.StatusUnknown, Since: now()},
	}

	s.endpoints = endpoint.NewRegistry(d.ID)
	s.endpoints.OnChange(s.onEndpointChange)

	snapOpts := []snapshot.Option{
		snapshot.WithMinRefresh(cfg.SnapshotMinRefresh),
		snapshot.WithClock(now),
		snapshot.WithLogger(logger),
	}
	if cfg.SnapshotDir != "" {
		snapOpts = append(snapOpts, snapshot.WithPersistPath(filepath.Join(cfg.SnapshotDir, d.FolderName()+".jpg")))
	}
	s.snapshots = snapshot.New(snapOpts...)

	s.hub = streamhub.New(d.ID,
		streamhub.WithQueueSize(cfg.SubscriberQueueSize),
		streamhub.WithOnActive(s.onHubActive),
		streamhub.WithOnIdle(s.onHubIdle),
		streamhub.WithLogger(logger),
	)
	s.channels = channels.New(cfg.ChannelPruneThreshold, logger)
	return s
}

// ID returns the device id.
func (s *Supervisor) ID() string { return s.Device().ID }

// Device returns the current device definition.
func (s *Supervisor) Device() *camera.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device
}

// State returns the current connection state.
func (s *Supervisor) State() camera.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns the current status.
func (s *Supervisor) Status() camera.Status { return s.State().Status }

// Failures returns the consecutive communication error count.
func (s *Supervisor) Failures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}

// LastSeen returns the last time the device proved to be reachable.
func (s *Supervisor) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Endpoints exposes the endpoint registry.
func (s *Supervisor) Endpoints() *endpoint.Registry { return s.endpoints }

// Hub exposes the live stream hub.
func (s *Supervisor) Hub() *streamhub.Hub { return s.hub }

// Channels exposes the vendor channel registry.
func (s *Supervisor) Channels() *channels.Registry { return s.channels }

// Snapshots exposes the snapshot cache.
func (s *Supervisor) Snapshots() *snapshot.Cache { return s.snapshots }

// Media returns the attached media or nil before activation.
func (s *Supervisor) Media() *orchestrator.Media {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.media
}

// URLs returns the cached resolved URL set.
func (s *Supervisor) URLs() camera.URLSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.urls
}

// Running reports whether the device is activated and should run.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && !s.disposed
}

// Write is the endpoint write entry point for users. Read-only endpoints
// reject it.
func (s *Supervisor) Write(ctx context.Context, id string, value any) (bool, error) {
	return s.endpoints.Write(ctx, id, value, true)
}

// setStatus records a new state. It reports false when the (status, reason)
// pair did not change or the supervisor is disposed.
func (s *Supervisor) setStatus(ctx context.Context, status camera.Status, reason string) bool {
	s.mu.Lock()
	if s.disposed || s.state.Same(status, reason) {
		s.mu.Unlock()
		return false
	}
	old := s.state
	s.state = camera.ConnectionState{Status: status, Reason: reason, Failures: s.failures, Since: s.now()}
	st := s.state
	s.actions = nil
	id := s.device.ID
	s.mu.Unlock()

	ev := s.logger.Info()
	if status.Surfaced() {
		ev = s.logger.Warn()
	}
	ev.Str(log.FieldEvent, "supervisor.status").
		Str(log.FieldOldState, old.Status.String()).
		Str(log.FieldNewState, status.String()).
		Str(log.FieldReason, reason).
		Int(log.FieldFailures, st.Failures).
		Msg("device status changed")

	metrics.SetDeviceStatus(id, status.String())
	metrics.StatusTransitions.WithLabelValues(status.String()).Inc()
	telemetry.RecordStatusTransition(ctx, old.Status.String(), status.String())

	if _, err := s.endpoints.Write(ctx, endpoint.DeviceStatus, status.String(), false); err != nil && !errors.Is(err, endpoint.ErrNotFound) {
		s.logger.Warn().Err(err).Msg("failed to update status endpoint")
	}
	if s.store != nil {
		if err := s.store.Save(ctx, id, st); err != nil {
			s.logger.Warn().Err(err).Str(log.FieldEvent, "supervisor.persist_failed").Msg("failed to persist connection state")
		}
	}
	s.publish(ctx, notify.Event{Kind: notify.KindStatus, Status: status.String(), Reason: reason})
	return true
}

func (s *Supervisor) publish(ctx context.Context, ev notify.Event) {
	d := s.Device()
	ev.DeviceID = d.ID
	ev.DeviceName = d.Title()
	if ev.At.IsZero() {
		ev.At = s.now()
	}
	if err := s.notifier.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).
			Str(log.FieldEvent, "supervisor.notify_failed").
			Str("kind", string(ev.Kind)).
			Msg("failed to publish event")
	}
}

func (s *Supervisor) onEndpointChange(c endpoint.Change) {
	s.publish(s.ctx, notify.Event{Kind: notify.KindEndpoint, Endpoint: c.ID, Value: c.New})
}

// touchLastSeen refreshes the last-seen endpoint at most once per throttle window.
func (s *Supervisor) touchLastSeen() {
	now := s.now()
	s.mu.Lock()
	if s.disposed || now.Sub(s.lastSeen) < s.cfg.LastSeenThrottle {
		s.mu.Unlock()
		return
	}
	s.lastSeen = now
	s.mu.Unlock()

	if _, err := s.endpoints.Write(s.ctx, endpoint.LastSeen, float64(now.UnixMilli()), false); err != nil && !errors.Is(err, endpoint.ErrNotFound) {
		s.logger.Debug().Err(err).Msg("failed to update last-seen")
	}
}

// goAsync runs fn on its own goroutine bounded by the job timeout. Nothing
// runs after Deactivate.
func (s *Supervisor) goAsync(fn func(ctx context.Context)) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.async.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.async.Done()
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.JobTimeout)
		defer cancel()
		fn(ctx)
	}()
}
