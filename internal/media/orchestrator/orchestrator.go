// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package orchestrator supervises the transcoder roles of every device.
//
// At most one process runs per (device, role). A role is recreated only when
// the fingerprint of its command changes or its process stopped producing
// output; otherwise EnsureRole reuses the running process. All role mutations
// of a device are serialized by a single per-device lock.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/camvisor/internal/camera"
	"github.com/ManuGH/camvisor/internal/log"
	"github.com/ManuGH/camvisor/internal/media/transcoder"
	"github.com/ManuGH/camvisor/internal/telemetry"
)

// ErrDisposed is returned by operations on a detached device.
var ErrDisposed = errors.New("device media disposed")

// ErrRoleBusy is returned when a one-shot role is already running.
var ErrRoleBusy = errors.New("role already running")

const (
	// KeepAliveForever disables keepalive-based auto-stop.
	KeepAliveForever = -1

	DefaultKeepAlive   = 8
	DefaultStopGrace   = 10 * time.Second
	DefaultAliveWindow = 30 * time.Second
	DefaultClipSlack   = 20 * time.Second
	statsTTL           = 10 * time.Second
)

// RestreamFormat selects the restream output container.
type RestreamFormat string

const (
	FormatHLS  RestreamFormat = "hls"
	FormatDASH RestreamFormat = "dash"
)

// Config holds orchestrator settings.
type Config struct {
	// OutputDir receives one sub directory per device for manifests, segments and clips.
	OutputDir string
	// LogDir receives one sub directory per device with a log file per role.
	LogDir string
	// IngestURL is the base URL of the local stream server transcoders push frames to.
	IngestURL string

	StopGrace        time.Duration
	DefaultKeepAlive int
	AliveWindow      time.Duration
	ClipSlack        time.Duration

	// HLSOptions and DASHOptions are appended to the restream output arguments.
	HLSOptions     string
	DASHOptions    string
	HLSListSize    int
	SegmentSeconds int
}

func (c Config) withDefaults() Config {
	if c.StopGrace <= 0 {
		c.StopGrace = DefaultStopGrace
	}
	if c.DefaultKeepAlive == 0 {
		c.DefaultKeepAlive = DefaultKeepAlive
	}
	if c.AliveWindow <= 0 {
		c.AliveWindow = DefaultAliveWindow
	}
	if c.ClipSlack <= 0 {
		c.ClipSlack = DefaultClipSlack
	}
	if c.HLSListSize <= 0 {
		c.HLSListSize = 5
	}
	if c.SegmentSeconds <= 0 {
		c.SegmentSeconds = 2
	}
	if c.OutputDir == "" {
		c.OutputDir = "media"
	}
	if c.LogDir == "" {
		c.LogDir = filepath.Join(c.OutputDir, "logs")
	}
	return c
}

// ErrorFunc receives process failures of a device. It is called without any
// orchestrator lock held.
type ErrorFunc func(role camera.Role, err error)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithLogger sets the base logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithStatsSampler replaces the process stats sampler.
func WithStatsSampler(fn func(ctx context.Context, pid int) (transcoder.Stats, error)) Option {
	return func(o *Orchestrator) { o.sampler = fn }
}

// Orchestrator owns the Media of every attached device.
type Orchestrator struct {
	cfg     Config
	starter transcoder.Starter
	logger  zerolog.Logger
	tracer  trace.Tracer
	now     func() time.Time
	sampler func(ctx context.Context, pid int) (transcoder.Stats, error)

	mu      sync.Mutex
	devices map[string]*Media

	// callbacks dispatched off the process monitor goroutines
	wg sync.WaitGroup
}

// New creates an Orchestrator that launches processes through starter.
func New(cfg Config, starter transcoder.Starter, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:     cfg.withDefaults(),
		starter: starter,
		logger:  log.WithComponent("orchestrator"),
		tracer:  telemetry.Tracer("camvisor/orchestrator"),
		now:     time.Now,
		sampler: transcoder.SampleStats,
		devices: make(map[string]*Media),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// Attach registers a device and returns its Media. Attaching an id twice
// returns the existing Media updated to the new device and URLs; the Media
// is returned even when a running role failed to restart, together with
// that error.
func (o *Orchestrator) Attach(ctx context.Context, d *camera.Device, urls camera.URLSet, onError ErrorFunc) (*Media, error) {
	o.mu.Lock()
	m, ok := o.devices[d.ID]
	if !ok {
		m = newMedia(o, d, urls, onError)
		o.devices[d.ID] = m
		o.mu.Unlock()
		return m, nil
	}
	o.mu.Unlock()

	m.setErrorFunc(onError)
	if _, err := m.RecreateIfURLsChanged(ctx, d, urls); err != nil {
		return m, fmt.Errorf("attach %s: %w", d.ID, err)
	}
	return m, nil
}

// Media returns the Media of an attached device.
func (o *Orchestrator) Media(deviceID string) (*Media, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	m, ok := o.devices[deviceID]
	return m, ok
}

// Detach stops all roles of a device and forgets it.
func (o *Orchestrator) Detach(deviceID string) {
	o.mu.Lock()
	m, ok := o.devices[deviceID]
	delete(o.devices, deviceID)
	o.mu.Unlock()
	if ok {
		m.dispose()
	}
}

// Shutdown detaches every device and waits for pending callbacks.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	all := make([]*Media, 0, len(o.devices))
	for id, m := range o.devices {
		all = append(all, m)
		delete(o.devices, id)
	}
	o.mu.Unlock()

	var wg sync.WaitGroup
	for _, m := range all {
		wg.Add(1)
		go func(m *Media) {
			defer wg.Done()
			m.dispose()
		}(m)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dispatch runs fn on its own goroutine, tracked for Shutdown.
func (o *Orchestrator) dispatch(fn func()) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		fn()
	}()
}
