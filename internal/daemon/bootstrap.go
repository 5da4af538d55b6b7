// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon wires the camera supervisors, the media orchestrator, the
// stream server and their collaborators into one process and owns its
// lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ManuGH/camvisor/internal/camera"
	"github.com/ManuGH/camvisor/internal/camera/supervisor"
	"github.com/ManuGH/camvisor/internal/config"
	"github.com/ManuGH/camvisor/internal/health"
	"github.com/ManuGH/camvisor/internal/log"
	"github.com/ManuGH/camvisor/internal/media/orchestrator"
	"github.com/ManuGH/camvisor/internal/media/transcoder"
	"github.com/ManuGH/camvisor/internal/metrics"
	"github.com/ManuGH/camvisor/internal/notify"
	"github.com/ManuGH/camvisor/internal/onvifprobe"
	"github.com/ManuGH/camvisor/internal/store"
	"github.com/ManuGH/camvisor/internal/streamserver"
	"github.com/ManuGH/camvisor/internal/telemetry"
)

// ServiceName identifies the process in logs, traces and events.
const ServiceName = "camvisor"

// Options adjust Build.
type Options struct {
	Version string
	// Starter launches transcoders; nil uses the configured ffmpeg binary.
	Starter transcoder.Starter
	// Registry binds device handlers; nil registers the built-in brands.
	Registry *camera.Registry
	// HTTPClient fetches vendor snapshots and talks ONVIF.
	HTTPClient *http.Client
}

// Runtime is the assembled daemon.
type Runtime struct {
	cfg    config.AppConfig
	logger zerolog.Logger

	Telemetry    *telemetry.Provider
	Store        store.Store
	Notifier     notify.Notifier
	Orchestrator *orchestrator.Orchestrator
	Supervisors  *supervisor.Manager
	Streams      *streamserver.Server
	Health       *health.Manager
	Ready        *health.ReadyFlag
	Manager      Manager

	redis *notify.RedisNotifier

	// applyMu serializes device reconciliation and guards cfg; known holds
	// the applied ids.
	applyMu sync.Mutex
	known   map[string]struct{}
}

// Build assembles every component from cfg. Resources opened before a
// failure are released.
func Build(ctx context.Context, cfg config.AppConfig, opts Options) (_ *Runtime, err error) {
	rt := &Runtime{
		cfg:    cfg,
		logger: log.WithComponent("daemon"),
		known:  make(map[string]struct{}),
	}
	var closers []func()
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
		}
	}()

	rt.Telemetry, err = telemetry.NewProvider(ctx, telemetryConfig(cfg, opts.Version))
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	closers = append(closers, func() { _ = rt.Telemetry.Shutdown(context.Background()) })

	rt.Store, err = store.Open(cfg.Store.Backend, cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("state store: %w", err)
	}
	closers = append(closers, func() { _ = rt.Store.Close() })

	rt.Notifier = rt.buildNotifier(ctx)
	if rt.redis != nil {
		closers = append(closers, func() { _ = rt.redis.Close() })
	}

	starter := opts.Starter
	if starter == nil {
		executor := transcoder.NewExecutor(cfg.Media.FFmpegBin, log.WithComponent("transcoder"))
		executor.StartTimeout = cfg.Media.StartTimeout
		executor.StallTimeout = cfg.Media.StallTimeout
		starter = executor
	}
	rt.Orchestrator = orchestrator.New(orchestratorConfig(cfg), starter)

	registry := opts.Registry
	if registry == nil {
		registry = camera.NewRegistry()
		onvifprobe.Register(registry, onvifprobe.NewClient(opts.HTTPClient))
	}
	rt.Supervisors = supervisor.NewManager(supervisorConfig(cfg), registry, supervisor.Deps{
		Orchestrator: rt.Orchestrator,
		Store:        rt.Store,
		Notifier:     rt.Notifier,
		HTTPClient:   opts.HTTPClient,
	})

	rt.Streams, err = streamserver.New(streamConfig(cfg), rt.lookup)
	if err != nil {
		return nil, fmt.Errorf("stream server: %w", err)
	}

	rt.Health = health.NewManager(opts.Version)
	rt.Ready = health.NewReadyFlag("startup")
	rt.Health.RegisterChecker(rt.Ready)
	rt.Health.RegisterChecker(health.NewDeviceChecker(rt.statuses))
	if rt.redis != nil {
		rt.Health.RegisterChecker(health.NewPingChecker("redis", false, rt.redis.HealthCheck))
	}

	rt.Manager, err = NewManager(Deps{
		Logger:       log.WithComponent("daemon"),
		MediaListen:  cfg.Server.Listen,
		MediaServer:  rt.Streams,
		AdminListen:  cfg.AdminListen,
		AdminHandler: AdminHandler(rt.Health),
	})
	if err != nil {
		return nil, err
	}
	rt.registerShutdownHooks()
	return rt, nil
}

// Config returns the most recently applied configuration.
func (rt *Runtime) Config() config.AppConfig {
	rt.applyMu.Lock()
	defer rt.applyMu.Unlock()
	return rt.cfg
}

func (rt *Runtime) buildNotifier(ctx context.Context) notify.Notifier {
	logNotifier := notify.NewLogNotifier(log.WithComponent("notify"))
	n := rt.cfg.Notify
	if n.RedisAddr == "" {
		return logNotifier
	}
	redis, err := notify.NewRedisNotifier(ctx, notify.RedisConfig{
		Addr:     n.RedisAddr,
		Password: n.RedisPassword,
		DB:       n.RedisDB,
		Channel:  n.Channel,
		StateTTL: n.StateTTL,
	}, log.WithComponent("notify"))
	if err != nil {
		rt.logger.Warn().
			Err(err).
			Str(log.FieldEvent, "notify.redis_unavailable").
			Msg("redis notifier unavailable, events are only logged")
		return logNotifier
	}
	rt.redis = redis
	return notify.Multi{logNotifier, redis}
}

// Shutdown order is the reverse of registration: devices are deactivated
// first so their final states reach the store before it closes.
func (rt *Runtime) registerShutdownHooks() {
	rt.Manager.RegisterShutdownHook("telemetry", rt.Telemetry.Shutdown)
	rt.Manager.RegisterShutdownHook("state_store", func(context.Context) error { return rt.Store.Close() })
	if rt.redis != nil {
		rt.Manager.RegisterShutdownHook("redis_notifier", func(context.Context) error { return rt.redis.Close() })
	}
	rt.Manager.RegisterShutdownHook("orchestrator", rt.Orchestrator.Shutdown)
	rt.Manager.RegisterShutdownHook("supervisors", rt.Supervisors.Shutdown)
	rt.Manager.RegisterShutdownHook("readiness", func(context.Context) error {
		rt.Ready.MarkNotReady()
		return nil
	})
}

// lookup resolves stream server requests. A missing supervisor must not
// become a non-nil Device holding a nil pointer.
func (rt *Runtime) lookup(id string) (streamserver.Device, bool) {
	s, ok := rt.Supervisors.Get(id)
	if !ok {
		return nil, false
	}
	return s, true
}

func (rt *Runtime) statuses() map[string]camera.Status {
	states := rt.Supervisors.Statuses()
	out := make(map[string]camera.Status, len(states))
	for id, st := range states {
		out[id] = st.Status
	}
	return out
}

// Start restores persisted knowledge, activates the configured devices and
// marks the daemon ready.
func (rt *Runtime) Start(ctx context.Context) error {
	rt.applyMu.Lock()
	defer rt.applyMu.Unlock()

	rt.restoreStates(ctx)
	err := rt.applyLocked(ctx, rt.cfg)
	rt.Ready.MarkReady()
	return err
}

// restoreStates logs the last known state of every configured device and
// drops states of devices that are no longer configured.
func (rt *Runtime) restoreStates(ctx context.Context) {
	states, err := rt.Store.List(ctx)
	if err != nil {
		rt.logger.Warn().Err(err).Str(log.FieldEvent, "store.list_failed").Msg("could not read persisted states")
		return
	}
	configured := make(map[string]bool, len(rt.cfg.Devices))
	for _, d := range rt.cfg.Devices {
		configured[d.ID] = true
	}
	for id, st := range states {
		if !configured[id] {
			if err := rt.Store.Delete(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
				rt.logger.Warn().Err(err).Str(log.FieldDeviceID, id).Msg("could not drop stale state")
			}
			continue
		}
		rt.logger.Info().
			Str(log.FieldEvent, "store.state_restored").
			Str(log.FieldDeviceID, id).
			Str(log.FieldOldState, string(st.Status)).
			Str(log.FieldReason, st.Reason).
			Time("since", st.Since).
			Msg("last known device state")
	}
}

// ApplyConfig reconciles the supervised devices with cfg.Devices. States of
// removed devices are deleted from the store.
func (rt *Runtime) ApplyConfig(ctx context.Context, cfg config.AppConfig) error {
	rt.applyMu.Lock()
	defer rt.applyMu.Unlock()
	return rt.applyLocked(ctx, cfg)
}

func (rt *Runtime) applyLocked(ctx context.Context, cfg config.AppConfig) error {
	rt.cfg = cfg
	devices := DevicesFromConfig(cfg)
	err := rt.Supervisors.Apply(ctx, devices)

	next := make(map[string]struct{}, len(devices))
	for _, d := range devices {
		next[d.ID] = struct{}{}
	}
	for id := range rt.known {
		if _, ok := next[id]; ok {
			continue
		}
		if derr := rt.Store.Delete(ctx, id); derr != nil && !errors.Is(derr, store.ErrNotFound) {
			rt.logger.Warn().Err(derr).Str(log.FieldDeviceID, id).Msg("could not delete state of removed device")
		}
	}
	rt.known = next

	rt.logger.Info().
		Str(log.FieldEvent, "daemon.devices_applied").
		Int("devices", len(devices)).
		Msg("device configuration applied")
	return err
}

// RunStatsLoop publishes transcoder CPU and memory samples until ctx ends.
func (rt *Runtime) RunStatsLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rt.publishStats(ctx)
		}
	}
}

func (rt *Runtime) publishStats(ctx context.Context) {
	metrics.ResetRoleStats()
	for _, s := range rt.Supervisors.List() {
		media := s.Media()
		if media == nil {
			continue
		}
		for role, st := range media.Stats(ctx) {
			metrics.SetRoleStats(s.ID(), role.String(), st.CPUPercent, st.RSSBytes)
		}
	}
}

// AdminHandler serves liveness, readiness and Prometheus metrics.
func AdminHandler(hm *health.Manager) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Get("/healthz", hm.ServeHealth)
	r.Get("/readyz", hm.ServeReady)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// DevicesFromConfig converts the enabled and disabled device declarations.
// Media-wide clip options fill in where a device has none.
func DevicesFromConfig(cfg config.AppConfig) []*camera.Device {
	out := make([]*camera.Device, 0, len(cfg.Devices))
	for _, dc := range cfg.Devices {
		d := &camera.Device{
			ID:            dc.ID,
			Name:          dc.Name,
			Brand:         dc.Brand,
			Address:       dc.Address,
			HTTPPort:      dc.HTTPPort,
			RTSPPort:      dc.RTSPPort,
			ONVIFPort:     dc.ONVIFPort,
			User:          dc.User,
			Password:      dc.Password,
			ShouldRun:     dc.IsEnabled(),
			HasAudio:      dc.HasAudio,
			SupportsPTZ:   dc.PTZ,
			ContinuousPTZ: dc.ContinuousPTZ,
			RTSPURI:       dc.RTSPURI,
			MJPEGURI:      dc.MJPEGURI,
			SnapshotURI:   dc.SnapshotURI,
			Output: camera.OutputOptions{
				Snapshot: dc.Output.Snapshot,
				MJPEG:    dc.Output.MJPEG,
				HLS:      dc.Output.HLS,
				DASH:     dc.Output.DASH,
				Gif:      firstNonEmpty(dc.Output.Gif, cfg.Media.GifOptions),
				Mp4:      firstNonEmpty(dc.Output.Mp4, cfg.Media.Mp4Options),
			},
			MotionThreshold: dc.MotionThreshold,
			AudioThreshold:  dc.AudioThreshold,
		}
		if d.Name == "" {
			d.Name = d.ID
		}
		out = append(out, d)
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// IngestURL is the base URL transcoders push frames to. Wildcard listen
// hosts resolve to the loopback address.
func IngestURL(srv config.ServerConfig) string {
	if srv.IngestURL != "" {
		return srv.IngestURL
	}
	host, port, err := net.SplitHostPort(srv.Listen)
	if err != nil {
		return "http://127.0.0.1" + srv.Listen
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func telemetryConfig(cfg config.AppConfig, version string) telemetry.Config {
	t := cfg.Telemetry
	return telemetry.Config{
		Enabled:        t.Enabled && t.Exporter != "noop",
		ServiceName:    ServiceName,
		ServiceVersion: version,
		Environment:    t.Environment,
		ExporterType:   t.Exporter,
		Endpoint:       t.Endpoint,
		SamplingRate:   t.SampleRatio,
	}
}

func orchestratorConfig(cfg config.AppConfig) orchestrator.Config {
	m := cfg.Media
	return orchestrator.Config{
		OutputDir:        m.OutputDir,
		LogDir:           m.LogDir,
		IngestURL:        IngestURL(cfg.Server),
		StopGrace:        m.StopGrace,
		DefaultKeepAlive: m.DefaultKeepAlive,
		AliveWindow:      m.AliveWindow,
		HLSOptions:       m.HLSOptions,
		DASHOptions:      m.DASHOptions,
		HLSListSize:      m.HLSListSize,
		SegmentSeconds:   m.SegmentSeconds,
	}
}

func supervisorConfig(cfg config.AppConfig) supervisor.Config {
	s := cfg.Supervisor
	return supervisor.Config{
		ConnectInterval:       s.ConnectInterval,
		ConnectDelay:          s.ConnectDelay,
		HealthInterval:        s.HealthInterval,
		HealthDelay:           s.HealthDelay,
		MaxPingErrors:         s.MaxPingErrors,
		ChannelPruneThreshold: s.ChannelPruneThreshold,
		SnapshotMinRefresh:    s.SnapshotMinRefresh,
		SubscriberQueueSize:   s.SubscriberQueueSize,
		SnapshotDir:           s.SnapshotDir,
	}
}

func streamConfig(cfg config.AppConfig) streamserver.Config {
	srv := cfg.Server
	return streamserver.Config{
		ListenAddr:        srv.Listen,
		IdleWriteTimeout:  srv.IdleWriteTimeout,
		ManifestWait:      cfg.Media.ManifestWait,
		PushAllowlist:     srv.PushAllowlist,
		RequestsPerMinute: srv.RequestsPerMinute,
		MaxConnections:    srv.MaxConnections,
		MaxClipSeconds:    srv.MaxClipSeconds,
	}
}
