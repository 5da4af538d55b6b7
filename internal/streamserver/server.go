// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package streamserver serves the per-device media surface: restream
// manifests and segments, snapshots, GIF clips, the MJPEG live feed and the
// push endpoints the local transcoders POST their frames to.
package streamserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/singleflight"

	"github.com/ManuGH/camvisor/internal/camera"
	"github.com/ManuGH/camvisor/internal/camera/streamhub"
	"github.com/ManuGH/camvisor/internal/log"
	"github.com/ManuGH/camvisor/internal/media/orchestrator"
)

// Defaults applied by Config.WithDefaults.
const (
	DefaultListenAddr        = ":8089"
	DefaultIdleWriteTimeout  = 18 * time.Second
	DefaultManifestWait      = 10 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultShutdownGrace     = 5 * time.Second
	DefaultGifSeconds        = 5
	DefaultMaxClipSeconds    = 30
)

// DefaultPushAllowlist only admits the local machine.
var DefaultPushAllowlist = []string{"127.0.0.0/8", "::1/128"}

// Config controls the stream server.
type Config struct {
	ListenAddr string
	// IdleWriteTimeout closes an MJPEG connection that had nothing written
	// for this long.
	IdleWriteTimeout time.Duration
	// ManifestWait bounds how long a manifest request waits for the first
	// segment of a freshly started restream.
	ManifestWait time.Duration
	// PushAllowlist holds IPs or CIDRs allowed to POST frames.
	PushAllowlist []string
	// RequestsPerMinute limits GET requests per client IP; 0 disables.
	RequestsPerMinute int
	// MaxConnections caps concurrent connections; 0 means unlimited.
	MaxConnections    int
	ReadHeaderTimeout time.Duration
	ShutdownGrace     time.Duration
	MaxClipSeconds    int
}

// WithDefaults fills zero values.
func (c Config) WithDefaults() Config {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.IdleWriteTimeout <= 0 {
		c.IdleWriteTimeout = DefaultIdleWriteTimeout
	}
	if c.ManifestWait <= 0 {
		c.ManifestWait = DefaultManifestWait
	}
	if len(c.PushAllowlist) == 0 {
		c.PushAllowlist = DefaultPushAllowlist
	}
	if c.ReadHeaderTimeout <= 0 {
		c.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = DefaultShutdownGrace
	}
	if c.MaxClipSeconds <= 0 {
		c.MaxClipSeconds = DefaultMaxClipSeconds
	}
	return c
}

// Device is the part of a device supervisor the server talks to.
type Device interface {
	ID() string
	Running() bool
	Snapshot() []byte
	ProcessSnapshot(img []byte) bool
	HandleLiveFrame(img []byte)
	BringOnline(ctx context.Context)
	StartRestream(ctx context.Context, format orchestrator.RestreamFormat) (string, error)
	RecordClip(ctx context.Context, role camera.Role, seconds int) (string, error)
	Hub() *streamhub.Hub
	Media() *orchestrator.Media
}

// Lookup resolves a device id from the request path.
type Lookup func(id string) (Device, bool)

// Option configures a Server.
type Option func(*Server)

// WithLogger replaces the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// Server is the media HTTP surface.
type Server struct {
	cfg     Config
	lookup  Lookup
	allow   *allowlist
	logger  zerolog.Logger
	flights singleflight.Group
	handler http.Handler
}

// New builds a server. It fails when the push allowlist cannot be parsed.
func New(cfg Config, lookup Lookup, opts ...Option) (*Server, error) {
	cfg = cfg.WithDefaults()
	allow, err := parseAllowlist(cfg.PushAllowlist)
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:    cfg,
		lookup: lookup,
		allow:  allow,
		logger: log.WithComponent("streamserver"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the instrumented router.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(s.requestContext)
	r.Use(s.observe)
	r.Use(mediaHeaders)

	r.Route("/{device}", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if s.cfg.RequestsPerMinute > 0 {
				r.Use(rateLimit(s.cfg.RequestsPerMinute))
			}
			r.Get("/stream.m3u8", s.handleManifest(orchestrator.FormatHLS))
			r.Get("/stream.mpd", s.handleManifest(orchestrator.FormatDASH))
			r.Get("/stream.gif", s.handleGif)
			r.Get("/stream.mjpeg", s.handleMJPEG)
			r.Get("/snapshot.jpg", s.handleSnapshot)
			r.Get("/{file}", s.handleMediaFile)
		})
		r.Group(func(r chi.Router) {
			r.Use(s.allowPush)
			r.Post("/"+orchestrator.IngestSnapshotPath, s.handleIngest(false))
			r.Post("/"+orchestrator.IngestLivePath, s.handleIngest(true))
		})
	})

	return otelhttp.NewHandler(r, "streamserver",
		otelhttp.WithFilter(traceable),
		otelhttp.WithSpanNameFormatter(func(op string, r *http.Request) string {
			return op + " " + r.Method + " " + r.URL.Path
		}),
	)
}

// Serve accepts connections on ln until ctx ends, then shuts down
// gracefully. Canceling ctx also ends running MJPEG streams.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConnections)
	}
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		IdleTimeout:       time.Minute,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info().
		Str(log.FieldEvent, "streamserver.listening").
		Str("addr", ln.Addr().String()).
		Msg("stream server listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("stream server: %w", err)
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownGrace)
	defer cancel()
	err := srv.Shutdown(sctx)
	<-errCh
	if err != nil {
		return fmt.Errorf("stream server shutdown: %w", err)
	}
	return nil
}

// ListenAndServe listens on the configured address and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}
