// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/camvisor/internal/log"
)

// ShutdownHook is a function that performs cleanup during graceful shutdown.
// Hooks are executed in reverse registration order (LIFO).
type ShutdownHook func(ctx context.Context) error

// Manager manages the daemon lifecycle: starting servers, handling shutdown.
type Manager interface {
	// Start starts all configured servers and blocks until shutdown
	Start(ctx context.Context) error

	// Shutdown gracefully shuts down all servers
	Shutdown(ctx context.Context) error

	// RegisterShutdownHook registers a function to be called during shutdown
	RegisterShutdownHook(name string, hook ShutdownHook)
}

type manager struct {
	deps Deps

	mediaCancel context.CancelFunc
	mediaDone   chan struct{}
	adminServer *http.Server

	shutdownHooks []namedHook

	started  bool
	stopping bool
	mu       sync.Mutex

	logger zerolog.Logger
}

type namedHook struct {
	name string
	hook ShutdownHook
}

// NewManager creates a new daemon manager.
func NewManager(deps Deps) (Manager, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dependencies: %w", err)
	}
	if deps.ShutdownTimeout <= 0 {
		deps.ShutdownTimeout = DefaultShutdownTimeout
	}
	return &manager{
		deps:   deps,
		logger: deps.Logger.With().Str(log.FieldComponent, "manager").Logger(),
	}, nil
}

// Start binds the media and admin listeners and blocks until ctx is
// cancelled or a server fails, then shuts down.
func (m *manager) Start(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("start context is nil")
	}

	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrManagerStarted
	}
	m.started = true
	m.mu.Unlock()

	m.logger.Info().
		Str("listen", m.deps.MediaListen).
		Str("admin_listen", m.deps.AdminListen).
		Dur("shutdown_timeout", m.deps.ShutdownTimeout).
		Msg("starting daemon manager")

	errChan := make(chan error, 2)
	if err := m.startMediaServer(ctx, errChan); err != nil {
		return fmt.Errorf("failed to start media server: %w", err)
	}
	if err := m.startAdminServer(ctx, errChan); err != nil {
		return fmt.Errorf("failed to start admin server: %w", err)
	}

	select {
	case err := <-errChan:
		m.logger.Error().Err(err).Str(log.FieldEvent, "daemon.server_failed").Msg("server error, initiating shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.deps.ShutdownTimeout)
		defer cancel()
		if shutdownErr := m.Shutdown(shutdownCtx); shutdownErr != nil {
			return fmt.Errorf("server error and shutdown failure: %w", errors.Join(err, shutdownErr))
		}
		return err
	case <-ctx.Done():
		m.logger.Info().Msg("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.deps.ShutdownTimeout)
		defer cancel()
		return m.Shutdown(shutdownCtx)
	}
}

// startMediaServer binds synchronously so address conflicts fail Start.
// The server gets its own context: Shutdown, not the caller, ends it.
func (m *manager) startMediaServer(ctx context.Context, errChan chan<- error) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", m.deps.MediaListen)
	if err != nil {
		return err
	}

	serveCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	m.mu.Lock()
	m.mediaCancel = cancel
	m.mediaDone = done
	m.mu.Unlock()

	go func() {
		defer close(done)
		if err := m.deps.MediaServer.Serve(serveCtx, ln); err != nil {
			errChan <- err
		}
	}()
	return nil
}

func (m *manager) startAdminServer(ctx context.Context, errChan chan<- error) error {
	if m.deps.AdminListen == "" || m.deps.AdminHandler == nil {
		return nil
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", m.deps.AdminListen)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           m.deps.AdminHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	m.mu.Lock()
	m.adminServer = srv
	m.mu.Unlock()

	go func() {
		m.logger.Info().Str("addr", ln.Addr().String()).Msg("admin server listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("admin server: %w", err)
		}
	}()
	return nil
}

func (m *manager) Shutdown(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("shutdown context is nil")
	}

	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		return nil
	}
	if !m.started {
		m.mu.Unlock()
		return ErrManagerNotStarted
	}
	m.stopping = true
	mediaCancel, mediaDone, adminServer := m.mediaCancel, m.mediaDone, m.adminServer
	hooks := append([]namedHook(nil), m.shutdownHooks...)
	m.mu.Unlock()

	m.logger.Info().Msg("shutting down daemon manager")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.deps.ShutdownTimeout)
	defer cancel()

	var errs []error

	if mediaCancel != nil {
		m.logger.Debug().Msg("shutting down media server")
		mediaCancel()
		select {
		case <-mediaDone:
		case <-shutdownCtx.Done():
			errs = append(errs, fmt.Errorf("media server shutdown: %w", shutdownCtx.Err()))
		}
	}

	if adminServer != nil {
		m.logger.Debug().Msg("shutting down admin server")
		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("admin server shutdown: %w", err))
		}
	}

	m.logger.Debug().Int("hooks", len(hooks)).Msg("executing shutdown hooks")
	for i := len(hooks) - 1; i >= 0; i-- {
		hook := hooks[i]
		hookStart := time.Now()
		if err := hook.hook(shutdownCtx); err != nil {
			m.logger.Error().
				Err(err).
				Str("hook", hook.name).
				Dur("duration", time.Since(hookStart)).
				Msg("shutdown hook failed")
			errs = append(errs, fmt.Errorf("hook %s: %w", hook.name, err))
			continue
		}
		m.logger.Debug().
			Str("hook", hook.name).
			Dur("duration", time.Since(hookStart)).
			Msg("shutdown hook completed")
	}

	if len(errs) > 0 {
		m.logger.Error().Int("error_count", len(errs)).Msg("shutdown completed with errors")
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	m.logger.Info().Msg("daemon manager stopped cleanly")
	return nil
}

// RegisterShutdownHook registers a cleanup function to be called during shutdown.
// Hooks are executed in reverse registration order (LIFO).
func (m *manager) RegisterShutdownHook(name string, hook ShutdownHook) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.shutdownHooks = append(m.shutdownHooks, namedHook{name: name, hook: hook})
	m.logger.Debug().Str("hook", name).Msg("registered shutdown hook")
}
