// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/camvisor/internal/config"
	"github.com/ManuGH/camvisor/internal/log"
)

// DefaultStatsInterval is how often transcoder process stats are published.
const DefaultStatsInterval = 15 * time.Second

// App owns the long-lived runtime lifecycle (config reloads, device
// activation, stats sampling) and delegates server management to Manager.
type App struct {
	logger        zerolog.Logger
	rt            *Runtime
	cfgHolder     *config.Holder
	reloadSignal  os.Signal
	statsInterval time.Duration
}

// NewApp creates a new App. cfgHolder may be nil to disable reloads.
func NewApp(logger zerolog.Logger, rt *Runtime, cfgHolder *config.Holder) *App {
	return &App{
		logger:        logger,
		rt:            rt,
		cfgHolder:     cfgHolder,
		reloadSignal:  syscall.SIGHUP,
		statsInterval: DefaultStatsInterval,
	}
}

// Run starts all owned background subsystems and blocks until ctx is
// cancelled or a fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	if a.rt == nil || a.rt.Manager == nil {
		return ErrMissingManager
	}
	manager := a.rt.Manager

	g, ctx := errgroup.WithContext(ctx)

	// Config watcher is best-effort: startup should not fail if watcher cannot be started.
	if a.cfgHolder != nil {
		if err := a.cfgHolder.StartWatcher(ctx); err != nil {
			a.logger.Warn().Err(err).Str(log.FieldEvent, "config.watcher_start_failed").Msg("failed to start config watcher")
		}
		defer a.cfgHolder.Stop()
	}

	if a.cfgHolder != nil {
		applyCh := make(chan config.AppConfig, 1)
		a.cfgHolder.RegisterListener(applyCh)

		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case cfg := <-applyCh:
					if err := a.rt.ApplyConfig(ctx, cfg); err != nil {
						a.logger.Warn().
							Err(err).
							Str(log.FieldEvent, "config.apply_failed").
							Msg("reloaded device configuration applied with errors")
					}
				}
			}
		})
	}

	// SIGHUP trigger for manual reload.
	if a.cfgHolder != nil && a.reloadSignal != nil {
		g.Go(func() error {
			hupChan := make(chan os.Signal, 1)
			signal.Notify(hupChan, a.reloadSignal)
			defer signal.Stop(hupChan)

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-hupChan:
					a.logger.Info().
						Str(log.FieldEvent, "config.reload_signal").
						Str("signal", a.reloadSignal.String()).
						Msg("received reload signal, reloading config")
					if err := a.cfgHolder.Reload(ctx); err != nil {
						a.logger.Warn().
							Err(err).
							Str(log.FieldEvent, "config.reload_failed").
							Msg("config reload failed")
					}
				}
			}
		})
	}

	if a.statsInterval > 0 {
		g.Go(func() error {
			a.rt.RunStatsLoop(ctx, a.statsInterval)
			return nil
		})
	}

	// Devices are activated in the background; unreachable cameras do not
	// fail startup.
	g.Go(func() error {
		if err := a.rt.Start(ctx); err != nil {
			a.logger.Warn().
				Err(err).
				Str(log.FieldEvent, "daemon.devices_skipped").
				Msg("some devices could not be activated")
		}
		return nil
	})

	// Main server lifecycle.
	g.Go(func() error {
		err := manager.Start(ctx)
		if err != nil {
			_ = manager.Shutdown(context.Background())
		}
		return err
	})

	return g.Wait()
}
