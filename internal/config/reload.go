// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/ManuGH/camvisor/internal/log"
)

// DefaultDebounce collapses the burst of events an editor save produces.
const DefaultDebounce = 500 * time.Millisecond

// Holder keeps the active configuration and swaps it atomically on reload.
// A failed reload keeps the previous configuration.
type Holder struct {
	mu       sync.RWMutex
	current  AppConfig
	loader   *Loader
	logger   zerolog.Logger
	debounce time.Duration

	listenMu  sync.RWMutex
	listeners []chan<- AppConfig

	watchMu sync.Mutex
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// NewHolder creates a holder around an already loaded configuration.
func NewHolder(initial AppConfig, loader *Loader) *Holder {
	return &Holder{
		current:  initial,
		loader:   loader,
		logger:   log.WithComponent("config"),
		debounce: DefaultDebounce,
	}
}

// Get returns the active configuration.
func (h *Holder) Get() AppConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Reload loads and validates the file, then swaps and notifies listeners.
func (h *Holder) Reload(_ context.Context) error {
	h.logger.Info().Str(log.FieldEvent, "config.reload_start").Msg("reloading configuration")

	next, err := h.loader.Load()
	if err != nil {
		h.logger.Error().
			Err(err).
			Str(log.FieldEvent, "config.reload_failed").
			Msg("new configuration rejected, keeping the active one")
		return fmt.Errorf("reload config: %w", err)
	}

	h.mu.Lock()
	old := h.current
	h.current = next
	h.mu.Unlock()

	summary := Diff(old, next)
	h.logger.Info().
		Str(log.FieldEvent, "config.reload_success").
		Strs("added", summary.Added).
		Strs("removed", summary.Removed).
		Strs("changed", summary.Changed).
		Bool("restart_required", summary.RestartRequired).
		Msg("configuration reloaded")

	h.notify(next)
	return nil
}

// RegisterListener subscribes ch to successful reloads. Sends never block;
// a full channel misses the update.
func (h *Holder) RegisterListener(ch chan<- AppConfig) {
	h.listenMu.Lock()
	defer h.listenMu.Unlock()
	h.listeners = append(h.listeners, ch)
}

func (h *Holder) notify(cfg AppConfig) {
	h.listenMu.RLock()
	defer h.listenMu.RUnlock()
	for _, ch := range h.listeners {
		select {
		case ch <- cfg:
		default:
			h.logger.Warn().
				Str(log.FieldEvent, "config.listener_skip").
				Msg("skipped notifying listener (channel full)")
		}
	}
}

// StartWatcher reloads whenever the configuration file changes. The parent
// directory is watched so editors that replace the file by rename are seen.
// Without a file this is a no-op.
func (h *Holder) StartWatcher(ctx context.Context) error {
	path := h.loader.Path()
	if path == "" {
		h.logger.Info().
			Str(log.FieldEvent, "config.watcher_disabled").
			Msg("config file watcher disabled (environment-only configuration)")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config dir: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	h.watchMu.Lock()
	h.stop = cancel
	h.watchMu.Unlock()

	h.logger.Info().
		Str(log.FieldEvent, "config.watcher_started").
		Str(log.FieldPath, path).
		Msg("watching config file for changes")

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.watchLoop(ctx, watcher, filepath.Clean(path))
	}()
	return nil
}

func (h *Holder) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, path string) {
	defer func() { _ = watcher.Close() }()

	timer := time.NewTimer(h.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Str(log.FieldEvent, "config.watcher_stopped").Msg("config watcher stopped")
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			h.logger.Debug().
				Str(log.FieldEvent, "config.file_changed").
				Str("op", event.Op.String()).
				Msg("config file changed")
			timer.Reset(h.debounce)

		case <-timer.C:
			if err := h.Reload(ctx); err != nil {
				h.logger.Error().
					Err(err).
					Str(log.FieldEvent, "config.auto_reload_failed").
					Msg("automatic config reload failed")
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().
				Err(err).
				Str(log.FieldEvent, "config.watcher_error").
				Msg("config watcher error")
		}
	}
}

// Stop ends the watcher and waits for it.
func (h *Holder) Stop() {
	h.watchMu.Lock()
	stop := h.stop
	h.stop = nil
	h.watchMu.Unlock()
	if stop != nil {
		stop()
	}
	h.wg.Wait()
}
