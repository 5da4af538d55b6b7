// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package snapshot keeps the most recent still image of a device.
package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ManuGH/camvisor/internal/log"
	"github.com/ManuGH/camvisor/internal/metrics"
)

// DefaultMinRefresh is the minimum interval between two captures.
const DefaultMinRefresh = 30 * time.Second

// Fetcher captures a fresh image.
type Fetcher func(ctx context.Context) ([]byte, error)

// Entry is a cached image with the time it was captured.
type Entry struct {
	Bytes     []byte
	Timestamp time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithMinRefresh sets the minimum interval between captures.
func WithMinRefresh(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.minRefresh = d
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithPersistPath writes every changed image atomically to path.
func WithPersistPath(path string) Option {
	return func(c *Cache) { c.persistPath = path }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// Cache holds the latest image of one device. Capture and serving happen on
// different goroutines; all access goes through mu.
type Cache struct {
	mu         sync.Mutex
	entry      Entry
	limiter    *rate.Limiter
	minRefresh time.Duration
	now        func() time.Time

	persistPath string
	logger      zerolog.Logger
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		minRefresh: DefaultMinRefresh,
		now:        time.Now,
		logger:     log.WithComponent("snapshot"),
	}
	for _, o := range opts {
		o(c)
	}
	c.limiter = rate.NewLimiter(rate.Every(c.minRefresh), 1)
	return c
}

// Update stores img if it differs from the cached image. The timestamp is
// refreshed either way. It reports whether the bytes changed.
func (c *Cache) Update(img []byte) bool {
	if len(img) == 0 {
		return false
	}
	c.mu.Lock()
	changed := !bytes.Equal(c.entry.Bytes, img)
	if changed {
		c.entry.Bytes = append([]byte(nil), img...)
	}
	c.entry.Timestamp = c.now()
	c.mu.Unlock()

	if changed && c.persistPath != "" {
		c.persist(img)
	}
	return changed
}

// Latest returns the cached entry. The returned bytes must not be modified.
func (c *Cache) Latest() Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entry
}

// Empty reports whether nothing has been captured yet.
func (c *Cache) Empty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entry.Bytes) == 0
}

// AllowRefresh consumes the refresh budget and reports whether a capture may
// be started now.
func (c *Cache) AllowRefresh() bool {
	return c.limiter.AllowN(c.now(), 1)
}

// Refresh captures a new image via fetch. Calls made within the minimum
// interval of the previous capture return the cached bytes unchanged.
func (c *Cache) Refresh(ctx context.Context, fetch Fetcher) ([]byte, error) {
	if !c.AllowRefresh() {
		metrics.SnapshotRequests.WithLabelValues("cached").Inc()
		return c.Latest().Bytes, nil
	}
	img, err := fetch(ctx)
	if err != nil {
		return c.Latest().Bytes, fmt.Errorf("capture snapshot: %w", err)
	}
	metrics.SnapshotRequests.WithLabelValues("refresh").Inc()
	c.Update(img)
	return c.Latest().Bytes, nil
}

// Serve returns the image to hand to consumers. While the device is offline
// or nothing was captured yet the placeholder is returned. When online and a
// refresh is due, refresh is invoked, also with an empty cache; it must not
// block.
func (c *Cache) Serve(online bool, refresh func()) []byte {
	if !online {
		metrics.SnapshotRequests.WithLabelValues("placeholder").Inc()
		return Placeholder()
	}
	if refresh != nil && c.AllowRefresh() {
		refresh()
	}
	if c.Empty() {
		metrics.SnapshotRequests.WithLabelValues("placeholder").Inc()
		return Placeholder()
	}
	metrics.SnapshotRequests.WithLabelValues("cached").Inc()
	return c.Latest().Bytes
}

// Load restores the last persisted image, if any.
func (c *Cache) Load() error {
	if c.persistPath == "" {
		return nil
	}
	img, err := os.ReadFile(c.persistPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	c.mu.Lock()
	c.entry = Entry{Bytes: img, Timestamp: c.now()}
	c.mu.Unlock()
	return nil
}

// Reset drops the cached image.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.entry = Entry{}
	c.mu.Unlock()
}

func (c *Cache) persist(img []byte) {
	if err := os.MkdirAll(filepath.Dir(c.persistPath), 0o750); err != nil {
		c.logger.Warn().Err(err).Str(log.FieldPath, c.persistPath).Msg("snapshot directory not writable")
		return
	}
	if err := renameio.WriteFile(c.persistPath, img, 0o644); err != nil {
		c.logger.Warn().Err(err).Str(log.FieldPath, c.persistPath).Msg("failed to persist snapshot")
	}
}
