// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package channels tracks outbound vendor connections keyed by request target.
package channels

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/camvisor/internal/log"
	"github.com/ManuGH/camvisor/internal/metrics"
)

// DefaultPruneThreshold is the entry count above which PruneIfNeeded prunes.
const DefaultPruneThreshold = 10

// Conn is a tracked connection.
type Conn interface {
	IsOpen() bool
	Close() error
}

// Entry is a snapshot of one tracked request.
type Entry struct {
	Key       string
	Conn      Conn
	Reply     string
	TrackedAt time.Time
	RepliedAt time.Time
}

// Registry is safe for concurrent use.
type Registry struct {
	mu        sync.Mutex
	entries   map[string]*Entry
	threshold int
	logger    zerolog.Logger
}

// New creates a registry. threshold <= 0 selects DefaultPruneThreshold.
func New(threshold int, logger zerolog.Logger) *Registry {
	if threshold <= 0 {
		threshold = DefaultPruneThreshold
	}
	return &Registry{
		entries:   make(map[string]*Entry),
		threshold: threshold,
		logger:    logger,
	}
}

// Track registers conn for key, replacing an older entry.
func (r *Registry) Track(key string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key] = &Entry{Key: key, Conn: conn, TrackedAt: time.Now()}
}

// Get returns a copy of the entry for key.
func (r *Registry) Get(key string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// SetReply stores the last reply received on key.
func (r *Registry) SetReply(key, reply string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return false
	}
	e.Reply = reply
	e.RepliedAt = time.Now()
	return true
}

// Close closes the connection tracked for key. The entry stays until pruned
// so that a reply received before the close is still readable.
func (r *Registry) Close(key string) error {
	r.mu.Lock()
	e, ok := r.entries[key]
	r.mu.Unlock()
	if !ok || e.Conn == nil || !e.Conn.IsOpen() {
		return nil
	}
	return e.Conn.Close()
}

// Len returns the number of tracked entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Keys returns the tracked keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Prune removes entries whose connection is closed and that hold no reply.
// It returns the number of removed entries.
func (r *Registry) Prune() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for key, e := range r.entries {
		if e.Reply != "" {
			continue
		}
		if e.Conn != nil && e.Conn.IsOpen() {
			continue
		}
		delete(r.entries, key)
		removed++
	}
	if removed > 0 {
		metrics.ChannelPrunes.Add(float64(removed))
		r.logger.Debug().
			Str(log.FieldEvent, "channels.pruned").
			Int("removed", removed).
			Int("remaining", len(r.entries)).
			Msg("pruned stale channel entries")
	}
	return removed
}

// PruneIfNeeded prunes once the registry holds more entries than the threshold.
func (r *Registry) PruneIfNeeded() int {
	if r.Len() <= r.threshold {
		return 0
	}
	return r.Prune()
}

// Clear closes every open connection and drops all entries.
func (r *Registry) Clear() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*Entry)
	r.mu.Unlock()

	for key, e := range entries {
		if e.Conn == nil || !e.Conn.IsOpen() {
			continue
		}
		if err := e.Conn.Close(); err != nil {
			r.logger.Warn().Err(err).Str("key", key).Msg("failed to close tracked channel")
		}
	}
}
