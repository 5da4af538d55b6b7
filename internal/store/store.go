// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package store persists the last known connection state of every device so
// a restart can report where each camera stood.
package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/ManuGH/camvisor/internal/camera"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
)

// ErrNotFound is returned by Load for a device without a saved state.
var ErrNotFound = errors.New("connection state not found")

// Store keeps one ConnectionState per device id.
type Store interface {
	Save(ctx context.Context, deviceID string, st camera.ConnectionState) error
	Load(ctx context.Context, deviceID string) (camera.ConnectionState, error)
	List(ctx context.Context) (map[string]camera.ConnectionState, error)
	Delete(ctx context.Context, deviceID string) error
	Close() error
}

// Open creates the store for backend. dir is the data directory for the
// durable backends; an empty backend means memory.
func Open(backend, dir string) (Store, error) {
	switch backend {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendBadger:
		if dir == "" {
			return nil, fmt.Errorf("store: %s backend needs a path", backend)
		}
		return OpenBadgerStore(filepath.Join(dir, "states.badger"))
	case BackendSQLite:
		if dir == "" {
			return nil, fmt.Errorf("store: %s backend needs a path", backend)
		}
		return OpenSQLiteStore(filepath.Join(dir, "states.sqlite"))
	default:
		return nil, fmt.Errorf("unknown store backend: %s (supported: memory, badger, sqlite)", backend)
	}
}

// Backends lists the names Open understands.
func Backends() []string {
	return []string{BackendMemory, BackendBadger, BackendSQLite}
}
