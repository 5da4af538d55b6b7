// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"maps"
	"sync"

	"github.com/ManuGH/camvisor/internal/camera"
)

// MemoryStore keeps states in a map. Nothing survives a restart.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]camera.ConnectionState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]camera.ConnectionState)}
}

func (s *MemoryStore) Save(_ context.Context, deviceID string, st camera.ConnectionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[deviceID] = st
	return nil
}

func (s *MemoryStore) Load(_ context.Context, deviceID string) (camera.ConnectionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[deviceID]
	if !ok {
		return camera.ConnectionState{}, ErrNotFound
	}
	return st, nil
}

func (s *MemoryStore) List(context.Context) (map[string]camera.ConnectionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.states), nil
}

func (s *MemoryStore) Delete(_ context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, deviceID)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
