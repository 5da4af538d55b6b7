// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package endpoint

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Well-known endpoint ids.
const (
	DeviceStatus    = "device-status"
	LastSeen        = "last-seen"
	MotionThreshold = "motion-threshold"
	AudioThreshold  = "audio-threshold"
	MotionScore     = "motion-score"
	MotionAlarm     = "motion-alarm"
	AudioAlarm      = "audio-alarm"
	Pan             = "pan"
	Tilt            = "tilt"
	Zoom            = "zoom"
	PTZHome         = "ptz-home"
	PTZStop         = "ptz-stop"
)

// Change describes a value change.
type Change struct {
	DeviceID string
	ID       string
	Old      any
	New      any
	External bool
}

// Listener observes changes of any endpoint in a registry.
type Listener func(Change)

// Registry is the endpoint map of one device.
type Registry struct {
	deviceID string

	mu        sync.RWMutex
	endpoints map[string]*Endpoint
	listeners []Listener
}

// NewRegistry creates an empty registry.
func NewRegistry(deviceID string) *Registry {
	return &Registry{deviceID: deviceID, endpoints: make(map[string]*Endpoint)}
}

// OnChange registers a listener.
func (r *Registry) OnChange(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Get returns the endpoint with id.
func (r *Registry) Get(id string) (*Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.endpoints[id]
	return e, ok
}

// AddOrGet returns the endpoint with id, creating it with factory if absent.
// The factory runs at most once per id.
func (r *Registry) AddOrGet(id string, factory func(id string) *Endpoint) *Endpoint {
	r.mu.RLock()
	e, ok := r.endpoints[id]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.endpoints[id]; ok {
		return e
	}
	e = factory(id)
	r.endpoints[id] = e
	return e
}

// Write sets the value of id. External writes to read-only endpoints are
// rejected. Listeners and the endpoint's update handler run only when the
// value changed; triggers always fire. It reports whether a change happened.
func (r *Registry) Write(ctx context.Context, id string, value any, external bool) (bool, error) {
	e, ok := r.Get(id)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if external && !e.writable {
		return false, fmt.Errorf("%w: %s", ErrReadOnly, id)
	}
	nv, err := e.normalize(value)
	if err != nil {
		return false, fmt.Errorf("write %s: %w", id, err)
	}
	old, changed := e.swap(nv)
	if !changed {
		return false, nil
	}

	r.notify(Change{DeviceID: r.deviceID, ID: id, Old: old, New: nv, External: external})
	if e.handler != nil {
		if err := e.handler(ctx, nv); err != nil {
			return true, fmt.Errorf("update %s: %w", id, err)
		}
	}
	return true, nil
}

func (r *Registry) notify(c Change) {
	r.mu.RLock()
	listeners := make([]Listener, len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.RUnlock()
	for _, l := range listeners {
		l(c)
	}
}

// Views returns all endpoints ordered by id.
func (r *Registry) Views() []View {
	r.mu.RLock()
	out := make([]View, 0, len(r.endpoints))
	for _, e := range r.endpoints {
		out = append(out, e.View())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of endpoints.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.endpoints)
}

// Clear removes every endpoint. Listeners stay registered.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints = make(map[string]*Endpoint)
}
