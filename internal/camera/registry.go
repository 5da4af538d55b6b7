// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package camera

import (
	"sort"
	"sync"
)

// HandlerFactory builds the vendor handler for a device and may install
// device hooks (probe, ping, url resolution).
type HandlerFactory func(d *Device) (Handler, error)

// Registry maps brand names to handler factories. It is built once at
// startup and passed to every supervisor.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]HandlerFactory
}

// NewRegistry returns a registry that already knows the generic brand.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]HandlerFactory)}
	r.Register("generic", func(*Device) (Handler, error) { return GenericHandler{}, nil })
	return r
}

// Register adds or replaces a brand.
func (r *Registry) Register(brand string, f HandlerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[brand] = f
}

// Brands returns the registered brand names in sorted order.
func (r *Registry) Brands() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for b := range r.factories {
		out = append(out, b)
	}
	sort.Strings(out)
	return out
}

// Bind builds the handler for d and fills in default hooks.
func (r *Registry) Bind(d *Device) error {
	brand := d.Brand
	if brand == "" {
		brand = "generic"
	}
	r.mu.RLock()
	f, ok := r.factories[brand]
	r.mu.RUnlock()
	if !ok {
		return ConfigErrorf("unknown camera brand %q", brand)
	}

	h, err := f(d)
	if err != nil {
		return err
	}
	d.Handler = h
	if d.ResolveURLs == nil {
		d.ResolveURLs = StaticURLs
	}
	return nil
}
