// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package endpoint implements the observable typed values of a device.
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"sync"
)

// Type is the value type of an endpoint.
type Type string

const (
	TypeBool    Type = "bool"
	TypeNumber  Type = "number"
	TypeSelect  Type = "select"
	TypeString  Type = "string"
	TypeTrigger Type = "trigger"
)

var (
	ErrNotFound     = errors.New("endpoint not found")
	ErrReadOnly     = errors.New("endpoint is read-only")
	ErrTypeMismatch = errors.New("endpoint value type mismatch")
	ErrOutOfRange   = errors.New("endpoint value out of range")
)

// UpdateHandler pushes a changed value down to the device.
type UpdateHandler func(ctx context.Context, value any) error

// Endpoint is one named value. Values are normalized to bool, float64 or
// string; triggers carry no value.
type Endpoint struct {
	id       string
	typ      Type
	writable bool
	min, max float64
	ranged   bool
	options  []string
	handler  UpdateHandler

	mu    sync.RWMutex
	value any
}

// NewBool creates a switch endpoint.
func NewBool(id string, writable bool) *Endpoint {
	return &Endpoint{id: id, typ: TypeBool, writable: writable, value: false}
}

// NewNumber creates an unbounded numeric endpoint.
func NewNumber(id string, writable bool) *Endpoint {
	return &Endpoint{id: id, typ: TypeNumber, writable: writable, value: 0.0}
}

// NewSlider creates a numeric endpoint limited to [lo, hi].
func NewSlider(id string, lo, hi float64, writable bool) *Endpoint {
	return &Endpoint{id: id, typ: TypeNumber, writable: writable, min: lo, max: hi, ranged: true, value: lo}
}

// NewSelect creates an endpoint restricted to options.
func NewSelect(id string, options []string, writable bool) *Endpoint {
	var initial string
	if len(options) > 0 {
		initial = options[0]
	}
	return &Endpoint{id: id, typ: TypeSelect, writable: writable, options: slices.Clone(options), value: initial}
}

// NewString creates a free text endpoint.
func NewString(id string, writable bool) *Endpoint {
	return &Endpoint{id: id, typ: TypeString, writable: writable, value: ""}
}

// NewTrigger creates a button endpoint. Triggers are always writable.
func NewTrigger(id string) *Endpoint {
	return &Endpoint{id: id, typ: TypeTrigger, writable: true}
}

// WithHandler sets the device update handler and returns e.
func (e *Endpoint) WithHandler(h UpdateHandler) *Endpoint {
	e.handler = h
	return e
}

// WithInitial sets the initial value without notifications and returns e.
// Invalid values are ignored.
func (e *Endpoint) WithInitial(v any) *Endpoint {
	if nv, err := e.normalize(v); err == nil {
		e.mu.Lock()
		e.value = nv
		e.mu.Unlock()
	}
	return e
}

// ID returns the endpoint id.
func (e *Endpoint) ID() string { return e.id }

// Type returns the value type.
func (e *Endpoint) Type() Type { return e.typ }

// Writable reports whether external writes are accepted.
func (e *Endpoint) Writable() bool { return e.writable }

// Value returns the current value.
func (e *Endpoint) Value() any {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.value
}

// Float returns the value as a number, or 0 for non-numeric endpoints.
func (e *Endpoint) Float() float64 {
	f, _ := e.Value().(float64)
	return f
}

// Bool returns the value as a bool.
func (e *Endpoint) Bool() bool {
	b, _ := e.Value().(bool)
	return b
}

// String returns the value as a string.
func (e *Endpoint) String() string {
	switch v := e.Value().(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// swap stores v and returns the previous value and whether it changed.
func (e *Endpoint) swap(v any) (any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.typ != TypeTrigger && e.value == v {
		return e.value, false
	}
	old := e.value
	if e.typ != TypeTrigger {
		e.value = v
	}
	return old, true
}

func (e *Endpoint) normalize(v any) (any, error) {
	switch e.typ {
	case TypeTrigger:
		return nil, nil
	case TypeBool:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			parsed, err := strconv.ParseBool(b)
			if err != nil {
				return nil, fmt.Errorf("%w: %q is not a bool", ErrTypeMismatch, b)
			}
			return parsed, nil
		}
	case TypeNumber:
		f, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("%w: %v is not a number", ErrTypeMismatch, v)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: %v", ErrOutOfRange, f)
		}
		if e.ranged && (f < e.min || f > e.max) {
			return nil, fmt.Errorf("%w: %v not in [%v, %v]", ErrOutOfRange, f, e.min, e.max)
		}
		return f, nil
	case TypeSelect:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %v is not a string", ErrTypeMismatch, v)
		}
		if !slices.Contains(e.options, s) {
			return nil, fmt.Errorf("%w: %q is not an option", ErrOutOfRange, s)
		}
		return s, nil
	case TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprint(v), nil
	}
	return nil, fmt.Errorf("%w: %T for %s endpoint", ErrTypeMismatch, v, e.typ)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// View is the read model handed to the UI layer.
type View struct {
	ID       string   `json:"id"`
	Type     Type     `json:"type"`
	Writable bool     `json:"writable"`
	Value    any      `json:"value,omitempty"`
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
	Options  []string `json:"options,omitempty"`
}

// View renders e.
func (e *Endpoint) View() View {
	v := View{
		ID:       e.id,
		Type:     e.typ,
		Writable: e.writable,
		Value:    e.Value(),
		Options:  slices.Clone(e.options),
	}
	if e.ranged {
		lo, hi := e.min, e.max
		v.Min, v.Max = &lo, &hi
	}
	return v
}
