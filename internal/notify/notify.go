// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package notify delivers device status changes, UI refreshes and
// user-facing toasts to the outer system.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/camvisor/internal/log"
)

// Kind classifies an event.
type Kind string

const (
	// KindStatus is published when a device's connection state changed.
	KindStatus Kind = "status"
	// KindToast is a user-visible message (ERROR / REQUIRE_AUTH transitions).
	KindToast Kind = "toast"
	// KindRefresh asks the UI to re-read the device.
	KindRefresh Kind = "refresh"
	// KindEndpoint carries an endpoint value change.
	KindEndpoint Kind = "endpoint"
	// KindSnapshot announces a new snapshot image.
	KindSnapshot Kind = "snapshot"
)

// Level is the severity of a toast.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Event is one notification.
type Event struct {
	Kind       Kind      `json:"kind"`
	DeviceID   string    `json:"device_id"`
	DeviceName string    `json:"device_name,omitempty"`
	Status     string    `json:"status,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Level      Level     `json:"level,omitempty"`
	Message    string    `json:"message,omitempty"`
	Endpoint   string    `json:"endpoint,omitempty"`
	Value      any       `json:"value,omitempty"`
	At         time.Time `json:"at"`
}

// Notifier publishes events.
type Notifier interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards events.
type Nop struct{}

// Publish implements Notifier.
func (Nop) Publish(context.Context, Event) error { return nil }

// LogNotifier writes events to the structured log.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier returns a notifier logging through logger.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Publish implements Notifier. Toasts are logged at the level they carry,
// everything else at debug.
func (n *LogNotifier) Publish(_ context.Context, ev Event) error {
	var e *zerolog.Event
	switch {
	case ev.Kind == KindToast && ev.Level == LevelError:
		e = n.logger.Error()
	case ev.Kind == KindToast && ev.Level == LevelWarning:
		e = n.logger.Warn()
	case ev.Kind == KindToast, ev.Kind == KindStatus:
		e = n.logger.Info()
	default:
		e = n.logger.Debug()
	}
	e = e.Str(log.FieldEvent, "notify."+string(ev.Kind)).Str(log.FieldDeviceID, ev.DeviceID)
	if ev.Status != "" {
		e = e.Str(log.FieldNewState, ev.Status)
	}
	if ev.Reason != "" {
		e = e.Str(log.FieldReason, ev.Reason)
	}
	if ev.Endpoint != "" {
		e = e.Str("endpoint", ev.Endpoint).Interface("value", ev.Value)
	}
	msg := ev.Message
	if msg == "" {
		msg = "device notification"
	}
	e.Msg(msg)
	return nil
}

// Multi fans an event out to several notifiers. All are invoked; errors are joined.
type Multi []Notifier

// Publish implements Notifier.
func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
