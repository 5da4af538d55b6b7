// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package camera

import "context"

// Handler is the vendor-specific part of a device. Optional behavior is
// discovered by asserting the capability interfaces below.
type Handler interface {
	Brand() string
}

// SupportsPTZ is implemented by handlers that can move the camera.
type SupportsPTZ interface {
	Pan(ctx context.Context, value float64) error
	Tilt(ctx context.Context, value float64) error
	Zoom(ctx context.Context, value float64) error
	Home(ctx context.Context) error
	StopMove(ctx context.Context) error
}

// SupportsMotionAlarm is implemented by handlers with on-device motion detection.
type SupportsMotionAlarm interface {
	SetMotionThreshold(ctx context.Context, threshold int) error
	DisableMotionAlarm(ctx context.Context) error
	ResumeMotionAlarm(ctx context.Context) error
	SuspendMotionAlarm(ctx context.Context) error
}

// SupportsAudioAlarm is implemented by handlers with on-device audio detection.
type SupportsAudioAlarm interface {
	SetAudioThreshold(ctx context.Context, threshold int) error
	DisableAudioAlarm(ctx context.Context) error
}

// SupportsReboot is implemented by handlers that can restart the device.
type SupportsReboot interface {
	Reboot(ctx context.Context) error
}

// SupportsAuthenticate is implemented by handlers that accept new credentials at runtime.
type SupportsAuthenticate interface {
	Authenticate(ctx context.Context, user, password string) error
}

// SupportsPoll is implemented by handlers with vendor work on every health poll.
type SupportsPoll interface {
	Poll(ctx context.Context) error
}

// ActionProvider is implemented by handlers that contribute UI actions.
type ActionProvider interface {
	Actions() []Action
}

// ActionRunner executes the actions an ActionProvider contributed.
type ActionRunner interface {
	RunAction(ctx context.Context, id string, params map[string]string) error
}

// Action is a UI action offered for a device.
type Action struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Icon     string `json:"icon,omitempty"`
	Confirm  string `json:"confirm,omitempty"`
	Disabled bool   `json:"disabled,omitempty"`
}

// EventSink receives push-style vendor events.
type EventSink interface {
	HandleEvent(name string, value any)
}

// GenericHandler is the handler used for devices without vendor integration.
type GenericHandler struct{}

// Brand implements Handler.
func (GenericHandler) Brand() string { return "generic" }
