// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package camera

import "time"

// Status is the connection status of a device.
type Status string

const (
	StatusInitialize  Status = "INITIALIZE"
	StatusOnline      Status = "ONLINE"
	StatusOffline     Status = "OFFLINE"
	StatusError       Status = "ERROR"
	StatusRequireAuth Status = "REQUIRE_AUTH"
	StatusUnknown     Status = "UNKNOWN"
)

// Statuses lists every status in the order they are offered to the UI.
var Statuses = []Status{
	StatusOnline,
	StatusError,
	StatusOffline,
	StatusRequireAuth,
	StatusUnknown,
	StatusInitialize,
}

// Online reports whether the status is ONLINE.
func (s Status) Online() bool { return s == StatusOnline }

// Surfaced reports whether a transition into this status must raise a
// user-visible notification.
func (s Status) Surfaced() bool { return s == StatusError || s == StatusRequireAuth }

func (s Status) String() string { return string(s) }

// ParseStatus converts a string into a known Status.
func ParseStatus(v string) (Status, bool) {
	for _, s := range Statuses {
		if string(s) == v {
			return s, true
		}
	}
	return StatusUnknown, false
}

// ConnectionState is the persisted connection state of a device.
type ConnectionState struct {
	Status   Status    `json:"status"`
	Reason   string    `json:"reason,omitempty"`
	Failures int       `json:"failures"`
	Since    time.Time `json:"since"`
}

// Same reports whether the status/reason pair equals the given one.
func (c ConnectionState) Same(status Status, reason string) bool {
	return c.Status == status && c.Reason == reason
}
