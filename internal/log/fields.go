// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID      = "request_id"
	FieldDeviceID       = "device_id"
	FieldDeviceName     = "device_name"
	FieldSubscriptionID = "subscription_id"

	// Process fields
	FieldEvent       = "event"
	FieldComponent   = "component"
	FieldRole        = "role"
	FieldPID         = "pid"
	FieldFingerprint = "fingerprint"
	FieldKeepAlive   = "keepalive"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldReason   = "reason"
	FieldFailures = "failures"

	// Path / network fields
	FieldPath     = "path"
	FieldRemoteIP = "remote_ip"
	FieldURL      = "url"
)
