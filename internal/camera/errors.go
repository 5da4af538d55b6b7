// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package camera

import (
	"errors"
	"fmt"
)

// ErrResourceLeak marks cleanup of stale channels or processes. It is logged, never fatal.
var ErrResourceLeak = errors.New("resource leak guard")

// ErrNotStarted is returned by operations that require a running device.
var ErrNotStarted = errors.New("device not started")

// ErrOffline is returned by operations that require the device to be online.
var ErrOffline = errors.New("device offline")

// ConfigurationError reports an unusable device configuration.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string { return joinReason("configuration error", e.Reason, e.Err) }
func (e *ConfigurationError) Unwrap() error { return e.Err }

// AuthenticationError reports rejected credentials.
type AuthenticationError struct {
	Reason string
	Err    error
}

func (e *AuthenticationError) Error() string { return joinReason("authentication error", e.Reason, e.Err) }
func (e *AuthenticationError) Unwrap() error { return e.Err }

// TransientNetworkError reports timeouts, resets and unreachable hosts.
type TransientNetworkError struct {
	Reason string
	Err    error
}

func (e *TransientNetworkError) Error() string { return joinReason("network error", e.Reason, e.Err) }
func (e *TransientNetworkError) Unwrap() error { return e.Err }

// ProcessFailure reports a transcoder crash, nonzero exit or fatal output line.
type ProcessFailure struct {
	Role   Role
	Reason string
	Err    error
}

func (e *ProcessFailure) Error() string {
	return joinReason(fmt.Sprintf("transcoder %s failed", e.Role), e.Reason, e.Err)
}
func (e *ProcessFailure) Unwrap() error { return e.Err }

// ConfigErrorf builds a ConfigurationError.
func ConfigErrorf(format string, args ...any) error {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// AuthErrorf builds an AuthenticationError.
func AuthErrorf(format string, args ...any) error {
	return &AuthenticationError{Reason: fmt.Sprintf(format, args...)}
}

// NetworkErrorf builds a TransientNetworkError.
func NetworkErrorf(format string, args ...any) error {
	return &TransientNetworkError{Reason: fmt.Sprintf(format, args...)}
}

// Classify maps an error to the status a failed probe leaves the device in.
func Classify(err error) Status {
	var cfgErr *ConfigurationError
	var authErr *AuthenticationError
	switch {
	case err == nil:
		return StatusOnline
	case errors.As(err, &authErr):
		return StatusRequireAuth
	case errors.As(err, &cfgErr):
		return StatusError
	default:
		return StatusOffline
	}
}

// Reason renders an error as a status reason.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var cfgErr *ConfigurationError
	var authErr *AuthenticationError
	var netErr *TransientNetworkError
	switch {
	case errors.As(err, &authErr) && authErr.Reason != "":
		return authErr.Reason
	case errors.As(err, &cfgErr) && cfgErr.Reason != "":
		return cfgErr.Reason
	case errors.As(err, &netErr) && netErr.Reason != "":
		return netErr.Reason
	}
	return err.Error()
}

func joinReason(kind, reason string, err error) string {
	switch {
	case reason != "" && err != nil:
		return kind + ": " + reason + ": " + err.Error()
	case reason != "":
		return kind + ": " + reason
	case err != nil:
		return kind + ": " + err.Error()
	default:
		return kind
	}
}
