// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by all spans.
const (
	// HTTP attributes
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"

	// Device attributes
	DeviceIDKey     = "camera.device_id"
	DeviceBrandKey  = "camera.brand"
	DeviceStatusKey = "camera.status"

	// Transcoder attributes
	RoleKey        = "transcoder.role"
	FingerprintKey = "transcoder.fingerprint"
	PIDKey         = "transcoder.pid"
	ReusedKey      = "transcoder.reused"

	// Probe attributes
	ProbeKindKey   = "probe.kind"
	ProbeResultKey = "probe.result"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// DeviceAttributes identifies the device a span works on. Empty values are omitted.
func DeviceAttributes(deviceID, brand, status string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if deviceID != "" {
		attrs = append(attrs, attribute.String(DeviceIDKey, deviceID))
	}
	if brand != "" {
		attrs = append(attrs, attribute.String(DeviceBrandKey, brand))
	}
	if status != "" {
		attrs = append(attrs, attribute.String(DeviceStatusKey, status))
	}
	return attrs
}

// RoleAttributes describes a transcoder role operation.
func RoleAttributes(role, fingerprint string, pid int, reused bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(RoleKey, role),
		attribute.String(FingerprintKey, fingerprint),
		attribute.Int(PIDKey, pid),
		attribute.Bool(ReusedKey, reused),
	}
}

// ProbeAttributes describes a connectivity probe or ping.
func ProbeAttributes(kind, result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(ProbeKindKey, kind),
		attribute.String(ProbeResultKey, result),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
