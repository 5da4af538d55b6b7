// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestHTTPAttributes(t *testing.T) {
	attrs := HTTPAttributes("GET", "/{device}/stream.m3u8", 200)

	if len(attrs) != 3 {
		t.Fatalf("Expected 3 attributes, got %d", len(attrs))
	}

	verifyAttribute(t, attrs, HTTPMethodKey, "GET")
	verifyAttribute(t, attrs, HTTPRouteKey, "/{device}/stream.m3u8")
	verifyIntAttribute(t, attrs, HTTPStatusCodeKey, 200)
}

func TestDeviceAttributes(t *testing.T) {
	tests := []struct {
		name     string
		deviceID string
		brand    string
		status   string
		wantLen  int
	}{
		{name: "all fields", deviceID: "cam-1", brand: "onvif", status: "ONLINE", wantLen: 3},
		{name: "only id", deviceID: "cam-1", wantLen: 1},
		{name: "empty", wantLen: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attrs := DeviceAttributes(tt.deviceID, tt.brand, tt.status)
			if len(attrs) != tt.wantLen {
				t.Errorf("Expected %d attributes, got %d", tt.wantLen, len(attrs))
			}
			if tt.deviceID != "" {
				verifyAttribute(t, attrs, DeviceIDKey, tt.deviceID)
			}
			if tt.brand != "" {
				verifyAttribute(t, attrs, DeviceBrandKey, tt.brand)
			}
			if tt.status != "" {
				verifyAttribute(t, attrs, DeviceStatusKey, tt.status)
			}
		})
	}
}

func TestRoleAttributes(t *testing.T) {
	attrs := RoleAttributes("restream", "abc123", 4242, true)

	if len(attrs) != 4 {
		t.Fatalf("Expected 4 attributes, got %d", len(attrs))
	}

	verifyAttribute(t, attrs, RoleKey, "restream")
	verifyAttribute(t, attrs, FingerprintKey, "abc123")
	verifyIntAttribute(t, attrs, PIDKey, 4242)
	verifyBoolAttribute(t, attrs, ReusedKey, true)
}

func TestProbeAttributes(t *testing.T) {
	attrs := ProbeAttributes("connect", "auth")
	verifyAttribute(t, attrs, ProbeKindKey, "connect")
	verifyAttribute(t, attrs, ProbeResultKey, "auth")
}

func TestErrorAttributes(t *testing.T) {
	attrs := ErrorAttributes(errors.New("test error"), "network_error")

	if len(attrs) != 2 {
		t.Fatalf("Expected 2 attributes, got %d", len(attrs))
	}

	verifyBoolAttribute(t, attrs, ErrorKey, true)
	verifyAttribute(t, attrs, ErrorTypeKey, "network_error")
}

func verifyAttribute(t *testing.T, attrs []attribute.KeyValue, key, expectedValue string) {
	t.Helper()
	for _, attr := range attrs {
		if string(attr.Key) == key {
			if attr.Value.AsString() != expectedValue {
				t.Errorf("Expected %s=%s, got %s", key, expectedValue, attr.Value.AsString())
			}
			return
		}
	}
	t.Errorf("Attribute %s not found", key)
}

func verifyIntAttribute(t *testing.T, attrs []attribute.KeyValue, key string, expectedValue int) {
	t.Helper()
	for _, attr := range attrs {
		if string(attr.Key) == key {
			if attr.Value.AsInt64() != int64(expectedValue) {
				t.Errorf("Expected %s=%d, got %d", key, expectedValue, attr.Value.AsInt64())
			}
			return
		}
	}
	t.Errorf("Attribute %s not found", key)
}

func verifyBoolAttribute(t *testing.T, attrs []attribute.KeyValue, key string, expectedValue bool) {
	t.Helper()
	for _, attr := range attrs {
		if string(attr.Key) == key {
			if attr.Value.AsBool() != expectedValue {
				t.Errorf("Expected %s=%t, got %t", key, expectedValue, attr.Value.AsBool())
			}
			return
		}
	}
	t.Errorf("Attribute %s not found", key)
}
