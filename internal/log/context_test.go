// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextWithRequestID(t *testing.T) {
	tests := []struct {
		name      string
		ctx       context.Context
		requestID string
		want      string
	}{
		{name: "nil context", ctx: nil, requestID: "test-id-123", want: "test-id-123"},
		{name: "background context", ctx: context.Background(), requestID: "req-456", want: "req-456"},
		{name: "empty request ID", ctx: context.Background(), requestID: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := ContextWithRequestID(tt.ctx, tt.requestID)
			assert.Equal(t, tt.want, RequestIDFromContext(ctx))
		})
	}
}

func TestWithContextAddsCorrelationFields(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	ctx := ContextWithRequestID(context.Background(), "req-1")
	ctx = ContextWithDeviceID(ctx, "cam-7")

	l := WithContext(ctx, logger)
	l.Info().Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "req-1", entry[FieldRequestID])
	assert.Equal(t, "cam-7", entry[FieldDeviceID])
}

func TestWithContextWithoutFieldsReturnsSameLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	l := WithContext(context.Background(), logger)
	l.Info().Msg("plain")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	_, hasReq := entry[FieldRequestID]
	assert.False(t, hasReq)
}

func TestFromContextFallsBackToBase(t *testing.T) {
	require.NotNil(t, FromContext(context.Background()))
	require.NotNil(t, FromContext(nil)) //nolint:staticcheck // nil context is handled explicitly
}
