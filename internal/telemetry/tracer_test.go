// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// keepGlobalTracer restores the process-wide provider after a test swaps it.
func keepGlobalTracer(t *testing.T) {
	t.Helper()
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
}

func TestNewProviderDisabledInstallsNoop(t *testing.T) {
	keepGlobalTracer(t)

	provider, err := NewProvider(context.Background(), Config{ServiceName: "camvisor", ExporterType: "grpc"})
	require.NoError(t, err)
	assert.Nil(t, provider.tp)

	_, span := Tracer("supervisor").Start(context.Background(), "probe")
	assert.False(t, span.IsRecording())
	span.End()
	assert.NoError(t, provider.Shutdown(context.Background()))
}

func TestNewProviderRejectsExporter(t *testing.T) {
	tests := []struct {
		exporter string
		want     string
	}{
		{"invalid", "unsupported exporter type: invalid (supported: grpc, http)"},
		{"", "telemetry enabled without exporter type"},
		{"none", "telemetry enabled without exporter type"},
	}
	for _, tt := range tests {
		t.Run(tt.exporter, func(t *testing.T) {
			_, err := NewProvider(context.Background(), Config{Enabled: true, ExporterType: tt.exporter})
			assert.EqualError(t, err, tt.want)
		})
	}
}

func TestNewProviderHTTPExporter(t *testing.T) {
	keepGlobalTracer(t)

	provider, err := NewProvider(context.Background(), Config{
		Enabled:        true,
		ServiceName:    "camvisor",
		ServiceVersion: "test",
		ExporterType:   "http",
		Endpoint:       "127.0.0.1:1",
		SamplingRate:   1,
	})
	require.NoError(t, err)
	require.NotNil(t, provider.tp)

	_, span := Tracer("supervisor").Start(context.Background(), "probe")
	assert.True(t, span.IsRecording())
	assert.NoError(t, provider.Shutdown(context.Background()), "no spans ended, nothing to export")
	span.End()
}

func TestNewSampler(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{1.0, "root:AlwaysOnSampler"},
		{2.0, "root:AlwaysOnSampler"},
		{0, "root:AlwaysOffSampler"},
		{-1, "root:AlwaysOffSampler"},
		{0.5, "root:TraceIDRatioBased{0.5}"},
	}
	for _, tt := range tests {
		desc := newSampler(tt.rate).Description()
		assert.Contains(t, desc, "ParentBased")
		assert.Contains(t, desc, tt.want, "rate %g", tt.rate)
	}
}

func TestShutdownNilProvider(t *testing.T) {
	var p *Provider
	assert.NoError(t, p.Shutdown(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, (&Provider{}).Shutdown(ctx))
}

func TestRecordError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	_, span := tp.Tracer("test").Start(context.Background(), "probe")
	RecordError(span, nil, "ignored")
	RecordError(span, errors.New("401 unauthorized"), "auth")
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	verifyAttribute(t, ended[0].Attributes(), ErrorTypeKey, "auth")
	assert.Len(t, ended[0].Events(), 1, "nil errors are not recorded")
}
