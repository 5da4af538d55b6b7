// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	meterName = "camvisor.supervisor"

	// StatusTransitionsMetric counts device status changes by target status.
	StatusTransitionsMetric = "camvisor.device.status_transitions"

	// OldStatusKey is the status a device left.
	OldStatusKey = "camera.old_status"
)

// RecordStatusTransition counts a device status change on the global meter
// provider and marks it on the span in ctx. The provider is looked up on
// every call so tests can swap it.
func RecordStatusTransition(ctx context.Context, from, to string) {
	meter := otel.GetMeterProvider().Meter(meterName)
	counter, err := meter.Int64Counter(StatusTransitionsMetric,
		metric.WithDescription("Device status transitions"))
	if err == nil {
		counter.Add(ctx, 1, metric.WithAttributes(
			attribute.String(OldStatusKey, from),
			attribute.String(DeviceStatusKey, to),
		))
	}

	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.AddEvent("status.changed", trace.WithAttributes(
			attribute.String(OldStatusKey, from),
			attribute.String(DeviceStatusKey, to),
		))
	}
}
