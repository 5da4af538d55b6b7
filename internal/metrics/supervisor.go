// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// deviceStatuses mirrors camera.Status values. Duplicated here to keep the
// metrics package free of domain imports.
var deviceStatuses = []string{"INITIALIZE", "ONLINE", "OFFLINE", "ERROR", "REQUIRE_AUTH", "UNKNOWN"}

var (
	// DeviceStatus is 1 for the status a device currently has and 0 for all others.
	DeviceStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "camvisor_device_status",
		Help: "Current connection status per device (1 = active status)",
	}, []string{"device", "status"})

	// StatusTransitions counts persisted status changes.
	StatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camvisor_status_transitions_total",
		Help: "Total number of device status transitions by target status",
	}, []string{"status"})

	// PingFailures counts communication errors reported while online.
	PingFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camvisor_ping_failures_total",
		Help: "Total number of communication errors per device",
	}, []string{"device"})

	// ProbeDuration tracks connect-probe latency.
	ProbeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "camvisor_probe_duration_seconds",
		Help:    "Duration of device connectivity probes",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"result"})

	// JobPanics counts recovered panics in periodic device jobs.
	JobPanics = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camvisor_job_panics_total",
		Help: "Total number of recovered panics in periodic device jobs",
	}, []string{"job"})

	// ChannelPrunes counts channel tracking entries removed by prune.
	ChannelPrunes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camvisor_channel_prunes_total",
		Help: "Total number of stale channel tracking entries pruned",
	})
)

// SetDeviceStatus flips the status gauge of a device to the given status.
func SetDeviceStatus(device, status string) {
	for _, s := range deviceStatuses {
		v := 0.0
		if s == status {
			v = 1
		}
		DeviceStatus.WithLabelValues(device, s).Set(v)
	}
}

// ForgetDevice drops all per-device series.
func ForgetDevice(device string) {
	for _, s := range deviceStatuses {
		DeviceStatus.DeleteLabelValues(device, s)
	}
	PingFailures.DeleteLabelValues(device)
	StreamSubscribers.DeleteLabelValues(device)
	DroppedFrames.DeleteLabelValues(device)
}

// ObserveProbe records a probe duration with its outcome.
func ObserveProbe(result string, d time.Duration) {
	ProbeDuration.WithLabelValues(result).Observe(d.Seconds())
}
