// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RoleStarts counts transcoder role process starts.
	RoleStarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camvisor_role_starts_total",
		Help: "Total number of transcoder role process starts",
	}, []string{"role", "reason"})

	// RoleStops counts transcoder role process stops.
	RoleStops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camvisor_role_stops_total",
		Help: "Total number of transcoder role process stops",
	}, []string{"role", "reason"})

	// RunningRoles is the number of running processes per role across all devices.
	RunningRoles = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "camvisor_running_roles",
		Help: "Number of running transcoder processes per role",
	}, []string{"role"})

	// ProcessFailures counts classified transcoder failures.
	ProcessFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camvisor_process_failures_total",
		Help: "Total number of transcoder failures by role and kind",
	}, []string{"role", "kind"})

	// ProcessSignals counts signals sent to transcoder process groups.
	ProcessSignals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camvisor_process_signals_total",
		Help: "Total number of signals sent to transcoder process groups",
	}, []string{"signal", "result"})

	// ClipDuration tracks synchronous GIF/MP4 clip recordings.
	ClipDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "camvisor_clip_duration_seconds",
		Help:    "Wall time of synchronous clip recordings",
		Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120},
	}, []string{"role", "result"})
)

// ObserveClip records a clip recording outcome.
func ObserveClip(role, result string, d time.Duration) {
	ClipDuration.WithLabelValues(role, result).Observe(d.Seconds())
}

var (
	// RoleCPU is the sampled CPU usage of a running transcoder process.
	RoleCPU = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "camvisor_role_cpu_percent",
		Help: "CPU usage of running transcoder processes in percent",
	}, []string{"device", "role"})

	// RoleRSS is the sampled resident memory of a running transcoder process.
	RoleRSS = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "camvisor_role_rss_bytes",
		Help: "Resident memory of running transcoder processes",
	}, []string{"device", "role"})
)

// SetRoleStats publishes one process sample.
func SetRoleStats(device, role string, cpuPercent float64, rssBytes uint64) {
	RoleCPU.WithLabelValues(device, role).Set(cpuPercent)
	RoleRSS.WithLabelValues(device, role).Set(float64(rssBytes))
}

// ResetRoleStats drops all process samples so stopped roles disappear.
func ResetRoleStats() {
	RoleCPU.Reset()
	RoleRSS.Reset()
}
