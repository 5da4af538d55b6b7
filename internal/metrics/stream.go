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
	// StreamSubscribers is the number of live MJPEG subscribers per device.
	StreamSubscribers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "camvisor_stream_subscribers",
		Help: "Number of live stream subscribers per device",
	}, []string{"device"})

	// DroppedFrames counts frames dropped because a subscriber queue was full.
	DroppedFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camvisor_stream_dropped_frames_total",
		Help: "Total number of frames dropped for slow subscribers",
	}, []string{"device"})

	// SnapshotRequests counts snapshot reads by how they were answered.
	SnapshotRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camvisor_snapshot_requests_total",
		Help: "Total number of snapshot reads by result (refresh, cached, placeholder)",
	}, []string{"result"})

	// ManifestWait tracks how long manifest requests waited for the first segment.
	ManifestWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "camvisor_manifest_wait_seconds",
		Help:    "Time a manifest request waited for the first segment",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 13},
	}, []string{"format", "result"})

	// IngestRejected counts push requests refused by the allowlist.
	IngestRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camvisor_ingest_rejected_total",
		Help: "Total number of rejected push ingest requests",
	}, []string{"reason"})
)

// ObserveManifestWait records a manifest wait.
func ObserveManifestWait(format, result string, d time.Duration) {
	ManifestWait.WithLabelValues(format, result).Observe(d.Seconds())
}
