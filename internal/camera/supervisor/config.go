// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"time"

	"github.com/ManuGH/camvisor/internal/camera/channels"
	"github.com/ManuGH/camvisor/internal/camera/snapshot"
	"github.com/ManuGH/camvisor/internal/camera/streamhub"
)

// Defaults of Config.
const (
	DefaultConnectInterval  = 30 * time.Second
	DefaultConnectDelay     = time.Second
	DefaultHealthInterval   = 8 * time.Second
	DefaultHealthDelay      = 8 * time.Second
	DefaultMaxPingErrors    = 10
	DefaultLastSeenThrottle = time.Second
	DefaultActionsTTL       = 60 * time.Second
	DefaultJobTimeout       = 25 * time.Second
	DefaultProbeTimeout     = 10 * time.Second

	// ConnectionTimeoutReason is reported when the health ping fails.
	ConnectionTimeoutReason = "Connection Timeout: Check your IP and PORT are correct and the camera can be reached."
)

// Config holds the timing and threshold settings of every supervisor.
type Config struct {
	ConnectInterval time.Duration
	ConnectDelay    time.Duration
	HealthInterval  time.Duration
	HealthDelay     time.Duration
	// MaxPingErrors is the number of tolerated consecutive communication
	// errors; the next one moves the device to ERROR.
	MaxPingErrors         int
	ChannelPruneThreshold int
	SnapshotMinRefresh    time.Duration
	SubscriberQueueSize   int
	LastSeenThrottle      time.Duration
	ActionsTTL            time.Duration
	JobTimeout            time.Duration
	ProbeTimeout          time.Duration
	// SnapshotDir persists the last snapshot of every device when set.
	SnapshotDir string
}

// WithDefaults fills zero values.
func (c Config) WithDefaults() Config {
	if c.ConnectInterval <= 0 {
		c.ConnectInterval = DefaultConnectInterval
	}
	if c.ConnectDelay < 0 {
		c.ConnectDelay = 0
	} else if c.ConnectDelay == 0 {
		c.ConnectDelay = DefaultConnectDelay
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = DefaultHealthInterval
	}
	if c.HealthDelay <= 0 {
		c.HealthDelay = DefaultHealthDelay
	}
	if c.MaxPingErrors <= 0 {
		c.MaxPingErrors = DefaultMaxPingErrors
	}
	if c.ChannelPruneThreshold <= 0 {
		c.ChannelPruneThreshold = channels.DefaultPruneThreshold
	}
	if c.SnapshotMinRefresh <= 0 {
		c.SnapshotMinRefresh = snapshot.DefaultMinRefresh
	}
	if c.SubscriberQueueSize <= 0 {
		c.SubscriberQueueSize = streamhub.DefaultQueueSize
	}
	if c.LastSeenThrottle <= 0 {
		c.LastSeenThrottle = DefaultLastSeenThrottle
	}
	if c.ActionsTTL <= 0 {
		c.ActionsTTL = DefaultActionsTTL
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = DefaultJobTimeout
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	return c
}
