// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ManuGH/camvisor/internal/camera"
)

// ReadyFlag is unhealthy until MarkReady is called.
type ReadyFlag struct {
	name  string
	ready atomic.Bool
}

func NewReadyFlag(name string) *ReadyFlag { return &ReadyFlag{name: name} }

func (f *ReadyFlag) MarkReady()    { f.ready.Store(true) }
func (f *ReadyFlag) MarkNotReady() { f.ready.Store(false) }
func (f *ReadyFlag) Name() string  { return f.name }
func (f *ReadyFlag) IsReady() bool { return f.ready.Load() }

func (f *ReadyFlag) Check(context.Context) CheckResult {
	if f.ready.Load() {
		return CheckResult{Status: StatusHealthy, Message: "started"}
	}
	return CheckResult{Status: StatusUnhealthy, Message: "starting"}
}

// DeviceChecker summarizes device statuses. Cameras being unreachable never
// makes the daemon unready; devices in ERROR or REQUIRE_AUTH degrade it.
type DeviceChecker struct {
	statuses func() map[string]camera.Status
}

// NewDeviceChecker reads the current statuses on every check.
func NewDeviceChecker(statuses func() map[string]camera.Status) *DeviceChecker {
	return &DeviceChecker{statuses: statuses}
}

func (c *DeviceChecker) Name() string { return "devices" }

func (c *DeviceChecker) Check(context.Context) CheckResult {
	statuses := c.statuses()
	counts := make(map[string]any, len(camera.Statuses))
	var failing []string
	for _, id := range sortedKeys(statuses) {
		st := statuses[id]
		n, _ := counts[string(st)].(int)
		counts[string(st)] = n + 1
		if st.Surfaced() {
			failing = append(failing, id+"="+string(st))
		}
	}
	if len(failing) > 0 {
		return CheckResult{
			Status:  StatusDegraded,
			Message: "devices need attention: " + strings.Join(failing, ", "),
			Details: counts,
		}
	}
	return CheckResult{
		Status:  StatusHealthy,
		Message: fmt.Sprintf("%d devices", len(statuses)),
		Details: counts,
	}
}

// PingChecker wraps a dependency ping such as the Redis notifier or the
// state store.
type PingChecker struct {
	name     string
	ping     func(ctx context.Context) error
	timeout  time.Duration
	critical bool
}

// NewPingChecker builds a checker. A failing critical dependency is
// unhealthy, any other is degraded.
func NewPingChecker(name string, critical bool, ping func(ctx context.Context) error) *PingChecker {
	return &PingChecker{name: name, ping: ping, timeout: 2 * time.Second, critical: critical}
}

func (c *PingChecker) Name() string { return c.name }

func (c *PingChecker) Check(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.ping(ctx); err != nil {
		status := StatusDegraded
		if c.critical {
			status = StatusUnhealthy
		}
		return CheckResult{Status: status, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy}
}
