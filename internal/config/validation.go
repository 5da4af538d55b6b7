// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"
	"time"
)

var (
	storeBackends = []string{"memory", "badger", "sqlite"}
	exporters     = []string{"grpc", "http", "noop"}
	logLevels     = []string{"trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled"}
)

// validator collects every problem so one run reports them all.
type validator struct {
	errs []error
}

func (v *validator) addf(format string, args ...any) {
	v.errs = append(v.errs, fmt.Errorf(format, args...))
}

func (v *validator) nonNegative(field string, d time.Duration) {
	if d < 0 {
		v.addf("%s must not be negative (got %s)", field, d)
	}
}

func (v *validator) minInt(field string, value, lowest int) {
	if value < lowest {
		v.addf("%s must be >= %d (got %d)", field, lowest, value)
	}
}

func (v *validator) port(field string, value int) {
	if value < 0 || value > 65535 {
		v.addf("%s must be a port between 0 and 65535 (got %d)", field, value)
	}
}

func (v *validator) oneOf(field, value string, allowed []string) {
	if !slices.Contains(allowed, value) {
		v.addf("%s %q is not one of %s", field, value, strings.Join(allowed, ", "))
	}
}

func (v *validator) err() error {
	if len(v.errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(v.errs...))
}

// Validate checks a resolved configuration.
func Validate(cfg AppConfig) error {
	v := &validator{}

	v.oneOf("logLevel", strings.ToLower(cfg.LogLevel), logLevels)

	s := cfg.Supervisor
	v.nonNegative("supervisor.connectInterval", s.ConnectInterval)
	v.nonNegative("supervisor.connectDelay", s.ConnectDelay)
	v.nonNegative("supervisor.healthInterval", s.HealthInterval)
	v.nonNegative("supervisor.healthDelay", s.HealthDelay)
	v.nonNegative("supervisor.snapshotMinRefresh", s.SnapshotMinRefresh)
	v.minInt("supervisor.maxPingErrors", s.MaxPingErrors, 0)
	v.minInt("supervisor.channelPruneThreshold", s.ChannelPruneThreshold, 0)
	v.minInt("supervisor.subscriberQueueSize", s.SubscriberQueueSize, 0)

	m := cfg.Media
	v.nonNegative("media.stopGrace", m.StopGrace)
	v.nonNegative("media.aliveWindow", m.AliveWindow)
	v.nonNegative("media.manifestWait", m.ManifestWait)
	v.nonNegative("media.startTimeout", m.StartTimeout)
	v.nonNegative("media.stallTimeout", m.StallTimeout)
	// -1 keeps a role running forever.
	v.minInt("media.defaultKeepAlive", m.DefaultKeepAlive, -1)
	v.minInt("media.segmentSeconds", m.SegmentSeconds, 0)
	v.minInt("media.hlsListSize", m.HLSListSize, 0)

	srv := cfg.Server
	v.nonNegative("server.idleWriteTimeout", srv.IdleWriteTimeout)
	v.minInt("server.requestsPerMinute", srv.RequestsPerMinute, 0)
	v.minInt("server.maxConnections", srv.MaxConnections, 0)
	v.minInt("server.maxClipSeconds", srv.MaxClipSeconds, 0)
	for _, entry := range srv.PushAllowlist {
		entry = strings.TrimSpace(entry)
		if entry == "" || net.ParseIP(entry) != nil {
			continue
		}
		if _, _, err := net.ParseCIDR(entry); err != nil {
			v.addf("server.pushAllowlist entry %q is neither an IP nor a CIDR", entry)
		}
	}

	v.oneOf("store.backend", cfg.Store.Backend, storeBackends)
	v.minInt("notify.redisDb", cfg.Notify.RedisDB, 0)
	v.nonNegative("notify.stateTtl", cfg.Notify.StateTTL)

	if cfg.Telemetry.Enabled {
		v.oneOf("telemetry.exporter", cfg.Telemetry.Exporter, exporters)
	}
	if r := cfg.Telemetry.SampleRatio; r < 0 || r > 1 {
		v.addf("telemetry.sampleRatio must be within [0, 1] (got %g)", r)
	}

	seen := make(map[string]int, len(cfg.Devices))
	for i, d := range cfg.Devices {
		field := fmt.Sprintf("devices[%d]", i)
		id := strings.TrimSpace(d.ID)
		if id == "" {
			v.addf("%s.id is required", field)
		} else if first, dup := seen[id]; dup {
			v.addf("%s.id %q duplicates devices[%d]", field, id, first)
		} else {
			seen[id] = i
		}
		if strings.ContainsAny(id, `/\ `) {
			v.addf("%s.id %q must not contain slashes or spaces", field, id)
		}
		v.port(field+".httpPort", d.HTTPPort)
		v.port(field+".rtspPort", d.RTSPPort)
		v.port(field+".onvifPort", d.ONVIFPort)
		v.minInt(field+".motionThreshold", d.MotionThreshold, 0)
		v.minInt(field+".audioThreshold", d.AudioThreshold, 0)
	}

	return v.err()
}
