// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	disabled := false
	tests := []struct {
		name    string
		mutate  func(*AppConfig)
		wantErr string
	}{
		{"defaults", func(*AppConfig) {}, ""},
		{"negative connect interval", func(c *AppConfig) { c.Supervisor.ConnectInterval = -time.Second }, "supervisor.connectInterval"},
		{"negative stop grace", func(c *AppConfig) { c.Media.StopGrace = -1 }, "media.stopGrace"},
		{"negative idle timeout", func(c *AppConfig) { c.Server.IdleWriteTimeout = -1 }, "server.idleWriteTimeout"},
		{"forever keepalive", func(c *AppConfig) { c.Media.DefaultKeepAlive = -1 }, ""},
		{"keepalive below forever", func(c *AppConfig) { c.Media.DefaultKeepAlive = -2 }, "media.defaultKeepAlive"},
		{"unknown backend", func(c *AppConfig) { c.Store.Backend = "bolt" }, "store.backend"},
		{"unknown log level", func(c *AppConfig) { c.LogLevel = "loud" }, "logLevel"},
		{"bad allowlist", func(c *AppConfig) { c.Server.PushAllowlist = []string{"lan"} }, "pushAllowlist"},
		{"exporter ignored while disabled", func(c *AppConfig) { c.Telemetry.Exporter = "zipkin" }, ""},
		{"unknown exporter", func(c *AppConfig) {
			c.Telemetry.Enabled = true
			c.Telemetry.Exporter = "zipkin"
		}, "telemetry.exporter"},
		{"sample ratio", func(c *AppConfig) { c.Telemetry.SampleRatio = 1.5 }, "sampleRatio"},
		{"device ok", func(c *AppConfig) {
			c.Devices = []DeviceConfig{{ID: "a", RTSPPort: 554}, {ID: "b", Enabled: &disabled}}
		}, ""},
		{"missing id", func(c *AppConfig) { c.Devices = []DeviceConfig{{Name: "x"}} }, "devices[0].id is required"},
		{"duplicate id", func(c *AppConfig) { c.Devices = []DeviceConfig{{ID: "a"}, {ID: "a"}} }, "duplicates devices[0]"},
		{"id with slash", func(c *AppConfig) { c.Devices = []DeviceConfig{{ID: "a/b"}} }, "must not contain"},
		{"bad port", func(c *AppConfig) { c.Devices = []DeviceConfig{{ID: "a", HTTPPort: 70000}} }, "devices[0].httpPort"},
		{"negative threshold", func(c *AppConfig) { c.Devices = []DeviceConfig{{ID: "a", MotionThreshold: -1}} }, "motionThreshold"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidConfig)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Supervisor.HealthInterval = -1
	cfg.Store.Backend = "etcd"
	err := Validate(cfg)
	require.Error(t, err)
	assert.ErrorContains(t, err, "supervisor.healthInterval")
	assert.ErrorContains(t, err, "store.backend")
}

func TestDiff(t *testing.T) {
	old := Defaults()
	old.Devices = []DeviceConfig{{ID: "a"}, {ID: "b", Address: "10.0.0.2"}, {ID: "c"}}
	next := Defaults()
	next.Devices = []DeviceConfig{{ID: "a"}, {ID: "b", Address: "10.0.0.3"}, {ID: "d"}}

	s := Diff(old, next)
	assert.Equal(t, []string{"d"}, s.Added)
	assert.Equal(t, []string{"c"}, s.Removed)
	assert.Equal(t, []string{"b"}, s.Changed)
	assert.False(t, s.RestartRequired)

	next.Server.Listen = ":9999"
	assert.True(t, Diff(old, next).RestartRequired)
	assert.True(t, Diff(old, old).Empty())
}
