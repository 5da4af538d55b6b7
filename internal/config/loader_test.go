// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
logLevel: debug
dataDir: /var/lib/camvisor
supervisor:
  connectInterval: 45s
  maxPingErrors: 4
media:
  ffmpegBin: /usr/bin/ffmpeg
  defaultKeepAlive: -1
server:
  listen: ":18089"
  pushAllowlist: ["10.0.0.0/8"]
store:
  backend: badger
devices:
  - id: front
    name: Front Door
    address: 192.168.1.20
    rtspPort: 554
    rtspUri: /stream1
    motionThreshold: 40
  - id: garage
    brand: onvif
    address: 192.168.1.21
    enabled: false
`

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "camvisor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := NewLoader("", "v1.2.3").Load()
	require.NoError(t, err)

	assert.Equal(t, "v1.2.3", cfg.Version)
	assert.Equal(t, DefaultConnectInterval, cfg.Supervisor.ConnectInterval)
	assert.Equal(t, DefaultHealthDelay, cfg.Supervisor.HealthDelay)
	assert.Equal(t, DefaultMaxPingErrors, cfg.Supervisor.MaxPingErrors)
	assert.Equal(t, DefaultSubscriberQueue, cfg.Supervisor.SubscriberQueueSize)
	assert.Equal(t, DefaultKeepAlive, cfg.Media.DefaultKeepAlive)
	assert.Equal(t, DefaultIdleWriteTimeout, cfg.Server.IdleWriteTimeout)
	assert.Equal(t, DefaultStoreBackend, cfg.Store.Backend)
	assert.True(t, filepath.IsAbs(cfg.DataDir))
	assert.Equal(t, filepath.Join(cfg.DataDir, "media"), cfg.Media.OutputDir)
	assert.Equal(t, filepath.Join(cfg.DataDir, "logs"), cfg.Media.LogDir)
	assert.Equal(t, cfg.DataDir, cfg.Store.Path)
	assert.Empty(t, cfg.Devices)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), sampleConfig)
	cfg, err := NewLoader(path, "dev").Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 45*time.Second, cfg.Supervisor.ConnectInterval)
	// untouched keys keep their defaults
	assert.Equal(t, DefaultHealthInterval, cfg.Supervisor.HealthInterval)
	assert.Equal(t, 4, cfg.Supervisor.MaxPingErrors)
	assert.Equal(t, -1, cfg.Media.DefaultKeepAlive)
	assert.Equal(t, "/var/lib/camvisor/media", cfg.Media.OutputDir)
	assert.Equal(t, []string{"10.0.0.0/8"}, cfg.Server.PushAllowlist)

	require.Len(t, cfg.Devices, 2)
	want := DeviceConfig{
		ID:              "front",
		Name:            "Front Door",
		Address:         "192.168.1.20",
		RTSPPort:        554,
		RTSPURI:         "/stream1",
		MotionThreshold: 40,
	}
	if diff := cmp.Diff(want, cfg.Devices[0]); diff != "" {
		t.Errorf("device mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, cfg.Devices[0].IsEnabled())
	assert.False(t, cfg.Devices[1].IsEnabled())
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), sampleConfig)
	t.Setenv("CAMVISOR_CONNECT_INTERVAL", "1m")
	t.Setenv("CAMVISOR_STORE_BACKEND", "memory")
	t.Setenv("CAMVISOR_PUSH_ALLOWLIST", "127.0.0.1, 10.1.0.0/16,")
	t.Setenv("CAMVISOR_TELEMETRY_ENABLED", "true")
	t.Setenv("CAMVISOR_TELEMETRY_SAMPLE_RATIO", "0.25")
	t.Setenv("CAMVISOR_MAX_PING_ERRORS", "not-a-number")

	l := NewLoader(path, "dev")
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, time.Minute, cfg.Supervisor.ConnectInterval)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, []string{"127.0.0.1", "10.1.0.0/16"}, cfg.Server.PushAllowlist)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.InDelta(t, 0.25, cfg.Telemetry.SampleRatio, 1e-9)
	// invalid values keep the file value
	assert.Equal(t, 4, cfg.Supervisor.MaxPingErrors)
	assert.Contains(t, l.ConsumedEnvKeys, "CAMVISOR_REDIS_ADDR")
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "supervisor:\n  connectIntervall: 5s\n")
	_, err := NewLoader(path, "dev").Load()
	assert.ErrorIs(t, err, ErrUnknownConfigField)
}

func TestLoadRejectsMultipleDocuments(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "logLevel: info\n---\nlogLevel: debug\n")
	_, err := NewLoader(path, "dev").Load()
	assert.ErrorContains(t, err, "multiple documents")
}

func TestLoadRejectsNonYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camvisor.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))
	_, err := NewLoader(path, "dev").Load()
	assert.ErrorContains(t, err, "only YAML")
}

func TestLoadEmptyFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "")
	cfg, err := NewLoader(path, "dev").Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultListen, cfg.Server.Listen)
}

func TestLoadValidates(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "devices:\n  - id: a\n  - id: a\n")
	_, err := NewLoader(path, "dev").Load()
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
