// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ManuGH/camvisor/internal/config"
)

const testConfig = `
logLevel: debug
supervisor:
  connectInterval: 45s
notify:
  redisAddr: 127.0.0.1:6379
  redisPassword: hunter2
devices:
  - id: front
    address: 192.168.1.20
    user: admin
    password: secret
  - id: yard
    address: 192.168.1.21
`

func writeTestConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestConfigValidate(t *testing.T) {
	var stdout, stderr bytes.Buffer
	path := writeTestConfig(t, testConfig)

	code := runConfig([]string{"validate", "-f", path}, &stdout, &stderr)
	assert.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "is valid (2 devices)")
}

func TestConfigValidateReportsErrors(t *testing.T) {
	var stdout, stderr bytes.Buffer
	path := writeTestConfig(t, "devices:\n  - id: a\n  - id: a\n")

	code := runConfig([]string{"validate", "--file", path}, &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "duplicates devices[0]")
}

func TestConfigDumpRedactsSecrets(t *testing.T) {
	path := writeTestConfig(t, testConfig)

	t.Run("yaml", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		require.Equal(t, 0, runConfig([]string{"dump", "-f", path}, &stdout, &stderr), stderr.String())
		assert.NotContains(t, stdout.String(), "secret")
		assert.NotContains(t, stdout.String(), "hunter2")

		var got config.AppConfig
		require.NoError(t, yaml.Unmarshal(stdout.Bytes(), &got))
		require.Len(t, got.Devices, 2)
		assert.Equal(t, redacted, got.Devices[0].Password)
		assert.Empty(t, got.Devices[1].Password, "empty secrets stay empty")
		assert.Equal(t, redacted, got.Notify.RedisPassword)
		assert.Equal(t, 45*time.Second, got.Supervisor.ConnectInterval)
	})

	t.Run("json", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		require.Equal(t, 0, runConfig([]string{"dump", "-f", path, "--format=json"}, &stdout, &stderr), stderr.String())
		var got config.AppConfig
		require.NoError(t, json.Unmarshal(stdout.Bytes(), &got))
		assert.Equal(t, redacted, got.Devices[0].Password)
	})

	t.Run("unknown format", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		assert.Equal(t, 2, runConfig([]string{"dump", "-f", path, "--format=toml"}, &stdout, &stderr))
	})
}

func TestConfigUnknownSubcommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 2, runConfig([]string{"edit"}, &stdout, &stderr))
	assert.True(t, strings.HasPrefix(stderr.String(), "Unknown subcommand: edit"))
}

func TestRedactSecretsKeepsCallerDevices(t *testing.T) {
	devices := []config.DeviceConfig{{ID: "front", Password: "secret"}}
	cfg := config.AppConfig{Devices: devices}
	redactSecrets(&cfg)
	assert.Equal(t, redacted, cfg.Devices[0].Password)
	assert.Equal(t, "secret", devices[0].Password)
}

func TestHealthcheckProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/readyz" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	addr := strings.TrimPrefix(srv.URL, "http://")

	assert.NoError(t, probe(healthURL(addr, "live"), time.Second))
	err := probe(healthURL(addr, "ready"), time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}
