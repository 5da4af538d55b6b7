// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHolder(t *testing.T, body string) (*Holder, string) {
	t.Helper()
	path := writeConfig(t, t.TempDir(), body)
	loader := NewLoader(path, "test")
	initial, err := loader.Load()
	require.NoError(t, err)
	h := NewHolder(initial, loader)
	h.debounce = 20 * time.Millisecond
	return h, path
}

func TestHolderReload(t *testing.T) {
	h, path := newTestHolder(t, "devices:\n  - id: a\n")
	updates := make(chan AppConfig, 1)
	h.RegisterListener(updates)

	require.NoError(t, os.WriteFile(path, []byte("devices:\n  - id: a\n  - id: b\n"), 0o600))
	require.NoError(t, h.Reload(context.Background()))
	assert.Len(t, h.Get().Devices, 2)

	select {
	case cfg := <-updates:
		assert.Len(t, cfg.Devices, 2)
	default:
		t.Fatal("listener was not notified")
	}
}

func TestHolderReloadKeepsConfigOnError(t *testing.T) {
	h, path := newTestHolder(t, "devices:\n  - id: a\n")
	updates := make(chan AppConfig, 1)
	h.RegisterListener(updates)

	require.NoError(t, os.WriteFile(path, []byte("devices:\n  - id: a\n  - id: a\n"), 0o600))
	require.Error(t, h.Reload(context.Background()))
	assert.Len(t, h.Get().Devices, 1)
	assert.Empty(t, updates)
}

func TestHolderListenerNeverBlocks(t *testing.T) {
	h, _ := newTestHolder(t, "logLevel: info\n")
	full := make(chan AppConfig)
	h.RegisterListener(full)
	done := make(chan error, 1)
	go func() { done <- h.Reload(context.Background()) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("reload blocked on a listener")
	}
}

func TestHolderWatcherReloadsOnWrite(t *testing.T) {
	h, path := newTestHolder(t, "devices:\n  - id: a\n")
	updates := make(chan AppConfig, 4)
	h.RegisterListener(updates)

	require.NoError(t, h.StartWatcher(context.Background()))
	defer h.Stop()

	require.NoError(t, os.WriteFile(path, []byte("devices:\n  - id: a\n  - id: b\n  - id: c\n"), 0o600))
	select {
	case cfg := <-updates:
		assert.Len(t, cfg.Devices, 3)
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not reload")
	}
}

func TestHolderWatcherIgnoresOtherFiles(t *testing.T) {
	h, path := newTestHolder(t, "logLevel: info\n")
	updates := make(chan AppConfig, 1)
	h.RegisterListener(updates)

	require.NoError(t, h.StartWatcher(context.Background()))
	defer h.Stop()

	require.NoError(t, os.WriteFile(path+".bak", []byte("logLevel: debug\n"), 0o600))
	select {
	case <-updates:
		t.Fatal("unrelated file triggered a reload")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestHolderWithoutFile(t *testing.T) {
	h := NewHolder(Defaults(), NewLoader("", "test"))
	require.NoError(t, h.StartWatcher(context.Background()))
	h.Stop()
}
