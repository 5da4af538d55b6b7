// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/camvisor/internal/camera"
	"github.com/ManuGH/camvisor/internal/media/orchestrator"
	"github.com/ManuGH/camvisor/internal/notify"
)

func newTestManager(t *testing.T) (*Manager, *notify.Recorder) {
	t.Helper()
	starter := &fakeStarter{}
	orch := orchestrator.New(orchestrator.Config{OutputDir: t.TempDir(), StopGrace: 100 * time.Millisecond}, starter)
	rec := &notify.Recorder{}
	m := NewManager(testConfig(), nil, Deps{
		Orchestrator: orch,
		Scheduler:    NewScheduler(zerolog.Nop()),
		Notifier:     rec,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, m.Shutdown(ctx))
		require.NoError(t, orch.Shutdown(ctx))
		starter.wg.Wait()
	})
	return m, rec
}

func reachable(id string) *camera.Device {
	return &camera.Device{
		ID:        id,
		Name:      id,
		Address:   "127.0.0.1",
		ShouldRun: true,
		RTSPURI:   "rtsp://127.0.0.1/" + id,
		Probe:     func(context.Context, *camera.Device) error { return nil },
		Ping:      func(context.Context, *camera.Device) error { return nil },
	}
}

func TestManagerApplyReconciles(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Apply(ctx, []*camera.Device{reachable("b"), reachable("a")}))
	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID())
	assert.Equal(t, "b", list[1].ID())
	require.Eventually(t, func() bool {
		st := m.Statuses()
		return st["a"].Status == camera.StatusOnline && st["b"].Status == camera.StatusOnline
	}, waitFor, tick)

	a, ok := m.Get("a")
	require.True(t, ok)
	assert.Equal(t, "generic", a.Device().Handler.Brand())

	b, _ := m.Get("b")
	updated := reachable("a")
	updated.Name = "Garage"
	require.NoError(t, m.Apply(ctx, []*camera.Device{updated}))

	assert.Len(t, m.List(), 1)
	same, ok := m.Get("a")
	require.True(t, ok)
	assert.Same(t, a, same)
	assert.Equal(t, "Garage", same.Device().Title())
	assert.False(t, b.Running())
	_, ok = m.Get("b")
	assert.False(t, ok)
}

func TestManagerApplyRejectsBadDevices(t *testing.T) {
	m, _ := newTestManager(t)

	unknown := reachable("x")
	unknown.Brand = "acme"
	err := m.Apply(context.Background(), []*camera.Device{
		reachable("a"),
		reachable("a"),
		{Name: "no id"},
		unknown,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate device id "a"`)
	assert.Contains(t, err.Error(), "device without id")
	assert.Contains(t, err.Error(), `unknown camera brand "acme"`)
	assert.Equal(t, camera.StatusError, camera.Classify(err))

	assert.Len(t, m.List(), 1)
}

func TestManagerRemove(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, m.Apply(ctx, []*camera.Device{reachable("a")}))

	sup, _ := m.Get("a")
	require.NoError(t, m.Remove(ctx, "a"))
	assert.False(t, sup.Running())
	assert.ErrorIs(t, m.Remove(ctx, "a"), camera.ErrNotStarted)
}

func TestManagerShutdownDeactivatesAll(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, m.Apply(ctx, []*camera.Device{reachable("a"), reachable("b"), reachable("c")}))
	sups := m.List()

	require.NoError(t, m.Shutdown(ctx))
	for _, sup := range sups {
		assert.False(t, sup.Running(), sup.ID())
	}
	assert.Empty(t, m.List())
	assert.ErrorIs(t, m.Apply(ctx, []*camera.Device{reachable("d")}), ErrDisposed)
	assert.Empty(t, m.List())
}
