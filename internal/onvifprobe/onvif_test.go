// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package onvifprobe

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/camvisor/internal/camera"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want camera.Status
	}{
		{"soap fault", errors.New("ter:NotAuthorized Sender not Authorized"), camera.StatusRequireAuth},
		{"http 401", errors.New("unexpected status 401"), camera.StatusRequireAuth},
		{"timeout", &net.OpError{Op: "dial", Err: timeoutErr{}}, camera.StatusOffline},
		{"deadline", context.DeadlineExceeded, camera.StatusOffline},
		{"unreachable", errors.New("camera is not available at 10.0.0.9:80"), camera.StatusOffline},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(tt.err)
			assert.Equal(t, tt.want, camera.Classify(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
	assert.NoError(t, classify(nil))
}

func TestXaddr(t *testing.T) {
	assert.Equal(t, "10.0.0.5:80", Xaddr(&camera.Device{Address: "10.0.0.5"}))
	assert.Equal(t, "10.0.0.5:8000", Xaddr(&camera.Device{Address: "10.0.0.5", HTTPPort: 8000}))
	assert.Equal(t, "10.0.0.5:2020", Xaddr(&camera.Device{Address: "10.0.0.5", HTTPPort: 8000, ONVIFPort: 2020}))
	assert.Equal(t, "cam.local:8899", Xaddr(&camera.Device{Address: "cam.local:8899", ONVIFPort: 2020}))
}

func TestRegisterInstallsHooks(t *testing.T) {
	reg := camera.NewRegistry()
	c := NewClient(nil)
	Register(reg, c)
	assert.Contains(t, reg.Brands(), Brand)

	d := &camera.Device{ID: "hall", Brand: Brand, Address: "10.0.0.7"}
	require.NoError(t, reg.Bind(d))
	assert.Equal(t, Brand, d.Handler.Brand())
	assert.NotNil(t, d.Probe)
	assert.NotNil(t, d.Ping)
	assert.NotNil(t, d.Teardown)
	assert.NotNil(t, d.ResolveURLs)

	_, ok := d.Handler.(camera.SupportsReboot)
	assert.True(t, ok)
}

func TestRegisterRejectsMissingAddress(t *testing.T) {
	reg := camera.NewRegistry()
	Register(reg, NewClient(nil))
	err := reg.Bind(&camera.Device{ID: "nowhere", Brand: Brand})
	assert.Equal(t, camera.StatusError, camera.Classify(err))
}

func TestProbeUnreachableDeviceIsOffline(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	c := NewClient(&http.Client{Timeout: time.Second})
	err = c.Probe(context.Background(), &camera.Device{ID: "gone", Address: addr})
	require.Error(t, err)
	assert.Equal(t, camera.StatusOffline, camera.Classify(err))

	_, ok := c.Info("gone")
	assert.False(t, ok)
}

func TestResolveURLsPrefersConfiguredRTSP(t *testing.T) {
	c := NewClient(nil)
	d := &camera.Device{ID: "door", Address: "10.0.0.8", RTSPURI: "rtsp://10.0.0.8/live"}
	set, err := c.ResolveURLs(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, "rtsp://10.0.0.8/live", set.RTSP)
	assert.True(t, set.SnapshotFromTranscoder())
}

func TestRebootWithoutConnection(t *testing.T) {
	h := &Handler{client: NewClient(nil), deviceID: "x"}
	assert.ErrorIs(t, h.Reboot(context.Background()), camera.ErrNotStarted)
}
