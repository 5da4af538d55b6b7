// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ManuGH/camvisor/internal/camera"
)

// maxSnapshotBytes bounds a fetched vendor snapshot.
const maxSnapshotBytes = 16 << 20

// DialProbe is the connectivity check used when a device has no Probe or
// Ping hook: a TCP connect to the device's HTTP (or RTSP) port.
func DialProbe(ctx context.Context, d *camera.Device) error {
	addr, err := dialAddress(d)
	if err != nil {
		return err
	}
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return &camera.TransientNetworkError{Reason: ConnectionTimeoutReason, Err: err}
	}
	return conn.Close()
}

func dialAddress(d *camera.Device) (string, error) {
	if d.Address == "" {
		return "", camera.ConfigErrorf("device %s has no address", d.ID)
	}
	if _, _, err := net.SplitHostPort(d.Address); err == nil {
		return d.Address, nil
	}
	port := 80
	switch {
	case d.HTTPPort > 0:
		port = d.HTTPPort
	case d.RTSPPort > 0:
		port = d.RTSPPort
	}
	return net.JoinHostPort(d.Address, strconv.Itoa(port)), nil
}

// FetchSnapshot downloads a JPEG from a vendor snapshot URL. Credentials are
// sent as basic auth unless the URL carries its own. 401 and 403 map to an
// authentication error.
func FetchSnapshot(ctx context.Context, client *http.Client, rawURL, user, password string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, camera.ConfigErrorf("invalid snapshot url: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, camera.ConfigErrorf("invalid snapshot url: %v", err)
	}
	if u.User == nil && user != "" {
		req.SetBasicAuth(user, password)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &camera.TransientNetworkError{Reason: "snapshot request failed", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, camera.AuthErrorf("snapshot url rejected credentials (%d)", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, camera.NetworkErrorf("snapshot url returned %d", resp.StatusCode)
	}

	img, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return nil, &camera.TransientNetworkError{Reason: "snapshot read failed", Err: err}
	}
	if len(img) == 0 {
		return nil, fmt.Errorf("snapshot url returned an empty body")
	}
	return img, nil
}
