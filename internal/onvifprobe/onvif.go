// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package onvifprobe provides the "onvif" camera brand: connectivity is
// checked with GetDeviceInformation and the RTSP url is resolved from the
// first media profile.
package onvifprobe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gowvp/onvif"
	devicemodel "github.com/gowvp/onvif/device"
	m "github.com/gowvp/onvif/media"
	sdkdevice "github.com/gowvp/onvif/sdk/device"
	sdkmedia "github.com/gowvp/onvif/sdk/media"
	xsdonvif "github.com/gowvp/onvif/xsd/onvif"
	"github.com/rs/zerolog"

	"github.com/ManuGH/camvisor/internal/camera"
	"github.com/ManuGH/camvisor/internal/log"
)

// Brand is the registry name of ONVIF devices.
const Brand = "onvif"

const (
	defaultPort    = 80
	defaultTimeout = 3 * time.Second
)

// DeviceInfo is what GetDeviceInformation reports.
type DeviceInfo struct {
	Manufacturer string
	Model        string
	Firmware     string
}

// Client keeps one ONVIF connection per device id.
type Client struct {
	http   *http.Client
	logger zerolog.Logger

	mu    sync.Mutex
	conns map[string]*onvif.Device
	infos map[string]DeviceInfo
}

// NewClient returns a client. A nil httpClient gets a 3s timeout.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		cli := *http.DefaultClient
		cli.Timeout = defaultTimeout
		httpClient = &cli
	}
	return &Client{
		http:   httpClient,
		logger: log.WithComponent("onvif"),
		conns:  make(map[string]*onvif.Device),
		infos:  make(map[string]DeviceInfo),
	}
}

// Register adds the onvif brand to reg.
func Register(reg *camera.Registry, c *Client) {
	reg.Register(Brand, c.bind)
}

func (c *Client) bind(d *camera.Device) (camera.Handler, error) {
	if d.Address == "" {
		return nil, camera.ConfigErrorf("onvif device %s has no address", d.ID)
	}
	d.Probe = c.Probe
	d.Ping = c.Ping
	d.Teardown = c.Teardown
	if d.ResolveURLs == nil {
		d.ResolveURLs = c.ResolveURLs
	}
	return &Handler{client: c, deviceID: d.ID}, nil
}

// Xaddr is the host:port the device's ONVIF service listens on.
func Xaddr(d *camera.Device) string {
	if _, _, err := net.SplitHostPort(d.Address); err == nil {
		return d.Address
	}
	port := defaultPort
	switch {
	case d.ONVIFPort > 0:
		port = d.ONVIFPort
	case d.HTTPPort > 0:
		port = d.HTTPPort
	}
	return net.JoinHostPort(d.Address, strconv.Itoa(port))
}

// Probe opens a fresh connection and reads the device information.
func (c *Client) Probe(ctx context.Context, d *camera.Device) error {
	c.drop(d.ID)
	dev, err := c.connect(d)
	if err != nil {
		return err
	}
	return c.readInfo(ctx, d, dev)
}

// Ping reads the device information over the cached connection.
func (c *Client) Ping(ctx context.Context, d *camera.Device) error {
	c.mu.Lock()
	dev := c.conns[d.ID]
	c.mu.Unlock()
	if dev == nil {
		var err error
		if dev, err = c.connect(d); err != nil {
			return err
		}
	}
	return c.readInfo(ctx, d, dev)
}

// Teardown forgets the cached connection.
func (c *Client) Teardown(_ context.Context, d *camera.Device) error {
	c.drop(d.ID)
	return nil
}

// Info returns the last device information read for id.
func (c *Client) Info(id string) (DeviceInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.infos[id]
	return info, ok
}

// ResolveURLs asks the first media profile for its RTSP url. Configured
// urls take precedence over discovered ones.
func (c *Client) ResolveURLs(ctx context.Context, d *camera.Device) (camera.URLSet, error) {
	static, staticErr := camera.StaticURLs(ctx, d)
	if staticErr == nil && static.RTSP != "" {
		return static, nil
	}

	dev, err := c.conn(d)
	if err != nil {
		return camera.URLSet{}, err
	}
	profiles, err := sdkmedia.Call_GetProfiles(ctx, dev, m.GetProfiles{})
	if err != nil {
		return camera.URLSet{}, classify(err)
	}
	if len(profiles.Profiles) == 0 {
		return camera.URLSet{}, camera.ConfigErrorf("onvif device %s has no media profile", d.ID)
	}

	var param m.GetStreamUri
	param.StreamSetup.Transport.Protocol = "RTSP"
	param.StreamSetup.Stream = "RTP-Unicast"
	param.ProfileToken = xsdonvif.ReferenceToken(profiles.Profiles[0].Token)
	resp, err := sdkmedia.Call_GetStreamUri(ctx, dev, param)
	if err != nil {
		return camera.URLSet{}, classify(err)
	}
	uri := string(resp.MediaUri.Uri)
	if uri == "" {
		return camera.URLSet{}, camera.ConfigErrorf("onvif device %s returned an empty stream uri", d.ID)
	}

	set := camera.URLSet{RTSP: uri, MJPEG: camera.UseTranscoder, Snapshot: camera.UseTranscoder}
	if staticErr == nil {
		if static.MJPEG != "" {
			set.MJPEG = static.MJPEG
		}
		if static.Snapshot != "" {
			set.Snapshot = static.Snapshot
		}
	}
	return set, nil
}

func (c *Client) conn(d *camera.Device) (*onvif.Device, error) {
	c.mu.Lock()
	dev := c.conns[d.ID]
	c.mu.Unlock()
	if dev != nil {
		return dev, nil
	}
	return c.connect(d)
}

// connect dials the device. onvif.NewDevice issues GetCapabilities itself
// and reports any failure as "not available".
func (c *Client) connect(d *camera.Device) (*onvif.Device, error) {
	dev, err := onvif.NewDevice(onvif.DeviceParams{
		Xaddr:      Xaddr(d),
		Username:   d.User,
		Password:   d.Password,
		HttpClient: c.http,
	})
	if err != nil {
		return nil, classify(err)
	}
	c.mu.Lock()
	c.conns[d.ID] = dev
	c.mu.Unlock()
	return dev, nil
}

func (c *Client) readInfo(ctx context.Context, d *camera.Device, dev *onvif.Device) error {
	resp, err := sdkdevice.Call_GetDeviceInformation(ctx, dev, devicemodel.GetDeviceInformation{})
	if err != nil {
		return classify(err)
	}
	info := DeviceInfo{
		Manufacturer: resp.Manufacturer,
		Model:        resp.Model,
		Firmware:     resp.FirmwareVersion,
	}
	c.mu.Lock()
	prev, known := c.infos[d.ID]
	c.infos[d.ID] = info
	c.mu.Unlock()
	if !known || prev != info {
		c.logger.Debug().
			Str(log.FieldDeviceID, d.ID).
			Str("manufacturer", info.Manufacturer).
			Str("model", info.Model).
			Str("firmware", info.Firmware).
			Msg("onvif device information")
	}
	return nil
}

func (c *Client) drop(id string) {
	c.mu.Lock()
	delete(c.conns, id)
	c.mu.Unlock()
}

var authMarkers = []string{"status 401", "unauthorized", "notauthorized", "not authorized"}

// classify maps an ONVIF call failure onto the camera error taxonomy. SOAP
// faults only carry text, so authentication is detected by marker strings.
func classify(err error) error {
	if err == nil {
		return nil
	}
	lower := strings.ToLower(err.Error())
	for _, marker := range authMarkers {
		if strings.Contains(lower, marker) {
			return &camera.AuthenticationError{Reason: "onvif credentials rejected", Err: err}
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() || errors.Is(err, context.DeadlineExceeded) {
		return &camera.TransientNetworkError{Reason: "Connection timeout", Err: err}
	}
	return &camera.TransientNetworkError{Reason: "onvif request failed", Err: err}
}

// Handler is the vendor handler for onvif devices.
type Handler struct {
	client   *Client
	deviceID string
}

func (h *Handler) Brand() string { return Brand }

// Reboot restarts the device.
func (h *Handler) Reboot(ctx context.Context) error {
	h.client.mu.Lock()
	dev := h.client.conns[h.deviceID]
	h.client.mu.Unlock()
	if dev == nil {
		return camera.ErrNotStarted
	}
	if _, err := sdkdevice.Call_SystemReboot(ctx, dev, devicemodel.SystemReboot{}); err != nil {
		return fmt.Errorf("onvif reboot: %w", classify(err))
	}
	return nil
}
