// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package camera holds the device model shared by the supervisor, the media
// orchestrator and the stream server.
package camera

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Hook is a device-specific callback run by the supervisor.
type Hook func(ctx context.Context, d *Device) error

// Device is the read-only description of a camera handed to the supervisor.
// Behavior that differs between vendors is injected through the hook fields
// and the optional Handler capabilities.
type Device struct {
	ID    string
	Name  string
	Brand string

	Address   string
	HTTPPort  int
	RTSPPort  int
	ONVIFPort int
	User      string
	Password  string

	// ShouldRun is false for devices that are configured but disabled.
	ShouldRun     bool
	HasAudio      bool
	SupportsPTZ   bool
	ContinuousPTZ bool

	// Configured URIs. UseTranscoder means the media is produced by a local
	// transcoder role instead of a vendor endpoint.
	RTSPURI     string
	MJPEGURI    string
	SnapshotURI string

	Output OutputOptions

	MotionThreshold int
	AudioThreshold  int

	Handler Handler

	ResolveURLs func(ctx context.Context, d *Device) (URLSet, error)
	Probe       Hook
	OnConnected Hook
	Ping        Hook
	Teardown    Hook
}

// OutputOptions are the static transcoder output arguments per role.
type OutputOptions struct {
	Snapshot string
	MJPEG    string
	HLS      string
	DASH     string
	Gif      string
	Mp4      string
}

// URLHash fingerprints every field that influences resolved URLs and
// transcoder commands.
func (d *Device) URLHash() string {
	h := sha256.New()
	for _, part := range []string{
		d.Address,
		strconv.Itoa(d.HTTPPort),
		strconv.Itoa(d.RTSPPort),
		strconv.Itoa(d.ONVIFPort),
		d.User,
		d.Password,
		d.RTSPURI,
		d.MJPEGURI,
		d.SnapshotURI,
		d.Output.Snapshot,
		d.Output.MJPEG,
		d.Output.HLS,
		d.Output.DASH,
		d.Output.Gif,
		d.Output.Mp4,
		strconv.FormatBool(d.HasAudio),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// FolderName returns a filesystem-safe directory name for the device's media.
func (d *Device) FolderName() string {
	if s := slugify(d.Name); s != "" {
		return s + "-" + slugify(d.ID)
	}
	if s := slugify(d.ID); s != "" {
		return s
	}
	return "device"
}

// Title is the display name used in notifications.
func (d *Device) Title() string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID
}

func slugify(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	dash := false
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
