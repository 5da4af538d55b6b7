// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package camera

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// UseTranscoder is the URI sentinel meaning "produced by a local transcoder role".
const UseTranscoder = "ffmpeg"

// URLSet is the resolved set of media URLs of a device.
type URLSet struct {
	RTSP     string
	MJPEG    string
	Snapshot string
}

// Empty reports whether no URL was resolved.
func (u URLSet) Empty() bool {
	return u.RTSP == "" && u.MJPEG == "" && u.Snapshot == ""
}

// MJPEGFromTranscoder reports whether the live preview is produced locally.
func (u URLSet) MJPEGFromTranscoder() bool { return u.MJPEG == UseTranscoder }

// SnapshotFromTranscoder reports whether snapshots are produced locally.
func (u URLSet) SnapshotFromTranscoder() bool { return u.Snapshot == UseTranscoder }

// SnapshotInput picks the input a one-shot capture should read from, falling
// back to the RTSP stream when the snapshot URI is produced locally.
func (u URLSet) SnapshotInput() (string, error) {
	if u.Snapshot != "" && u.Snapshot != UseTranscoder {
		return u.Snapshot, nil
	}
	if u.RTSP != "" && u.RTSP != UseTranscoder {
		return u.RTSP, nil
	}
	return "", ConfigErrorf("unable to capture without snapshot or rtsp url")
}

// StaticURLs resolves URLs directly from the configured device fields.
func StaticURLs(_ context.Context, d *Device) (URLSet, error) {
	set := URLSet{
		RTSP:     expand(d, d.RTSPURI, "rtsp", d.RTSPPort),
		MJPEG:    expand(d, d.MJPEGURI, "http", d.HTTPPort),
		Snapshot: expand(d, d.SnapshotURI, "http", d.HTTPPort),
	}
	if set.RTSP == "" && set.MJPEG == "" && set.Snapshot == "" {
		return URLSet{}, ConfigErrorf("device %s has no media url configured", d.ID)
	}
	if set.MJPEG == "" {
		set.MJPEG = UseTranscoder
	}
	if set.Snapshot == "" {
		set.Snapshot = UseTranscoder
	}
	return set, nil
}

// expand turns a path-only URI into an absolute URL on the device address.
func expand(d *Device, uri, scheme string, port int) string {
	switch {
	case uri == "" || uri == UseTranscoder:
		return uri
	case strings.Contains(uri, "://"):
		return uri
	case d.Address == "":
		return uri
	}
	host := d.Address
	if port > 0 {
		host = fmt.Sprintf("%s:%d", d.Address, port)
	}
	return scheme + "://" + host + "/" + strings.TrimPrefix(uri, "/")
}

// InjectCredentials inserts user:password@ into an rtsp URL that has none.
// Other inputs are returned unchanged.
func InjectCredentials(input, user, password string) string {
	if password == "" || strings.Contains(input, "@") || !strings.HasPrefix(input, "rtsp://") {
		return input
	}
	creds := url.UserPassword(user, password).String()
	return "rtsp://" + creds + "@" + strings.TrimPrefix(input, "rtsp://")
}

// RedactCredentials removes user info from a URL for logging.
func RedactCredentials(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	u.User = url.User("***")
	return u.String()
}
