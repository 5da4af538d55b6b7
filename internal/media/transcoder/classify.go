// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transcoder

import (
	"strings"

	"github.com/ManuGH/camvisor/internal/camera"
)

// Failure kinds used as metric labels and in ProcessFailure reasons.
const (
	KindMissingInput = "missing_input"
	KindGraph        = "graph"
	KindAuth         = "auth"
	KindRefused      = "refused"
	KindTimeout      = "timeout"
	KindExit         = "exit"
	KindStalled      = "stalled"
)

type linePattern struct {
	needle string
	kind   string
}

// Matched against the lowercased line, first hit wins.
var fatalPatterns = []linePattern{
	{"401 unauthorized", KindAuth},
	{"403 forbidden", KindAuth},
	{"no such file or directory", KindMissingInput},
	{"could not run graph", KindGraph},
	{"connection refused", KindRefused},
	{"connection timed out", KindTimeout},
}

// ClassifyLine inspects one line of transcoder output and returns the failure
// it indicates, or nil for ordinary progress and log lines. Credential
// rejections surface as *camera.AuthenticationError so the supervisor can move
// the device to REQUIRE_AUTH.
func ClassifyLine(role camera.Role, line string) error {
	kind := classifyKind(line)
	if kind == "" {
		return nil
	}
	failure := &camera.ProcessFailure{Role: role, Reason: kind + ": " + strings.TrimSpace(line)}
	switch kind {
	case KindAuth:
		return &camera.AuthenticationError{Reason: strings.TrimSpace(line), Err: failure}
	case KindRefused, KindTimeout:
		return &camera.TransientNetworkError{Reason: strings.TrimSpace(line), Err: failure}
	default:
		return failure
	}
}

func classifyKind(line string) string {
	if line == "" {
		return ""
	}
	lower := strings.ToLower(line)
	for _, p := range fatalPatterns {
		if strings.Contains(lower, p.needle) {
			return p.kind
		}
	}
	return ""
}

// isProgress reports ffmpeg stats lines.
func isProgress(line string) bool {
	return strings.Contains(line, "frame=") || strings.Contains(line, "size=") || strings.Contains(line, "time=")
}
