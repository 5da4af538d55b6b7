// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// DefaultShutdownTimeout bounds the whole shutdown sequence.
const DefaultShutdownTimeout = 30 * time.Second

// MediaServer serves the device media surface on ln until ctx ends.
type MediaServer interface {
	Serve(ctx context.Context, ln net.Listener) error
}

// Deps contains dependencies required by the daemon Manager.
type Deps struct {
	// Logger is the structured logger for the daemon
	Logger zerolog.Logger

	// MediaListen is the stream server address (e.g. ":8089")
	MediaListen string
	MediaServer MediaServer

	// AdminListen serves AdminHandler (health, readiness, metrics); empty disables it
	AdminListen  string
	AdminHandler http.Handler

	ShutdownTimeout time.Duration
}

// Validate checks if the dependencies are valid.
func (d *Deps) Validate() error {
	if d.Logger.GetLevel() == zerolog.Disabled {
		return ErrMissingLogger
	}
	if d.MediaServer == nil {
		return ErrMissingMediaServer
	}
	if d.MediaListen == "" {
		return ErrMissingListenAddr
	}
	return nil
}
