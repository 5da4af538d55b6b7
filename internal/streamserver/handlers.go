// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package streamserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/camvisor/internal/camera"
	"github.com/ManuGH/camvisor/internal/log"
	"github.com/ManuGH/camvisor/internal/media/orchestrator"
	"github.com/ManuGH/camvisor/internal/metrics"
)

// maxIngestBytes bounds a pushed frame.
const maxIngestBytes = 16 << 20

var contentTypes = map[string]string{
	".m3u8": "application/x-mpegurl",
	".mpd":  "application/dash+xml",
	".gif":  "image/gif",
	".jpg":  "image/jpg",
	".ts":   "video/mp2t",
	".m4s":  "video/iso.segment",
	".mp4":  "video/mp4",
}

// segmentExts are the files served from a device's output directory.
var segmentExts = map[string]bool{".ts": true, ".m4s": true, ".mp4": true}

func (s *Server) device(w http.ResponseWriter, r *http.Request) (Device, bool) {
	id := chi.URLParam(r, "device")
	dev, ok := s.lookup(id)
	if !ok || dev == nil {
		http.Error(w, "unknown device", http.StatusNotFound)
		return nil, false
	}
	return dev, true
}

func (s *Server) handleManifest(format orchestrator.RestreamFormat) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dev, ok := s.device(w, r)
		if !ok {
			return
		}
		path, err := s.ensureManifest(r.Context(), dev, format)
		if err != nil {
			s.fail(w, r, dev, err)
			return
		}
		data, err := os.ReadFile(path) // #nosec G304 -- manifest path comes from the orchestrator
		if err != nil {
			s.fail(w, r, dev, err)
			return
		}
		w.Header().Set("Content-Type", contentTypes[filepath.Ext(path)])
		_, _ = w.Write(data)
	}
}

// ensureManifest (re)starts the restream and waits for a playable
// manifest. Concurrent requests for the same device and format share one
// wait; a client that goes away does not cancel it for the others.
func (s *Server) ensureManifest(ctx context.Context, dev Device, format orchestrator.RestreamFormat) (string, error) {
	key := dev.ID() + "/" + string(format)
	ch := s.flights.DoChan(key, func() (any, error) {
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ManifestWait)
		defer cancel()

		start := time.Now()
		path, err := dev.StartRestream(wctx, format)
		if err == nil {
			err = WaitManifest(wctx, s.logger, path)
		}
		result := "ready"
		switch {
		case errors.Is(err, ErrManifestTimeout):
			result = "timeout"
		case err != nil:
			result = "error"
		}
		metrics.ObserveManifestWait(string(format), result, time.Since(start))
		return path, err
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.device(w, r)
	if !ok {
		return
	}
	img := dev.Snapshot()
	w.Header().Set("Content-Type", contentTypes[".jpg"])
	w.Header().Set("Content-Length", strconv.Itoa(len(img)))
	_, _ = w.Write(img)
}

// handleGif records a short clip and serves it. Concurrent requests for
// the same device share the recording.
func (s *Server) handleGif(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.device(w, r)
	if !ok {
		return
	}
	seconds := DefaultGifSeconds
	if v, err := strconv.Atoi(r.URL.Query().Get("seconds")); err == nil && v > 0 {
		seconds = min(v, s.cfg.MaxClipSeconds)
	}

	ch := s.flights.DoChan(dev.ID()+"/gif", func() (any, error) {
		return dev.RecordClip(context.WithoutCancel(r.Context()), camera.RoleGif, seconds)
	})
	var path string
	select {
	case res := <-ch:
		if res.Err != nil {
			s.fail(w, r, dev, res.Err)
			return
		}
		path = res.Val.(string)
	case <-r.Context().Done():
		return
	}
	s.serveFile(w, r, path)
}

// handleMediaFile serves restream segments and initialization files.
func (s *Server) handleMediaFile(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.device(w, r)
	if !ok {
		return
	}
	name := chi.URLParam(r, "file")
	if !segmentExts[filepath.Ext(name)] {
		http.NotFound(w, r)
		return
	}
	media := dev.Media()
	if media == nil {
		http.NotFound(w, r)
		return
	}
	path, err := secureJoin(media.Dir(), name)
	if err != nil {
		http.Error(w, "invalid path", http.StatusBadRequest)
		return
	}
	s.serveFile(w, r, path)
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, path string) {
	f, err := os.Open(path) // #nosec G304 -- path is confined to the device output dir
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}
	if ct, ok := contentTypes[filepath.Ext(path)]; ok {
		w.Header().Set("Content-Type", ct)
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// handleMJPEG streams the device's live feed as multipart JPEG. A
// connection that had nothing written for IdleWriteTimeout is closed.
func (s *Server) handleMJPEG(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.device(w, r)
	if !ok {
		return
	}
	hub := dev.Hub()
	sub, err := hub.Subscribe()
	if err != nil {
		http.Error(w, "stream unavailable", http.StatusServiceUnavailable)
		return
	}
	defer sub.Close()

	logger := log.WithContext(r.Context(), s.logger).With().Str(log.FieldDeviceID, dev.ID()).Logger()
	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", hub.ContentType())
	w.Header().Set("Connection", "close")
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()

	idle := time.NewTimer(s.cfg.IdleWriteTimeout)
	defer idle.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.Done():
			return
		case <-idle.C:
			logger.Debug().Str(log.FieldEvent, "streamserver.mjpeg_idle").Msg("closing idle mjpeg connection")
			return
		case part, ok := <-sub.Frames():
			if !ok {
				return
			}
			_ = rc.SetWriteDeadline(time.Now().Add(s.cfg.IdleWriteTimeout))
			if _, err := w.Write(part); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
			idle.Reset(s.cfg.IdleWriteTimeout)
		}
	}
}

// handleIngest accepts a frame POSTed by a local transcoder. Any push
// proves the device reachable.
func (s *Server) handleIngest(live bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dev, ok := s.device(w, r)
		if !ok {
			return
		}
		w.Header().Set("Connection", "close")
		img, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBytes+1))
		switch {
		case err != nil:
			metrics.IngestRejected.WithLabelValues("read_error").Inc()
			http.Error(w, "read failed", http.StatusBadRequest)
			return
		case len(img) == 0:
			metrics.IngestRejected.WithLabelValues("empty").Inc()
			http.Error(w, "empty frame", http.StatusBadRequest)
			return
		case len(img) > maxIngestBytes:
			metrics.IngestRejected.WithLabelValues("too_large").Inc()
			http.Error(w, "frame too large", http.StatusRequestEntityTooLarge)
			return
		}
		if !dev.Running() {
			metrics.IngestRejected.WithLabelValues("not_running").Inc()
			http.Error(w, "device not running", http.StatusServiceUnavailable)
			return
		}

		dev.BringOnline(r.Context())
		if live {
			dev.HandleLiveFrame(img)
		} else {
			dev.ProcessSnapshot(img)
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// fail maps a device error to a status code.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, dev Device, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, camera.ErrOffline), errors.Is(err, camera.ErrNotStarted), errors.Is(err, orchestrator.ErrDisposed):
		code = http.StatusServiceUnavailable
	case errors.Is(err, ErrManifestTimeout), errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
	case errors.Is(err, orchestrator.ErrRoleBusy):
		code = http.StatusConflict
	case errors.Is(err, os.ErrNotExist):
		code = http.StatusNotFound
	case errors.Is(err, context.Canceled):
		return
	}
	logger := log.WithContext(r.Context(), s.logger)
	logger.Warn().
		Err(err).
		Str(log.FieldEvent, "streamserver.request_failed").
		Str(log.FieldDeviceID, dev.ID()).
		Str(log.FieldPath, r.URL.Path).
		Int("status", code).
		Msg("media request failed")
	http.Error(w, http.StatusText(code), code)
}

// secureJoin joins a request file name onto root and refuses anything that
// would leave it.
func secureJoin(root, name string) (string, error) {
	cleaned := filepath.Clean(name)
	if filepath.IsAbs(cleaned) || strings.HasPrefix(cleaned, "..") || strings.ContainsRune(cleaned, filepath.Separator) {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	return filepath.Join(root, cleaned), nil
}
