// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"

	"github.com/ManuGH/camvisor/internal/camera"
	"github.com/ManuGH/camvisor/internal/log"
	"github.com/ManuGH/camvisor/internal/metrics"
)

// RecordGif records a GIF of the given length and returns its path.
func (m *Media) RecordGif(ctx context.Context, seconds int) (string, error) {
	return m.recordClip(ctx, camera.RoleGif, seconds)
}

// RecordMp4 records an MP4 of the given length and returns its path.
func (m *Media) RecordMp4(ctx context.Context, seconds int) (string, error) {
	return m.recordClip(ctx, camera.RoleMp4Record, seconds)
}

// LatestClip returns the path of the most recent clip with extension ext (".gif" or ".mp4").
func (m *Media) LatestClip(ext string) string {
	return filepath.Join(m.Dir(), "latest"+ext)
}

// recordClip runs a one-shot role and blocks until it exits or seconds plus
// the configured slack elapse. The clip is written to a hidden file and
// renamed into place once the process exited cleanly.
func (m *Media) recordClip(ctx context.Context, role camera.Role, seconds int) (path string, err error) {
	started := m.o.now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		metrics.ObserveClip(role.String(), result, time.Since(started))
	}()

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return "", ErrDisposed
	}
	if st := m.roles[role]; st != nil && st.handle != nil && st.handle.Running() {
		m.mu.Unlock()
		return "", ErrRoleBusy
	}
	spec, err := m.buildSpecLocked(role, seconds)
	if err != nil {
		m.mu.Unlock()
		return "", err
	}
	st, err := m.startLocked(ctx, role, spec, "clip")
	dir := m.dirLocked()
	m.mu.Unlock()
	if err != nil {
		return "", err
	}

	timer := time.NewTimer(time.Duration(seconds)*time.Second + m.o.cfg.ClipSlack)
	defer timer.Stop()

	select {
	case <-st.handle.Done():
		err = st.handle.Err()
	case <-ctx.Done():
		_ = st.handle.Stop(m.o.cfg.StopGrace)
		err = ctx.Err()
	case <-timer.C:
		_ = st.handle.Stop(m.o.cfg.StopGrace)
		err = &camera.ProcessFailure{Role: role, Reason: "timeout"}
	}

	m.mu.Lock()
	if m.roles[role] == st {
		delete(m.roles, role)
	}
	m.mu.Unlock()

	part := filepath.Join(dir, spec.Args[len(spec.Args)-1])
	if err != nil {
		_ = os.Remove(part)
		return "", fmt.Errorf("record %s: %w", role, err)
	}

	final := filepath.Join(dir, strings.TrimPrefix(filepath.Base(part), "."))
	if err := os.Rename(part, final); err != nil {
		return "", fmt.Errorf("finalize %s: %w", role, err)
	}
	if err := renameio.Symlink(filepath.Base(final), filepath.Join(dir, "latest"+filepath.Ext(final))); err != nil {
		m.logger.Warn().Err(err).Str(log.FieldPath, final).Msg("failed to update latest clip link")
	}
	m.logger.Info().
		Str(log.FieldEvent, "clip.recorded").
		Str(log.FieldRole, role.String()).
		Str(log.FieldPath, final).
		Msg("clip recorded")
	return final, nil
}
