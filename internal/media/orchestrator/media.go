// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/camvisor/internal/camera"
	"github.com/ManuGH/camvisor/internal/log"
	"github.com/ManuGH/camvisor/internal/media/transcoder"
	"github.com/ManuGH/camvisor/internal/metrics"
	"github.com/ManuGH/camvisor/internal/telemetry"
)

// Stop reasons used in logs and metrics.
const (
	ReasonRequested   = "requested"
	ReasonFingerprint = "fingerprint_changed"
	ReasonStale       = "stale_output"
	ReasonKeepAlive   = "keepalive_elapsed"
	ReasonOffline     = "offline"
	ReasonDisposed    = "disposed"
	ReasonRestream    = "restream_description"
)

type roleState struct {
	spec        transcoder.Spec
	fingerprint string
	handle      transcoder.Handle
	startedAt   time.Time
	forwarded   atomic.Bool

	stats   transcoder.Stats
	statsAt time.Time
}

// Media is the set of transcoder roles of one device.
type Media struct {
	o      *Orchestrator
	logger zerolog.Logger

	// mu serializes every role create/stop/recreate of this device.
	mu        sync.Mutex
	device    *camera.Device
	urls      camera.URLSet
	roles     map[camera.Role]*roleState
	keepAlive map[camera.Role]int
	format    RestreamFormat
	disposed  bool

	// cbMu guards onError; it is taken from process monitor goroutines
	// while mu may be held by a Stop waiting for that same goroutine.
	cbMu    sync.Mutex
	onError ErrorFunc
}

func newMedia(o *Orchestrator, d *camera.Device, urls camera.URLSet, onError ErrorFunc) *Media {
	return &Media{
		o:         o,
		logger:    o.logger.With().Str(log.FieldDeviceID, d.ID).Logger(),
		device:    d,
		urls:      urls,
		roles:     make(map[camera.Role]*roleState),
		keepAlive: make(map[camera.Role]int),
		format:    FormatHLS,
		onError:   onError,
	}
}

func (m *Media) setErrorFunc(fn ErrorFunc) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.onError = fn
}

// URLs returns the URL set the roles are currently built from.
func (m *Media) URLs() camera.URLSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.urls
}

// Dir is the device's output directory.
func (m *Media) Dir() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dirLocked()
}

func (m *Media) dirLocked() string {
	return filepath.Join(m.o.cfg.OutputDir, m.device.FolderName())
}

func (m *Media) logPathLocked(role camera.Role) string {
	return filepath.Join(m.o.cfg.LogDir, m.device.FolderName(), role.String()+".log")
}

// EnsureRole makes sure role runs with the current configuration. It reports
// whether a new process was started. A running process with an unchanged
// fingerprint that is still producing output is reused.
func (m *Media) EnsureRole(ctx context.Context, role camera.Role) (bool, error) {
	ctx, span := m.o.tracer.Start(ctx, "orchestrator.ensure_role")
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return false, ErrDisposed
	}

	spec, err := m.buildSpecLocked(role, 0)
	if err != nil {
		telemetry.RecordError(span, err, "build")
		return false, err
	}
	fp := spec.Fingerprint()

	if st := m.roles[role]; st != nil && st.handle != nil && st.handle.Running() {
		switch {
		case st.fingerprint != fp:
			m.stopLocked(role, ReasonFingerprint)
		case !m.aliveLocked(st):
			m.stopLocked(role, ReasonStale)
		default:
			m.resetKeepAliveLocked(role)
			span.SetAttributes(telemetry.RoleAttributes(role.String(), fp, st.handle.PID(), true)...)
			return false, nil
		}
	}

	st, err := m.startLocked(ctx, role, spec, "ensure")
	if err != nil {
		telemetry.RecordError(span, err, "start")
		return false, err
	}
	m.resetKeepAliveLocked(role)
	span.SetAttributes(telemetry.RoleAttributes(role.String(), fp, st.handle.PID(), false)...)
	return true, nil
}

func (m *Media) startLocked(ctx context.Context, role camera.Role, spec transcoder.Spec, reason string) (*roleState, error) {
	if spec.WorkDir != "" {
		if err := os.MkdirAll(spec.WorkDir, 0o750); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
	}
	st := &roleState{spec: spec, fingerprint: spec.Fingerprint()}
	h, err := m.o.starter.Start(ctx, spec, m.events(role, st))
	if err != nil {
		metrics.ProcessFailures.WithLabelValues(role.String(), "start").Inc()
		return nil, fmt.Errorf("start %s: %w", role, err)
	}
	st.handle = h
	st.startedAt = m.o.now()
	m.roles[role] = st

	metrics.RoleStarts.WithLabelValues(role.String(), reason).Inc()
	metrics.RunningRoles.WithLabelValues(role.String()).Inc()
	m.logger.Info().
		Str(log.FieldEvent, "role.started").
		Str(log.FieldRole, role.String()).
		Str(log.FieldFingerprint, st.fingerprint).
		Int(log.FieldPID, h.PID()).
		Msg("transcoder role started")
	return st, nil
}

func (m *Media) events(role camera.Role, st *roleState) transcoder.Events {
	return transcoder.Events{
		OnFailure: func(err error) {
			// One report per process run; the supervisor counts reports.
			if !st.forwarded.CompareAndSwap(false, true) {
				return
			}
			m.forward(role, err)
		},
		OnExit: func(err error, requested bool) {
			metrics.RunningRoles.WithLabelValues(role.String()).Dec()
			m.mu.Lock()
			current := m.roles[role] == st
			disposed := m.disposed
			m.mu.Unlock()

			if requested || err == nil || disposed || !current || !role.Continuous() {
				return
			}
			if st.forwarded.CompareAndSwap(false, true) {
				m.forward(role, err)
			}
		},
	}
}

func (m *Media) forward(role camera.Role, err error) {
	m.cbMu.Lock()
	fn := m.onError
	m.cbMu.Unlock()
	if fn == nil {
		return
	}
	m.o.dispatch(func() { fn(role, err) })
}

// stopLocked stops role and waits for its process to exit.
func (m *Media) stopLocked(role camera.Role, reason string) {
	st := m.roles[role]
	if st == nil || st.handle == nil {
		return
	}
	delete(m.roles, role)
	if !st.handle.Running() {
		return
	}
	if err := st.handle.Stop(m.o.cfg.StopGrace); err != nil {
		m.logger.Error().Err(err).Str(log.FieldRole, role.String()).Msg("role stop incomplete")
	}
	metrics.RoleStops.WithLabelValues(role.String(), reason).Inc()
	m.logger.Info().
		Str(log.FieldEvent, "role.stopped").
		Str(log.FieldRole, role.String()).
		Str(log.FieldReason, reason).
		Msg("transcoder role stopped")

	if role == camera.RoleRestream {
		m.cleanupRestreamLocked()
	}
}

func (m *Media) cleanupRestreamLocked() {
	dir := m.dirLocked()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), restreamPrefix) {
			continue
		}
		_ = os.Remove(filepath.Join(dir, e.Name()))
	}
}

// StopRole stops role if it is running.
func (m *Media) StopRole(role camera.Role, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked(role, reason)
}

// StopAll stops every role of the device.
func (m *Media) StopAll(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopAllLocked(reason)
}

func (m *Media) stopAllLocked(reason string) {
	for _, role := range camera.Roles {
		m.stopLocked(role, reason)
	}
}

func (m *Media) dispose() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return
	}
	m.disposed = true
	m.stopAllLocked(ReasonDisposed)
}

// IsRunning reports whether role has a live process.
func (m *Media) IsRunning(role camera.Role) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.roles[role]
	return st != nil && st.handle != nil && st.handle.Running()
}

// IsAlive reports whether role is running and produced output within the alive window.
func (m *Media) IsAlive(role camera.Role) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.roles[role]
	return st != nil && st.handle != nil && st.handle.Running() && m.aliveLocked(st)
}

func (m *Media) aliveLocked(st *roleState) bool {
	return m.o.now().Sub(st.handle.LastOutput()) < m.o.cfg.AliveWindow
}

// KeepAlive returns the keepalive counter of role.
func (m *Media) KeepAlive(role camera.Role) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keepAliveLocked(role)
}

func (m *Media) keepAliveLocked(role camera.Role) int {
	if v, ok := m.keepAlive[role]; ok {
		return v
	}
	return m.o.cfg.DefaultKeepAlive
}

// SetKeepAlive sets the keepalive counter. A role pinned with
// KeepAliveForever ignores requests above 1; only 0 or 1 unpin it.
func (m *Media) SetKeepAlive(role camera.Role, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keepAliveLocked(role) == KeepAliveForever && n > 1 {
		return
	}
	m.keepAlive[role] = n
}

func (m *Media) resetKeepAliveLocked(role camera.Role) {
	if m.keepAliveLocked(role) != KeepAliveForever {
		m.keepAlive[role] = m.o.cfg.DefaultKeepAlive
	}
}

// StopIfNoKeepAlive is called once per health poll. A running role whose
// counter reached 0 is stopped, a positive counter is decremented.
func (m *Media) StopIfNoKeepAlive(role camera.Role) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.roles[role]
	if st == nil || st.handle == nil || !st.handle.Running() {
		return false
	}
	switch ka := m.keepAliveLocked(role); {
	case ka == 0:
		m.stopLocked(role, ReasonKeepAlive)
		return true
	case ka > 0:
		m.keepAlive[role] = ka - 1
	}
	return false
}

// RecreateIfURLsChanged adopts a new device definition and URL set. Running
// continuous roles whose fingerprint changed are restarted; unchanged roles
// keep running. It reports whether anything changed.
func (m *Media) RecreateIfURLsChanged(ctx context.Context, d *camera.Device, urls camera.URLSet) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return false, ErrDisposed
	}
	if d.URLHash() == m.device.URLHash() && urls == m.urls {
		m.device = d
		return false, nil
	}
	m.device = d
	m.urls = urls

	var errs []error
	for _, role := range camera.Roles {
		st := m.roles[role]
		if st == nil || st.handle == nil || !st.handle.Running() || !role.Continuous() {
			continue
		}
		spec, err := m.buildSpecLocked(role, 0)
		if err != nil {
			m.stopLocked(role, ReasonFingerprint)
			errs = append(errs, err)
			continue
		}
		if spec.Fingerprint() == st.fingerprint {
			continue
		}
		m.stopLocked(role, ReasonFingerprint)
		if _, err := m.startLocked(ctx, role, spec, "recreate"); err != nil {
			errs = append(errs, err)
		}
	}
	m.logger.Info().Str(log.FieldEvent, "media.urls_changed").Msg("device urls changed")
	return true, errors.Join(errs...)
}

// SetRestreamFormat switches the restream output. A running restream with a
// different description is recreated.
func (m *Media) SetRestreamFormat(ctx context.Context, format RestreamFormat) (bool, error) {
	if format != FormatHLS && format != FormatDASH {
		return false, camera.ConfigErrorf("unknown restream format %q", format)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return false, ErrDisposed
	}
	if m.format == format {
		return false, nil
	}
	m.format = format

	st := m.roles[camera.RoleRestream]
	if st == nil || st.handle == nil || !st.handle.Running() {
		return true, nil
	}
	spec, err := m.buildSpecLocked(camera.RoleRestream, 0)
	if err != nil {
		return true, err
	}
	if spec.Description == st.spec.Description {
		return true, nil
	}
	m.stopLocked(camera.RoleRestream, ReasonRestream)
	_, err = m.startLocked(ctx, camera.RoleRestream, spec, "recreate")
	return true, err
}

// RestreamFormat returns the configured restream output format.
func (m *Media) RestreamFormat() RestreamFormat {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.format
}

// ManifestPath is the file the restream role writes its manifest to.
func (m *Media) ManifestPath(format RestreamFormat) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return filepath.Join(m.dirLocked(), manifestName(format))
}

// LogSources lists the log file of every role.
func (m *Media) LogSources() map[camera.Role]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[camera.Role]string, len(camera.Roles))
	for _, role := range camera.Roles {
		out[role] = m.logPathLocked(role)
	}
	return out
}

// TailLog returns the last n output lines of role, from the running process
// or, when stopped, from its log file.
func (m *Media) TailLog(role camera.Role, n int) ([]string, error) {
	m.mu.Lock()
	st := m.roles[role]
	path := m.logPathLocked(role)
	m.mu.Unlock()

	if st != nil && st.handle != nil {
		return st.handle.Tail(n), nil
	}
	return tailFile(path, n)
}

// Stats samples CPU and memory of the running roles. Samples are cached for 10s.
func (m *Media) Stats(ctx context.Context) map[camera.Role]transcoder.Stats {
	type sample struct {
		role camera.Role
		st   *roleState
		pid  int
	}
	now := m.o.now()
	out := make(map[camera.Role]transcoder.Stats)
	var pending []sample

	m.mu.Lock()
	for role, st := range m.roles {
		if st.handle == nil || !st.handle.Running() {
			continue
		}
		if !st.statsAt.IsZero() && now.Sub(st.statsAt) < statsTTL {
			out[role] = st.stats
			continue
		}
		pending = append(pending, sample{role: role, st: st, pid: st.handle.PID()})
	}
	m.mu.Unlock()

	for _, s := range pending {
		stats, err := m.o.sampler(ctx, s.pid)
		if err != nil {
			m.logger.Debug().Err(err).Str(log.FieldRole, s.role.String()).Msg("process stats unavailable")
			continue
		}
		m.mu.Lock()
		s.st.stats = stats
		s.st.statsAt = now
		m.mu.Unlock()
		out[s.role] = stats
	}
	return out
}
