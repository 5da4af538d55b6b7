// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/camvisor/internal/camera"
	"github.com/ManuGH/camvisor/internal/camera/endpoint"
	"github.com/ManuGH/camvisor/internal/log"
	"github.com/ManuGH/camvisor/internal/media/orchestrator"
	"github.com/ManuGH/camvisor/internal/metrics"
	"github.com/ManuGH/camvisor/internal/notify"
	"github.com/ManuGH/camvisor/internal/telemetry"
)

// Activate (re)starts supervision: it creates the primary endpoints, moves
// to INITIALIZE, resolves the media URLs and starts the connect-probe job.
// A device that should not run is parked OFFLINE. Failures are turned into
// a status and returned for logging; the connect job keeps retrying.
func (s *Supervisor) Activate(ctx context.Context) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	wasStarted := s.started
	d := s.device
	s.started = d.ShouldRun
	s.urls = camera.URLSet{}
	s.urlHash = ""
	s.failures = 0
	s.mu.Unlock()

	if wasStarted {
		s.offline()
	}

	s.createPrimaryEndpoints(d)
	if !d.ShouldRun {
		s.setStatus(ctx, camera.StatusOffline, "disabled")
		return nil
	}
	s.setStatus(ctx, camera.StatusInitialize, "")

	if err := s.snapshots.Load(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to restore last snapshot")
	}

	err := guard("activate", func() error {
		_, err := s.resolveURLs(ctx)
		return err
	})
	if err != nil {
		s.DisposeAndSetStatus(ctx, activationStatus(err), camera.Reason(err))
		return fmt.Errorf("activate %s: %w", d.ID, err)
	}

	s.logger.Info().Str(log.FieldEvent, "supervisor.activated").Msg("device activated")
	s.startConnectJob()
	return nil
}

// activationStatus keeps authentication problems distinguishable; every other
// activation failure is a configuration problem.
func activationStatus(err error) camera.Status {
	if camera.Classify(err) == camera.StatusRequireAuth {
		return camera.StatusRequireAuth
	}
	return camera.StatusError
}

// errMediaRestart marks a resolved URL set that was adopted although a
// running role failed to restart with it.
var errMediaRestart = errors.New("media restart failed")

// resolveURLs returns the cached URL set while the device's URL hash is
// unchanged, otherwise resolves it again and hands it to the orchestrator.
func (s *Supervisor) resolveURLs(ctx context.Context) (camera.URLSet, error) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return camera.URLSet{}, ErrDisposed
	}
	d := s.device
	hash := d.URLHash()
	if s.media != nil && s.urlHash == hash && !s.urls.Empty() {
		urls := s.urls
		s.mu.Unlock()
		return urls, nil
	}
	s.mu.Unlock()

	resolve := d.ResolveURLs
	if resolve == nil {
		resolve = camera.StaticURLs
	}
	urls, err := resolve(ctx, d)
	if err != nil {
		return camera.URLSet{}, err
	}
	if urls.Empty() {
		return camera.URLSet{}, camera.ConfigErrorf("device %s resolved no media url", d.ID)
	}

	media, attachErr := s.orch.Attach(ctx, d, urls, s.onProcessError)

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		s.orch.Detach(d.ID)
		return camera.URLSet{}, ErrDisposed
	}
	s.media = media
	s.urls = urls
	s.urlHash = hash
	s.mu.Unlock()

	if attachErr != nil {
		return urls, fmt.Errorf("%w: %w", errMediaRestart, attachErr)
	}

	s.logger.Debug().
		Str(log.FieldEvent, "supervisor.urls_resolved").
		Str("rtsp", camera.RedactCredentials(urls.RTSP)).
		Str("mjpeg", camera.RedactCredentials(urls.MJPEG)).
		Str("snapshot", camera.RedactCredentials(urls.Snapshot)).
		Msg("media urls resolved")
	return urls, nil
}

func (s *Supervisor) startConnectJob() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed || !s.started {
		return
	}
	s.connectJob.Cancel()
	s.connectJob = s.spawnLocked("connect", s.cfg.ConnectDelay, s.cfg.ConnectInterval, s.runConnect)
}

func (s *Supervisor) startPollJob() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed || !s.started {
		return
	}
	s.pollJob.Cancel()
	s.pollJob = s.spawnLocked("health", s.cfg.HealthDelay, s.cfg.HealthInterval, s.runPoll)
}

func (s *Supervisor) spawnLocked(name string, delay, interval time.Duration, fn JobFunc) *Job {
	live := s.jobs[:0]
	for _, j := range s.jobs {
		select {
		case <-j.Done():
		default:
			live = append(live, j)
		}
	}
	j := s.sched.Every(s.ctx, name, delay, interval, s.cfg.JobTimeout, fn)
	s.jobs = append(live, j)
	return j
}

// canceled distinguishes a canceled job from a run that hit its timeout.
func canceled(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.Canceled)
}

func (s *Supervisor) runConnect(ctx context.Context) bool {
	if s.Status().Online() {
		return true
	}
	err := s.probe(ctx)
	if canceled(ctx) {
		return true
	}
	if err == nil {
		s.BringOnline(ctx)
		return true
	}

	switch status := camera.Classify(err); status {
	case camera.StatusError, camera.StatusRequireAuth:
		s.DisposeAndSetStatus(ctx, status, camera.Reason(err))
	default:
		// Unreachable devices are expected while reconnecting.
		s.setStatus(ctx, camera.StatusOffline, camera.Reason(err))
	}
	return false
}

func (s *Supervisor) probe(ctx context.Context) (err error) {
	d := s.Device()
	ctx, span := s.tracer.Start(ctx, "supervisor.probe",
		trace.WithAttributes(telemetry.DeviceAttributes(d.ID, brandOf(d), s.Status().String())...))
	defer span.End()

	start := time.Now()
	defer func() {
		result := probeResult(err)
		metrics.ObserveProbe(result, time.Since(start))
		span.SetAttributes(telemetry.ProbeAttributes("connect", result)...)
		if err != nil {
			telemetry.RecordError(span, err, result)
		}
	}()

	return guard("probe", func() error {
		if _, err := s.resolveURLs(ctx); err != nil {
			return err
		}
		s.keepFeedWarm()

		check := d.Probe
		if check == nil {
			check = DialProbe
		}
		pctx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
		defer cancel()
		if err := check(pctx, d); err != nil {
			return err
		}
		s.takeSnapshotAsync()
		return nil
	})
}

func probeResult(err error) string {
	if err == nil {
		return "ok"
	}
	switch camera.Classify(err) {
	case camera.StatusRequireAuth:
		return "auth"
	case camera.StatusError:
		return "config"
	default:
		return "network"
	}
}

// BringOnline marks a reachable device ONLINE. The first call after a
// disconnect resumes motion alarms, runs the on-connected hook, swaps the
// connect job for the health-poll job and resumes the live feed when
// consumers are waiting. Later calls only refresh last-seen.
func (s *Supervisor) BringOnline(ctx context.Context) {
	s.mu.Lock()
	s.failures = 0
	if !s.started || s.disposed {
		s.mu.Unlock()
		return
	}
	d := s.device
	s.mu.Unlock()

	s.touchLastSeen()
	if !s.setStatus(ctx, camera.StatusOnline, "") {
		return
	}

	s.mu.Lock()
	cj := s.connectJob
	s.connectJob = nil
	s.mu.Unlock()
	cj.Cancel()

	hctx, cancel := s.hookContext()
	defer cancel()

	if alarm, ok := d.Handler.(camera.SupportsMotionAlarm); ok {
		if err := guard("resume-motion", func() error { return alarm.ResumeMotionAlarm(hctx) }); err != nil {
			s.logger.Warn().Err(err).Msg("failed to resume motion alarm")
		}
	}
	if d.OnConnected != nil {
		if err := guard("on-connected", func() error { return d.OnConnected(hctx, d) }); err != nil {
			s.logger.Warn().Err(err).Str(log.FieldEvent, "supervisor.on_connected_failed").Msg("on-connected hook failed")
		}
	}

	s.startPollJob()
	if s.hub.Count() > 0 {
		if err := s.StartLivePreview(hctx); err != nil {
			s.logger.Warn().Err(err).Msg("failed to resume live preview")
		}
	}
}

func (s *Supervisor) runPoll(ctx context.Context) bool {
	if !s.Status().Online() {
		return true
	}
	media := s.Media()
	if media != nil {
		media.StopIfNoKeepAlive(camera.RoleRestream)
		media.StopIfNoKeepAlive(camera.RoleLivePreview)
	}
	if n := s.channels.PruneIfNeeded(); n > 0 {
		s.logger.Debug().Int("pruned", n).Msg("pruned stale vendor channels")
	}
	if media != nil && media.IsAlive(camera.RoleRestream) {
		// A restream producing output proves the device is reachable.
		s.touchLastSeen()
		return false
	}

	if s.snapshots.AllowRefresh() {
		if err := s.captureSnapshot(ctx); err != nil && !canceled(ctx) {
			s.logger.Debug().Err(err).Msg("snapshot refresh failed")
		}
	}

	d := s.Device()
	if p, ok := d.Handler.(camera.SupportsPoll); ok {
		if err := guard("poll", func() error { return p.Poll(ctx) }); err != nil && !canceled(ctx) {
			s.logger.Debug().Err(err).Msg("vendor poll failed")
		}
	}

	err := s.ping(ctx, d)
	if canceled(ctx) {
		return true
	}
	if err != nil {
		if camera.Classify(err) == camera.StatusRequireAuth {
			s.DisposeAndSetStatus(ctx, camera.StatusRequireAuth, camera.Reason(err))
			return false
		}
		s.logger.Debug().Err(err).Msg("ping failed")
		s.ReportCommunicationError(ctx, ConnectionTimeoutReason)
		return false
	}

	s.mu.Lock()
	s.failures = 0
	s.mu.Unlock()
	s.touchLastSeen()
	return false
}

func (s *Supervisor) ping(ctx context.Context, d *camera.Device) error {
	check := d.Ping
	if check == nil {
		check = DialProbe
	}
	pctx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()
	return guard("ping", func() error { return check(pctx, d) })
}

// ReportCommunicationError counts a failed exchange with the device. Once
// more than MaxPingErrors accumulated the device is moved to ERROR. A
// refresh event is published either way.
func (s *Supervisor) ReportCommunicationError(ctx context.Context, reason string) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.failures++
	n := s.failures
	id := s.device.ID
	s.mu.Unlock()

	metrics.PingFailures.WithLabelValues(id).Inc()
	s.logger.Debug().
		Str(log.FieldEvent, "supervisor.communication_error").
		Int(log.FieldFailures, n).
		Str(log.FieldReason, reason).
		Msg("communication error")

	if n > s.cfg.MaxPingErrors {
		s.DisposeAndSetStatus(ctx, camera.StatusError, reason)
		// The health poll that reported the error was cancelled by the transition.
		hctx, cancel := s.hookContext()
		defer cancel()
		ctx = hctx
	}
	s.publish(ctx, notify.Event{Kind: notify.KindRefresh, Reason: reason})
}

// DisposeAndSetStatus moves the device to status. Nothing happens when the
// (status, reason) pair is unchanged. Otherwise the state is persisted and
// published, ERROR and REQUIRE_AUTH raise a toast, every job and transcoder
// role is stopped and the connect-probe job starts over.
func (s *Supervisor) DisposeAndSetStatus(ctx context.Context, status camera.Status, reason string) bool {
	if !s.setStatus(ctx, status, reason) {
		return false
	}
	if status.Surfaced() {
		msg := reason
		if msg == "" {
			msg = status.String()
		}
		s.publish(ctx, notify.Event{
			Kind:    notify.KindToast,
			Level:   notify.LevelError,
			Status:  status.String(),
			Reason:  reason,
			Message: fmt.Sprintf("%s: %s", s.Device().Title(), msg),
		})
	}
	s.offline()
	s.startConnectJob()
	return true
}

// offline cancels both jobs without waiting, stops every role and suspends
// motion alarms. Individual failures are logged.
func (s *Supervisor) offline() {
	s.mu.Lock()
	cj, pj := s.connectJob, s.pollJob
	s.connectJob, s.pollJob = nil, nil
	media := s.media
	d := s.device
	s.mu.Unlock()

	cj.Cancel()
	pj.Cancel()
	if media != nil {
		media.StopAll(orchestrator.ReasonOffline)
	}
	if alarm, ok := d.Handler.(camera.SupportsMotionAlarm); ok {
		hctx, cancel := s.hookContext()
		defer cancel()
		if err := guard("suspend-motion", func() error { return alarm.SuspendMotionAlarm(hctx) }); err != nil {
			s.logger.Debug().Err(err).Msg("failed to suspend motion alarm")
		}
	}
}

// Deactivate disposes the device. It waits for running jobs, stops every
// role, releases the stream hub and channel registry and finally runs the
// teardown hook, whose failure is only logged. Safe to call more than once
// and concurrently with running jobs; it must not be called from a job.
func (s *Supervisor) Deactivate(ctx context.Context) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	s.disposed = true
	s.started = false
	jobs := s.jobs
	s.jobs = nil
	d := s.device
	s.mu.Unlock()

	s.offline()
	for _, j := range jobs {
		j.Cancel()
	}
	s.waitJobs(ctx, jobs)

	s.orch.Detach(d.ID)
	s.mu.Lock()
	s.media = nil
	s.mu.Unlock()

	s.hub.Close()
	s.channels.Clear()
	s.endpoints.Clear()

	if d.Teardown != nil {
		hctx, cancel := s.hookContext()
		err := guard("teardown", func() error { return d.Teardown(hctx, d) })
		cancel()
		if err != nil {
			s.logger.Warn().Err(err).Str(log.FieldEvent, "supervisor.teardown_failed").Msg("device teardown failed")
		}
	}

	s.cancel()
	s.async.Wait()
	metrics.ForgetDevice(d.ID)
	s.logger.Info().Str(log.FieldEvent, "supervisor.deactivated").Msg("device deactivated")
	return nil
}

func (s *Supervisor) waitJobs(ctx context.Context, jobs []*Job) {
	for _, j := range jobs {
		select {
		case <-j.Done():
		case <-ctx.Done():
			s.logger.Warn().Str("job", j.Name()).Msg("job did not stop before deactivate deadline")
			return
		}
	}
}

// UpdateDevice adopts a changed device definition. Toggling ShouldRun or the
// brand reactivates the device; a changed URL hash recreates the affected
// roles; threshold changes are pushed to the device.
func (s *Supervisor) UpdateDevice(ctx context.Context, d *camera.Device) error {
	if d == nil {
		return camera.ConfigErrorf("nil device")
	}
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	old := s.device
	s.device = d
	started := s.started
	media := s.media
	s.mu.Unlock()

	if old.ShouldRun != d.ShouldRun || brandOf(old) != brandOf(d) {
		return s.Activate(ctx)
	}

	if started {
		if old.URLHash() != d.URLHash() {
			if _, err := s.resolveURLs(ctx); err != nil {
				if !errors.Is(err, errMediaRestart) {
					s.DisposeAndSetStatus(ctx, activationStatus(err), camera.Reason(err))
				}
				return fmt.Errorf("update %s: %w", d.ID, err)
			}
		} else if media != nil {
			if _, err := media.RecreateIfURLsChanged(ctx, d, s.URLs()); err != nil {
				return fmt.Errorf("update %s: %w", d.ID, err)
			}
		}
	}

	var errs []error
	if old.MotionThreshold != d.MotionThreshold {
		if _, err := s.endpoints.Write(ctx, endpoint.MotionThreshold, float64(d.MotionThreshold), false); err != nil {
			errs = append(errs, err)
		}
	}
	if d.HasAudio && old.AudioThreshold != d.AudioThreshold {
		if _, err := s.endpoints.Write(ctx, endpoint.AudioThreshold, float64(d.AudioThreshold), false); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// onProcessError receives failures of running transcoder roles.
func (s *Supervisor) onProcessError(role camera.Role, err error) {
	ctx, cancel := s.hookContext()
	defer cancel()
	if camera.Classify(err) == camera.StatusRequireAuth {
		s.DisposeAndSetStatus(ctx, camera.StatusRequireAuth, camera.Reason(err))
		return
	}
	s.ReportCommunicationError(ctx, fmt.Sprintf("%s: %s", role, camera.Reason(err)))
}

// hookContext bounds a device hook by the job timeout and the supervisor's
// lifetime.
func (s *Supervisor) hookContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(s.ctx, s.cfg.JobTimeout)
}

func brandOf(d *camera.Device) string {
	if d.Handler == nil {
		return camera.GenericHandler{}.Brand()
	}
	return d.Handler.Brand()
}
