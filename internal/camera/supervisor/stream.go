// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"context"
	"errors"

	"github.com/ManuGH/camvisor/internal/camera"
	"github.com/ManuGH/camvisor/internal/camera/snapshot"
	"github.com/ManuGH/camvisor/internal/media/orchestrator"
	"github.com/ManuGH/camvisor/internal/notify"
)

// Snapshot returns the image to serve: the cached snapshot while online,
// the placeholder otherwise. A due refresh is started in the background.
func (s *Supervisor) Snapshot() []byte {
	online := s.Running() && s.Status().Online()
	return s.snapshots.Serve(online, s.takeSnapshotAsync)
}

// ProcessSnapshot stores a captured image. Only changed bytes are kept,
// queued to live consumers (unless the live preview feeds them) and
// announced. It reports whether the image changed.
func (s *Supervisor) ProcessSnapshot(img []byte) bool {
	if len(img) == 0 || !s.Running() {
		return false
	}
	changed := s.snapshots.Update(img)
	s.touchLastSeen()
	if !changed {
		return false
	}
	if s.hub.Count() > 0 && !s.liveRunning() {
		s.hub.QueueFrame(img)
	}
	s.publish(s.ctx, notify.Event{Kind: notify.KindSnapshot})
	return true
}

// HandleLiveFrame fans a live-preview frame out to every consumer.
func (s *Supervisor) HandleLiveFrame(img []byte) {
	if len(img) == 0 || !s.Running() {
		return
	}
	s.hub.QueueFrame(img)
	s.snapshots.Update(img)
	s.touchLastSeen()
}

func (s *Supervisor) liveRunning() bool {
	media := s.Media()
	return media != nil && media.IsRunning(camera.RoleLivePreview)
}

// keepFeedWarm hands waiting consumers the last known image so their
// connections do not stall while the device reconnects.
func (s *Supervisor) keepFeedWarm() {
	if s.hub.Count() == 0 {
		return
	}
	img := s.snapshots.Latest().Bytes
	if len(img) == 0 {
		img = snapshot.Placeholder()
	}
	s.hub.QueueFrame(img)
}

func (s *Supervisor) takeSnapshotAsync() {
	s.goAsync(func(ctx context.Context) {
		if err := s.captureSnapshot(ctx); err != nil && !canceled(ctx) {
			s.logger.Debug().Err(err).Msg("snapshot capture failed")
		}
	})
}

// captureSnapshot starts the snapshot role, whose result arrives through
// the ingest endpoint, or fetches a vendor snapshot URL directly.
func (s *Supervisor) captureSnapshot(ctx context.Context) error {
	urls := s.URLs()
	switch {
	case urls.SnapshotFromTranscoder():
		media := s.Media()
		if media == nil {
			return camera.ErrNotStarted
		}
		_, err := media.EnsureRole(ctx, camera.RoleSnapshot)
		return err
	case urls.Snapshot == "":
		return nil
	}
	d := s.Device()
	img, err := FetchSnapshot(ctx, s.client, urls.Snapshot, d.User, d.Password)
	if err != nil {
		return err
	}
	s.ProcessSnapshot(img)
	return nil
}

func (s *Supervisor) onHubActive() {
	s.goAsync(func(ctx context.Context) {
		s.keepFeedWarm()
		if err := s.StartLivePreview(ctx); err != nil && !errors.Is(err, camera.ErrOffline) {
			s.logger.Warn().Err(err).Msg("failed to start live preview")
		}
	})
}

// onHubIdle lets the live preview idle down; the next health poll stops it.
func (s *Supervisor) onHubIdle() {
	if media := s.Media(); media != nil {
		media.SetKeepAlive(camera.RoleLivePreview, 0)
	}
}

// StartLivePreview runs the live-preview role pinned until the hub empties.
func (s *Supervisor) StartLivePreview(ctx context.Context) error {
	media, err := s.onlineMedia()
	if err != nil {
		return err
	}
	media.SetKeepAlive(camera.RoleLivePreview, orchestrator.KeepAliveForever)
	if _, err := media.EnsureRole(ctx, camera.RoleLivePreview); err != nil {
		return err
	}
	if s.hub.Count() == 0 {
		media.SetKeepAlive(camera.RoleLivePreview, 0)
	}
	return nil
}

// StartRestream ensures the HLS or DASH restream runs and returns the
// manifest path. Every call refreshes the restream keepalive.
func (s *Supervisor) StartRestream(ctx context.Context, format orchestrator.RestreamFormat) (string, error) {
	media, err := s.onlineMedia()
	if err != nil {
		return "", err
	}
	if _, err := media.SetRestreamFormat(ctx, format); err != nil {
		return "", err
	}
	if _, err := media.EnsureRole(ctx, camera.RoleRestream); err != nil {
		return "", err
	}
	return media.ManifestPath(format), nil
}

// RecordClip records a GIF or MP4 clip of seconds length and returns its path.
func (s *Supervisor) RecordClip(ctx context.Context, role camera.Role, seconds int) (string, error) {
	media, err := s.onlineMedia()
	if err != nil {
		return "", err
	}
	switch role {
	case camera.RoleGif:
		return media.RecordGif(ctx, seconds)
	case camera.RoleMp4Record:
		return media.RecordMp4(ctx, seconds)
	default:
		return "", camera.ConfigErrorf("role %s is not a clip", role)
	}
}

func (s *Supervisor) onlineMedia() (*orchestrator.Media, error) {
	if !s.Running() {
		return nil, camera.ErrNotStarted
	}
	if !s.Status().Online() {
		return nil, camera.ErrOffline
	}
	media := s.Media()
	if media == nil {
		return nil, camera.ErrNotStarted
	}
	return media, nil
}
