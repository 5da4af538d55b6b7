// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/ManuGH/camvisor/internal/camera"
	"github.com/ManuGH/camvisor/internal/log"
	"github.com/ManuGH/camvisor/internal/media/orchestrator"
)

// Built-in action ids.
const (
	ActionSnapshot     = "snapshot"
	ActionStartStream  = "start-stream"
	ActionRecordGif    = "record-gif"
	ActionRecordMp4    = "record-mp4"
	ActionReboot       = "reboot"
	ActionAuthenticate = "authenticate"
)

// Default clip lengths in seconds.
const (
	defaultGifSeconds = 5
	defaultMp4Seconds = 10
)

// ErrUnknownAction is returned by RunAction for ids nobody handles.
var ErrUnknownAction = errors.New("unknown action")

// AssembleActions returns the UI actions of the device. The list is cached
// for ActionsTTL and rebuilt after every status change.
func (s *Supervisor) AssembleActions() []camera.Action {
	now := s.now()
	s.mu.Lock()
	if s.actions != nil && now.Sub(s.actionsAt) < s.cfg.ActionsTTL {
		out := append([]camera.Action(nil), s.actions...)
		s.mu.Unlock()
		return out
	}
	d := s.device
	offline := !s.state.Status.Online()
	s.mu.Unlock()

	actions := []camera.Action{
		{ID: ActionSnapshot, Label: "Take snapshot", Icon: "camera", Disabled: offline},
		{ID: ActionStartStream, Label: "Start stream", Icon: "play", Disabled: offline},
		{ID: ActionRecordGif, Label: "Record GIF", Icon: "film", Disabled: offline},
		{ID: ActionRecordMp4, Label: "Record MP4", Icon: "video", Disabled: offline},
	}
	if _, ok := d.Handler.(camera.SupportsReboot); ok {
		actions = append(actions, camera.Action{ID: ActionReboot, Label: "Reboot", Icon: "power-off", Confirm: "Reboot " + d.Title() + "?", Disabled: offline})
	}
	if _, ok := d.Handler.(camera.SupportsAuthenticate); ok {
		actions = append(actions, camera.Action{ID: ActionAuthenticate, Label: "Authenticate", Icon: "key"})
	}
	if p, ok := d.Handler.(camera.ActionProvider); ok {
		actions = append(actions, p.Actions()...)
	}

	s.mu.Lock()
	s.actions = actions
	s.actionsAt = now
	s.mu.Unlock()
	return append([]camera.Action(nil), actions...)
}

// RunAction executes the action id.
func (s *Supervisor) RunAction(ctx context.Context, id string, params map[string]string) error {
	d := s.Device()
	s.logger.Info().Str(log.FieldEvent, "supervisor.action").Str("action", id).Msg("running device action")

	switch id {
	case ActionSnapshot:
		if _, err := s.onlineMedia(); err != nil {
			return err
		}
		return s.captureSnapshot(ctx)
	case ActionStartStream:
		format := orchestrator.RestreamFormat(params["format"])
		if format == "" {
			format = orchestrator.FormatHLS
		}
		_, err := s.StartRestream(ctx, format)
		return err
	case ActionRecordGif:
		_, err := s.RecordClip(ctx, camera.RoleGif, secondsParam(params, defaultGifSeconds))
		return err
	case ActionRecordMp4:
		_, err := s.RecordClip(ctx, camera.RoleMp4Record, secondsParam(params, defaultMp4Seconds))
		return err
	case ActionReboot:
		r, ok := d.Handler.(camera.SupportsReboot)
		if !ok {
			break
		}
		if _, err := s.onlineMedia(); err != nil {
			return err
		}
		return guard("reboot", func() error { return r.Reboot(ctx) })
	case ActionAuthenticate:
		a, ok := d.Handler.(camera.SupportsAuthenticate)
		if !ok {
			break
		}
		if err := guard("authenticate", func() error { return a.Authenticate(ctx, params["user"], params["password"]) }); err != nil {
			return err
		}
		// Retry right away instead of waiting for the next connect interval.
		if !s.Status().Online() {
			s.startConnectJob()
		}
		return nil
	}

	if r, ok := d.Handler.(camera.ActionRunner); ok {
		return guard("action", func() error { return r.RunAction(ctx, id, params) })
	}
	return fmt.Errorf("%w: %s", ErrUnknownAction, id)
}

func secondsParam(params map[string]string, def int) int {
	if v, err := strconv.Atoi(params["seconds"]); err == nil && v > 0 {
		return v
	}
	return def
}
