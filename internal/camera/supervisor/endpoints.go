// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"context"
	"math"

	"github.com/ManuGH/camvisor/internal/camera"
	"github.com/ManuGH/camvisor/internal/camera/endpoint"
	"github.com/ManuGH/camvisor/internal/log"
)

// Threshold slider bounds.
const (
	thresholdMin = 0
	thresholdMax = 100
)

func (s *Supervisor) createPrimaryEndpoints(d *camera.Device) {
	reg := s.endpoints
	reg.AddOrGet(endpoint.DeviceStatus, func(id string) *endpoint.Endpoint {
		names := make([]string, 0, len(camera.Statuses))
		for _, st := range camera.Statuses {
			names = append(names, st.String())
		}
		return endpoint.NewSelect(id, names, false).WithInitial(s.Status().String())
	})
	reg.AddOrGet(endpoint.LastSeen, func(id string) *endpoint.Endpoint {
		return endpoint.NewNumber(id, false)
	})
	reg.AddOrGet(endpoint.MotionThreshold, func(id string) *endpoint.Endpoint {
		return endpoint.NewSlider(id, thresholdMin, thresholdMax, true).
			WithInitial(float64(d.MotionThreshold)).
			WithHandler(s.applyMotionThreshold)
	})
	if d.HasAudio {
		reg.AddOrGet(endpoint.AudioThreshold, func(id string) *endpoint.Endpoint {
			return endpoint.NewSlider(id, thresholdMin, thresholdMax, true).
				WithInitial(float64(d.AudioThreshold)).
				WithHandler(s.applyAudioThreshold)
		})
	}
	if ptz, ok := d.Handler.(camera.SupportsPTZ); ok && d.SupportsPTZ {
		s.createPTZEndpoints(d, ptz)
	}
}

// applyMotionThreshold pushes a motion threshold to the device. Zero turns
// the alarm off instead of arming it with a zero threshold.
func (s *Supervisor) applyMotionThreshold(ctx context.Context, v any) error {
	threshold := toThreshold(v)
	alarm, ok := s.Device().Handler.(camera.SupportsMotionAlarm)
	if threshold <= 0 {
		if ok {
			if err := alarm.DisableMotionAlarm(ctx); err != nil {
				return err
			}
		}
		s.setAlarm(ctx, endpoint.MotionAlarm, false)
		return nil
	}
	if !ok {
		return nil
	}
	return alarm.SetMotionThreshold(ctx, threshold)
}

func (s *Supervisor) applyAudioThreshold(ctx context.Context, v any) error {
	threshold := toThreshold(v)
	alarm, ok := s.Device().Handler.(camera.SupportsAudioAlarm)
	if threshold <= 0 {
		if ok {
			if err := alarm.DisableAudioAlarm(ctx); err != nil {
				return err
			}
		}
		s.setAlarm(ctx, endpoint.AudioAlarm, false)
		return nil
	}
	if !ok {
		return nil
	}
	return alarm.SetAudioThreshold(ctx, threshold)
}

func toThreshold(v any) int {
	f, _ := v.(float64)
	return int(math.Round(f))
}

func (s *Supervisor) createPTZEndpoints(d *camera.Device, ptz camera.SupportsPTZ) {
	lo, hi := 0.0, 100.0
	if d.ContinuousPTZ {
		lo, hi = -1, 1
	}
	axis := func(id string, move func(context.Context, float64) error) {
		s.endpoints.AddOrGet(id, func(id string) *endpoint.Endpoint {
			return endpoint.NewSlider(id, lo, hi, true).WithHandler(func(ctx context.Context, v any) error {
				f, _ := v.(float64)
				return move(ctx, f)
			})
		})
	}
	axis(endpoint.Pan, ptz.Pan)
	axis(endpoint.Tilt, ptz.Tilt)
	axis(endpoint.Zoom, ptz.Zoom)

	trigger := func(id string, fn func(context.Context) error) {
		s.endpoints.AddOrGet(id, func(id string) *endpoint.Endpoint {
			return endpoint.NewTrigger(id).WithHandler(func(ctx context.Context, _ any) error { return fn(ctx) })
		})
	}
	trigger(endpoint.PTZHome, ptz.Home)
	trigger(endpoint.PTZStop, ptz.StopMove)
}

// setAlarm creates the read-only alarm switch id on first use and stores on.
func (s *Supervisor) setAlarm(ctx context.Context, id string, on bool) {
	s.endpoints.AddOrGet(id, func(id string) *endpoint.Endpoint {
		return endpoint.NewBool(id, false)
	})
	if _, err := s.endpoints.Write(ctx, id, on, false); err != nil {
		s.logger.Debug().Err(err).Str("endpoint", id).Msg("failed to update alarm")
	}
}

// MotionDetected records a motion alarm with its score in [0, 1].
func (s *Supervisor) MotionDetected(ctx context.Context, on bool, score float64) {
	s.endpoints.AddOrGet(endpoint.MotionScore, func(id string) *endpoint.Endpoint {
		return endpoint.NewNumber(id, false)
	})
	if _, err := s.endpoints.Write(ctx, endpoint.MotionScore, math.Round(score*10000)/100, false); err != nil {
		s.logger.Debug().Err(err).Msg("failed to update motion score")
	}
	s.setAlarm(ctx, endpoint.MotionAlarm, on)
	s.touchLastSeen()
}

// AlarmDetected records a named alarm, e.g. "audio-alarm" or a vendor line
// crossing alarm.
func (s *Supervisor) AlarmDetected(ctx context.Context, name string, on bool) {
	s.setAlarm(ctx, name, on)
	s.touchLastSeen()
}

// HandleEvent routes a pushed vendor event. Boolean values update the alarm
// endpoint of the same name; anything else goes to the handler's EventSink.
func (s *Supervisor) HandleEvent(ctx context.Context, name string, value any) {
	if !s.Running() {
		return
	}
	s.logger.Debug().Str(log.FieldEvent, "supervisor.vendor_event").Str("name", name).Interface("value", value).Msg("vendor event")
	if on, ok := value.(bool); ok {
		s.AlarmDetected(ctx, name, on)
		return
	}
	if sink, ok := s.Device().Handler.(camera.EventSink); ok {
		sink.HandleEvent(name, value)
	}
	s.touchLastSeen()
}
