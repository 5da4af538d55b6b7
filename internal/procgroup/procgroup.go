// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package procgroup starts transcoder processes in their own process group and
// tears the whole group down with a bounded SIGTERM -> SIGKILL sequence.
package procgroup

import (
	"errors"
	"os/exec"
	"syscall"
	"time"

	"github.com/ManuGH/camvisor/internal/log"
	"github.com/ManuGH/camvisor/internal/metrics"
)

// ErrKillFailed is returned when the group is still alive after SIGKILL and the kill timeout.
var ErrKillFailed = errors.New("kill operation failed")

// Terminate stops the process group of cmd. exited must be closed by the owner
// once cmd.Wait has returned. SIGTERM is sent first; after grace the group is
// killed. If the process has not exited killTimeout after SIGKILL, ErrKillFailed
// is returned and the caller is expected to proceed anyway.
func Terminate(cmd *exec.Cmd, exited <-chan struct{}, grace, killTimeout time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	select {
	case <-exited:
		return nil
	default:
	}

	observeSignal("SIGTERM", Kill(cmd, syscall.SIGTERM))

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-exited:
		return nil
	case <-timer.C:
	}

	log.L().Warn().
		Int(log.FieldPID, cmd.Process.Pid).
		Dur("grace", grace).
		Msg("SIGTERM grace period exceeded, sending SIGKILL to process group")
	observeSignal("SIGKILL", Kill(cmd, syscall.SIGKILL))

	killTimer := time.NewTimer(killTimeout)
	defer killTimer.Stop()
	select {
	case <-exited:
		return nil
	case <-killTimer.C:
		metrics.ProcessSignals.WithLabelValues("SIGKILL", "timeout").Inc()
		return ErrKillFailed
	}
}

func observeSignal(signal string, err error) {
	result := "sent"
	if err != nil {
		result = "error"
	}
	metrics.ProcessSignals.WithLabelValues(signal, result).Inc()
}
