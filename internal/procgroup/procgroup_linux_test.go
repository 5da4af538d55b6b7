// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build linux

package procgroup

import (
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startGroup(t *testing.T, script string) (*exec.Cmd, chan struct{}) {
	t.Helper()
	cmd := exec.Command("sh", "-c", script)
	Set(cmd)
	require.NoError(t, cmd.Start())

	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()
	return cmd, exited
}

func TestSetMakesGroupLeader(t *testing.T) {
	cmd, exited := startGroup(t, "sleep 10")
	defer func() {
		_ = Kill(cmd, syscall.SIGKILL)
		<-exited
	}()

	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	require.NoError(t, err)
	assert.Equal(t, cmd.Process.Pid, pgid, "process should lead its own group")
}

func TestTerminateStopsOnSIGTERM(t *testing.T) {
	cmd, exited := startGroup(t, "sleep 10 & sleep 10")
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	err := Terminate(cmd, exited, 2*time.Second, time.Second)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second, "SIGTERM should be enough for sleep")
}

func TestTerminateEscalatesToSIGKILL(t *testing.T) {
	cmd, exited := startGroup(t, "trap '' TERM; while true; do sleep 0.05; done")
	time.Sleep(100 * time.Millisecond)

	err := Terminate(cmd, exited, 100*time.Millisecond, 2*time.Second)
	require.NoError(t, err)

	select {
	case <-exited:
	default:
		t.Fatal("process should have exited after SIGKILL")
	}
}

func TestTerminateAlreadyExited(t *testing.T) {
	cmd, exited := startGroup(t, "exit 0")
	<-exited
	assert.NoError(t, Terminate(cmd, exited, time.Second, time.Second))
}

func TestKillNilCommand(t *testing.T) {
	assert.NoError(t, Kill(nil, syscall.SIGKILL))
	assert.NoError(t, Terminate(nil, nil, time.Second, time.Second))
}
