// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package transcoder runs external transcoder processes for a device role and
// exposes their liveness, output and exit to the media orchestrator.
package transcoder

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/camvisor/internal/camera"
	"github.com/ManuGH/camvisor/internal/log"
	"github.com/ManuGH/camvisor/internal/metrics"
	"github.com/ManuGH/camvisor/internal/procgroup"
)

const (
	defaultRingSize    = 100
	defaultKillTimeout = 5 * time.Second
	maxLineBytes       = 256 * 1024
	stalledGrace       = 2 * time.Second
)

// Spec describes one transcoder invocation.
type Spec struct {
	Role     camera.Role
	DeviceID string
	// Description is the human-readable identity of the command. Two specs
	// with the same description are considered the same process.
	Description string
	Args        []string
	WorkDir     string
	LogPath     string
	Env         []string
}

// Fingerprint identifies the effective command line.
func (s Spec) Fingerprint() string {
	h := sha256.New()
	h.Write([]byte(s.Description))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(s.Args, "\x00")))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Events are invoked from the process monitor goroutine.
type Events struct {
	// OnOutput fires for every output line.
	OnOutput func(line string)
	// OnFailure fires for output lines that indicate a fatal condition.
	OnFailure func(err error)
	// OnExit fires once after the process is reaped. requested is true when
	// the exit followed a Stop call.
	OnExit func(err error, requested bool)
}

// Handle controls a started process.
type Handle interface {
	PID() int
	Running() bool
	// LastOutput is the time of the most recent output line (start time before any).
	LastOutput() time.Time
	Done() <-chan struct{}
	// Err is the exit error once Done is closed.
	Err() error
	// Stop terminates the process group and waits for it to exit.
	Stop(grace time.Duration) error
	Tail(n int) []string
}

// Starter launches processes. The orchestrator depends on this interface.
type Starter interface {
	Start(ctx context.Context, spec Spec, events Events) (Handle, error)
}

// Executor starts real processes.
type Executor struct {
	BinaryPath  string
	KillTimeout time.Duration
	RingSize    int
	LogMaxBytes int64
	Logger      zerolog.Logger
	// StartTimeout and StallTimeout arm a progress Watchdog per process;
	// zero disables the check.
	StartTimeout time.Duration
	StallTimeout time.Duration
}

var _ Starter = (*Executor)(nil)

// NewExecutor returns an Executor for binaryPath (default "ffmpeg").
func NewExecutor(binaryPath string, logger zerolog.Logger) *Executor {
	if binaryPath == "" {
		binaryPath = "ffmpeg"
	}
	return &Executor{
		BinaryPath:  binaryPath,
		KillTimeout: defaultKillTimeout,
		RingSize:    defaultRingSize,
		LogMaxBytes: DefaultLogMaxBytes,
		Logger:      logger,
	}
}

// Start launches spec. The process is not bound to ctx; its lifetime is owned
// by the returned handle.
func (e *Executor) Start(ctx context.Context, spec Spec, events Events) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// #nosec G204 -- binary is configured, args are built by the orchestrator
	cmd := exec.Command(e.BinaryPath, spec.Args...)
	cmd.Dir = spec.WorkDir
	if len(spec.Env) > 0 {
		cmd.Env = append(cmd.Environ(), spec.Env...)
	}
	procgroup.Set(cmd)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to pipe stderr: %w", err)
	}
	cmd.Stdout = io.Discard

	var sink *logSink
	if spec.LogPath != "" {
		sink, err = openLogSink(spec.LogPath, e.LogMaxBytes)
		if err != nil {
			e.Logger.Warn().Err(err).Str(log.FieldPath, spec.LogPath).Msg("transcoder log sink unavailable")
		}
	}

	if err := cmd.Start(); err != nil {
		if sink != nil {
			_ = sink.Close()
		}
		return nil, &camera.ProcessFailure{Role: spec.Role, Reason: "start", Err: err}
	}

	killTimeout := e.KillTimeout
	if killTimeout <= 0 {
		killTimeout = defaultKillTimeout
	}
	h := &handle{
		cmd:         cmd,
		spec:        spec,
		events:      events,
		ring:        NewRingBuffer(e.RingSize),
		sink:        sink,
		done:        make(chan struct{}),
		killTimeout: killTimeout,
		logger: e.Logger.With().
			Str(log.FieldDeviceID, spec.DeviceID).
			Str(log.FieldRole, spec.Role.String()).
			Int(log.FieldPID, cmd.Process.Pid).
			Logger(),
	}
	h.lastOutput.Store(time.Now().UnixNano())
	if e.StartTimeout > 0 || e.StallTimeout > 0 {
		h.watchdog = NewWatchdog(e.StartTimeout, e.StallTimeout)
		go h.watch()
	}

	h.logger.Debug().Str(log.FieldEvent, "transcoder.started").Msg("transcoder started")
	go h.monitor(stderr)
	return h, nil
}

type handle struct {
	cmd         *exec.Cmd
	spec        Spec
	events      Events
	ring        *RingBuffer
	sink        *logSink
	watchdog    *Watchdog
	killTimeout time.Duration
	logger      zerolog.Logger

	lastOutput atomic.Int64
	stopping   atomic.Bool

	done    chan struct{}
	errMu   sync.Mutex
	exitErr error

	stopOnce sync.Once
	stopErr  error
}

func (h *handle) PID() int { return h.cmd.Process.Pid }

func (h *handle) Running() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (h *handle) LastOutput() time.Time { return time.Unix(0, h.lastOutput.Load()) }

func (h *handle) Done() <-chan struct{} { return h.done }

func (h *handle) Err() error {
	h.errMu.Lock()
	defer h.errMu.Unlock()
	return h.exitErr
}

func (h *handle) Tail(n int) []string { return h.ring.Last(n) }

func (h *handle) Stop(grace time.Duration) error {
	h.stopOnce.Do(func() {
		h.stopping.Store(true)
		h.stopErr = procgroup.Terminate(h.cmd, h.done, grace, h.killTimeout)
		if h.stopErr != nil {
			h.logger.Error().Err(h.stopErr).Msg("transcoder did not exit after SIGKILL")
		}
	})
	return h.stopErr
}

// watch terminates the process when the watchdog gives up on it. The exit
// is reported as unrequested.
func (h *handle) watch() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-h.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	err := h.watchdog.Run(ctx)
	if err == nil || h.stopping.Load() {
		return
	}
	failure := &camera.ProcessFailure{Role: h.spec.Role, Reason: KindStalled, Err: err}
	metrics.ProcessFailures.WithLabelValues(h.spec.Role.String(), KindStalled).Inc()
	h.logger.Warn().Err(failure).Str(log.FieldEvent, "transcoder.stalled").Msg("transcoder made no progress, terminating")
	if h.events.OnFailure != nil {
		h.events.OnFailure(failure)
	}
	h.stopOnce.Do(func() {
		h.stopErr = procgroup.Terminate(h.cmd, h.done, stalledGrace, h.killTimeout)
	})
}

func (h *handle) monitor(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	// ffmpeg terminates progress lines with \r.
	scanner.Split(scanLinesCR)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		h.lastOutput.Store(time.Now().UnixNano())
		h.ring.Add(line)
		if h.sink != nil {
			h.sink.WriteLine(line)
		}
		if h.events.OnOutput != nil {
			h.events.OnOutput(line)
		}
		if h.watchdog != nil {
			h.watchdog.Observe(line)
		}
		if isProgress(line) || h.stopping.Load() {
			continue
		}
		if failure := ClassifyLine(h.spec.Role, line); failure != nil {
			metrics.ProcessFailures.WithLabelValues(h.spec.Role.String(), classifyKind(line)).Inc()
			h.logger.Warn().Err(failure).Msg("transcoder reported failure")
			if h.events.OnFailure != nil {
				h.events.OnFailure(failure)
			}
		}
	}

	err := h.cmd.Wait()
	requested := h.stopping.Load()
	if err != nil && !requested {
		err = &camera.ProcessFailure{Role: h.spec.Role, Reason: KindExit, Err: err}
		metrics.ProcessFailures.WithLabelValues(h.spec.Role.String(), KindExit).Inc()
	}
	if requested {
		// Signal-induced exit statuses are expected after Stop.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			err = nil
		}
	}

	h.errMu.Lock()
	h.exitErr = err
	h.errMu.Unlock()
	if h.sink != nil {
		_ = h.sink.Close()
	}
	close(h.done)

	ev := h.logger.Debug()
	if err != nil {
		ev = h.logger.Warn().Err(err).Strs("tail", h.ring.Last(5))
	}
	ev.Str(log.FieldEvent, "transcoder.exited").Bool("requested", requested).Msg("transcoder exited")

	if h.events.OnExit != nil {
		h.events.OnExit(err, requested)
	}
}

// scanLinesCR splits on \n or \r.
func scanLinesCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
