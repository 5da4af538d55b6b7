// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/camvisor/internal/log"
	"github.com/ManuGH/camvisor/internal/metrics"
)

// JobFunc is one run of a repeating job. Returning done=true ends the job.
type JobFunc func(ctx context.Context) (done bool)

// Scheduler runs the repeating jobs of all devices.
type Scheduler struct {
	logger zerolog.Logger
	wg     sync.WaitGroup
}

// NewScheduler returns an empty scheduler.
func NewScheduler(logger zerolog.Logger) *Scheduler {
	return &Scheduler{logger: logger}
}

// Job is a handle on a repeating job.
type Job struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
	runs   atomic.Int64
}

// Cancel stops the job. It does not wait; a run in progress observes the
// canceled context. Safe to call from inside the job.
func (j *Job) Cancel() {
	if j != nil {
		j.cancel()
	}
}

// Done is closed once the job goroutine returned.
func (j *Job) Done() <-chan struct{} { return j.done }

// Runs returns how many times the job body ran.
func (j *Job) Runs() int64 { return j.runs.Load() }

// Name returns the job name.
func (j *Job) Name() string { return j.name }

// Every runs fn after delay and then every interval until fn reports done,
// parent is canceled or the job is canceled. Each run gets a context bounded
// by timeout (no bound when timeout <= 0). A panicking run is recovered and
// the job keeps its schedule.
func (s *Scheduler) Every(parent context.Context, name string, delay, interval, timeout time.Duration, fn JobFunc) *Job {
	if interval <= 0 {
		interval = time.Second
	}
	ctx, cancel := context.WithCancel(parent)
	j := &Job{name: name, cancel: cancel, done: make(chan struct{})}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(j.done)
		defer cancel()

		if !sleep(ctx, delay) {
			return
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			if s.runOnce(ctx, j, timeout, fn) {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return j
}

func (s *Scheduler) runOnce(ctx context.Context, j *Job, timeout time.Duration, fn JobFunc) (done bool) {
	if ctx.Err() != nil {
		return true
	}
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			metrics.JobPanics.WithLabelValues(j.name).Inc()
			s.logger.Error().
				Str(log.FieldEvent, "job.panic").
				Str("job", j.name).
				Str("panic", fmt.Sprint(r)).
				Bytes("stack", debug.Stack()).
				Msg("recovered panic in scheduled job")
			done = false
		}
	}()
	j.runs.Add(1)
	return fn(runCtx)
}

// Wait blocks until every job has returned.
func (s *Scheduler) Wait() { s.wg.Wait() }

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// guard runs fn and converts a panic into an error.
func guard(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.JobPanics.WithLabelValues(name).Inc()
			err = fmt.Errorf("%s panicked: %v", name, r)
		}
	}()
	return fn()
}
