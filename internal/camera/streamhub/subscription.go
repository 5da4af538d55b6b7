// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package streamhub

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/ManuGH/camvisor/internal/metrics"
)

// Subscription is one consumer of the live feed. Frames are delivered through
// a bounded queue; when the consumer falls behind the oldest frame is dropped.
type Subscription struct {
	ID string

	hub     *Hub
	frames  chan []byte
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64
}

func newSubscription(h *Hub, size int) *Subscription {
	return &Subscription{
		ID:     uuid.NewString(),
		hub:    h,
		frames: make(chan []byte, size),
		done:   make(chan struct{}),
	}
}

// Frames yields multipart parts ready to be written.
func (s *Subscription) Frames() <-chan []byte { return s.frames }

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Dropped returns the number of frames discarded for this consumer.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close detaches the consumer from its hub.
func (s *Subscription) Close() {
	s.hub.Unsubscribe(s)
}

func (s *Subscription) markClosed() {
	s.once.Do(func() { close(s.done) })
}

func (s *Subscription) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// offer never blocks. It reports false when the frame was not queued.
func (s *Subscription) offer(part []byte) bool {
	if s.isClosed() {
		return false
	}
	select {
	case s.frames <- part:
		return true
	default:
	}

	select {
	case <-s.frames:
		s.drop()
	default:
	}
	select {
	case s.frames <- part:
		return true
	default:
		s.drop()
		return false
	}
}

func (s *Subscription) drop() {
	s.dropped.Add(1)
	metrics.DroppedFrames.WithLabelValues(s.hub.deviceID).Inc()
}
