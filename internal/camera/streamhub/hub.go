// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package streamhub fans out a device's live MJPEG frames to every open
// consumer and tracks when the live feed is needed at all.
package streamhub

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ManuGH/camvisor/internal/log"
	"github.com/ManuGH/camvisor/internal/metrics"
)

const (
	// DefaultBoundary delimits multipart frames.
	DefaultBoundary = "thisMjpegStream"
	// DefaultQueueSize is the per-subscriber frame budget.
	DefaultQueueSize = 50
)

// ErrClosed is returned by Subscribe after the hub was closed.
var ErrClosed = errors.New("stream hub closed")

// Option configures a Hub.
type Option func(*Hub)

// WithQueueSize sets the per-subscriber queue length.
func WithQueueSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

// WithBoundary overrides the multipart boundary token.
func WithBoundary(b string) Option {
	return func(h *Hub) {
		if b != "" {
			h.boundary = b
		}
	}
}

// WithOnActive is called when the subscriber count goes from 0 to 1.
func WithOnActive(fn func()) Option {
	return func(h *Hub) { h.onActive = fn }
}

// WithOnIdle is called when the subscriber count drops back to 0.
func WithOnIdle(fn func()) Option {
	return func(h *Hub) { h.onIdle = fn }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(h *Hub) { h.logger = l }
}

// Hub holds the ordered subscriber list of one device.
type Hub struct {
	deviceID  string
	boundary  string
	queueSize int
	onActive  func()
	onIdle    func()
	logger    zerolog.Logger

	mu     sync.Mutex
	subs   []*Subscription
	closed bool
}

// New creates a hub for deviceID.
func New(deviceID string, opts ...Option) *Hub {
	h := &Hub{
		deviceID:  deviceID,
		boundary:  DefaultBoundary,
		queueSize: DefaultQueueSize,
		logger:    log.WithDevice("streamhub", deviceID),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Boundary returns the multipart boundary token.
func (h *Hub) Boundary() string { return h.boundary }

// ContentType is the response content type for MJPEG consumers.
func (h *Hub) ContentType() string {
	return "multipart/x-mixed-replace; boundary=" + h.boundary
}

// Subscribe adds a consumer at the end of the subscriber list.
func (h *Hub) Subscribe() (*Subscription, error) {
	sub := newSubscription(h, h.queueSize)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	h.subs = append(h.subs, sub)
	n := len(h.subs)
	h.mu.Unlock()

	metrics.StreamSubscribers.WithLabelValues(h.deviceID).Set(float64(n))
	h.logger.Debug().
		Str(log.FieldEvent, "streamhub.subscribed").
		Str(log.FieldSubscriptionID, sub.ID).
		Int("subscribers", n).
		Msg("stream consumer subscribed")

	if n == 1 && h.onActive != nil {
		h.onActive()
	}
	return sub, nil
}

// Unsubscribe removes sub. Calling it more than once is harmless.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	sub.markClosed()

	h.mu.Lock()
	removed := h.removeLocked(sub)
	n := len(h.subs)
	closed := h.closed
	h.mu.Unlock()

	if !removed {
		return
	}
	h.afterRemove(n, closed)
}

func (h *Hub) removeLocked(sub *Subscription) bool {
	for i, s := range h.subs {
		if s == sub {
			h.subs = append(h.subs[:i], h.subs[i+1:]...)
			return true
		}
	}
	return false
}

func (h *Hub) afterRemove(n int, closed bool) {
	metrics.StreamSubscribers.WithLabelValues(h.deviceID).Set(float64(n))
	h.logger.Debug().
		Str(log.FieldEvent, "streamhub.unsubscribed").
		Int("subscribers", n).
		Msg("stream consumer left")
	if n == 0 && !closed && h.onIdle != nil {
		h.onIdle()
	}
}

// Count returns the number of live subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// QueueFrame wraps jpeg in a multipart part and offers it to every
// subscriber. Nothing is queued while there are no subscribers. Subscribers
// that went away are removed on the way.
func (h *Hub) QueueFrame(jpeg []byte) {
	h.mu.Lock()
	if len(h.subs) == 0 || h.closed {
		h.mu.Unlock()
		return
	}
	targets := make([]*Subscription, len(h.subs))
	copy(targets, h.subs)
	h.mu.Unlock()

	part := h.Part(jpeg)
	var gone []*Subscription
	for _, sub := range targets {
		if !sub.offer(part) {
			if sub.isClosed() {
				gone = append(gone, sub)
			}
		}
	}
	for _, sub := range gone {
		h.Unsubscribe(sub)
	}
}

// Part renders one multipart part carrying jpeg.
func (h *Hub) Part(jpeg []byte) []byte {
	header := fmt.Sprintf("--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", h.boundary, len(jpeg))
	part := make([]byte, 0, len(header)+len(jpeg)+2)
	part = append(part, header...)
	part = append(part, jpeg...)
	part = append(part, '\r', '\n')
	return part
}

// Close ends every subscription and rejects new ones. The idle callback is
// not invoked; the owner is tearing the device down.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := h.subs
	h.subs = nil
	h.mu.Unlock()

	for _, sub := range subs {
		sub.markClosed()
	}
	metrics.StreamSubscribers.WithLabelValues(h.deviceID).Set(0)
}
