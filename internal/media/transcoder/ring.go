// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transcoder

import "sync"

// RingBuffer keeps the last N output lines of a process.
type RingBuffer struct {
	mu    sync.Mutex
	lines []string
	pos   int
	full  bool
}

// NewRingBuffer returns a buffer holding up to size lines (minimum 1).
func NewRingBuffer(size int) *RingBuffer {
	if size < 1 {
		size = 1
	}
	return &RingBuffer{lines: make([]string, size)}
}

func (r *RingBuffer) Add(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines[r.pos] = line
	r.pos = (r.pos + 1) % len(r.lines)
	if r.pos == 0 {
		r.full = true
	}
}

// Last returns up to n of the most recent lines, oldest first. n <= 0 returns all.
func (r *RingBuffer) Last(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var all []string
	if !r.full {
		all = append([]string(nil), r.lines[:r.pos]...)
	} else {
		all = make([]string, len(r.lines))
		copy(all, r.lines[r.pos:])
		copy(all[len(r.lines)-r.pos:], r.lines[:r.pos])
	}
	if n > 0 && n < len(all) {
		return all[len(all)-n:]
	}
	return all
}
