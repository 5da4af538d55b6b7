// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transcoder

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DefaultLogMaxBytes caps a role log file before it is rotated to "<path>.1".
const DefaultLogMaxBytes = 2 << 20

// logSink appends process output to a per-role file with a single rotation.
type logSink struct {
	mu       sync.Mutex
	path     string
	maxBytes int64
	f        *os.File
	size     int64
}

func openLogSink(path string, maxBytes int64) (*logSink, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultLogMaxBytes
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	// Each start begins a fresh log; the previous run stays readable as .1.
	if _, err := os.Stat(path); err == nil {
		_ = os.Rename(path, path+".1")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640) // #nosec G304 -- path is built from the configured log dir
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	return &logSink{path: path, maxBytes: maxBytes, f: f}, nil
}

func (s *logSink) WriteLine(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return
	}
	if s.size+int64(len(line))+1 > s.maxBytes {
		s.rotate()
		if s.f == nil {
			return
		}
	}
	n, _ := s.f.WriteString(line + "\n")
	s.size += int64(n)
}

func (s *logSink) rotate() {
	_ = s.f.Close()
	_ = os.Rename(s.path, s.path+".1")
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640) // #nosec G304
	if err != nil {
		s.f = nil
		return
	}
	s.f = f
	s.size = 0
}

func (s *logSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
