// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transcoder

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/process"
)

// Stats is a resource sample of a running transcoder process.
type Stats struct {
	PID        int     `json:"pid"`
	CPUPercent float64 `json:"cpu_percent"`
	RSSBytes   uint64  `json:"rss_bytes"`
	Threads    int32   `json:"threads"`
}

// SampleStats reads CPU and memory usage of pid.
func SampleStats(ctx context.Context, pid int) (Stats, error) {
	if pid <= 0 {
		return Stats{}, fmt.Errorf("invalid pid %d", pid)
	}
	p, err := process.NewProcessWithContext(ctx, int32(pid)) // #nosec G115 -- pids fit in int32
	if err != nil {
		return Stats{}, fmt.Errorf("lookup process %d: %w", pid, err)
	}
	st := Stats{PID: pid}
	if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
		st.CPUPercent = cpu
	}
	if mem, err := p.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		st.RSSBytes = mem.RSS
	}
	if n, err := p.NumThreadsWithContext(ctx); err == nil {
		st.Threads = n
	}
	return st, nil
}
