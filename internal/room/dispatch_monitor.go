package room

import (
	"sync"
	"time"
)

// DispatchStats summarises how long the dispatcher spent applying events.
type DispatchStats struct {
	Events  int           `json:"events"`
	Average time.Duration `json:"average_ns"`
	Max     time.Duration `json:"max_ns"`
	Last    time.Duration `json:"last_ns"`
	Slow    int           `json:"slow"`
}

// DispatchMonitor accumulates handler timings for one room. Events slower than
// the slow threshold are counted separately so a stalled room stands out.
type DispatchMonitor struct {
	mu    sync.Mutex
	slow  time.Duration
	stats DispatchStats
	total time.Duration
}

// NewDispatchMonitor constructs an empty monitor. A non-positive threshold
// disables slow event counting.
func NewDispatchMonitor(slow time.Duration) *DispatchMonitor {
	return &DispatchMonitor{slow: slow}
}

// Observe records the duration of one applied event.
func (m *DispatchMonitor) Observe(duration time.Duration) {
	if m == nil || duration <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.Events++
	m.total += duration
	if duration > m.stats.Max {
		m.stats.Max = duration
	}
	m.stats.Last = duration
	if m.slow > 0 && duration >= m.slow {
		m.stats.Slow++
	}
}

// Snapshot returns a copy of the aggregated timings.
func (m *DispatchMonitor) Snapshot() DispatchStats {
	if m == nil {
		return DispatchStats{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.stats
	if out.Events > 0 {
		out.Average = m.total / time.Duration(out.Events)
	}
	return out
}
