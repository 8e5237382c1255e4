// Package metrics provides an in-process monitor for operation counters and
// timings. A nil *Monitor is valid and records nothing, so callers can treat
// instrumentation as optional.
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Monitor accumulates named counters and operation timings.
type Monitor struct {
	mu       sync.Mutex
	counters map[string]int64
	timers   map[string]*timing
}

type timing struct {
	count int64
	total time.Duration
	max   time.Duration
}

// NewMonitor returns an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		counters: make(map[string]int64),
		timers:   make(map[string]*timing),
	}
}

// Inc adds one to the named counter.
func (m *Monitor) Inc(name string) {
	m.Add(name, 1)
}

// Add adds delta to the named counter.
func (m *Monitor) Add(name string, delta int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] += delta
}

// Observe records one duration sample for the named timer.
func (m *Monitor) Observe(name string, d time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tm, ok := m.timers[name]
	if !ok {
		tm = &timing{}
		m.timers[name] = tm
	}
	tm.count++
	tm.total += d
	if d > tm.max {
		tm.max = d
	}
}

// Time starts a timer sample and returns the function that stops it.
//
//	defer monitor.Time("retrieve.context")()
func (m *Monitor) Time(name string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		m.Observe(name, time.Since(start))
	}
}

// TimerStats summarizes one timer's samples.
type TimerStats struct {
	Count   int64
	Total   time.Duration
	Average time.Duration
	Max     time.Duration
}

// Snapshot is a point-in-time copy of the monitor's state.
type Snapshot struct {
	Counters map[string]int64
	Timers   map[string]TimerStats
}

// Snapshot copies the current counters and timer summaries.
func (m *Monitor) Snapshot() Snapshot {
	snap := Snapshot{
		Counters: make(map[string]int64),
		Timers:   make(map[string]TimerStats),
	}
	if m == nil {
		return snap
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for name, v := range m.counters {
		snap.Counters[name] = v
	}
	for name, tm := range m.timers {
		stats := TimerStats{Count: tm.count, Total: tm.total, Max: tm.max}
		if tm.count > 0 {
			stats.Average = tm.total / time.Duration(tm.count)
		}
		snap.Timers[name] = stats
	}
	return snap
}

// String renders the snapshot with sorted keys for display.
func (s Snapshot) String() string {
	var b strings.Builder

	names := make([]string, 0, len(s.Counters))
	for name := range s.Counters {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) > 0 {
		b.WriteString("counters:\n")
		for _, name := range names {
			fmt.Fprintf(&b, "  %s: %d\n", name, s.Counters[name])
		}
	}

	names = names[:0]
	for name := range s.Timers {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) > 0 {
		b.WriteString("timers:\n")
		for _, name := range names {
			st := s.Timers[name]
			fmt.Fprintf(&b, "  %s: n=%d avg=%s max=%s\n",
				name, st.Count, st.Average.Round(time.Microsecond), st.Max.Round(time.Microsecond))
		}
	}

	if b.Len() == 0 {
		return "no metrics recorded\n"
	}
	return b.String()
}
