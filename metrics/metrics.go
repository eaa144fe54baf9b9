// Package metrics provides lightweight, lock-free round counters using
// atomic operations so they impose minimal overhead on the pool's hot path.
package metrics

import (
	"sync/atomic"
	"time"
)

// Metrics tracks aggregate statistics for one worker pool.
//
// All counters are accessed exclusively through atomic operations, so a
// single Metrics value may be shared by the pool, its workers and any number
// of readers without additional synchronisation.
type Metrics struct {
	// Rounds is the number of completed parallel-for rounds.
	Rounds uint64

	// Items is the number of indices handed to round functions.
	Items uint64

	// Panics is the number of index invocations that panicked.
	Panics uint64

	// BusyNanos is the total wall-clock time spent inside rounds, measured
	// from publication to barrier closure.
	BusyNanos uint64

	lastItems        atomic.Uint64
	lastParticipants atomic.Uint64
	lastNanos        atomic.Uint64

	// startTime records when the metrics instance was created so that
	// ItemsPerSecond can compute a meaningful rate.
	startTime time.Time
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Rounds           uint64        `json:"rounds"`
	Items            uint64        `json:"items"`
	Panics           uint64        `json:"panics"`
	Busy             time.Duration `json:"busy_ns"`
	LastItems        uint64        `json:"last_items"`
	LastParticipants uint64        `json:"last_participants"`
	LastDuration     time.Duration `json:"last_duration_ns"`
	Uptime           time.Duration `json:"uptime_ns"`
}

// NewMetrics creates a Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// RecordRound accounts for one closed round: items indices were processed by
// participants distinct workers in elapsed time.
func (m *Metrics) RecordRound(items, participants int, elapsed time.Duration) {
	atomic.AddUint64(&m.Rounds, 1)
	atomic.AddUint64(&m.Items, uint64(items))
	atomic.AddUint64(&m.BusyNanos, uint64(elapsed))
	m.lastItems.Store(uint64(items))
	m.lastParticipants.Store(uint64(participants))
	m.lastNanos.Store(uint64(elapsed))
}

// IncrementPanics atomically increments the panicked-invocations counter.
func (m *Metrics) IncrementPanics() {
	atomic.AddUint64(&m.Panics, 1)
}

// ItemsPerSecond returns the average item throughput since the Metrics
// instance was created.  Returns 0 before any time has elapsed.
func (m *Metrics) ItemsPerSecond() float64 {
	elapsed := time.Since(m.startTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(atomic.LoadUint64(&m.Items)) / elapsed
}

// Snapshot returns a copy of the counters.  The loads are not performed under
// a single lock, so a snapshot taken while a round closes may mix values from
// before and after it.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Rounds:           atomic.LoadUint64(&m.Rounds),
		Items:            atomic.LoadUint64(&m.Items),
		Panics:           atomic.LoadUint64(&m.Panics),
		Busy:             time.Duration(atomic.LoadUint64(&m.BusyNanos)),
		LastItems:        m.lastItems.Load(),
		LastParticipants: m.lastParticipants.Load(),
		LastDuration:     time.Duration(m.lastNanos.Load()),
		Uptime:           time.Since(m.startTime),
	}
}
