package engine

import (
	"fmt"
	"sync"
	"time"
)

// Stats is a snapshot of an engine's cumulative performance counters since
// the engine started or since the last resetting mark.
type Stats struct {
	TimeElapsed float64 `json:"time_elapsed"`          // Seconds covered by this snapshot.
	Requests    int64   `json:"requests"`              // Total requests completed.
	Bytes       int64   `json:"bytes"`                 // Total payload bytes transferred.
	Errors      int64   `json:"errors"`                // Total failed requests.
	MinLatency  float64 `json:"min_latency,omitempty"` // Smallest observed latency, in seconds.
	MeanLatency float64 `json:"mean_latency,omitempty"`
	MaxLatency  float64 `json:"max_latency,omitempty"`
}

func (s *Stats) String() string {
	return fmt.Sprintf(
		"Stats{TimeElapsed: %.3f, Requests: %d, Bytes: %d, Errors: %d, MeanLatency: %.6f}",
		s.TimeElapsed,
		s.Requests,
		s.Bytes,
		s.Errors,
		s.MeanLatency,
	)
}

// recorder accumulates performance counters for an engine. All operations
// are safe for concurrent use by the engine's request goroutines.
type recorder struct {
	mtx        sync.Mutex
	start      time.Time
	requests   int64
	bytes      int64
	errors     int64
	latencySum time.Duration
	latencyMin time.Duration
	latencyMax time.Duration
}

func newRecorder() *recorder {
	return &recorder{start: time.Now()}
}

// record tracks a single completed request.
func (r *recorder) record(latency time.Duration, byteCount int64, err error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if err != nil {
		r.errors++
		return
	}
	r.requests++
	r.bytes += byteCount
	r.latencySum += latency
	if r.latencyMin == 0 || latency < r.latencyMin {
		r.latencyMin = latency
	}
	if latency > r.latencyMax {
		r.latencyMax = latency
	}
}

// mark snapshots the counters, optionally resetting them. The read and the
// reset happen under a single critical section so no sample is ever lost
// between two marks.
func (r *recorder) mark(reset bool) *Stats {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	stats := &Stats{
		TimeElapsed: time.Since(r.start).Seconds(),
		Requests:    r.requests,
		Bytes:       r.bytes,
		Errors:      r.errors,
		MinLatency:  r.latencyMin.Seconds(),
		MaxLatency:  r.latencyMax.Seconds(),
	}
	if r.requests > 0 {
		stats.MeanLatency = (r.latencySum / time.Duration(r.requests)).Seconds()
	}
	if reset {
		r.start = time.Now()
		r.requests = 0
		r.bytes = 0
		r.errors = 0
		r.latencySum = 0
		r.latencyMin = 0
		r.latencyMax = 0
	}
	return stats
}
