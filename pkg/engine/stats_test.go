package engine

import (
	"fmt"
	"testing"
	"time"
)

func TestRecorderAccumulation(t *testing.T) {
	r := newRecorder()
	r.record(10*time.Millisecond, 100, nil)
	r.record(30*time.Millisecond, 200, nil)
	r.record(0, 0, fmt.Errorf("request failed"))

	stats := r.mark(false)
	if stats.Requests != 2 {
		t.Errorf("expected 2 requests, but got %d", stats.Requests)
	}
	if stats.Bytes != 300 {
		t.Errorf("expected 300 bytes, but got %d", stats.Bytes)
	}
	if stats.Errors != 1 {
		t.Errorf("expected 1 error, but got %d", stats.Errors)
	}
	if stats.MinLatency != (10 * time.Millisecond).Seconds() {
		t.Errorf("expected min latency of 10ms, but got %fs", stats.MinLatency)
	}
	if stats.MaxLatency != (30 * time.Millisecond).Seconds() {
		t.Errorf("expected max latency of 30ms, but got %fs", stats.MaxLatency)
	}
	if stats.MeanLatency != (20 * time.Millisecond).Seconds() {
		t.Errorf("expected mean latency of 20ms, but got %fs", stats.MeanLatency)
	}
}

func TestRecorderMarkWithoutResetPreservesCounters(t *testing.T) {
	r := newRecorder()
	r.record(time.Millisecond, 10, nil)

	first := r.mark(false)
	second := r.mark(false)
	if first.Requests != second.Requests {
		t.Errorf("expected counters to be preserved across non-resetting marks, but got %d then %d", first.Requests, second.Requests)
	}
}

func TestRecorderMarkWithResetClearsCounters(t *testing.T) {
	r := newRecorder()
	r.record(time.Millisecond, 10, nil)
	r.record(0, 0, fmt.Errorf("request failed"))

	snapshot := r.mark(true)
	if snapshot.Requests != 1 || snapshot.Errors != 1 {
		t.Errorf("expected the resetting mark to report the pre-reset counters, but got %+v", snapshot)
	}

	cleared := r.mark(false)
	if cleared.Requests != 0 || cleared.Bytes != 0 || cleared.Errors != 0 || cleared.MinLatency != 0 || cleared.MaxLatency != 0 {
		t.Errorf("expected all counters to be cleared after a resetting mark, but got %+v", cleared)
	}
}
