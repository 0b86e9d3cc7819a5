package worker

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestSessionGuardMutualExclusion(t *testing.T) {
	g := newSessionGuard()

	const attempts = 100
	results := make(chan bool, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- g.TryAcquire()
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for ok := range results {
		if ok {
			succeeded++
		}
	}
	if succeeded != 1 {
		t.Errorf("expected exactly 1 of %d concurrent acquisitions to succeed, but got %d", attempts, succeeded)
	}

	// once the holder releases, the very next attempt must succeed
	g.Release()
	if !g.TryAcquire() {
		t.Error("expected acquisition to succeed immediately after release")
	}
	g.Release()
}

func TestSessionGuardSingleOccupancyUnderContention(t *testing.T) {
	g := newSessionGuard()

	var active int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				if !g.TryAcquire() {
					continue
				}
				if n := atomic.AddInt32(&active, 1); n != 1 {
					t.Errorf("expected exactly 1 active session, but found %d", n)
				}
				atomic.AddInt32(&active, -1)
				g.Release()
			}
		}()
	}
	wg.Wait()
}

func TestSessionGuardReleaseWhileNotHeldPanics(t *testing.T) {
	g := newSessionGuard()
	defer func() {
		if recover() == nil {
			t.Error("expected a panic when releasing a guard that is not held")
		}
	}()
	g.Release()
}
