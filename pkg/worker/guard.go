package worker

import "sync"

// sessionGuard enforces that at most one benchmark session may be active
// on this worker process at a time, regardless of role. It is strictly
// single-occupancy: a mutex-protected boolean, not a semaphore.
type sessionGuard struct {
	mtx      sync.Mutex
	acquired bool
}

func newSessionGuard() *sessionGuard {
	return &sessionGuard{}
}

// TryAcquire marks the worker busy iff no session is currently active.
// It never blocks and has no side effect when it returns false.
func (g *sessionGuard) TryAcquire() bool {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	if g.acquired {
		return false
	}
	g.acquired = true
	return true
}

// Release clears the busy flag. Releasing a guard that is not held is a
// logic bug in the caller, not a recoverable runtime condition.
func (g *sessionGuard) Release() {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	if !g.acquired {
		panic("session guard released while not held")
	}
	g.acquired = false
}
