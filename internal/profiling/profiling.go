package profiling

import (
	"os"
	"path/filepath"
	"runtime/pprof"
	"sync"

	"github.com/benchkit/qps-worker/internal/logging"
)

// Profiler brackets a benchmark session with a CPU profile. A zero-value
// directory disables profiling entirely, turning Start/Stop into no-ops.
// Only one profile can be in flight at a time, which the worker's session
// exclusivity already guarantees.
type Profiler struct {
	dir    string
	logger logging.Logger

	mtx sync.Mutex
	f   *os.File
}

func NewProfiler(dir string) *Profiler {
	return &Profiler{
		dir:    dir,
		logger: logging.NewLogrusLogger("profiler"),
	}
}

// Start begins writing a CPU profile named after the given session kind.
// Failure to start profiling is logged, never fatal: profiling is a side
// effect with no protocol significance.
func (p *Profiler) Start(name string) {
	if len(p.dir) == 0 {
		return
	}
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if p.f != nil {
		p.logger.Error("Profile already in progress - ignoring start request", "name", name)
		return
	}
	path := filepath.Join(p.dir, name+".prof")
	f, err := os.Create(path)
	if err != nil {
		p.logger.Error("Failed to create CPU profile file", "path", path, "err", err)
		return
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		p.logger.Error("Failed to start CPU profile", "path", path, "err", err)
		_ = f.Close()
		return
	}
	p.f = f
	p.logger.Debug("Started CPU profile", "path", path)
}

// Stop terminates any in-flight CPU profile. Safe to call unconditionally,
// including when Start failed or profiling is disabled.
func (p *Profiler) Stop() {
	if len(p.dir) == 0 {
		return
	}
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if p.f == nil {
		return
	}
	pprof.StopCPUProfile()
	if err := p.f.Close(); err != nil {
		p.logger.Error("Failed to close CPU profile file", "err", err)
	}
	p.f = nil
	p.logger.Debug("Stopped CPU profile")
}
