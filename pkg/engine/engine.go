// Package engine provides the load-generating client engines and
// load-absorbing server engines driven by the worker's control protocol.
// An engine is created when a benchmark session is set up, runs until the
// session ends, and reports cumulative performance counters on demand.
package engine

// Engine is a stateful benchmarking engine owned exclusively by a single
// session for its entire lifetime.
type Engine interface {
	// Mark atomically reads the engine's cumulative performance counters,
	// optionally resetting them.
	Mark(reset bool) *Stats

	// Shutdown releases all of the engine's resources (goroutines, sockets,
	// timers), blocking until they have been released.
	Shutdown()
}

// Server is an Engine that absorbs load on its own listening socket.
type Server interface {
	Engine

	// Port returns the port the server engine is listening on.
	Port() int
}

// Engine styles determine the execution model of an engine.
const (
	StyleSync  = "sync"
	StyleAsync = "async"
)

// Call patterns for client engines.
const (
	PatternUnary     = "unary"
	PatternStreaming = "streaming"
)
