package worker

import (
	"github.com/benchkit/qps-worker/pkg/engine"
)

// commandMsg is sent by the driver within an active session. Exactly one
// of the fields must be set: a session exchanges one setup descriptor,
// followed by zero or more marks.
type commandMsg struct {
	ClientSetup *engine.ClientConfig `json:"client_setup,omitempty"` // The setup descriptor for a client session.
	ServerSetup *engine.ServerConfig `json:"server_setup,omitempty"` // The setup descriptor for a server session.
	Mark        *markMsg             `json:"mark,omitempty"`         // A request for an updated performance snapshot.
}

// markMsg asks the active engine for a snapshot of its cumulative
// performance counters.
type markMsg struct {
	Reset bool `json:"reset,omitempty"` // Whether to reset the counters after reading them.
}

// statusMsg is the worker's reply to a command. The reply to a setup is a
// bare acknowledgment (a server session additionally carries the bound
// listening port); the reply to a mark carries a stats snapshot.
type statusMsg struct {
	Port  int           `json:"port,omitempty"`
	Stats *engine.Stats `json:"stats,omitempty"`
}
