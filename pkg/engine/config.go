package engine

import (
	"encoding/json"
	"fmt"
)

// ClientConfig identifies which client engine variant to construct and how
// hard it should drive its target endpoints.
type ClientConfig struct {
	Style       string   `json:"style"`                 // The execution model: "sync" or "async".
	Pattern     string   `json:"pattern"`               // The call pattern: "unary" or "streaming".
	Endpoints   []string `json:"endpoints"`             // The endpoints to drive load against.
	Connections int      `json:"connections"`           // The number of connections to open to each endpoint.
	Rate        int      `json:"rate"`                  // Requests per second, per connection.
	Size        int      `json:"size"`                  // The size of each request payload, in bytes.
	Outstanding int      `json:"outstanding,omitempty"` // Async engines only: the maximum in-flight request window per connection.
}

// ServerConfig identifies which server engine variant to construct.
type ServerConfig struct {
	Style string `json:"style"`          // The execution model: "sync" or "async".
	Port  int    `json:"port,omitempty"` // The port to listen on (0 selects an ephemeral port).
}

const defaultOutstanding = 16

// maxRate is the highest per-connection request rate a pacing ticker can
// express: one request per nanosecond. Anything above it would truncate
// the pacing interval to zero.
const maxRate = 1_000_000_000

func (c ClientConfig) Validate() error {
	if c.Style != StyleSync && c.Style != StyleAsync {
		return fmt.Errorf("expected client style to be \"%s\" or \"%s\", but was \"%s\"", StyleSync, StyleAsync, c.Style)
	}
	if c.Pattern != PatternUnary && c.Pattern != PatternStreaming {
		return fmt.Errorf("expected call pattern to be \"%s\" or \"%s\", but was \"%s\"", PatternUnary, PatternStreaming, c.Pattern)
	}
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("expected at least one endpoint to drive load against, but found none")
	}
	if c.Connections < 1 {
		return fmt.Errorf("expected connections to be >= 1, but was %d", c.Connections)
	}
	if c.Rate < 1 {
		return fmt.Errorf("expected request rate to be >= 1, but was %d", c.Rate)
	}
	if c.Rate > maxRate {
		return fmt.Errorf("expected request rate to be <= %d, but was %d", maxRate, c.Rate)
	}
	if c.Size < 1 {
		return fmt.Errorf("expected payload size to be >= 1 byte, but was %d", c.Size)
	}
	if c.Outstanding < 0 {
		return fmt.Errorf("expected outstanding request window to be >= 0, but was %d", c.Outstanding)
	}
	return nil
}

func (c ClientConfig) ToJSON() string {
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Sprintf("%v", c)
	}
	return string(b)
}

// outstanding returns the effective in-flight window for async engines.
func (c ClientConfig) outstanding() int {
	if c.Outstanding > 0 {
		return c.Outstanding
	}
	return defaultOutstanding
}

func (c ServerConfig) Validate() error {
	if c.Style != StyleSync && c.Style != StyleAsync {
		return fmt.Errorf("expected server style to be \"%s\" or \"%s\", but was \"%s\"", StyleSync, StyleAsync, c.Style)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("expected port to be in range 0-65535, but was %d", c.Port)
	}
	return nil
}

func (c ServerConfig) ToJSON() string {
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Sprintf("%v", c)
	}
	return string(b)
}
