package worker

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	uuid "github.com/satori/go.uuid"
)

// WorkerConfig is the configuration options for a single worker process.
type WorkerConfig struct {
	ID               string `json:"id,omitempty"`                 // A unique ID for this worker. If not specified, a UUID will be generated.
	BindAddr         string `json:"bind_addr"`                    // The "host:port" to which to bind the worker to listen for incoming driver streams.
	ProfileDir       string `json:"profile_dir,omitempty"`        // Where to write per-session CPU profiles. Empty disables profiling.
	AuthUsername     string `json:"auth_username,omitempty"`      // If set, drivers must authenticate with HTTP basic auth.
	AuthPasswordHash string `json:"auth_password_hash,omitempty"` // The bcrypt hash of the driver password.
}

func (c WorkerConfig) Validate() error {
	if len(c.BindAddr) == 0 {
		return fmt.Errorf("worker bind address must be specified")
	}
	if len(c.ID) > 0 && !isValidWorkerID(c.ID) {
		return fmt.Errorf("invalid worker ID \"%s\": worker IDs can only contain lowercase alphanumeric characters", c.ID)
	}
	if (len(c.AuthUsername) == 0) != (len(c.AuthPasswordHash) == 0) {
		return fmt.Errorf("auth username and password hash must be specified together")
	}
	return nil
}

func (c WorkerConfig) ToJSON() string {
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Sprintf("%v", c)
	}
	return string(b)
}

func isValidWorkerID(id string) bool {
	for _, r := range id {
		if !unicode.IsLower(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func makeWorkerID() string {
	return strings.ReplaceAll(uuid.NewV4().String(), "-", "")
}
