package worker

import (
	"encoding/json"
	"fmt"

	"github.com/benchkit/qps-worker/internal/logging"
	"github.com/benchkit/qps-worker/pkg/engine"
)

// sessionRole captures the differences between the two streaming
// operations. The control protocol itself is symmetric: the role only
// determines which setup descriptor is expected, which engine variant
// family is constructed, and whether the first reply carries a bound port.
type sessionRole struct {
	name        string
	profileName string
	stateValue  float64
	buildEngine func(cmd *commandMsg) (engine.Engine, int, error)
}

var clientSessionRole = sessionRole{
	name:        "client",
	profileName: "client_session",
	stateValue:  workerStateClientSession,
	buildEngine: func(cmd *commandMsg) (engine.Engine, int, error) {
		if cmd.ClientSetup == nil {
			return nil, 0, fmt.Errorf("first message must carry a client setup descriptor")
		}
		eng, err := engine.NewClient(cmd.ClientSetup)
		if err != nil {
			return nil, 0, err
		}
		return eng, 0, nil
	},
}

var serverSessionRole = sessionRole{
	name:        "server",
	profileName: "server_session",
	stateValue:  workerStateServerSession,
	buildEngine: func(cmd *commandMsg) (engine.Engine, int, error) {
		if cmd.ServerSetup == nil {
			return nil, 0, fmt.Errorf("first message must carry a server setup descriptor")
		}
		srv, err := engine.NewServer(cmd.ServerSetup)
		if err != nil {
			return nil, 0, err
		}
		return srv, srv.Port(), nil
	},
}

// runSession executes one benchmark session over the given stream. It
// attempts guard acquisition before reading anything, brackets the session
// body with the profiler, and guarantees that the guard is released on
// every exit path. A nil result is a graceful close (OK).
func (s *Service) runSession(role sessionRole, sock *sessionSocket, logger logging.Logger) *Error {
	if !s.guard.TryAcquire() {
		return NewError(ResourceExhausted, nil, "a benchmark session is already active on this worker")
	}
	defer s.guard.Release()

	sessionsStartedMetric.WithLabelValues(role.name).Inc()
	stateMetric.Set(role.stateValue)
	defer stateMetric.Set(workerStateIdle)

	s.profiler.Start(role.profileName)
	defer s.profiler.Stop()

	return s.runSessionBody(role, sock, logger)
}

func (s *Service) runSessionBody(role sessionRole, sock *sessionSocket, logger logging.Logger) *Error {
	// exactly one setup descriptor, before anything else
	data, err := sock.Read()
	if err != nil {
		return NewError(InvalidArgument, err, "stream closed before a setup descriptor was received")
	}
	cmd, derr := decodeCommand(data)
	if derr != nil {
		return derr
	}

	eng, port, err := role.buildEngine(cmd)
	if err != nil {
		return NewError(InvalidArgument, err, "failed to construct benchmark engine")
	}
	defer eng.Shutdown()
	logger.Info("Benchmark engine constructed", "role", role.name)

	ack := statusMsg{Port: port}
	if err := sock.WriteStatus(ack); err != nil {
		return NewError(Unknown, err, "failed to send setup acknowledgment")
	}

	// The read side drives the loop: it ends only when the driver closes
	// its side of the stream. Snapshot writes are best-effort; a failed
	// write surfaces indirectly when the next read fails.
	for {
		data, err := sock.Read()
		if err != nil {
			logger.Debug("Stream closed by driver", "err", err)
			return nil
		}
		cmd, derr := decodeCommand(data)
		if derr != nil {
			return derr
		}
		if cmd.Mark == nil {
			return NewError(InvalidArgument, nil, "expected a mark request within the active session")
		}
		stats := eng.Mark(cmd.Mark.Reset)
		logger.Debug("Mark", "reset", cmd.Mark.Reset, "stats", stats.String())
		_ = sock.WriteStatus(statusMsg{Stats: stats})
	}
}

func decodeCommand(data []byte) (*commandMsg, *Error) {
	var cmd commandMsg
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, NewError(InvalidArgument, err, "failed to decode command message")
	}
	return &cmd, nil
}
