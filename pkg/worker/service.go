package worker

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/benchkit/qps-worker/internal/logging"
	"github.com/benchkit/qps-worker/internal/profiling"
)

const serviceShutdownTimeout = 10 * time.Second

// maxCloseReasonLen is the most reason text a WebSocket close frame's
// control payload can carry.
const maxCloseReasonLen = 123

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// fatalExit terminates the process on unrecoverable configuration errors,
// after deferred cleanup in the failing session has already run.
var fatalExit = func() { os.Exit(1) }

// Service is the addressable entry point of a benchmark worker: an HTTP/
// WebSockets server exposing the two streaming session operations (and
// Prometheus metrics) to a remote driver. It owns the session guard that
// makes benchmark sessions mutually exclusive across all incoming streams.
type Service struct {
	cfg      *WorkerConfig
	logger   logging.Logger
	guard    *sessionGuard
	profiler *profiling.Profiler

	svr        *http.Server
	svrStopped chan struct{} // Closed when the WebSockets server has shut down.

	stop     chan struct{}
	stopOnce sync.Once
}

// NewService configures a worker service bound to the configured address.
// The bind address is resolved immediately so that Addr reports the actual
// host:port even when an ephemeral port was requested.
func NewService(cfg *WorkerConfig) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	workerID := cfg.ID
	if len(workerID) == 0 {
		workerID = makeWorkerID()
	}
	addr, err := resolveBindAddr(cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve worker bind address (%s): %w", cfg.BindAddr, err)
	}
	s := &Service{
		cfg:        cfg,
		logger:     logging.NewLogrusLogger(fmt.Sprintf("worker[%s]", workerID)),
		guard:      newSessionGuard(),
		profiler:   profiling.NewProfiler(cfg.ProfileDir),
		svrStopped: make(chan struct{}),
		stop:       make(chan struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/client", s.newSessionHandler(clientSessionRole))
	mux.HandleFunc("/server", s.newSessionHandler(serverSessionRole))
	mux.Handle("/metrics", promhttp.Handler())
	s.svr = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s, nil
}

// Addr returns the resolved address the service listens on.
func (s *Service) Addr() string {
	return s.svr.Addr
}

// Run executes the worker's operations in a blocking manner until Stop is
// called, the process is interrupted, or the server fails.
func (s *Service) Run() error {
	cancelTrap := trapInterrupts(func() { s.Stop() }, s.logger)
	defer close(cancelTrap)

	go s.runServer()

	select {
	case <-s.stop:
		s.shutdownServer()
		return nil

	case <-s.svrStopped:
		return fmt.Errorf("worker server stopped unexpectedly")
	}
}

// Stop triggers a graceful shutdown of the service. Safe to call multiple
// times and from any goroutine.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Service) runServer() {
	defer close(s.svrStopped)

	s.logger.Info("Listening for driver connections", "addr", s.Addr())

	if err := s.svr.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.Error("Server shut down", "err", err)
		return
	}
	s.logger.Info("Server shut down")
}

func (s *Service) shutdownServer() {
	s.logger.Info("Shutting down worker server")
	ctx, cancel := context.WithTimeout(context.Background(), serviceShutdownTimeout)
	defer cancel()

	if err := s.svr.Shutdown(ctx); err != nil {
		s.logger.Error("Failed to gracefully shut down worker server", "err", err)
		return
	}
	select {
	case <-s.svrStopped:
	case <-time.After(serviceShutdownTimeout):
		s.logger.Error("Failed to shut down within the required time period")
	}
}

// newSessionHandler builds the HTTP handler for one of the two streaming
// session operations.
func (s *Service) newSessionHandler(role sessionRole) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(w, r) {
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Error("Error while attempting to upgrade incoming WebSockets connection", "err", err)
			return
		}
		defer conn.Close()

		logger := logging.NewLogrusLogger(fmt.Sprintf("session[%s]", role.name))
		logger.Info("Driver stream accepted", "remoteAddr", r.RemoteAddr)

		// an unrecognized engine style is a protocol version mismatch with
		// the driver, and takes the whole process down
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("Fatal configuration error", "panic", rec)
				fatalExit()
			}
		}()

		sock := newSessionSocket(conn)
		go sock.Run()

		sessionErr := s.runSession(role, sock, logger)
		code := codeForSessionError(sessionErr)
		reason := ""
		if sessionErr != nil {
			reason = truncateCloseReason(sessionErr.Error())
			logger.Error("Session terminated", "code", code.String(), "err", sessionErr)
		} else {
			logger.Info("Session closed", "code", code.String())
		}
		sock.Stop(code.CloseCode(), reason)
		sessionsCompletedMetric.WithLabelValues(role.name, code.String()).Inc()
	}
}

func truncateCloseReason(reason string) string {
	if len(reason) > maxCloseReasonLen {
		return reason[:maxCloseReasonLen]
	}
	return reason
}

// resolveBindAddr will take the given address, attempt to listen on it, and
// then return a "host:port" string with the precise host/port details in it.
func resolveBindAddr(addr string) (string, error) {
	a, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return "", err
	}
	l, err := net.ListenTCP("tcp", a)
	if err != nil {
		return "", err
	}
	defer l.Close()
	tcpAddr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return "", fmt.Errorf("failed to obtain TCPAddr from bind address: %s", addr)
	}
	return fmt.Sprintf("%s:%d", tcpAddr.IP, tcpAddr.Port), nil
}
