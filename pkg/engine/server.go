package engine

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/benchkit/qps-worker/internal/logging"
)

const serverShutdownTimeout = 5 * time.Second

// syncServer absorbs unary load: a plain HTTP server that echoes each
// request body back to the caller, one blocking request at a time per
// connection.
type syncServer struct {
	rec    *recorder
	logger logging.Logger
	ln     net.Listener
	svr    *http.Server

	svrStopped chan struct{}
}

var _ Server = (*syncServer)(nil)

func newSyncServer(cfg *ServerConfig) (Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("failed to bind server engine listening port: %w", err)
	}
	s := &syncServer{
		rec:        newRecorder(),
		logger:     logging.NewLogrusLogger("server[sync]"),
		ln:         ln,
		svrStopped: make(chan struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.echo)
	s.svr = &http.Server{Handler: mux}
	go s.serve()
	s.logger.Info("Listening for benchmark load", "port", s.Port())
	return s, nil
}

func (s *syncServer) serve() {
	defer close(s.svrStopped)
	if err := s.svr.Serve(s.ln); err != nil && err != http.ErrServerClosed {
		s.logger.Error("Server engine shut down unexpectedly", "err", err)
	}
}

func (s *syncServer) echo(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.rec.record(0, 0, err)
		http.Error(w, "failed to read request body", http.StatusInternalServerError)
		return
	}
	if _, err := w.Write(body); err != nil {
		s.rec.record(0, 0, err)
		return
	}
	s.rec.record(time.Since(startTime), int64(2*len(body)), nil)
}

func (s *syncServer) Mark(reset bool) *Stats {
	return s.rec.mark(reset)
}

func (s *syncServer) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *syncServer) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()
	if err := s.svr.Shutdown(ctx); err != nil {
		s.logger.Error("Failed to gracefully shut down server engine", "err", err)
		_ = s.svr.Close()
	}
	<-s.svrStopped
	s.logger.Info("Server engine shut down")
}

// asyncServer absorbs streaming load: a WebSocket server that echoes
// messages back over each accepted stream, with every stream handled on
// its own goroutine.
type asyncServer struct {
	rec    *recorder
	logger logging.Logger
	ln     net.Listener
	svr    *http.Server

	svrStopped chan struct{}

	connsMtx sync.Mutex
	closing  bool
	conns    map[*websocket.Conn]struct{}
	connsWG  sync.WaitGroup
}

var _ Server = (*asyncServer)(nil)

var engineUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func newAsyncServer(cfg *ServerConfig) (Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("failed to bind server engine listening port: %w", err)
	}
	s := &asyncServer{
		rec:        newRecorder(),
		logger:     logging.NewLogrusLogger("server[async]"),
		ln:         ln,
		svrStopped: make(chan struct{}),
		conns:      make(map[*websocket.Conn]struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleStream)
	s.svr = &http.Server{Handler: mux}
	go s.serve()
	s.logger.Info("Listening for benchmark load", "port", s.Port())
	return s, nil
}

func (s *asyncServer) serve() {
	defer close(s.svrStopped)
	if err := s.svr.Serve(s.ln); err != nil && err != http.ErrServerClosed {
		s.logger.Error("Server engine shut down unexpectedly", "err", err)
	}
}

func (s *asyncServer) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := engineUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade incoming stream", "err", err)
		return
	}
	if !s.trackConn(conn) {
		return
	}
	defer s.untrackConn(conn)
	for {
		startTime := time.Now()
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		if err := conn.WriteMessage(mt, data); err != nil {
			s.rec.record(0, 0, err)
			return
		}
		s.rec.record(time.Since(startTime), int64(2*len(data)), nil)
	}
}

// trackConn registers an upgraded stream for force-closure on Shutdown.
// A stream that upgrades after shutdown has begun is closed immediately:
// hijacked connections would otherwise escape both the listener close and
// the force-close loop.
func (s *asyncServer) trackConn(conn *websocket.Conn) bool {
	s.connsMtx.Lock()
	defer s.connsMtx.Unlock()
	if s.closing {
		_ = conn.Close()
		return false
	}
	s.conns[conn] = struct{}{}
	s.connsWG.Add(1)
	return true
}

func (s *asyncServer) untrackConn(conn *websocket.Conn) {
	s.connsMtx.Lock()
	delete(s.conns, conn)
	s.connsMtx.Unlock()
	_ = conn.Close()
	s.connsWG.Done()
}

func (s *asyncServer) Mark(reset bool) *Stats {
	return s.rec.mark(reset)
}

func (s *asyncServer) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

// Shutdown closes the listener and then force-closes any open streams:
// upgraded connections are hijacked from the HTTP server, so a graceful
// http.Server.Shutdown would wait on them forever.
func (s *asyncServer) Shutdown() {
	_ = s.svr.Close()
	s.connsMtx.Lock()
	s.closing = true
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.connsMtx.Unlock()
	s.connsWG.Wait()
	<-s.svrStopped
	s.logger.Info("Server engine shut down")
}
