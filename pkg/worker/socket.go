package worker

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultWSWriteTimeout = 10 * time.Second
	defaultWSPongWait     = 60 * time.Second
	defaultWSPingPeriod   = (defaultWSPongWait * 9) / 10
)

// sessionSocket provides a simpler interface to interact with a WebSockets
// connection than that provided by Gorilla. A dedicated goroutine owns the
// read side, and the primary event loop owns the write side (including
// keepalive pings), so the session handler can treat reads and writes as
// plain blocking calls. A session has no explicit timeout: reads block
// until the driver sends a command or the stream dies, with liveness
// covered by the ping/pong exchange.
type sessionSocket struct {
	conn *websocket.Conn

	inbound  chan socketReadResult
	outbound chan socketWriteRequest
	stop     chan struct{} // Closed by Stop to end the event loops.
	stopped  chan struct{} // Closed once the primary event loop terminates.

	closeCode   int // The close code to deliver in the final close frame.
	closeReason string
}

type socketReadResult struct {
	data []byte
	err  error
}

type socketWriteRequest struct {
	data []byte
	resp chan error
}

func newSessionSocket(conn *websocket.Conn) *sessionSocket {
	return &sessionSocket{
		conn:     conn,
		inbound:  make(chan socketReadResult, 1),
		outbound: make(chan socketWriteRequest, 1),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Run is a blocking operation, and executes all of the socket's write
// routines and keepalive handling in the calling goroutine. It runs until
// the Stop routine is called from a separate goroutine.
func (s *sessionSocket) Run() {
	defer func() {
		s.close()
		close(s.stopped)
	}()

	go s.readLoop()

	pingTicker := time.NewTicker(defaultWSPingPeriod)
	defer pingTicker.Stop()

	for {
		select {
		case req := <-s.outbound:
			req.resp <- s.handleWrite(req.data)

		case <-pingTicker.C:
			_ = s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(defaultWSWriteTimeout))

		case <-s.stop:
			return
		}
	}
}

func (s *sessionSocket) readLoop() {
	// Suppress the automatic close-frame echo: the terminal close frame is
	// only sent by Stop, after the session's guard has been released, so a
	// driver that sees it can immediately open a new session.
	s.conn.SetCloseHandler(func(code int, text string) error { return nil })
	_ = s.conn.SetReadDeadline(time.Now().Add(defaultWSPongWait))
	s.conn.SetPongHandler(func(appData string) error {
		return s.conn.SetReadDeadline(time.Now().Add(defaultWSPongWait))
	})
	for {
		_, data, err := s.conn.ReadMessage()
		if err == nil {
			// any traffic from the driver demonstrates liveness
			_ = s.conn.SetReadDeadline(time.Now().Add(defaultWSPongWait))
		}
		select {
		case s.inbound <- socketReadResult{data: data, err: err}:
		case <-s.stop:
			return
		}
		if err != nil {
			return
		}
	}
}

// Read is a synchronous, blocking operation. A returned error indicates
// that the stream has ended (end-of-stream or transport failure).
func (s *sessionSocket) Read() ([]byte, error) {
	select {
	case res := <-s.inbound:
		return res.data, res.err

	case <-s.stop:
		return nil, fmt.Errorf("socket stopped")
	}
}

// Write is a synchronous, blocking operation.
func (s *sessionSocket) Write(data []byte) error {
	req := socketWriteRequest{
		data: data,
		resp: make(chan error, 1),
	}
	select {
	case s.outbound <- req:
	case <-s.stop:
		return fmt.Errorf("socket stopped")
	}
	return <-req.resp
}

// WriteStatus sends a status reply to the driver.
func (s *sessionSocket) WriteStatus(msg statusMsg) error {
	data, err := json.Marshal(&msg)
	if err != nil {
		return err
	}
	return s.Write(data)
}

// Stop flushes any remaining outbound replies, delivers the session's
// final outcome as a close frame with the given code, and blocks until
// the event loops have completely stopped.
func (s *sessionSocket) Stop(closeCode int, reason string) {
	s.closeCode = closeCode
	s.closeReason = reason
	close(s.stop)
	<-s.stopped
}

func (s *sessionSocket) handleWrite(data []byte) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(defaultWSWriteTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *sessionSocket) close() {
	remaining := len(s.outbound)
	for i := 0; i < remaining; i++ {
		req := <-s.outbound
		req.resp <- s.handleWrite(req.data)
	}
	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(s.closeCode, s.closeReason),
		time.Now().Add(defaultWSWriteTimeout),
	)
}
