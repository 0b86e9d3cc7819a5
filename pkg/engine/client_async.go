package engine

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/benchkit/qps-worker/internal/logging"
)

// timestampLen is the number of payload bytes reserved for the send-time
// stamp used to measure latency on decoupled send/receive paths.
const timestampLen = 8

// asyncUnaryClient issues paced HTTP calls without waiting for each
// round-trip to complete. Each issuer goroutine fires requests into a
// bounded in-flight window; completions are recorded from their own
// goroutines.
type asyncUnaryClient struct {
	cfg    *ClientConfig
	rec    *recorder
	logger logging.Logger
	httpc  *http.Client
	window chan struct{}

	stop chan struct{}
	wg   sync.WaitGroup
}

var _ Engine = (*asyncUnaryClient)(nil)

func newAsyncUnaryClient(cfg *ClientConfig) (Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &asyncUnaryClient{
		cfg:    cfg,
		rec:    newRecorder(),
		logger: logging.NewLogrusLogger("client[async/unary]"),
		httpc:  &http.Client{Timeout: unaryRequestTimeout},
		window: make(chan struct{}, cfg.outstanding()),
		stop:   make(chan struct{}),
	}
	for _, endpoint := range cfg.Endpoints {
		for i := 0; i < cfg.Connections; i++ {
			c.wg.Add(1)
			go c.issue(endpoint)
		}
	}
	c.logger.Info(
		"Started load generation",
		"endpoints", len(cfg.Endpoints),
		"connections", cfg.Connections,
		"outstanding", cfg.outstanding(),
	)
	return c, nil
}

func (c *asyncUnaryClient) issue(endpoint string) {
	defer c.wg.Done()
	ticker := time.NewTicker(paceInterval(c.cfg.Rate))
	defer ticker.Stop()
	payload := makePayload(c.cfg.Size)
	for {
		select {
		case <-c.stop:
			return

		case <-ticker.C:
			select {
			case c.window <- struct{}{}:
			case <-c.stop:
				return
			}
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				defer func() { <-c.window }()
				c.call(endpoint, payload)
			}()
		}
	}
}

func (c *asyncUnaryClient) call(endpoint string, payload []byte) {
	startTime := time.Now()
	resp, err := c.httpc.Post(endpoint, "application/octet-stream", bytes.NewReader(payload))
	if err != nil {
		c.rec.record(0, 0, err)
		return
	}
	defer resp.Body.Close()
	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		c.rec.record(0, 0, err)
		return
	}
	if resp.StatusCode != http.StatusOK {
		c.rec.record(0, 0, fmt.Errorf("unexpected response status: %s", resp.Status))
		return
	}
	c.rec.record(time.Since(startTime), int64(len(payload))+n, nil)
}

func (c *asyncUnaryClient) Mark(reset bool) *Stats {
	return c.rec.mark(reset)
}

func (c *asyncUnaryClient) Shutdown() {
	close(c.stop)
	c.wg.Wait()
	c.httpc.CloseIdleConnections()
	c.logger.Info("Stopped load generation")
}

// asyncStreamingClient decouples the send and receive sides of each
// WebSocket connection into separate goroutines. The sender stamps the
// current time into the head of each payload; the receiver recovers the
// stamp from the echo to measure latency.
type asyncStreamingClient struct {
	cfg    *ClientConfig
	rec    *recorder
	logger logging.Logger
	conns  []*websocket.Conn

	stop chan struct{}
	wg   sync.WaitGroup
}

var _ Engine = (*asyncStreamingClient)(nil)

func newAsyncStreamingClient(cfg *ClientConfig) (Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Size < timestampLen {
		return nil, fmt.Errorf(
			"expected payload size to be >= %d bytes for async streaming engines, but was %d",
			timestampLen, cfg.Size,
		)
	}
	c := &asyncStreamingClient{
		cfg:    cfg,
		rec:    newRecorder(),
		logger: logging.NewLogrusLogger("client[async/streaming]"),
		stop:   make(chan struct{}),
	}
	for _, endpoint := range cfg.Endpoints {
		for i := 0; i < cfg.Connections; i++ {
			conn, err := dialStream(endpoint)
			if err != nil {
				c.closeConns()
				return nil, err
			}
			c.conns = append(c.conns, conn)
		}
	}
	for _, conn := range c.conns {
		c.wg.Add(2)
		go c.sendLoop(conn)
		go c.receiveLoop(conn)
	}
	c.logger.Info("Started load generation", "streams", len(c.conns))
	return c, nil
}

func (c *asyncStreamingClient) sendLoop(conn *websocket.Conn) {
	defer c.wg.Done()
	ticker := time.NewTicker(paceInterval(c.cfg.Rate))
	defer ticker.Stop()
	payload := makePayload(c.cfg.Size)
	for {
		select {
		case <-c.stop:
			return

		case <-ticker.C:
			binary.BigEndian.PutUint64(payload[:timestampLen], uint64(time.Now().UnixNano()))
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
				c.rec.record(0, 0, err)
				return
			}
		}
	}
}

func (c *asyncStreamingClient) receiveLoop(conn *websocket.Conn) {
	defer c.wg.Done()
	for {
		_, echo, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.stop:
			default:
				c.rec.record(0, 0, err)
			}
			return
		}
		if len(echo) < timestampLen {
			c.rec.record(0, 0, fmt.Errorf("echo payload too short: %d bytes", len(echo)))
			continue
		}
		sentAt := time.Unix(0, int64(binary.BigEndian.Uint64(echo[:timestampLen])))
		c.rec.record(time.Since(sentAt), int64(2*len(echo)), nil)
	}
}

func (c *asyncStreamingClient) Mark(reset bool) *Stats {
	return c.rec.mark(reset)
}

func (c *asyncStreamingClient) Shutdown() {
	close(c.stop)
	c.closeConns()
	c.wg.Wait()
	c.logger.Info("Stopped load generation")
}

func (c *asyncStreamingClient) closeConns() {
	for _, conn := range c.conns {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(streamWriteTimeout),
		)
		_ = conn.Close()
	}
}
