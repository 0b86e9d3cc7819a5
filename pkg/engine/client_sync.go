package engine

import (
	"bytes"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/benchkit/qps-worker/internal/logging"
)

const (
	unaryRequestTimeout = 10 * time.Second
	streamReadTimeout   = 10 * time.Second
	streamWriteTimeout  = 10 * time.Second
)

// syncUnaryClient drives paced request/response HTTP calls, one blocking
// round-trip at a time per connection goroutine.
type syncUnaryClient struct {
	cfg    *ClientConfig
	rec    *recorder
	logger logging.Logger
	httpc  *http.Client

	stop chan struct{}
	wg   sync.WaitGroup
}

var _ Engine = (*syncUnaryClient)(nil)

func newSyncUnaryClient(cfg *ClientConfig) (Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &syncUnaryClient{
		cfg:    cfg,
		rec:    newRecorder(),
		logger: logging.NewLogrusLogger("client[sync/unary]"),
		httpc:  &http.Client{Timeout: unaryRequestTimeout},
		stop:   make(chan struct{}),
	}
	for _, endpoint := range cfg.Endpoints {
		for i := 0; i < cfg.Connections; i++ {
			c.wg.Add(1)
			go c.drive(endpoint)
		}
	}
	c.logger.Info("Started load generation", "endpoints", len(cfg.Endpoints), "connections", cfg.Connections)
	return c, nil
}

func (c *syncUnaryClient) drive(endpoint string) {
	defer c.wg.Done()
	ticker := time.NewTicker(paceInterval(c.cfg.Rate))
	defer ticker.Stop()
	payload := makePayload(c.cfg.Size)
	for {
		select {
		case <-c.stop:
			return

		case <-ticker.C:
			c.call(endpoint, payload)
		}
	}
}

func (c *syncUnaryClient) call(endpoint string, payload []byte) {
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

func (c *syncUnaryClient) Mark(reset bool) *Stats {
	return c.rec.mark(reset)
}

func (c *syncUnaryClient) Shutdown() {
	close(c.stop)
	c.wg.Wait()
	c.httpc.CloseIdleConnections()
	c.logger.Info("Stopped load generation")
}

// syncStreamingClient drives paced echo round-trips over long-lived
// WebSocket connections, one blocking round-trip at a time per connection.
type syncStreamingClient struct {
	cfg    *ClientConfig
	rec    *recorder
	logger logging.Logger
	conns  []*websocket.Conn

	stop chan struct{}
	wg   sync.WaitGroup
}

var _ Engine = (*syncStreamingClient)(nil)

func newSyncStreamingClient(cfg *ClientConfig) (Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &syncStreamingClient{
		cfg:    cfg,
		rec:    newRecorder(),
		logger: logging.NewLogrusLogger("client[sync/streaming]"),
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
		c.wg.Add(1)
		go c.drive(conn)
	}
	c.logger.Info("Started load generation", "streams", len(c.conns))
	return c, nil
}

func (c *syncStreamingClient) drive(conn *websocket.Conn) {
	defer c.wg.Done()
	ticker := time.NewTicker(paceInterval(c.cfg.Rate))
	defer ticker.Stop()
	payload := makePayload(c.cfg.Size)
	for {
		select {
		case <-c.stop:
			return

		case <-ticker.C:
			if err := c.roundTrip(conn, payload); err != nil {
				// the connection is no longer usable, so this stream is done
				return
			}
		}
	}
}

func (c *syncStreamingClient) roundTrip(conn *websocket.Conn, payload []byte) error {
	startTime := time.Now()
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		c.rec.record(0, 0, err)
		return err
	}
	_ = conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
	_, echo, err := conn.ReadMessage()
	if err != nil {
		c.rec.record(0, 0, err)
		return err
	}
	c.rec.record(time.Since(startTime), int64(len(payload)+len(echo)), nil)
	return nil
}

func (c *syncStreamingClient) Mark(reset bool) *Stats {
	return c.rec.mark(reset)
}

func (c *syncStreamingClient) Shutdown() {
	close(c.stop)
	c.closeConns()
	c.wg.Wait()
	c.logger.Info("Stopped load generation")
}

func (c *syncStreamingClient) closeConns() {
	for _, conn := range c.conns {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(streamWriteTimeout),
		)
		_ = conn.Close()
	}
}

// dialStream connects to the given WebSocket endpoint, validating the
// URL scheme first.
func dialStream(endpoint string) (*websocket.Conn, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("unsupported streaming protocol: %s (only ws:// and wss:// are supported)", u.Scheme)
	}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to streaming endpoint %s: %w", endpoint, err)
	}
	return conn, nil
}

func paceInterval(rate int) time.Duration {
	return time.Second / time.Duration(rate)
}

func makePayload(size int) []byte {
	payload := make([]byte, size)
	_, _ = rand.Read(payload)
	return payload
}
