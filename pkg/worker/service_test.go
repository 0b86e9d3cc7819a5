package worker

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/benchkit/qps-worker/pkg/engine"
)

const testReadTimeout = 10 * time.Second

func startTestService(t *testing.T, cfg *WorkerConfig) *Service {
	t.Helper()
	if cfg == nil {
		cfg = &WorkerConfig{BindAddr: "127.0.0.1:0"}
	}
	svc, err := NewService(cfg)
	require.NoError(t, err)
	go func() { _ = svc.Run() }()
	t.Cleanup(svc.Stop)
	waitForService(t, svc.Addr())
	return svc
}

func waitForService(t *testing.T, addr string) {
	t.Helper()
	require.Eventually(t, func() bool {
		resp, err := http.Get(fmt.Sprintf("http://%s/metrics", addr))
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond, "worker server never came up")
}

func startEchoEndpoint(t *testing.T) *httptest.Server {
	t.Helper()
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "read failure", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(svr.Close)
	return svr
}

func dialSession(t *testing.T, svc *Service, path string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://%s%s", svc.Addr(), path), nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(testReadTimeout))
	return conn
}

func sendCommand(t *testing.T, conn *websocket.Conn, cmd commandMsg) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(cmd))
}

func readStatus(t *testing.T, conn *websocket.Conn) statusMsg {
	t.Helper()
	var msg statusMsg
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// expectClose reads from the stream until the worker's terminal close
// frame arrives, and asserts its close code.
func expectClose(t *testing.T, conn *websocket.Conn, closeCode int) {
	t.Helper()
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		require.Truef(t, websocket.IsCloseError(err, closeCode), "expected close code %d, but got: %v", closeCode, err)
		return
	}
}

func closeSession(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	err := conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	require.NoError(t, err)
	expectClose(t, conn, websocket.CloseNormalClosure)
}

func syncUnarySetup(endpoint string) *engine.ClientConfig {
	return &engine.ClientConfig{
		Style:       engine.StyleSync,
		Pattern:     engine.PatternUnary,
		Endpoints:   []string{endpoint},
		Connections: 1,
		Rate:        100,
		Size:        64,
	}
}

func TestClientSessionLifecycle(t *testing.T) {
	svc := startTestService(t, nil)
	echo := startEchoEndpoint(t)

	conn := dialSession(t, svc, "/client")
	sendCommand(t, conn, commandMsg{ClientSetup: syncUnarySetup(echo.URL)})

	ack := readStatus(t, conn)
	require.Nil(t, ack.Stats, "expected a bare acknowledgment in reply to setup")
	require.Zero(t, ack.Port)

	sendCommand(t, conn, commandMsg{Mark: &markMsg{}})
	snapshot := readStatus(t, conn)
	require.NotNil(t, snapshot.Stats, "expected a stats snapshot in reply to mark")

	closeSession(t, conn)
}

func TestServerSessionLifecycle(t *testing.T) {
	svc := startTestService(t, nil)

	conn := dialSession(t, svc, "/server")
	sendCommand(t, conn, commandMsg{ServerSetup: &engine.ServerConfig{Style: engine.StyleSync}})

	ack := readStatus(t, conn)
	require.Nil(t, ack.Stats)
	require.Greater(t, ack.Port, 0, "expected the first reply to carry the bound listening port")

	// the server engine must actually be absorbing load on that port
	resp, err := http.Post(fmt.Sprintf("http://127.0.0.1:%d/", ack.Port), "application/octet-stream", nil)
	require.NoError(t, err)
	resp.Body.Close()

	sendCommand(t, conn, commandMsg{Mark: &markMsg{}})
	first := readStatus(t, conn)
	require.NotNil(t, first.Stats)
	require.GreaterOrEqual(t, first.Stats.Requests, int64(1))

	sendCommand(t, conn, commandMsg{Mark: &markMsg{}})
	second := readStatus(t, conn)
	require.NotNil(t, second.Stats)
	require.GreaterOrEqual(t, second.Stats.Requests, first.Stats.Requests)

	closeSession(t, conn)
}

func TestSessionExclusivity(t *testing.T) {
	svc := startTestService(t, nil)
	echo := startEchoEndpoint(t)

	first := dialSession(t, svc, "/client")
	sendCommand(t, first, commandMsg{ClientSetup: syncUnarySetup(echo.URL)})
	readStatus(t, first)

	// while the first session is open, any further stream is rejected
	// regardless of role, without its setup ever being read
	second := dialSession(t, svc, "/server")
	expectClose(t, second, websocket.CloseTryAgainLater)

	closeSession(t, first)

	// the close frame is only delivered after the guard is released, so a
	// new stream must be accepted immediately
	third := dialSession(t, svc, "/client")
	sendCommand(t, third, commandMsg{ClientSetup: syncUnarySetup(echo.URL)})
	readStatus(t, third)
	closeSession(t, third)
}

func TestMarkBeforeSetupRejected(t *testing.T) {
	svc := startTestService(t, nil)

	conn := dialSession(t, svc, "/client")
	sendCommand(t, conn, commandMsg{Mark: &markMsg{}})
	expectClose(t, conn, websocket.ClosePolicyViolation)

	// no engine was constructed and the guard must not be leaked
	require.True(t, svc.guard.TryAcquire())
	svc.guard.Release()
}

func TestSecondSetupRejected(t *testing.T) {
	svc := startTestService(t, nil)
	echo := startEchoEndpoint(t)

	conn := dialSession(t, svc, "/client")
	setup := commandMsg{ClientSetup: syncUnarySetup(echo.URL)}
	sendCommand(t, conn, setup)
	readStatus(t, conn)

	sendCommand(t, conn, setup)
	expectClose(t, conn, websocket.ClosePolicyViolation)
}

func TestUnrecognizedCallPatternRejected(t *testing.T) {
	svc := startTestService(t, nil)
	echo := startEchoEndpoint(t)

	conn := dialSession(t, svc, "/client")
	cfg := syncUnarySetup(echo.URL)
	cfg.Pattern = "batch"
	sendCommand(t, conn, commandMsg{ClientSetup: cfg})
	expectClose(t, conn, websocket.ClosePolicyViolation)

	// the worker must remain acquirable after the failed session
	retry := dialSession(t, svc, "/client")
	sendCommand(t, retry, commandMsg{ClientSetup: syncUnarySetup(echo.URL)})
	readStatus(t, retry)
	closeSession(t, retry)
}

func TestUnconstructibleEngineRejected(t *testing.T) {
	svc := startTestService(t, nil)

	conn := dialSession(t, svc, "/client")
	// a recognized variant whose constructor must fail: async streaming
	// payloads cannot fit a latency stamp in 4 bytes
	sendCommand(t, conn, commandMsg{ClientSetup: &engine.ClientConfig{
		Style:       engine.StyleAsync,
		Pattern:     engine.PatternStreaming,
		Endpoints:   []string{"ws://127.0.0.1:1/"},
		Connections: 1,
		Rate:        10,
		Size:        4,
	}})
	expectClose(t, conn, websocket.ClosePolicyViolation)
}

func TestUnrecognizedStyleIsFatal(t *testing.T) {
	svc := startTestService(t, nil)

	exited := make(chan struct{})
	origFatalExit := fatalExit
	fatalExit = func() { close(exited) }
	t.Cleanup(func() { fatalExit = origFatalExit })

	conn := dialSession(t, svc, "/client")
	cfg := syncUnarySetup("http://127.0.0.1:1/")
	cfg.Style = "fibers"
	sendCommand(t, conn, commandMsg{ClientSetup: cfg})

	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatal("expected an unrecognized engine style to trigger the fatal exit hook")
	}

	// the guard must already have been released when the exit hook fired
	require.True(t, svc.guard.TryAcquire())
	svc.guard.Release()
}

func TestDriverDisconnectReleasesSession(t *testing.T) {
	svc := startTestService(t, nil)
	echo := startEchoEndpoint(t)

	conn := dialSession(t, svc, "/client")
	sendCommand(t, conn, commandMsg{ClientSetup: syncUnarySetup(echo.URL)})
	readStatus(t, conn)

	// abrupt disconnect: no close handshake at all
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		if !svc.guard.TryAcquire() {
			return false
		}
		svc.guard.Release()
		return true
	}, 5*time.Second, 50*time.Millisecond, "session leaked past a disconnected stream")
}

func TestDriverAuthentication(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	svc := startTestService(t, &WorkerConfig{
		BindAddr:         "127.0.0.1:0",
		AuthUsername:     "driver",
		AuthPasswordHash: string(hash),
	})

	// no credentials: the upgrade itself must be refused
	_, resp, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://%s/client", svc.Addr()), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	// valid credentials: accepted as usual
	echo := startEchoEndpoint(t)
	header := http.Header{}
	header.Set("Authorization", basicAuthHeader("driver", "s3cret"))
	conn, resp, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://%s/client", svc.Addr()), header)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(testReadTimeout))

	sendCommand(t, conn, commandMsg{ClientSetup: syncUnarySetup(echo.URL)})
	readStatus(t, conn)
	closeSession(t, conn)
}

func basicAuthHeader(username, password string) string {
	req, _ := http.NewRequest("GET", "http://localhost/", nil)
	req.SetBasicAuth(username, password)
	return req.Header.Get("Authorization")
}
