package xfyun_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/speech-service/internal/xfyun"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// fakeAPI is an in-process stand-in for the remote speech and chat APIs.
type fakeAPI struct {
	server *httptest.Server

	mu       sync.Mutex
	requests []map[string]any
	queries  []string
}

// serveFunc drives one accepted socket after the request envelope was read.
type serveFunc func(conn *websocket.Conn, request map[string]any)

func newFakeAPI(t *testing.T, serve serveFunc) *fakeAPI {
	t.Helper()

	api := &fakeAPI{}
	upgrader := websocket.Upgrader{}

	api.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var request map[string]any

		_ = json.Unmarshal(data, &request)

		api.mu.Lock()
		api.requests = append(api.requests, request)
		api.queries = append(api.queries, r.URL.RawQuery)
		api.mu.Unlock()

		serve(conn, request)
	}))
	t.Cleanup(api.server.Close)

	return api
}

func (a *fakeAPI) endpoint(path string) string {
	return "ws" + strings.TrimPrefix(a.server.URL, "http") + path
}

func (a *fakeAPI) lastRequest(t *testing.T) map[string]any {
	t.Helper()

	a.mu.Lock()
	defer a.mu.Unlock()

	require.NotEmpty(t, a.requests)

	return a.requests[len(a.requests)-1]
}

func (a *fakeAPI) recordedQueries() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	return append([]string(nil), a.queries...)
}

// drain keeps reading until the client goes away so pings get answered.
func drain(conn *websocket.Conn) {
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			return
		}
	}
}

// writeJSON ignores failures: the client may legitimately be gone already.
func writeJSON(_ *testing.T, conn *websocket.Conn, frame any) {
	_ = conn.WriteJSON(frame)
}

func closeNormally(conn *websocket.Conn) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

func speechFrame(audio string, status int) map[string]any {
	return map[string]any{
		"code":    0,
		"message": "success",
		"sid":     "tts000test",
		"data":    map[string]any{"audio": audio, "status": status},
	}
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "xfyun-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

func newTestClient(t *testing.T, api *fakeAPI, opts xfyun.Options) *xfyun.Client {
	t.Helper()

	client, err := xfyun.NewClient(xfyun.ClientConfig{
		AppID:          "app-123",
		APIKey:         "key-456",
		APISecret:      "secret-789",
		SpeechEndpoint: api.endpoint("/v2/tts"),
		ChatEndpoint:   api.endpoint("/v1.1/chat"),
		Options:        opts,
	}, newTestLogger(t))
	require.NoError(t, err)

	return client
}

func fastOptions() xfyun.Options {
	return xfyun.Options{
		Timeout:          2 * time.Second,
		HandshakeTimeout: time.Second,
		PingInterval:     time.Second,
		PongTimeout:      time.Second,
	}
}
