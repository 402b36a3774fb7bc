package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"
)

const defaultRequestTimeout = 2 * time.Second

type testClient struct {
	srv    *httptest.Server
	client *http.Client
}

func newTestClient(t *testing.T, s *Server) *testClient {
	t.Helper()
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &testClient{srv: srv, client: &http.Client{Timeout: defaultRequestTimeout}}
}

func (c *testClient) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := c.client.Get(c.srv.URL + path)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	return resp, body
}

func (c *testClient) postJSON(t *testing.T, path string, payload any) (*http.Response, []byte) {
	t.Helper()
	var data []byte
	switch v := payload.(type) {
	case nil:
	case string:
		data = []byte(v)
	default:
		var err error
		data, err = json.Marshal(v)
		require.NoError(t, err)
	}
	req, err := http.NewRequest(http.MethodPost, c.srv.URL+path, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	return resp, body
}

// dialPose opens /ws/pose and consumes the session greeting.
func (c *testClient) dialPose(t *testing.T, query string) (*websocket.Conn, map[string]any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), defaultRequestTimeout)
	defer cancel()
	url := "ws" + strings.TrimPrefix(c.srv.URL, "http") + "/ws/pose?" + query
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })

	hello := readMessage(t, conn)
	require.Equal(t, "session", hello["type"])
	return conn, requireMap(t, hello["session"], "session")
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), defaultRequestTimeout)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	return decodeJSONMap(t, data)
}

func sendMessage(t *testing.T, conn *websocket.Conn, msg string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), defaultRequestTimeout)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(msg)))
}

// openSSE returns once the server has sent the stream headers, so the
// subscription is in place.
func (c *testClient) openSSE(t *testing.T, path, accept string) (*http.Response, *bufio.Reader) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.srv.URL+path, nil)
	require.NoError(t, err)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp, bufio.NewReader(resp.Body)
}

// nextSSEData returns the data line of the next non-comment event.
func nextSSEData(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	done := make(chan string, 1)
	go func() {
		var data string
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				done <- ""
				return
			}
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "data:"):
				data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			case line == "" && data != "":
				done <- data
				return
			}
		}
	}()
	select {
	case data := <-done:
		require.NotEmpty(t, data, "sse stream closed before event")
		return data
	case <-time.After(defaultRequestTimeout):
		t.Fatalf("timeout waiting for sse event")
		return ""
	}
}

func decodeJSONMap(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode json: %v\nbody=%s", err, string(body))
	}
	return payload
}

func requireString(t *testing.T, value any, field string) string {
	t.Helper()
	str, ok := value.(string)
	if !ok {
		t.Fatalf("expected %s to be string, got %T", field, value)
	}
	return str
}

func requireNumber(t *testing.T, value any, field string) float64 {
	t.Helper()
	num, ok := value.(float64)
	if !ok {
		t.Fatalf("expected %s to be number, got %T", field, value)
	}
	return num
}

func requireMap(t *testing.T, value any, field string) map[string]any {
	t.Helper()
	m, ok := value.(map[string]any)
	if !ok {
		t.Fatalf("expected %s to be object, got %T", field, value)
	}
	return m
}

func requireSlice(t *testing.T, value any, field string) []any {
	t.Helper()
	s, ok := value.([]any)
	if !ok {
		t.Fatalf("expected %s to be array, got %T", field, value)
	}
	return s
}

// assertPayload checks the shape every processed frame carries.
func assertPayload(t *testing.T, payload map[string]any) {
	t.Helper()
	if ok, _ := payload["ok"].(bool); !ok {
		t.Fatalf("payload not ok: %v", payload)
	}
	requireString(t, payload["session"], "session")
	requireNumber(t, payload["seq"], "seq")
	requireMap(t, payload["metrics"], "metrics")
	cov := requireMap(t, payload["coverage"], "coverage")
	requireString(t, cov["state"], "coverage.state")
	requireNumber(t, cov["score"], "coverage.score")
	size := requireMap(t, payload["size"], "size")
	requireNumber(t, size["w"], "size.w")
	requireNumber(t, size["h"], "size.h")
	ex := requireMap(t, payload["exercise"], "exercise")
	requireString(t, ex["name"], "exercise.name")
	requireString(t, ex["stage"], "exercise.stage")
	requireNumber(t, ex["rep_count"], "exercise.rep_count")
}
