// Package testhelpers provides common utilities for testing the chat relay.
//
// It contains websocket and HTTP helpers shared by package tests: dialing a
// user's websocket, exchanging raw text frames, decoding relay events and
// asserting HTTP responses.
package testhelpers

import (
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// DefaultOrigin is the origin test dialers present, matching the relay's
// default allow list.
const DefaultOrigin = "http://localhost:8080"

// ReadTimeout bounds every read done through these helpers.
const ReadTimeout = 2 * time.Second

// Event mirrors the JSON object the relay sends to clients.
type Event struct {
	Text     string   `json:"text"`
	User     string   `json:"user"`
	Time     string   `json:"time"`
	UserList []string `json:"user_list"`
}

// WebSocketURL turns an httptest server URL into the websocket URL of user.
func WebSocketURL(serverURL, user string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + "/ws/" + url.PathEscape(user)
}

// ConnectWebSocket dials the websocket URL with the given Origin header. An
// empty origin sends no Origin header at all.
func ConnectWebSocket(wsURL, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(wsURL, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// Join connects user to the test server and registers cleanup.
func Join(t *testing.T, server *httptest.Server, user string) *websocket.Conn {
	t.Helper()

	conn, _, err := ConnectWebSocket(WebSocketURL(server.URL, user), DefaultOrigin)
	require.NoError(t, err, "failed to connect %s", user)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// SendText sends one raw text frame.
func SendText(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(text)))
}

// ReceiveEvent reads and decodes the next relay event.
func ReceiveEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(ReadTimeout)))
	var evt Event
	require.NoError(t, conn.ReadJSON(&evt))
	return evt
}

// ReceiveUntil reads events until one carries text, failing on timeout.
func ReceiveUntil(t *testing.T, conn *websocket.Conn, text string) Event {
	t.Helper()

	for {
		evt := ReceiveEvent(t, conn)
		if evt.Text == text {
			return evt
		}
	}
}

// ExpectNoEvent asserts nothing arrives within wait.
func ExpectNoEvent(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wait)))
	_, payload, err := conn.ReadMessage()
	require.Error(t, err, "unexpected frame: %s", payload)
}

// ExpectClosed asserts the server closes the connection within ReadTimeout.
// Events still in flight are skipped.
func ExpectClosed(t *testing.T, conn *websocket.Conn) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(ReadTimeout)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			t.Fatalf("connection still open after %s", ReadTimeout)
		}
		return
	}
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}

// MakeRequest creates and executes an HTTP request, returning the response.
func MakeRequest(t *testing.T, method, target string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, target, http.NoBody)
	require.NoError(t, err, "failed to create request")

	resp, err := client.Do(req)
	require.NoError(t, err, "failed to make request")
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	require.Equal(t, expected, resp.StatusCode, "unexpected status code")
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	require.Equal(t, expected, resp.Header.Get("Content-Type"), "unexpected content type")
}
