// Package server defines the wire event schema, the transport contract and
// the error values shared by the client and hub logic.
package server

import (
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// CloseCommand is the reserved inbound text that ends a session instead of
// being broadcast.
const CloseCommand = "close"

const clockFormat = "15:04"

var (
	// ErrSendQueueFull reports a recipient whose outbound queue overflowed.
	ErrSendQueueFull = errors.New("client send queue full")
	// ErrClientClosed reports a send to a connection that is draining or closed.
	ErrClientClosed = errors.New("client connection closed")
	// ErrHubClosed is returned by Serve once the hub started shutting down.
	ErrHubClosed = errors.New("hub is shutting down")
)

// Event is the JSON object delivered to clients, for both live broadcasts and
// history replay.
type Event struct {
	Text     string   `json:"text"`
	User     string   `json:"user"`
	Time     string   `json:"time"`
	UserList []string `json:"user_list"`
}

// Conn is the transport capability a Client needs. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

var _ Conn = (*websocket.Conn)(nil)

// formatClock renders t as the server-local HH:MM shown to clients.
func formatClock(t time.Time) string {
	return t.Local().Format(clockFormat)
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}
