// Package server manages individual WebSocket clients, handling the receive
// loop, the serialized outbound writer, rate limiting, and lifecycle state
// for each connection.
package server

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// State is the lifecycle stage of a connection.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// closeGrace bounds the best-effort close frame sent while draining.
const closeGrace = time.Second

// Client is one live connection. Its writer goroutine is the only code that
// writes data frames to conn, so broadcasts from many senders are serialized
// through the send queue.
type Client struct {
	id          uuid.UUID
	identity    string
	addr        string
	conn        Conn
	hub         *Hub
	send        chan []byte
	done        chan struct{}
	closed      chan struct{}
	state       atomic.Int32
	closeOnce   sync.Once
	rateLimiter *rateLimiter
	log         *slog.Logger
}

// newClient creates a Client in the Connecting state. The read limit is
// applied right away so no oversize frame is ever buffered.
func newClient(h *Hub, identity, addr string, conn Conn) *Client {
	id := uuid.New()
	if conn != nil {
		conn.SetReadLimit(int64(h.cfg.MaxMessageSize))
	}

	c := &Client{
		id:       id,
		identity: identity,
		addr:     addr,
		conn:     conn,
		hub:      h,
		send:     make(chan []byte, h.cfg.SendQueueSize),
		done:     make(chan struct{}),
		closed:   make(chan struct{}),
		log:      h.log.With("identity", identity, "addr", addr, "conn_id", id.String()),
	}
	if h.cfg.RateLimitBurst > 0 {
		c.rateLimiter = newRateLimiter(h.cfg.RateLimitBurst, h.cfg.RateLimitRefillInterval, h.now)
	}
	return c
}

// ID returns the unique id of this connection.
func (c *Client) ID() uuid.UUID {
	return c.id
}

// Identity returns the display name the connection registered under.
func (c *Client) Identity() string {
	return c.identity
}

// State returns the current lifecycle stage.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Done is closed once the connection started draining.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) transition(from, to State) bool {
	return c.state.CompareAndSwap(int32(from), int32(to))
}

// claimDrain moves the client to Draining. Only the first caller succeeds,
// which makes every cleanup path run exactly once.
func (c *Client) claimDrain() bool {
	for {
		current := c.State()
		if current >= StateDraining {
			return false
		}
		if c.transition(current, StateDraining) {
			return true
		}
	}
}

// stopWriter tells the writer goroutine to send a close frame and release
// the transport. Callers must have won claimDrain.
func (c *Client) stopWriter() {
	close(c.done)
}

func (c *Client) draining() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// enqueue hands a frame to the writer goroutine without ever blocking.
func (c *Client) enqueue(payload []byte) error {
	if c.draining() {
		return ErrClientClosed
	}

	select {
	case c.send <- payload:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// setupReadConnection configures read deadlines and pong handler for the connection.
func (c *Client) setupReadConnection() {
	pongWait := c.hub.cfg.PongWait
	if pongWait <= 0 {
		return
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn("Error setting initial read deadline", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// readPump runs the receive loop until the session ends and returns why.
func (c *Client) readPump() string {
	c.setupReadConnection()

	for {
		messageType, payload, err := c.conn.ReadMessage()
		if err != nil {
			return c.handleReadError(err)
		}

		if messageType != websocket.TextMessage {
			c.log.Debug("Ignoring non-text frame", "type", messageType)
			continue
		}

		text := string(payload)
		if text == CloseCommand {
			return "close command"
		}

		if !c.checkRateLimit() {
			continue
		}

		c.hub.publish(c, text)
	}
}

// handleReadError logs the read failure at a level matching its cause and
// returns the disconnect reason.
func (c *Client) handleReadError(err error) string {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("Message exceeded maximum size", "max_bytes", c.hub.cfg.MaxMessageSize)
		return "message too large"
	case c.State() >= StateDraining:
		return "connection closed by server"
	case isExpectedCloseError(err):
		c.log.Debug("Client closed connection", "error", err)
		return "connection closed by client"
	default:
		c.log.Warn("WebSocket read error", "error", err)
		return "read error"
	}
}

// checkRateLimit reports whether the next inbound message may be processed.
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter == nil || c.rateLimiter.allow() {
		return true
	}
	c.log.Warn("Rate limit exceeded; discarding message",
		"burst", c.hub.cfg.RateLimitBurst, "interval", c.hub.cfg.RateLimitRefillInterval)
	return false
}

// writePump owns every data write on the connection. It exits once the
// client drains or a write fails, and always releases the transport.
func (c *Client) writePump() {
	var pings <-chan time.Time
	if period := c.hub.cfg.pingPeriod(); period > 0 {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		pings = ticker.C
	}
	defer c.closeTransport()

	for {
		select {
		case <-c.done:
			c.writeCloseMessage()
			return
		case message := <-c.send:
			if c.draining() {
				c.writeCloseMessage()
				return
			}
			if err := c.writeTextMessage(message); err != nil {
				c.logWriteError("Error writing message", err)
				c.hub.disconnect(c, "write failed")
				return
			}
		case <-pings:
			if err := c.writePing(); err != nil {
				c.logWriteError("Error writing ping message", err)
				c.hub.disconnect(c, "ping failed")
				return
			}
		}
	}
}

func (c *Client) writeTextMessage(message []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, message)
}

func (c *Client) writePing() error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

// writeCloseMessage sends a best-effort normal closure frame.
func (c *Client) writeCloseMessage() {
	message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(closeGrace)); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Debug("Error writing close message", "error", err)
		}
	}
}

func (c *Client) logWriteError(msg string, err error) {
	if isExpectedCloseError(err) {
		c.log.Debug(msg, "error", err)
		return
	}
	c.log.Warn(msg, "error", err)
}

// closeTransport closes the underlying connection exactly once and marks the
// client Closed.
func (c *Client) closeTransport() {
	c.closeOnce.Do(func() {
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Debug("Error closing connection", "error", err)
		}
		c.state.Store(int32(StateClosed))
		close(c.closed)
	})
}
