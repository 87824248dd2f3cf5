// Package server coordinates client registration, history replay, message
// broadcast, and connection cleanup for the chat relay via the Hub type.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/chatrelay/internal/store"
	"github.com/samber/lo"
)

// Hub is the broadcast engine. It registers connections, replays today's
// history to newcomers, persists and fans out inbound messages, and cleans up
// connections that close, fail, or get displaced.
//
// Every connection runs its own receive loop; fan-out happens inside the
// sender's loop, so messages from one connection reach recipients in the
// order they were sent, with no ordering across connections.
type Hub struct {
	cfg      Config
	registry *Registry
	messages store.MessageStore
	log      *slog.Logger
	now      func() time.Time

	// mu guards closing and orders it against wg.Add.
	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// HubOption customizes a Hub.
type HubOption func(*Hub)

// WithClock overrides the clock used for broadcast timestamps and the
// start-of-day history cutoff.
func WithClock(now func() time.Time) HubOption {
	return func(h *Hub) {
		h.now = now
	}
}

// NewHub creates a Hub over an injected registry and message store.
func NewHub(cfg Config, registry *Registry, messages store.MessageStore, log *slog.Logger, opts ...HubOption) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		cfg:      cfg.sanitize(),
		registry: registry,
		messages: messages,
		log:      log,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Registry returns the registry the hub publishes to.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Serve runs the whole session of an accepted connection: registration,
// history replay, the receive loop and the final cleanup. It returns once the
// connection is Closed.
func (h *Hub) Serve(identity, addr string, conn Conn) error {
	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		_ = conn.Close()
		return ErrHubClosed
	}
	h.wg.Add(1)
	h.mu.Unlock()
	defer h.wg.Done()

	c := newClient(h, identity, addr, conn)
	h.activate(c)

	reason := c.readPump()
	h.disconnect(c, reason)
	<-c.closed
	return nil
}

// activate registers c, closes any connection it displaced and pushes
// today's history to it alone.
func (h *Hub) activate(c *Client) {
	c.transition(StateConnecting, StateActive)
	go c.writePump()

	if previous := h.registry.Register(c.identity, c); previous != nil && previous != c {
		c.log.Info("Identity reconnected; closing previous connection", "previous_conn_id", previous.id.String())
		h.disconnect(previous, "displaced by new connection")
	}
	c.log.Info("Client registered", "online", h.registry.Len())

	if h.isClosing() {
		h.disconnect(c, "server shutting down")
		return
	}

	h.replayHistory(c)
}

func (h *Hub) isClosing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closing
}

// replayHistory sends the most recent messages of the current day, oldest
// first. Each event carries the online list as of its own send.
func (h *Hub) replayHistory(c *Client) {
	messages, err := h.messages.RecentSince(h.ctx, store.StartOfDay(h.now()))
	if err != nil {
		c.log.Error("Failed to load message history", "error", err)
		return
	}
	messages = lo.Subset(messages, -h.cfg.HistoryLimit, uint(h.cfg.HistoryLimit))

	for _, message := range messages {
		payload, err := json.Marshal(Event{
			Text:     message.Body,
			User:     message.Author,
			Time:     formatClock(message.CreatedAt),
			UserList: h.registry.Identities(),
		})
		if err != nil {
			c.log.Error("Error encoding history event", "message_id", message.ID, "error", err)
			continue
		}
		if err := c.enqueue(payload); err != nil {
			h.disconnect(c, "history replay: "+err.Error())
			return
		}
	}
	c.log.Debug("History replayed", "messages", len(messages))
}

// publish persists an inbound message and broadcasts it. A storage failure
// is logged and the broadcast still happens.
func (h *Hub) publish(sender *Client, text string) {
	if _, err := h.messages.Append(h.ctx, sender.identity, text); err != nil {
		sender.log.Error("Failed to persist message; broadcasting anyway", "error", err)
	}

	h.broadcast(Event{
		Text: text,
		User: sender.identity,
		Time: formatClock(h.now()),
	})
}

// delivery is the outcome of handing one event to one recipient.
type delivery struct {
	recipient *Client
	err       error
}

// broadcast sends evt to every registered connection, sender included, and
// returns how many accepted it. UserList is filled from the same registry
// snapshot as the recipient list. Recipients that cannot accept the event
// are disconnected without affecting the others.
func (h *Hub) broadcast(evt Event) int {
	entries := h.registry.Entries()
	evt.UserList = lo.Map(entries, func(e Entry, _ int) string { return e.Identity })

	payload, err := json.Marshal(evt)
	if err != nil {
		h.log.Error("Error encoding broadcast event", "user", evt.User, "error", err)
		return 0
	}

	results := lo.Map(entries, func(e Entry, _ int) delivery {
		return delivery{recipient: e.Client, err: e.Client.enqueue(payload)}
	})
	failed := lo.Filter(results, func(d delivery, _ int) bool { return d.err != nil })
	for _, d := range failed {
		h.disconnect(d.recipient, "broadcast delivery: "+d.err.Error())
	}

	h.log.Debug("Broadcast message", "user", evt.User, "recipients", len(entries), "failed", len(failed))
	return len(entries) - len(failed)
}

// disconnect drains c: it leaves the registry (only if still registered as
// itself) and its writer closes the transport. Concurrent and repeated calls
// are no-ops after the first.
func (h *Hub) disconnect(c *Client, reason string) {
	if !c.claimDrain() {
		return
	}
	removed := h.registry.Remove(c.identity, c)
	c.stopWriter()
	c.log.Info("Client disconnected", "reason", reason, "unregistered", removed, "online", h.registry.Len())
}

// Shutdown stops accepting sessions, drains every registered connection and
// waits for their sessions to finish, or until the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("Initiating hub shutdown...")

	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()
	h.cancel()

	entries := h.registry.Entries()
	for _, e := range entries {
		h.disconnect(e.Client, "server shutdown")
	}
	h.log.Info("Closing client connections", "count", len(entries))

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		h.log.Warn("Hub shutdown timeout reached, some sessions may still be running")
		return context.DeadlineExceeded
	}
}
