// Package server keeps the set of live connections in a Registry, the single
// source of truth for who is online.
package server

import (
	"slices"
	"strings"
	"sync"
)

// Entry pairs a registered identity with its connection.
type Entry struct {
	Identity string
	Client   *Client
}

// Registry maps each online identity to its one live connection.
//
// Every operation runs under one lock and returns copies, so callers can do
// I/O on the results without holding it. An entry read from the registry may
// be replaced or removed right after the call returns.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*Client)}
}

// Register stores c under identity and returns the connection it displaced,
// if any. The caller is responsible for closing the displaced connection.
func (r *Registry) Register(identity string, c *Client) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous := r.clients[identity]
	r.clients[identity] = c
	return previous
}

// Unregister removes and returns whatever is registered under identity.
// It returns nil when nothing is, so repeated calls are harmless.
func (r *Registry) Unregister(identity string) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[identity]
	if !ok {
		return nil
	}
	delete(r.clients, identity)
	return c
}

// Remove deletes identity only while it still maps to c. A connection that
// was displaced therefore never evicts its successor.
func (r *Registry) Remove(identity string, c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.clients[identity]; !ok || current != c {
		return false
	}
	delete(r.clients, identity)
	return true
}

// Lookup returns the connection currently registered under identity.
func (r *Registry) Lookup(identity string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clients[identity]
	return c, ok
}

// Identities returns a sorted snapshot of the online identities.
func (r *Registry) Identities() []string {
	r.mu.RLock()
	identities := make([]string, 0, len(r.clients))
	for identity := range r.clients {
		identities = append(identities, identity)
	}
	r.mu.RUnlock()

	slices.Sort(identities)
	return identities
}

// Entries returns a snapshot of every registration, sorted by identity.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	entries := make([]Entry, 0, len(r.clients))
	for identity, c := range r.clients {
		entries = append(entries, Entry{Identity: identity, Client: c})
	}
	r.mu.RUnlock()

	slices.SortFunc(entries, func(a, b Entry) int {
		return strings.Compare(a.Identity, b.Identity)
	})
	return entries
}

// Len returns the number of online identities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
