// Package server implements the websocket side of the chat relay: the
// connection registry, the broadcast engine (Hub) and the per-connection
// client lifecycle, plus the HTTP routes and helpers that expose them.
//
// The implementation is organized into specialized files for configuration,
// registry, hub, clients, routing, and HTTP handlers so each concern stays
// testable on its own.
package server
