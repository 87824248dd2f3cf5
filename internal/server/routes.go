// Package server wires HTTP handlers into a chi router for the chat relay.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// SetupRoutes configures the application router: health check, remote
// address echo, chat page and the websocket endpoint.
func SetupRoutes(hub *Hub, cfg Config, log *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	r.Get("/", HealthHandler)
	r.Get("/test", RemoteIPHandler)
	r.Get("/chat", ChatPageHandler)
	r.Method(http.MethodGet, "/ws/{"+IdentityParam+"}", NewWebSocketHandler(hub, cfg, log))
	return r
}

// requestLogger logs the path, status and duration of every request.
func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				// Hijacked connections never report a status through the wrapper.
				status = http.StatusSwitchingProtocols
			}
			log.Info("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"duration", time.Since(start),
				"remote", r.RemoteAddr)
		})
	}
}
