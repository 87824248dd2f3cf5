// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, the remote address echo and the built-in chat page.
package server

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// IdentityParam is the route parameter carrying the connecting user's name.
const IdentityParam = "user"

// WebSocketHandler upgrades /ws/{user} requests and hands the connection to
// the hub for the rest of its session.
type WebSocketHandler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewWebSocketHandler builds the upgrade handler, enforcing the configured
// origin policy.
func NewWebSocketHandler(hub *Hub, cfg Config, log *slog.Logger) *WebSocketHandler {
	policy := newOriginPolicy(cfg.Origins(), log)
	return &WebSocketHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     policy.checkOrigin,
		},
		log: log,
	}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromPath(r)
	if err != nil || identity == "" {
		http.Error(w, "A user name is required: /ws/{user}", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		h.log.Warn("WebSocket upgrade failed", "identity", identity, "error", err)
		return
	}

	if err := h.hub.Serve(identity, r.RemoteAddr, conn); err != nil {
		h.log.Info("Rejected WebSocket session", "identity", identity, "error", err)
	}
}

// identityFromPath returns the {user} segment as the client sent it. chi
// routes on RawPath when the request carries one, leaving the segment
// escaped; otherwise the segment is already decoded and is used verbatim.
func identityFromPath(r *http.Request) (string, error) {
	segment := chi.URLParam(r, IdentityParam)
	if r.URL.RawPath == "" {
		return segment, nil
	}
	return url.PathUnescape(segment)
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "Chat relay is running!")
}

// RemoteIPHandler answers with the caller's IP address as plain text.
func RemoteIPHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, remoteIP(r))
}

// remoteIP strips the port from r.RemoteAddr, which chi's RealIP middleware
// may already have replaced with a forwarded address.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ChatPageHandler serves an HTML client for trying the relay in a browser.
func ChatPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprint(w, chatPage)
}

const chatPage = `<!DOCTYPE html>
<html>
<head>
    <title>Chat Relay</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #layout { display: flex; gap: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            width: 480px;
            padding: 10px;
            overflow-y: scroll;
            background-color: #f9f9f9;
        }
        #users { border: 1px solid #ccc; padding: 10px; min-width: 120px; }
        input[type="text"] { width: 300px; padding: 5px; margin-right: 10px; }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
        .time { color: #888; margin-right: 6px; }
    </style>
</head>
<body>
    <h1>Chat Relay</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="nameInput" placeholder="Your name...">
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    <div style="margin-top: 10px">
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>

    <div id="layout">
        <div id="messages"></div>
        <div id="users"></div>
    </div>

    <script>
        let ws = null;
        const messagesDiv = document.getElementById('messages');
        const usersDiv = document.getElementById('users');
        const nameInput = document.getElementById('nameInput');
        const messageInput = document.getElementById('messageInput');
        const sendButton = document.getElementById('sendButton');
        const connectButton = document.getElementById('connectButton');
        const statusDiv = document.getElementById('status');

        function addLine(time, user, text) {
            const line = document.createElement('div');
            const stamp = document.createElement('span');
            stamp.className = 'time';
            stamp.textContent = time;
            const author = document.createElement('strong');
            author.textContent = user + ': ';
            line.appendChild(stamp);
            line.appendChild(author);
            line.appendChild(document.createTextNode(text));
            messagesDiv.appendChild(line);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function showUsers(users) {
            usersDiv.textContent = '';
            (users || []).forEach(function(name) {
                const entry = document.createElement('div');
                entry.textContent = name;
                usersDiv.appendChild(entry);
            });
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            messageInput.disabled = !connected;
            sendButton.disabled = !connected;
            nameInput.disabled = connected;
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function connect() {
            const name = nameInput.value.trim();
            if (!name) {
                return;
            }
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws/' + encodeURIComponent(name));

            ws.onopen = function() { updateStatus(true); };
            ws.onmessage = function(event) {
                const evt = JSON.parse(event.data);
                addLine(evt.time, evt.user, evt.text);
                showUsers(evt.user_list);
            };
            ws.onclose = function() {
                updateStatus(false);
                showUsers([]);
                ws = null;
            };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.send('close');
            } else {
                connect();
            }
        }

        function sendMessage() {
            const message = messageInput.value.trim();
            if (message && ws && ws.readyState === WebSocket.OPEN) {
                ws.send(message);
                messageInput.value = '';
            }
        }

        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendMessage();
            }
        });
    </script>
</body>
</html>`
