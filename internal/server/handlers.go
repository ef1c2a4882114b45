// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, group queries, and the built-in test page.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/groupchat/internal/chat"
)

// handleWebSocket authenticates the request, upgrades it and registers the
// resulting client with the hub, which launches its pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	user, err := s.identity.Resolve(r)
	if err != nil {
		s.logger.Warn("rejected WebSocket upgrade", "addr", r.RemoteAddr, "error", err)
		http.Error(w, chat.Reason(err, "Unauthorized"), http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}

	client := newClient(conn, s.hub, s.dispatch, user, r.RemoteAddr, s.cfg, s.logger)
	if !s.hub.Register(client) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		client.closeConn()
	}
}

// handleHealth provides a simple health check endpoint that returns server status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "groupchat server is running!")
}

type healthStatus struct {
	Status   string `json:"status"`
	Store    string `json:"store"`
	Clients  int    `json:"clients"`
	Sessions int    `json:"sessions"`
}

// handleHealthz reports readiness, including a store ping.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := healthStatus{
		Status:   "ok",
		Store:    "ok",
		Clients:  s.hub.ClientCount(),
		Sessions: s.sessions.Count(),
	}
	code := http.StatusOK
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Error("store ping failed", "error", err)
		status.Status, status.Store = "degraded", "unreachable"
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, status)
}

// handleListGroups returns active public groups, newest first.
func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.registry.ListPublicGroups(r.Context())
	if err != nil {
		s.logger.Error("list public groups failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to load groups")
		return
	}
	s.writeJSON(w, http.StatusOK, summariesOf(groups))
}

// handleGroupMessages returns the recent history of a public group.
func (s *Server) handleGroupMessages(w http.ResponseWriter, r *http.Request) {
	groupID := mux.Vars(r)["id"]
	g, err := s.registry.GetGroup(r.Context(), groupID)
	switch {
	case errors.Is(err, chat.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "Group not found")
		return
	case err != nil:
		s.logger.Error("load group failed", "group_id", groupID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to load messages")
		return
	case g.Type == chat.GroupPrivate:
		// Private history is only served over an authenticated socket.
		s.writeError(w, http.StatusNotFound, "Group not found")
		return
	}

	history, err := s.router.History(r.Context(), groupID, 0)
	if err != nil {
		s.logger.Error("load history failed", "group_id", groupID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to load messages")
		return
	}
	s.writeJSON(w, http.StatusOK, history)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("error writing JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, reason string) {
	s.writeJSON(w, code, ErrorEvent{Reason: reason})
}

// handleTestPage serves an HTML page for trying the protocol by hand. The
// token field takes a signed token for the token query parameter.
func (s *Server) handleTestPage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPageHTML); err != nil {
		s.logger.Warn("error writing HTML response", "error", err)
	}
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>groupchat WebSocket Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #log {
            border: 1px solid #ccc;
            height: 320px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
            font-family: monospace;
            white-space: pre-wrap;
        }
        input[type="text"] { width: 420px; padding: 5px; margin-right: 10px; }
        textarea { width: 520px; height: 80px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>groupchat WebSocket Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="token" placeholder="Signed token">
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    <p>
        <textarea id="request">{"type":"listPublicGroups","id":"1"}</textarea><br>
        <button onclick="sendRequest()">Send</button>
    </p>

    <div id="log"></div>

    <script>
        let ws = null;
        const log = document.getElementById('log');
        const statusDiv = document.getElementById('status');
        const connectButton = document.getElementById('connectButton');

        function addLine(text, color) {
            const line = document.createElement('div');
            line.style.color = color || 'gray';
            line.textContent = text;
            log.appendChild(line);
            log.scrollTop = log.scrollHeight;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
                return;
            }
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            const token = encodeURIComponent(document.getElementById('token').value.trim());
            ws = new WebSocket(scheme + location.host + '/ws?token=' + token);
            ws.onopen = function() { addLine('connected'); updateStatus(true); };
            ws.onmessage = function(event) { addLine(event.data, 'green'); };
            ws.onclose = function() { addLine('connection closed'); updateStatus(false); ws = null; };
            ws.onerror = function() { addLine('connection error', 'red'); };
        }

        function sendRequest() {
            const text = document.getElementById('request').value.trim();
            if (text && ws && ws.readyState === WebSocket.OPEN) {
                ws.send(text);
                addLine(text, 'blue');
            }
        }
    </script>
</body>
</html>`
