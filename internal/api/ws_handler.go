package api

import (
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/ameliade/crosspost/internal/auth"
	ws "github.com/ameliade/crosspost/internal/websocket"
)

// WebSocketHandler handles the /api/ws endpoint, which mirrors upload
// progress events to the user's other tabs.
type WebSocketHandler struct {
	sessions *auth.SessionStore
	hub      *ws.Hub
}

// NewWebSocketHandler creates a new WebSocketHandler instance.
func NewWebSocketHandler(sessions *auth.SessionStore, hub *ws.Hub) *WebSocketHandler {
	return &WebSocketHandler{sessions: sessions, hub: hub}
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// For now, allow all origins. This server is expected to be used
		// behind a reverse proxy in a trusted environment.
		return true
	},
}

// Handle upgrades the HTTP connection to a WebSocket and registers it with
// the Hub. Authentication is via query parameter (?token=...) since browser
// WebSocket connections cannot set custom headers; the token is the same
// bearer token RequireSession checks.
func (h *WebSocketHandler) Handle(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		// Fallback to the Authorization header for tools that can set it.
		fields := strings.Fields(r.Header.Get("Authorization"))
		if len(fields) == 2 && strings.EqualFold(fields[0], "Bearer") {
			token = fields[1]
		}
	}
	if token == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	session, ok := h.sessions.Get(token)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocketHandler: failed to upgrade connection for user %s: %v", session.UserID, err)
		return
	}

	client := h.hub.Register(session.UserID, conn)
	if client == nil {
		log.Printf("WebSocketHandler: Connection rejected for user %s (max connections exceeded)", session.UserID)
		return
	}
	defer h.hub.Unregister(session.UserID, client)

	// The stream is one-way; the read loop only notices the client going
	// away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
