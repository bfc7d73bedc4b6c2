package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client is one registered WebSocket connection. Upload batches stream
// events from their own goroutines, so every write goes through the
// client's write lock (gorilla allows only one concurrent writer).
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *Client) write(msg []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

// Hub tracks the open WebSocket connections per user so upload progress
// reaches every tab, not just the one that started the batch. Multiple
// connections per user are expected; a per-user cap bounds them.
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]map[*Client]struct{}
	maxPerUser int
}

// NewHub creates a new Hub with a per-user connection limit.
func NewHub(maxPerUser int) *Hub {
	if maxPerUser <= 0 {
		maxPerUser = 10
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		maxPerUser: maxPerUser,
	}
}

// Register adds a connection for the given user. Over the per-user limit
// the connection is closed with a policy-violation frame and nil is
// returned.
func (h *Hub) Register(userID string, conn *websocket.Conn) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	userClients := h.clients[userID]
	if userClients == nil {
		userClients = make(map[*Client]struct{})
		h.clients[userID] = userClients
	}

	if len(userClients) >= h.maxPerUser {
		log.Printf("websocket: user %s exceeded max connections (%d), closing new connection", userID, h.maxPerUser)
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many connections for this user"),
			// Zero deadline, best effort.
			time.Time{},
		)
		_ = conn.Close()
		return nil
	}

	client := &Client{conn: conn}
	userClients[client] = struct{}{}
	return client
}

// Unregister removes a client and closes its connection. Safe to call with
// a client that was already dropped.
func (h *Hub) Unregister(userID string, client *Client) {
	if client == nil {
		return
	}

	h.mu.Lock()
	if userClients := h.clients[userID]; userClients != nil {
		delete(userClients, client)
		if len(userClients) == 0 {
			delete(h.clients, userID)
		}
	}
	h.mu.Unlock()

	_ = client.conn.Close()
}

// Send delivers a raw message to every open connection of the user.
// Connections that fail to take the write are dropped.
func (h *Hub) Send(userID string, msg []byte) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients[userID]))
	for client := range h.clients[userID] {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	for _, client := range targets {
		if err := client.write(msg); err != nil {
			log.Printf("websocket: failed to write message for user %s: %v", userID, err)
			h.Unregister(userID, client)
		}
	}
}

// SendEvent mirrors one upload progress event to the user's tabs as a JSON
// record {"event": name, "data": payload}, matching the SSE stream's
// event/data pairing.
func (h *Hub) SendEvent(userID, name string, data any) {
	msg, err := json.Marshal(map[string]any{"event": name, "data": data})
	if err != nil {
		log.Printf("websocket: failed to encode %s event for user %s: %v", name, userID, err)
		return
	}
	h.Send(userID, msg)
}

// ActiveConnections returns the number of open connections for a user.
func (h *Hub) ActiveConnections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients[userID])
}
