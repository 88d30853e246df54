package websocket

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client wraps a WebSocket connection. Writes go through WriteMessage, which
// serializes them; gorilla/websocket connections do not support concurrent
// writers.
type Client struct {
	writeMu sync.Mutex
	conn    *websocket.Conn
}

// Conn returns the underlying WebSocket connection, for reading.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

// WriteMessage sends a text message to the client, serialized against other
// writers of the same connection.
func (c *Client) WriteMessage(msg []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

// Hub manages active WebSocket connections per chat session.
// It supports multiple connections per session (e.g., multiple tabs).
type Hub struct {
	mu            sync.RWMutex
	clients       map[string]map[*Client]struct{} // sessionID -> set of clients
	maxPerSession int
}

// NewHub creates a new Hub with a per-session connection limit.
func NewHub(maxPerSession int) *Hub {
	if maxPerSession <= 0 {
		maxPerSession = 10
	}
	return &Hub{
		clients:       make(map[string]map[*Client]struct{}),
		maxPerSession: maxPerSession,
	}
}

// Register adds a WebSocket connection for the given session.
// If the per-session limit is exceeded, the new connection is closed and nil
// is returned.
func (h *Hub) Register(sessionID string, conn *websocket.Conn) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	sessionClients, ok := h.clients[sessionID]
	if !ok {
		sessionClients = make(map[*Client]struct{})
		h.clients[sessionID] = sessionClients
	}

	if len(sessionClients) >= h.maxPerSession {
		log.Printf("websocket: session %s exceeded max connections (%d), closing new connection", sessionID, h.maxPerSession)
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many connections for this session"),
			// Use zero deadline - best effort.
			// See https://pkg.go.dev/github.com/gorilla/websocket#Conn.WriteControl
			// for details.
			time.Time{},
		)
		_ = conn.Close()
		return nil
	}

	client := &Client{conn: conn}
	sessionClients[client] = struct{}{}
	return client
}

// Unregister removes a client for the given session and closes the connection.
func (h *Hub) Unregister(sessionID string, client *Client) {
	if client == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	sessionClients, ok := h.clients[sessionID]
	if !ok {
		_ = client.conn.Close()
		return
	}

	delete(sessionClients, client)

	if len(sessionClients) == 0 {
		delete(h.clients, sessionID)
	}

	_ = client.conn.Close()
}

// Send broadcasts a message to all active clients for the session.
// The client set is snapshotted under the lock; Register and Unregister
// mutate the same map concurrently, and the network writes must not happen
// while holding it.
func (h *Hub) Send(sessionID string, msg []byte) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients[sessionID]))
	for client := range h.clients[sessionID] {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if err := client.WriteMessage(msg); err != nil {
			log.Printf("websocket: failed to write message for session %s: %v", sessionID, err)
			// Best-effort cleanup: unregister this client.
			go h.Unregister(sessionID, client)
		}
	}
}

// ActiveConnections returns the number of active WebSocket connections for a
// session.
func (h *Hub) ActiveConnections(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients[sessionID])
}

// ActiveSessions returns the number of sessions with at least one connection.
func (h *Hub) ActiveSessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}
