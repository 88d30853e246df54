package api

import (
	"net/http"
	"time"

	ws "github.com/mwelliot/tcmail/internal/websocket"
)

// HealthHandler handles the /api/v1/health endpoint.
type HealthHandler struct {
	hub *ws.Hub
}

// NewHealthHandler creates a new HealthHandler instance.
func NewHealthHandler(hub *ws.Hub) *HealthHandler {
	return &HealthHandler{hub: hub}
}

type healthResponse struct {
	Status         string `json:"status"`
	Timestamp      string `json:"timestamp"`
	ActiveSessions int    `json:"active_sessions"`
}

// GetHealth reports liveness and the number of connected chat sessions.
func (h *HealthHandler) GetHealth(w http.ResponseWriter, _ *http.Request) {
	WriteJSONResponse(w, healthResponse{
		Status:         "healthy",
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
		ActiveSessions: h.hub.ActiveSessions(),
	})
}
