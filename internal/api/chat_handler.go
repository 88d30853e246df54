package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mwelliot/tcmail/internal/ai"
	"github.com/mwelliot/tcmail/internal/db"
	"github.com/mwelliot/tcmail/internal/models"
	ws "github.com/mwelliot/tcmail/internal/websocket"
)

// chatHistoryLimit is how many messages a joining client receives.
const chatHistoryLimit = 50

// chatReplyTimeout bounds the handling of one chat message, including the
// AI call.
const chatReplyTimeout = 60 * time.Second

// errorReplyBody is sent to the client when no reply could be generated.
const errorReplyBody = "I encountered an error. Please try again."

// ChatHandler handles the /api/v1/chat WebSocket endpoint. Chat threads use
// the same store and drafter as the email monitor, but replies are always
// delivered immediately; the confidence score rides along in the payload
// instead of gating delivery.
type ChatHandler struct {
	pool          *pgxpool.Pool
	hub           *ws.Hub
	drafter       ai.Drafter
	assistantName string
	historyLimit  int
}

// NewChatHandler creates a new ChatHandler instance. historyLimit bounds the
// conversation window handed to the drafter, not what clients see.
func NewChatHandler(pool *pgxpool.Pool, hub *ws.Hub, drafter ai.Drafter, assistantName string, historyLimit int) *ChatHandler {
	return &ChatHandler{
		pool:          pool,
		hub:           hub,
		drafter:       drafter,
		assistantName: assistantName,
		historyLimit:  historyLimit,
	}
}

var chatUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// For now, allow all origins. This server is expected to be used
		// behind a reverse proxy in a trusted environment.
		return true
	},
}

// clientEnvelope is what the browser sends over the socket.
type clientEnvelope struct {
	Type string `json:"type"`
	Body string `json:"body"`
}

// serverEnvelope is what the server broadcasts to a session.
type serverEnvelope struct {
	Type     string            `json:"type"`
	Sender   string            `json:"sender,omitempty"`
	Message  *chatMessageView  `json:"message,omitempty"`
	Messages []chatMessageView `json:"messages,omitempty"`
	Error    string            `json:"error,omitempty"`
}

type chatMessageView struct {
	Sender     string    `json:"sender"`
	Body       string    `json:"body"`
	SentAt     time.Time `json:"sent_at"`
	Direction  string    `json:"direction"`
	Confidence *float64  `json:"confidence,omitempty"`
}

// Handle upgrades the connection and joins the client to its session thread.
// The session ID comes from the ?session query parameter; a client without
// one gets a fresh session. Each session maps to one chat thread.
func (h *ChatHandler) Handle(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	conn, err := chatUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ChatHandler: failed to upgrade connection for session %s: %v", sessionID, err)
		return
	}

	client := h.hub.Register(sessionID, conn)
	if client == nil {
		log.Printf("ChatHandler: Connection rejected for session %s (max connections exceeded)", sessionID)
		return
	}

	log.Printf("ChatHandler: WebSocket connection established for session %s", sessionID)

	ctx, cancel := context.WithTimeout(context.Background(), chatReplyTimeout)
	thread, err := h.joinSession(ctx, sessionID, client)
	cancel()
	if err != nil {
		log.Printf("ChatHandler: Failed to join session %s: %v", sessionID, err)
		h.hub.Unregister(sessionID, client)
		return
	}

	go h.readLoop(sessionID, thread, client)
}

// joinSession resolves the session thread, plants the persona's welcome
// message on a fresh one, and sends the recent history to the joining client
// only (not the whole session).
func (h *ChatHandler) joinSession(ctx context.Context, sessionID string, client *ws.Client) (*models.Thread, error) {
	thread, err := db.ResolveOrCreateThread(ctx, h.pool, "chat:"+sessionID, sessionID, "Chat session", models.ThreadSourceChat)
	if err != nil {
		return nil, err
	}

	history, err := db.GetThreadHistory(ctx, h.pool, thread.ID, chatHistoryLimit)
	if err != nil {
		return nil, err
	}

	if len(history) == 0 {
		welcome := &models.Message{
			ThreadID:  thread.ID,
			Sender:    h.assistantName,
			Recipient: sessionID,
			Subject:   "Chat session",
			Body:      "Hi! I'm " + h.assistantName + ", your transaction coordinator. How can I help you today?",
			SentAt:    time.Now(),
			Direction: models.DirectionOutbound,
		}
		if err := db.AppendMessage(ctx, h.pool, welcome); err != nil {
			return nil, err
		}
		history = append(history, welcome)
	}

	views := make([]chatMessageView, 0, len(history))
	for _, msg := range history {
		views = append(views, chatMessageView{
			Sender:    msg.Sender,
			Body:      msg.Body,
			SentAt:    msg.SentAt,
			Direction: string(msg.Direction),
		})
	}

	payload, err := json.Marshal(serverEnvelope{Type: "chat_history", Messages: views})
	if err != nil {
		return nil, err
	}
	if err := client.WriteMessage(payload); err != nil {
		return nil, err
	}

	return thread, nil
}

// readLoop reads client messages until the connection closes.
func (h *ChatHandler) readLoop(sessionID string, thread *models.Thread, client *ws.Client) {
	conn := client.Conn()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var envelope clientEnvelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			h.broadcast(sessionID, serverEnvelope{Type: "error", Error: "invalid message"})
			continue
		}

		switch envelope.Type {
		case "send":
			if envelope.Body == "" {
				continue
			}
			h.handleSend(sessionID, thread, envelope.Body)
		case "typing", "stop_typing":
			// Relay client typing state to the other tabs of the session.
			h.broadcast(sessionID, serverEnvelope{Type: envelope.Type, Sender: "client"})
		default:
			h.broadcast(sessionID, serverEnvelope{Type: "error", Error: "unknown message type"})
		}
	}

	h.hub.Unregister(sessionID, client)
	log.Printf("ChatHandler: WebSocket connection closed for session %s", sessionID)
}

// handleSend appends the client's message, shows the persona as typing while
// the reply is drafted, and delivers the reply. A failed generation still
// produces a reply so the client is never left hanging.
func (h *ChatHandler) handleSend(sessionID string, thread *models.Thread, body string) {
	ctx, cancel := context.WithTimeout(context.Background(), chatReplyTimeout)
	defer cancel()

	inbound := &models.Message{
		ThreadID:  thread.ID,
		Sender:    sessionID,
		Recipient: h.assistantName,
		Subject:   "Chat session",
		Body:      body,
		SentAt:    time.Now(),
		Direction: models.DirectionInbound,
	}
	if err := db.AppendMessage(ctx, h.pool, inbound); err != nil {
		log.Printf("ChatHandler: Failed to append message for session %s: %v", sessionID, err)
		h.broadcast(sessionID, serverEnvelope{Type: "error", Error: "failed to store message"})
		return
	}

	h.broadcast(sessionID, serverEnvelope{Type: "new_message", Message: &chatMessageView{
		Sender:    sessionID,
		Body:      body,
		SentAt:    inbound.SentAt,
		Direction: string(models.DirectionInbound),
	}})

	h.broadcast(sessionID, serverEnvelope{Type: "typing", Sender: h.assistantName})
	defer h.broadcast(sessionID, serverEnvelope{Type: "stop_typing", Sender: h.assistantName})

	history, err := db.GetThreadHistory(ctx, h.pool, thread.ID, h.historyLimit)
	if err != nil {
		log.Printf("ChatHandler: Failed to load history for session %s: %v", sessionID, err)
		h.deliverReply(ctx, sessionID, thread, errorReplyBody, nil)
		return
	}

	draft, err := h.drafter.Draft(ctx, thread, history)
	if err != nil || draft == nil || draft.ProposedBody == "" {
		log.Printf("ChatHandler: Failed to draft reply for session %s: %v", sessionID, err)
		h.deliverReply(ctx, sessionID, thread, errorReplyBody, nil)
		return
	}

	h.deliverReply(ctx, sessionID, thread, draft.ProposedBody, draft.Confidence)
}

// deliverReply appends the persona's reply and broadcasts it with its
// confidence score.
func (h *ChatHandler) deliverReply(ctx context.Context, sessionID string, thread *models.Thread, body string, confidence *float64) {
	outbound := &models.Message{
		ThreadID:  thread.ID,
		Sender:    h.assistantName,
		Recipient: sessionID,
		Subject:   "Chat session",
		Body:      body,
		SentAt:    time.Now(),
		Direction: models.DirectionOutbound,
	}
	if err := db.AppendMessage(ctx, h.pool, outbound); err != nil {
		log.Printf("ChatHandler: Failed to append reply for session %s: %v", sessionID, err)
	}

	h.broadcast(sessionID, serverEnvelope{Type: "new_message", Message: &chatMessageView{
		Sender:     h.assistantName,
		Body:       body,
		SentAt:     outbound.SentAt,
		Direction:  string(models.DirectionOutbound),
		Confidence: confidence,
	}})
}

func (h *ChatHandler) broadcast(sessionID string, envelope serverEnvelope) {
	payload, err := json.Marshal(envelope)
	if err != nil {
		log.Printf("ChatHandler: Failed to encode payload for session %s: %v", sessionID, err)
		return
	}
	h.hub.Send(sessionID, payload)
}
