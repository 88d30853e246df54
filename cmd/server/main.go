package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mwelliot/tcmail/internal/ai"
	"github.com/mwelliot/tcmail/internal/api"
	"github.com/mwelliot/tcmail/internal/auth"
	"github.com/mwelliot/tcmail/internal/config"
	"github.com/mwelliot/tcmail/internal/db"
	"github.com/mwelliot/tcmail/internal/mail"
	ws "github.com/mwelliot/tcmail/internal/websocket"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()
	pool, err := db.NewConnection(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.CloseConnection(pool)

	log.Printf("Successfully connected to database")

	server := NewServer(cfg, pool)

	address := ":" + cfg.Port
	log.Printf("tcmail server starting on %s (environment: %s)", address, cfg.Environment)

	if err := http.ListenAndServe(address, server); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}

// NewServer creates and returns a new HTTP handler for the tcmail API server.
func NewServer(cfg *config.Config, dbPool *pgxpool.Pool) http.Handler {
	useTLS := cfg.Environment != "test"
	sender := mail.NewSender(cfg.SMTPHost, cfg.SMTPUsername, cfg.SMTPPassword, cfg.FromAddress, useTLS)
	drafter := ai.NewGenerator(cfg.AnthropicAPIKey, cfg.AnthropicModel, cfg.AITimeout, cfg.AssistantName)
	wsHub := ws.NewHub(10)

	chatHandler := api.NewChatHandler(dbPool, wsHub, drafter, cfg.AssistantName, cfg.HistoryLimit)
	reviewHandler := api.NewReviewHandler(dbPool, sender)
	healthHandler := api.NewHealthHandler(wsHub)

	mux := http.NewServeMux()

	mux.HandleFunc("/", handleRoot)

	mux.Handle("/api/v1/health", http.HandlerFunc(healthHandler.GetHealth))
	// WebSocket clients can't set headers from browsers; the chat endpoint is
	// open and scoped to its own session.
	mux.Handle("/api/v1/chat", http.HandlerFunc(chatHandler.Handle))

	mux.Handle("/api/v1/drafts", auth.RequireAuth(cfg.SecretKey, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		reviewHandler.ListPending(w, r)
	})))
	// Handle /api/v1/drafts/{draft_id}/{approve|discard} pattern
	mux.Handle("/api/v1/drafts/", auth.RequireAuth(cfg.SecretKey, http.HandlerFunc(reviewHandler.Resolve)))

	return mux
}

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "tcmail API is running")
}
