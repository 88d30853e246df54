package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mwelliot/tcmail/internal/db"
	"github.com/mwelliot/tcmail/internal/mail"
	"github.com/mwelliot/tcmail/internal/models"
)

// MailSender submits approved drafts over SMTP.
type MailSender interface {
	Send(ctx context.Context, out *mail.Outbound) error
	From() string
}

// ReviewHandler handles the human review queue: listing pending drafts and
// approving or discarding them.
type ReviewHandler struct {
	pool   *pgxpool.Pool
	sender MailSender
}

// NewReviewHandler creates a new ReviewHandler instance.
func NewReviewHandler(pool *pgxpool.Pool, sender MailSender) *ReviewHandler {
	return &ReviewHandler{pool: pool, sender: sender}
}

type pendingDraftView struct {
	ID                 string    `json:"id"`
	ThreadID           string    `json:"thread_id"`
	ParticipantAddress string    `json:"participant_address"`
	Subject            string    `json:"subject"`
	ProposedBody       string    `json:"proposed_body"`
	Confidence         *float64  `json:"confidence"`
	GeneratedAt        time.Time `json:"generated_at"`
}

// ListPending returns all drafts awaiting review, oldest first, with enough
// thread context for a reviewer to act on them.
func (h *ReviewHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	drafts, err := db.ListPendingDrafts(ctx, h.pool)
	if err != nil {
		log.Printf("ReviewHandler: Failed to list pending drafts: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	views := make([]pendingDraftView, 0, len(drafts))
	for _, draft := range drafts {
		view := pendingDraftView{
			ID:           draft.ID,
			ThreadID:     draft.ThreadID,
			ProposedBody: draft.ProposedBody,
			Confidence:   draft.Confidence,
			GeneratedAt:  draft.GeneratedAt,
		}

		thread, err := db.GetThreadByID(ctx, h.pool, draft.ThreadID)
		if err != nil {
			log.Printf("ReviewHandler: Failed to load thread %s: %v", draft.ThreadID, err)
		} else {
			view.ParticipantAddress = thread.ParticipantAddress
			view.Subject = thread.Subject
		}

		views = append(views, view)
	}

	WriteJSONResponse(w, views)
}

// Resolve handles POST /api/v1/drafts/{draft_id}/{approve|discard}.
func (h *ReviewHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/v1/drafts/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" {
		http.Error(w, "draft_id and action are required", http.StatusBadRequest)
		return
	}
	draftID, action := parts[0], parts[1]

	switch action {
	case "approve":
		h.approve(w, r, draftID)
	case "discard":
		h.discard(w, r, draftID)
	default:
		http.Error(w, "action must be approve or discard", http.StatusBadRequest)
	}
}

// approve sends the draft over SMTP and marks it sent. The outbound message
// is appended in the same transaction that resolves the draft, so an approved
// draft and its sent message are never visible apart.
func (h *ReviewHandler) approve(w http.ResponseWriter, r *http.Request, draftID string) {
	ctx := r.Context()

	draft, err := db.GetDraftByID(ctx, h.pool, draftID)
	if err != nil {
		h.writeResolveError(w, draftID, err)
		return
	}

	if draft.Status != models.DraftStatusPending {
		http.Error(w, "Draft already resolved", http.StatusConflict)
		return
	}

	thread, err := db.GetThreadByID(ctx, h.pool, draft.ThreadID)
	if err != nil {
		log.Printf("ReviewHandler: Failed to load thread %s: %v", draft.ThreadID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	out := &mail.Outbound{
		To:        thread.ParticipantAddress,
		Subject:   mail.ReplySubject(thread.Subject),
		Body:      draft.ProposedBody,
		MessageID: mail.NewOutboundMessageID(h.sender.From()),
	}

	// Thread the reply under the participant's latest message, the same way
	// auto-sent replies are threaded.
	latest, err := db.GetLatestInbound(ctx, h.pool, draft.ThreadID)
	switch {
	case err == nil:
		if latest.MessageID != "" {
			out.InReplyTo = latest.MessageID
			out.References = []string{latest.MessageID}
		}
	case !errors.Is(err, db.ErrMessageNotFound):
		log.Printf("ReviewHandler: Failed to load latest inbound for thread %s: %v", draft.ThreadID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if err := h.sender.Send(ctx, out); err != nil {
		log.Printf("ReviewHandler: Failed to send approved draft %s: %v", draftID, err)
		http.Error(w, "Failed to send message", http.StatusBadGateway)
		return
	}

	outbound := &models.Message{
		MessageID: out.MessageID,
		Sender:    h.sender.From(),
		Recipient: out.To,
		Subject:   out.Subject,
		Body:      out.Body,
		SentAt:    time.Now(),
		Direction: models.DirectionOutbound,
	}
	if err := db.ResolveDraft(ctx, h.pool, draftID, models.DraftStatusSent, outbound); err != nil {
		h.writeResolveError(w, draftID, err)
		return
	}

	WriteJSONResponse(w, map[string]string{"status": "sent", "draft_id": draftID})
}

// discard marks the draft discarded without sending anything.
func (h *ReviewHandler) discard(w http.ResponseWriter, r *http.Request, draftID string) {
	ctx := r.Context()

	if err := db.ResolveDraft(ctx, h.pool, draftID, models.DraftStatusDiscarded, nil); err != nil {
		h.writeResolveError(w, draftID, err)
		return
	}

	WriteJSONResponse(w, map[string]string{"status": "discarded", "draft_id": draftID})
}

func (h *ReviewHandler) writeResolveError(w http.ResponseWriter, draftID string, err error) {
	switch {
	case errors.Is(err, db.ErrDraftNotFound):
		http.Error(w, "Draft not found", http.StatusNotFound)
	case errors.Is(err, db.ErrDraftAlreadyResolved):
		http.Error(w, "Draft already resolved", http.StatusConflict)
	default:
		log.Printf("ReviewHandler: Failed to resolve draft %s: %v", draftID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
