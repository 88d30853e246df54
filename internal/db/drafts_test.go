package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mwelliot/tcmail/internal/models"
	"github.com/mwelliot/tcmail/internal/testutil"
)

func ptr(f float64) *float64 { return &f }

func TestQueueDraftForReview(t *testing.T) {
	pool := testutil.NewTestDB(t)
	defer pool.Close()

	ctx := context.Background()

	thread, err := ResolveOrCreateThread(ctx, pool, "mid:queue@example.com", "jordan@example.com", "Subject", models.ThreadSourceEmail)
	if err != nil {
		t.Fatalf("ResolveOrCreateThread failed: %v", err)
	}

	draft := &models.Draft{
		ThreadID:     thread.ID,
		ProposedBody: "We close Friday at 2pm.",
		Confidence:   ptr(0.6),
	}

	decision, err := QueueDraftForReview(ctx, pool, draft, "confidence 0.60 in [0.40, 0.85)")
	if err != nil {
		t.Fatalf("QueueDraftForReview failed: %v", err)
	}

	if draft.ID == "" {
		t.Error("expected draft ID to be set")
	}
	if draft.Status != models.DraftStatusPending {
		t.Errorf("expected pending status, got %s", draft.Status)
	}
	if decision.Action != models.ActionQueue {
		t.Errorf("expected queue decision, got %s", decision.Action)
	}

	t.Run("thread moves to awaiting_review", func(t *testing.T) {
		got, err := GetThreadByID(ctx, pool, thread.ID)
		if err != nil {
			t.Fatalf("GetThreadByID failed: %v", err)
		}
		if got.Status != models.ThreadStatusAwaitingReview {
			t.Errorf("expected awaiting_review, got %s", got.Status)
		}
	})

	t.Run("draft is listed as pending", func(t *testing.T) {
		pending, err := ListPendingDrafts(ctx, pool)
		if err != nil {
			t.Fatalf("ListPendingDrafts failed: %v", err)
		}
		if len(pending) != 1 || pending[0].ID != draft.ID {
			t.Fatalf("expected the queued draft, got %+v", pending)
		}
		if pending[0].Confidence == nil || *pending[0].Confidence != 0.6 {
			t.Errorf("expected confidence 0.6, got %v", pending[0].Confidence)
		}
	})

	t.Run("decision is recorded", func(t *testing.T) {
		decisions, err := ListDecisionsForThread(ctx, pool, thread.ID)
		if err != nil {
			t.Fatalf("ListDecisionsForThread failed: %v", err)
		}
		if len(decisions) != 1 || decisions[0].Action != models.ActionQueue {
			t.Fatalf("expected one queue decision, got %+v", decisions)
		}
	})
}

func TestResolveDraft(t *testing.T) {
	pool := testutil.NewTestDB(t)
	defer pool.Close()

	ctx := context.Background()

	queue := func(key string) (*models.Thread, *models.Draft) {
		thread, err := ResolveOrCreateThread(ctx, pool, key, "jordan@example.com", "Subject", models.ThreadSourceEmail)
		if err != nil {
			t.Fatalf("ResolveOrCreateThread failed: %v", err)
		}
		draft := &models.Draft{ThreadID: thread.ID, ProposedBody: "Proposed reply.", Confidence: ptr(0.5)}
		if _, err := QueueDraftForReview(ctx, pool, draft, "test"); err != nil {
			t.Fatalf("QueueDraftForReview failed: %v", err)
		}
		return thread, draft
	}

	t.Run("approve appends the outbound message and reactivates the thread", func(t *testing.T) {
		thread, draft := queue("mid:approve@example.com")

		outbound := &models.Message{
			Sender:    "tc@agency.example",
			Recipient: "jordan@example.com",
			Subject:   "Re: Subject",
			Body:      draft.ProposedBody,
			SentAt:    time.Now(),
			Direction: models.DirectionOutbound,
		}
		if err := ResolveDraft(ctx, pool, draft.ID, models.DraftStatusSent, outbound); err != nil {
			t.Fatalf("ResolveDraft failed: %v", err)
		}

		got, err := GetDraftByID(ctx, pool, draft.ID)
		if err != nil {
			t.Fatalf("GetDraftByID failed: %v", err)
		}
		if got.Status != models.DraftStatusSent {
			t.Errorf("expected sent, got %s", got.Status)
		}

		messages, err := GetMessagesForThread(ctx, pool, thread.ID)
		if err != nil {
			t.Fatalf("GetMessagesForThread failed: %v", err)
		}
		if len(messages) != 1 || messages[0].Direction != models.DirectionOutbound {
			t.Fatalf("expected one outbound message, got %+v", messages)
		}

		threadAfter, err := GetThreadByID(ctx, pool, thread.ID)
		if err != nil {
			t.Fatalf("GetThreadByID failed: %v", err)
		}
		if threadAfter.Status != models.ThreadStatusActive {
			t.Errorf("expected thread back to active, got %s", threadAfter.Status)
		}

		// The human's approval joins the queue decision in the audit trail,
		// referencing the message it sent.
		decisions, err := ListDecisionsForThread(ctx, pool, thread.ID)
		if err != nil {
			t.Fatalf("ListDecisionsForThread failed: %v", err)
		}
		var approve *models.Decision
		for _, decision := range decisions {
			if decision.Action == models.ActionApprove {
				approve = decision
			}
		}
		if approve == nil {
			t.Fatalf("expected an approve decision, got %+v", decisions)
		}
		if approve.MessageID == nil || *approve.MessageID != outbound.ID {
			t.Errorf("expected approve decision to reference message %s, got %v", outbound.ID, approve.MessageID)
		}
	})

	t.Run("discard does not append a message", func(t *testing.T) {
		thread, draft := queue("mid:discard@example.com")

		if err := ResolveDraft(ctx, pool, draft.ID, models.DraftStatusDiscarded, nil); err != nil {
			t.Fatalf("ResolveDraft failed: %v", err)
		}

		messages, err := GetMessagesForThread(ctx, pool, thread.ID)
		if err != nil {
			t.Fatalf("GetMessagesForThread failed: %v", err)
		}
		if len(messages) != 0 {
			t.Errorf("expected no messages, got %d", len(messages))
		}

		decisions, err := ListDecisionsForThread(ctx, pool, thread.ID)
		if err != nil {
			t.Fatalf("ListDecisionsForThread failed: %v", err)
		}
		var sawDiscard bool
		for _, decision := range decisions {
			if decision.Action == models.ActionDiscard {
				sawDiscard = true
			}
		}
		if !sawDiscard {
			t.Errorf("expected a discard decision, got %+v", decisions)
		}
	})

	t.Run("double resolve is rejected", func(t *testing.T) {
		_, draft := queue("mid:double@example.com")

		if err := ResolveDraft(ctx, pool, draft.ID, models.DraftStatusDiscarded, nil); err != nil {
			t.Fatalf("first ResolveDraft failed: %v", err)
		}

		err := ResolveDraft(ctx, pool, draft.ID, models.DraftStatusSent, nil)
		if !errors.Is(err, ErrDraftAlreadyResolved) {
			t.Errorf("expected ErrDraftAlreadyResolved, got %v", err)
		}
	})

	t.Run("unknown draft", func(t *testing.T) {
		err := ResolveDraft(ctx, pool, "00000000-0000-0000-0000-000000000000", models.DraftStatusDiscarded, nil)
		if !errors.Is(err, ErrDraftNotFound) {
			t.Errorf("expected ErrDraftNotFound, got %v", err)
		}
	})

	t.Run("thread stays awaiting_review while another draft is pending", func(t *testing.T) {
		thread, first := queue("mid:multi@example.com")
		second := &models.Draft{ThreadID: thread.ID, ProposedBody: "Second proposal.", Confidence: ptr(0.5)}
		if _, err := QueueDraftForReview(ctx, pool, second, "test"); err != nil {
			t.Fatalf("QueueDraftForReview failed: %v", err)
		}

		if err := ResolveDraft(ctx, pool, first.ID, models.DraftStatusDiscarded, nil); err != nil {
			t.Fatalf("ResolveDraft failed: %v", err)
		}

		got, err := GetThreadByID(ctx, pool, thread.ID)
		if err != nil {
			t.Fatalf("GetThreadByID failed: %v", err)
		}
		if got.Status != models.ThreadStatusAwaitingReview {
			t.Errorf("expected awaiting_review while a draft is pending, got %s", got.Status)
		}
	})
}

func TestRecordAutoSend(t *testing.T) {
	pool := testutil.NewTestDB(t)
	defer pool.Close()

	ctx := context.Background()

	thread, err := ResolveOrCreateThread(ctx, pool, "mid:autosend@example.com", "jordan@example.com", "Subject", models.ThreadSourceEmail)
	if err != nil {
		t.Fatalf("ResolveOrCreateThread failed: %v", err)
	}

	outbound := &models.Message{
		ThreadID:  thread.ID,
		Sender:    "tc@agency.example",
		Recipient: "jordan@example.com",
		Subject:   "Re: Subject",
		Body:      "We close Friday at 2pm.",
		SentAt:    time.Now(),
		Direction: models.DirectionOutbound,
	}

	decision, err := RecordAutoSend(ctx, pool, outbound, "confidence 0.92 >= 0.85")
	if err != nil {
		t.Fatalf("RecordAutoSend failed: %v", err)
	}

	if outbound.ID == "" {
		t.Fatal("expected outbound message ID to be set")
	}
	if decision.MessageID == nil || *decision.MessageID != outbound.ID {
		t.Errorf("expected decision to reference message %s, got %v", outbound.ID, decision.MessageID)
	}
	if decision.Action != models.ActionAutoSend {
		t.Errorf("expected auto_send, got %s", decision.Action)
	}

	messages, err := GetMessagesForThread(ctx, pool, thread.ID)
	if err != nil {
		t.Fatalf("GetMessagesForThread failed: %v", err)
	}
	if len(messages) != 1 {
		t.Errorf("expected 1 message, got %d", len(messages))
	}
}
