package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mwelliot/tcmail/internal/models"
)

// ErrDraftNotFound is returned when a requested draft cannot be found.
var ErrDraftNotFound = errors.New("draft not found")

// ErrDraftAlreadyResolved is returned when resolving a draft that a human
// already acted on.
var ErrDraftAlreadyResolved = errors.New("draft already resolved")

// QueueDraftForReview persists a draft for human review, records the queue
// decision, and moves the thread to awaiting_review, all in one transaction.
// The decision is never visible without its queue entry and vice versa.
func QueueDraftForReview(ctx context.Context, pool *pgxpool.Pool, draft *models.Draft, reason string) (*models.Decision, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `
		INSERT INTO drafts (thread_id, proposed_body, confidence)
		VALUES ($1, $2, $3)
		RETURNING id, generated_at, status
	`, draft.ThreadID, draft.ProposedBody, draft.Confidence).Scan(
		&draft.ID,
		&draft.GeneratedAt,
		&draft.Status,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to queue draft: %w", err)
	}

	decision := &models.Decision{
		ThreadID: draft.ThreadID,
		Action:   models.ActionQueue,
		Reason:   reason,
	}
	if err := recordDecisionTx(ctx, tx, decision); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE threads SET status = 'awaiting_review' WHERE id = $1
	`, draft.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark thread awaiting review: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit queued draft: %w", err)
	}

	return decision, nil
}

// ListPendingDrafts returns all drafts awaiting human review, oldest first.
func ListPendingDrafts(ctx context.Context, pool *pgxpool.Pool) ([]*models.Draft, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, thread_id, proposed_body, confidence, generated_at, status
		FROM drafts
		WHERE status = 'pending'
		ORDER BY generated_at
	`)

	if err != nil {
		return nil, fmt.Errorf("failed to list pending drafts: %w", err)
	}
	defer rows.Close()

	var drafts []*models.Draft
	for rows.Next() {
		var draft models.Draft
		if err := rows.Scan(
			&draft.ID,
			&draft.ThreadID,
			&draft.ProposedBody,
			&draft.Confidence,
			&draft.GeneratedAt,
			&draft.Status,
		); err != nil {
			return nil, fmt.Errorf("failed to scan draft: %w", err)
		}
		drafts = append(drafts, &draft)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating drafts: %w", err)
	}

	return drafts, nil
}

// GetDraftByID returns a draft by its database ID.
func GetDraftByID(ctx context.Context, pool *pgxpool.Pool, draftID string) (*models.Draft, error) {
	var draft models.Draft

	err := pool.QueryRow(ctx, `
		SELECT id, thread_id, proposed_body, confidence, generated_at, status
		FROM drafts
		WHERE id = $1
	`, draftID).Scan(
		&draft.ID,
		&draft.ThreadID,
		&draft.ProposedBody,
		&draft.Confidence,
		&draft.GeneratedAt,
		&draft.Status,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDraftNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get draft: %w", err)
	}

	return &draft, nil
}

// ResolveDraft marks a pending draft as sent or discarded and, when it was
// the last pending draft on its thread, moves the thread back to active.
// Resolving a draft twice returns ErrDraftAlreadyResolved so a double-click
// in the review UI cannot send twice.
func ResolveDraft(ctx context.Context, pool *pgxpool.Pool, draftID string, status models.DraftStatus, outbound *models.Message) error {
	if status != models.DraftStatusSent && status != models.DraftStatusDiscarded {
		return fmt.Errorf("invalid draft resolution %q", status)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var threadID string
	err = tx.QueryRow(ctx, `
		UPDATE drafts SET status = $2
		WHERE id = $1 AND status = 'pending'
		RETURNING thread_id
	`, draftID, status).Scan(&threadID)

	if errors.Is(err, pgx.ErrNoRows) {
		// Either the draft does not exist or it is already resolved.
		if _, getErr := GetDraftByID(ctx, pool, draftID); getErr != nil {
			return getErr
		}
		return ErrDraftAlreadyResolved
	}

	if err != nil {
		return fmt.Errorf("failed to resolve draft: %w", err)
	}

	if outbound != nil {
		outbound.ThreadID = threadID
		if err := appendMessageTx(ctx, tx, outbound); err != nil {
			return err
		}
	}

	// The queue decision was recorded when the draft was queued; record the
	// human's resolution too so the audit trail mirrors the auto-send path.
	decision := &models.Decision{ThreadID: threadID}
	if status == models.DraftStatusSent {
		decision.Action = models.ActionApprove
		decision.Reason = "draft approved by reviewer"
		if outbound != nil {
			decision.MessageID = &outbound.ID
		}
	} else {
		decision.Action = models.ActionDiscard
		decision.Reason = "draft discarded by reviewer"
	}
	if err := recordDecisionTx(ctx, tx, decision); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE threads SET status = 'active'
		WHERE id = $1
		AND NOT EXISTS (SELECT 1 FROM drafts WHERE thread_id = $1 AND status = 'pending')
	`, threadID)
	if err != nil {
		return fmt.Errorf("failed to reactivate thread: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit draft resolution: %w", err)
	}

	return nil
}
