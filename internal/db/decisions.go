package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mwelliot/tcmail/internal/models"
)

// RecordDecision records a policy decision for audit.
func RecordDecision(ctx context.Context, pool *pgxpool.Pool, decision *models.Decision) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := recordDecisionTx(ctx, tx, decision); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit decision: %w", err)
	}

	return nil
}

func recordDecisionTx(ctx context.Context, tx pgx.Tx, decision *models.Decision) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO decisions (thread_id, message_id, action, reason)
		VALUES ($1, $2, $3, $4)
		RETURNING id, decided_at
	`, decision.ThreadID, decision.MessageID, decision.Action, decision.Reason).Scan(
		&decision.ID,
		&decision.DecidedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to record decision: %w", err)
	}

	return nil
}

// RecordAutoSend appends the outbound message and its auto_send decision in
// one transaction, so every outbound message traces to exactly one decision
// and a decision is never visible without its sent message. Call this only
// after the SMTP submission succeeded.
func RecordAutoSend(ctx context.Context, pool *pgxpool.Pool, outbound *models.Message, reason string) (*models.Decision, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := appendMessageTx(ctx, tx, outbound); err != nil {
		return nil, err
	}

	decision := &models.Decision{
		ThreadID:  outbound.ThreadID,
		MessageID: &outbound.ID,
		Action:    models.ActionAutoSend,
		Reason:    reason,
	}
	if err := recordDecisionTx(ctx, tx, decision); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit auto-send: %w", err)
	}

	return decision, nil
}

// ListDecisionsForThread returns the decision audit trail for a thread,
// oldest first.
func ListDecisionsForThread(ctx context.Context, pool *pgxpool.Pool, threadID string) ([]*models.Decision, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, thread_id, message_id, action, reason, decided_at
		FROM decisions
		WHERE thread_id = $1
		ORDER BY decided_at
	`, threadID)

	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	defer rows.Close()

	var decisions []*models.Decision
	for rows.Next() {
		var decision models.Decision
		if err := rows.Scan(
			&decision.ID,
			&decision.ThreadID,
			&decision.MessageID,
			&decision.Action,
			&decision.Reason,
			&decision.DecidedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		decisions = append(decisions, &decision)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating decisions: %w", err)
	}

	return decisions, nil
}
