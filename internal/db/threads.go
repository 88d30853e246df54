package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mwelliot/tcmail/internal/models"
)

// ErrThreadNotFound is returned when a requested thread cannot be found.
var ErrThreadNotFound = errors.New("thread not found")

// ResolveOrCreateThread returns the thread for the given matching key,
// creating it if it does not exist. The operation is atomic: two concurrent
// calls with the same key always land on the same row, because the unique
// constraint on thread_key admits only one insert and the loser falls back
// to selecting the winner's row.
func ResolveOrCreateThread(ctx context.Context, pool *pgxpool.Pool, threadKey, participantAddress, subject string, source models.ThreadSource) (*models.Thread, error) {
	for attempt := 0; attempt < 3; attempt++ {
		thread := &models.Thread{
			ThreadKey:          threadKey,
			ParticipantAddress: participantAddress,
			Subject:            subject,
			Source:             source,
		}

		err := pool.QueryRow(ctx, `
			INSERT INTO threads (thread_key, participant_address, subject, source)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (thread_key) DO NOTHING
			RETURNING id, status, created_at, last_activity_at
		`, threadKey, participantAddress, subject, source).Scan(
			&thread.ID,
			&thread.Status,
			&thread.CreatedAt,
			&thread.LastActivityAt,
		)

		if err == nil {
			return thread, nil
		}

		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("failed to create thread: %w", err)
		}

		// Conflict: another writer holds this key. Fetch their row.
		existing, err := GetThreadByKey(ctx, pool, threadKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, ErrThreadNotFound) {
			return nil, err
		}
		// Not visible yet (the other transaction has not committed);
		// retry from the insert.
	}

	return nil, fmt.Errorf("failed to resolve thread for key %q after retries", threadKey)
}

// GetThreadByKey returns a thread by its stable matching key.
func GetThreadByKey(ctx context.Context, pool *pgxpool.Pool, threadKey string) (*models.Thread, error) {
	var thread models.Thread

	err := pool.QueryRow(ctx, `
		SELECT id, thread_key, participant_address, subject, source, status, created_at, last_activity_at
		FROM threads
		WHERE thread_key = $1
	`, threadKey).Scan(
		&thread.ID,
		&thread.ThreadKey,
		&thread.ParticipantAddress,
		&thread.Subject,
		&thread.Source,
		&thread.Status,
		&thread.CreatedAt,
		&thread.LastActivityAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrThreadNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}

	return &thread, nil
}

// GetThreadByID returns a thread by its database ID.
func GetThreadByID(ctx context.Context, pool *pgxpool.Pool, threadID string) (*models.Thread, error) {
	var thread models.Thread

	err := pool.QueryRow(ctx, `
		SELECT id, thread_key, participant_address, subject, source, status, created_at, last_activity_at
		FROM threads
		WHERE id = $1
	`, threadID).Scan(
		&thread.ID,
		&thread.ThreadKey,
		&thread.ParticipantAddress,
		&thread.Subject,
		&thread.Source,
		&thread.Status,
		&thread.CreatedAt,
		&thread.LastActivityAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrThreadNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get thread by ID: %w", err)
	}

	return &thread, nil
}

// SetThreadStatus updates the status of a thread.
func SetThreadStatus(ctx context.Context, pool *pgxpool.Pool, threadID string, status models.ThreadStatus) error {
	tag, err := pool.Exec(ctx, `
		UPDATE threads SET status = $2 WHERE id = $1
	`, threadID, status)

	if err != nil {
		return fmt.Errorf("failed to set thread status: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrThreadNotFound
	}

	return nil
}

// ReopenThread moves a closed thread back to active. Threads in other states
// are left alone. New inbound mail on a closed conversation goes through here
// so closure never loses a participant's follow-up.
func ReopenThread(ctx context.Context, pool *pgxpool.Pool, threadID string) error {
	_, err := pool.Exec(ctx, `
		UPDATE threads SET status = 'active' WHERE id = $1 AND status = 'closed'
	`, threadID)

	if err != nil {
		return fmt.Errorf("failed to reopen thread: %w", err)
	}

	return nil
}

// CloseInactiveThreads closes active threads with no activity for the given
// duration. Returns the number of threads closed. Threads awaiting review are
// not touched: a queued draft must stay visible until a human resolves it.
func CloseInactiveThreads(ctx context.Context, pool *pgxpool.Pool, inactiveFor time.Duration) (int64, error) {
	cutoff := time.Now().Add(-inactiveFor)

	tag, err := pool.Exec(ctx, `
		UPDATE threads
		SET status = 'closed'
		WHERE status = 'active' AND last_activity_at < $1
	`, cutoff)

	if err != nil {
		return 0, fmt.Errorf("failed to close inactive threads: %w", err)
	}

	return tag.RowsAffected(), nil
}
