package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mwelliot/tcmail/internal/models"
)

// ErrMessageNotFound is returned when a requested message cannot be found.
var ErrMessageNotFound = errors.New("message not found")

// AppendMessage appends a message to its thread and bumps the thread's
// last-activity timestamp. Messages are append-only: there is no update or
// delete path. The database assigns seq, which breaks ties between messages
// sharing the same sent_at.
func AppendMessage(ctx context.Context, pool *pgxpool.Pool, message *models.Message) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := appendMessageTx(ctx, tx, message); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit message: %w", err)
	}

	return nil
}

// appendMessageTx inserts a message inside an existing transaction.
func appendMessageTx(ctx context.Context, tx pgx.Tx, message *models.Message) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO messages (thread_id, message_id, sender, recipient, subject, body, sent_at, direction)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, seq
	`,
		message.ThreadID,
		message.MessageID,
		message.Sender,
		message.Recipient,
		message.Subject,
		message.Body,
		message.SentAt,
		message.Direction,
	).Scan(&message.ID, &message.Seq)

	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE threads SET last_activity_at = now() WHERE id = $1
	`, message.ThreadID)

	if err != nil {
		return fmt.Errorf("failed to update thread activity: %w", err)
	}

	return nil
}

// GetThreadHistory returns the most recent limit messages for a thread in
// chronological order. When a thread exceeds the limit, the oldest messages
// are the ones dropped. This is the context window handed to the AI.
func GetThreadHistory(ctx context.Context, pool *pgxpool.Pool, threadID string, limit int) ([]*models.Message, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, thread_id, seq, message_id, sender, recipient, subject, body, sent_at, direction
		FROM (
			SELECT id, thread_id, seq, message_id, sender, recipient, subject, body, sent_at, direction
			FROM messages
			WHERE thread_id = $1
			ORDER BY sent_at DESC, seq DESC
			LIMIT $2
		) recent
		ORDER BY sent_at, seq
	`, threadID, limit)

	if err != nil {
		return nil, fmt.Errorf("failed to get thread history: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// GetMessagesForThread returns all messages for a thread in chronological order.
func GetMessagesForThread(ctx context.Context, pool *pgxpool.Pool, threadID string) ([]*models.Message, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, thread_id, seq, message_id, sender, recipient, subject, body, sent_at, direction
		FROM messages
		WHERE thread_id = $1
		ORDER BY sent_at, seq
	`, threadID)

	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// GetMessageByID returns a single message by its database ID.
func GetMessageByID(ctx context.Context, pool *pgxpool.Pool, messageID string) (*models.Message, error) {
	var msg models.Message

	err := pool.QueryRow(ctx, `
		SELECT id, thread_id, seq, message_id, sender, recipient, subject, body, sent_at, direction
		FROM messages
		WHERE id = $1
	`, messageID).Scan(
		&msg.ID,
		&msg.ThreadID,
		&msg.Seq,
		&msg.MessageID,
		&msg.Sender,
		&msg.Recipient,
		&msg.Subject,
		&msg.Body,
		&msg.SentAt,
		&msg.Direction,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMessageNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	return &msg, nil
}

// FindThreadByMessageID returns the thread containing the message with the
// given RFC 5322 Message-ID. This is how a reply carrying only an In-Reply-To
// header (pointing at one of our own outbound messages) finds its way back to
// its thread. Returns ErrThreadNotFound when no stored message matches.
func FindThreadByMessageID(ctx context.Context, pool *pgxpool.Pool, messageID string) (*models.Thread, error) {
	if messageID == "" {
		return nil, ErrThreadNotFound
	}

	var threadID string
	err := pool.QueryRow(ctx, `
		SELECT thread_id
		FROM messages
		WHERE message_id = $1
		ORDER BY sent_at DESC, seq DESC
		LIMIT 1
	`, messageID).Scan(&threadID)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrThreadNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to find thread by message id: %w", err)
	}

	return GetThreadByID(ctx, pool, threadID)
}

// GetLatestInbound returns the newest inbound message of a thread, or
// ErrMessageNotFound when the thread has none. Used to build reply headers
// for human-approved drafts.
func GetLatestInbound(ctx context.Context, pool *pgxpool.Pool, threadID string) (*models.Message, error) {
	var msg models.Message

	err := pool.QueryRow(ctx, `
		SELECT id, thread_id, seq, message_id, sender, recipient, subject, body, sent_at, direction
		FROM messages
		WHERE thread_id = $1 AND direction = 'inbound'
		ORDER BY sent_at DESC, seq DESC
		LIMIT 1
	`, threadID).Scan(
		&msg.ID,
		&msg.ThreadID,
		&msg.Seq,
		&msg.MessageID,
		&msg.Sender,
		&msg.Recipient,
		&msg.Subject,
		&msg.Body,
		&msg.SentAt,
		&msg.Direction,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMessageNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get latest inbound message: %w", err)
	}

	return &msg, nil
}

func scanMessages(rows pgx.Rows) ([]*models.Message, error) {
	var messages []*models.Message
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(
			&msg.ID,
			&msg.ThreadID,
			&msg.Seq,
			&msg.MessageID,
			&msg.Sender,
			&msg.Recipient,
			&msg.Subject,
			&msg.Body,
			&msg.SentAt,
			&msg.Direction,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return messages, nil
}
