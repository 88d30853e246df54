package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MailboxCursor is the persisted IMAP read position for one mailbox.
// LastSeenUID is the highest UID already ingested; a fetch only considers
// UIDs above it. UIDValidity detects mailbox resets: when the server reports
// a different value, stored UIDs are meaningless and the cursor restarts.
type MailboxCursor struct {
	Mailbox     string
	UIDValidity int64
	LastSeenUID int64
	UpdatedAt   time.Time
}

// GetMailboxCursor returns the cursor for the given mailbox, or a zero cursor
// if the mailbox has never been polled.
func GetMailboxCursor(ctx context.Context, pool *pgxpool.Pool, mailbox string) (*MailboxCursor, error) {
	cursor := &MailboxCursor{Mailbox: mailbox}

	err := pool.QueryRow(ctx, `
		SELECT uid_validity, last_seen_uid, updated_at
		FROM mailbox_cursors
		WHERE mailbox = $1
	`, mailbox).Scan(&cursor.UIDValidity, &cursor.LastSeenUID, &cursor.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return cursor, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get mailbox cursor: %w", err)
	}

	return cursor, nil
}

// SetMailboxCursor upserts the cursor for the given mailbox.
func SetMailboxCursor(ctx context.Context, pool *pgxpool.Pool, mailbox string, uidValidity, lastSeenUID int64) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO mailbox_cursors (mailbox, uid_validity, last_seen_uid, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (mailbox) DO UPDATE SET
			uid_validity = EXCLUDED.uid_validity,
			last_seen_uid = EXCLUDED.last_seen_uid,
			updated_at = now()
	`, mailbox, uidValidity, lastSeenUID)

	if err != nil {
		return fmt.Errorf("failed to set mailbox cursor: %w", err)
	}

	return nil
}
