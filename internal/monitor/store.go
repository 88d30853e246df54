package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mwelliot/tcmail/internal/db"
	"github.com/mwelliot/tcmail/internal/models"
)

// Store is the thread persistence the loop needs. Production uses DBStore;
// loop tests substitute an in-memory implementation.
type Store interface {
	ResolveOrCreateThread(ctx context.Context, threadKey, participantAddress, subject string, source models.ThreadSource) (*models.Thread, error)
	// FindThreadByMessageID resolves a reply through the Message-ID of a
	// stored message; (nil, nil) means no stored message matches.
	FindThreadByMessageID(ctx context.Context, messageID string) (*models.Thread, error)
	ReopenThread(ctx context.Context, threadID string) error
	AppendMessage(ctx context.Context, message *models.Message) error
	GetThreadHistory(ctx context.Context, threadID string, limit int) ([]*models.Message, error)
	QueueDraftForReview(ctx context.Context, draft *models.Draft, reason string) (*models.Decision, error)
	RecordAutoSend(ctx context.Context, outbound *models.Message, reason string) (*models.Decision, error)
	RecordDecision(ctx context.Context, decision *models.Decision) error
	CloseInactiveThreads(ctx context.Context, inactiveFor time.Duration) (int64, error)
}

// DBStore adapts the db package to the Store interface.
type DBStore struct {
	pool *pgxpool.Pool
}

// NewDBStore creates a DBStore backed by the given pool.
func NewDBStore(pool *pgxpool.Pool) *DBStore {
	return &DBStore{pool: pool}
}

func (s *DBStore) ResolveOrCreateThread(ctx context.Context, threadKey, participantAddress, subject string, source models.ThreadSource) (*models.Thread, error) {
	return db.ResolveOrCreateThread(ctx, s.pool, threadKey, participantAddress, subject, source)
}

func (s *DBStore) FindThreadByMessageID(ctx context.Context, messageID string) (*models.Thread, error) {
	thread, err := db.FindThreadByMessageID(ctx, s.pool, messageID)
	if errors.Is(err, db.ErrThreadNotFound) {
		return nil, nil
	}
	return thread, err
}

func (s *DBStore) ReopenThread(ctx context.Context, threadID string) error {
	return db.ReopenThread(ctx, s.pool, threadID)
}

func (s *DBStore) AppendMessage(ctx context.Context, message *models.Message) error {
	return db.AppendMessage(ctx, s.pool, message)
}

func (s *DBStore) GetThreadHistory(ctx context.Context, threadID string, limit int) ([]*models.Message, error) {
	return db.GetThreadHistory(ctx, s.pool, threadID, limit)
}

func (s *DBStore) QueueDraftForReview(ctx context.Context, draft *models.Draft, reason string) (*models.Decision, error) {
	return db.QueueDraftForReview(ctx, s.pool, draft, reason)
}

func (s *DBStore) RecordAutoSend(ctx context.Context, outbound *models.Message, reason string) (*models.Decision, error) {
	return db.RecordAutoSend(ctx, s.pool, outbound, reason)
}

func (s *DBStore) RecordDecision(ctx context.Context, decision *models.Decision) error {
	return db.RecordDecision(ctx, s.pool, decision)
}

func (s *DBStore) CloseInactiveThreads(ctx context.Context, inactiveFor time.Duration) (int64, error) {
	return db.CloseInactiveThreads(ctx, s.pool, inactiveFor)
}
