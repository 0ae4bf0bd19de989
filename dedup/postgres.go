package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createProcessedMessagesTable = `
	CREATE TABLE IF NOT EXISTS processed_messages (
		message_id  TEXT PRIMARY KEY,
		recorded_at TIMESTAMPTZ NOT NULL
	)`

// An expired row is overwritten, so one statement both checks and records.
const recordMessageQuery = `
	INSERT INTO processed_messages (message_id, recorded_at)
	VALUES ($1, $2)
	ON CONFLICT (message_id) DO UPDATE
		SET recorded_at = EXCLUDED.recorded_at
		WHERE processed_messages.recorded_at < $3`

const deleteExpiredMessagesQuery = `
	DELETE FROM processed_messages WHERE recorded_at < $1`

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// PostgresStore keeps handled ids in Postgres so deduplication survives
// restarts and is shared by every replica.
type PostgresStore struct {
	db   execer
	pool *pgxpool.Pool
	ttl  time.Duration
	now  func() time.Time
}

// OpenPostgresStore connects to databaseUrl and makes sure the table exists.
func OpenPostgresStore(ctx context.Context, databaseUrl string, ttl time.Duration) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseUrl)
	if err != nil {
		return nil, fmt.Errorf("dedup: connect postgres: %w", err)
	}
	store := newPostgresStore(pool, ttl)
	store.pool = pool

	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func newPostgresStore(db execer, ttl time.Duration) *PostgresStore {
	return &PostgresStore{db: db, ttl: ttl, now: time.Now}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("dedup: database pool is not initialized")
	}
	if _, err := s.db.Exec(ctx, createProcessedMessagesTable); err != nil {
		return fmt.Errorf("dedup: create processed_messages: %w", err)
	}
	return nil
}

func (s *PostgresStore) SeenOrRecord(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, ErrEmptyID
	}
	if s.db == nil {
		return false, fmt.Errorf("dedup: database pool is not initialized")
	}
	now := s.now().UTC()
	tag, err := s.db.Exec(ctx, recordMessageQuery, id, now, s.cutoff(now))
	if err != nil {
		return false, fmt.Errorf("dedup: record %q: %w", id, err)
	}
	return tag.RowsAffected() == 0, nil
}

// Sweep deletes rows older than the TTL.
func (s *PostgresStore) Sweep(ctx context.Context) (int, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	if s.db == nil {
		return 0, fmt.Errorf("dedup: database pool is not initialized")
	}
	tag, err := s.db.Exec(ctx, deleteExpiredMessagesQuery, s.cutoff(s.now().UTC()))
	if err != nil {
		return 0, fmt.Errorf("dedup: sweep: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// cutoff is the recorded_at below which a row counts as expired. Without a
// TTL nothing is ever older than the zero time.
func (s *PostgresStore) cutoff(now time.Time) time.Time {
	if s.ttl <= 0 {
		return time.Time{}
	}
	return now.Add(-s.ttl)
}

var (
	_ Store   = (*PostgresStore)(nil)
	_ Sweeper = (*PostgresStore)(nil)
)
