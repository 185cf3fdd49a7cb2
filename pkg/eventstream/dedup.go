package eventstream

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// DedupStore is the processed_events table of §3/§6: primary key
// (subscriber, stream_message_id), atomic insert-or-ignore semantics
// so at-least-once redelivery never double-processes a record.
type DedupStore interface {
	// Seen reports whether (subscriber, streamMessageID) has already
	// been recorded.
	Seen(ctx context.Context, subscriber, streamMessageID string) (bool, error)

	// MarkProcessed records (subscriber, streamMessageID) along with
	// the event identity and handler metadata. Calling it twice for
	// the same key is a no-op, never an error.
	MarkProcessed(ctx context.Context, rec ProcessedEvent) error
}

// MemoryDedupStore is an in-process DedupStore for tests and dev mode.
type MemoryDedupStore struct {
	mu   sync.Mutex
	seen map[string]ProcessedEvent
}

func NewMemoryDedupStore() *MemoryDedupStore {
	return &MemoryDedupStore{seen: make(map[string]ProcessedEvent)}
}

func dedupKey(subscriber, streamMessageID string) string {
	return subscriber + "\x00" + streamMessageID
}

func (s *MemoryDedupStore) Seen(ctx context.Context, subscriber, streamMessageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[dedupKey(subscriber, streamMessageID)]
	return ok, nil
}

func (s *MemoryDedupStore) MarkProcessed(ctx context.Context, rec ProcessedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := dedupKey(rec.Subscriber, rec.StreamMessageID)
	if _, ok := s.seen[key]; ok {
		return nil
	}
	s.seen[key] = rec
	return nil
}

// PostgresDedupStore persists processed_events via lib/pq, using
// INSERT ... ON CONFLICT DO NOTHING for the atomic insert-or-ignore
// semantics §6 requires verbatim.
type PostgresDedupStore struct {
	db *sql.DB
}

func NewPostgresDedupStore(db *sql.DB) *PostgresDedupStore {
	return &PostgresDedupStore{db: db}
}

// EnsureSchema creates processed_events if absent. Callers own
// migration ordering; this is a convenience for small deployments.
func (s *PostgresDedupStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS processed_events (
  subscriber        TEXT NOT NULL,
  stream_message_id TEXT NOT NULL,
  event_id          TEXT NOT NULL,
  event_type        TEXT NOT NULL,
  processed_at      TIMESTAMPTZ NOT NULL,
  metadata          JSONB,
  PRIMARY KEY (subscriber, stream_message_id)
)`)
	return err
}

func (s *PostgresDedupStore) Seen(ctx context.Context, subscriber, streamMessageID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM processed_events WHERE subscriber = $1 AND stream_message_id = $2)`,
		subscriber, streamMessageID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("eventstream: seen query: %w", err)
	}
	return exists, nil
}

func (s *PostgresDedupStore) MarkProcessed(ctx context.Context, rec ProcessedEvent) error {
	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("eventstream: marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO processed_events (subscriber, stream_message_id, event_id, event_type, processed_at, metadata)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (subscriber, stream_message_id) DO NOTHING`,
		rec.Subscriber, rec.StreamMessageID, rec.EventID, rec.EventType, rec.ProcessedAt.UTC(), metadata)
	if err != nil {
		return fmt.Errorf("eventstream: mark processed: %w", err)
	}
	return nil
}

// SQLiteDedupStore is the single-binary "lite mode" DedupStore variant
// (modernc.org/sqlite), matching the teacher's Postgres/SQLite dual
// split in cmd/helm/main.go. Its statements use the same ON CONFLICT
// ... DO NOTHING clause as PostgresDedupStore; they differ in `?`
// placeholders and in storing processed_at and metadata as TEXT.
type SQLiteDedupStore struct {
	db *sql.DB
}

func NewSQLiteDedupStore(db *sql.DB) *SQLiteDedupStore {
	return &SQLiteDedupStore{db: db}
}

func (s *SQLiteDedupStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS processed_events (
  subscriber        TEXT NOT NULL,
  stream_message_id TEXT NOT NULL,
  event_id          TEXT NOT NULL,
  event_type        TEXT NOT NULL,
  processed_at      TEXT NOT NULL,
  metadata          TEXT,
  PRIMARY KEY (subscriber, stream_message_id)
)`)
	return err
}

func (s *SQLiteDedupStore) Seen(ctx context.Context, subscriber, streamMessageID string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM processed_events WHERE subscriber = ? AND stream_message_id = ?`,
		subscriber, streamMessageID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("eventstream: seen query: %w", err)
	}
	return exists > 0, nil
}

func (s *SQLiteDedupStore) MarkProcessed(ctx context.Context, rec ProcessedEvent) error {
	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("eventstream: marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO processed_events (subscriber, stream_message_id, event_id, event_type, processed_at, metadata)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (subscriber, stream_message_id) DO NOTHING`,
		rec.Subscriber, rec.StreamMessageID, rec.EventID, rec.EventType, rec.ProcessedAt.UTC().Format(time.RFC3339Nano), metadata)
	if err != nil {
		return fmt.Errorf("eventstream: mark processed: %w", err)
	}
	return nil
}
