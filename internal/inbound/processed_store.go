package inbound

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
)

// ProcessedStore remembers which processing phase of an event already ran so
// queue redeliveries do not repeat it. MarkProcessed claims the phase and
// reports false when it was claimed before; Release gives a claim back after
// the phase failed.
type ProcessedStore interface {
	MarkProcessed(ctx context.Context, phase, eventID string) (bool, error)
	Release(ctx context.Context, phase, eventID string) error
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresProcessedStore records ids in processed_events.
type PostgresProcessedStore struct {
	db execer
}

func NewPostgresProcessedStore(db execer) *PostgresProcessedStore {
	if db == nil {
		panic("inbound: db required")
	}
	return &PostgresProcessedStore{db: db}
}

// MarkProcessed inserts the (phase, id) row, returning false if it was already there.
func (s *PostgresProcessedStore) MarkProcessed(ctx context.Context, phase, eventID string) (bool, error) {
	ct, err := s.db.Exec(ctx, `
		INSERT INTO processed_events (source, event_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, phase, eventID)
	if err != nil {
		return false, fmt.Errorf("inbound: mark processed: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

func (s *PostgresProcessedStore) Release(ctx context.Context, phase, eventID string) error {
	if _, err := s.db.Exec(ctx, `
		DELETE FROM processed_events
		WHERE source = $1 AND event_id = $2`, phase, eventID); err != nil {
		return fmt.Errorf("inbound: release processed: %w", err)
	}
	return nil
}

// MemoryProcessedStore keeps ids in process.
type MemoryProcessedStore struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryProcessedStore() *MemoryProcessedStore {
	return &MemoryProcessedStore{seen: make(map[string]struct{})}
}

func (s *MemoryProcessedStore) MarkProcessed(_ context.Context, phase, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := phase + "/" + eventID
	if _, ok := s.seen[key]; ok {
		return false, nil
	}
	s.seen[key] = struct{}{}
	return true, nil
}

func (s *MemoryProcessedStore) Release(_ context.Context, phase, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, phase+"/"+eventID)
	return nil
}
