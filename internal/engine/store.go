package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wolfman30/medspa-nurture/internal/drip"
	"github.com/wolfman30/medspa-nurture/internal/session"
)

// Change is one atomic session write: the next session state plus the drip
// bookkeeping that must land with it.
type Change struct {
	Session         *session.Session
	ExpectedVersion int64
	// CancelDrips cancels every Scheduled drip of the session before Drips are stored.
	CancelDrips bool
	Drips       []drip.PendingDrip
	At          time.Time
}

// Store persists sessions together with their pending drips.
type Store interface {
	// InsertSessionIfAbsent stores s and its first drips unless the contact already
	// has a non-completed session on the same flow. In that case the existing
	// session is returned with created=false and nothing is written.
	InsertSessionIfAbsent(ctx context.Context, s *session.Session, drips []drip.PendingDrip) (existing *session.Session, created bool, err error)
	GetSession(ctx context.Context, orgID, id string) (*session.Session, error)
	// FindOpenSession returns the contact's most recently active non-completed session.
	FindOpenSession(ctx context.Context, orgID, contactID string) (*session.Session, error)
	// ApplyTransition writes c atomically and returns how many drips were cancelled.
	ApplyTransition(ctx context.Context, c Change) (int, error)
	// ListIdle returns Active sessions whose last activity is before the cutoff.
	ListIdle(ctx context.Context, before time.Time, limit int) ([]*session.Session, error)
}

// MemoryStore keeps sessions in process and shares a drip.MemoryQueue with the
// drip scheduler and dispatcher.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
	drips    *drip.MemoryQueue
}

func NewMemoryStore(queue *drip.MemoryQueue) *MemoryStore {
	if queue == nil {
		queue = drip.NewMemoryQueue()
	}
	return &MemoryStore{sessions: make(map[string]*session.Session), drips: queue}
}

func (m *MemoryStore) InsertSessionIfAbsent(ctx context.Context, s *session.Session, drips []drip.PendingDrip) (*session.Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cur := range m.sessions {
		if cur.OrgID == s.OrgID && cur.ContactID == s.ContactID && cur.FlowID == s.FlowID && cur.Status != session.StatusCompleted {
			return cur.Clone(), false, nil
		}
	}
	if _, exists := m.sessions[s.ID]; exists {
		return nil, false, fmt.Errorf("engine: insert session: duplicate id %s", s.ID)
	}
	if _, err := m.drips.ReplacePending(ctx, s.ID, drips, s.StartedAt); err != nil {
		return nil, false, fmt.Errorf("engine: insert session: %w", err)
	}
	m.sessions[s.ID] = s.Clone()
	return s.Clone(), true, nil
}

func (m *MemoryStore) GetSession(_ context.Context, orgID, id string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.OrgID != orgID {
		return nil, fmt.Errorf("engine: get session %s: %w", id, session.ErrSessionNotFound)
	}
	return s.Clone(), nil
}

func (m *MemoryStore) FindOpenSession(_ context.Context, orgID, contactID string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found *session.Session
	for _, s := range m.sessions {
		if s.OrgID != orgID || s.ContactID != contactID || s.Status == session.StatusCompleted {
			continue
		}
		if found == nil || s.LastActivityAt.After(found.LastActivityAt) {
			found = s
		}
	}
	if found == nil {
		return nil, fmt.Errorf("engine: find open session for %s: %w", contactID, session.ErrSessionNotFound)
	}
	return found.Clone(), nil
}

func (m *MemoryStore) ApplyTransition(ctx context.Context, c Change) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.sessions[c.Session.ID]
	if !ok {
		return 0, fmt.Errorf("engine: apply transition %s: %w", c.Session.ID, session.ErrSessionNotFound)
	}
	if cur.Version != c.ExpectedVersion {
		return 0, fmt.Errorf("engine: apply transition %s: %w", c.Session.ID, ErrConcurrentUpdate)
	}
	cancelled := 0
	if c.CancelDrips {
		n, err := m.drips.ReplacePending(ctx, c.Session.ID, c.Drips, c.At)
		if err != nil {
			return 0, fmt.Errorf("engine: apply transition: %w", err)
		}
		cancelled = n
	}
	m.sessions[c.Session.ID] = c.Session.Clone()
	return cancelled, nil
}

func (m *MemoryStore) ListIdle(_ context.Context, before time.Time, limit int) ([]*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*session.Session
	for _, s := range m.sessions {
		if s.Status == session.StatusActive && s.LastActivityAt.Before(before) {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivityAt.Before(out[j].LastActivityAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
