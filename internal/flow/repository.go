package flow

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Repository is the read/write source of flow definitions. Saving never mutates an
// existing version; it appends a new one.
type Repository interface {
	Get(ctx context.Context, orgID, flowID string) (*Definition, error)
	GetVersion(ctx context.Context, orgID, flowID string, version int) (*Definition, error)
	Save(ctx context.Context, def *Definition) (*Definition, error)
	List(ctx context.Context, orgID string) ([]*Definition, error)
}

// Clone returns a deep copy so callers cannot mutate a stored version.
func (d *Definition) Clone() *Definition {
	if d == nil {
		return nil
	}
	out := *d
	out.Steps = make([]Step, len(d.Steps))
	for i, s := range d.Steps {
		cp := s
		cp.Responses = append([]ResponseBranch(nil), s.Responses...)
		cp.DripSequence = append([]DripMessage(nil), s.DripSequence...)
		if s.Tag != nil {
			tag := *s.Tag
			cp.Tag = &tag
		}
		out.Steps[i] = cp
	}
	out.RequiredQuestions = append([]RequiredQuestion(nil), d.RequiredQuestions...)
	return &out
}

type flowKey struct {
	orgID  string
	flowID string
}

// InMemoryRepository keeps every version of every flow in memory.
type InMemoryRepository struct {
	mu       sync.RWMutex
	versions map[flowKey][]*Definition
	now      func() time.Time
}

// NewInMemoryRepository creates an empty repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		versions: make(map[flowKey][]*Definition),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Save validates def and stores it as the next version.
func (r *InMemoryRepository) Save(ctx context.Context, def *Definition) (*Definition, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	stored := def.Clone()

	r.mu.Lock()
	defer r.mu.Unlock()
	key := flowKey{orgID: def.OrgID, flowID: def.ID}
	stored.Version = len(r.versions[key]) + 1
	stored.CreatedAt = r.now()
	r.versions[key] = append(r.versions[key], stored)
	return stored.Clone(), nil
}

// Get returns the latest version.
func (r *InMemoryRepository) Get(ctx context.Context, orgID, flowID string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions := r.versions[flowKey{orgID: orgID, flowID: flowID}]
	if len(versions) == 0 {
		return nil, ErrFlowNotFound
	}
	return versions[len(versions)-1].Clone(), nil
}

// GetVersion returns a pinned version.
func (r *InMemoryRepository) GetVersion(ctx context.Context, orgID, flowID string, version int) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions := r.versions[flowKey{orgID: orgID, flowID: flowID}]
	if version < 1 || version > len(versions) {
		return nil, ErrFlowNotFound
	}
	return versions[version-1].Clone(), nil
}

// List returns the latest version of every flow for an org, ordered by id.
func (r *InMemoryRepository) List(ctx context.Context, orgID string) ([]*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Definition
	for key, versions := range r.versions {
		if key.orgID != orgID || len(versions) == 0 {
			continue
		}
		out = append(out, versions[len(versions)-1].Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
