package autotag

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

var ErrRuleNotFound = errors.New("autotag: rule not found")

// RuleStore persists auto-tagging rules per org.
type RuleStore interface {
	ListRules(ctx context.Context, orgID string) ([]Rule, error)
	SaveRule(ctx context.Context, rule Rule) (Rule, error)
	DeleteRule(ctx context.Context, orgID, id string) error
}

// TagStore persists each contact's tag set and primary tag.
type TagStore interface {
	Snapshot(ctx context.Context, orgID, contactID string) (ContactTagView, error)
	Apply(ctx context.Context, orgID, contactID string, mutations []TagMutation) error
}

// MemoryRuleStore keeps rules in process.
type MemoryRuleStore struct {
	mu    sync.RWMutex
	rules map[string]map[string]Rule
}

func NewMemoryRuleStore() *MemoryRuleStore {
	return &MemoryRuleStore{rules: make(map[string]map[string]Rule)}
}

func (s *MemoryRuleStore) ListRules(_ context.Context, orgID string) ([]Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Rule, 0, len(s.rules[orgID]))
	for _, r := range s.rules[orgID] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryRuleStore) SaveRule(_ context.Context, rule Rule) (Rule, error) {
	if rule.OrgID == "" {
		return Rule{}, fmt.Errorf("%w: org id required", ErrInvalidRule)
	}
	if err := rule.Validate(); err != nil {
		return Rule{}, err
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	rule.TriggerType = rule.Trigger.Type()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rules[rule.OrgID] == nil {
		s.rules[rule.OrgID] = make(map[string]Rule)
	}
	s.rules[rule.OrgID][rule.ID] = rule
	return rule, nil
}

func (s *MemoryRuleStore) DeleteRule(_ context.Context, orgID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[orgID][id]; !ok {
		return ErrRuleNotFound
	}
	delete(s.rules[orgID], id)
	return nil
}

type contactKey struct {
	orgID     string
	contactID string
}

// MemoryTagStore keeps contact tags in process.
type MemoryTagStore struct {
	mu    sync.Mutex
	views map[contactKey]ContactTagView
}

func NewMemoryTagStore() *MemoryTagStore {
	return &MemoryTagStore{views: make(map[contactKey]ContactTagView)}
}

func (s *MemoryTagStore) Snapshot(_ context.Context, orgID, contactID string) (ContactTagView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.views[contactKey{orgID, contactID}]
	v.ContactID = contactID
	v.Tags = append([]string{}, v.Tags...)
	return v, nil
}

func (s *MemoryTagStore) Apply(_ context.Context, orgID, contactID string, mutations []TagMutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := contactKey{orgID, contactID}
	v := s.views[key]
	tags := newTagSet(v.Tags)
	for _, m := range mutations {
		switch m.Action {
		case ActionAddTag:
			tags.add(m.Tag)
		case ActionRemoveTag:
			tags.remove(m.Tag)
		case ActionSetPrimaryTag:
			v.PrimaryTag = m.Tag
		case ActionReplaceConditionTags:
			for _, t := range m.Removed {
				tags.remove(t)
			}
			tags.add(m.Tag)
		}
	}
	v.ContactID = contactID
	v.Tags = tags.list()
	s.views[key] = v
	return nil
}

// Set replaces a contact's tags.
func (s *MemoryTagStore) Set(orgID string, view ContactTagView) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.views[contactKey{orgID, view.ContactID}] = view
}
