package autotag

import (
	"sort"
	"time"
)

// Event is a conversation event fed to the rule engine.
type Event struct {
	Type      TriggerType `json:"type"`
	OrgID     string      `json:"org_id"`
	ContactID string      `json:"contact_id"`
	SessionID string      `json:"session_id,omitempty"`
	// Text is the message body for keyword rules.
	Text string `json:"text,omitempty"`
	// ElapsedDays is how long the contact has been silent.
	ElapsedDays int       `json:"elapsed_days,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// ContactTagView is a snapshot of a contact's tags.
type ContactTagView struct {
	ContactID  string   `json:"contact_id"`
	Tags       []string `json:"tags"`
	PrimaryTag string   `json:"primary_tag,omitempty"`
}

// TagMutation is one applied rule action, in evaluation order.
type TagMutation struct {
	RuleID string     `json:"rule_id"`
	Action ActionType `json:"action"`
	Tag    string     `json:"tag"`
	// Removed lists tags dropped by ReplaceConditionTags.
	Removed []string `json:"removed,omitempty"`
}

// SkippedRule is a candidate rule that could not be evaluated.
type SkippedRule struct {
	RuleID string
	Err    error
}

// Evaluate returns the ordered mutations produced by rules for ev.
func Evaluate(ev Event, contact ContactTagView, rules []Rule) []TagMutation {
	mutations, _, _ := EvaluateAll(ev, contact, rules)
	return mutations
}

// EvaluateAll is Evaluate plus the resulting tag view and the rules skipped for
// being misconfigured.
func EvaluateAll(ev Event, contact ContactTagView, rules []Rule) ([]TagMutation, ContactTagView, []SkippedRule) {
	candidates := make([]Rule, 0, len(rules))
	var skipped []SkippedRule
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		if err := r.Validate(); err != nil {
			if r.TriggerType == "" || r.TriggerType == ev.Type {
				skipped = append(skipped, SkippedRule{RuleID: r.ID, Err: err})
			}
			continue
		}
		if r.Trigger.Type() == ev.Type {
			candidates = append(candidates, r)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Priority < candidates[j].Priority })

	tags := newTagSet(contact.Tags)
	primary := contact.PrimaryTag
	var mutations []TagMutation
	for _, r := range candidates {
		if !r.Trigger.Matches(ev) || !conditionHolds(r, tags) {
			continue
		}
		m := TagMutation{RuleID: r.ID, Action: r.Action, Tag: r.TargetTag}
		switch r.Action {
		case ActionAddTag:
			tags.add(r.TargetTag)
		case ActionRemoveTag:
			tags.remove(r.TargetTag)
		case ActionSetPrimaryTag:
			primary = r.TargetTag
		case ActionReplaceConditionTags:
			for _, t := range r.ConditionTags {
				if tags.remove(t) {
					m.Removed = append(m.Removed, t)
				}
			}
			tags.add(r.TargetTag)
		}
		mutations = append(mutations, m)
	}
	return mutations, ContactTagView{ContactID: contact.ContactID, Tags: tags.list(), PrimaryTag: primary}, skipped
}

func conditionHolds(r Rule, tags *tagSet) bool {
	switch r.mode() {
	case ConditionAll:
		for _, t := range r.ConditionTags {
			if !tags.has(t) {
				return false
			}
		}
		return true
	case ConditionNone:
		for _, t := range r.ConditionTags {
			if tags.has(t) {
				return false
			}
		}
		return true
	default:
		if len(r.ConditionTags) == 0 {
			return true
		}
		for _, t := range r.ConditionTags {
			if tags.has(t) {
				return true
			}
		}
		return false
	}
}

// tagSet keeps insertion order so results are deterministic.
type tagSet struct {
	order []string
	index map[string]struct{}
}

func newTagSet(tags []string) *tagSet {
	s := &tagSet{index: make(map[string]struct{}, len(tags))}
	for _, t := range tags {
		s.add(t)
	}
	return s
}

func (s *tagSet) has(tag string) bool {
	_, ok := s.index[tag]
	return ok
}

func (s *tagSet) add(tag string) {
	if tag == "" || s.has(tag) {
		return
	}
	s.index[tag] = struct{}{}
	s.order = append(s.order, tag)
}

func (s *tagSet) remove(tag string) bool {
	if !s.has(tag) {
		return false
	}
	delete(s.index, tag)
	for i, t := range s.order {
		if t == tag {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

func (s *tagSet) list() []string {
	return append([]string{}, s.order...)
}
