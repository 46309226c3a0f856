package autotag

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfman30/medspa-nurture/internal/observability/metrics"
	"github.com/wolfman30/medspa-nurture/pkg/logging"
)

// Locker serializes tag updates per contact.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Service loads rules and the contact's tags, evaluates an event and persists
// the resulting mutations in order.
type Service struct {
	rules   RuleStore
	tags    TagStore
	locker  Locker
	metrics *metrics.EngineMetrics
	logger  *logging.Logger
}

func NewService(rules RuleStore, tags TagStore, logger *logging.Logger) *Service {
	if rules == nil || tags == nil {
		panic("autotag: rule and tag stores required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{rules: rules, tags: tags, logger: logger}
}

func (s *Service) WithLocker(l Locker) *Service {
	s.locker = l
	return s
}

func (s *Service) WithMetrics(m *metrics.EngineMetrics) *Service {
	s.metrics = m
	return s
}

// Process evaluates ev for its contact and stores the mutations.
func (s *Service) Process(ctx context.Context, ev Event) ([]TagMutation, error) {
	if ev.OrgID == "" || ev.ContactID == "" {
		return nil, fmt.Errorf("autotag: process: org and contact ids required")
	}
	if s.locker != nil {
		unlock, err := s.locker.Lock(ctx, "tags:"+ev.OrgID+":"+ev.ContactID)
		if err != nil {
			return nil, err
		}
		defer unlock()
	}

	rules, err := s.rules.ListRules(ctx, ev.OrgID)
	if err != nil {
		return nil, fmt.Errorf("autotag: process: %w", err)
	}
	view, err := s.tags.Snapshot(ctx, ev.OrgID, ev.ContactID)
	if err != nil {
		return nil, fmt.Errorf("autotag: process: %w", err)
	}

	mutations, _, skipped := EvaluateAll(ev, view, rules)
	for _, sk := range skipped {
		s.logger.Warn("autotag: skipped misconfigured rule", "rule_id", sk.RuleID, "org_id", ev.OrgID, "error", sk.Err)
	}
	if len(mutations) == 0 {
		return nil, nil
	}
	if err := s.tags.Apply(ctx, ev.OrgID, ev.ContactID, mutations); err != nil {
		return nil, fmt.Errorf("autotag: process: %w", err)
	}
	for _, m := range mutations {
		s.metrics.ObserveTagMutation(string(m.Action))
	}
	s.logger.Info("autotag: tags updated", "org_id", ev.OrgID, "contact_id", ev.ContactID,
		"trigger", ev.Type, "mutations", len(mutations))
	return mutations, nil
}

// ReplyEvents expands an inbound reply into the events rules can react to.
func ReplyEvents(orgID, contactID, sessionID, text string, firstReply bool, at time.Time) []Event {
	base := Event{OrgID: orgID, ContactID: contactID, SessionID: sessionID, Text: text, OccurredAt: at}
	types := []TriggerType{TriggerMessageReceived}
	if firstReply {
		types = append(types, TriggerLeadRepliedFirstTime)
	}
	types = append(types, TriggerKeywordMatch)

	out := make([]Event, 0, len(types))
	for _, t := range types {
		ev := base
		ev.Type = t
		out = append(out, ev)
	}
	return out
}
