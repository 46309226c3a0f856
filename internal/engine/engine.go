// Package engine runs conversation sessions through their flows. Every
// operation on a session happens under a per-session lock and lands as one
// atomic write of the session and its pending drips.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/medspa-nurture/internal/drip"
	"github.com/wolfman30/medspa-nurture/internal/flow"
	"github.com/wolfman30/medspa-nurture/internal/observability/metrics"
	"github.com/wolfman30/medspa-nurture/internal/session"
	"github.com/wolfman30/medspa-nurture/pkg/logging"
)

var engineTracer = otel.Tracer("nurture.internal.engine")

// CompletionNotifier is told when a session completes on a flow that needs a
// human to follow up.
type CompletionNotifier interface {
	SessionCompleted(ctx context.Context, s *session.Session, def *flow.Definition) error
}

// Option customizes the engine.
type Option func(*Engine)

func WithLocker(l Locker) Option {
	return func(e *Engine) {
		if l != nil {
			e.locker = l
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) {
		if gen != nil {
			e.newID = gen
		}
	}
}

func WithNotifier(n CompletionNotifier) Option {
	return func(e *Engine) {
		e.notifier = n
	}
}

func WithMetrics(m *metrics.EngineMetrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// Engine owns session state. Callers only ever receive copies.
type Engine struct {
	store     Store
	flows     flow.Repository
	scheduler *drip.Scheduler
	locker    Locker
	notifier  CompletionNotifier
	clock     func() time.Time
	newID     func() string
	metrics   *metrics.EngineMetrics
	logger    *logging.Logger
}

func New(store Store, flows flow.Repository, scheduler *drip.Scheduler, logger *logging.Logger, opts ...Option) *Engine {
	if store == nil {
		panic("engine: store required")
	}
	if flows == nil {
		panic("engine: flow repository required")
	}
	if scheduler == nil {
		panic("engine: drip scheduler required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	e := &Engine{
		store:     store,
		flows:     flows,
		scheduler: scheduler,
		locker:    NewLocalLocker(),
		clock:     func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StartRequest enrolls a contact in a flow.
type StartRequest struct {
	OrgID     string `json:"org_id"`
	ContactID string `json:"contact_id"`
	FlowID    string `json:"flow_id"`
}

// Reply is a classified inbound message.
type Reply struct {
	OrgID     string
	SessionID string
	// Label must match one of the current step's response labels.
	Label string
	// Answers are extracted field values merged before the step advances.
	Answers map[string]string
	// DripOverride, when non-nil, replaces the next step's drip sequence for
	// this scheduling only.
	DripOverride []flow.DripMessage
}

// Result is the outcome of a step transition.
type Result struct {
	Session    *session.Session   `json:"session"`
	Transition session.Transition `json:"transition"`
	Scheduled  []drip.PendingDrip `json:"scheduled"`
	Cancelled  int                `json:"cancelled"`
}

// StartSession creates an Active session and schedules the first step's drips.
// If the contact already has a non-completed session on the flow, that session
// is returned with created=false.
func (e *Engine) StartSession(ctx context.Context, req StartRequest) (_ *session.Session, created bool, err error) {
	ctx, span := engineTracer.Start(ctx, "engine.start_session")
	defer func() { e.finish(span, "start", err) }()
	span.SetAttributes(
		attribute.String("nurture.org_id", req.OrgID),
		attribute.String("nurture.contact_id", req.ContactID),
		attribute.String("nurture.flow_id", req.FlowID),
	)

	if strings.TrimSpace(req.OrgID) == "" || strings.TrimSpace(req.ContactID) == "" || strings.TrimSpace(req.FlowID) == "" {
		return nil, false, fmt.Errorf("engine: start session: org, contact and flow ids required")
	}
	def, err := e.flows.Get(ctx, req.OrgID, req.FlowID)
	if err != nil {
		return nil, false, fmt.Errorf("engine: start session: %w", err)
	}

	unlock, err := e.locker.Lock(ctx, "start:"+req.OrgID+":"+req.ContactID+":"+req.FlowID)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	now := e.clock()
	s, err := session.Start(e.newID(), req.OrgID, req.ContactID, def, now)
	if err != nil {
		return nil, false, err
	}
	first, _ := def.FirstStep()
	drips, err := e.scheduler.Plan(ctx, targetFor(s, first.ID), first.DripSequence, now)
	if err != nil {
		return nil, false, fmt.Errorf("engine: start session: %w", err)
	}

	stored, created, err := e.store.InsertSessionIfAbsent(ctx, s, drips)
	if err != nil {
		return nil, false, err
	}
	if !created {
		e.logger.Info("engine: session already open", "session_id", stored.ID, "contact_id", req.ContactID, "flow_id", req.FlowID)
		return stored, false, nil
	}
	e.metrics.ObserveDrips("scheduled", len(drips))
	e.logger.Info("engine: session started",
		"session_id", stored.ID, "org_id", req.OrgID, "contact_id", req.ContactID,
		"flow_id", def.ID, "flow_version", def.Version, "drips", len(drips))
	return stored, true, nil
}

// AdvanceStep takes the response branch matching label on the current step.
func (e *Engine) AdvanceStep(ctx context.Context, orgID, sessionID, label string) (*Result, error) {
	return e.HandleReply(ctx, Reply{OrgID: orgID, SessionID: sessionID, Label: label})
}

// HandleReply records extracted answers, advances the step, cancels the
// session's pending drips and schedules the next sequence as one unit.
func (e *Engine) HandleReply(ctx context.Context, reply Reply) (_ *Result, err error) {
	ctx, span := engineTracer.Start(ctx, "engine.handle_reply")
	defer func() { e.finish(span, "advance", err) }()
	span.SetAttributes(
		attribute.String("nurture.org_id", reply.OrgID),
		attribute.String("nurture.session_id", reply.SessionID),
		attribute.String("nurture.label", reply.Label),
	)

	unlock, err := e.locker.Lock(ctx, "session:"+reply.SessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	cur, def, err := e.load(ctx, reply.OrgID, reply.SessionID)
	if err != nil {
		return nil, err
	}
	now := e.clock()

	next := cur
	if len(reply.Answers) > 0 {
		if next, err = session.RecordAnswers(cur, reply.Answers, now); err != nil {
			return nil, err
		}
	}
	next, tr, err := session.Advance(next, def, reply.Label, now)
	if err != nil {
		return nil, err
	}

	var drips []drip.PendingDrip
	if !tr.Completed {
		seq := reply.DripOverride
		if seq == nil {
			step, _ := def.Step(tr.ToStepID)
			seq = step.DripSequence
		}
		if drips, err = e.scheduler.Plan(ctx, targetFor(next, tr.ToStepID), seq, now); err != nil {
			return nil, fmt.Errorf("engine: handle reply: %w", err)
		}
	}

	cancelled, err := e.commit(ctx, cur, next, true, drips, now)
	if err != nil {
		return nil, err
	}
	e.metrics.ObserveDrips("cancelled", cancelled)
	e.metrics.ObserveDrips("scheduled", len(drips))
	e.logger.Info("engine: step advanced",
		"session_id", next.ID, "from_step", tr.FromStepID, "to_step", tr.ToStepID,
		"label", tr.Branch.Label, "completed", tr.Completed, "self_loop", tr.SelfLoop,
		"drips_cancelled", cancelled, "drips_scheduled", len(drips))

	if tr.Completed {
		e.notifyCompleted(ctx, next, def)
	}
	return &Result{Session: next, Transition: tr, Scheduled: drips, Cancelled: cancelled}, nil
}

// RecordAnswer stores one collected field and recomputes completion.
func (e *Engine) RecordAnswer(ctx context.Context, orgID, sessionID, fieldKey, value string) (*session.Session, error) {
	return e.RecordAnswers(ctx, orgID, sessionID, map[string]string{fieldKey: value})
}

// RecordAnswers stores several collected fields at once.
func (e *Engine) RecordAnswers(ctx context.Context, orgID, sessionID string, answers map[string]string) (_ *session.Session, err error) {
	ctx, span := engineTracer.Start(ctx, "engine.record_answers")
	defer func() { e.finish(span, "record_answer", err) }()

	return e.mutate(ctx, orgID, sessionID, false, func(s *session.Session, now time.Time) (*session.Session, error) {
		return session.RecordAnswers(s, answers, now)
	})
}

// MarkAbandoned demotes an Active session and cancels its pending drips.
func (e *Engine) MarkAbandoned(ctx context.Context, orgID, sessionID string) (_ *session.Session, err error) {
	ctx, span := engineTracer.Start(ctx, "engine.mark_abandoned")
	defer func() { e.finish(span, "abandon", err) }()

	return e.mutate(ctx, orgID, sessionID, true, func(s *session.Session, _ time.Time) (*session.Session, error) {
		return session.Abandon(s)
	})
}

var errNotIdle = errors.New("engine: session active since cutoff")

// abandonIdle re-checks idleness under the session lock so a reply that lands
// between listing and abandoning wins.
func (e *Engine) abandonIdle(ctx context.Context, orgID, sessionID string, cutoff time.Time) (_ *session.Session, err error) {
	ctx, span := engineTracer.Start(ctx, "engine.abandon_idle")
	defer func() { e.finish(span, "abandon", err) }()

	return e.mutate(ctx, orgID, sessionID, true, func(s *session.Session, _ time.Time) (*session.Session, error) {
		if !s.LastActivityAt.Before(cutoff) {
			return nil, errNotIdle
		}
		return session.Abandon(s)
	})
}

// Recover resumes an Abandoned session. Step and answers are kept.
func (e *Engine) Recover(ctx context.Context, orgID, sessionID string) (_ *session.Session, err error) {
	ctx, span := engineTracer.Start(ctx, "engine.recover")
	defer func() { e.finish(span, "recover", err) }()

	return e.mutate(ctx, orgID, sessionID, false, func(s *session.Session, _ time.Time) (*session.Session, error) {
		return session.Recover(s)
	})
}

// BookAppointment records a booking. Status is left to the caller.
func (e *Engine) BookAppointment(ctx context.Context, orgID, sessionID string, when time.Time) (_ *session.Session, err error) {
	ctx, span := engineTracer.Start(ctx, "engine.book_appointment")
	defer func() { e.finish(span, "book", err) }()

	return e.mutate(ctx, orgID, sessionID, false, func(s *session.Session, now time.Time) (*session.Session, error) {
		return session.BookAppointment(s, when, now)
	})
}

func (e *Engine) GetSession(ctx context.Context, orgID, sessionID string) (*session.Session, error) {
	return e.store.GetSession(ctx, orgID, sessionID)
}

// FindOpenSession returns the contact's most recently active non-completed session.
func (e *Engine) FindOpenSession(ctx context.Context, orgID, contactID string) (*session.Session, error) {
	return e.store.FindOpenSession(ctx, orgID, contactID)
}

// ListDrips returns every drip ever scheduled for the session.
func (e *Engine) ListDrips(ctx context.Context, orgID, sessionID string) ([]drip.PendingDrip, error) {
	if _, err := e.store.GetSession(ctx, orgID, sessionID); err != nil {
		return nil, err
	}
	return e.scheduler.Queue().ListBySession(ctx, sessionID)
}

// DripData exposes the session's answers to drip templates. Required fields
// that are still unanswered resolve to an empty string.
func (e *Engine) DripData(ctx context.Context, d drip.PendingDrip) (map[string]any, error) {
	s, def, err := e.load(ctx, d.OrgID, d.SessionID)
	if err != nil {
		return nil, err
	}
	data := map[string]any{
		"contact_id": s.ContactID,
		"flow_name":  def.Name,
	}
	for _, q := range def.RequiredQuestions {
		data[q.FieldKey] = ""
	}
	for k, v := range s.AnsweredQuestions {
		data[k] = v
	}
	// first_name is also reachable as {{.FirstName}}.
	for k, v := range data {
		if alias := templateAlias(k); alias != k {
			if _, taken := data[alias]; !taken {
				data[alias] = v
			}
		}
	}
	return data, nil
}

func templateAlias(key string) string {
	parts := strings.FieldsFunc(key, func(r rune) bool { return r == '_' || r == '-' || r == ' ' })
	var b strings.Builder
	for _, p := range parts {
		switch lower := strings.ToLower(p); lower {
		case "id", "url":
			b.WriteString(strings.ToUpper(lower))
		default:
			b.WriteString(strings.ToUpper(lower[:1]) + lower[1:])
		}
	}
	if b.Len() == 0 {
		return key
	}
	return b.String()
}

type mutation func(s *session.Session, now time.Time) (*session.Session, error)

func (e *Engine) mutate(ctx context.Context, orgID, sessionID string, cancelDrips bool, fn mutation) (*session.Session, error) {
	unlock, err := e.locker.Lock(ctx, "session:"+sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	cur, err := e.store.GetSession(ctx, orgID, sessionID)
	if err != nil {
		return nil, err
	}
	now := e.clock()
	next, err := fn(cur, now)
	if err != nil {
		return nil, err
	}
	cancelled, err := e.commit(ctx, cur, next, cancelDrips, nil, now)
	if err != nil {
		return nil, err
	}
	e.metrics.ObserveDrips("cancelled", cancelled)
	e.logger.Debug("engine: session updated", "session_id", next.ID, "status", next.Status, "drips_cancelled", cancelled)
	return next, nil
}

func (e *Engine) commit(ctx context.Context, cur, next *session.Session, cancelDrips bool, drips []drip.PendingDrip, now time.Time) (int, error) {
	next.Version = cur.Version + 1
	return e.store.ApplyTransition(ctx, Change{
		Session:         next,
		ExpectedVersion: cur.Version,
		CancelDrips:     cancelDrips,
		Drips:           drips,
		At:              now,
	})
}

// load fetches the session and the flow version it was started on.
func (e *Engine) load(ctx context.Context, orgID, sessionID string) (*session.Session, *flow.Definition, error) {
	s, err := e.store.GetSession(ctx, orgID, sessionID)
	if err != nil {
		return nil, nil, err
	}
	def, err := e.flows.GetVersion(ctx, orgID, s.FlowID, s.FlowVersion)
	if err != nil {
		return nil, nil, fmt.Errorf("engine: load flow for session %s: %w", sessionID, err)
	}
	return s, def, nil
}

func (e *Engine) notifyCompleted(ctx context.Context, s *session.Session, def *flow.Definition) {
	if e.notifier == nil || !def.RequiresHumanFollowUp {
		return
	}
	if err := e.notifier.SessionCompleted(ctx, s, def); err != nil {
		e.logger.Warn("engine: completion notification failed", "session_id", s.ID, "error", err)
	}
}

func (e *Engine) finish(span trace.Span, op string, err error) {
	e.metrics.ObserveTransition(op, err)
	if err != nil && !errors.Is(err, context.Canceled) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func targetFor(s *session.Session, stepID string) drip.Target {
	return drip.Target{OrgID: s.OrgID, SessionID: s.ID, ContactID: s.ContactID, StepID: stepID}
}
