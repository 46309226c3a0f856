package drip

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/medspa-nurture/internal/businesshours"
	"github.com/wolfman30/medspa-nurture/internal/flow"
	"github.com/wolfman30/medspa-nurture/internal/observability/metrics"
	"github.com/wolfman30/medspa-nurture/pkg/logging"
)

// CalendarSource resolves an org's business hours.
type CalendarSource interface {
	Get(ctx context.Context, orgID string) (businesshours.WeeklyHours, error)
}

// Scheduler turns drip sequences into stored PendingDrips.
type Scheduler struct {
	queue     Queue
	calendars CalendarSource
	mode      AnchorMode
	clock     func() time.Time
	newID     func() string
	metrics   *metrics.EngineMetrics
	logger    *logging.Logger
}

func NewScheduler(queue Queue, calendars CalendarSource, logger *logging.Logger) *Scheduler {
	if queue == nil {
		panic("drip: queue required")
	}
	if calendars == nil {
		panic("drip: calendar source required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Scheduler{
		queue:     queue,
		calendars: calendars,
		mode:      ChainFromPrevious,
		clock:     func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
		logger:    logger,
	}
}

func (s *Scheduler) WithAnchorMode(mode AnchorMode) *Scheduler {
	s.mode = mode
	return s
}

func (s *Scheduler) WithClock(clock func() time.Time) *Scheduler {
	if clock != nil {
		s.clock = clock
	}
	return s
}

func (s *Scheduler) WithIDGenerator(gen func() string) *Scheduler {
	if gen != nil {
		s.newID = gen
	}
	return s
}

func (s *Scheduler) WithMetrics(m *metrics.EngineMetrics) *Scheduler {
	s.metrics = m
	return s
}

// Queue exposes the backing queue.
func (s *Scheduler) Queue() Queue {
	return s.queue
}

// Plan resolves the org calendar and computes drips ready to be stored.
func (s *Scheduler) Plan(ctx context.Context, target Target, seq []flow.DripMessage, anchor time.Time) ([]PendingDrip, error) {
	if len(seq) == 0 {
		return nil, nil
	}
	cal, err := s.calendars.Get(ctx, target.OrgID)
	if err != nil {
		return nil, fmt.Errorf("drip: load business hours: %w", err)
	}
	drips, err := Plan(target, seq, anchor, cal, s.mode)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	for i := range drips {
		drips[i].ID = s.newID()
		drips[i].CreatedAt = now
	}
	return drips, nil
}

// ScheduleSequence plans seq from anchor and stores it, replacing any drips
// still Scheduled for the session.
func (s *Scheduler) ScheduleSequence(ctx context.Context, target Target, seq []flow.DripMessage, anchor time.Time) ([]PendingDrip, error) {
	drips, err := s.Plan(ctx, target, seq, anchor)
	if err != nil {
		return nil, err
	}
	cancelled, err := s.queue.ReplacePending(ctx, target.SessionID, drips, s.clock())
	if err != nil {
		return nil, fmt.Errorf("drip: schedule sequence: %w", err)
	}
	s.metrics.ObserveDrips("cancelled", cancelled)
	s.metrics.ObserveDrips("scheduled", len(drips))
	s.logger.Debug("drip scheduler: sequence scheduled",
		"session_id", target.SessionID, "step_id", target.StepID,
		"scheduled", len(drips), "cancelled", cancelled)
	return drips, nil
}

func (s *Scheduler) CancelPending(ctx context.Context, sessionID string) (int, error) {
	n, err := s.queue.CancelPending(ctx, sessionID, s.clock())
	if err != nil {
		return 0, err
	}
	s.metrics.ObserveDrips("cancelled", n)
	return n, nil
}

// DueDrips returns Scheduled drips whose time has come, oldest first.
func (s *Scheduler) DueDrips(ctx context.Context, asOf time.Time, limit int) ([]PendingDrip, error) {
	return s.queue.ListDue(ctx, asOf, limit)
}

func (s *Scheduler) MarkSent(ctx context.Context, id string) error {
	return s.queue.MarkSent(ctx, id, s.clock())
}

func (s *Scheduler) MarkFailed(ctx context.Context, id, reason string) error {
	return s.queue.MarkFailed(ctx, id, reason, s.clock())
}

// ClaimSent marks a drip Sent on behalf of a dispatcher holding claim.
func (s *Scheduler) ClaimSent(ctx context.Context, id, claim string) error {
	return s.queue.ClaimSent(ctx, id, claim, s.clock())
}

// FailClaimed rolls a claimed drip to Failed after its send did not go through.
func (s *Scheduler) FailClaimed(ctx context.Context, id, claim, reason string) error {
	return s.queue.FailClaimed(ctx, id, claim, reason, s.clock())
}
