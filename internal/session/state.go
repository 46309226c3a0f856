package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/medspa-nurture/internal/flow"
)

// Start builds the initial Active session for a contact entering a flow.
func Start(id, orgID, contactID string, def *flow.Definition, now time.Time) (*Session, error) {
	first, ok := def.FirstStep()
	if !ok {
		return nil, fmt.Errorf("session: start: %w: flow %q has no steps", ErrUnknownStep, def.ID)
	}
	total := def.QuestionsTotal()
	return &Session{
		ID:                   id,
		OrgID:                orgID,
		ContactID:            contactID,
		FlowID:               def.ID,
		FlowVersion:          def.Version,
		Status:               StatusActive,
		StartedAt:            now,
		LastActivityAt:       now,
		CurrentStepID:        first.ID,
		AnsweredQuestions:    map[string]string{},
		QuestionsTotal:       total,
		CompletionPercentage: CompletionPercentage(0, total),
	}, nil
}

// Transition describes the outcome of taking a response branch.
type Transition struct {
	FromStepID string
	ToStepID   string
	Branch     flow.ResponseBranch
	Completed  bool
	SelfLoop   bool
}

// Advance applies the response branch matching label on the current step.
func Advance(s *Session, def *flow.Definition, label string, now time.Time) (*Session, Transition, error) {
	if !s.Status.IsLive() {
		return nil, Transition{}, fmt.Errorf("session: advance from %s: %w", s.Status, ErrInvalidSessionTransition)
	}
	step, ok := def.Step(s.CurrentStepID)
	if !ok {
		return nil, Transition{}, fmt.Errorf("session: advance: %w: %q", ErrUnknownStep, s.CurrentStepID)
	}
	branch, ok := step.MatchResponse(label)
	if !ok {
		return nil, Transition{}, fmt.Errorf("session: advance: %w: %q not in [%s]",
			ErrUnknownResponseLabel, label, strings.Join(step.Labels(), ", "))
	}

	next := s.Clone()
	next.LastActivityAt = now
	tr := Transition{FromStepID: step.ID, ToStepID: step.ID, Branch: *branch}

	switch {
	case branch.Action == flow.ActionEnd:
		next.Status = StatusCompleted
		completedAt := now
		next.CompletedAt = &completedAt
		tr.Completed = true
	case branch.NextStepID != "":
		if _, ok := def.Step(branch.NextStepID); !ok {
			return nil, Transition{}, fmt.Errorf("session: advance: %w: %q", ErrUnknownStep, branch.NextStepID)
		}
		next.CurrentStepID = branch.NextStepID
		tr.ToStepID = branch.NextStepID
	default:
		tr.SelfLoop = true
	}
	return next, tr, nil
}

// RecordAnswers merges extracted answers and recomputes completion. Empty values
// are ignored so completion never goes backwards.
func RecordAnswers(s *Session, answers map[string]string, now time.Time) (*Session, error) {
	if !s.Status.IsLive() {
		return nil, fmt.Errorf("session: record answer from %s: %w", s.Status, ErrInvalidSessionTransition)
	}
	next := s.Clone()
	for key, value := range answers {
		key = strings.TrimSpace(key)
		if key == "" || strings.TrimSpace(value) == "" {
			continue
		}
		next.AnsweredQuestions[key] = value
	}
	next.CompletionPercentage = CompletionPercentage(len(next.AnsweredQuestions), next.QuestionsTotal)
	next.LastActivityAt = now
	return next, nil
}

// Abandon demotes an Active session. The idle policy lives with the caller.
func Abandon(s *Session) (*Session, error) {
	if s.Status != StatusActive {
		return nil, fmt.Errorf("session: abandon from %s: %w", s.Status, ErrInvalidSessionTransition)
	}
	next := s.Clone()
	next.Status = StatusAbandoned
	return next, nil
}

// Recover resumes an Abandoned session where it left off. Only the status changes.
func Recover(s *Session) (*Session, error) {
	if s.Status != StatusAbandoned {
		return nil, fmt.Errorf("session: recover from %s: %w", s.Status, ErrInvalidSessionTransition)
	}
	next := s.Clone()
	next.Status = StatusRecovered
	return next, nil
}

// BookAppointment records a booking without changing status. Abandoned sessions
// must be recovered first.
func BookAppointment(s *Session, when time.Time, now time.Time) (*Session, error) {
	if s.Status == StatusAbandoned {
		return nil, fmt.Errorf("session: book appointment from %s: %w", s.Status, ErrInvalidSessionTransition)
	}
	next := s.Clone()
	next.AppointmentBooked = true
	appt := when
	next.AppointmentTime = &appt
	next.LastActivityAt = now
	return next, nil
}
