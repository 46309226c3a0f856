// Package session holds the conversation session entity and its state machine.
// Every transition works on a copy and either returns the next state or an error;
// the input session is never modified.
package session

import (
	"time"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusAbandoned Status = "abandoned"
	StatusRecovered Status = "recovered"
)

// IsLive reports whether the session can still take replies.
func (s Status) IsLive() bool {
	return s == StatusActive || s == StatusRecovered
}

// Session is one run of a flow against one contact.
type Session struct {
	ID                   string            `json:"id"`
	OrgID                string            `json:"org_id"`
	ContactID            string            `json:"contact_id"`
	FlowID               string            `json:"flow_id"`
	FlowVersion          int               `json:"flow_version"`
	Status               Status            `json:"status"`
	StartedAt            time.Time         `json:"started_at"`
	LastActivityAt       time.Time         `json:"last_activity_at"`
	CompletedAt          *time.Time        `json:"completed_at,omitempty"`
	CurrentStepID        string            `json:"current_step_id"`
	AnsweredQuestions    map[string]string `json:"answered_questions"`
	QuestionsTotal       int               `json:"questions_total"`
	CompletionPercentage int               `json:"completion_percentage"`
	AppointmentBooked    bool              `json:"appointment_booked"`
	AppointmentTime      *time.Time        `json:"appointment_time,omitempty"`
	RecoveryLinkSent     bool              `json:"recovery_link_sent"`
	// Version increments on every persisted change and backs optimistic locking.
	Version int64 `json:"version"`
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.AnsweredQuestions = make(map[string]string, len(s.AnsweredQuestions))
	for k, v := range s.AnsweredQuestions {
		out.AnsweredQuestions[k] = v
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}
	if s.AppointmentTime != nil {
		t := *s.AppointmentTime
		out.AppointmentTime = &t
	}
	return &out
}

// CompletionPercentage is round(100 * answered / total) clamped to [0, 100].
// A flow with no required questions counts as fully complete.
func CompletionPercentage(answered, total int) int {
	if total <= 0 {
		return 100
	}
	pct := (200*answered + total) / (2 * total)
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
