// Package drip plans, stores and dispatches time-delayed follow-up messages.
package drip

import (
	"errors"
	"time"
)

// Status tracks the lifecycle of a pending drip.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusSent      Status = "sent"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

var (
	// ErrStaleDripClaim is returned when a drip is no longer in the state the caller
	// expected, usually because another dispatcher claimed or a reply cancelled it.
	ErrStaleDripClaim = errors.New("stale drip claim")

	// ErrDripNotFound is returned when no drip exists for an id.
	ErrDripNotFound = errors.New("drip not found")
)

// PendingDrip is one scheduled follow-up for a session.
type PendingDrip struct {
	ID            string     `json:"id"`
	OrgID         string     `json:"org_id"`
	SessionID     string     `json:"session_id"`
	ContactID     string     `json:"contact_id"`
	StepID        string     `json:"step_id"`
	SequenceIndex int        `json:"sequence_index"`
	Message       string     `json:"message"`
	ScheduledFor  time.Time  `json:"scheduled_for"`
	Status        Status     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
	FailedAt      *time.Time `json:"failed_at,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
	CancelledAt   *time.Time `json:"cancelled_at,omitempty"`
	DeliveryID    string     `json:"delivery_id,omitempty"`
}

// Target identifies who a drip sequence is scheduled for.
type Target struct {
	OrgID     string
	SessionID string
	ContactID string
	StepID    string
}
