// Package inbound consumes conversation events from a queue and fans them out
// to the session engine and the auto-tagging service.
package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/medspa-nurture/internal/flow"
)

// Kind names an inbound event.
type Kind string

const (
	KindReply             Kind = "reply"
	KindLeadCreated       Kind = "lead_created"
	KindAppointmentBooked Kind = "appointment_booked"
	KindMessageSent       Kind = "message_sent"
	KindNoResponse        Kind = "no_response"
)

// ErrInvalidEvent reports an event that can never be processed.
var ErrInvalidEvent = errors.New("inbound: invalid event")

// Event is the queue payload. Which fields matter depends on Kind.
type Event struct {
	ID        string `json:"id"`
	Kind      Kind   `json:"kind"`
	OrgID     string `json:"org_id"`
	ContactID string `json:"contact_id"`
	// SessionID pins a reply or booking to a session; otherwise the contact's
	// open session is used.
	SessionID string `json:"session_id,omitempty"`
	// FlowID enrolls a new lead when set on lead_created.
	FlowID string `json:"flow_id,omitempty"`
	Text   string `json:"text,omitempty"`
	// Label, Answers and DripOverride carry the classifier output for a reply.
	// DripOverride is null for "use the step's sequence"; [] schedules nothing.
	Label         string             `json:"label,omitempty"`
	Answers       map[string]string  `json:"answers,omitempty"`
	DripOverride  []flow.DripMessage `json:"drip_override"`
	FirstReply    bool               `json:"first_reply,omitempty"`
	ElapsedDays   int                `json:"elapsed_days,omitempty"`
	AppointmentAt *time.Time         `json:"appointment_at,omitempty"`
	OccurredAt    time.Time          `json:"occurred_at"`
}

func (e Event) validate() error {
	if e.OrgID == "" || e.ContactID == "" {
		return fmt.Errorf("%w: %s: org_id and contact_id required", ErrInvalidEvent, e.ID)
	}
	switch e.Kind {
	case KindReply, KindLeadCreated, KindMessageSent, KindNoResponse:
	case KindAppointmentBooked:
		if e.AppointmentAt == nil {
			return fmt.Errorf("%w: %s: appointment_at required", ErrInvalidEvent, e.ID)
		}
	default:
		return fmt.Errorf("%w: %s: unknown kind %q", ErrInvalidEvent, e.ID, e.Kind)
	}
	return nil
}

// Publisher writes events to a queue.
type Publisher struct {
	queue Queue
	now   func() time.Time
}

func NewPublisher(queue Queue) *Publisher {
	if queue == nil {
		panic("inbound: queue required")
	}
	return &Publisher{queue: queue, now: func() time.Time { return time.Now().UTC() }}
}

// Publish assigns an id and timestamp when missing and enqueues the event.
func (p *Publisher) Publish(ctx context.Context, ev Event) (Event, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = p.now()
	}
	if err := ev.validate(); err != nil {
		return ev, err
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return ev, fmt.Errorf("inbound: encode event: %w", err)
	}
	if err := p.queue.Send(ctx, string(body)); err != nil {
		return ev, err
	}
	return ev, nil
}
