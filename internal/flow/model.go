// Package flow describes branching conversation scripts and their drip sequences.
package flow

import (
	"strings"
	"time"
)

// Action decides what happens after a response branch is taken.
type Action string

const (
	ActionContinue Action = "continue"
	ActionEnd      Action = "end"
)

// ResponseBranch is one labeled reply path out of a step.
// An empty NextStepID with ActionContinue keeps the session on the same step.
type ResponseBranch struct {
	Label           string `json:"label" yaml:"label"`
	FollowUpMessage string `json:"follow_up_message" yaml:"follow_up_message"`
	NextStepID      string `json:"next_step_id,omitempty" yaml:"next_step_id,omitempty"`
	Action          Action `json:"action" yaml:"action"`
}

// IsSelfLoop reports whether taking the branch leaves the session on its current step.
func (b ResponseBranch) IsSelfLoop() bool {
	return b.Action != ActionEnd && b.NextStepID == ""
}

// DripMessage is a follow-up sent DelayHours after the previous outbound message.
type DripMessage struct {
	Message    string  `json:"message" yaml:"message"`
	DelayHours float64 `json:"delay_hours" yaml:"delay_hours"`
}

// Delay converts DelayHours to a duration.
func (d DripMessage) Delay() time.Duration {
	return time.Duration(d.DelayHours * float64(time.Hour))
}

// StepTag marks step completion in the builder UI. It is not a contact tag.
type StepTag struct {
	Label string `json:"label" yaml:"label"`
	Color string `json:"color,omitempty" yaml:"color,omitempty"`
}

// Step is one outbound message plus its possible reply branches.
type Step struct {
	ID              string           `json:"id" yaml:"id"`
	OutboundMessage string           `json:"outbound_message" yaml:"outbound_message"`
	Responses       []ResponseBranch `json:"responses" yaml:"responses"`
	DripSequence    []DripMessage    `json:"drip_sequence,omitempty" yaml:"drip_sequence,omitempty"`
	Tag             *StepTag         `json:"tag,omitempty" yaml:"tag,omitempty"`
}

// MatchResponse finds the branch whose label equals label, ignoring case and
// surrounding whitespace.
func (s *Step) MatchResponse(label string) (*ResponseBranch, bool) {
	want := strings.TrimSpace(label)
	if want == "" {
		return nil, false
	}
	for i := range s.Responses {
		if strings.EqualFold(strings.TrimSpace(s.Responses[i].Label), want) {
			return &s.Responses[i], true
		}
	}
	return nil, false
}

// Labels lists the configured response labels in order.
func (s *Step) Labels() []string {
	labels := make([]string, 0, len(s.Responses))
	for _, r := range s.Responses {
		labels = append(labels, r.Label)
	}
	return labels
}

// RequiredQuestion is a piece of information the flow must collect.
type RequiredQuestion struct {
	Question string `json:"question" yaml:"question"`
	FieldKey string `json:"field_key" yaml:"field_key"`
}

// Definition is an immutable version of a conversation flow.
type Definition struct {
	ID                    string             `json:"id" yaml:"id"`
	OrgID                 string             `json:"org_id" yaml:"org_id"`
	Name                  string             `json:"name" yaml:"name"`
	Version               int                `json:"version" yaml:"version"`
	Steps                 []Step             `json:"steps" yaml:"steps"`
	RequiredQuestions     []RequiredQuestion `json:"required_questions,omitempty" yaml:"required_questions,omitempty"`
	RequiresHumanFollowUp bool               `json:"requires_human_follow_up" yaml:"requires_human_follow_up"`
	CreatedAt             time.Time          `json:"created_at" yaml:"-"`
}

// FirstStep returns the entry step of the flow.
func (d *Definition) FirstStep() (*Step, bool) {
	if len(d.Steps) == 0 {
		return nil, false
	}
	return &d.Steps[0], true
}

// Step looks up a step by id.
func (d *Definition) Step(id string) (*Step, bool) {
	for i := range d.Steps {
		if d.Steps[i].ID == id {
			return &d.Steps[i], true
		}
	}
	return nil, false
}

// QuestionsTotal is the number of required questions used for completion tracking.
func (d *Definition) QuestionsTotal() int {
	return len(d.RequiredQuestions)
}
