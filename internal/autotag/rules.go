// Package autotag evaluates trigger/condition/action rules against
// conversation events and turns them into ordered tag mutations.
package autotag

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// TriggerType names the conversation event a rule reacts to.
type TriggerType string

const (
	TriggerLeadCreated          TriggerType = "lead_created"
	TriggerMessageReceived      TriggerType = "message_received"
	TriggerLeadRepliedFirstTime TriggerType = "lead_replied_first_time"
	TriggerMessageSent          TriggerType = "message_sent"
	TriggerAppointmentBooked    TriggerType = "appointment_booked"
	TriggerNoResponseForDays    TriggerType = "no_response_for_days"
	TriggerKeywordMatch         TriggerType = "keyword_match"
)

// ActionType is what a passing rule does to the tag set.
type ActionType string

const (
	ActionAddTag               ActionType = "add_tag"
	ActionRemoveTag            ActionType = "remove_tag"
	ActionSetPrimaryTag        ActionType = "set_primary_tag"
	ActionReplaceConditionTags ActionType = "replace_condition_tags"
)

// ConditionMode decides how ConditionTags are checked.
type ConditionMode string

const (
	ConditionAny  ConditionMode = "any"
	ConditionAll  ConditionMode = "all"
	ConditionNone ConditionMode = "none"
)

var ErrInvalidRule = errors.New("autotag: invalid rule")

// Trigger is the typed form of a rule's trigger configuration.
type Trigger interface {
	Type() TriggerType
	Matches(ev Event) bool
	Config() map[string]any
}

// EventTrigger fires on every event of its type and carries no configuration.
type EventTrigger struct {
	On TriggerType
}

func (t EventTrigger) Type() TriggerType      { return t.On }
func (t EventTrigger) Matches(ev Event) bool  { return ev.Type == t.On }
func (t EventTrigger) Config() map[string]any { return map[string]any{} }

// NoResponseTrigger fires once a contact has been silent for at least Days.
type NoResponseTrigger struct {
	Days int
}

func (t NoResponseTrigger) Type() TriggerType { return TriggerNoResponseForDays }

func (t NoResponseTrigger) Matches(ev Event) bool {
	return ev.Type == TriggerNoResponseForDays && ev.ElapsedDays >= t.Days
}

func (t NoResponseTrigger) Config() map[string]any { return map[string]any{"days": t.Days} }

// KeywordTrigger fires when the event text contains any keyword, ignoring case.
type KeywordTrigger struct {
	Keywords []string
}

func (t KeywordTrigger) Type() TriggerType { return TriggerKeywordMatch }

func (t KeywordTrigger) Matches(ev Event) bool {
	if ev.Type != TriggerKeywordMatch {
		return false
	}
	text := strings.ToLower(ev.Text)
	for _, kw := range t.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func (t KeywordTrigger) Config() map[string]any { return map[string]any{"keywords": t.Keywords} }

// DecodeTrigger turns a stored trigger type and its opaque JSON config into a
// typed Trigger.
func DecodeTrigger(triggerType TriggerType, config []byte) (Trigger, error) {
	if len(config) > 0 && !gjson.ValidBytes(config) {
		return nil, fmt.Errorf("%w: trigger config is not valid json", ErrInvalidRule)
	}
	switch triggerType {
	case TriggerLeadCreated, TriggerMessageReceived, TriggerLeadRepliedFirstTime, TriggerMessageSent, TriggerAppointmentBooked:
		return EventTrigger{On: triggerType}, nil
	case TriggerNoResponseForDays:
		days := gjson.GetBytes(config, "days")
		if days.Type != gjson.Number || days.Int() < 1 || float64(days.Int()) != days.Float() {
			return nil, fmt.Errorf("%w: %s needs a positive whole number of days", ErrInvalidRule, triggerType)
		}
		return NoResponseTrigger{Days: int(days.Int())}, nil
	case TriggerKeywordMatch:
		var keywords []string
		for _, kw := range gjson.GetBytes(config, "keywords").Array() {
			if v := strings.TrimSpace(kw.String()); v != "" {
				keywords = append(keywords, v)
			}
		}
		if len(keywords) == 0 {
			return nil, fmt.Errorf("%w: %s needs at least one keyword", ErrInvalidRule, triggerType)
		}
		return KeywordTrigger{Keywords: keywords}, nil
	default:
		return nil, fmt.Errorf("%w: unknown trigger type %q", ErrInvalidRule, triggerType)
	}
}

// Rule is one auto-tagging rule. A rule read from storage whose trigger could
// not be decoded keeps the failure in ConfigErr and is skipped during evaluation.
type Rule struct {
	ID            string
	OrgID         string
	Name          string
	Enabled       bool
	Priority      int
	TriggerType   TriggerType
	Trigger       Trigger
	Action        ActionType
	TargetTag     string
	ConditionTags []string
	ConditionMode ConditionMode
	ConfigErr     error
}

// Validate reports why a rule cannot be evaluated.
func (r Rule) Validate() error {
	if r.ConfigErr != nil {
		return r.ConfigErr
	}
	if r.Trigger == nil {
		return fmt.Errorf("%w: missing trigger", ErrInvalidRule)
	}
	if r.TriggerType != "" && r.TriggerType != r.Trigger.Type() {
		return fmt.Errorf("%w: trigger type %q does not match config", ErrInvalidRule, r.TriggerType)
	}
	switch r.Action {
	case ActionAddTag, ActionRemoveTag, ActionSetPrimaryTag, ActionReplaceConditionTags:
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidRule, r.Action)
	}
	if strings.TrimSpace(r.TargetTag) == "" {
		return fmt.Errorf("%w: target tag required", ErrInvalidRule)
	}
	switch r.mode() {
	case ConditionAny, ConditionAll, ConditionNone:
	default:
		return fmt.Errorf("%w: unknown condition mode %q", ErrInvalidRule, r.ConditionMode)
	}
	return nil
}

func (r Rule) mode() ConditionMode {
	if r.ConditionMode == "" {
		return ConditionAny
	}
	return r.ConditionMode
}

type ruleDocument struct {
	ID            string          `json:"id"`
	OrgID         string          `json:"org_id"`
	Name          string          `json:"name"`
	Enabled       bool            `json:"enabled"`
	Priority      int             `json:"priority"`
	TriggerType   TriggerType     `json:"trigger_type"`
	TriggerConfig json.RawMessage `json:"trigger_config,omitempty"`
	Action        ActionType      `json:"action_type"`
	TargetTag     string          `json:"target_tag"`
	ConditionTags []string        `json:"condition_tags"`
	ConditionMode ConditionMode   `json:"condition_mode"`
}

func (r Rule) MarshalJSON() ([]byte, error) {
	doc := ruleDocument{
		ID: r.ID, OrgID: r.OrgID, Name: r.Name, Enabled: r.Enabled, Priority: r.Priority,
		TriggerType: r.TriggerType, Action: r.Action, TargetTag: r.TargetTag,
		ConditionTags: r.ConditionTags, ConditionMode: r.ConditionMode,
	}
	if r.Trigger != nil {
		doc.TriggerType = r.Trigger.Type()
		cfg, err := json.Marshal(r.Trigger.Config())
		if err != nil {
			return nil, err
		}
		doc.TriggerConfig = cfg
	}
	if doc.ConditionTags == nil {
		doc.ConditionTags = []string{}
	}
	return json.Marshal(doc)
}

// UnmarshalJSON decodes a rule and rejects trigger configs that do not fit the
// trigger type.
func (r *Rule) UnmarshalJSON(data []byte) error {
	var doc ruleDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	trigger, err := DecodeTrigger(doc.TriggerType, doc.TriggerConfig)
	if err != nil {
		return err
	}
	*r = Rule{
		ID: doc.ID, OrgID: doc.OrgID, Name: doc.Name, Enabled: doc.Enabled, Priority: doc.Priority,
		TriggerType: doc.TriggerType, Trigger: trigger, Action: doc.Action, TargetTag: doc.TargetTag,
		ConditionTags: doc.ConditionTags, ConditionMode: doc.ConditionMode,
	}
	return nil
}
