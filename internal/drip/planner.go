package drip

import (
	"fmt"
	"time"

	"github.com/wolfman30/medspa-nurture/internal/businesshours"
	"github.com/wolfman30/medspa-nurture/internal/flow"
)

// AnchorMode selects how per-drip delays are offset.
type AnchorMode int

const (
	// ChainFromPrevious adds each delay to the previous drip's raw (unsnapped)
	// instant. Only the instant stored for each drip is moved into business hours.
	ChainFromPrevious AnchorMode = iota
	// FromStepAnchor measures every delay from the sequence anchor.
	FromStepAnchor
)

func (m AnchorMode) String() string {
	switch m {
	case FromStepAnchor:
		return "step_anchor"
	default:
		return "chain"
	}
}

// ParseAnchorMode accepts "chain" or "step_anchor".
func ParseAnchorMode(v string) (AnchorMode, error) {
	switch v {
	case "", "chain":
		return ChainFromPrevious, nil
	case "step_anchor":
		return FromStepAnchor, nil
	default:
		return ChainFromPrevious, fmt.Errorf("drip: unknown anchor mode %q", v)
	}
}

// Plan computes the Scheduled drips for a sequence without persisting them.
// IDs and creation timestamps are left for the caller to assign.
func Plan(target Target, seq []flow.DripMessage, anchor time.Time, cal businesshours.WeeklyHours, mode AnchorMode) ([]PendingDrip, error) {
	if len(seq) == 0 {
		return nil, nil
	}
	out := make([]PendingDrip, 0, len(seq))
	raw := anchor
	for i, d := range seq {
		if d.DelayHours < 0 {
			return nil, fmt.Errorf("drip: plan: negative delay at index %d", i)
		}
		switch mode {
		case FromStepAnchor:
			raw = anchor.Add(d.Delay())
		default:
			raw = raw.Add(d.Delay())
		}
		at, err := businesshours.NextBusinessMoment(raw, cal)
		if err != nil {
			return nil, fmt.Errorf("drip: plan: %w", err)
		}
		out = append(out, PendingDrip{
			OrgID:         target.OrgID,
			SessionID:     target.SessionID,
			ContactID:     target.ContactID,
			StepID:        target.StepID,
			SequenceIndex: i,
			Message:       d.Message,
			ScheduledFor:  at,
			Status:        StatusScheduled,
		})
	}
	return out, nil
}
