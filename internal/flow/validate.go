package flow

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the structural invariants of a definition. All problems are
// reported together, each wrapping ErrInvalidFlow.
func (d *Definition) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidFlow, fmt.Sprintf(format, args...)))
	}

	if strings.TrimSpace(d.ID) == "" {
		fail("id is required")
	}
	if strings.TrimSpace(d.Name) == "" {
		fail("name is required")
	}
	if len(d.Steps) == 0 {
		fail("at least one step is required")
	}

	stepIDs := make(map[string]struct{}, len(d.Steps))
	for i, step := range d.Steps {
		if strings.TrimSpace(step.ID) == "" {
			fail("step %d: id is required", i)
			continue
		}
		if _, dup := stepIDs[step.ID]; dup {
			fail("step %q: duplicate id", step.ID)
		}
		stepIDs[step.ID] = struct{}{}
	}

	for _, step := range d.Steps {
		if len(step.Responses) == 0 {
			fail("step %q: at least one response is required", step.ID)
		}
		labels := make(map[string]struct{}, len(step.Responses))
		for _, resp := range step.Responses {
			key := strings.ToLower(strings.TrimSpace(resp.Label))
			if key == "" {
				fail("step %q: response label is required", step.ID)
				continue
			}
			if _, dup := labels[key]; dup {
				fail("step %q: duplicate response label %q", step.ID, resp.Label)
			}
			labels[key] = struct{}{}
			switch resp.Action {
			case ActionContinue, ActionEnd:
			default:
				fail("step %q: response %q: unknown action %q", step.ID, resp.Label, resp.Action)
			}
			if resp.NextStepID != "" {
				if _, ok := stepIDs[resp.NextStepID]; !ok {
					fail("step %q: response %q: next step %q does not exist", step.ID, resp.Label, resp.NextStepID)
				}
			}
		}
		for j, drip := range step.DripSequence {
			if drip.DelayHours < 0 {
				fail("step %q: drip %d: delay_hours must be non-negative", step.ID, j)
			}
			if strings.TrimSpace(drip.Message) == "" {
				fail("step %q: drip %d: message is required", step.ID, j)
			}
		}
	}

	keys := make(map[string]struct{}, len(d.RequiredQuestions))
	for _, q := range d.RequiredQuestions {
		if strings.TrimSpace(q.FieldKey) == "" {
			fail("required question %q: field_key is required", q.Question)
			continue
		}
		if _, dup := keys[q.FieldKey]; dup {
			fail("required question field_key %q is duplicated", q.FieldKey)
		}
		keys[q.FieldKey] = struct{}{}
	}

	return errors.Join(errs...)
}
