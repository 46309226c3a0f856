package templates

import (
	"fmt"
	"strings"

	"github.com/wolfman30/medspa-nurture/internal/flow"
)

// CheckFlow parses every drip message in def that uses placeholders.
func CheckFlow(def *flow.Definition) error {
	var r Renderer
	for _, step := range def.Steps {
		for i, d := range step.DripSequence {
			if !strings.Contains(d.Message, "{{") {
				continue
			}
			if err := r.Check(step.ID, d.Message); err != nil {
				return fmt.Errorf("%w: step %s drip %d: %v", flow.ErrInvalidFlow, step.ID, i+1, err)
			}
		}
	}
	return nil
}
