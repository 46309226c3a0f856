package flow_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wolfman30/medspa-nurture/internal/flow"
	"github.com/wolfman30/medspa-nurture/internal/flow/flowtest"
)

func TestValidateAcceptsFixture(t *testing.T) {
	assert.NoError(t, flowtest.Consultation("org-1").Validate())
}

func TestValidateRejectsBrokenFlows(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *flow.Definition)
	}{
		{"no steps", func(d *flow.Definition) { d.Steps = nil }},
		{"duplicate step id", func(d *flow.Definition) { d.Steps[1].ID = "greet" }},
		{"dangling next step", func(d *flow.Definition) { d.Steps[0].Responses[0].NextStepID = "nowhere" }},
		{"duplicate label ignoring case", func(d *flow.Definition) { d.Steps[0].Responses[1].Label = "INTERESTED" }},
		{"negative delay", func(d *flow.Definition) { d.Steps[0].DripSequence[0].DelayHours = -1 }},
		{"unknown action", func(d *flow.Definition) { d.Steps[0].Responses[0].Action = "jump" }},
		{"duplicate field key", func(d *flow.Definition) { d.RequiredQuestions[1].FieldKey = "first_name" }},
		{"missing name", func(d *flow.Definition) { d.Name = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := flowtest.Consultation("org-1")
			tt.mutate(def)
			err := def.Validate()
			assert.Error(t, err)
			assert.True(t, errors.Is(err, flow.ErrInvalidFlow))
		})
	}
}
