package flow_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/medspa-nurture/internal/flow"
	"github.com/wolfman30/medspa-nurture/internal/flow/flowtest"
)

func TestMatchResponseIgnoresCase(t *testing.T) {
	def := flowtest.Consultation("org-1")
	step, ok := def.FirstStep()
	require.True(t, ok)

	branch, ok := step.MatchResponse("  interested ")
	require.True(t, ok)
	assert.Equal(t, "qualify", branch.NextStepID)

	branch, ok = step.MatchResponse("NOT NOW")
	require.True(t, ok)
	assert.Equal(t, flow.ActionEnd, branch.Action)

	_, ok = step.MatchResponse("interest")
	assert.False(t, ok, "substring must not match")
	_, ok = step.MatchResponse("")
	assert.False(t, ok)
}

func TestSelfLoop(t *testing.T) {
	assert.True(t, flow.ResponseBranch{Action: flow.ActionContinue}.IsSelfLoop())
	assert.False(t, flow.ResponseBranch{Action: flow.ActionContinue, NextStepID: "x"}.IsSelfLoop())
	assert.False(t, flow.ResponseBranch{Action: flow.ActionEnd}.IsSelfLoop())
}

func TestDripDelay(t *testing.T) {
	assert.Equal(t, 90*time.Minute, flow.DripMessage{DelayHours: 1.5}.Delay())
	assert.Equal(t, time.Duration(0), flow.DripMessage{}.Delay())
}

func TestStepLookupAndClone(t *testing.T) {
	def := flowtest.Consultation("org-1")
	step, ok := def.Step("book")
	require.True(t, ok)
	assert.Equal(t, []string{"Booked", "Later"}, step.Labels())
	_, ok = def.Step("missing")
	assert.False(t, ok)
	assert.Equal(t, 3, def.QuestionsTotal())

	clone := def.Clone()
	clone.Steps[0].Responses[0].Label = "changed"
	clone.Steps[0].Tag.Label = "changed"
	assert.Equal(t, "Interested", def.Steps[0].Responses[0].Label)
	assert.Equal(t, "Greeted", def.Steps[0].Tag.Label)
}
