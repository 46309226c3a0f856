package autotag

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeTrigger(t *testing.T) {
	cases := []struct {
		name    string
		typ     TriggerType
		config  string
		want    Trigger
		wantErr bool
	}{
		{"plain event", TriggerLeadCreated, ``, EventTrigger{On: TriggerLeadCreated}, false},
		{"days", TriggerNoResponseForDays, `{"days":3}`, NoResponseTrigger{Days: 3}, false},
		{"days missing", TriggerNoResponseForDays, `{}`, nil, true},
		{"days fractional", TriggerNoResponseForDays, `{"days":1.5}`, nil, true},
		{"days as string", TriggerNoResponseForDays, `{"days":"3"}`, nil, true},
		{"keywords", TriggerKeywordMatch, `{"keywords":["price"," cost ",""]}`, KeywordTrigger{Keywords: []string{"price", "cost"}}, false},
		{"keywords empty", TriggerKeywordMatch, `{"keywords":[]}`, nil, true},
		{"unknown type", "birthday", `{}`, nil, true},
		{"broken json", TriggerNoResponseForDays, `{"days":`, nil, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeTrigger(tc.typ, []byte(tc.config))
			if tc.wantErr {
				require.ErrorIs(t, err, ErrInvalidRule)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRuleJSON(t *testing.T) {
	raw := `{"id":"r1","name":"quiet","enabled":true,"priority":1,"trigger_type":"no_response_for_days",
		"trigger_config":{"days":3},"action_type":"add_tag","target_tag":"Unresponsive",
		"condition_tags":["Unresponsive"],"condition_mode":"none"}`
	var r Rule
	require.NoError(t, json.Unmarshal([]byte(raw), &r))
	assert.Equal(t, NoResponseTrigger{Days: 3}, r.Trigger)
	require.NoError(t, r.Validate())

	out, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"trigger_config":{"days":3}`)
	assert.Contains(t, string(out), `"trigger_type":"no_response_for_days"`)

	bad := `{"trigger_type":"keyword_match","trigger_config":{"days":3},"action_type":"add_tag","target_tag":"X"}`
	assert.ErrorIs(t, json.Unmarshal([]byte(bad), &r), ErrInvalidRule)
}

func TestRuleValidate(t *testing.T) {
	r := Rule{Trigger: onMessage, Action: ActionAddTag, TargetTag: "X"}
	require.NoError(t, r.Validate())

	r.TargetTag = " "
	assert.ErrorIs(t, r.Validate(), ErrInvalidRule)

	r = Rule{Trigger: onMessage, TriggerType: TriggerLeadCreated, Action: ActionAddTag, TargetTag: "X"}
	assert.ErrorIs(t, r.Validate(), ErrInvalidRule)

	r = Rule{Trigger: onMessage, Action: ActionAddTag, TargetTag: "X", ConditionMode: "some"}
	assert.ErrorIs(t, r.Validate(), ErrInvalidRule)
}
