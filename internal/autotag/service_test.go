package autotag

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/medspa-nurture/pkg/logging"
)

func TestServiceProcessPersistsMutations(t *testing.T) {
	ctx := context.Background()
	rules := NewMemoryRuleStore()
	tags := NewMemoryTagStore()
	_, err := rules.SaveRule(ctx, Rule{
		OrgID: "org-1", Enabled: true, Priority: 1, Trigger: NoResponseTrigger{Days: 3},
		Action: ActionAddTag, TargetTag: "Unresponsive",
		ConditionMode: ConditionNone, ConditionTags: []string{"Unresponsive"},
	})
	require.NoError(t, err)

	svc := NewService(rules, tags, logging.Discard())
	ev := Event{Type: TriggerNoResponseForDays, OrgID: "org-1", ContactID: "c1", ElapsedDays: 3}

	got, err := svc.Process(ctx, ev)
	require.NoError(t, err)
	require.Len(t, got, 1)

	view, err := tags.Snapshot(ctx, "org-1", "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Unresponsive"}, view.Tags)

	ev.ElapsedDays = 5
	got, err = svc.Process(ctx, ev)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestServiceRequiresContact(t *testing.T) {
	svc := NewService(NewMemoryRuleStore(), NewMemoryTagStore(), logging.Discard())
	_, err := svc.Process(context.Background(), Event{Type: TriggerLeadCreated, OrgID: "org-1"})
	assert.Error(t, err)
}

func TestMemoryRuleStoreRejectsInvalid(t *testing.T) {
	_, err := NewMemoryRuleStore().SaveRule(context.Background(), Rule{OrgID: "org-1", Action: ActionAddTag, TargetTag: "X"})
	assert.ErrorIs(t, err, ErrInvalidRule)
}

func TestReplyEvents(t *testing.T) {
	at := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	evs := ReplyEvents("org-1", "c1", "s1", "how much?", true, at)
	require.Len(t, evs, 3)
	assert.Equal(t, TriggerMessageReceived, evs[0].Type)
	assert.Equal(t, TriggerLeadRepliedFirstTime, evs[1].Type)
	assert.Equal(t, TriggerKeywordMatch, evs[2].Type)
	assert.Equal(t, "how much?", evs[2].Text)

	assert.Len(t, ReplyEvents("org-1", "c1", "s1", "ok", false, at), 2)
}
