package drip

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedDrip(id, session string, at time.Time) PendingDrip {
	return PendingDrip{ID: id, SessionID: session, OrgID: "org-1", StepID: "greet", Message: "hi", ScheduledFor: at, Status: StatusScheduled}
}

func TestMemoryQueueReplaceCancelsPrevious(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	_, err := q.ReplacePending(ctx, "s1", []PendingDrip{seedDrip("a", "s1", base), seedDrip("b", "s1", base.Add(time.Hour))}, base)
	require.NoError(t, err)
	_, err = q.ReplacePending(ctx, "s2", []PendingDrip{seedDrip("x", "s2", base)}, base)
	require.NoError(t, err)

	cancelled, err := q.ReplacePending(ctx, "s1", []PendingDrip{seedDrip("c", "s1", base.Add(2*time.Hour))}, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, cancelled)

	drips, err := q.ListBySession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, drips, 3)
	assert.Equal(t, StatusCancelled, drips[0].Status)
	assert.Equal(t, StatusCancelled, drips[1].Status)
	require.NotNil(t, drips[0].CancelledAt)
	assert.Equal(t, StatusScheduled, drips[2].Status)

	other, err := q.ListBySession(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, other[0].Status)
}

func TestMemoryQueueRejectsDuplicateIDs(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	now := time.Now()
	_, err := q.ReplacePending(ctx, "s1", []PendingDrip{seedDrip("a", "s1", now)}, now)
	require.NoError(t, err)
	_, err = q.ReplacePending(ctx, "s1", []PendingDrip{seedDrip("a", "s1", now)}, now)
	require.Error(t, err)

	// the failed replace must not have cancelled anything
	drips, _ := q.ListBySession(ctx, "s1")
	assert.Equal(t, StatusScheduled, drips[0].Status)
}

func TestMemoryQueueListDue(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	_, _ = q.ReplacePending(ctx, "s1", []PendingDrip{
		seedDrip("late", "s1", base.Add(2*time.Hour)),
		seedDrip("early", "s1", base),
		seedDrip("future", "s1", base.Add(48*time.Hour)),
	}, base)

	due, err := q.ListDue(ctx, base.Add(2*time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "early", due[0].ID)
	assert.Equal(t, "late", due[1].ID)

	limited, err := q.ListDue(ctx, base.Add(2*time.Hour), 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestMemoryQueueStatusTransitions(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	now := time.Now()
	_, _ = q.ReplacePending(ctx, "s1", []PendingDrip{seedDrip("a", "s1", now), seedDrip("b", "s1", now), seedDrip("c", "s1", now)}, now)

	require.NoError(t, q.MarkSent(ctx, "a", now))
	assert.ErrorIs(t, q.MarkSent(ctx, "a", now), ErrStaleDripClaim)
	assert.ErrorIs(t, q.MarkFailed(ctx, "a", "second worker", now), ErrStaleDripClaim)

	require.NoError(t, q.MarkFailed(ctx, "b", "carrier rejected", now))
	assert.ErrorIs(t, q.MarkFailed(ctx, "b", "again", now), ErrStaleDripClaim)

	_, _ = q.CancelPending(ctx, "s1", now)
	assert.ErrorIs(t, q.MarkSent(ctx, "c", now), ErrStaleDripClaim)
	assert.ErrorIs(t, q.MarkSent(ctx, "missing", now), ErrDripNotFound)

	drips, _ := q.ListBySession(ctx, "s1")
	assert.Equal(t, StatusSent, drips[0].Status)
	assert.Empty(t, drips[0].FailureReason)
	assert.Equal(t, StatusFailed, drips[1].Status)
	assert.Equal(t, "carrier rejected", drips[1].FailureReason)
	assert.Equal(t, StatusCancelled, drips[2].Status)
}

func TestMemoryQueueFailClaimedRequiresClaim(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	now := time.Now()
	_, _ = q.ReplacePending(ctx, "s1", []PendingDrip{seedDrip("a", "s1", now), seedDrip("b", "s1", now)}, now)

	assert.Error(t, q.ClaimSent(ctx, "a", "", now))
	require.NoError(t, q.ClaimSent(ctx, "a", "claim-1", now))
	assert.ErrorIs(t, q.ClaimSent(ctx, "a", "claim-2", now), ErrStaleDripClaim)
	assert.ErrorIs(t, q.FailClaimed(ctx, "a", "claim-2", "not mine", now), ErrStaleDripClaim)
	assert.ErrorIs(t, q.MarkFailed(ctx, "a", "not mine", now), ErrStaleDripClaim)
	require.NoError(t, q.FailClaimed(ctx, "a", "claim-1", "send: timeout", now))
	assert.ErrorIs(t, q.FailClaimed(ctx, "a", "claim-1", "twice", now), ErrStaleDripClaim)

	// drips sent without a claim cannot be rolled back
	require.NoError(t, q.MarkSent(ctx, "b", now))
	assert.ErrorIs(t, q.FailClaimed(ctx, "b", "", "x", now), ErrStaleDripClaim)

	drips, _ := q.ListBySession(ctx, "s1")
	assert.Equal(t, StatusFailed, drips[0].Status)
	assert.Equal(t, "send: timeout", drips[0].FailureReason)
	assert.Equal(t, StatusSent, drips[1].Status)
}

func TestMemoryQueueConcurrentClaims(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	now := time.Now()
	_, _ = q.ReplacePending(ctx, "s1", []PendingDrip{seedDrip("a", "s1", now)}, now)

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := q.MarkSent(ctx, "a", now); err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}
