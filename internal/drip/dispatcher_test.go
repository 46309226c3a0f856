package drip

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/medspa-nurture/internal/businesshours"
	"github.com/wolfman30/medspa-nurture/internal/flow"
	"github.com/wolfman30/medspa-nurture/internal/messaging/templates"
	"github.com/wolfman30/medspa-nurture/pkg/logging"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (f *fakeSender) SendDrip(_ context.Context, msg Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, msg)
	return fmt.Sprintf("SM%d", len(f.sent)), nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type staticData map[string]any

func (s staticData) DripData(context.Context, PendingDrip) (map[string]any, error) {
	return s, nil
}

func newTestScheduler(t *testing.T, now *time.Time) (*Scheduler, *MemoryQueue) {
	t.Helper()
	q := NewMemoryQueue()
	seq := 0
	s := NewScheduler(q, businesshours.StaticSource(weekdayHours(t)), logging.Discard()).
		WithClock(func() time.Time { return *now }).
		WithIDGenerator(func() string { seq++; return fmt.Sprintf("drip-%d", seq) })
	return s, q
}

func TestSchedulerReplyCancelsPendingAndReschedules(t *testing.T) {
	ctx := context.Background()
	now := mustTime(t, "2024-01-01T10:00")
	s, _ := newTestScheduler(t, &now)
	target := Target{OrgID: "org-1", SessionID: "s1", ContactID: "c-1", StepID: "greet"}

	first, err := s.ScheduleSequence(ctx, target, pingSequence, now)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "drip-1", first[0].ID)

	// contact replies an hour later and moves to a step with one drip
	now = now.Add(time.Hour)
	target.StepID = "qualify"
	second, err := s.ScheduleSequence(ctx, target, []flow.DripMessage{{Message: "still there?", DelayHours: 4}}, now)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, mustTime(t, "2024-01-01T15:00"), second[0].ScheduledFor)

	all, err := s.Queue().ListBySession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, StatusCancelled, all[0].Status)
	assert.Equal(t, StatusCancelled, all[1].Status)
	assert.Equal(t, StatusScheduled, all[2].Status)

	due, err := s.DueDrips(ctx, mustTime(t, "2024-01-02T23:00"), 0)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "qualify", due[0].StepID)
}

func TestSchedulerCancelPending(t *testing.T) {
	ctx := context.Background()
	now := mustTime(t, "2024-01-01T10:00")
	s, _ := newTestScheduler(t, &now)
	_, err := s.ScheduleSequence(ctx, Target{OrgID: "org-1", SessionID: "s1"}, pingSequence, now)
	require.NoError(t, err)

	n, err := s.CancelPending(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	due, err := s.DueDrips(ctx, now.Add(72*time.Hour), 0)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestDispatcherSendsDueDripsOnce(t *testing.T) {
	ctx := context.Background()
	now := mustTime(t, "2024-01-01T10:00")
	s, q := newTestScheduler(t, &now)
	_, err := s.ScheduleSequence(ctx, Target{OrgID: "org-1", SessionID: "s1", StepID: "greet"}, pingSequence, now)
	require.NoError(t, err)

	sender := &fakeSender{}
	now = mustTime(t, "2024-01-01T12:30")
	d := NewDispatcher(s, sender, logging.Discard(), WithDispatchClock(func() time.Time { return now }))

	sent, err := d.DispatchDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	require.Equal(t, 1, sender.count())
	assert.Equal(t, "ping", sender.sent[0].Body)

	sent, err = d.DispatchDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, sent)

	drips, _ := q.ListBySession(ctx, "s1")
	assert.Equal(t, StatusSent, drips[0].Status)
	assert.Equal(t, "SM1", drips[0].DeliveryID)
	assert.Equal(t, StatusScheduled, drips[1].Status)
}

func TestDispatcherMarksFailedOnTransportError(t *testing.T) {
	ctx := context.Background()
	now := mustTime(t, "2024-01-01T10:00")
	s, q := newTestScheduler(t, &now)
	_, err := s.ScheduleSequence(ctx, Target{OrgID: "org-1", SessionID: "s1"}, pingSequence[:1], now)
	require.NoError(t, err)

	now = mustTime(t, "2024-01-01T13:00")
	d := NewDispatcher(s, &fakeSender{err: errors.New("carrier down")}, logging.Discard(),
		WithDispatchClock(func() time.Time { return now }))
	sent, err := d.DispatchDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, sent)

	drips, _ := q.ListBySession(ctx, "s1")
	assert.Equal(t, StatusFailed, drips[0].Status)
	assert.Contains(t, drips[0].FailureReason, "carrier down")
}

func TestSentDripCannotBeFailedByAnotherCaller(t *testing.T) {
	ctx := context.Background()
	now := mustTime(t, "2024-01-01T10:00")
	s, q := newTestScheduler(t, &now)
	_, err := s.ScheduleSequence(ctx, Target{OrgID: "org-1", SessionID: "s1"}, pingSequence[:1], now)
	require.NoError(t, err)

	now = mustTime(t, "2024-01-01T13:00")
	d := NewDispatcher(s, &fakeSender{}, logging.Discard(), WithDispatchClock(func() time.Time { return now }))
	sent, err := d.DispatchDue(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, sent)

	assert.ErrorIs(t, s.MarkFailed(ctx, "drip-1", "late worker"), ErrStaleDripClaim)
	assert.ErrorIs(t, s.FailClaimed(ctx, "drip-1", "guess", "late worker"), ErrStaleDripClaim)
	drips, _ := q.ListBySession(ctx, "s1")
	assert.Equal(t, StatusSent, drips[0].Status)
}

func TestDispatcherRendersTemplates(t *testing.T) {
	ctx := context.Background()
	now := mustTime(t, "2024-01-01T10:00")
	s, q := newTestScheduler(t, &now)
	seq := []flow.DripMessage{
		{Message: "Hi {{.first_name}}, still thinking about {{.service}}?", DelayHours: 1},
		{Message: "Hi {{.nickname}}", DelayHours: 1},
	}
	_, err := s.ScheduleSequence(ctx, Target{OrgID: "org-1", SessionID: "s1", StepID: "greet"}, seq, now)
	require.NoError(t, err)

	now = mustTime(t, "2024-01-01T16:00")
	sender := &fakeSender{}
	d := NewDispatcher(s, sender, logging.Discard(),
		WithDispatchClock(func() time.Time { return now }),
		WithTemplates(templates.Renderer{}, staticData{"first_name": "Ana", "service": "Botox"}))
	sent, err := d.DispatchDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, "Hi Ana, still thinking about Botox?", sender.sent[0].Body)

	drips, _ := q.ListBySession(ctx, "s1")
	assert.Equal(t, StatusFailed, drips[1].Status)
	assert.Contains(t, drips[1].FailureReason, "render")
}

func TestDispatcherConcurrentPassesNeverDoubleSend(t *testing.T) {
	ctx := context.Background()
	now := mustTime(t, "2024-01-01T10:00")
	s, _ := newTestScheduler(t, &now)
	for i := 0; i < 10; i++ {
		_, err := s.ScheduleSequence(ctx, Target{OrgID: "org-1", SessionID: fmt.Sprintf("s%d", i)}, pingSequence[:1], now)
		require.NoError(t, err)
	}

	now = mustTime(t, "2024-01-01T14:00")
	sender := &fakeSender{}
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d := NewDispatcher(s, sender, logging.Discard(), WithDispatchClock(func() time.Time { return now }))
			_, _ = d.DispatchDue(ctx)
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, sender.count())
}

func TestDispatcherStartStopsOnCancel(t *testing.T) {
	now := mustTime(t, "2024-01-01T10:00")
	s, _ := newTestScheduler(t, &now)
	d := NewDispatcher(s, &fakeSender{}, logging.Discard(), WithWorkers(2), WithInterval(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)
	cancel()
	d.Wait()
}
