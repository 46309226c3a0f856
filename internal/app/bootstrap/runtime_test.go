package bootstrap

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/wolfman30/medspa-nurture/internal/config"
	"github.com/wolfman30/medspa-nurture/internal/drip"
	"github.com/wolfman30/medspa-nurture/internal/engine"
	"github.com/wolfman30/medspa-nurture/internal/flow/flowtest"
	"github.com/wolfman30/medspa-nurture/internal/inbound"
	"github.com/wolfman30/medspa-nurture/internal/messaging"
	"github.com/wolfman30/medspa-nurture/internal/notify"
	"github.com/wolfman30/medspa-nurture/pkg/logging"
)

func memoryConfig() *appconfig.Config {
	return &appconfig.Config{
		UseMemoryStore:       true,
		DefaultTimezone:      "UTC",
		DefaultBusinessOpen:  "09:00",
		DefaultBusinessClose: "17:00",
		DefaultBusinessDays:  "mon,tue,wed,thu,fri",
		DripAnchorMode:       "chain",
		SessionLockTTL:       time.Second,
		FlowCacheTTL:         time.Minute,
		DripWorkerCount:      1,
		DripSweepInterval:    time.Second,
		DripBatchSize:        10,
	}
}

func TestBuildRuntimeRequiresConfig(t *testing.T) {
	if _, err := BuildRuntime(context.Background(), nil, nil, logging.Discard()); err == nil {
		t.Fatalf("expected error for nil config")
	}
}

func TestBuildRuntimeRejectsUnknownAnchorMode(t *testing.T) {
	cfg := memoryConfig()
	cfg.DripAnchorMode = "sideways"
	_, err := BuildRuntime(context.Background(), cfg, nil, logging.Discard())
	assert.Error(t, err)
}

func TestBuildRuntimeMemory(t *testing.T) {
	ctx := context.Background()
	rt, err := BuildRuntime(ctx, memoryConfig(), prometheus.NewRegistry(), logging.Discard())
	require.NoError(t, err)
	defer rt.Close()

	assert.Nil(t, rt.Pool)
	assert.Nil(t, rt.Calendars)
	assert.NotNil(t, rt.Metrics)
	require.NoError(t, rt.Ready(httptest.NewRequest("GET", "/health", nil)))

	_, err = rt.Flows.Save(ctx, flowtest.Consultation("org-1"))
	require.NoError(t, err)
	s, created, err := rt.Engine.StartSession(ctx, engine.StartRequest{OrgID: "org-1", ContactID: "+15550001111", FlowID: "consultation"})
	require.NoError(t, err)
	assert.True(t, created)

	drips, err := rt.Engine.ListDrips(ctx, "org-1", s.ID)
	require.NoError(t, err)
	assert.Len(t, drips, 2)
}

func TestBuildRuntimeAppliesAnchorMode(t *testing.T) {
	ctx := context.Background()
	seq := flowtest.Consultation("org-1").Steps[0].DripSequence
	anchor := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	target := drip.Target{OrgID: "org-1", SessionID: "s1", StepID: "greet"}

	cases := map[string]time.Time{
		"chain":       time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC),
		"step_anchor": time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC),
	}
	for mode, second := range cases {
		cfg := memoryConfig()
		cfg.DripAnchorMode = mode
		rt, err := BuildRuntime(ctx, cfg, nil, logging.Discard())
		require.NoError(t, err)

		planned, err := rt.Scheduler.Plan(ctx, target, seq, anchor)
		require.NoError(t, err)
		require.Len(t, planned, 2)
		assert.Equal(t, time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), planned[0].ScheduledFor, mode)
		assert.Equal(t, second, planned[1].ScheduledFor, mode)
		rt.Close()
	}
}

func TestBuildRuntimeUsesRedisCalendars(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := memoryConfig()
	cfg.RedisAddr = mr.Addr()

	rt, err := BuildRuntime(context.Background(), cfg, nil, logging.Discard())
	require.NoError(t, err)
	defer rt.Close()

	require.NotNil(t, rt.Calendars)
	cal, err := rt.Calendars.Get(context.Background(), "org-unknown")
	require.NoError(t, err)
	assert.Equal(t, "UTC", cal.Timezone)
	assert.NoError(t, rt.Ready(httptest.NewRequest("GET", "/health", nil)))
}

func TestBuildRedisClientDisabled(t *testing.T) {
	if client := BuildRedisClient(context.Background(), &appconfig.Config{}, logging.Discard(), false); client != nil {
		t.Fatalf("expected nil client without address")
	}
}

func TestBuildPostgresPoolSkippedForMemoryStore(t *testing.T) {
	pool, err := BuildPostgresPool(context.Background(), &appconfig.Config{UseMemoryStore: true, DatabaseURL: "postgres://x"}, logging.Discard())
	require.NoError(t, err)
	assert.Nil(t, pool)
}

func TestDefaultCalendarRejectsBadTimezone(t *testing.T) {
	cfg := memoryConfig()
	cfg.DefaultTimezone = "Nowhere/Land"
	_, err := DefaultCalendar(cfg)
	assert.Error(t, err)
}

func TestBuildNotifier(t *testing.T) {
	ctx := context.Background()
	if n := BuildNotifier(ctx, &appconfig.Config{}, logging.Discard()); n != nil {
		t.Fatalf("expected nil notifier without owner email")
	}
	if n := BuildNotifier(ctx, &appconfig.Config{OwnerNotifyEmail: "owner@example.com"}, logging.Discard()); n == nil {
		t.Fatalf("expected notifier with owner email")
	}
}

func TestBuildEmailSenderPreference(t *testing.T) {
	ctx := context.Background()
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")

	sender := buildEmailSender(ctx, &appconfig.Config{SendGridAPIKey: "SG.key", SESFromEmail: "a@example.com"}, logging.Discard())
	assert.IsType(t, &notify.SendGridSender{}, sender)

	sender = buildEmailSender(ctx, &appconfig.Config{AWSRegion: "us-east-1", SESFromEmail: "a@example.com"}, logging.Discard())
	assert.IsType(t, &notify.SESSender{}, sender)

	sender = buildEmailSender(ctx, &appconfig.Config{}, logging.Discard())
	assert.IsType(t, &notify.StubEmailSender{}, sender)
}

func TestBuildDripSenderFallsBackToLog(t *testing.T) {
	rt, err := BuildRuntime(context.Background(), memoryConfig(), nil, logging.Discard())
	require.NoError(t, err)
	defer rt.Close()

	sender, provider, reason := BuildDripSender(memoryConfig(), rt, logging.Discard())
	require.NotNil(t, sender)
	assert.Equal(t, messaging.ProviderLog, provider)
	assert.NotEmpty(t, reason)

	d := BuildDispatcher(memoryConfig(), rt, sender, logging.Discard())
	n, err := d.DispatchDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestBuildEventWorkerProcessesReply(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig()
	cfg.EventWorkerCount = 1
	rt, err := BuildRuntime(ctx, cfg, nil, logging.Discard())
	require.NoError(t, err)
	defer rt.Close()
	_, err = rt.Flows.Save(ctx, flowtest.Consultation("org-1"))
	require.NoError(t, err)

	w := BuildEventWorker(cfg, rt, inbound.NewMemoryQueue(1), logging.Discard())
	require.NoError(t, w.Process(ctx, inbound.Event{ID: "e1", Kind: inbound.KindLeadCreated, OrgID: "org-1", ContactID: "c1", FlowID: "consultation"}))
	require.NoError(t, w.Process(ctx, inbound.Event{ID: "e2", Kind: inbound.KindReply, OrgID: "org-1", ContactID: "c1", Label: "Interested"}))

	s, err := rt.Engine.FindOpenSession(ctx, "org-1", "c1")
	require.NoError(t, err)
	assert.Equal(t, "qualify", s.CurrentStepID)
}
