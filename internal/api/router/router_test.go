package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/medspa-nurture/internal/autotag"
	"github.com/wolfman30/medspa-nurture/internal/businesshours"
	"github.com/wolfman30/medspa-nurture/internal/drip"
	"github.com/wolfman30/medspa-nurture/internal/engine"
	"github.com/wolfman30/medspa-nurture/internal/flow"
	"github.com/wolfman30/medspa-nurture/internal/flow/flowtest"
	"github.com/wolfman30/medspa-nurture/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/medspa-nurture/internal/http/middleware"
	"github.com/wolfman30/medspa-nurture/internal/inbound"
	"github.com/wolfman30/medspa-nurture/pkg/logging"
)

const (
	testSecret = "test-secret"
	testOrg    = "org-1"
)

var testNow = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

func newTestRouter(t *testing.T) http.Handler {
	h, _ := newTestRouterWithEvents(t)
	return h
}

func newTestRouterWithEvents(t *testing.T) (http.Handler, *inbound.MemoryQueue) {
	t.Helper()
	ctx := context.Background()
	logger := logging.Discard()

	cal, err := businesshours.Weekly("UTC", "09:00", "17:00", "mon", "tue", "wed", "thu", "fri")
	require.NoError(t, err)
	mr := miniredis.RunT(t)
	calendars := businesshours.NewStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), cal)

	flows := flow.NewInMemoryRepository()
	_, err = flows.Save(ctx, flowtest.Consultation(testOrg))
	require.NoError(t, err)

	clock := func() time.Time { return testNow }
	queue := drip.NewMemoryQueue()
	scheduler := drip.NewScheduler(queue, calendars, logger).WithClock(clock)
	var ids int64
	eng := engine.New(engine.NewMemoryStore(queue), flows, scheduler, logger,
		engine.WithClock(clock),
		engine.WithIDGenerator(func() string { return fmt.Sprintf("sess-%d", atomic.AddInt64(&ids, 1)) }),
	)

	rules := autotag.NewMemoryRuleStore()
	tagger := autotag.NewService(rules, autotag.NewMemoryTagStore(), logger)

	hours := handlers.NewBusinessHoursHandler(calendars, logger)
	events := inbound.NewMemoryQueue(10)
	return New(&Config{
		Logger:          logger,
		Sessions:        handlers.NewSessionsHandler(eng, logger),
		AutoTag:         handlers.NewAutoTagHandler(rules, tagger, logger),
		Flows:           handlers.NewFlowsHandler(flows, logger),
		BusinessHours:   hours,
		Events:          handlers.NewEventsHandler(inbound.NewPublisher(events), logger),
		AdminAuthSecret: testSecret,
	}), events
}

func token(t *testing.T, orgID string) string {
	t.Helper()
	claims := httpmiddleware.Claims{
		OrgID:            orgID,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "ops", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, "/api/v1/orgs/"+testOrg+path, &buf)
	req.Header.Set("Authorization", "Bearer "+token(t, ""))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}

type sessionBody struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	CurrentStepID string `json:"current_step_id"`
}

func startSession(t *testing.T, h http.Handler, contact string) sessionBody {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/sessions", map[string]string{"contact_id": contact, "flow_id": "consultation"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var out struct {
		Session sessionBody `json:"session"`
	}
	decode(t, rec, &out)
	return out.Session
}

func TestHealth(t *testing.T) {
	h := New(&Config{Logger: logging.Discard()})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	h = New(&Config{Logger: logging.Discard(), Ready: func(*http.Request) error { return errors.New("db down") }})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAPIRequiresToken(t *testing.T) {
	h := newTestRouter(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/orgs/org-1/flows", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orgs/org-1/flows", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, "org-2"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSessionLifecycle(t *testing.T) {
	h := newTestRouter(t)
	s := startSession(t, h, "c1")
	assert.Equal(t, "greet", s.CurrentStepID)

	rec := do(t, h, http.MethodPost, "/sessions", map[string]string{"contact_id": "c1", "flow_id": "consultation"})
	require.Equal(t, http.StatusOK, rec.Code)
	var again struct {
		Session sessionBody `json:"session"`
		Created bool        `json:"created"`
	}
	decode(t, rec, &again)
	assert.False(t, again.Created)
	assert.Equal(t, s.ID, again.Session.ID)

	rec = do(t, h, http.MethodPost, "/sessions/"+s.ID+"/reply", map[string]any{"label": "interested", "answers": map[string]string{"first_name": "Ana"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res struct {
		Session   sessionBody `json:"session"`
		Cancelled int         `json:"cancelled"`
	}
	decode(t, rec, &res)
	assert.Equal(t, "qualify", res.Session.CurrentStepID)
	assert.Equal(t, 2, res.Cancelled)

	rec = do(t, h, http.MethodPost, "/sessions/"+s.ID+"/reply", map[string]any{"label": "maybe"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, h, http.MethodGet, "/sessions/"+s.ID+"/drips", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var drips struct {
		Drips []drip.PendingDrip `json:"drips"`
	}
	decode(t, rec, &drips)
	assert.Len(t, drips.Drips, 3)

	rec = do(t, h, http.MethodGet, "/contacts/c1/session", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSessionTransitions(t *testing.T) {
	h := newTestRouter(t)
	s := startSession(t, h, "c1")

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/sessions/"+s.ID+"/abandon", nil).Code)
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/sessions/"+s.ID+"/abandon", nil).Code)

	rec := do(t, h, http.MethodPost, "/sessions/"+s.ID+"/recover", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got sessionBody
	decode(t, rec, &got)
	assert.Equal(t, "recovered", got.Status)

	rec = do(t, h, http.MethodPost, "/sessions/"+s.ID+"/appointment", map[string]any{"when": testNow.Add(72 * time.Hour)})
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &got)
	assert.Equal(t, "recovered", got.Status)

	rec = do(t, h, http.MethodPost, "/sessions/"+s.ID+"/answers", map[string]any{"answers": map[string]string{"service": "botox"}})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSessionErrors(t *testing.T) {
	h := newTestRouter(t)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/sessions/nope", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/sessions", map[string]string{"flow_id": "consultation"}).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/sessions", map[string]string{"contact_id": "c1", "flow_id": "ghost"}).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/sessions", map[string]any{"contact_id": "c1", "flow_id": "consultation", "extra": 1}).Code)
}

func TestAutoTagEndpoints(t *testing.T) {
	h := newTestRouter(t)
	rule := map[string]any{
		"name": "pricing", "enabled": true, "priority": 1,
		"trigger_type": "keyword_match", "trigger_config": map[string]any{"keywords": []string{"price"}},
		"action_type": "add_tag", "target_tag": "PriceShopper", "condition_mode": "none", "condition_tags": []string{"PriceShopper"},
	}
	rec := do(t, h, http.MethodPost, "/autotag/rules", rule)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	bad := map[string]any{"trigger_type": "no_response_for_days", "trigger_config": map[string]any{}, "action_type": "add_tag", "target_tag": "X"}
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/autotag/rules", bad).Code)

	rec = do(t, h, http.MethodPost, "/autotag/evaluate", map[string]any{"type": "keyword_match", "contact_id": "c1", "text": "what's the PRICE?"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		Mutations []autotag.TagMutation `json:"mutations"`
	}
	decode(t, rec, &out)
	require.Len(t, out.Mutations, 1)
	assert.Equal(t, "PriceShopper", out.Mutations[0].Tag)

	rec = do(t, h, http.MethodPost, "/autotag/evaluate", map[string]any{"type": "keyword_match", "contact_id": "c1", "text": "price again"})
	decode(t, rec, &out)
	assert.Empty(t, out.Mutations)

	rec = do(t, h, http.MethodPost, "/autotag/preview", map[string]any{
		"event":   map[string]any{"type": "keyword_match", "contact_id": "c2", "text": "price"},
		"contact": map[string]any{"contact_id": "c2", "tags": []string{}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &out)
	assert.Len(t, out.Mutations, 1)
}

func TestFlowEndpoints(t *testing.T) {
	h := newTestRouter(t)
	rec := do(t, h, http.MethodGet, "/flows/consultation", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/flows/consultation?version=abc", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/flows/ghost", nil).Code)

	def := flowtest.Consultation(testOrg)
	def.Steps[0].DripSequence[0].Message = "Hi {{.first_name"
	assert.Equal(t, http.StatusUnprocessableEntity, do(t, h, http.MethodPut, "/flows/consultation", def).Code)

	def = flowtest.Consultation(testOrg)
	def.Name = "Renamed"
	rec = do(t, h, http.MethodPut, "/flows/consultation", def)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var saved flow.Definition
	decode(t, rec, &saved)
	assert.Equal(t, 2, saved.Version)
}

func TestBusinessHoursEndpoints(t *testing.T) {
	h := newTestRouter(t)
	rec := do(t, h, http.MethodGet, "/business-hours", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	cal, err := businesshours.Weekly("America/New_York", "10:00", "16:00", "sat")
	require.NoError(t, err)
	rec = do(t, h, http.MethodPut, "/business-hours", cal)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/business-hours", nil)
	var out struct {
		Hours businesshours.WeeklyHours `json:"hours"`
	}
	decode(t, rec, &out)
	assert.Equal(t, "America/New_York", out.Hours.Timezone)
	assert.True(t, out.Hours.Saturday.Enabled)

	cal.Timezone = "Mars/Olympus"
	assert.Equal(t, http.StatusUnprocessableEntity, do(t, h, http.MethodPut, "/business-hours", cal).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, do(t, h, http.MethodPut, "/business-hours", businesshours.WeeklyHours{}).Code)
}

func TestEventsEndpointQueues(t *testing.T) {
	h, queue := newTestRouterWithEvents(t)
	rec := do(t, h, http.MethodPost, "/events", map[string]any{"kind": "reply", "contact_id": "c1", "label": "Interested"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	msgs, err := queue.Receive(context.Background(), 10, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	var ev inbound.Event
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Body), &ev))
	assert.Equal(t, testOrg, ev.OrgID)
	assert.NotEmpty(t, ev.ID)

	rec = do(t, h, http.MethodPost, "/events", map[string]any{"kind": "birthday", "contact_id": "c1"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
