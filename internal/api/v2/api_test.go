package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auralink/proactive/internal/conf"
	"github.com/auralink/proactive/internal/datastore/entities"
	"github.com/auralink/proactive/internal/datastore/repository"
	"github.com/auralink/proactive/internal/evaluator"
	"github.com/auralink/proactive/internal/jobs"
	"github.com/auralink/proactive/internal/logger"
	"github.com/auralink/proactive/internal/notification"
	"github.com/auralink/proactive/internal/observability/metrics"
	"github.com/auralink/proactive/internal/testutil"
)

type stubRunner struct {
	res *evaluator.Result
	err error
}

func (s stubRunner) Execute(context.Context) (*evaluator.Result, error) { return s.res, s.err }

type stubConversations struct {
	res *repository.MarkReadResult
	err error
}

func (s stubConversations) MarkRead(context.Context, uint) (*repository.MarkReadResult, error) {
	return s.res, s.err
}

type apiFixture struct {
	e        *echo.Echo
	svc      *notification.Service
	notes    repository.NotificationRepository
	execLogs repository.ExecutionLogRepository
	tracker  *jobs.Tracker
}

func newAPIFixture(t *testing.T, settings *conf.Settings, runner JobRunner, convs ConversationReader) *apiFixture {
	t.Helper()
	db := testutil.NewTestDB(t)
	f := &apiFixture{
		e:        echo.New(),
		notes:    repository.NewNotificationRepository(db),
		execLogs: repository.NewExecutionLogRepository(db),
		tracker:  jobs.NewTracker(repository.NewJobRepository(db), logger.Discard()),
	}
	router := notification.NewRouter()
	router.Register(entities.ChannelInApp, notification.DelivererFunc(
		func(context.Context, *entities.QueuedNotification) notification.DeliveryResult {
			return notification.DeliveryResult{Success: true}
		}))
	prefs := repository.NewPreferenceRepository(db)
	f.svc = notification.NewService(&notification.ServiceConfig{
		Notifications: f.notes,
		DeliveryLogs:  repository.NewDeliveryLogRepository(db),
		Preferences:   prefs,
		Router:        router,
	})

	New(f.e, settings, Deps{
		Worker:        runner,
		Jobs:          f.tracker,
		Notifications: f.svc,
		Queue:         f.notes,
		DeliveryLogs:  repository.NewDeliveryLogRepository(db),
		Preferences:   prefs,
		ExecutionLogs: f.execLogs,
		Conversations: convs,
		Metrics:       metrics.New(),
	}, logger.Discard())
	return f
}

func (f *apiFixture) do(t *testing.T, method, path, body string, headers ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, http.NoBody)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec, out
}

func (f *apiFixture) queue(t *testing.T) *entities.QueuedNotification {
	t.Helper()
	n, err := f.svc.Queue(t.Context(), notification.Payload{
		EntityID: 1,
		UserID:   "u1",
		Message:  "hello",
		Channels: []entities.Channel{entities.ChannelInApp},
	})
	require.NoError(t, err)
	return n
}

func TestTriggerRuleEvaluation(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		f := newAPIFixture(t, &conf.Settings{}, stubRunner{res: &evaluator.Result{Processed: 3, Succeeded: 3}}, nil)
		rec, body := f.do(t, http.MethodPost, "/api/v2/jobs/rule-evaluation", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, body["success"])
		result := body["result"].(map[string]any)
		assert.InDelta(t, 3, result["processed"], 0)
	})

	t.Run("already running", func(t *testing.T) {
		t.Parallel()
		f := newAPIFixture(t, &conf.Settings{}, stubRunner{err: evaluator.ErrRunInProgress}, nil)
		rec, _ := f.do(t, http.MethodPost, "/api/v2/jobs/rule-evaluation", "")
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("job error", func(t *testing.T) {
		t.Parallel()
		f := newAPIFixture(t, &conf.Settings{}, stubRunner{
			res: &evaluator.Result{JobID: "j1"},
			err: assert.AnError,
		}, nil)
		rec, body := f.do(t, http.MethodPost, "/api/v2/jobs/rule-evaluation", "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, false, body["success"])
		assert.NotNil(t, body["result"])
	})
}

func TestAuthMiddleware(t *testing.T) {
	t.Parallel()
	settings := &conf.Settings{API: conf.APISettings{Token: "s3cret"}}
	f := newAPIFixture(t, settings, stubRunner{res: &evaluator.Result{}}, nil)

	rec, _ := f.do(t, http.MethodPost, "/api/v2/jobs/rule-evaluation", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/api/v2/jobs/rule-evaluation", "", echo.HeaderAuthorization, "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/api/v2/jobs/rule-evaluation", "", echo.HeaderAuthorization, "Bearer s3cret")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/api/v2/notifications?token=s3cret", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/api/v2/health", "")
	assert.Equal(t, http.StatusOK, rec.Code, "health is public")
}

func TestNotificationEndpoints(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, &conf.Settings{}, nil, nil)
	queued := f.queue(t)
	other := f.queue(t)

	rec, body := f.do(t, http.MethodGet, "/api/v2/notifications?user_id=u1&status=QUEUED", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 2, body["total"], 0)

	rec, _ = f.do(t, http.MethodGet, "/api/v2/notifications/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = f.do(t, http.MethodPut, "/api/v2/notifications/"+queued.ID+"/read", "")
	assert.Equal(t, http.StatusConflict, rec.Code, "QUEUED cannot be read")

	rec, body = f.do(t, http.MethodPost, "/api/v2/notifications/"+queued.ID+"/process", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(entities.StatusDelivered), body["status"])

	rec, _ = f.do(t, http.MethodPut, "/api/v2/notifications/"+queued.ID+"/read", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, body = f.do(t, http.MethodGet, "/api/v2/notifications/"+queued.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(entities.StatusRead), body["notification"].(map[string]any)["status"])
	assert.Len(t, body["deliveries"], 1)

	rec, body = f.do(t, http.MethodPost, "/api/v2/notifications/process-queue", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 1, body["delivered"], 0)

	rec, body = f.do(t, http.MethodPost, "/api/v2/notifications/read", `{"ids":["`+other.ID+`","`+queued.ID+`"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 1, body["marked"], 0)

	rec, _ = f.do(t, http.MethodPost, "/api/v2/notifications/read", `{"ids":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/api/v2/notifications/expire?older_than=nonsense", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = f.do(t, http.MethodPost, "/api/v2/notifications/expire?older_than=1h", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 0, body["expired"], 0)
}

func TestPreferenceEndpoints(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, &conf.Settings{}, nil, nil)

	rec, body := f.do(t, http.MethodGet, "/api/v2/preferences?user_id=u1&channel=SMS", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["enabled"], "default preference")
	assert.Equal(t, "UTC", body["timezone"])

	rec, _ = f.do(t, http.MethodPut, "/api/v2/preferences", `{"user_id":"u1","channel":"SMS","timezone":"Nowhere/City"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, first := f.do(t, http.MethodPut, "/api/v2/preferences",
		`{"user_id":"u1","channel":"SMS","enabled":true,"quiet_hours_enabled":true,"quiet_hours_start":"22:00","quiet_hours_end":"06:00","timezone":"UTC"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, second := f.do(t, http.MethodPut, "/api/v2/preferences", `{"user_id":"u1","channel":"SMS","enabled":false,"timezone":"UTC"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, first["id"], second["id"], "same key updates the existing row")

	rec, body = f.do(t, http.MethodGet, "/api/v2/preferences?user_id=u1&channel=SMS&entity_id=9", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["enabled"], "entity falls back to the global row")

	rec, _ = f.do(t, http.MethodGet, "/api/v2/preferences?user_id=u1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExecutionLogEndpoint(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, &conf.Settings{}, nil, nil)
	require.NoError(t, f.execLogs.Append(t.Context(), []*entities.RuleExecutionLog{
		{RuleID: 1, EntityID: 5, Triggered: true, CreatedAt: time.Now().Add(-time.Minute)},
		{RuleID: 2, EntityID: 5, Triggered: false},
		{RuleID: 3, EntityID: 6, Triggered: true},
	}))

	rec, body := f.do(t, http.MethodGet, "/api/v2/execution-logs?entity_id=5&triggered=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 1, body["total"], 0)

	rec, _ = f.do(t, http.MethodGet, "/api/v2/execution-logs?triggered=maybe", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConversationRead(t *testing.T) {
	t.Parallel()
	convs := stubConversations{res: &repository.MarkReadResult{EntityID: 1, PreviousUnread: 2}}
	f := newAPIFixture(t, &conf.Settings{}, nil, convs)

	n := f.queue(t)
	_, err := f.svc.ProcessNotification(t.Context(), n.ID)
	require.NoError(t, err)
	convs.res.NotificationIDs = []string{n.ID}

	rec, body := f.do(t, http.MethodPut, "/api/v2/conversations/4/read", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 2, body["cleared"], 0)
	assert.InDelta(t, 1, body["notifications_marked"], 0)

	rec, _ = f.do(t, http.MethodPut, "/api/v2/conversations/abc/read", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	missing := newAPIFixture(t, &conf.Settings{}, nil, stubConversations{err: repository.ErrConversationNotFound})
	rec, _ = missing.do(t, http.MethodPut, "/api/v2/conversations/4/read", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimiter(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, &conf.Settings{API: conf.APISettings{RateLimit: 0.5}}, nil, nil)

	codes := make([]int, 0, 3)
	for range 3 {
		rec, _ := f.do(t, http.MethodGet, "/api/v2/health", "")
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, http.StatusOK, codes[0])
	assert.Equal(t, http.StatusTooManyRequests, codes[2])
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, &conf.Settings{}, nil, nil)
	f.queue(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody)
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRuleSchemaEndpoint(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, &conf.Settings{}, nil, nil)

	rec, body := f.do(t, http.MethodGet, "/api/v2/rules/schema", "")
	require.Equal(t, http.StatusOK, rec.Code)

	schema, ok := body["schema"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, schema["triggers"], 4)
	assert.Len(t, schema["operators"], 8)

	tiersList, ok := body["tiers"].([]any)
	require.True(t, ok)
	require.Len(t, tiersList, 4)
	first, ok := tiersList[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "FREE", first["tier"])
	assert.InDelta(t, 10, first["max_notifications_per_day"], 0)
}
