package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/errintake/internal/datastore/datastoretest"
	"github.com/tphakala/errintake/internal/datastore/entities"
	"github.com/tphakala/errintake/internal/datastore/repository"
	"github.com/tphakala/errintake/internal/errors"
	"github.com/tphakala/errintake/internal/intake"
	"github.com/tphakala/errintake/internal/logger"
	"github.com/tphakala/errintake/internal/observability/metrics"
	"github.com/tphakala/errintake/internal/report"
	"github.com/tphakala/errintake/internal/routing"
)

type sentNotice struct {
	action string
	notice routing.Notice
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotice
}

func (n *recordingNotifier) add(action string, notice routing.Notice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotice{action: action, notice: notice})
	return nil
}

func (n *recordingNotifier) Email(_ context.Context, notice routing.Notice) error {
	return n.add(routing.ActionEmail, notice)
}

func (n *recordingNotifier) Ticket(_ context.Context, notice routing.Notice) error {
	return n.add(routing.ActionTicket, notice)
}

func (n *recordingNotifier) Call(_ context.Context, notice routing.Notice) error {
	return n.add(routing.ActionCall, notice)
}

func (n *recordingNotifier) all() []sentNotice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentNotice(nil), n.sent...)
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type testEnv struct {
	ctrl     *Controller
	store    *repository.Store
	notifier *recordingNotifier
	metrics  *metrics.Metrics
}

func newTestEnv(t *testing.T, pinger Pinger) *testEnv {
	t.Helper()

	mgr := datastoretest.NewManager(t)
	store := mgr.Store()
	log := logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)

	m, err := metrics.New()
	require.NoError(t, err)
	validator, err := intake.NewValidator()
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	dispatcher := routing.NewDispatcher(notifier, log, m, nil)

	if pinger == nil {
		pinger = mgr
	}
	ctrl, err := New(Deps{
		Store:       store,
		Validator:   validator,
		Resolver:    routing.NewResolver(store.Services(), store.Rules(), dispatcher, log, m),
		Upserter:    routing.NewUpserter(store, log, m),
		Report:      report.NewGenerator(store.Errors(), time.Minute, log),
		Metrics:     m,
		Pinger:      pinger,
		Logger:      log,
		MetricsPath: "/metrics",
	})
	require.NoError(t, err)

	return &testEnv{ctrl: ctrl, store: store, notifier: notifier, metrics: m}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader = http.NoBody
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.ctrl.Echo.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (e *testEnv) seedService(t *testing.T, name, group string) *entities.Service {
	t.Helper()
	svc := &entities.Service{Name: name, Group: group}
	require.NoError(t, e.store.Services().Create(t.Context(), svc))
	return svc
}

func (e *testEnv) seedUser(t *testing.T, first, last, email string) *entities.User {
	t.Helper()
	u := &entities.User{FirstName: first, LastName: last, Email: email}
	require.NoError(t, e.store.Users().Create(t.Context(), u))
	return u
}

func (e *testEnv) seedRule(t *testing.T, rule entities.NotificationRule) *entities.NotificationRule {
	t.Helper()
	require.NoError(t, e.store.Rules().Create(t.Context(), &rule))
	return &rule
}

func TestHealth(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]string{"status": "ok"}, decode[map[string]string](t, rec))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestHealth_DatabaseDown(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, pingerFunc(func(context.Context) error {
		return errors.NewStd("connection refused")
	}))

	rec := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCreateError_FiresMatchingRule(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	svc := env.seedService(t, "IMA-01", "plant-a")
	user := env.seedUser(t, "Ada", "Lovelace", "ada@example.com")
	env.seedRule(t, entities.NotificationRule{
		UserID: user.ID, ServiceID: svc.ID, MinSeverity: "WARN", Enabled: true, DoEmail: true,
	})

	rec := env.do(t, http.MethodPost, "/errors", `{"machine":"ima-01","message":"overheat","severity":"CRITICAL"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	got := decode[map[string]any](t, rec)
	assert.Equal(t, "IMA-01", got["machine"])
	assert.Equal(t, "overheat", got["message"])
	assert.Equal(t, "CRITICAL", got["severity"])
	assert.NotZero(t, got["id"])
	assert.NotEmpty(t, got["created_at"])
	assert.NotContains(t, got, "raw_payload")

	sent := env.notifier.all()
	require.Len(t, sent, 1)
	assert.Equal(t, routing.ActionEmail, sent[0].action)
	assert.Equal(t, user.ID, sent[0].notice.UserID)
	assert.Equal(t, "IMA-01", sent[0].notice.ServiceName)
	assert.Equal(t, uint(got["id"].(float64)), sent[0].notice.ErrorID)
}

func TestCreateError_UnknownServiceStillStored(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/errors", `{"machine":"ima-01","message":"overheat","severity":"CRITICAL"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Empty(t, env.notifier.all())

	list := decode[[]map[string]any](t, env.do(t, http.MethodGet, "/errors", ""))
	require.Len(t, list, 1)
	assert.Equal(t, "IMA-01", list[0]["machine"])
}

func TestCreateError_AcceptsAnyRFC3339Timestamp(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	for _, ts := range []string{"2025-01-01t10:00:00z", "2016-12-31T23:59:60Z"} {
		rec := env.do(t, http.MethodPost, "/errors", `{"machine":"m1","message":"x","timestamp":"`+ts+`"}`)
		assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}
}

func TestCreateError_BelowThresholdNotFired(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	svc := env.seedService(t, "IMA-01", "plant-a")
	user := env.seedUser(t, "Ada", "Lovelace", "ada@example.com")
	env.seedRule(t, entities.NotificationRule{
		UserID: user.ID, ServiceID: svc.ID, MinSeverity: "WARN", Enabled: true, DoEmail: true,
	})

	rec := env.do(t, http.MethodPost, "/errors", `{"machine":"IMA-01","message":"fyi","severity":"INFO"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Empty(t, env.notifier.all())

	rec = env.do(t, http.MethodPost, "/errors", `{"machine":"IMA-01","message":"no severity"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "ERROR", decode[map[string]any](t, rec)["severity"])
	assert.Len(t, env.notifier.all(), 1)
}

func TestCreateError_Invalid(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	for _, body := range []string{
		`{"message":"x"}`,
		`{"machine":"m","message":"x","severity":"FATAL"}`,
		`not json`,
	} {
		rec := env.do(t, http.MethodPost, "/errors", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.NotEmpty(t, decode[map[string]string](t, rec)["error"], body)
	}

	list := decode[[]map[string]any](t, env.do(t, http.MethodGet, "/errors", ""))
	assert.Empty(t, list)
}

func TestListErrors_NewestFirstWithLimit(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	for i := range 5 {
		rec := env.do(t, http.MethodPost, "/errors", fmt.Sprintf(`{"machine":"m","message":"msg %d"}`, i))
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	list := decode[[]map[string]any](t, env.do(t, http.MethodGet, "/errors?limit=2", ""))
	require.Len(t, list, 2)
	assert.Equal(t, "msg 4", list[0]["message"])
	assert.Equal(t, "msg 3", list[1]["message"])

	for _, q := range []string{"limit=0", "limit=-3", "limit=abc", ""} {
		list = decode[[]map[string]any](t, env.do(t, http.MethodGet, "/errors?"+q, ""))
		assert.Len(t, list, 5, q)
	}
}

func TestDeleteErrors(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/errors", `{"machine":"m","message":"x"}`).Code)

	rec := env.do(t, http.MethodDelete, "/errors", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Empty(t, decode[[]map[string]any](t, env.do(t, http.MethodGet, "/errors", "")))
}

func TestCreateService_Idempotent(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	first := env.do(t, http.MethodPost, "/services", `{"name":"IMA-01","group":"plant-a"}`)
	require.Equal(t, http.StatusCreated, first.Code)
	second := env.do(t, http.MethodPost, "/services", `{"name":"IMA-01","group":"plant-a"}`)
	require.Equal(t, http.StatusCreated, second.Code)

	a := decode[map[string]any](t, first)
	b := decode[map[string]any](t, second)
	assert.Equal(t, a["id"], b["id"])
	assert.Equal(t, "plant-a", a["group"])

	other := decode[map[string]any](t, env.do(t, http.MethodPost, "/services", `{"name":"IMA-01","group":"plant-b"}`))
	assert.NotEqual(t, a["id"], other["id"])

	list := decode[[]map[string]any](t, env.do(t, http.MethodGet, "/services", ""))
	assert.Len(t, list, 2)

	rec := env.do(t, http.MethodPost, "/services", `{"name":"IMA-01"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateUser_IdempotentOnEmail(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	body := `{"first_name":"Ada","last_name":"Lovelace","role":"eng","email":"Ada@Example.com"}`
	first := env.do(t, http.MethodPost, "/users", body)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	second := env.do(t, http.MethodPost, "/users", body)
	require.Equal(t, http.StatusCreated, second.Code)

	a := decode[map[string]any](t, first)
	b := decode[map[string]any](t, second)
	assert.Equal(t, a["id"], b["id"])
	assert.Equal(t, "ada@example.com", a["email"])
	assert.Len(t, decode[[]map[string]any](t, env.do(t, http.MethodGet, "/users", "")), 1)

	rec := env.do(t, http.MethodPost, "/users", `{"first_name":"Ada","last_name":"Lovelace","email":"not-an-email"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpsertRule_CreateThenUpdateInPlace(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	svc := env.seedService(t, "IMA-01", "plant-a")

	body := fmt.Sprintf(`{"service_id":%d,"user":{"first_name":"Ada","last_name":"Lovelace","email":"ada@example.com"},"min_severity":"warn","do_email":true}`, svc.ID)
	first := env.do(t, http.MethodPost, "/rules", body)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	created := decode[map[string]any](t, first)
	assert.Equal(t, "WARN", created["min_severity"])
	assert.Equal(t, true, created["enabled"])
	assert.Equal(t, true, created["do_email"])

	body = fmt.Sprintf(`{"service_id":%d,"user":{"first_name":"Ada","last_name":"Lovelace","email":"ada@example.com"},"min_severity":"CRITICAL","do_call":true}`, svc.ID)
	second := env.do(t, http.MethodPost, "/rules", body)
	require.Equal(t, http.StatusCreated, second.Code, second.Body.String())
	updated := decode[map[string]any](t, second)
	assert.Equal(t, created["id"], updated["id"])
	assert.Equal(t, "CRITICAL", updated["min_severity"])
	assert.Equal(t, false, updated["do_email"])
	assert.Equal(t, true, updated["do_call"])

	assert.Len(t, decode[[]map[string]any](t, env.do(t, http.MethodGet, "/rules", "")), 1)
	assert.Len(t, decode[[]map[string]any](t, env.do(t, http.MethodGet, "/users", "")), 1)
}

func TestUpsertRule_UnknownServiceCreatesNothing(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/rules",
		`{"service_id":999,"user":{"first_name":"Ada","last_name":"Lovelace","email":"ada@example.com"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[map[string]string](t, rec)["error"], "service_id")

	assert.Empty(t, decode[[]map[string]any](t, env.do(t, http.MethodGet, "/rules", "")))
	assert.Empty(t, decode[[]map[string]any](t, env.do(t, http.MethodGet, "/users", "")))
}

func TestUpsertRule_MissingUser(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	svc := env.seedService(t, "IMA-01", "plant-a")

	rec := env.do(t, http.MethodPost, "/rules", fmt.Sprintf(`{"service_id":%d}`, svc.ID))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteRule(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	svc := env.seedService(t, "IMA-01", "plant-a")
	user := env.seedUser(t, "Ada", "Lovelace", "ada@example.com")
	rule := env.seedRule(t, entities.NotificationRule{UserID: user.ID, ServiceID: svc.ID, MinSeverity: "ERROR", Enabled: true})

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/rules/4242", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodDelete, "/rules/abc", "").Code)

	rec := env.do(t, http.MethodDelete, fmt.Sprintf("/rules/%d", rule.ID), "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, decode[[]map[string]any](t, env.do(t, http.MethodGet, "/rules", "")))

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, fmt.Sprintf("/rules/%d", rule.ID), "").Code)
}

func TestRulesByMachine(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	svc := env.seedService(t, "IMA-01", "plant-a")
	zed := env.seedUser(t, "Zed", "Adams", "zed@example.com")
	amy := env.seedUser(t, "Amy", "Baker", "amy@example.com")
	bob := env.seedUser(t, "Bob", "Adams", "bob@example.com")
	off := env.seedUser(t, "Off", "Aaron", "off@example.com")
	for _, u := range []*entities.User{zed, amy, bob} {
		env.seedRule(t, entities.NotificationRule{UserID: u.ID, ServiceID: svc.ID, MinSeverity: "WARN", Enabled: true, DoEmail: true})
	}
	env.seedRule(t, entities.NotificationRule{UserID: off.ID, ServiceID: svc.ID, MinSeverity: "WARN", Enabled: false})

	rec := env.do(t, http.MethodGet, "/rules/by-machine?machine=ima-01", "")
	require.Equal(t, http.StatusOK, rec.Code)
	contacts := decode[[]MachineContact](t, rec)
	require.Len(t, contacts, 3)
	assert.Equal(t, []string{"bob@example.com", "zed@example.com", "amy@example.com"},
		[]string{contacts[0].Email, contacts[1].Email, contacts[2].Email})
	assert.Equal(t, svc.ID, contacts[0].ServiceID)
	assert.True(t, contacts[0].DoEmail)

	rec = env.do(t, http.MethodGet, "/rules/by-machine?machine=unknown", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/rules/by-machine", "").Code)
}

func TestHealthReport(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/errors", `{"machine":"m","message":"x","severity":"WARN"}`).Code)

	rec := env.do(t, http.MethodGet, "/report/health.pdf", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "health.pdf")
	assert.True(t, strings.HasPrefix(rec.Body.String(), "%PDF-"))
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/errors", `{"machine":"m","message":"x","severity":"WARN"}`).Code)

	rec := env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `errintake_errors_ingested_total{severity="WARN"} 1`)
	assert.Contains(t, rec.Body.String(), "errintake_http_request_duration_seconds")
}

func TestUnknownRoute(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotEmpty(t, decode[map[string]string](t, rec)["error"])
}

func TestStatusFor(t *testing.T) {
	t.Parallel()
	c := &Controller{log: logger.NewNop()}

	build := func(cat errors.Category) error {
		return errors.Newf("boom").Category(cat).Build()
	}
	tests := []struct {
		err  error
		want int
	}{
		{build(errors.CategoryValidation), http.StatusBadRequest},
		{build(errors.CategoryNotFound), http.StatusNotFound},
		{build(errors.CategoryConflict), http.StatusConflict},
		{build(errors.CategoryDatabase), http.StatusInternalServerError},
		{errors.NewStd("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		code, msg := c.statusFor(tt.err)
		assert.Equal(t, tt.want, code, tt.err.Error())
		assert.NotEmpty(t, msg)
	}
}

func TestNew_MissingDependency(t *testing.T) {
	t.Parallel()
	_, err := New(Deps{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}
