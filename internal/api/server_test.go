package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oriys/cloudcode/internal/api/dataplane"
	"github.com/oriys/cloudcode/internal/circuitbreaker"
	"github.com/oriys/cloudcode/internal/domain"
	"github.com/oriys/cloudcode/internal/gateway"
	"github.com/oriys/cloudcode/internal/hooks"
	"github.com/oriys/cloudcode/internal/jobs"
	"github.com/oriys/cloudcode/internal/jobtracker"
	"github.com/oriys/cloudcode/internal/metrics"
	"github.com/oriys/cloudcode/internal/parse"
	"github.com/oriys/cloudcode/internal/ratelimit"
	"github.com/oriys/cloudcode/internal/upstream/upstreamtest"
)

type memUsers struct{ n int }

func (m memUsers) Users(context.Context, domain.Privilege) iter.Seq2[domain.UserRecord, error] {
	return func(yield func(domain.UserRecord, error) bool) {
		for i := 0; i < m.n; i++ {
			if !yield(domain.UserRecord{ObjectID: fmt.Sprintf("u%d", i)}, nil) {
				return
			}
		}
	}
}

func (memUsers) SaveUser(context.Context, domain.UserRecord, domain.Privilege) error { return nil }

type testServer struct {
	handler http.Handler
	rec     *upstreamtest.Recorder
	jobs    *jobs.Manager
}

func newTestServer(t *testing.T, webhookKey string, checks map[string]dataplane.HealthCheck) *testServer {
	t.Helper()
	return newTestServerWith(t, func(c *ServerConfig) {
		c.WebhookKey = webhookKey
		c.Checks = checks
	})
}

func newTestServerWith(t *testing.T, configure func(*ServerConfig)) *testServer {
	t.Helper()

	rec := upstreamtest.New(http.StatusOK, "OK")
	m := metrics.New()
	gwCfg := gateway.Config{
		ServerURL:   "https://parse.example.com/parse",
		Credentials: parse.Credentials{ApplicationID: "app", MasterKey: "master"},
	}
	gw := gateway.New(gwCfg, rec, gateway.WithMetrics(m))
	client := parse.NewClient(gwCfg.ServerURL, gwCfg.Credentials, gw.Transport())
	require.NoError(t, gateway.RegisterDefaults(gw, client))

	hk := hooks.NewRegistry()
	require.NoError(t, hooks.RegisterDefaults(hk, []string{"uZEbU3FPwa"}))

	tracker := jobtracker.New(time.Minute)
	t.Cleanup(tracker.Close)
	mgr := jobs.NewManager(tracker, jobs.WithManagerMetrics(m))
	require.NoError(t, mgr.Register(jobs.UserMigrationName, jobs.NewUserMigration(memUsers{n: 3}, 100)))

	cfg := ServerConfig{
		Gateway: gw,
		Hooks:   hk,
		Jobs:    mgr,
		Metrics: m,
	}
	configure(&cfg)
	h := NewHandler(cfg)
	return &testServer{handler: h, rec: rec, jobs: mgr}
}

func (s *testServer) do(t *testing.T, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestFunctionWebhookSuccess(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, "", nil)

	w := s.do(t, http.MethodPost, "/functions/deleteFile", `{"params":{"filename":"x","server":"https://s"}}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":"OK"}`, w.Body.String())
	assert.Equal(t, "https://s/files/x", s.rec.Last().URL)
}

func TestFunctionWebhookMissingParam(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, "", nil)

	w := s.do(t, http.MethodPost, "/functions/delete-file", `{"params":{"server":"https://s"}}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(domain.CodeScriptFailed), body["code"])
	assert.Contains(t, body["error"], "filename")
	assert.Zero(t, s.rec.Calls())
}

func TestFunctionWebhookErrors(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, "", nil)

	w := s.do(t, http.MethodPost, "/functions/nope", `{"params":{}}`, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, "/functions/hello", `{"params":`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, float64(domain.CodeInvalidJSON), decode(t, w)["code"])

	w = s.do(t, http.MethodPost, "/functions/hello", ``, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":"Hello world!"}`, w.Body.String())
}

func TestBeforeDeleteTrigger(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, "", nil)

	w := s.do(t, http.MethodPost, "/triggers/beforeDelete/_Installation", `{"object":{"objectId":"uZEbU3FPwa"}}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(domain.CodeValidationError), body["code"])

	w = s.do(t, http.MethodPost, "/triggers/beforeDelete/_Installation", `{"object":{"objectId":"fine"}}`, nil)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())

	w = s.do(t, http.MethodPost, "/triggers/beforeDelete/_Installation", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestJobWebhookAndStatus(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, "", nil)

	w := s.do(t, http.MethodPost, "/jobs/userMigration", `{"plan":"paid"}`, nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	runID, _ := decode(t, w)["jobStatusId"].(string)
	require.NotEmpty(t, runID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := s.jobs.Wait(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobSucceeded, st.State)

	w = s.do(t, http.MethodGet, "/jobs/runs/"+runID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "succeeded", body["state"])
	assert.Equal(t, float64(3), body["processed"])

	w = s.do(t, http.MethodGet, "/jobs/runs", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), runID)

	w = s.do(t, http.MethodGet, "/jobs/runs/unknown", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestJobWebhookRejectsBadRequests(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, "", nil)

	w := s.do(t, http.MethodPost, "/jobs/nope", `{}`, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, "/jobs/userMigration", `{"params":{}}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "plan")
}

func TestWebhookKey(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, "secret", nil)

	w := s.do(t, http.MethodPost, "/functions/hello", `{}`, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/functions/hello", `{}`, http.Header{HeaderWebhookKey: []string{"wrong"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/functions/hello", `{}`, http.Header{HeaderWebhookKey: []string{"secret"}})
	assert.Equal(t, http.StatusOK, w.Code)

	for _, path := range []string{"/health", "/health/live", "/health/ready", "/metrics", "/stats"} {
		w = s.do(t, http.MethodGet, path, "", nil)
		assert.NotEqual(t, http.StatusUnauthorized, w.Code, path)
	}
}

func TestWebhookKeyGuardsReadRoutes(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, "secret", nil)

	for _, path := range []string{
		"/functions",
		"/functions/deleteFile/logs",
		"/jobs",
		"/jobs/runs",
		"/jobs/runs/r-1",
		"/jobs/runs/r-1/stream",
	} {
		w := s.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
		assert.Contains(t, w.Body.String(), "unauthorized", path)
	}

	w := s.do(t, http.MethodGet, "/functions", "", http.Header{HeaderWebhookKey: []string{"secret"}})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()
	breakers := circuitbreaker.NewRegistry(circuitbreaker.Config{
		ErrorPct:       50,
		WindowDuration: time.Minute,
		OpenDuration:   time.Second,
		HalfOpenProbes: 1,
		MinRequests:    5,
	})
	require.NotNil(t, breakers.Get("parse.example.com"))
	s := newTestServerWith(t, func(c *ServerConfig) {
		c.Breakers = breakers
		c.Checks = map[string]dataplane.HealthCheck{
			"postgres": func(context.Context) error { return errors.New("connection refused") },
		}
	})

	w := s.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "postgres unavailable")

	w = s.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, map[string]any{"parse.example.com": "closed"}, body["upstreams"])

	w = s.do(t, http.MethodGet, "/metrics", "", nil)
	assert.NotEqual(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/stats", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestListFunctions(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, "", nil)

	w := s.do(t, http.MethodGet, "/functions", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Items []gateway.FunctionInfo `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Items, 7)

	w = s.do(t, http.MethodGet, "/functions/deleteFile/logs", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCORSAllowsLocalhost(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, "", nil)

	w := s.do(t, http.MethodGet, "/health/live", "", http.Header{"Origin": []string{"http://localhost:3000"}})
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimitedWebhooks(t *testing.T) {
	t.Parallel()
	limiter := ratelimit.New(ratelimit.NewMemoryBackend(), ratelimit.Config{RequestsPerSecond: 0.001, Burst: 1})
	s := newTestServerWith(t, func(c *ServerConfig) { c.Limiter = limiter })

	w := s.do(t, http.MethodPost, "/functions/hello", `{"params":{}}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, "/functions/hello", `{"params":{}}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, float64(155), decode(t, w)["code"])

	w = s.do(t, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
