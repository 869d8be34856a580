package metrics

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordInvocationCounters(t *testing.T) {
	m := New()
	assert.Zero(t, m.Snapshot().Invocations.MinMs)

	m.RecordInvocation("deleteFile", 10, true)
	m.RecordInvocation("deleteFile", 30, false)
	m.RecordInvocation("hello", 5, true)

	snap := m.Snapshot()
	assert.Equal(t, CallStats{Total: 3, Success: 2, Failed: 1, AvgMs: 15, MinMs: 5, MaxMs: 30}, snap.Invocations)
	assert.Equal(t, CallStats{Total: 2, Success: 1, Failed: 1, AvgMs: 20, MinMs: 10, MaxMs: 30}, snap.Functions["deleteFile"])
	assert.Len(t, snap.Functions, 2)
}

func TestJSONHandler(t *testing.T) {
	m := New()
	m.RecordJobStarted()
	m.RecordJobFinished("userMigration", true, 250)

	rec := httptest.NewRecorder()
	m.JSONHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/stats", nil))

	var body Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, JobStats{Started: 1, Succeeded: 1, RecordsProcessed: 250}, body.Jobs)
	assert.NotNil(t, body.Functions)
}

func TestPrometheusHandlerExposesCollectors(t *testing.T) {
	InitPrometheus("cloudcode_test", nil)
	RecordPrometheusInvocation("hello", 1, true)
	RecordUpstreamCall("api.example.com", "GET", 404, 3)

	rec := httptest.NewRecorder()
	PrometheusHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	out := rec.Body.String()
	for _, want := range []string{
		`cloudcode_test_invocations_total{function="hello",status="success"} 1`,
		`cloudcode_test_upstream_requests_total{host="api.example.com",method="GET",status="4xx"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in metrics output", want)
		}
	}
}
