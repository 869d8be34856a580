package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Millisecond buckets used when InitPrometheus gets none.
var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

type collectorSet struct {
	registry *prometheus.Registry

	invocations   *prometheus.CounterVec
	invocationMs  *prometheus.HistogramVec
	upstreamCalls *prometheus.CounterVec
	upstreamMs    *prometheus.HistogramVec
	jobRuns       *prometheus.CounterVec
	jobRecords    *prometheus.CounterVec
	hookDecisions *prometheus.CounterVec
	inFlight      prometheus.Gauge
	runningJobs   prometheus.Gauge
	breakerState  *prometheus.GaugeVec
	breakerTrips  *prometheus.CounterVec
}

// prom is nil until InitPrometheus; every recorder is a no-op before that.
var prom atomic.Pointer[collectorSet]

// InitPrometheus builds a fresh registry with the Go and process
// collectors plus every cloudcode series under namespace.
func InitPrometheus(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
	}
	histogram := func(name, help string, labels ...string) *prometheus.HistogramVec {
		return f.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Name: name, Help: help, Buckets: buckets}, labels)
	}
	gauge := func(name, help string) prometheus.Gauge {
		return f.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
	}

	prom.Store(&collectorSet{
		registry:      reg,
		invocations:   counter("invocations_total", "Function invocations by outcome.", "function", "status"),
		invocationMs:  histogram("invocation_duration_milliseconds", "Function invocation latency.", "function"),
		upstreamCalls: counter("upstream_requests_total", "Outbound REST calls by status class.", "host", "method", "status"),
		upstreamMs:    histogram("upstream_request_duration_milliseconds", "Outbound REST call latency.", "host", "method"),
		jobRuns:       counter("job_runs_total", "Finished job runs by outcome.", "job", "outcome"),
		jobRecords:    counter("job_records_processed_total", "Records saved by batch jobs.", "job"),
		hookDecisions: counter("hook_decisions_total", "Lifecycle hook decisions.", "hook", "class", "decision"),
		inFlight:      gauge("active_requests", "In-flight function invocations."),
		runningJobs:   gauge("active_jobs", "Job runs in progress."),
		breakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Breaker state per upstream host: 0 closed, 1 open, 2 half-open.",
		}, []string{"host"}),
		breakerTrips: counter("circuit_breaker_trips_total", "Breaker state transitions.", "host", "to_state"),
	})
}

func with(fn func(*collectorSet)) {
	if c := prom.Load(); c != nil {
		fn(c)
	}
}

func RecordPrometheusInvocation(funcName string, durationMs int64, success bool) {
	outcome := "success"
	if !success {
		outcome = "failed"
	}
	with(func(c *collectorSet) {
		c.invocations.WithLabelValues(funcName, outcome).Inc()
		c.invocationMs.WithLabelValues(funcName).Observe(float64(durationMs))
	})
}

// RecordUpstreamCall records one outbound call. status 0 means no response.
func RecordUpstreamCall(host, method string, status int, durationMs int64) {
	with(func(c *collectorSet) {
		c.upstreamCalls.WithLabelValues(host, method, statusClass(status)).Inc()
		c.upstreamMs.WithLabelValues(host, method).Observe(float64(durationMs))
	})
}

func RecordJobRun(job, outcome string) {
	with(func(c *collectorSet) { c.jobRuns.WithLabelValues(job, outcome).Inc() })
}

func AddJobRecords(job string, n int) {
	if n <= 0 {
		return
	}
	with(func(c *collectorSet) { c.jobRecords.WithLabelValues(job).Add(float64(n)) })
}

func RecordHookDecision(hook, class, decision string) {
	with(func(c *collectorSet) { c.hookDecisions.WithLabelValues(hook, class, decision).Inc() })
}

func IncActiveRequests() { with(func(c *collectorSet) { c.inFlight.Inc() }) }
func DecActiveRequests() { with(func(c *collectorSet) { c.inFlight.Dec() }) }
func IncActiveJobs()     { with(func(c *collectorSet) { c.runningJobs.Inc() }) }
func DecActiveJobs()     { with(func(c *collectorSet) { c.runningJobs.Dec() }) }

// SetCircuitBreakerState sets the gauge: 0 closed, 1 open, 2 half-open.
func SetCircuitBreakerState(host string, state int) {
	with(func(c *collectorSet) { c.breakerState.WithLabelValues(host).Set(float64(state)) })
}

func RecordCircuitBreakerTrip(host, toState string) {
	with(func(c *collectorSet) { c.breakerTrips.WithLabelValues(host, toState).Inc() })
}

// PrometheusHandler serves the registry, or 503 before InitPrometheus.
func PrometheusHandler() http.Handler {
	c := prom.Load()
	if c == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "prometheus metrics not initialized", http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func statusClass(status int) string {
	switch {
	case status == 0:
		return "error"
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	}
	return "5xx"
}
