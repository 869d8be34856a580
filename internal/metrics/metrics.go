package metrics

import (
	"encoding/json"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// CallStats summarizes a set of invocations.
type CallStats struct {
	Total   int64   `json:"total"`
	Success int64   `json:"success"`
	Failed  int64   `json:"failed"`
	AvgMs   float64 `json:"avg_ms"`
	MinMs   int64   `json:"min_ms"`
	MaxMs   int64   `json:"max_ms"`
}

// JobStats summarizes job runs.
type JobStats struct {
	Started          int64 `json:"started"`
	Succeeded        int64 `json:"succeeded"`
	Failed           int64 `json:"failed"`
	RecordsProcessed int64 `json:"records_processed"`
}

// Snapshot is the /stats document.
type Snapshot struct {
	UptimeSeconds int64                `json:"uptime_seconds"`
	Invocations   CallStats            `json:"invocations"`
	Jobs          JobStats             `json:"jobs"`
	Functions     map[string]CallStats `json:"functions"`
}

// calls accumulates invocation outcomes lock-free.
type calls struct {
	total, failed atomic.Int64
	sumMs         atomic.Int64
	minMs, maxMs  atomic.Int64
}

func newCalls() *calls {
	c := &calls{}
	c.minMs.Store(math.MaxInt64)
	return c
}

func (c *calls) observe(ms int64, success bool) {
	c.total.Add(1)
	if !success {
		c.failed.Add(1)
	}
	c.sumMs.Add(ms)
	casWhile(&c.minMs, ms, func(cur int64) bool { return ms < cur })
	casWhile(&c.maxMs, ms, func(cur int64) bool { return ms > cur })
}

func (c *calls) stats() CallStats {
	s := CallStats{
		Total:  c.total.Load(),
		Failed: c.failed.Load(),
		MaxMs:  c.maxMs.Load(),
	}
	s.Success = s.Total - s.Failed
	if s.Total > 0 {
		s.AvgMs = float64(c.sumMs.Load()) / float64(s.Total)
		s.MinMs = c.minMs.Load()
	}
	return s
}

// casWhile stores v into target for as long as better(current) holds.
func casWhile(target *atomic.Int64, v int64, better func(int64) bool) {
	for {
		cur := target.Load()
		if !better(cur) || target.CompareAndSwap(cur, v) {
			return
		}
	}
}

// Metrics holds in-process counters served as JSON on /stats. Every
// recording is mirrored to the Prometheus collectors.
type Metrics struct {
	all     *calls
	perFunc sync.Map // name -> *calls

	jobsStarted, jobsSucceeded, jobsFailed atomic.Int64
	records                                atomic.Int64

	startTime time.Time
}

var global = New()

func New() *Metrics {
	return &Metrics{all: newCalls(), startTime: time.Now()}
}

// Global returns the process-wide metrics.
func Global() *Metrics { return global }

// StartTime is when the process-wide metrics were created.
func StartTime() time.Time { return global.startTime }

func (m *Metrics) RecordInvocation(funcName string, durationMs int64, success bool) {
	m.all.observe(durationMs, success)
	m.function(funcName).observe(durationMs, success)
	RecordPrometheusInvocation(funcName, durationMs, success)
}

func (m *Metrics) RecordJobStarted() {
	m.jobsStarted.Add(1)
	IncActiveJobs()
}

// RecordJobFinished records the end of a run and how many records it saved.
func (m *Metrics) RecordJobFinished(job string, success bool, processed int) {
	outcome := "failed"
	if success {
		outcome = "succeeded"
		m.jobsSucceeded.Add(1)
	} else {
		m.jobsFailed.Add(1)
	}
	m.records.Add(int64(processed))
	DecActiveJobs()
	RecordJobRun(job, outcome)
	AddJobRecords(job, processed)
}

func (m *Metrics) function(name string) *calls {
	if c, ok := m.perFunc.Load(name); ok {
		return c.(*calls)
	}
	c, _ := m.perFunc.LoadOrStore(name, newCalls())
	return c.(*calls)
}

func (m *Metrics) Snapshot() Snapshot {
	s := Snapshot{
		UptimeSeconds: int64(time.Since(m.startTime).Seconds()),
		Invocations:   m.all.stats(),
		Jobs: JobStats{
			Started:          m.jobsStarted.Load(),
			Succeeded:        m.jobsSucceeded.Load(),
			Failed:           m.jobsFailed.Load(),
			RecordsProcessed: m.records.Load(),
		},
		Functions: map[string]CallStats{},
	}
	m.perFunc.Range(func(k, v any) bool {
		s.Functions[k.(string)] = v.(*calls).stats()
		return true
	})
	return s
}

func (m *Metrics) JSONHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(m.Snapshot())
	})
}
