// Package jobs runs batch jobs in the background and fans their status out
// to the tracker, the run store and any extra sinks.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oriys/cloudcode/internal/domain"
	"github.com/oriys/cloudcode/internal/jobtracker"
	"github.com/oriys/cloudcode/internal/logging"
	"github.com/oriys/cloudcode/internal/metrics"
	"github.com/oriys/cloudcode/internal/observability"
	"github.com/oriys/cloudcode/internal/store"
)

// ErrRunNotFound is returned for an unknown run id.
var ErrRunNotFound = errors.New("job run not found")

// RunStore persists job runs.
type RunStore interface {
	CreateJobRun(ctx context.Context, st *domain.JobStatus, params json.RawMessage) error
	UpdateJobProgress(ctx context.Context, runID string, processed int, message string) error
	FinishJobRun(ctx context.Context, st *domain.JobStatus) error
	GetJobRun(ctx context.Context, runID string) (*domain.JobStatus, error)
	ListJobRuns(ctx context.Context, job string, limit int) ([]*domain.JobStatus, error)
}

// Manager starts job runs and answers status queries.
type Manager struct {
	tracker *jobtracker.Tracker
	store   RunStore
	sinks   []StatusSink
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	jobs    map[string]Job
	running map[string]*runHandle
	closed  bool
	wg      sync.WaitGroup
}

type runHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
	status domain.JobStatus
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithRunStore persists runs in s.
func WithRunStore(s RunStore) ManagerOption {
	return func(m *Manager) { m.store = s }
}

// WithStatusSink adds a sink that receives every event of every run.
func WithStatusSink(s StatusSink) ManagerOption {
	return func(m *Manager) {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
}

// WithManagerMetrics records runs into m instead of the global collector.
func WithManagerMetrics(mt *metrics.Metrics) ManagerOption {
	return func(m *Manager) {
		if mt != nil {
			m.metrics = mt
		}
	}
}

// NewManager creates a manager that tracks runs in tracker.
func NewManager(tracker *jobtracker.Tracker, opts ...ManagerOption) *Manager {
	m := &Manager{
		tracker: tracker,
		metrics: metrics.Global(),
		logger:  logging.Op(),
		jobs:    make(map[string]Job),
		running: make(map[string]*runHandle),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds a job under name.
func (m *Manager) Register(name string, job Job) error {
	if err := domain.ValidateFunctionName(name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[name]; ok {
		return fmt.Errorf("job %q already registered", name)
	}
	m.jobs[name] = job
	return nil
}

// Jobs returns the registered job names.
func (m *Manager) Jobs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.jobs))
	for name := range m.jobs {
		out = append(out, name)
	}
	return out
}

// Start validates params and runs the job in the background. The run
// outlives ctx's cancellation but keeps its values (trace context).
func (m *Manager) Start(ctx context.Context, name string, params domain.Params) (string, error) {
	m.mu.Lock()
	job, ok := m.jobs[name]
	closed := m.closed
	m.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w %q", domain.ErrUnknownJob, name)
	}
	if closed {
		return "", errors.New("job manager is shutting down")
	}
	if params == nil {
		params = domain.Params{}
	}
	if err := job.Validate(params); err != nil {
		return "", err
	}

	run := Run{
		ID:        uuid.New().String(),
		Job:       name,
		Params:    params.Clone(),
		StartedAt: time.Now(),
	}
	initial := domain.JobStatus{RunID: run.ID, Job: name, State: domain.JobRunning, StartedAt: run.StartedAt}
	m.tracker.Start(run.ID, name)
	if m.store != nil {
		raw, _ := json.Marshal(run.Params)
		if err := m.store.CreateJobRun(ctx, &initial, raw); err != nil {
			m.logger.Warn("failed to persist job run", "run_id", run.ID, "job", name, "error", err)
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &runHandle{cancel: cancel, done: make(chan struct{}), status: initial}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		m.tracker.Remove(run.ID)
		return "", errors.New("job manager is shutting down")
	}
	m.running[run.ID] = h
	m.wg.Add(1)
	m.mu.Unlock()

	go m.execute(runCtx, job, run, h)
	return run.ID, nil
}

func (m *Manager) execute(ctx context.Context, job Job, run Run, h *runHandle) {
	defer m.wg.Done()
	defer h.cancel()

	metrics.IncActiveJobs()
	defer metrics.DecActiveJobs()
	m.metrics.RecordJobStarted()

	ctx, span := observability.StartSpan(ctx, "job "+run.Job,
		observability.AttrJobName.String(run.Job),
		observability.AttrJobRunID.String(run.ID),
	)
	defer span.End()

	fanout := MultiSink{m.tracker, runStoreSink{m.store}}
	fanout = append(fanout, m.sinks...)
	fanout = append(fanout, LogSink{Logger: m.logger})
	sink := &onceTerminal{next: fanout}

	status := m.runJob(ctx, job, run, sink)
	if !sink.finished() {
		kind := domain.EventSuccess
		if status.State != domain.JobSucceeded {
			kind = domain.EventError
		}
		_ = sink.Emit(ctx, domain.JobEvent{RunID: run.ID, Job: run.Job, Kind: kind, Message: status.Message, Processed: status.Processed, At: time.Now()})
	}

	span.SetAttributes(observability.AttrProcessed.Int(status.Processed))
	if status.State == domain.JobSucceeded {
		observability.SetSpanOK(span)
	} else {
		observability.SetSpanError(span, errors.New(status.Message))
	}

	m.tracker.Finish(status)
	if m.store != nil {
		if err := m.store.FinishJobRun(context.WithoutCancel(ctx), &status); err != nil {
			m.logger.Warn("failed to persist job result", "run_id", run.ID, "error", err)
		}
	}
	m.metrics.RecordJobFinished(run.Job, status.State == domain.JobSucceeded, status.Processed)
	metrics.RecordJobRun(run.Job, string(status.State))
	metrics.AddJobRecords(run.Job, status.Processed)

	m.mu.Lock()
	h.status = status
	delete(m.running, run.ID)
	m.mu.Unlock()
	close(h.done)
}

func (m *Manager) runJob(ctx context.Context, job Job, run Run, sink StatusSink) (status domain.JobStatus) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("job panicked", "run_id", run.ID, "job", run.Job, "panic", r)
			now := time.Now()
			status = domain.JobStatus{
				RunID:      run.ID,
				Job:        run.Job,
				State:      domain.JobFailed,
				Message:    migrationFailed,
				Detail:     fmt.Sprintf("panic: %v", r),
				StartedAt:  run.StartedAt,
				FinishedAt: &now,
			}
		}
	}()
	return job.Run(ctx, run, sink)
}

// Run starts the job and waits for it to finish.
func (m *Manager) Run(ctx context.Context, name string, params domain.Params) (domain.JobStatus, error) {
	runID, err := m.Start(ctx, name, params)
	if err != nil {
		return domain.JobStatus{}, err
	}
	return m.Wait(ctx, runID)
}

// Wait blocks until the run finishes or ctx is done.
func (m *Manager) Wait(ctx context.Context, runID string) (domain.JobStatus, error) {
	m.mu.Lock()
	h, ok := m.running[runID]
	m.mu.Unlock()
	if !ok {
		st, err := m.Status(ctx, runID)
		if err != nil {
			return domain.JobStatus{}, err
		}
		return *st, nil
	}
	select {
	case <-h.done:
		m.mu.Lock()
		defer m.mu.Unlock()
		return h.status, nil
	case <-ctx.Done():
		return domain.JobStatus{}, ctx.Err()
	}
}

// Status returns the live status of a run, falling back to the run store.
func (m *Manager) Status(ctx context.Context, runID string) (*domain.JobStatus, error) {
	if st := m.tracker.Get(runID); st != nil {
		return st, nil
	}
	if m.store == nil {
		return nil, ErrRunNotFound
	}
	st, err := m.store.GetJobRun(ctx, runID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrRunNotFound
	}
	return st, err
}

// List returns recent runs of job (all jobs when empty), newest first.
func (m *Manager) List(ctx context.Context, job string, limit int) ([]domain.JobStatus, error) {
	if limit <= 0 {
		limit = 50
	}
	if m.store != nil {
		runs, err := m.store.ListJobRuns(ctx, job, limit)
		if err != nil {
			return nil, err
		}
		out := make([]domain.JobStatus, 0, len(runs))
		for _, r := range runs {
			if live := m.tracker.Get(r.RunID); live != nil {
				out = append(out, *live)
				continue
			}
			out = append(out, *r)
		}
		return out, nil
	}
	out := make([]domain.JobStatus, 0, limit)
	for _, st := range m.tracker.List() {
		if job != "" && st.Job != job {
			continue
		}
		out = append(out, st)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Shutdown stops accepting runs, cancels the running ones and waits for
// them to record their final status.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	for _, h := range m.running {
		h.cancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runStoreSink writes progress to the run store. Terminal state is written
// once by the manager with the full status.
type runStoreSink struct {
	store RunStore
}

func (s runStoreSink) Emit(ctx context.Context, ev domain.JobEvent) error {
	if s.store == nil || ev.Terminal() {
		return nil
	}
	return s.store.UpdateJobProgress(ctx, ev.RunID, ev.Processed, ev.Message)
}
