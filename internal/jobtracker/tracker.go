// Package jobtracker keeps the live status of job runs in memory so the
// status endpoints can answer without a database round trip.
package jobtracker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oriys/cloudcode/internal/domain"
)

type entry struct {
	status      domain.JobStatus
	heartbeatAt time.Time
}

// Tracker maintains in-memory status for job runs. Completed entries are
// dropped once they are older than the TTL.
type Tracker struct {
	mu      sync.RWMutex
	runs    map[string]*entry // run ID -> status
	ttl     time.Duration     // how long to keep completed/stale entries
	maxSize int               // hard cap on tracked entries (0 = unlimited)

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a new job status tracker.
func New(ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	t := &Tracker{
		runs:    make(map[string]*entry),
		ttl:     ttl,
		maxSize: 10000,
		stop:    make(chan struct{}),
	}
	go t.cleanupLoop()
	return t
}

// Start begins tracking a run in the running state.
func (t *Tracker) Start(runID, job string) {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.runs[runID]; ok {
		return
	}
	// Enforce max size limit
	if t.maxSize > 0 && len(t.runs) >= t.maxSize {
		return
	}
	t.runs[runID] = &entry{
		status: domain.JobStatus{
			RunID:     runID,
			Job:       job,
			State:     domain.JobRunning,
			StartedAt: now,
		},
		heartbeatAt: now,
	}
}

// Emit applies one status event. The processed count never decreases and a
// run that reached a terminal state ignores later events.
func (t *Tracker) Emit(_ context.Context, ev domain.JobEvent) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.runs[ev.RunID]
	if !ok || e.status.State.Terminal() {
		return nil
	}
	e.heartbeatAt = time.Now()
	if ev.Processed > e.status.Processed {
		e.status.Processed = ev.Processed
	}
	e.status.Message = ev.Message
	switch ev.Kind {
	case domain.EventSuccess:
		e.status.State = domain.JobSucceeded
		e.status.FinishedAt = timePtr(ev.At)
	case domain.EventError:
		e.status.State = domain.JobFailed
		e.status.FinishedAt = timePtr(ev.At)
	}
	return nil
}

// Finish records the final status of a run, including failure detail.
func (t *Tracker) Finish(status domain.JobStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.runs[status.RunID]
	if !ok {
		e = &entry{}
		t.runs[status.RunID] = e
	}
	if status.Processed < e.status.Processed {
		status.Processed = e.status.Processed
	}
	e.status = status
	e.heartbeatAt = time.Now()
}

// Get returns the status of a run, or nil if not tracked.
func (t *Tracker) Get(runID string) *domain.JobStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.runs[runID]
	if !ok {
		return nil
	}
	cp := e.status
	return &cp
}

// Remove deletes the entry for a run.
func (t *Tracker) Remove(runID string) {
	t.mu.Lock()
	delete(t.runs, runID)
	t.mu.Unlock()
}

// IsStale returns true if the run has not reported within timeout.
func (t *Tracker) IsStale(runID string, timeout time.Duration) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.runs[runID]
	if !ok {
		return true
	}
	return time.Since(e.heartbeatAt) > timeout
}

// List returns all tracked runs, newest first.
func (t *Tracker) List() []domain.JobStatus {
	t.mu.RLock()
	out := make([]domain.JobStatus, 0, len(t.runs))
	for _, e := range t.runs {
		out = append(out, e.status)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// Close stops the cleanup loop.
func (t *Tracker) Close() {
	t.stopOnce.Do(func() { close(t.stop) })
}

// cleanupLoop periodically removes expired entries.
func (t *Tracker) cleanupLoop() {
	ticker := time.NewTicker(t.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.cleanup(time.Now())
		}
	}
}

func (t *Tracker) cleanup(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, e := range t.runs {
		if now.Sub(e.heartbeatAt) > t.ttl {
			delete(t.runs, id)
		}
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		t = time.Now()
	}
	return &t
}
