// Package dataplane serves the webhook calls made by the platform and the
// job status, health and metrics endpoints.
package dataplane

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/oriys/cloudcode/internal/circuitbreaker"
	"github.com/oriys/cloudcode/internal/domain"
	"github.com/oriys/cloudcode/internal/gateway"
	"github.com/oriys/cloudcode/internal/hooks"
	"github.com/oriys/cloudcode/internal/hub"
	"github.com/oriys/cloudcode/internal/jobs"
	"github.com/oriys/cloudcode/internal/logging"
	"github.com/oriys/cloudcode/internal/metrics"
)

// EventHistory returns the events already emitted by a run.
type EventHistory interface {
	History(ctx context.Context, runID string) ([]domain.JobEvent, error)
}

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// Handler handles data plane HTTP requests.
type Handler struct {
	Gateway *gateway.Gateway
	Hooks   *hooks.Registry
	Jobs    *jobs.Manager
	Hub     *hub.Hub
	History EventHistory
	Checks  map[string]HealthCheck
	Metrics *metrics.Metrics
	// Breakers reports upstream breaker states on /health when set.
	Breakers *circuitbreaker.Registry
}

// RegisterRoutes registers all data plane routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Webhooks
	mux.HandleFunc("POST /functions/{name}", h.InvokeFunction)
	mux.HandleFunc("POST /triggers/beforeDelete/{className}", h.BeforeDelete)
	mux.HandleFunc("POST /jobs/{name}", h.StartJob)

	// Job status
	mux.HandleFunc("GET /jobs/runs/{id}", h.GetJobRun)
	mux.HandleFunc("GET /jobs/runs/{id}/stream", h.StreamJobRun)

	// Health probes
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /health/live", h.HealthLive)
	mux.HandleFunc("GET /health/ready", h.HealthReady)

	// Observability
	mux.Handle("GET /metrics", metrics.PrometheusHandler())
	mux.Handle("GET /stats", h.metrics().JSONHandler())
}

func (h *Handler) metrics() *metrics.Metrics {
	if h.Metrics != nil {
		return h.Metrics
	}
	return metrics.Global()
}

// InvokeFunction handles POST /functions/{name} with body {"params": {...}}.
func (h *Handler) InvokeFunction(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	body, err := decodeBody(r)
	if err != nil {
		writeInvalidJSON(w, err)
		return
	}

	params := domain.Params{}
	if p, ok := body["params"].(map[string]any); ok {
		params = domain.Params(p)
	}

	res := h.Gateway.Invoke(r.Context(), name, params)
	status := http.StatusOK
	if errors.Is(res.Err(), domain.ErrUnknownFunction) {
		status = http.StatusNotFound
	}
	writeJSON(w, status, res)
}

// BeforeDelete handles POST /triggers/beforeDelete/{className} with body
// {"object": {...}}.
func (h *Handler) BeforeDelete(w http.ResponseWriter, r *http.Request) {
	className := r.PathValue("className")
	body, err := decodeBody(r)
	if err != nil {
		writeInvalidJSON(w, err)
		return
	}
	obj, ok := body["object"].(map[string]any)
	if !ok {
		writeError(w, http.StatusBadRequest, domain.CodeInvalidJSON, "object is required")
		return
	}

	if err := h.Hooks.RunBeforeDelete(r.Context(), className, hooks.Object(obj)); err != nil {
		writeJSON(w, http.StatusOK, domain.Failure(err))
		return
	}
	writeJSON(w, http.StatusOK, domain.Success(true))
}

// StartJob handles POST /jobs/{name}. The body is the parameter bag, or
// {"params": {...}} as sent by the platform's job webhook.
func (h *Handler) StartJob(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	body, err := decodeBody(r)
	if err != nil {
		writeInvalidJSON(w, err)
		return
	}
	params := domain.Params(body)
	if p, ok := body["params"].(map[string]any); ok && len(body) == 1 {
		params = domain.Params(p)
	}

	runID, err := h.Jobs.Start(r.Context(), name, params)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnknownJob):
			writeError(w, http.StatusNotFound, domain.CodeScriptFailed, err.Error())
		default:
			writeError(w, http.StatusBadRequest, domain.CodeScriptFailed, err.Error())
		}
		return
	}
	w.Header().Set("X-Parse-Job-Status-Id", runID)
	writeJSON(w, http.StatusAccepted, map[string]string{"jobStatusId": runID})
}

// GetJobRun handles GET /jobs/runs/{id}.
func (h *Handler) GetJobRun(w http.ResponseWriter, r *http.Request) {
	st, err := h.Jobs.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeStatusError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// StreamJobRun handles GET /jobs/runs/{id}/stream: a websocket that
// replays the run's events and follows it until the terminal event.
func (h *Handler) StreamJobRun(w http.ResponseWriter, r *http.Request) {
	if h.Hub == nil {
		writeError(w, http.StatusNotImplemented, domain.CodeScriptFailed, "status streaming is not enabled")
		return
	}
	runID := r.PathValue("id")
	if _, err := h.Jobs.Status(r.Context(), runID); err != nil {
		h.writeStatusError(w, err)
		return
	}
	ctx := r.Context()
	h.Hub.HandleConnect(w, r, runID, func() []domain.JobEvent { return h.backlog(ctx, runID) })
}

// backlog is what a new subscriber sees before live events: the Redis
// history when available, otherwise the current status as one event.
func (h *Handler) backlog(ctx context.Context, runID string) []domain.JobEvent {
	if h.History != nil {
		events, err := h.History.History(ctx, runID)
		if err != nil {
			logging.Op().Warn("failed to load job history", "run_id", runID, "error", err)
		}
		if len(events) > 0 {
			return events
		}
	}
	st, err := h.Jobs.Status(ctx, runID)
	if err != nil {
		logging.Op().Warn("failed to load job status", "run_id", runID, "error", err)
		return nil
	}
	return []domain.JobEvent{snapshotEvent(st)}
}

func (h *Handler) writeStatusError(w http.ResponseWriter, err error) {
	if errors.Is(err, jobs.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, domain.CodeObjectNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, domain.CodeScriptFailed, err.Error())
}

// snapshotEvent renders a status as the event a late subscriber would have
// seen last.
func snapshotEvent(st *domain.JobStatus) domain.JobEvent {
	ev := domain.JobEvent{
		RunID:     st.RunID,
		Job:       st.Job,
		Kind:      domain.EventProgress,
		Message:   st.Message,
		Processed: st.Processed,
		At:        time.Now(),
	}
	switch st.State {
	case domain.JobSucceeded:
		ev.Kind = domain.EventSuccess
	case domain.JobFailed:
		ev.Kind = domain.EventError
	}
	return ev
}

func (h *Handler) runChecks(ctx context.Context) map[string]string {
	out := make(map[string]string, len(h.Checks))
	for name, check := range h.Checks {
		if err := check(ctx); err != nil {
			out[name] = err.Error()
			continue
		}
		out[name] = "ok"
	}
	return out
}

// Health handles GET /health - detailed status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	components := h.runChecks(ctx)
	status := "ok"
	for _, v := range components {
		if v != "ok" {
			status = "degraded"
		}
	}
	functions := []string{}
	if h.Gateway != nil {
		for _, fn := range h.Gateway.Functions() {
			functions = append(functions, fn.Name)
		}
	}
	var jobNames []string
	if h.Jobs != nil {
		jobNames = h.Jobs.Jobs()
		sort.Strings(jobNames)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         status,
		"components":     components,
		"functions":      functions,
		"jobs":           jobNames,
		"upstreams":      h.Breakers.Snapshot(),
		"uptime_seconds": int64(time.Since(metrics.StartTime()).Seconds()),
	})
}

// HealthLive handles GET /health/live - liveness probe
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HealthReady handles GET /health/ready - readiness probe
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for name, v := range h.runChecks(ctx) {
		if v != "ok" {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
				"error":  name + " unavailable: " + v,
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
