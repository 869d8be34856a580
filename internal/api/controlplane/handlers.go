// Package controlplane serves read-only views of the registry, invocation
// logs and job runs.
package controlplane

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/oriys/cloudcode/internal/domain"
	"github.com/oriys/cloudcode/internal/gateway"
	"github.com/oriys/cloudcode/internal/jobs"
	"github.com/oriys/cloudcode/internal/store"
)

// InvocationLogLister lists persisted invocation logs.
type InvocationLogLister interface {
	ListInvocationLogs(ctx context.Context, functionName string, limit int) ([]*store.InvocationLog, error)
}

// Handler handles control plane HTTP requests.
type Handler struct {
	Gateway *gateway.Gateway
	Jobs    *jobs.Manager
	Logs    InvocationLogLister // Optional: requires Postgres
}

// RegisterRoutes registers all control plane routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /functions", h.ListFunctions)
	mux.HandleFunc("GET /functions/{name}/logs", h.FunctionLogs)
	mux.HandleFunc("GET /jobs", h.ListJobs)
	mux.HandleFunc("GET /jobs/runs", h.ListJobRuns)
}

// ListFunctions handles GET /functions
func (h *Handler) ListFunctions(w http.ResponseWriter, r *http.Request) {
	fns := h.Gateway.Functions()
	p := pageFromQuery(r.URL.Query(), "limit", 0, 500)
	items, total := window(fns, p)
	writePage(w, items, p.info(len(items), int64(total)))
}

// FunctionLogs handles GET /functions/{name}/logs
func (h *Handler) FunctionLogs(w http.ResponseWriter, r *http.Request) {
	if h.Logs == nil {
		http.Error(w, "invocation log persistence is not enabled", http.StatusServiceUnavailable)
		return
	}
	name, _, ok := h.Gateway.Lookup(r.PathValue("name"))
	if !ok {
		http.Error(w, "function not found", http.StatusNotFound)
		return
	}

	limit := queryInt(r.URL.Query().Get("tail"), 10, 500)
	entries, err := h.Logs.ListInvocationLogs(r.Context(), name, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []*store.InvocationLog{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(entries)
}

// ListJobs handles GET /jobs
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"jobs": h.Jobs.Jobs()})
}

// ListJobRuns handles GET /jobs/runs?job=&limit=
func (h *Handler) ListJobRuns(w http.ResponseWriter, r *http.Request) {
	p := pageRequest{Limit: queryInt(r.URL.Query().Get("limit"), 50, 500)}
	runs, err := h.Jobs.List(r.Context(), r.URL.Query().Get("job"), p.Limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []domain.JobStatus{}
	}
	writePage(w, runs, p.info(len(runs), -1))
}
