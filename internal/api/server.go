// Package api serves the webhook surface the platform calls (functions,
// triggers and jobs) together with job status, health and metrics
// endpoints.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/cors"

	"github.com/oriys/cloudcode/internal/api/controlplane"
	"github.com/oriys/cloudcode/internal/api/dataplane"
	"github.com/oriys/cloudcode/internal/circuitbreaker"
	"github.com/oriys/cloudcode/internal/gateway"
	"github.com/oriys/cloudcode/internal/hooks"
	"github.com/oriys/cloudcode/internal/hub"
	"github.com/oriys/cloudcode/internal/jobs"
	"github.com/oriys/cloudcode/internal/metrics"
	"github.com/oriys/cloudcode/internal/observability"
	"github.com/oriys/cloudcode/internal/ratelimit"
)

// ServerConfig contains dependencies for the HTTP server.
type ServerConfig struct {
	Gateway *gateway.Gateway
	Hooks   *hooks.Registry
	Jobs    *jobs.Manager
	Hub     *hub.Hub // Optional: job status websocket
	History dataplane.EventHistory
	Logs    controlplane.InvocationLogLister
	Checks  map[string]dataplane.HealthCheck
	Metrics *metrics.Metrics
	Limiter *ratelimit.Limiter // Optional: per-client throttling

	Breakers *circuitbreaker.Registry // Optional: upstream states on /health

	WebhookKey     string
	AllowedOrigins []string
}

// NewHandler builds the routed and wrapped HTTP handler.
func NewHandler(cfg ServerConfig) http.Handler {
	mux := http.NewServeMux()

	dp := &dataplane.Handler{
		Gateway:  cfg.Gateway,
		Hooks:    cfg.Hooks,
		Jobs:     cfg.Jobs,
		Hub:      cfg.Hub,
		History:  cfg.History,
		Checks:   cfg.Checks,
		Metrics:  cfg.Metrics,
		Breakers: cfg.Breakers,
	}
	dp.RegisterRoutes(mux)

	cp := &controlplane.Handler{
		Gateway: cfg.Gateway,
		Jobs:    cfg.Jobs,
		Logs:    cfg.Logs,
	}
	cp.RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = WebhookKeyMiddleware(cfg.WebhookKey)(handler)
	handler = ratelimit.Middleware(cfg.Limiter, []string{"/health", "/health/*", "/metrics"})(handler)
	handler = observability.ServerTimingMiddleware(handler)
	handler = observability.HTTPMiddleware(handler)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	handler = cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderWebhookKey, "X-Parse-Application-Id", "X-Parse-REST-API-Key"},
		ExposedHeaders:   []string{"Server-Timing"},
		AllowCredentials: false,
		MaxAge:           300,
	})(handler)

	return handler
}

// NewServer returns an http.Server for addr. The caller runs and shuts it
// down.
func NewServer(addr string, cfg ServerConfig) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewHandler(cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
