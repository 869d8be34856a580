// Package gateway dispatches named cloud functions. Each invocation
// validates its parameters, makes at most the outbound calls its function
// needs and settles into exactly one domain.Result.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oriys/cloudcode/internal/domain"
	"github.com/oriys/cloudcode/internal/logging"
	"github.com/oriys/cloudcode/internal/logsink"
	"github.com/oriys/cloudcode/internal/metrics"
	"github.com/oriys/cloudcode/internal/observability"
	"github.com/oriys/cloudcode/internal/parse"
	"github.com/oriys/cloudcode/internal/store"
	"github.com/oriys/cloudcode/internal/upstream"
)

// Function is one registered cloud function.
type Function interface {
	Invoke(ctx context.Context, params domain.Params) (any, error)
}

// FunctionFunc adapts a plain function to Function.
type FunctionFunc func(ctx context.Context, params domain.Params) (any, error)

// Invoke calls f.
func (f FunctionFunc) Invoke(ctx context.Context, params domain.Params) (any, error) {
	return f(ctx, params)
}

// Config holds the process-wide settings shared by every invocation.
type Config struct {
	// ServerURL is used when a route does not take the server from its
	// parameters.
	ServerURL   string
	Credentials parse.Credentials
}

// FunctionInfo describes a registered function.
type FunctionInfo struct {
	Name        string   `json:"name"`
	Aliases     []string `json:"aliases,omitempty"`
	Description string   `json:"description,omitempty"`
}

type entry struct {
	info FunctionInfo
	fn   Function
}

// Gateway is the function registry and invoker.
type Gateway struct {
	cfg       Config
	transport upstream.Transport
	sink      logsink.LogSink
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mu      sync.RWMutex
	entries map[string]*entry
	names   map[string]string // name or alias -> canonical name
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogSink routes invocation logs to sink.
func WithLogSink(sink logsink.LogSink) Option {
	return func(g *Gateway) {
		if sink != nil {
			g.sink = sink
		}
	}
}

// WithMetrics records invocations into m instead of the global collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) {
		if m != nil {
			g.metrics = m
		}
	}
}

// New creates an empty gateway sending outbound calls through transport.
func New(cfg Config, transport upstream.Transport, opts ...Option) *Gateway {
	g := &Gateway{
		cfg:       cfg,
		transport: &observedTransport{next: transport},
		sink:      logsink.NewNoopSink(),
		metrics:   metrics.Global(),
		logger:    logging.Op(),
		entries:   make(map[string]*entry),
		names:     make(map[string]string),
	}
	g.cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Transport returns the transport functions should use for outbound calls
// so the call shows up in the invocation log.
func (g *Gateway) Transport() upstream.Transport { return g.transport }

// Config returns the gateway configuration.
func (g *Gateway) Config() Config { return g.cfg }

// Register adds fn under name and its aliases.
func (g *Gateway) Register(name string, fn Function, description string, aliases ...string) error {
	if fn == nil {
		return fmt.Errorf("register %s: nil function", name)
	}
	all := append([]string{name}, aliases...)
	for _, n := range all {
		if err := domain.ValidateFunctionName(n); err != nil {
			return err
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for _, n := range all {
		if existing, ok := g.names[n]; ok {
			return fmt.Errorf("function name %q already registered by %s", n, existing)
		}
	}
	g.entries[name] = &entry{
		info: FunctionInfo{Name: name, Aliases: aliases, Description: description},
		fn:   fn,
	}
	for _, n := range all {
		g.names[n] = name
	}
	return nil
}

// RegisterRoute adds a declarative REST proxy.
func (g *Gateway) RegisterRoute(r Route) error {
	if err := r.validate(); err != nil {
		return err
	}
	return g.Register(r.Name, &routeFunction{route: r, gw: g}, r.Description, r.Aliases...)
}

// Lookup resolves a name or alias to the canonical name and function.
func (g *Gateway) Lookup(name string) (string, Function, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	canonical, ok := g.names[name]
	if !ok {
		return "", nil, false
	}
	return canonical, g.entries[canonical].fn, true
}

// Functions lists the registered functions sorted by name.
func (g *Gateway) Functions() []FunctionInfo {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]FunctionInfo, 0, len(g.entries))
	for _, e := range g.entries {
		out = append(out, e.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Invoke runs the named function. It always returns a settled result; a
// panicking function becomes a failure.
func (g *Gateway) Invoke(ctx context.Context, name string, params domain.Params) (res domain.Result) {
	canonical, fn, ok := g.Lookup(name)
	if !ok {
		return domain.Failure(fmt.Errorf("%w %q", domain.ErrUnknownFunction, name))
	}
	if params == nil {
		params = domain.Params{}
	}

	requestID := uuid.New().String()
	ctx, span := observability.StartSpan(ctx, "invoke "+canonical,
		observability.AttrFunctionName.String(canonical),
		observability.AttrRequestID.String(requestID),
	)
	defer span.End()

	call := &callInfo{}
	ctx = withCallInfo(ctx, call)

	metrics.IncActiveRequests()
	defer metrics.DecActiveRequests()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("function panicked", "function", canonical, "request_id", requestID, "panic", r)
			res = domain.Failure(fmt.Errorf("%s: internal error: %v", canonical, r))
		}
		if res.OK() {
			observability.SetSpanOK(span)
		} else {
			observability.SetSpanError(span, res.Err())
		}
		g.record(ctx, requestID, canonical, params, call, time.Since(start), res)
	}()

	v, err := fn.Invoke(ctx, params)
	if err != nil {
		return domain.Failure(err)
	}
	return domain.Success(v)
}

func (g *Gateway) record(ctx context.Context, requestID, function string, params domain.Params, call *callInfo, elapsed time.Duration, res domain.Result) {
	durationMs := elapsed.Milliseconds()
	g.metrics.RecordInvocation(function, durationMs, res.OK())
	metrics.RecordPrometheusInvocation(function, durationMs, res.OK())

	input, _ := json.Marshal(params)
	log := &store.InvocationLog{
		ID:           requestID,
		FunctionName: function,
		DurationMs:   durationMs,
		Success:      res.OK(),
		InputSize:    len(input),
		Input:        input,
		TraceID:      observability.GetTraceID(ctx),
		CreatedAt:    time.Now(),
	}
	call.fill(log)
	if res.OK() {
		if out, err := json.Marshal(res.Value()); err == nil {
			log.OutputSize = len(out)
		}
	} else {
		log.ErrorMessage = res.Err().Error()
		var missing *domain.MissingParamError
		if errors.As(res.Err(), &missing) {
			g.logger.Debug("invocation rejected", "function", function, "param", missing.Param)
		}
	}
	if err := g.sink.Save(ctx, log); err != nil {
		g.logger.Warn("failed to save invocation log", "request_id", requestID, "error", err)
	}
}
