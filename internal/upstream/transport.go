// Package upstream issues the outbound REST calls made on behalf of an
// invocation. Every call settles into either a Response or a
// *domain.TransportError; the caller never sees a panic or a partial result.
package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/oriys/cloudcode/internal/circuitbreaker"
	"github.com/oriys/cloudcode/internal/domain"
	"github.com/oriys/cloudcode/internal/logging"
	"github.com/oriys/cloudcode/internal/metrics"
	"github.com/oriys/cloudcode/internal/observability"
)

const (
	defaultTimeout          = 30 * time.Second
	defaultMaxResponseBytes = 4 << 20
	userAgent               = "cloudcode/1.0"
)

// Request is one outbound HTTP call.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is a settled outbound call.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
}

// Text returns the raw response body.
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	return string(r.Body)
}

// Transport sends a request and waits for it to settle. A non-2xx answer is
// reported as a *domain.TransportError alongside the Response.
type Transport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req *Request) (*Response, error)

// Do calls f.
func (f TransportFunc) Do(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Options configures an HTTPTransport.
type Options struct {
	Timeout          time.Duration
	MaxResponseBytes int64
	Breakers         *circuitbreaker.Registry
	Client           *http.Client
}

// HTTPTransport is the net/http Transport with per-host circuit breaking,
// tracing and metrics.
type HTTPTransport struct {
	client   *http.Client
	maxBody  int64
	breakers *circuitbreaker.Registry
}

// NewHTTPTransport creates a transport from opts.
func NewHTTPTransport(opts Options) *HTTPTransport {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxBody := opts.MaxResponseBytes
	if maxBody <= 0 {
		maxBody = defaultMaxResponseBytes
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		}
	}
	return &HTTPTransport{
		client:   client,
		maxBody:  maxBody,
		breakers: opts.Breakers,
	}
}

// Do issues the request and classifies the outcome.
func (t *HTTPTransport) Do(ctx context.Context, r *Request) (*Response, error) {
	u, err := url.Parse(r.URL)
	if err != nil || u.Host == "" {
		if err == nil {
			err = fmt.Errorf("URL %q has no host", r.URL)
		}
		return nil, &domain.TransportError{Method: r.Method, URL: r.URL, Err: err}
	}
	host := u.Host

	breaker := t.breakers.Get(host)
	if breaker != nil && !breaker.Allow() {
		metrics.RecordUpstreamCall(host, r.Method, 0, 0)
		return nil, &domain.TransportError{Method: r.Method, URL: r.URL, Err: circuitbreaker.ErrOpen}
	}

	ctx, span := observability.StartClientSpan(ctx, "upstream "+r.Method,
		attribute.String("http.method", r.Method),
		observability.AttrUpstreamHost.String(host),
	)
	defer span.End()
	timing := observability.StartServerTiming(ctx, "upstream", r.Method+" "+host)
	defer timing.Stop()

	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, body)
	if err != nil {
		return nil, &domain.TransportError{Method: r.Method, URL: r.URL, Err: err}
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgent)
	}
	observability.InjectHTTPHeaders(ctx, req.Header)

	start := time.Now()
	resp, err := t.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		t.record(breaker, host, false)
		metrics.RecordUpstreamCall(host, r.Method, 0, elapsed.Milliseconds())
		observability.SetSpanError(span, err)
		logging.Op().Debug("upstream call failed", "method", r.Method, "host", host, "error", err)
		return nil, &domain.TransportError{Method: r.Method, URL: r.URL, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBody+1))
	if err != nil && !errors.Is(err, io.EOF) {
		t.record(breaker, host, false)
		metrics.RecordUpstreamCall(host, r.Method, resp.StatusCode, elapsed.Milliseconds())
		observability.SetSpanError(span, err)
		return nil, &domain.TransportError{Method: r.Method, URL: r.URL, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
		Duration:   time.Since(start),
	}
	metrics.RecordUpstreamCall(host, r.Method, resp.StatusCode, out.Duration.Milliseconds())
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	// Only server-side failures count against the host.
	t.record(breaker, host, resp.StatusCode < 500)

	oversize := int64(len(data)) > t.maxBody
	if oversize {
		out.Body = data[:t.maxBody]
	}
	if oversize && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		terr := &domain.TransportError{
			Method:     r.Method,
			URL:        r.URL,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("response exceeds %d bytes", t.maxBody),
		}
		observability.SetSpanError(span, terr)
		return nil, terr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		terr := &domain.TransportError{
			Method:     r.Method,
			URL:        r.URL,
			StatusCode: resp.StatusCode,
			Body:       string(out.Body),
		}
		observability.SetSpanError(span, terr)
		return out, terr
	}
	observability.SetSpanOK(span)
	return out, nil
}

func (t *HTTPTransport) record(b *circuitbreaker.Breaker, host string, ok bool) {
	if b == nil {
		return
	}
	before := b.State()
	if ok {
		b.RecordSuccess()
	} else {
		b.RecordFailure()
	}
	after := b.State()
	metrics.SetCircuitBreakerState(host, int(after))
	if after != before {
		metrics.RecordCircuitBreakerTrip(host, after.String())
		logging.Op().Warn("circuit breaker transition", "host", host, "from", before.String(), "to", after.String())
	}
}
