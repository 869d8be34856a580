// Package upstreamtest provides an in-memory upstream.Transport that
// records every request it receives.
package upstreamtest

import (
	"context"
	"net/http"
	"sync"

	"github.com/oriys/cloudcode/internal/domain"
	"github.com/oriys/cloudcode/internal/upstream"
)

// Reply is the canned answer for one request.
type Reply struct {
	Status int
	Body   string
	Err    error
}

// Recorder answers requests from Handler and keeps a copy of each.
type Recorder struct {
	mu       sync.Mutex
	requests []upstream.Request

	// Handler picks the reply. A nil handler answers 200 with an empty body.
	Handler func(req *upstream.Request) Reply
}

// New returns a Recorder that always answers with status and body.
func New(status int, body string) *Recorder {
	return &Recorder{Handler: func(*upstream.Request) Reply {
		return Reply{Status: status, Body: body}
	}}
}

// Do implements upstream.Transport with the same classification as the
// HTTP transport.
func (r *Recorder) Do(ctx context.Context, req *upstream.Request) (*upstream.Response, error) {
	cp := *req
	cp.Header = req.Header.Clone()
	cp.Body = append([]byte(nil), req.Body...)
	r.mu.Lock()
	r.requests = append(r.requests, cp)
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, &domain.TransportError{Method: req.Method, URL: req.URL, Err: err}
	}

	reply := Reply{Status: http.StatusOK}
	if r.Handler != nil {
		reply = r.Handler(&cp)
	}
	if reply.Err != nil {
		return nil, &domain.TransportError{Method: req.Method, URL: req.URL, Err: reply.Err}
	}
	if reply.Status == 0 {
		reply.Status = http.StatusOK
	}
	resp := &upstream.Response{StatusCode: reply.Status, Header: http.Header{}, Body: []byte(reply.Body)}
	if reply.Status < 200 || reply.Status >= 300 {
		return resp, &domain.TransportError{Method: req.Method, URL: req.URL, StatusCode: reply.Status, Body: reply.Body}
	}
	return resp, nil
}

// Calls returns the number of requests received.
func (r *Recorder) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

// Requests returns a copy of the received requests in order.
func (r *Recorder) Requests() []upstream.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]upstream.Request(nil), r.requests...)
}

// Last returns the most recent request, or nil.
func (r *Recorder) Last() *upstream.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.requests) == 0 {
		return nil
	}
	req := r.requests[len(r.requests)-1]
	return &req
}
