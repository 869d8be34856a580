package gateway

import (
	"context"
	"errors"
	"sync"

	"github.com/oriys/cloudcode/internal/domain"
	"github.com/oriys/cloudcode/internal/store"
	"github.com/oriys/cloudcode/internal/upstream"
)

type callInfoKey struct{}

// callInfo keeps the last outbound call of an invocation for its log entry.
type callInfo struct {
	mu     sync.Mutex
	method string
	url    string
	status int
}

func withCallInfo(ctx context.Context, c *callInfo) context.Context {
	return context.WithValue(ctx, callInfoKey{}, c)
}

func callInfoFrom(ctx context.Context) *callInfo {
	c, _ := ctx.Value(callInfoKey{}).(*callInfo)
	return c
}

func (c *callInfo) set(method, url string, status int) {
	c.mu.Lock()
	c.method, c.url, c.status = method, url, status
	c.mu.Unlock()
}

func (c *callInfo) fill(log *store.InvocationLog) {
	c.mu.Lock()
	defer c.mu.Unlock()
	log.UpstreamMethod = c.method
	log.UpstreamURL = c.url
	log.UpstreamStatus = c.status
}

// observedTransport notes each outbound call on the invocation's callInfo.
type observedTransport struct {
	next upstream.Transport
}

func (t *observedTransport) Do(ctx context.Context, req *upstream.Request) (*upstream.Response, error) {
	resp, err := t.next.Do(ctx, req)
	if c := callInfoFrom(ctx); c != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		} else {
			var terr *domain.TransportError
			if errors.As(err, &terr) {
				status = terr.StatusCode
			}
		}
		c.set(req.Method, req.URL, status)
	}
	return resp, err
}
