package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBucketDeniesWhenExhausted(t *testing.T) {
	t.Parallel()
	b := NewMemoryBackend()
	now := time.Unix(1000, 0)
	b.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, _, err := b.CheckRateLimit(ctx, "k", 3, 1, 1)
		require.NoError(t, err)
		require.True(t, allowed, "request %d", i)
	}
	allowed, remaining, err := b.CheckRateLimit(ctx, "k", 3, 1, 1)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 0, remaining)

	now = now.Add(2 * time.Second)
	allowed, remaining, err = b.CheckRateLimit(ctx, "k", 3, 1, 1)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 1, remaining)
}

func TestMemoryBucketKeysAreIndependent(t *testing.T) {
	t.Parallel()
	b := NewMemoryBackend()
	ctx := context.Background()

	allowed, _, _ := b.CheckRateLimit(ctx, "a", 1, 0.001, 1)
	assert.True(t, allowed)
	allowed, _, _ = b.CheckRateLimit(ctx, "a", 1, 0.001, 1)
	assert.False(t, allowed)
	allowed, _, _ = b.CheckRateLimit(ctx, "b", 1, 0.001, 1)
	assert.True(t, allowed)
}

type failingBackend struct{ calls int }

func (f *failingBackend) CheckRateLimit(context.Context, string, int, float64, int) (bool, int, error) {
	f.calls++
	return false, 0, errors.New("connection refused")
}

func TestFallbackDegradesToMemory(t *testing.T) {
	t.Parallel()
	primary := &failingBackend{}
	fb := NewFallbackBackend(primary)
	ctx := context.Background()

	allowed, _, err := fb.CheckRateLimit(ctx, "k", 2, 1, 1)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.True(t, fb.Degraded())

	// Within the probe interval the primary is not retried.
	_, _, err = fb.CheckRateLimit(ctx, "k", 2, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, primary.calls)
}

func TestMiddlewareThrottlesPerIP(t *testing.T) {
	t.Parallel()
	limiter := New(NewMemoryBackend(), Config{RequestsPerSecond: 0.001, Burst: 2})
	h := Middleware(limiter, []string{"/health/*"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	call := func(path, ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.RemoteAddr = ip + ":5000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, call("/functions/hello", "10.0.0.1").Code)
	assert.Equal(t, http.StatusOK, call("/functions/hello", "10.0.0.1").Code)

	rec := call("/functions/hello", "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"code":155,"error":"too many requests, please retry later"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, call("/functions/hello", "10.0.0.2").Code)
	assert.Equal(t, http.StatusOK, call("/health/live", "10.0.0.1").Code)
}

func TestMiddlewareNilLimiterPassesThrough(t *testing.T) {
	t.Parallel()
	h := Middleware(nil, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestClientIP(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded chain", map[string]string{"X-Forwarded-For": "1.2.3.4, 10.0.0.1"}, "9.9.9.9:1", "1.2.3.4"},
		{"real ip", map[string]string{"X-Real-IP": " 5.6.7.8 "}, "9.9.9.9:1", "5.6.7.8"},
		{"remote v4", nil, "9.9.9.9:1234", "9.9.9.9"},
		{"remote v6", nil, "[::1]:1234", "::1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, clientIP(req))
		})
	}
}

func newTestRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available, skipping: %v", err)
	}
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	return client
}

func TestRedisBackendDenyWhenExhausted(t *testing.T) {
	client := newTestRedisClient(t)
	b := NewRedisBackend(client)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		allowed, _, err := b.CheckRateLimit(ctx, "test:exhaust", 5, 0.001, 1)
		require.NoError(t, err)
		require.True(t, allowed, "request %d", i)
	}
	allowed, remaining, err := b.CheckRateLimit(ctx, "test:exhaust", 5, 0.001, 1)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 0, remaining)
}
