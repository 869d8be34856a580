// Package ratelimit throttles webhook callers with token buckets, kept in
// Redis when available and in process memory otherwise.
package ratelimit

import (
	"context"
	"time"
)

// Backend performs one atomic token bucket check.
type Backend interface {
	CheckRateLimit(ctx context.Context, key string, maxTokens int, refillRate float64, requested int) (allowed bool, remaining int, err error)
}

// Config holds the bucket shape shared by every caller.
type Config struct {
	RequestsPerSecond float64
	Burst             int
}

// Limiter applies Config to per-key buckets in a Backend.
type Limiter struct {
	backend Backend
	cfg     Config
}

// New creates a limiter. Non-positive values fall back to 50 rps / burst 100.
func New(backend Backend, cfg Config) *Limiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 50
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 100
	}
	return &Limiter{backend: backend, cfg: cfg}
}

// Result contains the result of a rate limit check
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Allow takes one token from the bucket for key.
func (l *Limiter) Allow(ctx context.Context, key string) (Result, error) {
	allowed, remaining, err := l.backend.CheckRateLimit(ctx, key, l.cfg.Burst, l.cfg.RequestsPerSecond, 1)
	if err != nil {
		return Result{}, err
	}
	// When the bucket will be full again
	missing := float64(l.cfg.Burst - remaining)
	resetAt := time.Now().Add(time.Duration(missing / l.cfg.RequestsPerSecond * float64(time.Second)))
	return Result{Allowed: allowed, Remaining: remaining, ResetAt: resetAt}, nil
}

// KeyForIP returns the rate limit key for an IP address
func KeyForIP(ip string) string {
	return "ip:" + ip
}
