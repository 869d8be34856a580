package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/oriys/cloudcode/internal/logging"
)

// MemoryBackend keeps token buckets in process memory. Buckets are not
// shared between replicas.
type MemoryBackend struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	level float64
	at    time.Time
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{buckets: map[string]*bucket{}, now: time.Now}
}

func (m *MemoryBackend) CheckRateLimit(_ context.Context, key string, maxTokens int, refillRate float64, requested int) (bool, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	b := m.buckets[key]
	if b == nil {
		b = &bucket{level: float64(maxTokens), at: now}
		m.buckets[key] = b
	}
	if dt := now.Sub(b.at).Seconds(); dt > 0 {
		b.level = min(float64(maxTokens), b.level+dt*refillRate)
		b.at = now
	}
	ok := b.level >= float64(requested)
	if ok {
		b.level -= float64(requested)
	}
	return ok, int(b.level), nil
}

// probeInterval bounds how often a degraded FallbackBackend retries its
// primary.
const probeInterval = 5 * time.Second

// FallbackBackend answers from primary (Redis) and switches to memory
// buckets while primary fails.
type FallbackBackend struct {
	primary Backend
	memory  *MemoryBackend

	mu        sync.Mutex
	degraded  bool
	nextProbe time.Time
}

func NewFallbackBackend(primary Backend) *FallbackBackend {
	return &FallbackBackend{primary: primary, memory: NewMemoryBackend()}
}

func (f *FallbackBackend) CheckRateLimit(ctx context.Context, key string, maxTokens int, refillRate float64, requested int) (bool, int, error) {
	if !f.shouldProbe() {
		return f.memory.CheckRateLimit(ctx, key, maxTokens, refillRate, requested)
	}
	ok, left, err := f.primary.CheckRateLimit(ctx, key, maxTokens, refillRate, requested)
	f.observe(err)
	if err != nil {
		return f.memory.CheckRateLimit(ctx, key, maxTokens, refillRate, requested)
	}
	return ok, left, nil
}

func (f *FallbackBackend) shouldProbe() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.degraded || !time.Now().Before(f.nextProbe)
}

func (f *FallbackBackend) observe(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case err != nil:
		if !f.degraded {
			logging.Op().Warn("rate limit store unavailable, using memory buckets", "error", err)
		}
		f.degraded = true
		f.nextProbe = time.Now().Add(probeInterval)
	case f.degraded:
		logging.Op().Info("rate limit store recovered")
		f.degraded = false
	}
}

// Degraded reports whether checks are currently answered from memory.
func (f *FallbackBackend) Degraded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.degraded
}
