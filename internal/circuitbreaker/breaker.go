// Package circuitbreaker guards outbound calls to one upstream host so a
// failing platform endpoint is not hammered by every invocation.
//
// A breaker is closed until the failure share of the outcomes seen in the
// last WindowDuration reaches ErrorPct. It then rejects calls for
// OpenDuration, lets HalfOpenProbes calls through, and closes again once
// all of them succeed. A failed probe reopens it.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned when a call is rejected without reaching the host.
var ErrOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds the circuit breaker configuration.
type Config struct {
	ErrorPct       float64       // failure percentage (0-100) that trips the breaker
	WindowDuration time.Duration // span of outcomes considered
	OpenDuration   time.Duration // rejection period before probing
	HalfOpenProbes int           // probes let through while half-open
	MinRequests    int           // outcomes needed in the window before tripping
}

// windowBuckets is the resolution of the sliding window.
const windowBuckets = 10

type bucket struct {
	start  time.Time
	ok     int
	failed int
}

// Breaker is a per-host circuit breaker. It is safe for concurrent use.
type Breaker struct {
	mu  sync.Mutex
	cfg Config
	now func() time.Time

	state    State
	window   [windowBuckets]bucket
	openedAt time.Time
	probes   int // probes let through in the current half-open period
	probesOK int
}

// New creates a closed breaker.
func New(cfg Config) *Breaker {
	return newWithClock(cfg, time.Now)
}

func newWithClock(cfg Config, now func() time.Time) *Breaker {
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = 1
	}
	return &Breaker{cfg: cfg, now: now}
}

// Allow reports whether a call may go out now. While half-open each true
// result uses up one probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.advance(b.now())
	switch b.state {
	case StateOpen:
		return false
	case StateHalfOpen:
		if b.probes >= b.cfg.HalfOpenProbes {
			return false
		}
		b.probes++
		return true
	default:
		return true
	}
}

// Execute runs fn when the breaker allows it and records the outcome.
// failed decides whether a returned error counts against the host; a nil
// classifier counts every error.
func (b *Breaker) Execute(fn func() error, failed func(error) bool) error {
	if !b.Allow() {
		return ErrOpen
	}
	err := fn()
	if err != nil && (failed == nil || failed(err)) {
		b.RecordFailure()
	} else {
		b.RecordSuccess()
	}
	return err
}

// RecordSuccess records a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	switch b.state {
	case StateClosed:
		b.bucketAt(now).ok++
	case StateHalfOpen:
		b.probesOK++
		if b.probesOK >= b.cfg.HalfOpenProbes {
			b.state = StateClosed
			b.window = [windowBuckets]bucket{}
		}
	}
}

// RecordFailure records a failed call.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	switch b.state {
	case StateClosed:
		b.bucketAt(now).failed++
		if b.shouldTrip(now) {
			b.trip(now)
		}
	case StateHalfOpen:
		b.trip(now)
	}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance(b.now())
	return b.state
}

// advance moves an expired open breaker to half-open. Caller holds mu.
func (b *Breaker) advance(now time.Time) {
	if b.state == StateOpen && now.Sub(b.openedAt) >= b.cfg.OpenDuration {
		b.state = StateHalfOpen
		b.probes, b.probesOK = 0, 0
	}
}

func (b *Breaker) trip(now time.Time) {
	b.state = StateOpen
	b.openedAt = now
}

func (b *Breaker) bucketWidth() time.Duration {
	if w := b.cfg.WindowDuration / windowBuckets; w > 0 {
		return w
	}
	return time.Millisecond
}

// bucketAt returns the bucket covering now, recycling a stale slot.
func (b *Breaker) bucketAt(now time.Time) *bucket {
	width := b.bucketWidth()
	start := now.Truncate(width)
	slot := &b.window[(start.UnixNano()/int64(width))%windowBuckets]
	if !slot.start.Equal(start) {
		*slot = bucket{start: start}
	}
	return slot
}

func (b *Breaker) shouldTrip(now time.Time) bool {
	cutoff := now.Add(-b.cfg.WindowDuration)
	var ok, failed int
	for _, bk := range b.window {
		if bk.start.After(cutoff) {
			ok += bk.ok
			failed += bk.failed
		}
	}
	total := ok + failed
	if total == 0 || total < b.cfg.MinRequests {
		return false
	}
	return float64(failed)/float64(total)*100 >= b.cfg.ErrorPct
}

// Registry holds one breaker per upstream host, all sharing a config.
type Registry struct {
	mu       sync.RWMutex
	cfg      Config
	breakers map[string]*Breaker
}

// NewRegistry creates a new breaker registry.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:      cfg,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for host, creating it on first use. It returns
// nil for a nil registry or a config that disables breaking.
func (r *Registry) Get(host string) *Breaker {
	if r == nil || r.cfg.ErrorPct <= 0 || r.cfg.WindowDuration <= 0 || r.cfg.OpenDuration <= 0 {
		return nil
	}

	r.mu.RLock()
	b, ok := r.breakers[host]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[host]; ok {
		return b
	}
	b = New(r.cfg)
	r.breakers[host] = b
	return b
}

// Snapshot maps each known host to its breaker state.
func (r *Registry) Snapshot() map[string]string {
	if r == nil {
		return map[string]string{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.breakers))
	for host, b := range r.breakers {
		out[host] = b.State().String()
	}
	return out
}
