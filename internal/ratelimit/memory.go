package ratelimit

import (
	"context"
	"sync"
	"time"
)

// DefaultMaxKeys bounds the number of tracked clients.
const DefaultMaxKeys = 100_000

type bucket struct {
	count   int
	resetAt time.Time
}

// Memory is a process-local fixed-window limiter.
type Memory struct {
	cfg     Config
	now     func() time.Time
	maxKeys int

	mu      sync.Mutex
	buckets map[string]*bucket
}

// MemoryOption configures a Memory limiter.
type MemoryOption func(*Memory)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// WithMaxKeys caps tracked clients; expired buckets are swept when the cap is hit.
func WithMaxKeys(n int) MemoryOption {
	return func(m *Memory) { m.maxKeys = n }
}

// NewMemory creates an in-memory limiter. It starts no goroutines; call Run
// to sweep expired buckets in the background.
func NewMemory(cfg Config, opts ...MemoryOption) *Memory {
	m := &Memory{
		cfg:     cfg.withDefaults(),
		now:     time.Now,
		maxKeys: DefaultMaxKeys,
		buckets: make(map[string]*bucket),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Memory) Allow(_ context.Context, key string) (Decision, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok || now.After(b.resetAt) {
		if !ok && len(m.buckets) >= m.maxKeys {
			m.sweepLocked(now)
		}
		b = &bucket{count: 1, resetAt: now.Add(m.cfg.Window)}
		m.buckets[key] = b
		return m.decision(b, true, now), nil
	}

	if b.count >= m.cfg.MaxRequests {
		return m.decision(b, false, now), nil
	}
	b.count++
	return m.decision(b, true, now), nil
}

func (m *Memory) decision(b *bucket, allowed bool, now time.Time) Decision {
	d := Decision{
		Allowed:   allowed,
		Limit:     m.cfg.MaxRequests,
		Remaining: max(m.cfg.MaxRequests-b.count, 0),
		ResetAt:   b.resetAt,
	}
	if !allowed {
		d.RetryAfter = b.resetAt.Sub(now)
	}
	return d
}

// Sweep drops buckets whose window has ended and returns how many it removed.
func (m *Memory) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweepLocked(now)
}

func (m *Memory) sweepLocked(now time.Time) int {
	n := 0
	for k, b := range m.buckets {
		if now.After(b.resetAt) {
			delete(m.buckets, k)
			n++
		}
	}
	return n
}

// Len returns the number of tracked clients.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}

// Run sweeps every interval until ctx is cancelled.
func (m *Memory) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}
