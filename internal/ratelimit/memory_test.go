package ratelimit

import (
	"context"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(clk *clock) *Memory {
	return NewMemory(Config{Window: 60 * time.Second, MaxRequests: 30}, WithClock(clk.Now))
}

func TestFixedWindow(t *testing.T) {
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	l := newTestLimiter(clk)
	ctx := context.Background()

	for i := 1; i <= 30; i++ {
		d, err := l.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		require.True(t, d.Allowed, "call %d should be allowed", i)
		assert.Equal(t, 30-i, d.Remaining)
		clk.Advance(time.Second)
	}

	d, err := l.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, d.Allowed, "call 31 is denied")
	assert.LessOrEqual(t, d.RetryAfterSeconds(), 60)
	assert.Equal(t, 30, d.RetryAfterSeconds())
	assert.Equal(t, 0, d.Remaining)

	clk.Advance(30*time.Second + time.Millisecond)
	d, err = l.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "call 32 after the window opens a new one")
	assert.Equal(t, 29, d.Remaining)
	assert.Equal(t, clk.Now().Add(60*time.Second), d.ResetAt)
}

func TestResetIsStrictlyAfterWindowEnd(t *testing.T) {
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	l := NewMemory(Config{Window: time.Minute, MaxRequests: 1}, WithClock(clk.Now))
	ctx := context.Background()

	d, _ := l.Allow(ctx, "k")
	require.True(t, d.Allowed)

	clk.Advance(time.Minute)
	d, _ = l.Allow(ctx, "k")
	assert.False(t, d.Allowed, "now == resetAt is still inside the window")
	assert.Equal(t, 1, d.RetryAfterSeconds(), "denials always ask for at least a second")

	clk.Advance(time.Millisecond)
	d, _ = l.Allow(ctx, "k")
	assert.True(t, d.Allowed)
}

func TestKeysAreIndependent(t *testing.T) {
	clk := &clock{now: time.Now()}
	l := NewMemory(Config{Window: time.Minute, MaxRequests: 2}, WithClock(clk.Now))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, _ := l.Allow(ctx, "a")
		assert.True(t, d.Allowed)
	}
	d, _ := l.Allow(ctx, "a")
	assert.False(t, d.Allowed)

	d, _ = l.Allow(ctx, "b")
	assert.True(t, d.Allowed)
}

func TestBoundaryBurstIsAccepted(t *testing.T) {
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	l := NewMemory(Config{Window: time.Minute, MaxRequests: 30}, WithClock(clk.Now))
	ctx := context.Background()

	// Open the window, then burst at its very end and right after it.
	l.Allow(ctx, "k")
	clk.Advance(59 * time.Second)
	allowed := 0
	for i := 0; i < 29; i++ {
		if d, _ := l.Allow(ctx, "k"); d.Allowed {
			allowed++
		}
	}
	clk.Advance(time.Second + time.Millisecond)
	for i := 0; i < 30; i++ {
		if d, _ := l.Allow(ctx, "k"); d.Allowed {
			allowed++
		}
	}
	assert.Equal(t, 59, allowed, "fixed windows admit close to 2x the limit across a boundary")
}

func TestSweep(t *testing.T) {
	clk := &clock{now: time.Now()}
	l := newTestLimiter(clk)
	ctx := context.Background()

	l.Allow(ctx, "old")
	clk.Advance(45 * time.Second)
	l.Allow(ctx, "new")
	clk.Advance(16 * time.Second)

	assert.Equal(t, 1, l.Sweep())
	assert.Equal(t, 1, l.Len())
}

func TestMaxKeysSweepsExpired(t *testing.T) {
	clk := &clock{now: time.Now()}
	l := NewMemory(Config{Window: time.Second, MaxRequests: 5}, WithClock(clk.Now), WithMaxKeys(3))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		l.Allow(ctx, fmt.Sprintf("k%d", i))
	}
	clk.Advance(2 * time.Second)
	l.Allow(ctx, "fresh")

	assert.Equal(t, 1, l.Len())
}

func TestRunStopsOnCancel(t *testing.T) {
	l := NewMemory(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestConcurrentAllowNeverExceedsLimit(t *testing.T) {
	l := NewMemory(Config{Window: time.Hour, MaxRequests: 50})
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d, _ := l.Allow(ctx, "k"); d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, allowed)
}

func TestDefaults(t *testing.T) {
	l := NewMemory(Config{})
	d, err := l.Allow(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxRequests, d.Limit)
	assert.Equal(t, DefaultMaxRequests-1, d.Remaining)
}

func TestClientKey(t *testing.T) {
	tests := []struct {
		name       string
		remote     string
		xff        string
		trustProxy bool
		want       string
	}{
		{"remote host", "10.0.0.1:5555", "", false, "10.0.0.1"},
		{"ignores xff when untrusted", "10.0.0.1:5555", "203.0.113.9", false, "10.0.0.1"},
		{"first xff hop", "10.0.0.1:5555", "203.0.113.9, 10.0.0.7", true, "203.0.113.9"},
		{"empty xff falls back", "10.0.0.1:5555", " , x", true, "10.0.0.1"},
		{"ipv6", "[::1]:80", "", false, "::1"},
		{"no port", "pipe", "", false, "pipe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			assert.Equal(t, tt.want, ClientKey(r, tt.trustProxy))
		})
	}
}
