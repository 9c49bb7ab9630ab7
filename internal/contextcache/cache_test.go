package contextcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/soyeahso/concierge/internal/domain"
	"github.com/soyeahso/concierge/internal/hooks"
	"github.com/soyeahso/concierge/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var silentLog = logging.New(nil, "silent")

// fakeSource counts Summary calls; fail and gate control its behavior.
type fakeSource struct {
	calls atomic.Int32
	fail  atomic.Bool
	gate  chan struct{}
	tours int
}

func (f *fakeSource) Summary(ctx context.Context) (domain.CatalogSummary, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return domain.CatalogSummary{}, ctx.Err()
		}
	}
	if f.fail.Load() {
		return domain.CatalogSummary{}, errors.New("catalog database unreachable")
	}
	return domain.CatalogSummary{Statistics: domain.CatalogStatistics{TotalTours: f.tours}}, nil
}

func (f *fakeSource) GetByID(context.Context, string) (domain.Tour, error) {
	return domain.Tour{}, nil
}

func (f *fakeSource) Search(context.Context, string) ([]domain.Tour, error) { return nil, nil }

func (f *fakeSource) ByPriceRange(context.Context, float64, float64) ([]domain.Tour, error) {
	return nil, nil
}

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

func newCache(src *fakeSource, clk *clock) *Cache {
	return New(src, Options{TTL: 30 * time.Minute, Now: clk.Now}, silentLog, nil)
}

func TestGetWithinTTLFetchesOnce(t *testing.T) {
	src := &fakeSource{tours: 3}
	clk := &clock{now: time.Now()}
	c := newCache(src, clk)
	ctx := context.Background()

	first := c.Get(ctx, false)
	clk.Advance(29 * time.Minute)
	second := c.Get(ctx, false)

	assert.Equal(t, int32(1), src.calls.Load())
	assert.Equal(t, first, second)
	assert.Contains(t, first.Text, "3 tours")
	assert.False(t, first.Stale)
	assert.False(t, first.Default)
	assert.Equal(t, int64(1), c.Fetches())
}

func TestGetAfterTTLRefetches(t *testing.T) {
	src := &fakeSource{tours: 1}
	clk := &clock{now: time.Now()}
	c := newCache(src, clk)
	ctx := context.Background()

	c.Get(ctx, false)
	clk.Advance(30 * time.Minute)
	c.Get(ctx, false)

	assert.Equal(t, int32(2), src.calls.Load())
}

func TestForceAlwaysFetches(t *testing.T) {
	src := &fakeSource{}
	clk := &clock{now: time.Now()}
	c := newCache(src, clk)
	ctx := context.Background()

	c.Get(ctx, false)
	c.Get(ctx, true)
	c.Get(ctx, true)

	assert.Equal(t, int32(3), src.calls.Load())
}

func TestFailureServesStalePayload(t *testing.T) {
	src := &fakeSource{tours: 7}
	clk := &clock{now: time.Now()}
	c := newCache(src, clk)
	ctx := context.Background()

	good := c.Get(ctx, false)

	src.fail.Store(true)
	clk.Advance(time.Hour)
	got := c.Get(ctx, false)

	assert.True(t, got.Stale)
	assert.Equal(t, good.Text, got.Text)
	assert.Equal(t, good.FetchedAt, got.FetchedAt)
	assert.Equal(t, good.Summary, got.Summary)

	// the stale copy does not overwrite the stored payload
	st := c.Status()
	assert.True(t, st.HasCache)
	assert.True(t, st.IsExpired)
}

func TestFailureWithoutPayloadServesDefault(t *testing.T) {
	src := &fakeSource{}
	src.fail.Store(true)
	c := newCache(src, &clock{now: time.Now()})

	got := c.Get(context.Background(), false)
	assert.True(t, got.Default)
	assert.Equal(t, DefaultText, got.Text)
	assert.False(t, c.Status().HasCache, "default context is never cached")
}

func TestInvalidateForcesRefetch(t *testing.T) {
	src := &fakeSource{}
	c := newCache(src, &clock{now: time.Now()})
	ctx := context.Background()

	c.Get(ctx, false)
	c.Invalidate()
	assert.False(t, c.Status().HasCache)

	c.Get(ctx, false)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestInvalidateThenFailureServesDefault(t *testing.T) {
	src := &fakeSource{}
	c := newCache(src, &clock{now: time.Now()})
	ctx := context.Background()

	c.Get(ctx, false)
	c.Invalidate()
	src.fail.Store(true)

	assert.True(t, c.Get(ctx, false).Default)
}

func TestStatus(t *testing.T) {
	src := &fakeSource{}
	clk := &clock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	c := newCache(src, clk)

	st := c.Status()
	assert.False(t, st.HasCache)
	assert.Nil(t, st.LastUpdate)

	c.Get(context.Background(), false)
	clk.Advance(90 * time.Second)

	st = c.Status()
	assert.True(t, st.HasCache)
	require.NotNil(t, st.LastUpdate)
	assert.Equal(t, time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC), *st.LastUpdate)
	assert.False(t, st.IsExpired)
	assert.Equal(t, 1.5, st.AgeMinutes)
}

func TestConcurrentMissesShareOneFetch(t *testing.T) {
	src := &fakeSource{gate: make(chan struct{})}
	c := newCache(src, &clock{now: time.Now()})

	const callers = 20
	var wg sync.WaitGroup
	results := make([]Context, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Get(context.Background(), false)
		}(i)
	}

	// let every caller reach the in-flight fetch before releasing it
	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(src.gate)
	wg.Wait()

	assert.Equal(t, int32(1), src.calls.Load())
	for _, r := range results {
		assert.False(t, r.Default)
	}
}

func TestCallerCancellationDoesNotAbortSharedFetch(t *testing.T) {
	src := &fakeSource{gate: make(chan struct{}), tours: 2}
	c := newCache(src, &clock{now: time.Now()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Context)
	go func() { done <- c.Get(ctx, false) }()

	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()
	got := <-done
	assert.True(t, got.Default, "cancelled caller gets a fallback immediately")

	close(src.gate)
	require.Eventually(t, func() bool { return c.Fetches() == 1 }, time.Second, time.Millisecond)

	fresh := c.Get(context.Background(), false)
	assert.False(t, fresh.Default)
	assert.Contains(t, fresh.Text, "2 tours")
}

func TestInvalidateDuringFetchDiscardsResult(t *testing.T) {
	src := &fakeSource{gate: make(chan struct{}), tours: 1}
	c := newCache(src, &clock{now: time.Now()})

	done := make(chan Context)
	go func() { done <- c.Get(context.Background(), false) }()
	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)

	c.Invalidate()
	close(src.gate)
	got := <-done

	// the waiter still gets the data it asked for
	assert.Contains(t, got.Text, "1 tours")
	assert.False(t, got.Default)
	assert.False(t, c.Status().HasCache)
	assert.Zero(t, c.Fetches())

	src.tours = 2
	next := c.Get(context.Background(), false)
	assert.Equal(t, int32(2), src.calls.Load())
	assert.Contains(t, next.Text, "2 tours")
	assert.Equal(t, int64(1), c.Fetches())
}

func TestInvalidateStartsNewFlight(t *testing.T) {
	src := &fakeSource{gate: make(chan struct{}), tours: 3}
	c := newCache(src, &clock{now: time.Now()})

	var wg sync.WaitGroup
	get := func() {
		defer wg.Done()
		c.Get(context.Background(), false)
	}
	wg.Add(1)
	go get()
	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)

	c.Invalidate()
	wg.Add(1)
	go get()
	require.Eventually(t, func() bool { return src.calls.Load() == 2 }, time.Second, time.Millisecond)

	close(src.gate)
	wg.Wait()

	// only the flight started after the invalidation is kept
	assert.Equal(t, int64(1), c.Fetches())
	assert.True(t, c.Status().HasCache)
}

func TestFetchTimeout(t *testing.T) {
	src := &fakeSource{gate: make(chan struct{})}
	c := New(src, Options{FetchTimeout: 20 * time.Millisecond}, silentLog, nil)

	got := c.Get(context.Background(), false)
	assert.True(t, got.Default)
}

func TestRefreshEmitsHook(t *testing.T) {
	hm := hooks.NewManager(silentLog)
	var emitted atomic.Int32
	hm.On(hooks.EventCacheRefreshed, "test", func(_ context.Context, p hooks.Payload) error {
		emitted.Add(1)
		assert.Equal(t, 4, p.Data["tours"])
		return nil
	})

	c := New(&fakeSource{tours: 4}, Options{}, silentLog, hm)
	c.Get(context.Background(), false)
	hm.Wait()

	assert.Equal(t, int32(1), emitted.Load())
}

func TestTextRespectsMaxChars(t *testing.T) {
	c := New(&fakeSource{tours: 9}, Options{MaxChars: 10}, silentLog, nil)
	got := c.Get(context.Background(), false)
	assert.Equal(t, "Catalog: 9...", got.Text)
}
