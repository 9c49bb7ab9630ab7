// Package contextcache keeps the catalog summary the assistant is grounded
// on. Stale data is preferred to no data: a failed refresh falls back to the
// last good payload, and with none it falls back to a fixed default.
package contextcache

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soyeahso/concierge/internal/catalog"
	"github.com/soyeahso/concierge/internal/domain"
	"github.com/soyeahso/concierge/internal/hooks"
	"github.com/soyeahso/concierge/internal/logging"
	"github.com/soyeahso/concierge/internal/metrics"
	"golang.org/x/sync/singleflight"
)

// Defaults.
const (
	DefaultTTL          = 30 * time.Minute
	DefaultFetchTimeout = 10 * time.Second
	DefaultMaxChars     = 3000
)

// DefaultText is served when no catalog data has ever been fetched.
const DefaultText = "We offer guided tours across many destinations, including " +
	"cruises, adventure treks, cultural and culinary experiences. " +
	"Ask about destinations, prices or trip lengths and our team will help you choose."

const flightKey = "catalog"

// Context is what the prompt assembler reads.
type Context struct {
	Text      string                 `json:"text"`
	Summary   *domain.CatalogSummary `json:"summary,omitempty"`
	FetchedAt time.Time              `json:"fetchedAt"`
	// Stale marks a payload served after a failed refresh. It is metadata
	// only; Text, Summary and FetchedAt are the prior payload's, unchanged.
	Stale     bool                   `json:"stale"`
	Default   bool                   `json:"default"`
}

// Status is read-only cache introspection.
type Status struct {
	HasCache   bool       `json:"hasCache"`
	LastUpdate *time.Time `json:"lastUpdate"`
	IsExpired  bool       `json:"isExpired"`
	AgeMinutes float64    `json:"ageMinutes"`
}

// Options configure a Cache.
type Options struct {
	TTL          time.Duration
	FetchTimeout time.Duration
	MaxChars     int
	Now          func() time.Time
	Metrics      *metrics.Metrics
}

// Cache is a TTL cache over catalog.Source.Summary. Concurrent misses share
// one in-flight fetch.
type Cache struct {
	source catalog.Source
	opts   Options
	log    *logging.Logger
	hooks  *hooks.Manager

	mu      sync.RWMutex
	payload *Context
	gen     uint64 // bumped by Invalidate; a flight started earlier must not store

	group   singleflight.Group
	fetches atomic.Int64
}

// New creates a cache over source. hooks may be nil.
func New(source catalog.Source, opts Options, log *logging.Logger, hm *hooks.Manager) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = DefaultMaxChars
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache{
		source: source,
		opts:   opts,
		log:    log.Sub("contextcache"),
		hooks:  hm,
	}
}

// Get returns the cached context, refreshing it when absent, expired or
// forced. It never fails: on a refresh error the previous payload comes back
// marked Stale, and with no previous payload a Default context is returned.
// A forced call that arrives while a fetch is in flight joins that fetch.
func (c *Cache) Get(ctx context.Context, force bool) Context {
	if !force {
		if p, ok := c.fresh(); ok {
			return p
		}
	}

	ch := c.group.DoChan(flightKey, func() (any, error) {
		return c.refresh(ctx)
	})

	select {
	case res := <-ch:
		if res.Err == nil {
			return res.Val.(Context)
		}
		return c.fallback(res.Err)
	case <-ctx.Done():
		return c.fallback(ctx.Err())
	}
}

// Invalidate drops the payload so the next Get refetches. A fetch already
// in flight still answers its waiters but its result is not cached.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.payload = nil
	c.gen++
	c.mu.Unlock()
	c.group.Forget(flightKey)
	c.log.Info().Msg("context cache invalidated")
}

// Status reports cache state without triggering a fetch.
func (c *Cache) Status() Status {
	c.mu.RLock()
	p := c.payload
	c.mu.RUnlock()

	if p == nil {
		return Status{IsExpired: true}
	}
	age := c.opts.Now().Sub(p.FetchedAt)
	last := p.FetchedAt
	return Status{
		HasCache:   true,
		LastUpdate: &last,
		IsExpired:  age >= c.opts.TTL,
		AgeMinutes: math.Round(age.Minutes()*100) / 100,
	}
}

// Fetches returns the number of refreshes that were stored.
func (c *Cache) Fetches() int64 {
	return c.fetches.Load()
}

func (c *Cache) fresh() (Context, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.payload == nil || c.opts.Now().Sub(c.payload.FetchedAt) >= c.opts.TTL {
		return Context{}, false
	}
	return *c.payload, true
}

// refresh runs once per flight. The fetch is detached from the triggering
// caller so its cancellation cannot fail the other waiters.
func (c *Cache) refresh(ctx context.Context) (Context, error) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.FetchTimeout)
	defer cancel()

	c.mu.RLock()
	gen := c.gen
	c.mu.RUnlock()

	start := time.Now()
	summary, err := c.source.Summary(fctx)
	if err != nil {
		return Context{}, err
	}

	p := Context{
		Text:      catalog.Render(summary, c.opts.MaxChars),
		Summary:   &summary,
		FetchedAt: c.opts.Now(),
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		c.log.Debug().Msg("cache invalidated during fetch, result not stored")
		return p, nil
	}
	c.payload = &p
	c.mu.Unlock()

	c.fetches.Add(1)
	c.opts.Metrics.CacheRefresh("ok")
	c.log.Debug().
		Int("tours", summary.Statistics.TotalTours).
		Dur("took", time.Since(start)).
		Msg("context refreshed")
	c.hooks.EmitAsync(ctx, hooks.EventCacheRefreshed, map[string]any{
		"tours":     summary.Statistics.TotalTours,
		"fetchedAt": p.FetchedAt,
	})
	return p, nil
}

func (c *Cache) fallback(err error) Context {
	c.mu.RLock()
	p := c.payload
	c.mu.RUnlock()

	if p != nil {
		c.opts.Metrics.CacheRefresh("stale")
		c.log.Warn().Err(err).Time("fetchedAt", p.FetchedAt).Msg("context refresh failed, serving stale payload")
		stale := *p
		stale.Stale = true
		return stale
	}

	c.opts.Metrics.CacheRefresh("default")
	c.log.Warn().Err(err).Msg("context refresh failed, serving default context")
	return Context{Text: DefaultText, Default: true}
}
