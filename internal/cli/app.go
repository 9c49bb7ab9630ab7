package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/soyeahso/concierge/internal/catalog"
	"github.com/soyeahso/concierge/internal/chat"
	"github.com/soyeahso/concierge/internal/config"
	"github.com/soyeahso/concierge/internal/contextcache"
	"github.com/soyeahso/concierge/internal/gateway"
	"github.com/soyeahso/concierge/internal/hooks"
	"github.com/soyeahso/concierge/internal/latency"
	"github.com/soyeahso/concierge/internal/llm"
	"github.com/soyeahso/concierge/internal/logging"
	"github.com/soyeahso/concierge/internal/metrics"
	"github.com/soyeahso/concierge/internal/prompt"
	"github.com/soyeahso/concierge/internal/ratelimit"
	"github.com/soyeahso/concierge/internal/satisfaction"
	"github.com/soyeahso/concierge/internal/session"
	"github.com/soyeahso/concierge/internal/store"
)

// app is the wired component graph shared by serve and message send.
type app struct {
	cfg      config.Config
	log      *logging.Logger
	hooks    *hooks.Manager
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	sessions *session.Store
	cache    *contextcache.Cache
	latency  *latency.Recorder
	ratings  *satisfaction.Aggregator
	chat     *chat.Service
	catalog  *catalog.FileSource

	db           *store.DB
	latencyStore *store.LatencyStore
	limiter      ratelimit.Limiter
	memLimiter   *ratelimit.Memory
	redis        *redis.Client

	closers []func()
}

type appOptions struct {
	// durable opens the configured store; otherwise ratings live in memory.
	durable bool
	// limit builds the configured rate limiter.
	limit bool
}

func buildApp(ctx context.Context, cfg config.Config, p config.Paths, log *logging.Logger, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, log: log, hooks: hooks.NewManager(log)}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(a.registry)

	var repo satisfaction.Repository = satisfaction.NewMemoryRepository()
	if opts.durable && cfg.Store.Driver == "sqlite" {
		db, err := store.Open(p.DatabasePath(cfg.Store), log)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		a.db = db
		a.closers = append(a.closers, func() { db.Close() })
		repo = store.NewRatingStore(db)
		a.latencyStore = store.NewLatencyStore(db)
	}

	var sink latency.Sink
	if a.latencyStore != nil && cfg.Latency.ShouldPersist() {
		sink = a.latencyStore
	}
	a.latency = latency.New(latency.Options{
		Capacity:  cfg.Latency.Capacity,
		QueueSize: cfg.Latency.QueueSize,
		Sink:      sink,
		Metrics:   a.metrics,
	}, log)
	// Registered after the db closer so the worker drains before the db closes.
	a.closers = append(a.closers, a.latency.Close)

	a.sessions = session.New(session.Options{
		MaxHistory:       cfg.Session.MaxHistory,
		MaxContentLength: cfg.Session.MaxContentLength,
	})
	a.closers = append(a.closers, a.sessions.Close)

	catalogPath := p.CatalogPath(cfg.Catalog)
	a.catalog = catalog.NewFileSource(catalogPath)
	a.cache = contextcache.New(a.catalog, contextcache.Options{
		TTL:          cfg.Context.TTL(),
		FetchTimeout: cfg.Context.FetchTimeout(),
		MaxChars:     cfg.Context.MaxChars,
		Metrics:      a.metrics,
	}, log, a.hooks)

	a.ratings = satisfaction.New(repo, satisfaction.Options{
		DefaultDays:       cfg.Ratings.DefaultDays,
		MaxFeedbackLength: cfg.Ratings.MaxFeedbackLength,
	}, log, a.hooks)

	gen, err := llm.NewFromConfig(cfg.Generator, log, a.metrics)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("configuring generator: %w", err)
	}

	a.chat = chat.New(chat.Deps{
		Sessions: a.sessions,
		Context:  a.cache,
		Prompts: prompt.New(a.cache, a.sessions, prompt.Options{
			RecentTurns:  cfg.Prompt.RecentTurns,
			TurnMaxChars: cfg.Prompt.TurnMaxChars,
		}),
		Generator: gen,
		Latency:   a.latency,
		Ratings:   a.ratings,
		Hooks:     a.hooks,
		Metrics:   a.metrics,
	}, chat.Options{
		MaxMessageLength: cfg.Chat.MaxMessageLength,
		ReplyTimeout:     cfg.Chat.ReplyTimeout(),
		Generate: llm.GenerateConfig{
			MaxTokens:   cfg.Generator.MaxTokens,
			Temperature: cfg.Generator.Temperature,
		},
	}, log)

	if opts.limit && cfg.RateLimit.IsEnabled() {
		if err := a.buildLimiter(ctx); err != nil {
			a.close()
			return nil, err
		}
	}

	log.Info().
		Str("store", cfg.Store.Driver).
		Bool("durable", a.db != nil).
		Str("catalog", catalogPath).
		Str("generator", gen.Name()).
		Msg("components ready")
	return a, nil
}

func (a *app) buildLimiter(ctx context.Context) error {
	rl := ratelimit.Config{Window: a.cfg.RateLimit.Window(), MaxRequests: a.cfg.RateLimit.MaxRequests}
	if a.cfg.RateLimit.Backend != "redis" {
		a.memLimiter = ratelimit.NewMemory(rl)
		a.limiter = a.memLimiter
		return nil
	}

	a.redis = redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	a.closers = append(a.closers, func() { a.redis.Close() })

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.redis.Ping(pingCtx).Err(); err != nil {
		// The limiter fails open, so an unreachable Redis only loses throttling.
		a.log.Warn().Err(err).Str("addr", a.cfg.Redis.Addr).Msg("redis unreachable at startup")
	}
	a.limiter = ratelimit.NewRedis(a.redis, rl)
	return nil
}

// runBackground starts the sweeper and retention loops. They stop with ctx.
func (a *app) runBackground(ctx context.Context) {
	if a.memLimiter != nil {
		go a.memLimiter.Run(ctx, a.cfg.RateLimit.Window())
	}
	if a.latencyStore != nil && a.cfg.Latency.RetentionDays > 0 {
		go a.pruneLoop(ctx, time.Hour)
	}
}

func (a *app) pruneLoop(ctx context.Context, interval time.Duration) {
	log := a.log.Sub("retention")
	prune := func() {
		cutoff := time.Now().Add(-a.cfg.Latency.Retention())
		n, err := a.latencyStore.Prune(ctx, cutoff)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn().Err(err).Msg("pruning latency samples failed")
			}
			return
		}
		if n > 0 {
			log.Info().Int64("removed", n).Time("cutoff", cutoff).Msg("pruned latency samples")
		}
	}

	prune()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}

// gatewayOptions exposes the optional pieces to the gateway.
func (a *app) gatewayOptions() []gateway.ServerOption {
	opts := []gateway.ServerOption{
		gateway.WithHooks(a.hooks),
		gateway.WithMetrics(a.metrics, a.registry),
	}
	if a.limiter != nil {
		opts = append(opts, gateway.WithLimiter(a.limiter))
	}
	if a.latencyStore != nil {
		opts = append(opts, gateway.WithLatencyStore(a.latencyStore))
	}
	if a.db != nil {
		opts = append(opts, gateway.WithCheck("store", func(context.Context) error { return a.db.Ping() }))
	}
	if a.redis != nil {
		opts = append(opts, gateway.WithCheck("redis", func(ctx context.Context) error { return a.redis.Ping(ctx).Err() }))
	}
	return opts
}

func (a *app) services() gateway.Services {
	return gateway.Services{Chat: a.chat, Cache: a.cache, Ratings: a.ratings, Latency: a.latency, Catalog: a.catalog}
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	a.hooks.Wait()
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
