package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces limiter keys in Redis.
const DefaultKeyPrefix = "concierge:ratelimit:"

// fixedWindow increments the counter and opens the window on the first hit.
// A key left without a TTL (e.g. after a crash between calls) is repaired.
// Returns {count, pttl}.
var fixedWindow = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// Redis is a fixed-window limiter shared by every replica using the same
// Redis instance.
type Redis struct {
	client redis.Scripter
	cfg    Config
	prefix string
	now    func() time.Time
}

// NewRedis creates a Redis-backed limiter.
func NewRedis(client redis.Scripter, cfg Config) *Redis {
	return &Redis{
		client: client,
		cfg:    cfg.withDefaults(),
		prefix: DefaultKeyPrefix,
		now:    time.Now,
	}
}

// Allow returns an error when Redis is unreachable; callers choose whether
// to fail open.
func (r *Redis) Allow(ctx context.Context, key string) (Decision, error) {
	vals, err := fixedWindow.Run(ctx, r.client, []string{r.prefix + key}, r.cfg.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script: %w", err)
	}
	if len(vals) != 2 {
		return Decision{}, fmt.Errorf("rate limit script: unexpected reply %v", vals)
	}

	count, ttl := int(vals[0]), time.Duration(vals[1])*time.Millisecond
	d := Decision{
		Allowed:   count <= r.cfg.MaxRequests,
		Limit:     r.cfg.MaxRequests,
		Remaining: max(r.cfg.MaxRequests-count, 0),
		ResetAt:   r.now().Add(ttl),
	}
	if !d.Allowed {
		d.RetryAfter = ttl
	}
	return d, nil
}
