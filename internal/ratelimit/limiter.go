// Package ratelimit implements a fixed-window request throttle.
//
// Each client key gets a counter and a window end. The first request opens a
// window of Window length; requests are admitted until the counter reaches
// MaxRequests, and the window resets on the first request strictly after its
// end. Because windows are fixed, a client can land up to 2×MaxRequests in a
// short span straddling a boundary. That burst is accepted behavior.
package ratelimit

import (
	"context"
	"math"
	"net"
	"net/http"
	"strings"
	"time"
)

// Defaults.
const (
	DefaultWindow      = 60 * time.Second
	DefaultMaxRequests = 30
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter is set when the request is denied.
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds. A denied
// decision always reports at least one second.
func (d Decision) RetryAfterSeconds() int {
	if d.Allowed {
		return 0
	}
	s := int(math.Ceil(d.RetryAfter.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}

// Limiter decides whether a client key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Config sizes a limiter.
type Config struct {
	Window      time.Duration
	MaxRequests int
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.MaxRequests <= 0 {
		c.MaxRequests = DefaultMaxRequests
	}
	return c
}

// ClientKey identifies the caller of r. With trustProxy, the first
// X-Forwarded-For hop wins; otherwise the connection's remote host.
func ClientKey(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		return r.RemoteAddr
	}
	return host
}
