package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/soyeahso/concierge/internal/domain"
	"github.com/soyeahso/concierge/internal/logging"
	"github.com/soyeahso/concierge/internal/metrics"
)

// BreakerSettings configure a Breaker.
type BreakerSettings struct {
	MinRequests      uint32        // requests in a window before the ratio is checked
	FailureRatio     float64       // trip at or above this failure ratio
	OpenTimeout      time.Duration // how long the breaker stays open
	Interval         time.Duration // closed-state counting window
	HalfOpenRequests uint32        // probes allowed while half-open
}

// Breaker wraps a Client with a circuit breaker. Only transient and timeout
// failures count against the provider; a safety block or a bad key says
// nothing about its health.
type Breaker struct {
	next Client
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker wraps next. m may be nil.
func NewBreaker(next Client, s BreakerSettings, log *logging.Logger, m *metrics.Metrics) *Breaker {
	log = log.Sub("llm.breaker")
	name := next.Name()

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: s.HalfOpenRequests,
		Interval:    s.Interval,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= s.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("provider", name).Str("from", from.String()).Str("to", to.String()).Msg("generator circuit breaker state changed")
			m.SetBreakerState(name, int(to))
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			ue, ok := domain.AsUpstream(err)
			if !ok {
				return false
			}
			return ue.Category != domain.UpstreamTransient && ue.Category != domain.UpstreamTimeout
		},
	})
	m.SetBreakerState(name, int(gobreaker.StateClosed))

	return &Breaker{next: next, cb: cb}
}

// Name returns the wrapped provider's name.
func (b *Breaker) Name() string { return b.next.Name() }

// State reports the breaker state ("closed", "half-open", "open").
func (b *Breaker) State() string { return b.cb.State().String() }

// Generate calls the wrapped client unless the breaker is open.
func (b *Breaker) Generate(ctx context.Context, prompt string, cfg GenerateConfig) (*Generation, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Generate(ctx, prompt, cfg)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, domain.NewUpstreamError(domain.UpstreamUnavailable, fmt.Errorf("%s: %w", b.Name(), err))
	}
	if err != nil {
		return nil, err
	}
	return res.(*Generation), nil
}
