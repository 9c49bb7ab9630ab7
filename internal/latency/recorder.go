// Package latency times request lifecycles and summarizes them.
package latency

import (
	"context"
	"sync"
	"time"

	"github.com/soyeahso/concierge/internal/domain"
	"github.com/soyeahso/concierge/internal/logging"
	"github.com/soyeahso/concierge/internal/metrics"
)

// Defaults.
const (
	DefaultCapacity  = 1000
	DefaultQueueSize = 256
	persistTimeout   = 5 * time.Second
)

// Sink persists finished samples.
type Sink interface {
	SaveLatency(ctx context.Context, s domain.LatencySample) error
}

// Result is how a request finished.
type Result struct {
	Success      bool
	StatusCode   int
	OutputLength int
	Err          error
}

// Options configure a Recorder.
type Options struct {
	Capacity  int
	QueueSize int
	Now       func() time.Time
	Sink      Sink // optional
	Metrics   *metrics.Metrics
}

type inflight struct {
	endpoint string
	started  time.Time
	meta     domain.RequestMetadata
}

// Recorder keeps the most recent samples in a ring and hands each one to an
// optional Sink on a background worker. Sink failures are logged only.
type Recorder struct {
	opts Options
	log  *logging.Logger

	mu      sync.Mutex
	active  map[string]inflight
	samples *ring[domain.LatencySample]
	queue   chan domain.LatencySample
	closed  bool
	done    chan struct{}
}

// New creates a Recorder. When opts.Sink is set a persistence worker is
// started; Close stops it.
func New(opts Options, log *logging.Logger) *Recorder {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	r := &Recorder{
		opts:    opts,
		log:     log.Sub("latency"),
		active:  make(map[string]inflight),
		samples: newRing[domain.LatencySample](opts.Capacity),
		done:    make(chan struct{}),
	}
	if opts.Sink != nil {
		r.queue = make(chan domain.LatencySample, opts.QueueSize)
		go r.persist()
	} else {
		close(r.done)
	}
	return r
}

// Start marks requestID as in flight. Starting an id twice restarts its clock.
func (r *Recorder) Start(requestID, endpoint string, meta domain.RequestMetadata) {
	now := r.opts.Now()
	r.mu.Lock()
	r.active[requestID] = inflight{endpoint: endpoint, started: now, meta: meta}
	r.mu.Unlock()
}

// End finishes requestID and records its sample. Ending an id that is not
// in flight (including a second End) is a no-op and returns false.
func (r *Recorder) End(requestID string, res Result) (domain.LatencySample, bool) {
	now := r.opts.Now()

	r.mu.Lock()
	req, ok := r.active[requestID]
	if !ok {
		r.mu.Unlock()
		return domain.LatencySample{}, false
	}
	delete(r.active, requestID)

	meta := req.meta
	if res.OutputLength > 0 {
		meta.OutputLength = res.OutputLength
	}
	s := domain.LatencySample{
		RequestID:  requestID,
		Endpoint:   req.endpoint,
		StartedAt:  req.started,
		DurationMs: now.Sub(req.started).Milliseconds(),
		Success:    res.Success,
		StatusCode: res.StatusCode,
		Metadata:   meta,
	}
	if res.Err != nil {
		s.Error = res.Err.Error()
	}
	r.samples.push(s)

	dropped := false
	if r.queue != nil && !r.closed {
		select {
		case r.queue <- s:
		default:
			dropped = true
		}
	}
	r.mu.Unlock()

	if dropped {
		r.opts.Metrics.DroppedSample()
		r.log.Warn().Str("requestId", requestID).Msg("latency persistence queue full, sample not persisted")
	}
	r.opts.Metrics.ObserveRequest(s.Endpoint, now.Sub(req.started), s.Success, s.StatusCode)
	return s, true
}

// Stats summarizes ring samples matching f.
func (r *Recorder) Stats(f Filter) Stats {
	return Summarize(r.Samples(f))
}

// Trend buckets every ring sample by start time.
func (r *Recorder) Trend(bucket time.Duration) []Bucket {
	return Buckets(r.Samples(Filter{}), bucket)
}

// Samples returns ring samples matching f, oldest first.
func (r *Recorder) Samples(f Filter) []domain.LatencySample {
	now := r.opts.Now()
	r.mu.Lock()
	all := r.samples.items()
	r.mu.Unlock()

	out := all[:0]
	for _, s := range all {
		if f.Match(s, now) {
			out = append(out, s)
		}
	}
	return out
}

// Active returns the number of requests in flight.
func (r *Recorder) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Len returns the number of samples held.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.samples.len()
}

// Close stops accepting samples for persistence and waits for the queue to drain.
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		if r.queue != nil {
			close(r.queue)
		}
	}
	r.mu.Unlock()
	<-r.done
}

func (r *Recorder) persist() {
	defer close(r.done)
	for s := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := r.opts.Sink.SaveLatency(ctx, s); err != nil {
			r.log.Warn().Err(err).Str("requestId", s.RequestID).Msg("persisting latency sample failed")
		}
		cancel()
	}
}
