package latency

import (
	"math"
	"sort"
	"time"

	"github.com/soyeahso/concierge/internal/domain"
)

// Stats summarizes a set of samples. Durations are milliseconds.
type Stats struct {
	Count       int     `json:"count"`
	SuccessRate float64 `json:"successRate"`
	Avg         float64 `json:"avgMs"`
	Min         int64   `json:"minMs"`
	Max         int64   `json:"maxMs"`
	P50         int64   `json:"p50Ms"`
	P95         int64   `json:"p95Ms"`
	P99         int64   `json:"p99Ms"`
}

// Bucket is one slot of a latency trend.
type Bucket struct {
	BucketStart time.Time `json:"bucketStart"`
	Count       int       `json:"count"`
	SuccessRate float64   `json:"successRate"`
	AvgDuration float64   `json:"avgDurationMs"`
}

// Filter selects samples. Zero fields match everything. TimeRange keeps
// samples started within that duration before now; From and To are
// inclusive bounds on StartedAt.
type Filter struct {
	Endpoint  string
	SessionID string
	TimeRange time.Duration
	From      time.Time
	To        time.Time
}

// Match reports whether s passes f at the given time.
func (f Filter) Match(s domain.LatencySample, now time.Time) bool {
	if f.Endpoint != "" && s.Endpoint != f.Endpoint {
		return false
	}
	if f.SessionID != "" && s.Metadata.SessionID != f.SessionID {
		return false
	}
	if f.TimeRange > 0 && s.StartedAt.Before(now.Add(-f.TimeRange)) {
		return false
	}
	if !f.From.IsZero() && s.StartedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && s.StartedAt.After(f.To) {
		return false
	}
	return true
}

// Summarize computes count, success rate, mean, extremes and percentiles.
// pN is sorted[floor(n*N/100)], clamped to the last index. No samples
// yields the zero Stats.
func Summarize(samples []domain.LatencySample) Stats {
	n := len(samples)
	if n == 0 {
		return Stats{}
	}

	durations := make([]int64, n)
	var sum int64
	ok := 0
	for i, s := range samples {
		durations[i] = s.DurationMs
		sum += s.DurationMs
		if s.Success {
			ok++
		}
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	return Stats{
		Count:       n,
		SuccessRate: round2(float64(ok) / float64(n) * 100),
		Avg:         round2(float64(sum) / float64(n)),
		Min:         durations[0],
		Max:         durations[n-1],
		P50:         percentile(durations, 50),
		P95:         percentile(durations, 95),
		P99:         percentile(durations, 99),
	}
}

func percentile(sorted []int64, p int) int64 {
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Buckets groups samples into epoch-aligned windows of width bucket,
// ascending by start. Empty windows are omitted.
func Buckets(samples []domain.LatencySample, bucket time.Duration) []Bucket {
	width := bucket.Milliseconds()
	if width <= 0 {
		return []Bucket{}
	}

	type acc struct {
		count, ok int
		sum       int64
	}
	groups := map[int64]*acc{}
	for _, s := range samples {
		start := floorDiv(s.StartedAt.UnixMilli(), width) * width
		a, found := groups[start]
		if !found {
			a = &acc{}
			groups[start] = a
		}
		a.count++
		a.sum += s.DurationMs
		if s.Success {
			a.ok++
		}
	}

	out := make([]Bucket, 0, len(groups))
	for start, a := range groups {
		out = append(out, Bucket{
			BucketStart: time.UnixMilli(start).UTC(),
			Count:       a.count,
			SuccessRate: round2(float64(a.ok) / float64(a.count) * 100),
			AvgDuration: round2(float64(a.sum) / float64(a.count)),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BucketStart.Before(out[j].BucketStart) })
	return out
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
