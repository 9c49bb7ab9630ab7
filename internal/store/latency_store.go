package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/concierge/internal/domain"
	"github.com/soyeahso/concierge/internal/latency"
)

// LatencyStore keeps every latency sample, unbounded by the recorder's
// in-memory window. It satisfies latency.Sink.
type LatencyStore struct {
	db  *DB
	now func() time.Time
}

// NewLatencyStore creates a latency store using the given database.
func NewLatencyStore(db *DB) *LatencyStore {
	return &LatencyStore{db: db, now: time.Now}
}

// SaveLatency inserts one sample.
func (s *LatencyStore) SaveLatency(ctx context.Context, sample domain.LatencySample) error {
	_, err := s.db.sql.ExecContext(ctx,
		`INSERT INTO latency_samples
		   (request_id, endpoint, started_at, duration_ms, success, status_code, error,
		    session_id, request_type, input_length, output_length)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sample.RequestID, sample.Endpoint, formatTime(sample.StartedAt), sample.DurationMs,
		sample.Success, sample.StatusCode, sample.Error,
		sample.Metadata.SessionID, sample.Metadata.RequestType,
		sample.Metadata.InputLength, sample.Metadata.OutputLength,
	)
	if err != nil {
		return fmt.Errorf("inserting latency sample: %w", err)
	}
	return nil
}

// Samples returns stored samples matching f, oldest first. limit <= 0
// returns everything.
func (s *LatencyStore) Samples(ctx context.Context, f latency.Filter, limit int) ([]domain.LatencySample, error) {
	var (
		where []string
		args  []any
	)
	if f.Endpoint != "" {
		where = append(where, "endpoint = ?")
		args = append(args, f.Endpoint)
	}
	if f.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, f.SessionID)
	}
	from := f.From
	if f.TimeRange > 0 {
		if rangeStart := s.now().Add(-f.TimeRange); rangeStart.After(from) {
			from = rangeStart
		}
	}
	if !from.IsZero() {
		where = append(where, "started_at >= ?")
		args = append(args, formatTime(from))
	}
	if !f.To.IsZero() {
		where = append(where, "started_at <= ?")
		args = append(args, formatTime(f.To))
	}

	q := `SELECT request_id, endpoint, started_at, duration_ms, success, status_code, error,
	             session_id, request_type, input_length, output_length
	      FROM latency_samples`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY started_at ASC, id ASC"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.sql.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying latency samples: %w", err)
	}
	defer rows.Close()

	var out []domain.LatencySample
	for rows.Next() {
		var (
			ls        domain.LatencySample
			startedAt string
		)
		if err := rows.Scan(
			&ls.RequestID, &ls.Endpoint, &startedAt, &ls.DurationMs, &ls.Success, &ls.StatusCode, &ls.Error,
			&ls.Metadata.SessionID, &ls.Metadata.RequestType, &ls.Metadata.InputLength, &ls.Metadata.OutputLength,
		); err != nil {
			return nil, fmt.Errorf("scanning latency sample: %w", err)
		}
		ls.StartedAt = parseTime(startedAt)
		out = append(out, ls)
	}
	return out, rows.Err()
}

// Stats summarizes every stored sample matching f.
func (s *LatencyStore) Stats(ctx context.Context, f latency.Filter) (latency.Stats, error) {
	samples, err := s.Samples(ctx, f, 0)
	if err != nil {
		return latency.Stats{}, err
	}
	return latency.Summarize(samples), nil
}

// Trend buckets stored samples matching f.
func (s *LatencyStore) Trend(ctx context.Context, f latency.Filter, bucket time.Duration) ([]latency.Bucket, error) {
	samples, err := s.Samples(ctx, f, 0)
	if err != nil {
		return nil, err
	}
	return latency.Buckets(samples, bucket), nil
}

// Prune deletes samples started before cutoff and reports how many went.
func (s *LatencyStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.sql.ExecContext(ctx, `DELETE FROM latency_samples WHERE started_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("pruning latency samples: %w", err)
	}
	return res.RowsAffected()
}
