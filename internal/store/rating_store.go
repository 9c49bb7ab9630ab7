package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/concierge/internal/domain"
	"github.com/soyeahso/concierge/internal/satisfaction"
)

// RatingStore implements satisfaction.Repository backed by SQLite.
type RatingStore struct {
	db *DB
}

// NewRatingStore creates a rating store using the given database.
func NewRatingStore(db *DB) *RatingStore {
	return &RatingStore{db: db}
}

const ratingColumns = `id, session_id, rating, feedback, status, session_stats, created_at, updated_at`

func (s *RatingStore) FindActiveBySession(ctx context.Context, sessionID string) (domain.Rating, bool, error) {
	row := s.db.sql.QueryRowContext(ctx,
		`SELECT `+ratingColumns+` FROM ratings WHERE session_id = ? AND status = 'active'`, sessionID)
	r, err := scanRating(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Rating{}, false, nil
	}
	if err != nil {
		return domain.Rating{}, false, err
	}
	return r, true, nil
}

func (s *RatingStore) Insert(ctx context.Context, r domain.Rating) error {
	stats, err := encodeStats(r.SessionStats)
	if err != nil {
		return err
	}
	_, err = s.db.sql.ExecContext(ctx,
		`INSERT INTO ratings (`+ratingColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SessionID, r.Rating, r.Feedback, string(r.Status), stats,
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return satisfaction.ErrDuplicateActive
	}
	if err != nil {
		return fmt.Errorf("inserting rating: %w", err)
	}
	return nil
}

func (s *RatingStore) Update(ctx context.Context, r domain.Rating) error {
	stats, err := encodeStats(r.SessionStats)
	if err != nil {
		return err
	}
	res, err := s.db.sql.ExecContext(ctx,
		`UPDATE ratings SET rating = ?, feedback = ?, session_stats = ?, updated_at = ? WHERE id = ?`,
		r.Rating, r.Feedback, stats, formatTime(r.UpdatedAt), r.ID,
	)
	if err != nil {
		return fmt.Errorf("updating rating: %w", err)
	}
	return requireRow(res)
}

func (s *RatingStore) Get(ctx context.Context, id string) (domain.Rating, error) {
	row := s.db.sql.QueryRowContext(ctx, `SELECT `+ratingColumns+` FROM ratings WHERE id = ?`, id)
	r, err := scanRating(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Rating{}, satisfaction.ErrNotFound
	}
	return r, err
}

func (s *RatingStore) SetStatus(ctx context.Context, id string, status domain.RatingStatus, at time.Time) error {
	res, err := s.db.sql.ExecContext(ctx,
		`UPDATE ratings SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), formatTime(at), id,
	)
	if isUniqueViolation(err) {
		return satisfaction.ErrDuplicateActive
	}
	if err != nil {
		return fmt.Errorf("updating rating status: %w", err)
	}
	return requireRow(res)
}

func (s *RatingStore) List(ctx context.Context, f satisfaction.ListFilter) ([]domain.Rating, int, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.MinRating > 0 {
		where = append(where, "rating >= ?")
		args = append(args, f.MinRating)
	}
	if f.MaxRating > 0 {
		where = append(where, "rating <= ?")
		args = append(args, f.MaxRating)
	}
	where, args = appendRange(where, args, f.From, f.To)

	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM ratings`+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting ratings: %w", err)
	}

	page, limit := f.Page, f.Limit
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = satisfaction.DefaultPageLimit
	}
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT `+ratingColumns+` FROM ratings`+cond+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, limit, (page-1)*limit)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("listing ratings: %w", err)
	}
	items, err := scanRatings(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *RatingStore) Active(ctx context.Context, f satisfaction.RangeFilter) ([]domain.Rating, error) {
	where := []string{"status = 'active'"}
	var args []any
	if f.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, f.SessionID)
	}
	where, args = appendRange(where, args, f.From, f.To)

	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT `+ratingColumns+` FROM ratings WHERE `+strings.Join(where, " AND ")+` ORDER BY created_at ASC, id ASC`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("querying active ratings: %w", err)
	}
	return scanRatings(rows)
}

func appendRange(where []string, args []any, from, to time.Time) ([]string, []any) {
	if !from.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(from))
	}
	if !to.IsZero() {
		where = append(where, "created_at <= ?")
		args = append(args, formatTime(to))
	}
	return where, args
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRating(row scanner) (domain.Rating, error) {
	var (
		r                    domain.Rating
		status               string
		stats                sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&r.ID, &r.SessionID, &r.Rating, &r.Feedback, &status, &stats, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Rating{}, err
		}
		return domain.Rating{}, fmt.Errorf("scanning rating: %w", err)
	}
	r.Status = domain.RatingStatus(status)
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	if stats.Valid && stats.String != "" {
		var st domain.SessionStats
		if err := json.Unmarshal([]byte(stats.String), &st); err == nil {
			r.SessionStats = &st
		}
	}
	return r, nil
}

func scanRatings(rows *sql.Rows) ([]domain.Rating, error) {
	defer rows.Close()
	var out []domain.Rating
	for rows.Next() {
		r, err := scanRating(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func encodeStats(st *domain.SessionStats) (sql.NullString, error) {
	if st == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(st)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encoding session stats: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if n == 0 {
		return satisfaction.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
