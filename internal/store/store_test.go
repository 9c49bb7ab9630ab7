package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/soyeahso/concierge/internal/domain"
	"github.com/soyeahso/concierge/internal/latency"
	"github.com/soyeahso/concierge/internal/logging"
	"github.com/soyeahso/concierge/internal/satisfaction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	log := logging.New(nil, "silent")
	db, err := Open(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

var base = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// --- DB/Migration tests ---

func TestOpen_InMemory(t *testing.T) {
	db := testDB(t)
	assert.NoError(t, db.Ping())
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "concierge.db")
	db, err := Open(path, logging.New(nil, "silent"))
	require.NoError(t, err)
	require.NoError(t, NewLatencyStore(db).SaveLatency(context.Background(), sample("r1", "/api/chat", base, 10, true)))
	require.NoError(t, db.Close())

	db, err = Open(path, logging.New(nil, "silent"))
	require.NoError(t, err)
	defer db.Close()
	got, err := NewLatencyStore(db).Samples(context.Background(), latency.Filter{}, 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestMigrations_Idempotent(t *testing.T) {
	db := testDB(t)

	require.NoError(t, db.migrate())

	var count int
	require.NoError(t, db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, len(migrations), count)
}

func TestSchema_TablesExist(t *testing.T) {
	db := testDB(t)

	for _, table := range []string{"latency_samples", "ratings"} {
		var name string
		err := db.sql.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
	}
}

func TestTimeLayout_SortsLexically(t *testing.T) {
	a := formatTime(base)
	b := formatTime(base.Add(500 * time.Millisecond))
	assert.Less(t, a, b)
	assert.True(t, parseTime(b).Equal(base.Add(500*time.Millisecond)))
}

// --- Latency store ---

func sample(id, endpoint string, at time.Time, ms int64, ok bool) domain.LatencySample {
	s := domain.LatencySample{
		RequestID:  id,
		Endpoint:   endpoint,
		StartedAt:  at,
		DurationMs: ms,
		Success:    ok,
		StatusCode: 200,
		Metadata:   domain.RequestMetadata{SessionID: "s-" + id, RequestType: "chat", InputLength: 12},
	}
	if !ok {
		s.StatusCode = 500
		s.Error = "boom"
	}
	return s
}

func TestLatencyStore_SaveAndQuery(t *testing.T) {
	ls := NewLatencyStore(testDB(t))
	ctx := context.Background()

	require.NoError(t, ls.SaveLatency(ctx, sample("a", "/api/chat", base, 100, true)))
	require.NoError(t, ls.SaveLatency(ctx, sample("b", "/api/chat", base.Add(time.Second), 300, false)))
	require.NoError(t, ls.SaveLatency(ctx, sample("c", "/api/rating", base.Add(2*time.Second), 50, true)))

	all, err := ls.Samples(ctx, latency.Filter{}, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].RequestID)
	assert.Equal(t, "s-a", all[0].Metadata.SessionID)
	assert.Equal(t, 12, all[0].Metadata.InputLength)
	assert.True(t, all[0].StartedAt.Equal(base))
	assert.False(t, all[1].Success)
	assert.Equal(t, "boom", all[1].Error)

	chat, err := ls.Samples(ctx, latency.Filter{Endpoint: "/api/chat"}, 0)
	require.NoError(t, err)
	assert.Len(t, chat, 2)

	bySession, err := ls.Samples(ctx, latency.Filter{SessionID: "s-c"}, 0)
	require.NoError(t, err)
	assert.Len(t, bySession, 1)

	limited, err := ls.Samples(ctx, latency.Filter{}, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	windowed, err := ls.Samples(ctx, latency.Filter{From: base.Add(500 * time.Millisecond), To: base.Add(1500 * time.Millisecond)}, 0)
	require.NoError(t, err)
	require.Len(t, windowed, 1)
	assert.Equal(t, "b", windowed[0].RequestID)
}

func TestLatencyStore_TimeRange(t *testing.T) {
	ls := NewLatencyStore(testDB(t))
	ls.now = func() time.Time { return base }
	ctx := context.Background()

	require.NoError(t, ls.SaveLatency(ctx, sample("old", "/api/chat", base.Add(-2*time.Hour), 10, true)))
	require.NoError(t, ls.SaveLatency(ctx, sample("new", "/api/chat", base.Add(-time.Minute), 10, true)))

	got, err := ls.Samples(ctx, latency.Filter{TimeRange: time.Hour}, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].RequestID)
}

func TestLatencyStore_StatsAndTrend(t *testing.T) {
	ls := NewLatencyStore(testDB(t))
	ctx := context.Background()

	for i, ms := range []int64{100, 200, 300, 400, 500} {
		require.NoError(t, ls.SaveLatency(ctx, sample(fmt.Sprint(i), "/api/chat", base.Add(time.Duration(i)*time.Minute), ms, i != 4)))
	}

	st, err := ls.Stats(ctx, latency.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 5, st.Count)
	assert.Equal(t, 80.0, st.SuccessRate)
	assert.Equal(t, 300.0, st.Avg)
	assert.Equal(t, int64(300), st.P50)
	assert.Equal(t, int64(500), st.P99)

	buckets, err := ls.Trend(ctx, latency.Filter{}, time.Hour)
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Equal(t, 5, buckets[0].Count)
}

func TestLatencyStore_Prune(t *testing.T) {
	ls := NewLatencyStore(testDB(t))
	ctx := context.Background()

	require.NoError(t, ls.SaveLatency(ctx, sample("old", "/api/chat", base.AddDate(0, 0, -40), 10, true)))
	require.NoError(t, ls.SaveLatency(ctx, sample("new", "/api/chat", base, 10, true)))

	n, err := ls.Prune(ctx, base.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left, err := ls.Samples(ctx, latency.Filter{}, 0)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "new", left[0].RequestID)
}

func TestLatencyStore_AsRecorderSink(t *testing.T) {
	ls := NewLatencyStore(testDB(t))
	rec := latency.New(latency.Options{Sink: ls}, logging.New(nil, "silent"))

	rec.Start("req-1", "/api/chat", domain.RequestMetadata{SessionID: "s1"})
	_, ok := rec.End("req-1", latency.Result{Success: true, StatusCode: 200})
	require.True(t, ok)
	rec.Close()

	got, err := ls.Samples(context.Background(), latency.Filter{SessionID: "s1"}, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "req-1", got[0].RequestID)
}

// --- Rating store ---

func rating(id, session string, stars int, status domain.RatingStatus, at time.Time) domain.Rating {
	return domain.Rating{ID: id, SessionID: session, Rating: stars, Status: status, CreatedAt: at, UpdatedAt: at}
}

func TestRatingStore_InsertGet(t *testing.T) {
	rs := NewRatingStore(testDB(t))
	ctx := context.Background()

	r := rating("r1", "s1", 4, domain.RatingActive, base)
	r.Feedback = "great tour"
	r.SessionStats = &domain.SessionStats{MessageCount: 6, UserMessages: 3, AssistantMessages: 3, DurationSeconds: 90, Resolved: true}
	require.NoError(t, rs.Insert(ctx, r))

	got, err := rs.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "great tour", got.Feedback)
	assert.Equal(t, domain.RatingActive, got.Status)
	assert.True(t, got.CreatedAt.Equal(base))
	require.NotNil(t, got.SessionStats)
	assert.Equal(t, int64(90), got.SessionStats.DurationSeconds)
	assert.True(t, got.SessionStats.Resolved)

	_, err = rs.Get(ctx, "missing")
	assert.ErrorIs(t, err, satisfaction.ErrNotFound)
}

func TestRatingStore_OneActivePerSession(t *testing.T) {
	rs := NewRatingStore(testDB(t))
	ctx := context.Background()

	require.NoError(t, rs.Insert(ctx, rating("r1", "s1", 4, domain.RatingActive, base)))
	err := rs.Insert(ctx, rating("r2", "s1", 2, domain.RatingActive, base))
	assert.ErrorIs(t, err, satisfaction.ErrDuplicateActive)

	require.NoError(t, rs.SetStatus(ctx, "r1", domain.RatingDeleted, base.Add(time.Minute)))
	require.NoError(t, rs.Insert(ctx, rating("r2", "s1", 2, domain.RatingActive, base.Add(time.Hour))))

	found, ok, err := rs.FindActiveBySession(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "r2", found.ID)
}

func TestRatingStore_UpdateAndStatus(t *testing.T) {
	rs := NewRatingStore(testDB(t))
	ctx := context.Background()

	r := rating("r1", "s1", 4, domain.RatingActive, base)
	require.NoError(t, rs.Insert(ctx, r))

	r.Rating = 1
	r.Feedback = "changed my mind"
	r.UpdatedAt = base.Add(time.Hour)
	require.NoError(t, rs.Update(ctx, r))

	got, err := rs.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Rating)
	assert.True(t, got.UpdatedAt.After(got.CreatedAt))

	assert.ErrorIs(t, rs.Update(ctx, rating("nope", "s", 3, domain.RatingActive, base)), satisfaction.ErrNotFound)
	assert.ErrorIs(t, rs.SetStatus(ctx, "nope", domain.RatingHidden, base), satisfaction.ErrNotFound)

	_, ok, err := rs.FindActiveBySession(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRatingStore_ListAndActive(t *testing.T) {
	rs := NewRatingStore(testDB(t))
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		status := domain.RatingActive
		if i == 5 {
			status = domain.RatingHidden
		}
		require.NoError(t, rs.Insert(ctx, rating(fmt.Sprintf("r%d", i), fmt.Sprintf("s%d", i), i, status, base.Add(time.Duration(i)*time.Hour))))
	}

	items, total, err := rs.List(ctx, satisfaction.ListFilter{Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, items, 2)
	assert.Equal(t, "r5", items[0].ID)
	assert.Equal(t, "r4", items[1].ID)

	items, total, err = rs.List(ctx, satisfaction.ListFilter{Page: 3, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, items, 1)
	assert.Equal(t, "r1", items[0].ID)

	_, total, err = rs.List(ctx, satisfaction.ListFilter{Status: domain.RatingActive, MinRating: 2, MaxRating: 3})
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	active, err := rs.Active(ctx, satisfaction.RangeFilter{})
	require.NoError(t, err)
	require.Len(t, active, 4)
	assert.Equal(t, "r1", active[0].ID)

	active, err = rs.Active(ctx, satisfaction.RangeFilter{From: base.Add(150 * time.Minute), To: base.Add(4 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "r3", active[0].ID)
}

func TestRatingStore_WithAggregator(t *testing.T) {
	rs := NewRatingStore(testDB(t))
	now := base
	agg := satisfaction.New(rs, satisfaction.Options{Now: func() time.Time { return now }}, logging.New(nil, "silent"), nil)
	ctx := context.Background()

	first, err := agg.Upsert(ctx, satisfaction.UpsertInput{SessionID: "s1", Rating: 4})
	require.NoError(t, err)
	assert.True(t, first.IsNew)

	now = base.Add(time.Minute)
	second, err := agg.Upsert(ctx, satisfaction.UpsertInput{SessionID: "s1", Rating: 2})
	require.NoError(t, err)
	assert.False(t, second.IsNew)

	for i := 1; i <= 5; i++ {
		_, err := agg.Upsert(ctx, satisfaction.UpsertInput{SessionID: fmt.Sprintf("x%d", i), Rating: i})
		require.NoError(t, err)
	}

	c, err := agg.Stats(ctx, satisfaction.StatsFilter{})
	require.NoError(t, err)
	assert.Equal(t, 6, c.TotalRatings)
	assert.Equal(t, 2, c.Distribution[2])

	_, err = agg.Hide(ctx, second.Record.ID)
	require.NoError(t, err)
	c, err = agg.Stats(ctx, satisfaction.StatsFilter{})
	require.NoError(t, err)
	assert.Equal(t, 5, c.TotalRatings)
	assert.Equal(t, 40.0, c.CSATScore)
}
