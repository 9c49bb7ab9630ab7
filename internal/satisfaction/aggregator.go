// Package satisfaction records one customer rating per session and reports
// CSAT statistics over active ratings.
package satisfaction

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/soyeahso/concierge/internal/domain"
	"github.com/soyeahso/concierge/internal/hooks"
	"github.com/soyeahso/concierge/internal/logging"
)

// Defaults.
const (
	DefaultDays              = 30
	DefaultMaxFeedbackLength = 1000
	DefaultPageLimit         = 20
	MaxPageLimit             = 100
	MaxTrendDays             = 365
)

// Options configure an Aggregator.
type Options struct {
	DefaultDays       int
	MaxFeedbackLength int
	Now               func() time.Time
	NewID             func() string
}

// UpsertInput is one rating submission.
type UpsertInput struct {
	SessionID    string
	Rating       int
	Feedback     string
	SessionStats *domain.SessionStats
}

// UpsertResult reports whether a rating was created or updated.
type UpsertResult struct {
	IsNew  bool          `json:"isNew"`
	Record domain.Rating `json:"record"`
}

// StatsFilter narrows Stats. Zero From means DefaultDays before now; zero To means now.
type StatsFilter struct {
	From      time.Time
	To        time.Time
	SessionID string
}

// CSAT is the distribution and satisfaction score over a set of ratings.
type CSAT struct {
	TotalRatings  int         `json:"totalRatings"`
	AverageRating float64     `json:"averageRating"`
	Distribution  map[int]int `json:"distribution"`
	Satisfied     int         `json:"satisfied"`
	Neutral       int         `json:"neutral"`
	Dissatisfied  int         `json:"dissatisfied"`
	CSATScore     float64     `json:"csatScore"`
}

// TrendPoint is one UTC calendar day.
type TrendPoint struct {
	Date          string  `json:"date"`
	AverageRating float64 `json:"averageRating"`
	TotalRatings  int     `json:"totalRatings"`
	CSATScore     float64 `json:"csatScore"`
}

// Page is one page of ratings.
type Page struct {
	Items      []domain.Rating `json:"items"`
	Total      int             `json:"total"`
	Page       int             `json:"page"`
	Limit      int             `json:"limit"`
	TotalPages int             `json:"totalPages"`
}

// Aggregator validates submissions and computes CSAT over a Repository.
type Aggregator struct {
	repo  Repository
	opts  Options
	log   *logging.Logger
	hooks *hooks.Manager

	// upsertMu serializes find-then-write so one session never races itself
	// into two active ratings.
	upsertMu sync.Mutex
}

// New creates an Aggregator. hooks may be nil.
func New(repo Repository, opts Options, log *logging.Logger, hm *hooks.Manager) *Aggregator {
	if opts.DefaultDays <= 0 {
		opts.DefaultDays = DefaultDays
	}
	if opts.MaxFeedbackLength <= 0 {
		opts.MaxFeedbackLength = DefaultMaxFeedbackLength
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Aggregator{repo: repo, opts: opts, log: log.Sub("satisfaction"), hooks: hm}
}

// Upsert creates the session's active rating or updates it in place.
func (a *Aggregator) Upsert(ctx context.Context, in UpsertInput) (UpsertResult, error) {
	in.SessionID = strings.TrimSpace(in.SessionID)
	in.Feedback = strings.TrimSpace(in.Feedback)
	if in.SessionID == "" {
		return UpsertResult{}, domain.Invalid("sessionId", "is required")
	}
	if in.Rating < domain.MinRating || in.Rating > domain.MaxRating {
		return UpsertResult{}, domain.Invalid("rating", "must be an integer between %d and %d", domain.MinRating, domain.MaxRating)
	}
	if n := utf8.RuneCountInString(in.Feedback); n > a.opts.MaxFeedbackLength {
		return UpsertResult{}, domain.Invalid("feedback", "must be at most %d characters, got %d", a.opts.MaxFeedbackLength, n)
	}

	a.upsertMu.Lock()
	defer a.upsertMu.Unlock()

	res, err := a.upsertLocked(ctx, in)
	if errors.Is(err, ErrDuplicateActive) {
		// Another writer (e.g. a second replica on the same database) won
		// the insert; apply this submission as an update instead.
		res, err = a.upsertLocked(ctx, in)
	}
	if err != nil {
		return UpsertResult{}, err
	}

	a.log.Info().
		Str("sessionId", in.SessionID).
		Int("rating", in.Rating).
		Bool("isNew", res.IsNew).
		Msg("rating saved")
	a.hooks.EmitAsync(ctx, hooks.EventRatingSubmitted, map[string]any{
		"sessionId": in.SessionID,
		"rating":    in.Rating,
		"isNew":     res.IsNew,
	})
	return res, nil
}

func (a *Aggregator) upsertLocked(ctx context.Context, in UpsertInput) (UpsertResult, error) {
	now := a.opts.Now().UTC()

	existing, found, err := a.repo.FindActiveBySession(ctx, in.SessionID)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("finding rating: %w", err)
	}

	if found {
		existing.Rating = in.Rating
		existing.Feedback = in.Feedback
		existing.UpdatedAt = now
		if in.SessionStats != nil {
			existing.SessionStats = in.SessionStats
		}
		if err := a.repo.Update(ctx, existing); err != nil {
			return UpsertResult{}, fmt.Errorf("updating rating: %w", err)
		}
		return UpsertResult{IsNew: false, Record: existing}, nil
	}

	r := domain.Rating{
		ID:           a.opts.NewID(),
		SessionID:    in.SessionID,
		Rating:       in.Rating,
		Feedback:     in.Feedback,
		Status:       domain.RatingActive,
		CreatedAt:    now,
		UpdatedAt:    now,
		SessionStats: in.SessionStats,
	}
	if err := a.repo.Insert(ctx, r); err != nil {
		if errors.Is(err, ErrDuplicateActive) {
			return UpsertResult{}, err
		}
		return UpsertResult{}, fmt.Errorf("inserting rating: %w", err)
	}
	return UpsertResult{IsNew: true, Record: r}, nil
}

// Stats computes the CSAT shape over active ratings in the filter window.
func (a *Aggregator) Stats(ctx context.Context, f StatsFilter) (CSAT, error) {
	now := a.opts.Now().UTC()
	if f.From.IsZero() {
		f.From = now.AddDate(0, 0, -a.opts.DefaultDays)
	}
	if f.To.IsZero() {
		f.To = now
	}
	if f.From.After(f.To) {
		return CSAT{}, domain.Invalid("from", "must not be after to")
	}

	ratings, err := a.repo.Active(ctx, RangeFilter{From: f.From, To: f.To, SessionID: f.SessionID})
	if err != nil {
		return CSAT{}, fmt.Errorf("loading ratings: %w", err)
	}
	return Compute(ratings), nil
}

// Compute builds the CSAT shape. Zero ratings give all-zero values with
// every star present in the distribution.
func Compute(ratings []domain.Rating) CSAT {
	c := CSAT{Distribution: map[int]int{1: 0, 2: 0, 3: 0, 4: 0, 5: 0}}
	if len(ratings) == 0 {
		return c
	}

	sum := 0
	for _, r := range ratings {
		c.Distribution[r.Rating]++
		sum += r.Rating
		switch {
		case r.Rating >= 4:
			c.Satisfied++
		case r.Rating == 3:
			c.Neutral++
		default:
			c.Dissatisfied++
		}
	}
	c.TotalRatings = len(ratings)
	c.AverageRating = round2(float64(sum) / float64(c.TotalRatings))
	c.CSATScore = round2(float64(c.Satisfied) / float64(c.TotalRatings) * 100)
	return c
}

// Trend groups active ratings from the trailing days (today included) by
// UTC calendar day, ascending. Days without ratings are omitted.
func (a *Aggregator) Trend(ctx context.Context, days int) ([]TrendPoint, error) {
	if days <= 0 {
		days = a.opts.DefaultDays
	}
	if days > MaxTrendDays {
		return nil, domain.Invalid("days", "must be at most %d", MaxTrendDays)
	}

	now := a.opts.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	from := today.AddDate(0, 0, -(days - 1))

	ratings, err := a.repo.Active(ctx, RangeFilter{From: from, To: now})
	if err != nil {
		return nil, fmt.Errorf("loading ratings: %w", err)
	}
	return TrendByDay(ratings), nil
}

// TrendByDay groups ratings by UTC day, ascending.
func TrendByDay(ratings []domain.Rating) []TrendPoint {
	byDay := map[string][]domain.Rating{}
	var order []string
	for _, r := range ratings {
		day := r.CreatedAt.UTC().Format(time.DateOnly)
		if _, ok := byDay[day]; !ok {
			order = append(order, day)
		}
		byDay[day] = append(byDay[day], r)
	}
	// DateOnly strings sort chronologically.
	sort.Strings(order)

	out := make([]TrendPoint, 0, len(order))
	for _, day := range order {
		c := Compute(byDay[day])
		out = append(out, TrendPoint{
			Date:          day,
			AverageRating: c.AverageRating,
			TotalRatings:  c.TotalRatings,
			CSATScore:     c.CSATScore,
		})
	}
	return out
}

// List returns one page of ratings, newest first.
func (a *Aggregator) List(ctx context.Context, f ListFilter) (Page, error) {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = DefaultPageLimit
	}
	if f.Limit > MaxPageLimit {
		f.Limit = MaxPageLimit
	}
	if f.Status != "" && !f.Status.Valid() {
		return Page{}, domain.Invalid("status", "must be one of active, hidden, deleted")
	}
	for field, v := range map[string]int{"minRating": f.MinRating, "maxRating": f.MaxRating} {
		if v != 0 && (v < domain.MinRating || v > domain.MaxRating) {
			return Page{}, domain.Invalid(field, "must be between %d and %d", domain.MinRating, domain.MaxRating)
		}
	}
	if f.MinRating > 0 && f.MaxRating > 0 && f.MinRating > f.MaxRating {
		return Page{}, domain.Invalid("minRating", "must not exceed maxRating")
	}

	items, total, err := a.repo.List(ctx, f)
	if err != nil {
		return Page{}, fmt.Errorf("listing ratings: %w", err)
	}
	if items == nil {
		items = []domain.Rating{}
	}
	return Page{
		Items:      items,
		Total:      total,
		Page:       f.Page,
		Limit:      f.Limit,
		TotalPages: (total + f.Limit - 1) / f.Limit,
	}, nil
}

// SoftDelete marks a rating deleted. It stays stored but leaves every
// statistic. Deleting a deleted rating returns it unchanged.
func (a *Aggregator) SoftDelete(ctx context.Context, id string) (domain.Rating, error) {
	return a.transition(ctx, id, domain.RatingDeleted)
}

// Hide takes an active rating out of statistics without deleting it.
func (a *Aggregator) Hide(ctx context.Context, id string) (domain.Rating, error) {
	return a.transition(ctx, id, domain.RatingHidden)
}

func (a *Aggregator) transition(ctx context.Context, id string, next domain.RatingStatus) (domain.Rating, error) {
	a.upsertMu.Lock()
	defer a.upsertMu.Unlock()

	r, err := a.repo.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return domain.Rating{}, &domain.NotFoundError{Kind: "rating", ID: id}
	}
	if err != nil {
		return domain.Rating{}, fmt.Errorf("loading rating: %w", err)
	}
	if r.Status == next && next == domain.RatingDeleted {
		return r, nil
	}
	if !r.Status.CanTransitionTo(next) {
		return domain.Rating{}, domain.Invalid("status", "cannot change rating from %s to %s", r.Status, next)
	}

	now := a.opts.Now().UTC()
	if err := a.repo.SetStatus(ctx, id, next, now); err != nil {
		return domain.Rating{}, fmt.Errorf("updating rating status: %w", err)
	}
	r.Status = next
	r.UpdatedAt = now
	a.log.Info().Str("ratingId", id).Str("status", string(next)).Msg("rating status changed")
	return r, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
