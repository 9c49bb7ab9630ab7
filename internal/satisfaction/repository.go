package satisfaction

import (
	"context"
	"errors"
	"time"

	"github.com/soyeahso/concierge/internal/domain"
)

// Repository errors.
var (
	ErrNotFound        = errors.New("rating not found")
	ErrDuplicateActive = errors.New("session already has an active rating")
)

// RangeFilter selects active ratings by creation time and session.
type RangeFilter struct {
	From      time.Time
	To        time.Time
	SessionID string
}

// ListFilter pages through ratings of any status.
type ListFilter struct {
	Page      int
	Limit     int
	Status    domain.RatingStatus
	SessionID string
	MinRating int
	MaxRating int
	From      time.Time
	To        time.Time
}

// Repository stores ratings. Implementations must reject a second active
// rating for the same session with ErrDuplicateActive.
type Repository interface {
	FindActiveBySession(ctx context.Context, sessionID string) (domain.Rating, bool, error)
	Insert(ctx context.Context, r domain.Rating) error
	Update(ctx context.Context, r domain.Rating) error
	Get(ctx context.Context, id string) (domain.Rating, error)
	SetStatus(ctx context.Context, id string, status domain.RatingStatus, at time.Time) error
	// List returns one page, newest first, plus the total match count.
	List(ctx context.Context, f ListFilter) ([]domain.Rating, int, error)
	// Active returns active ratings created within the filter, oldest first.
	Active(ctx context.Context, f RangeFilter) ([]domain.Rating, error)
}
