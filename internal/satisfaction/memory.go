package satisfaction

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/soyeahso/concierge/internal/domain"
)

// MemoryRepository keeps ratings in a map. Useful for tests and for running
// without a database.
type MemoryRepository struct {
	mu      sync.RWMutex
	ratings map[string]domain.Rating
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{ratings: make(map[string]domain.Rating)}
}

func (m *MemoryRepository) FindActiveBySession(_ context.Context, sessionID string) (domain.Rating, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.findActiveLocked(sessionID)
	return r, ok, nil
}

func (m *MemoryRepository) findActiveLocked(sessionID string) (domain.Rating, bool) {
	for _, r := range m.ratings {
		if r.SessionID == sessionID && r.Status == domain.RatingActive {
			return r, true
		}
	}
	return domain.Rating{}, false
}

func (m *MemoryRepository) Insert(_ context.Context, r domain.Rating) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.Status == domain.RatingActive {
		if _, dup := m.findActiveLocked(r.SessionID); dup {
			return ErrDuplicateActive
		}
	}
	m.ratings[r.ID] = cloneRating(r)
	return nil
}

func (m *MemoryRepository) Update(_ context.Context, r domain.Rating) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ratings[r.ID]; !ok {
		return ErrNotFound
	}
	m.ratings[r.ID] = cloneRating(r)
	return nil
}

func (m *MemoryRepository) Get(_ context.Context, id string) (domain.Rating, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.ratings[id]
	if !ok {
		return domain.Rating{}, ErrNotFound
	}
	return cloneRating(r), nil
}

func (m *MemoryRepository) SetStatus(_ context.Context, id string, status domain.RatingStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.ratings[id]
	if !ok {
		return ErrNotFound
	}
	r.Status = status
	r.UpdatedAt = at
	m.ratings[id] = r
	return nil
}

func (m *MemoryRepository) List(_ context.Context, f ListFilter) ([]domain.Rating, int, error) {
	m.mu.RLock()
	var matched []domain.Rating
	for _, r := range m.ratings {
		if matchList(f, r) {
			matched = append(matched, cloneRating(r))
		}
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	total := len(matched)
	start := (f.Page - 1) * f.Limit
	if start >= total {
		return []domain.Rating{}, total, nil
	}
	end := min(start+f.Limit, total)
	return matched[start:end], total, nil
}

func (m *MemoryRepository) Active(_ context.Context, f RangeFilter) ([]domain.Rating, error) {
	m.mu.RLock()
	var out []domain.Rating
	for _, r := range m.ratings {
		if r.Status != domain.RatingActive || !inRange(r.CreatedAt, f.From, f.To) {
			continue
		}
		if f.SessionID != "" && r.SessionID != f.SessionID {
			continue
		}
		out = append(out, cloneRating(r))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func matchList(f ListFilter, r domain.Rating) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.SessionID != "" && r.SessionID != f.SessionID {
		return false
	}
	if f.MinRating > 0 && r.Rating < f.MinRating {
		return false
	}
	if f.MaxRating > 0 && r.Rating > f.MaxRating {
		return false
	}
	return inRange(r.CreatedAt, f.From, f.To)
}

func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && t.After(to) {
		return false
	}
	return true
}

func cloneRating(r domain.Rating) domain.Rating {
	if r.SessionStats != nil {
		st := *r.SessionStats
		r.SessionStats = &st
	}
	return r
}
