// Package catalog is the read-only client for tour catalog data.
package catalog

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/soyeahso/concierge/internal/domain"
	"gopkg.in/yaml.v3"
)

// Source provides read queries over the tour catalog.
type Source interface {
	Summary(ctx context.Context) (domain.CatalogSummary, error)
	GetByID(ctx context.Context, id string) (domain.Tour, error)
	Search(ctx context.Context, keyword string) ([]domain.Tour, error)
	ByPriceRange(ctx context.Context, min, max float64) ([]domain.Tour, error)
}

// file is the on-disk catalog layout.
type file struct {
	Tours []domain.Tour `yaml:"tours"`
}

// FileSource reads a YAML catalog on every call, so edits show up on the
// next query without a restart.
type FileSource struct {
	path string
}

// NewFileSource creates a source backed by the YAML file at path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Path returns the backing file path.
func (s *FileSource) Path() string { return s.path }

func (s *FileSource) load(ctx context.Context) ([]domain.Tour, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing catalog %s: %w", s.path, err)
	}
	return f.Tours, nil
}

func (s *FileSource) Summary(ctx context.Context) (domain.CatalogSummary, error) {
	tours, err := s.load(ctx)
	if err != nil {
		return domain.CatalogSummary{}, err
	}
	return Summarize(tours), nil
}

func (s *FileSource) GetByID(ctx context.Context, id string) (domain.Tour, error) {
	tours, err := s.load(ctx)
	if err != nil {
		return domain.Tour{}, err
	}
	return findByID(tours, id)
}

func (s *FileSource) Search(ctx context.Context, keyword string) ([]domain.Tour, error) {
	tours, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return search(tours, keyword), nil
}

func (s *FileSource) ByPriceRange(ctx context.Context, min, max float64) ([]domain.Tour, error) {
	tours, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return byPriceRange(tours, min, max), nil
}

// MemorySource serves a fixed tour list.
type MemorySource struct {
	tours []domain.Tour
}

// NewMemorySource creates a source over a copy of tours.
func NewMemorySource(tours []domain.Tour) *MemorySource {
	return &MemorySource{tours: append([]domain.Tour(nil), tours...)}
}

func (s *MemorySource) Summary(ctx context.Context) (domain.CatalogSummary, error) {
	if err := ctx.Err(); err != nil {
		return domain.CatalogSummary{}, err
	}
	return Summarize(s.tours), nil
}

func (s *MemorySource) GetByID(_ context.Context, id string) (domain.Tour, error) {
	return findByID(s.tours, id)
}

func (s *MemorySource) Search(_ context.Context, keyword string) ([]domain.Tour, error) {
	return search(s.tours, keyword), nil
}

func (s *MemorySource) ByPriceRange(_ context.Context, min, max float64) ([]domain.Tour, error) {
	return byPriceRange(s.tours, min, max), nil
}

func findByID(tours []domain.Tour, id string) (domain.Tour, error) {
	for _, t := range tours {
		if t.ID == id {
			return t, nil
		}
	}
	return domain.Tour{}, &domain.NotFoundError{Kind: "tour", ID: id}
}

// search matches keyword case-insensitively against name, destination,
// category and description. Results are ordered by bookings, most first.
func search(tours []domain.Tour, keyword string) []domain.Tour {
	kw := strings.ToLower(strings.TrimSpace(keyword))
	var out []domain.Tour
	for _, t := range tours {
		if kw == "" ||
			strings.Contains(strings.ToLower(t.Name), kw) ||
			strings.Contains(strings.ToLower(t.Destination), kw) ||
			strings.Contains(strings.ToLower(t.Category), kw) ||
			strings.Contains(strings.ToLower(t.Description), kw) {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Bookings > out[j].Bookings })
	return out
}

// byPriceRange returns tours with min <= price <= max, cheapest first.
// A non-positive max means no upper bound.
func byPriceRange(tours []domain.Tour, min, max float64) []domain.Tour {
	var out []domain.Tour
	for _, t := range tours {
		if t.Price < min || (max > 0 && t.Price > max) {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	return out
}
