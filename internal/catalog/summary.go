package catalog

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/soyeahso/concierge/internal/domain"
)

// PopularLimit caps the destinations listed in a summary.
const PopularLimit = 5

// Summarize aggregates tours into per-category price bands, the most
// booked destinations and catalog-wide statistics.
func Summarize(tours []domain.Tour) domain.CatalogSummary {
	summary := domain.CatalogSummary{
		Categories:          []domain.CategorySummary{},
		PopularDestinations: []domain.DestinationSummary{},
	}
	if len(tours) == 0 {
		return summary
	}

	cats := map[string]*domain.CategorySummary{}
	catTotals := map[string]float64{}
	dests := map[string]*domain.DestinationSummary{}
	var priceSum, ratingSum float64

	for _, t := range tours {
		c, ok := cats[t.Category]
		if !ok {
			c = &domain.CategorySummary{Category: t.Category, MinPrice: t.Price, MaxPrice: t.Price}
			cats[t.Category] = c
		}
		c.Count++
		c.MinPrice = math.Min(c.MinPrice, t.Price)
		c.MaxPrice = math.Max(c.MaxPrice, t.Price)
		catTotals[t.Category] += t.Price

		d, ok := dests[t.Destination]
		if !ok {
			d = &domain.DestinationSummary{Destination: t.Destination}
			dests[t.Destination] = d
		}
		d.Tours++
		d.Bookings += t.Bookings

		summary.Statistics.TotalBookings += t.Bookings
		priceSum += t.Price
		ratingSum += t.Rating
	}

	for name, c := range cats {
		c.AvgPrice = round2(catTotals[name] / float64(c.Count))
		summary.Categories = append(summary.Categories, *c)
	}
	sort.Slice(summary.Categories, func(i, j int) bool {
		a, b := summary.Categories[i], summary.Categories[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Category < b.Category
	})

	for _, d := range dests {
		summary.PopularDestinations = append(summary.PopularDestinations, *d)
	}
	sort.Slice(summary.PopularDestinations, func(i, j int) bool {
		a, b := summary.PopularDestinations[i], summary.PopularDestinations[j]
		if a.Bookings != b.Bookings {
			return a.Bookings > b.Bookings
		}
		return a.Destination < b.Destination
	})
	if len(summary.PopularDestinations) > PopularLimit {
		summary.PopularDestinations = summary.PopularDestinations[:PopularLimit]
	}

	n := float64(len(tours))
	summary.Statistics.TotalTours = len(tours)
	summary.Statistics.AvgPrice = round2(priceSum / n)
	summary.Statistics.AvgRating = round2(ratingSum / n)
	return summary
}

// Render formats a summary as prompt text, cut to maxChars runes.
func Render(s domain.CatalogSummary, maxChars int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Catalog: %d tours, %d total bookings, average price $%.2f, average rating %.1f/5.\n",
		s.Statistics.TotalTours, s.Statistics.TotalBookings, s.Statistics.AvgPrice, s.Statistics.AvgRating)

	if len(s.Categories) > 0 {
		b.WriteString("Tour categories:\n")
		for _, c := range s.Categories {
			fmt.Fprintf(&b, "- %s: %d tours, $%.0f-$%.0f (avg $%.0f)\n", c.Category, c.Count, c.MinPrice, c.MaxPrice, c.AvgPrice)
		}
	}
	if len(s.PopularDestinations) > 0 {
		b.WriteString("Popular destinations:\n")
		for _, d := range s.PopularDestinations {
			fmt.Fprintf(&b, "- %s (%d tours, %d bookings)\n", d.Destination, d.Tours, d.Bookings)
		}
	}

	return domain.Truncate(strings.TrimRight(b.String(), "\n"), maxChars)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
