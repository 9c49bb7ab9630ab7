package domain

// Tour is one bookable catalog entry.
type Tour struct {
	ID           string  `json:"id" yaml:"id"`
	Name         string  `json:"name" yaml:"name"`
	Category     string  `json:"category" yaml:"category"`
	Destination  string  `json:"destination" yaml:"destination"`
	Price        float64 `json:"price" yaml:"price"`
	DurationDays int     `json:"durationDays" yaml:"durationDays"`
	Bookings     int     `json:"bookings" yaml:"bookings"`
	Rating       float64 `json:"rating" yaml:"rating"`
	Description  string  `json:"description,omitempty" yaml:"description,omitempty"`
}

// CategorySummary aggregates tours sharing a category.
type CategorySummary struct {
	Category string  `json:"category"`
	Count    int     `json:"count"`
	MinPrice float64 `json:"minPrice"`
	MaxPrice float64 `json:"maxPrice"`
	AvgPrice float64 `json:"avgPrice"`
}

// DestinationSummary ranks a destination by bookings.
type DestinationSummary struct {
	Destination string `json:"destination"`
	Tours       int    `json:"tours"`
	Bookings    int    `json:"bookings"`
}

// CatalogStatistics are catalog-wide totals.
type CatalogStatistics struct {
	TotalTours    int     `json:"totalTours"`
	TotalBookings int     `json:"totalBookings"`
	AvgPrice      float64 `json:"avgPrice"`
	AvgRating     float64 `json:"avgRating"`
}

// CatalogSummary is the aggregated view the assistant is grounded on.
type CatalogSummary struct {
	Categories          []CategorySummary    `json:"categories"`
	PopularDestinations []DestinationSummary `json:"popularDestinations"`
	Statistics          CatalogStatistics    `json:"statistics"`
}
