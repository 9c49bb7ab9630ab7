package domain

import "time"

// Rating bounds.
const (
	MinRating = 1
	MaxRating = 5
)

// RatingStatus is the lifecycle state of a satisfaction rating.
type RatingStatus string

const (
	RatingActive  RatingStatus = "active"
	RatingHidden  RatingStatus = "hidden"
	RatingDeleted RatingStatus = "deleted"
)

// Valid reports whether s is a known status.
func (s RatingStatus) Valid() bool {
	switch s {
	case RatingActive, RatingHidden, RatingDeleted:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is allowed.
// Transitions are one-way: active→hidden, active→deleted, hidden→deleted.
func (s RatingStatus) CanTransitionTo(next RatingStatus) bool {
	switch s {
	case RatingActive:
		return next == RatingHidden || next == RatingDeleted
	case RatingHidden:
		return next == RatingDeleted
	}
	return false
}

// Rating is a customer satisfaction rating for one session.
type Rating struct {
	ID           string        `json:"id"`
	SessionID    string        `json:"sessionId"`
	Rating       int           `json:"rating"`
	Feedback     string        `json:"feedback,omitempty"`
	Status       RatingStatus  `json:"status"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
	SessionStats *SessionStats `json:"sessionStats,omitempty"`
}
