package domain

import (
	"time"
	"unicode/utf8"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Turn is one message within a conversation session.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionStats is a snapshot of a conversation attached to a rating.
type SessionStats struct {
	MessageCount      int   `json:"messageCount"`
	UserMessages      int   `json:"userMessages"`
	AssistantMessages int   `json:"assistantMessages"`
	DurationSeconds   int64 `json:"durationSeconds"`
	Resolved          bool  `json:"resolved"`
}

// TruncationMarker is appended to content cut at a length limit.
const TruncationMarker = "..."

// Truncate keeps the first max runes of s and appends TruncationMarker if
// anything was cut. A non-positive max disables truncation.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i] + TruncationMarker
		}
		n++
	}
	return s
}
