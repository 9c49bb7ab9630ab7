package domain

import (
	"errors"
	"fmt"
)

// ValidationError rejects bad input before any state is mutated.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a missing entity that the caller named explicitly.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// UpstreamCategory classifies an external generator failure.
type UpstreamCategory string

const (
	UpstreamQuotaExceeded UpstreamCategory = "quota_exceeded"
	UpstreamRateLimited   UpstreamCategory = "rate_limited"
	UpstreamSafetyBlocked UpstreamCategory = "safety_blocked"
	UpstreamTransient     UpstreamCategory = "transient"
	UpstreamMisconfigured UpstreamCategory = "misconfigured"
	UpstreamTimeout       UpstreamCategory = "timeout"
	UpstreamUnavailable   UpstreamCategory = "unavailable"
)

var upstreamMessages = map[UpstreamCategory]string{
	UpstreamQuotaExceeded: "The assistant is over capacity right now. Please try again later.",
	UpstreamRateLimited:   "The assistant is receiving too many requests. Please wait a moment and try again.",
	UpstreamSafetyBlocked: "Sorry, I can't help with that request. Could you rephrase it?",
	UpstreamTransient:     "The assistant is temporarily overloaded. Please try again.",
	UpstreamMisconfigured: "The assistant is not available due to a configuration problem.",
	UpstreamTimeout:       "The assistant took too long to respond. Please try again.",
	UpstreamUnavailable:   "The assistant is temporarily unavailable. Please try again shortly.",
}

// UserMessage is the friendly text shown for a category.
func (c UpstreamCategory) UserMessage() string {
	if m, ok := upstreamMessages[c]; ok {
		return m
	}
	return upstreamMessages[UpstreamUnavailable]
}

// UpstreamError is a categorized generator failure. Message is safe to show
// to end users; Cause carries provider detail for logs only.
type UpstreamError struct {
	Category UpstreamCategory
	Message  string
	Cause    error
}

// NewUpstreamError wraps cause under category with the category's user message.
func NewUpstreamError(category UpstreamCategory, cause error) *UpstreamError {
	return &UpstreamError{Category: category, Message: category.UserMessage(), Cause: cause}
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s: %s", e.Category, e.Message)
}

func (e *UpstreamError) Unwrap() error { return e.Cause }

// AsValidation reports whether err is a ValidationError.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	ok := errors.As(err, &ve)
	return ve, ok
}

// AsNotFound reports whether err is a NotFoundError.
func AsNotFound(err error) (*NotFoundError, bool) {
	var nf *NotFoundError
	ok := errors.As(err, &nf)
	return nf, ok
}

// AsUpstream reports whether err is an UpstreamError.
func AsUpstream(err error) (*UpstreamError, bool) {
	var ue *UpstreamError
	ok := errors.As(err, &ue)
	return ue, ok
}
