package domain

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrNotAuthenticated     = errors.New("not authenticated")
	ErrPhoneNotSet          = fmt.Errorf("phone number not set: %w", ErrNotAuthenticated)
	ErrInvalidPhone         = errors.New("invalid phone number")
	ErrInvalidCode          = errors.New("invalid verification code")
	ErrCodeExpired          = errors.New("verification code expired")
	ErrInvalidPassword      = errors.New("invalid password")
	ErrSecondFactorRequired = errors.New("second factor required")
	ErrMissingCredential    = errors.New("missing code or password")
	ErrInvalidState         = errors.New("operation not valid in current auth state")
	ErrEmptyMessage         = errors.New("message is required")
	ErrEmptyQuery           = errors.New("query is required")
)

// ValidationError reports a missing or malformed request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// RateLimitedError is returned when the backend asks the caller to back off.
// A zero RetryAfter means the backend gave no wait time.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter <= 0 {
		return "rate limited"
	}
	return fmt.Sprintf("rate limited, retry after %ds", e.Seconds())
}

func (e *RateLimitedError) Seconds() int {
	return int(math.Ceil(e.RetryAfter.Seconds()))
}
