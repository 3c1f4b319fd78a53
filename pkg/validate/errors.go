// Package validate checks user input before it reaches session state or
// storage: user-id format, preference and conversation-context payloads,
// and per-identifier rate limits with a failed-attempt lockout.
package validate

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRateLimited is returned when an operation exceeds its request budget.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrBlocked is returned when an identifier is locked out after
	// repeated failures.
	ErrBlocked = errors.New("temporarily blocked after repeated failed attempts")
)

// ValidationError reports a malformed field and the shape it must have.
type ValidationError struct {
	Field    string
	Expected string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: must be %s", e.Field, e.Expected)
}

// LimitError is returned when a request is rejected by the Limiter. It
// unwraps to ErrRateLimited or ErrBlocked.
type LimitError struct {
	Operation  string
	RetryAfter time.Duration
	Blocked    bool
}

func (e *LimitError) Error() string {
	if e.Blocked {
		return fmt.Sprintf("%s: %s, retry in %s", e.Operation, ErrBlocked, e.RetryAfter.Round(time.Second))
	}
	return fmt.Sprintf("%s: %s, retry in %s", e.Operation, ErrRateLimited, e.RetryAfter.Round(time.Second))
}

// Unwrap returns the sentinel for errors.Is checks.
func (e *LimitError) Unwrap() error {
	if e.Blocked {
		return ErrBlocked
	}
	return ErrRateLimited
}
