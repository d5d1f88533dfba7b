package fit

import (
	"errors"
	"fmt"
)

// AttemptBudget counts transform attempts for one fit and enforces a
// maximum.
//
// Each fit has its own AttemptBudget. The budget is checked before every
// transformation, including the first one.
//
// The strategy list already bounds the search; the budget bounds it
// independently of how many strategies are configured.
type AttemptBudget struct {
	maxAttempts int
	current     int
}

// NewAttemptBudget creates a budget with the given limit.
func NewAttemptBudget(maxAttempts int) *AttemptBudget {
	return &AttemptBudget{maxAttempts: maxAttempts}
}

// Check increments the attempt counter and validates it against the limit.
//
// Returns AttemptsExceededError if the budget is spent.
func (b *AttemptBudget) Check(target string) error {
	b.current++
	if b.current > b.maxAttempts {
		return &AttemptsExceededError{
			Target:   target,
			Attempts: b.current,
			Limit:    b.maxAttempts,
		}
	}
	return nil
}

// Current returns the number of attempts checked so far.
func (b *AttemptBudget) Current() int {
	return b.current
}

// Used returns the attempts actually granted.
func (b *AttemptBudget) Used() int {
	return min(b.current, b.maxAttempts)
}

// MaxAttempts returns the limit.
func (b *AttemptBudget) MaxAttempts() int {
	return b.maxAttempts
}

// AttemptsExceededError is returned when a fit runs out of attempts.
type AttemptsExceededError struct {
	Target   string // The target being fitted
	Attempts int    // Number of attempts requested
	Limit    int    // Maximum allowed attempts
}

// Error implements the error interface.
func (e *AttemptsExceededError) Error() string {
	return fmt.Sprintf("fit for %s exceeded max attempts: %d attempts > %d limit",
		e.Target, e.Attempts, e.Limit)
}

// IsAttemptsExceededError returns true if the error is an
// AttemptsExceededError. Uses errors.As to handle wrapped errors.
func IsAttemptsExceededError(err error) bool {
	var ae *AttemptsExceededError
	return errors.As(err, &ae)
}
