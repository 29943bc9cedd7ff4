// Package retry holds the backoff policies for asynchronous tasks and the
// classification of errors that are worth retrying.
package retry

import (
	"errors"
	"time"
)

// Policy describes how often a task class is retried.
// The delay before retry n (0-based) is BaseDelay * 2^n.
type Policy struct {
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// Backoff returns the delay before retry number attempt.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return p.BaseDelay << uint(attempt)
}

// Exhausted reports whether a task that has already consumed attempt retries
// may not be retried again.
func (p Policy) Exhausted(attempt int) bool {
	return attempt >= p.MaxRetries
}

// Defaults per task class.
var (
	VerificationPolicy = Policy{BaseDelay: 60 * time.Second, MaxRetries: 3}
	SubmissionPolicy   = Policy{BaseDelay: 300 * time.Second, MaxRetries: 3}
	ConfirmationPolicy = Policy{BaseDelay: 60 * time.Second, MaxRetries: 5}
	SchedulePolicy     = Policy{BaseDelay: 0, MaxRetries: 0}
)

type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Retryable marks err as transient. A nil err stays nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// IsRetryable reports whether any error in err's chain was marked with Retryable.
func IsRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
