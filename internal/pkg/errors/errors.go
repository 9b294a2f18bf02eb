package errors

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrAuth         = errors.New("provider auth failed")
	ErrUnavailable  = errors.New("provider unavailable")
	ErrCacheCorrupt = errors.New("cache corrupt")
	ErrNotFound     = errors.New("not found")
)

// RateLimitError is the typed signal for a 429-class provider response.
// The coordinator retries on it; everything else aborts the batch.
type RateLimitError struct {
	StatusCode int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("provider rate limited (status %d, retry after %s)", e.StatusCode, e.RetryAfter)
	}
	return fmt.Sprintf("provider rate limited (status %d)", e.StatusCode)
}

func IsRateLimit(err error) bool {
	var e *RateLimitError
	return errors.As(err, &e)
}

// CountMismatchError reports a provider returning a different number of
// vectors than texts requested. Always fatal for that batch.
type CountMismatchError struct {
	Want int
	Got  int
}

func (e *CountMismatchError) Error() string {
	return fmt.Sprintf("embedding count mismatch: want %d, got %d", e.Want, e.Got)
}

// RetryExhaustedError wraps the last rate-limit failure after all retry
// attempts for a batch were spent.
type RetryExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

// BatchError attaches the failing batch index and document range so a
// caller can resume from the last checkpoint.
type BatchError struct {
	Batch int
	From  int
	To    int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch %d (docs %d..%d): %v", e.Batch, e.From, e.To, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}
