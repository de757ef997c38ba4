package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors surfaced to tool handlers. Handlers map these onto the
// response envelope's error_code.
var (
	// ErrNotFound is returned when an id or slug lookup misses.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned on duplicate id or duplicate slug.
	ErrConflict = errors.New("record already exists")
	// ErrInvalidFilter is returned when a filter references an unknown field.
	ErrInvalidFilter = errors.New("invalid filter")
	// ErrUnknownTable is returned when a table name is not registered.
	ErrUnknownTable = errors.New("unknown table")
	// ErrUnavailable wraps connection/timeout conditions from the underlying
	// store. It is the only category callers retry.
	ErrUnavailable = errors.New("storage unavailable")
)

// IsRetryable reports whether an operation that failed with err should be
// retried under the backoff policy. Only availability errors qualify;
// validation, conflict, and not-found errors are permanent.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

const retryAttempts = 3

var retryBackoff = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// WithRetry runs fn up to three times with exponential backoff (1s, 2s, 4s)
// as long as the failure is retryable. Context cancellation aborts the wait.
func WithRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if err = fn(); err == nil || !IsRetryable(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry aborted: %w", ctx.Err())
		case <-time.After(retryBackoff[attempt]):
		}
	}
	return err
}
