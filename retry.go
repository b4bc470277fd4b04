package rop

import (
	"context"
	"errors"
	log "log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// Retry executes task with Fibonacci backoff up to 5 retries.
// If retries are exhausted, gaveUpTask is invoked (when not nil) and the final error is returned.
func Retry(ctx context.Context, task func(ctx context.Context) error, gaveUpTask func(ctx context.Context)) error {
	b := retry.NewFibonacci(1 * time.Second)
	if err := retry.Do(ctx, retry.WithMaxRetries(5, b), task); err != nil {
		log.Warn(err.Error() + ", gave up")
		if gaveUpTask != nil {
			gaveUpTask(ctx)
		}
		return err
	}
	return nil
}

// RetryableError marks err as retryable for Retry. Wrap transient failures with it
// inside the task function, e.g. `return rop.RetryableError(err)`.
func RetryableError(err error) error {
	return retry.RetryableError(err)
}

// ShouldRetry reports whether the error is worth a retry of the whole call or transaction
// (non-nil and not a known permanent failure).
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	// Context cancellations/timeouts are permanent from the caller's POV.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var e Error
	if errors.As(err, &e) {
		switch e.Code {
		// The server suggests retrying the whole transaction on serialization failures.
		case DeadlockDetected, LockAcquisitionFailure, TransportFailure, SessionExpired:
			return true
		// Caller bugs and policy denials stay failed no matter how often retried.
		case ValidationFailure, AccessDenied:
			return false
		}
	}

	return true
}
