// Package retry wraps transient-failure operations with exponential backoff
// and full jitter. Only failures classified retryable consume attempts;
// everything else propagates immediately.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"time"
)

const maxJitter = time.Second

// HTTPError carries an upstream HTTP failure status for retry classification.
type HTTPError struct {
	StatusCode int
	Status     string
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %s fetching %s", e.Status, e.URL)
}

// Retryable reports whether the status warrants a retry: server errors and
// rate limiting, never other client errors.
func (e *HTTPError) Retryable() bool {
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
}

type retryable interface {
	Retryable() bool
}

// IsRetryable classifies an error as transient. Network-level transport
// failures and errors that self-report via Retryable() qualify; anything else
// is permanent and must not consume attempts.
func IsRetryable(err error) bool {
	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// Do runs op up to maxAttempts times, sleeping baseDelay*2^(k-1) plus up to
// 1s of uniform jitter before attempt k+1. The jitter desynchronizes
// concurrent callers hitting the same upstream. A non-retryable failure is
// returned as-is without further attempts; exhausting maxAttempts returns the
// last observed error.
func Do[T any](ctx context.Context, op func(ctx context.Context) (T, error), maxAttempts int, baseDelay time.Duration) (T, error) {
	var zero T
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == maxAttempts {
			break
		}
		if !IsRetryable(err) {
			return zero, err
		}

		delay := baseDelay<<(attempt-1) + time.Duration(rand.Int63n(int64(maxJitter)))
		slog.Warn("[Retry] Attempt failed, backing off",
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"delay", delay,
			"error", err,
		)

		if err := sleep(ctx, delay); err != nil {
			return zero, err
		}
	}

	return zero, lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
