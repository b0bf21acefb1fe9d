package reliability

import (
	"context"
	"net/http"
	"time"
)

// IsRetryableStatus reports whether an upstream HTTP status is worth trying again.
func IsRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// Backoff doubles base per attempt, capped at max. Attempt 0 waits base.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 0; i < attempt && d < max; i++ {
		d *= 2
	}
	if max > 0 && d > max {
		return max
	}
	return d
}

// Retry calls fn up to attempts times while retryable(err) holds, sleeping
// Backoff between calls. The last error is returned.
func Retry(ctx context.Context, attempts int, base, max time.Duration, retryable func(error) bool, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil || !retryable(err) || i == attempts-1 {
			return err
		}
		timer := time.NewTimer(Backoff(i, base, max))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
