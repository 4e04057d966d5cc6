package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// RetryConfig bounds retry behavior for inference calls.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryConfig matches the bounded-retry policy for external AI calls:
// up to 3 attempts with base-doubling backoff, rate limits wait longer.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: time.Second}
}

// apiError is an HTTP failure from the inference provider.
type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("gemini: http %d: %s", e.status, e.body)
}

func (e *apiError) retryable() bool {
	return e.status == 429 || e.status >= 500
}

// RetryDo runs fn with bounded retry. Rate-limit and server errors back off
// and retry; anything else fails immediately.
func RetryDo[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := cfg.BaseDelay << (attempt - 1)
			var apiErr *apiError
			if errors.As(lastErr, &apiErr) && apiErr.status == 429 {
				delay = 5 * time.Second * time.Duration(attempt)
			}
			slog.Warn("ai: retrying after error",
				"attempt", attempt+1, "max", cfg.MaxAttempts, "delay", delay, "error", lastErr)
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		var apiErr *apiError
		if errors.As(err, &apiErr) && !apiErr.retryable() {
			return zero, err
		}
	}
	return zero, lastErr
}
