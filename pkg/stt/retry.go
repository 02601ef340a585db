package stt

import (
	"context"
	"log/slog"
	"time"
)

// withRetry runs fn until it succeeds, fails permanently, or the attempt
// budget is spent. Delays double with each attempt.
func withRetry(ctx context.Context, cfg *Config, logger *slog.Logger, fn func() (*Result, error)) (*Result, error) {
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff(cfg.RetryDelay, attempt)):
			}
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		if !IsRetryable(err) {
			return nil, err
		}
		logger.Warn("retrying transcription", "attempt", attempt+1, "error", err)
	}

	return nil, lastErr
}

// backoff is the wait before retry attempt n (n >= 1): delay, 2*delay, 4*delay...
func backoff(delay time.Duration, n int) time.Duration {
	if n < 1 {
		return 0
	}
	return delay << (n - 1)
}
