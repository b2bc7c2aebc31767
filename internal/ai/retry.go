package ai

import (
	"context"
	"log/slog"
	"time"
)

const defaultBackoff = 2 * time.Second

// WithRetry runs fn up to maxAttempts times with exponential backoff
// (backoff, 2×backoff, 4×backoff, ...). Only errors classified retryable
// by IsRetryable trigger another attempt; auth and validation failures are
// returned immediately. Context cancellation stops the loop between
// attempts.
func WithRetry(ctx context.Context, name string, maxAttempts int, backoff time.Duration, fn func() error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if backoff <= 0 {
		backoff = defaultBackoff
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) || attempt == maxAttempts {
			return err
		}

		wait := backoff << (attempt - 1)
		slog.Debug("ai: retrying after transient error",
			"provider", name, "attempt", attempt, "wait", wait, "error", err)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
