package ai

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", fmt.Errorf("openai: status 429: slow down"), true},
		{"server error", fmt.Errorf("openai: status 503: unavailable"), true},
		{"timeout", errors.New("request failed: timeout awaiting headers"), true},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"auth", fmt.Errorf("openai: status 401: bad key"), false},
		{"forbidden", fmt.Errorf("anthropic: status 403: denied"), false},
		{"validation", fmt.Errorf("openai: status 422: bad request"), false},
		{"unknown defaults retryable", errors.New("something odd"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Fatalf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsAuthError(t *testing.T) {
	if !IsAuthError(fmt.Errorf("status 401: nope")) {
		t.Fatal("401 should classify as auth error")
	}
	if IsAuthError(fmt.Errorf("status 500: boom")) {
		t.Fatal("500 should not classify as auth error")
	}
}

func TestWithRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), "test", 5, time.Millisecond, func() error {
		calls++
		return fmt.Errorf("status 401: bad key")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("auth error retried: %d calls", calls)
	}
}

func TestWithRetryRetriesTransientErrors(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), "test", 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("status 503: unavailable")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithRetry: %v", err)
	}
	if calls != 3 {
		t.Fatalf("got %d calls, want 3", calls)
	}
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), "test", 3, time.Millisecond, func() error {
		calls++
		return fmt.Errorf("status 500: boom")
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Fatalf("got %d calls, want 3", calls)
	}
}

func TestWithRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WithRetry(ctx, "test", 3, 10*time.Second, func() error {
		return fmt.Errorf("status 500: boom")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
