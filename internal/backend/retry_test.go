package backend

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}
	err := Retry(context.Background(), cfg, func(error) bool { return true }, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts: want 3, got %d", attempts)
	}
}

func TestRetryStopsOnNonRetryableError(t *testing.T) {
	attempts := 0
	wantErr := errors.New("permanent")
	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}
	err := Retry(context.Background(), cfg, func(error) bool { return false }, func() error {
		attempts++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("want wrapped %v, got %v", wantErr, err)
	}
	if attempts != 1 {
		t.Fatalf("attempts: want 1, got %d", attempts)
	}
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	attempts := 0
	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}
	err := Retry(context.Background(), cfg, func(error) bool { return true }, func() error {
		attempts++
		return errors.New("still failing")
	})
	if !errors.Is(err, ErrBackend) {
		t.Fatalf("want ErrBackend, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts: want 3, got %d", attempts)
	}
}

func TestRetryRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxAttempts: 5, BaseDelay: 50 * time.Millisecond}
	attempts := 0
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	err := Retry(ctx, cfg, func(error) bool { return true }, func() error {
		attempts++
		return errors.New("retryable")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if attempts < 1 {
		t.Fatalf("expected at least one attempt before cancellation")
	}
}
