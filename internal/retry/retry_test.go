package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoSucceedsWithoutRetry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Defaults(), func(attempt int) (bool, error) {
		calls++
		return false, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	calls := 0
	sentinel := errors.New("validation failure")
	err := Do(context.Background(), Defaults(), func(attempt int) (bool, error) {
		calls++
		return false, sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("non-retryable error must not be retried, got %d calls", calls)
	}
}

func TestDoRetriesUpToMaxAttempts(t *testing.T) {
	calls := 0
	sentinel := errors.New("transient")
	opts := Options{MaxAttempts: 3, Base: time.Millisecond, Cap: 5 * time.Millisecond}
	err := Do(context.Background(), opts, func(attempt int) (bool, error) {
		calls++
		return true, sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error after exhausting retries, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestDoRecoversOnLaterAttempt(t *testing.T) {
	calls := 0
	opts := Options{MaxAttempts: 3, Base: time.Millisecond, Cap: 5 * time.Millisecond}
	err := Do(context.Background(), opts, func(attempt int) (bool, error) {
		calls++
		if attempt < 2 {
			return true, errors.New("still failing")
		}
		return false, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	opts := Options{MaxAttempts: 5, Base: 50 * time.Millisecond, Cap: 200 * time.Millisecond}
	calls := 0
	err := Do(ctx, opts, func(attempt int) (bool, error) {
		calls++
		return true, errors.New("transient")
	})
	if err == nil {
		t.Fatalf("expected an error when context is already canceled")
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 attempt before cancellation aborts sleep, got %d", calls)
	}
}
