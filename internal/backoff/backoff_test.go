package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPolicy_Compute(t *testing.T) {
	policy := Policy{Initial: 100 * time.Millisecond, Max: time.Second, Factor: 2, Jitter: 0.5}

	tests := []struct {
		attempt int
		random  float64
		want    time.Duration
	}{
		{attempt: 1, random: 0, want: 100 * time.Millisecond},
		{attempt: 2, random: 0, want: 200 * time.Millisecond},
		{attempt: 3, random: 0, want: 400 * time.Millisecond},
		{attempt: 1, random: 1, want: 150 * time.Millisecond},
		{attempt: 10, random: 0, want: time.Second},
		{attempt: 0, random: 0, want: 100 * time.Millisecond},
	}

	for _, tt := range tests {
		if got := policy.computeWithRand(tt.attempt, tt.random); got != tt.want {
			t.Errorf("attempt %d rand %.1f: got %v, want %v", tt.attempt, tt.random, got, tt.want)
		}
	}
}

func TestFixed(t *testing.T) {
	p := Fixed(2 * time.Second)
	for attempt := 1; attempt <= 4; attempt++ {
		if got := p.Compute(attempt); got != 2*time.Second {
			t.Errorf("attempt %d: got %v, want 2s", attempt, got)
		}
	}
}

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep() error = %v, want context.Canceled", err)
	}
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	got, err := Retry(context.Background(), Fixed(time.Millisecond), 3, func(attempt int) (string, error) {
		calls++
		if attempt < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if got != "ok" || calls != 3 {
		t.Errorf("got %q after %d calls, want ok after 3", got, calls)
	}
}

func TestRetry_Exhausted(t *testing.T) {
	cause := errors.New("dns down")
	_, err := Retry(context.Background(), Fixed(time.Millisecond), 2, func(int) (int, error) {
		return 0, cause
	})
	if !errors.Is(err, ErrMaxAttemptsExhausted) {
		t.Errorf("error = %v, want ErrMaxAttemptsExhausted", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("error = %v, want wrapped cause", err)
	}
}

func TestRetry_ContextCancelledBetweenAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Retry(ctx, Fixed(time.Hour), 3, func(int) (int, error) {
		calls++
		cancel()
		return 0, errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
