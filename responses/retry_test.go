package responses

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
		{"usage limit", &UsageLimitReachedError{}, false},
		{"usage not included", &UsageNotIncludedError{}, false},
		{"quota", &QuotaExceededError{}, false},
		{"auth", &AuthRefreshPermanentError{Message: "x"}, false},
		{"io", &IOError{Err: errors.New("disk")}, false},
		{"overloaded", &ServerOverloadedError{}, true},
		{"stream", &StreamError{Message: "boom"}, true},
		{"unknown", errors.New("mystery"), true},
	}
	for _, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Errorf("%s: IsRetryable = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestDelayBackoffWithoutJitter(t *testing.T) {
	p := RetryPolicy{BaseDelay: 1.0, MaxDelay: 10.0, BackoffMultiplier: 2.0}
	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second}
	for attempt, w := range want {
		if got := p.Delay(attempt); got != w {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, w)
		}
	}
}

func TestDelayJitterBounds(t *testing.T) {
	p := RetryPolicy{BaseDelay: 2.0, MaxDelay: 60.0, BackoffMultiplier: 2.0, Jitter: true}
	for i := 0; i < 100; i++ {
		d := p.Delay(0)
		if d < 1*time.Second || d > 3*time.Second {
			t.Fatalf("jittered delay %v outside [1s, 3s]", d)
		}
	}
}

func TestRetrySucceedsAfterRetryableFailures(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, BaseDelay: 0.001, MaxDelay: 0.01, BackoffMultiplier: 2.0}
	calls := 0
	got, err := Retry(context.Background(), policy, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", &StreamError{Message: "transient"}
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Retry returned error: %v", err)
	}
	if got != "ok" || calls != 3 {
		t.Errorf("got %q after %d calls, want ok after 3", got, calls)
	}
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 5, BaseDelay: 0.001, MaxDelay: 0.01, BackoffMultiplier: 2.0}
	calls := 0
	_, err := Retry(context.Background(), policy, func(ctx context.Context) (int, error) {
		calls++
		return 0, &QuotaExceededError{}
	})
	var quota *QuotaExceededError
	if !errors.As(err, &quota) {
		t.Fatalf("want QuotaExceededError, got %v", err)
	}
	if calls != 1 {
		t.Errorf("fn called %d times, want 1", calls)
	}
}

func TestRetrySurfacesOversizedHint(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 5, BaseDelay: 0.001, MaxDelay: 0.5, BackoffMultiplier: 2.0}
	hint := RetryAfterFromDelay(time.Hour, time.Now())
	calls := 0
	_, err := Retry(context.Background(), policy, func(ctx context.Context) (int, error) {
		calls++
		return 0, &StreamError{Message: "busy", RetryAfter: &hint}
	})
	var stream *StreamError
	if !errors.As(err, &stream) {
		t.Fatalf("want StreamError, got %v", err)
	}
	if calls != 1 {
		t.Errorf("fn called %d times, want 1 when hint exceeds cap", calls)
	}
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{MaxRetries: 3, BaseDelay: 5.0, MaxDelay: 10.0, BackoffMultiplier: 2.0}
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := Retry(ctx, policy, func(ctx context.Context) (int, error) {
		return 0, &StreamError{Message: "transient"}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}
