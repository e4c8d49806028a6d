package responses

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProvider(baseURL string) Provider {
	return Provider{
		Name:        "test",
		BaseURL:     baseURL,
		APIKey:      "test-key",
		IdleTimeout: 2 * time.Second,
		RetryPolicy: RetryPolicy{MaxRetries: 0, BaseDelay: 0.001, MaxDelay: 0.01, BackoffMultiplier: 2.0},
	}
}

func TestClientStreamEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/responses", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Request-Id"))

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("x-relay-primary-used-percent", "5")
		w.Header().Set("x-relay-secondary-used-percent", "1")
		w.Header().Set("x-relay-primary-over-secondary-limit-percent", "50")
		w.Header().Set("x-relay-primary-window-minutes", "60")
		w.Header().Set("x-relay-secondary-window-minutes", "10080")

		w.Write([]byte("data: " + textDeltaEvent("hello", 1) + "\n\n"))
		w.Write([]byte("data: " + completedEvent(2) + "\n\n"))
	}))
	defer srv.Close()

	client := NewClient(testProvider(srv.URL), testLogger)
	handle, err := client.Stream(context.Background(), Request{Model: "m"}, NewStreamCheckpoint())
	require.NoError(t, err)
	require.NotNil(t, handle.RateLimits)
	assert.Equal(t, 5.0, handle.RateLimits.PrimaryUsedPercent)

	var deltas []string
	var completed bool
	for res := range handle.Events {
		require.NoError(t, res.Err)
		switch ev := res.Event.(type) {
		case OutputTextDelta:
			deltas = append(deltas, ev.Delta)
		case Completed:
			completed = true
		}
	}
	assert.Equal(t, []string{"hello"}, deltas)
	assert.True(t, completed)
}

func TestClientHeaderHintWinsOverBodyHint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"Rate limit reached. Please try again in 2s."}}`))
	}))
	defer srv.Close()

	client := NewClient(testProvider(srv.URL), testLogger)
	_, err := client.Stream(context.Background(), Request{Model: "m"}, NewStreamCheckpoint())

	var stream *StreamError
	require.True(t, errors.As(err, &stream))
	require.NotNil(t, stream.RetryAfter)
	assert.Equal(t, 120*time.Second, stream.RetryAfter.Delay)
}

func TestClientUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("bad token"))
	}))
	defer srv.Close()

	client := NewClient(testProvider(srv.URL), testLogger)
	_, err := client.Stream(context.Background(), Request{Model: "m"}, NewStreamCheckpoint())

	var auth *AuthRefreshPermanentError
	require.True(t, errors.As(err, &auth))
	assert.Contains(t, auth.Message, "bad token")
}

func TestClientClassifiesErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"type":"usage_limit_reached","plan_type":"plus","resets_in_seconds":60}}`))
	}))
	defer srv.Close()

	client := NewClient(testProvider(srv.URL), testLogger)
	_, err := client.Stream(context.Background(), Request{Model: "m"}, NewStreamCheckpoint())

	var usage *UsageLimitReachedError
	require.True(t, errors.As(err, &usage))
	assert.Equal(t, "plus", usage.PlanType)
	require.NotNil(t, usage.ResetsInSeconds)
	assert.Equal(t, uint64(60), *usage.ResetsInSeconds)
}

func TestClientRetriesRetryableConnectFailures(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":{"message":"try again in 1ms"}}`))
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: " + completedEvent(1) + "\n\n"))
	}))
	defer srv.Close()

	provider := testProvider(srv.URL)
	provider.RetryPolicy.MaxRetries = 2

	client := NewClient(provider, testLogger)
	handle, err := client.Stream(context.Background(), Request{Model: "m"}, NewStreamCheckpoint())
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	for res := range handle.Events {
		require.NoError(t, res.Err)
	}
}
