package responses

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRetryAfterHeaderSeconds(t *testing.T) {
	now := time.Now()

	ra, ok := ParseRetryAfterHeader("42", now)
	require.True(t, ok)
	assert.Equal(t, 42*time.Second, ra.Delay)
	assert.Equal(t, now.Add(42*time.Second), ra.ResumeAt)

	ra, ok = ParseRetryAfterHeader("1.5", now)
	require.True(t, ok)
	assert.Equal(t, 1500*time.Millisecond, ra.Delay)
}

func TestParseRetryAfterHeaderStripsWrappers(t *testing.T) {
	now := time.Now()

	ra, ok := ParseRetryAfterHeader(` "17" `, now)
	require.True(t, ok)
	assert.Equal(t, 17*time.Second, ra.Delay)

	ra, ok = ParseRetryAfterHeader("<30>", now)
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, ra.Delay)
}

func TestParseRetryAfterHeaderDates(t *testing.T) {
	now := time.Now()

	// HTTP-date in the past clamps to zero.
	past := now.Add(-time.Hour).UTC().Format(http.TimeFormat)
	ra, ok := ParseRetryAfterHeader(past, now)
	require.True(t, ok)
	assert.Equal(t, time.Duration(0), ra.Delay)
	assert.Equal(t, now, ra.ResumeAt)

	// RFC 3339 in the future.
	future := now.Add(90 * time.Second)
	ra, ok = ParseRetryAfterHeader(future.Format(time.RFC3339), now)
	require.True(t, ok)
	assert.InDelta(t, 90, ra.Delay.Seconds(), 1.5)

	// RFC 2822 with a numeric zone.
	ra, ok = ParseRetryAfterHeader(future.Format("Mon, 2 Jan 2006 15:04:05 -0700"), now)
	require.True(t, ok)
	assert.InDelta(t, 90, ra.Delay.Seconds(), 1.5)
}

func TestParseRetryAfterHeaderRejectsGarbage(t *testing.T) {
	now := time.Now()
	for _, value := range []string{"", "   ", "soon", "-5", `""`} {
		_, ok := ParseRetryAfterHeader(value, now)
		assert.False(t, ok, "value %q", value)
	}
}

func TestTryParseRetryAfterResetsField(t *testing.T) {
	now := time.Now()
	resets := uint64(300)
	ra, ok := TryParseRetryAfter(&APIError{
		Message:         "Please try again in 1s",
		ResetsInSeconds: &resets,
	}, now)
	require.True(t, ok)
	// The machine-readable field wins over the message scan.
	assert.Equal(t, 300*time.Second, ra.Delay)
}

func TestTryParseRetryAfterMessageScan(t *testing.T) {
	now := time.Now()
	cases := []struct {
		message string
		want    time.Duration
	}{
		{"Rate limit reached. Please try again in 1.5s.", 1500 * time.Millisecond},
		{"Too many requests, retry after 30 seconds", 30 * time.Second},
		{"try again in 250ms", 250 * time.Millisecond},
		{"Please retry in 2 sec", 2 * time.Second},
	}
	for _, tc := range cases {
		ra, ok := TryParseRetryAfter(&APIError{Message: tc.message}, now)
		require.True(t, ok, "message %q", tc.message)
		assert.Equal(t, tc.want, ra.Delay, "message %q", tc.message)
	}

	_, ok := TryParseRetryAfter(&APIError{Message: "something went wrong"}, now)
	assert.False(t, ok)
}
