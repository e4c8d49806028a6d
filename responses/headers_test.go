package responses

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRateLimitSnapshot(t *testing.T) {
	headers := http.Header{}
	headers.Set("x-relay-primary-used-percent", "42.5")
	headers.Set("x-relay-secondary-used-percent", "10")
	headers.Set("x-relay-primary-over-secondary-limit-percent", "80")
	headers.Set("x-relay-primary-window-minutes", "60")
	headers.Set("x-relay-secondary-window-minutes", "10080")
	headers.Set("x-relay-primary-reset-after-seconds", "900")

	snapshot := ParseRateLimitSnapshot(headers)
	require.NotNil(t, snapshot)
	assert.Equal(t, 42.5, snapshot.PrimaryUsedPercent)
	assert.Equal(t, 10.0, snapshot.SecondaryUsedPercent)
	assert.Equal(t, 80.0, snapshot.PrimaryToSecondaryRatioPct)
	assert.Equal(t, uint64(60), snapshot.PrimaryWindowMinutes)
	assert.Equal(t, uint64(10080), snapshot.SecondaryWindowMinutes)
	require.NotNil(t, snapshot.PrimaryResetAfterSeconds)
	assert.Equal(t, uint64(900), *snapshot.PrimaryResetAfterSeconds)
	assert.Nil(t, snapshot.SecondaryResetAfterSeconds)
}

func TestParseRateLimitSnapshotIncomplete(t *testing.T) {
	// Missing any required header yields no snapshot; absence is not an error.
	headers := http.Header{}
	assert.Nil(t, ParseRateLimitSnapshot(headers))

	headers.Set("x-relay-primary-used-percent", "42.5")
	assert.Nil(t, ParseRateLimitSnapshot(headers))

	headers.Set("x-relay-secondary-used-percent", "not-a-number")
	assert.Nil(t, ParseRateLimitSnapshot(headers))
}
