package responses

import (
	"math"
	"net/http"
	"strconv"

	"github.com/coderelay/coderelay/protocol"
)

// Vendor rate-limit headers. All are optional; a snapshot is only produced
// when the required percentage/window set is present.
const (
	headerPrimaryUsedPercent        = "x-relay-primary-used-percent"
	headerSecondaryUsedPercent      = "x-relay-secondary-used-percent"
	headerPrimaryOverSecondaryPct   = "x-relay-primary-over-secondary-limit-percent"
	headerPrimaryWindowMinutes      = "x-relay-primary-window-minutes"
	headerSecondaryWindowMinutes    = "x-relay-secondary-window-minutes"
	headerPrimaryResetAfterSeconds  = "x-relay-primary-reset-after-seconds"
	headerSecondaryResetAfterSeconds = "x-relay-secondary-reset-after-seconds"
)

// ParseRateLimitSnapshot extracts the backend's rate-limit picture from
// response headers. Returns nil when any required header is missing or
// malformed; absence is not an error.
func ParseRateLimitSnapshot(headers http.Header) *protocol.RateLimitSnapshot {
	primaryUsed, ok := headerFloat(headers, headerPrimaryUsedPercent)
	if !ok {
		return nil
	}
	secondaryUsed, ok := headerFloat(headers, headerSecondaryUsedPercent)
	if !ok {
		return nil
	}
	ratio, ok := headerFloat(headers, headerPrimaryOverSecondaryPct)
	if !ok {
		return nil
	}
	primaryWindow, ok := headerUint(headers, headerPrimaryWindowMinutes)
	if !ok {
		return nil
	}
	secondaryWindow, ok := headerUint(headers, headerSecondaryWindowMinutes)
	if !ok {
		return nil
	}

	snapshot := &protocol.RateLimitSnapshot{
		PrimaryUsedPercent:         primaryUsed,
		SecondaryUsedPercent:       secondaryUsed,
		PrimaryToSecondaryRatioPct: ratio,
		PrimaryWindowMinutes:       primaryWindow,
		SecondaryWindowMinutes:     secondaryWindow,
	}
	if v, ok := headerUint(headers, headerPrimaryResetAfterSeconds); ok {
		snapshot.PrimaryResetAfterSeconds = &v
	}
	if v, ok := headerUint(headers, headerSecondaryResetAfterSeconds); ok {
		snapshot.SecondaryResetAfterSeconds = &v
	}
	return snapshot
}

func headerFloat(headers http.Header, name string) (float64, bool) {
	raw := headers.Get(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

func headerUint(headers http.Header, name string) (uint64, bool) {
	raw := headers.Get(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
