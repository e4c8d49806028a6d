package responses

import (
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// RetryAfter is an advisory hint for when a failed request may be retried.
// Delay is always non-negative and ResumeAt is never before the time the
// hint was constructed: a date in the past clamps both.
type RetryAfter struct {
	Delay    time.Duration
	ResumeAt time.Time
}

// RetryAfterFromDelay builds a hint from a relative delay.
func RetryAfterFromDelay(delay time.Duration, now time.Time) RetryAfter {
	if delay < 0 {
		delay = 0
	}
	return RetryAfter{Delay: delay, ResumeAt: now.Add(delay)}
}

// RetryAfterFromResumeAt builds a hint from an absolute resume time.
func RetryAfterFromResumeAt(resumeAt, now time.Time) RetryAfter {
	if resumeAt.Before(now) {
		return RetryAfter{Delay: 0, ResumeAt: now}
	}
	return RetryAfter{Delay: resumeAt.Sub(now), ResumeAt: resumeAt}
}

// Date layouts accepted after HTTP-date: RFC 3339, RFC 2822 (numeric zone),
// and a legacy variant with a two-digit day.
var retryAfterDateLayouts = []string{
	time.RFC3339,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 02 Jan 2006 15:04:05 -0700",
}

// ParseRetryAfterHeader parses a Retry-After-style header value. It accepts
// bare integer seconds, floating-point seconds, an HTTP-date (RFC 7231), an
// RFC 3339 or RFC 2822 date, or a legacy date format. Surrounding quote and
// bracket characters are stripped before parsing.
func ParseRetryAfterHeader(value string, now time.Time) (RetryAfter, bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return RetryAfter{}, false
	}
	normalized := strings.TrimSpace(strings.Trim(trimmed, `"'<>`))
	if normalized == "" {
		return RetryAfter{}, false
	}

	if secs, err := strconv.ParseUint(normalized, 10, 64); err == nil {
		return RetryAfterFromDelay(time.Duration(secs)*time.Second, now), true
	}
	if floatSecs, err := strconv.ParseFloat(normalized, 64); err == nil {
		if !math.IsInf(floatSecs, 0) && !math.IsNaN(floatSecs) && floatSecs >= 0 {
			return RetryAfterFromDelay(time.Duration(floatSecs*float64(time.Second)), now), true
		}
		return RetryAfter{}, false
	}
	if at, err := http.ParseTime(normalized); err == nil {
		return RetryAfterFromResumeAt(at, now), true
	}
	for _, layout := range retryAfterDateLayouts {
		if at, err := time.Parse(layout, normalized); err == nil {
			return RetryAfterFromResumeAt(at, now), true
		}
	}
	return RetryAfter{}, false
}

// retryHintRe matches human-readable retry hints like "Please try again in
// 1.5s" or "Retry after 30 seconds".
var retryHintRe = regexp.MustCompile(
	`(?i)(?:please\s+try\s+again|try\s+again|please\s+retry|retry|try)\s+(?:in|after)\s*(\d+(?:\.\d+)?)\s*(ms|milliseconds?|s|sec|secs|seconds?)`)

// TryParseRetryAfter extracts a retry hint from a structured error body:
// a machine-readable resets_in_seconds field when present, otherwise a scan
// of the human-readable message.
func TryParseRetryAfter(apiErr *APIError, now time.Time) (RetryAfter, bool) {
	if apiErr == nil {
		return RetryAfter{}, false
	}
	if apiErr.ResetsInSeconds != nil {
		return RetryAfterFromDelay(time.Duration(*apiErr.ResetsInSeconds)*time.Second, now), true
	}
	m := retryHintRe.FindStringSubmatch(apiErr.Message)
	if m == nil {
		return RetryAfter{}, false
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(m[1]), 64)
	if err != nil || value < 0 {
		return RetryAfter{}, false
	}
	unit := strings.ToLower(strings.TrimSpace(m[2]))
	switch {
	case strings.HasPrefix(unit, "ms") || strings.HasPrefix(unit, "millisecond"):
		return RetryAfterFromDelay(time.Duration(math.Round(value))*time.Millisecond, now), true
	case unit == "s" || strings.HasPrefix(unit, "sec"):
		return RetryAfterFromDelay(time.Duration(value*float64(time.Second)), now), true
	}
	return RetryAfter{}, false
}
