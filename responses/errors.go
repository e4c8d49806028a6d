package responses

import (
	"fmt"
	"time"
)

// Terminal error kinds of the stream and of classification. They are data:
// every fallible operation returns one explicitly, and callers discriminate
// with errors.As for differentiated UX.

// StreamError is a generic transport or protocol failure.
type StreamError struct {
	Message    string
	RetryAfter *RetryAfter
	RequestID  string
}

func (e *StreamError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("stream error (request %s): %s", e.RequestID, e.Message)
	}
	return fmt.Sprintf("stream error: %s", e.Message)
}

// UsageLimitReachedError reports that the account's usage limit was hit.
type UsageLimitReachedError struct {
	PlanType        string
	ResetsInSeconds *uint64
}

func (e *UsageLimitReachedError) Error() string {
	msg := "usage limit reached"
	if e.PlanType != "" {
		msg += " (plan: " + e.PlanType + ")"
	}
	if e.ResetsInSeconds != nil {
		msg += fmt.Sprintf("; resets in %ds", *e.ResetsInSeconds)
	}
	return msg
}

// UsageNotIncludedError reports that the plan does not include this usage.
type UsageNotIncludedError struct{}

func (e *UsageNotIncludedError) Error() string {
	return "usage not included in current plan"
}

// QuotaExceededError reports an exhausted quota.
type QuotaExceededError struct{}

func (e *QuotaExceededError) Error() string { return "quota exceeded" }

// ServerOverloadedError reports backend overload; retrying later may succeed.
type ServerOverloadedError struct{}

func (e *ServerOverloadedError) Error() string { return "server is overloaded" }

// AuthRefreshPermanentError reports an authentication refresh failure that
// will not resolve on its own.
type AuthRefreshPermanentError struct {
	Message string
}

func (e *AuthRefreshPermanentError) Error() string {
	return "authentication refresh failed permanently: " + e.Message
}

// IOError wraps a local I/O failure (history file, rollout file).
type IOError struct {
	Err error
}

func (e *IOError) Error() string { return "io error: " + e.Err.Error() }
func (e *IOError) Unwrap() error { return e.Err }

// APIError is the structured error object inside a response.failed body or
// an HTTP error response.
type APIError struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
	Message string `json:"message,omitempty"`

	// Present on usage_limit_reached and usage_not_included errors.
	PlanType        string  `json:"plan_type,omitempty"`
	ResetsInSeconds *uint64 `json:"resets_in_seconds,omitempty"`
}

func isQuotaExceeded(e *APIError) bool {
	code := e.Code
	if code == "" {
		code = e.Type
	}
	return code == "insufficient_quota"
}

func isServerOverloaded(e *APIError) bool {
	return e.Code == "server_is_overloaded" || e.Code == "slow_down"
}

// ClassifyAPIError maps a structured error body to a typed error, in priority
// order: usage limit, usage not included, quota, overload, generic stream
// error carrying any retry hint found in the body.
func ClassifyAPIError(apiErr *APIError, now time.Time, requestID string) error {
	switch {
	case apiErr.Type == "usage_limit_reached":
		return &UsageLimitReachedError{
			PlanType:        apiErr.PlanType,
			ResetsInSeconds: apiErr.ResetsInSeconds,
		}
	case apiErr.Type == "usage_not_included":
		return &UsageNotIncludedError{}
	case isQuotaExceeded(apiErr):
		return &QuotaExceededError{}
	case isServerOverloaded(apiErr):
		return &ServerOverloadedError{}
	}
	var retryAfter *RetryAfter
	if hint, ok := TryParseRetryAfter(apiErr, now); ok {
		retryAfter = &hint
	}
	return &StreamError{
		Message:    apiErr.Message,
		RetryAfter: retryAfter,
		RequestID:  requestID,
	}
}
