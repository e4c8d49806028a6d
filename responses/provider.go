package responses

import (
	"net/http"
	"time"
)

// Provider describes one streaming backend: where to reach it and how
// patient to be with it.
type Provider struct {
	// Name identifies the backend (e.g. "openai").
	Name string
	// BaseURL is the endpoint root; the responses path is appended.
	BaseURL string
	// APIKey is sent as a bearer token when non-empty.
	APIKey string
	// IdleTimeout bounds the silence tolerated between stream events.
	IdleTimeout time.Duration
	// RetryPolicy governs reconnect attempts for retryable failures.
	RetryPolicy RetryPolicy
	// HTTPClient overrides the default transport when non-nil.
	HTTPClient *http.Client
}

// defaultIdleTimeout is applied when a provider leaves IdleTimeout zero.
const defaultIdleTimeout = 75 * time.Second

// BuiltinProvider returns the named provider preset, or false when the name
// is unknown.
func BuiltinProvider(name string) (Provider, bool) {
	switch name {
	case "openai":
		return Provider{
			Name:        "openai",
			BaseURL:     "https://api.openai.com/v1",
			IdleTimeout: defaultIdleTimeout,
			RetryPolicy: DefaultRetryPolicy(),
		}, true
	default:
		return Provider{}, false
	}
}

func (p Provider) idleTimeout() time.Duration {
	if p.IdleTimeout > 0 {
		return p.IdleTimeout
	}
	return defaultIdleTimeout
}

func (p Provider) httpClient() *http.Client {
	if p.HTTPClient != nil {
		return p.HTTPClient
	}
	return http.DefaultClient
}
