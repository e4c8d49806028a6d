package responses

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/coderelay/coderelay/protocol"
)

// errorBodyLimit bounds how much of an HTTP error body is read.
const errorBodyLimit = 64 * 1024

// streamChannelSize is the per-attempt event buffer. The channel is bounded
// so a consumer that stops draining backpressures the network read loop
// instead of growing memory.
const streamChannelSize = 64

// Client issues streaming turn requests against one provider.
type Client struct {
	provider Provider
	logger   *slog.Logger
}

// NewClient creates a client for the given provider.
func NewClient(provider Provider, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{provider: provider, logger: logger}
}

// Provider returns the client's provider configuration.
func (c *Client) Provider() Provider { return c.provider }

// StreamHandle is one established response stream.
type StreamHandle struct {
	// Events yields accepted response events and, last, any terminal error.
	// The channel closes when the attempt is finished either way.
	Events <-chan StreamResult
	// RateLimits carries the backend's rate-limit snapshot when the
	// response headers included one.
	RateLimits *protocol.RateLimitSnapshot
	// RequestID identifies the attempt for error correlation.
	RequestID string
}

// Stream issues the request, retrying retryable connection failures per the
// provider's policy. The checkpoint must be owned by the logical turn and
// passed unchanged into every attempt so deduplication survives reconnects.
func (c *Client) Stream(ctx context.Context, req Request, checkpoint *StreamCheckpoint) (*StreamHandle, error) {
	return Retry(ctx, c.provider.RetryPolicy, func(ctx context.Context) (*StreamHandle, error) {
		return c.attempt(ctx, req, checkpoint)
	})
}

// attempt performs a single connection attempt and, on success, spawns the
// stream processor over the response body.
func (c *Client) attempt(ctx context.Context, req Request, checkpoint *StreamCheckpoint) (*StreamHandle, error) {
	req.Stream = true
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, &StreamError{Message: fmt.Sprintf("encode request: %v", err)}
	}

	requestID := uuid.New().String()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.provider.BaseURL+"/responses", bytes.NewReader(payload))
	if err != nil {
		return nil, &StreamError{Message: fmt.Sprintf("build request: %v", err), RequestID: requestID}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("X-Request-Id", requestID)
	if c.provider.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.provider.APIKey)
	}

	resp, err := c.provider.httpClient().Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &StreamError{Message: fmt.Sprintf("[transport] %v", err), RequestID: requestID}
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, c.classifyHTTPError(resp, requestID)
	}

	tx := make(chan StreamResult, streamChannelSize)
	go func() {
		defer resp.Body.Close()
		defer close(tx)
		ProcessSSE(ctx, resp.Body, tx, c.provider.idleTimeout(), checkpoint, requestID, c.logger)
	}()

	return &StreamHandle{
		Events:     tx,
		RateLimits: ParseRateLimitSnapshot(resp.Header),
		RequestID:  requestID,
	}, nil
}

// classifyHTTPError turns a non-2xx response into a typed error. A
// machine-readable Retry-After header always wins over any hint scraped
// from the error body.
func (c *Client) classifyHTTPError(resp *http.Response, requestID string) error {
	now := time.Now()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))

	var headerHint *RetryAfter
	if hint, ok := ParseRetryAfterHeader(resp.Header.Get("Retry-After"), now); ok {
		headerHint = &hint
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return &AuthRefreshPermanentError{Message: string(body)}
	}

	var wrapper struct {
		Error *APIError `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapper); err == nil && wrapper.Error != nil {
		classified := ClassifyAPIError(wrapper.Error, now, requestID)
		if se, ok := classified.(*StreamError); ok && headerHint != nil {
			se.RetryAfter = headerHint
		}
		return classified
	}

	excerpt := string(body)
	if len(excerpt) > parseErrorExcerptLen {
		excerpt = excerpt[:parseErrorExcerptLen]
	}
	return &StreamError{
		Message:    fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, excerpt),
		RetryAfter: headerHint,
		RequestID:  requestID,
	}
}
