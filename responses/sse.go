package responses

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// maxSSELineBytes bounds a single SSE line; delta payloads are small but
	// output_item.done events can carry whole items.
	maxSSELineBytes = 10 * 1024 * 1024
	// parseErrorExcerptLen bounds the excerpt logged for malformed events.
	parseErrorExcerptLen = 600
	// textGuardCacheSize bounds the best-effort duplicate-text guards used
	// when events carry no sequence number.
	textGuardCacheSize = 1024
)

// rawEvent is one decoded server-sent event: its data payload, or a
// transport-level read error.
type rawEvent struct {
	data string
	err  error
}

// decodeSSE scans the byte stream into discrete server-sent events. The
// event type discriminator lives inside the JSON data payload, so only data
// lines matter; comments and other SSE fields are skipped. The returned
// channel closes on EOF.
func decodeSSE(ctx context.Context, body io.Reader) <-chan rawEvent {
	out := make(chan rawEvent)
	go func() {
		defer close(out)
		send := func(ev rawEvent) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxSSELineBytes)
		var data []string
		for scanner.Scan() {
			line := strings.TrimSuffix(scanner.Text(), "\r")
			if line == "" {
				if len(data) > 0 {
					if !send(rawEvent{data: strings.Join(data, "\n")}) {
						return
					}
					data = data[:0]
				}
				continue
			}
			if strings.HasPrefix(line, ":") {
				continue
			}
			if value, ok := strings.CutPrefix(line, "data:"); ok {
				data = append(data, strings.TrimPrefix(value, " "))
			}
			// event:/id:/retry: fields are irrelevant to this protocol.
		}
		if err := scanner.Err(); err != nil {
			send(rawEvent{err: err})
			return
		}
		if len(data) > 0 {
			send(rawEvent{data: strings.Join(data, "\n")})
		}
	}()
	return out
}

// dedupKey identifies one reasoning delta slot: item, output position, and
// summary/content index. Missing indices default to zero so keys stay total.
type dedupKey struct {
	itemID    string
	outIndex  uint32
	slotIndex uint32
}

func indexOrZero(v *uint32) uint32 {
	if v == nil {
		return 0
	}
	return *v
}

// ProcessSSE consumes the byte stream of one response attempt and emits
// well-ordered ResponseEvents (or one terminal error) on tx. It hides
// transport-level duplication, reordering and reconnect artifacts:
//
//   - Every event carrying a sequence_number at or below the highest one
//     seen (seeded from checkpoint, so dedup survives reconnects) is dropped.
//   - Reasoning deltas are additionally deduplicated per (item, output
//     index, summary/content index) key, falling back to exact-text
//     suppression when no sequence number is present.
//   - response.completed / response.done terminate the stream immediately
//     without waiting for the transport to close.
//   - A stream that ends without completion yields a terminal StreamError.
//   - Any single malformed event is logged and skipped, never fatal.
//
// Waits between events are bounded by idleTimeout. Sends on tx block
// (backpressure); ctx cancellation means the consumer is gone and the
// processor exits early.
func ProcessSSE(
	ctx context.Context,
	body io.Reader,
	tx chan<- StreamResult,
	idleTimeout time.Duration,
	checkpoint *StreamCheckpoint,
	requestID string,
	logger *slog.Logger,
) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if logger == nil {
		logger = slog.Default()
	}
	events := decodeSSE(ctx, body)

	send := func(res StreamResult) bool {
		select {
		case tx <- res:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(message string, retryAfter *RetryAfter) {
		send(StreamResult{Err: &StreamError{Message: message, RetryAfter: retryAfter, RequestID: requestID}})
	}

	// Current item id: updated whenever an event names one, reused as the
	// fallback when a later delta omits it.
	var currentItemID string

	lastSeqSummary := make(map[dedupKey]uint64)
	lastSeqContent := make(map[dedupKey]uint64)
	textGuardSummary, _ := lru.New[dedupKey, string](textGuardCacheSize)
	textGuardContent, _ := lru.New[dedupKey, string](textGuardCacheSize)

	globalLastSeq, haveGlobalSeq := checkpoint.LastSequence()
	sawCompletion := false

	timer := time.NewTimer(idleTimeout)
	defer timer.Stop()

	for {
		var raw rawEvent
		var open bool
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			fail("idle timeout waiting for response event", nil)
			return
		case raw, open = <-events:
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(idleTimeout)

		if !open {
			if !sawCompletion {
				fail("stream closed before response.completed", nil)
			}
			return
		}
		if raw.err != nil {
			fail(fmt.Sprintf("[transport] %v", raw.err), nil)
			return
		}

		var event sseEvent
		if err := json.Unmarshal([]byte(raw.data), &event); err != nil {
			excerpt := raw.data
			if len(excerpt) > parseErrorExcerptLen {
				excerpt = excerpt[:parseErrorExcerptLen]
			}
			logger.Debug("failed to parse SSE event",
				"error", err, "request_id", requestID, "data_excerpt", excerpt)
			continue
		}

		// Global ordering guard. Equal sequence numbers count as duplicates.
		if event.SequenceNumber != nil {
			seq := *event.SequenceNumber
			if haveGlobalSeq && seq <= globalLastSeq {
				continue
			}
			globalLastSeq = seq
			haveGlobalSeq = true
			checkpoint.Advance(seq)
		}

		switch event.Kind {
		case "response.created":
			if len(event.Response) == 0 {
				continue
			}
			var created struct {
				ID    string `json:"id"`
				Model string `json:"model"`
			}
			if err := json.Unmarshal(event.Response, &created); err != nil {
				logger.Debug("failed to parse response.created", "error", err)
				continue
			}
			if !send(StreamResult{Event: Created{ResponseID: created.ID, Model: created.Model}}) {
				return
			}

		case "response.output_item.done":
			// Forward finalized items immediately so consumers stream live
			// instead of stalling until the completion envelope.
			if len(event.Item) == 0 {
				continue
			}
			var item ResponseItem
			if err := json.Unmarshal(event.Item, &item); err != nil {
				logger.Debug("failed to parse output item", "error", err)
				continue
			}
			if item.Type == "web_search_call" {
				query := ""
				if item.Action != nil {
					query = item.Action.Query
				}
				if !send(StreamResult{Event: WebSearchCallCompleted{CallID: item.ID, Query: query}}) {
					return
				}
			}
			if item.ID != "" {
				currentItemID = item.ID
			}
			done := OutputItemDone{
				Item:           item,
				SequenceNumber: event.SequenceNumber,
				OutputIndex:    event.OutputIndex,
			}
			if !send(StreamResult{Event: done}) {
				return
			}

		case "response.output_text.delta":
			if event.Delta == "" {
				continue
			}
			if event.ItemID != "" {
				currentItemID = event.ItemID
			}
			delta := OutputTextDelta{
				Delta:          event.Delta,
				ItemID:         currentItemID,
				SequenceNumber: event.SequenceNumber,
				OutputIndex:    event.OutputIndex,
			}
			if !send(StreamResult{Event: delta}) {
				return
			}

		case "response.reasoning_summary_text.delta":
			if event.Delta == "" {
				continue
			}
			if event.ItemID != "" {
				currentItemID = event.ItemID
			}
			key := dedupKey{
				itemID:    currentItemID,
				outIndex:  indexOrZero(event.OutputIndex),
				slotIndex: indexOrZero(event.SummaryIndex),
			}
			if currentItemID != "" {
				if event.SequenceNumber != nil {
					if *event.SequenceNumber <= lastSeqSummary[key] {
						continue
					}
					lastSeqSummary[key] = *event.SequenceNumber
				} else {
					if prev, ok := textGuardSummary.Get(key); ok && prev == event.Delta {
						continue
					}
					textGuardSummary.Add(key, event.Delta)
				}
			}
			delta := ReasoningSummaryDelta{
				Delta:          event.Delta,
				ItemID:         currentItemID,
				SequenceNumber: event.SequenceNumber,
				OutputIndex:    event.OutputIndex,
				SummaryIndex:   event.SummaryIndex,
			}
			if !send(StreamResult{Event: delta}) {
				return
			}

		case "response.reasoning_text.delta":
			if event.Delta == "" {
				continue
			}
			if event.ItemID != "" {
				currentItemID = event.ItemID
			}
			key := dedupKey{
				itemID:    currentItemID,
				outIndex:  indexOrZero(event.OutputIndex),
				slotIndex: indexOrZero(event.ContentIndex),
			}
			if currentItemID != "" {
				if event.SequenceNumber != nil {
					if *event.SequenceNumber <= lastSeqContent[key] {
						continue
					}
					lastSeqContent[key] = *event.SequenceNumber
				} else {
					if prev, ok := textGuardContent.Get(key); ok && prev == event.Delta {
						continue
					}
					textGuardContent.Add(key, event.Delta)
				}
			}
			delta := ReasoningContentDelta{
				Delta:          event.Delta,
				ItemID:         currentItemID,
				SequenceNumber: event.SequenceNumber,
				OutputIndex:    event.OutputIndex,
				ContentIndex:   event.ContentIndex,
			}
			if !send(StreamResult{Event: delta}) {
				return
			}

		case "response.reasoning_summary_part.added":
			if !send(StreamResult{Event: ReasoningSummaryPartAdded{}}) {
				return
			}

		case "response.output_item.added":
			if len(event.Item) == 0 {
				continue
			}
			var item ResponseItem
			if err := json.Unmarshal(event.Item, &item); err != nil {
				continue
			}
			if item.Type == "web_search_call" {
				if !send(StreamResult{Event: WebSearchCallBegin{CallID: item.ID}}) {
					return
				}
			}

		case "response.failed":
			if len(event.Response) == 0 {
				continue
			}
			var failed struct {
				Error *APIError `json:"error"`
			}
			terminal := error(&StreamError{
				Message:   "response.failed event received",
				RequestID: requestID,
			})
			if err := json.Unmarshal(event.Response, &failed); err != nil {
				logger.Debug("failed to parse response.failed body", "error", err)
			} else if failed.Error != nil {
				terminal = ClassifyAPIError(failed.Error, time.Now(), requestID)
			}
			send(StreamResult{Err: terminal})
			return

		case "response.incomplete":
			reason := "unknown"
			if len(event.Response) > 0 {
				var incomplete struct {
					IncompleteDetails struct {
						Reason string `json:"reason"`
					} `json:"incomplete_details"`
				}
				if err := json.Unmarshal(event.Response, &incomplete); err == nil &&
					incomplete.IncompleteDetails.Reason != "" {
					reason = incomplete.IncompleteDetails.Reason
				}
			}
			fail(fmt.Sprintf("incomplete response returned, reason: %s", reason), nil)
			return

		case "response.completed":
			if len(event.Response) == 0 {
				continue
			}
			var completed responseCompleted
			if err := json.Unmarshal(event.Response, &completed); err != nil {
				logger.Debug("failed to parse response.completed", "error", err)
				continue
			}
			sawCompletion = true
			send(StreamResult{Event: Completed{
				ResponseID: completed.ID,
				TokenUsage: completed.Usage.toTokenUsage(),
			}})
			return

		case "response.done":
			var done responseDone
			if len(event.Response) > 0 {
				if err := json.Unmarshal(event.Response, &done); err != nil {
					logger.Debug("failed to parse response.done", "error", err)
					continue
				}
			}
			sawCompletion = true
			send(StreamResult{Event: Completed{
				ResponseID: done.ID,
				TokenUsage: done.Usage.toTokenUsage(),
			}})
			return

		case "response.content_part.done",
			"response.function_call_arguments.delta",
			"response.custom_tool_call_input.delta",
			"response.custom_tool_call_input.done",
			"response.in_progress",
			"response.output_text.done",
			"response.reasoning_summary_text.done":
			// Known but unhandled event types.

		default:
			// Unknown event types are additive server changes; ignore.
		}
	}
}
