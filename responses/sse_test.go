package responses

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testIdleTimeout = 2 * time.Second

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func sseBody(events ...string) io.Reader {
	var sb strings.Builder
	for _, e := range events {
		sb.WriteString("data: " + e + "\n\n")
	}
	return strings.NewReader(sb.String())
}

// runProcessor drains one ProcessSSE run into accepted events and the
// terminal error, if any.
func runProcessor(t *testing.T, body io.Reader, idle time.Duration, checkpoint *StreamCheckpoint) ([]ResponseEvent, error) {
	t.Helper()
	if checkpoint == nil {
		checkpoint = NewStreamCheckpoint()
	}
	tx := make(chan StreamResult, 256)
	go func() {
		defer close(tx)
		ProcessSSE(context.Background(), body, tx, idle, checkpoint, "test-req", testLogger)
	}()

	var events []ResponseEvent
	var terminal error
	for res := range tx {
		if res.Err != nil {
			terminal = res.Err
			continue
		}
		events = append(events, res.Event)
	}
	return events, terminal
}

func textDeltaEvent(delta string, seq uint64) string {
	return fmt.Sprintf(`{"type":"response.output_text.delta","item_id":"item_1","delta":%q,"sequence_number":%d}`, delta, seq)
}

func completedEvent(seq uint64) string {
	return fmt.Sprintf(`{"type":"response.completed","sequence_number":%d,"response":{"id":"resp_1","usage":{"input_tokens":10,"output_tokens":5,"total_tokens":15}}}`, seq)
}

func TestProcessSSEMonotonicDedup(t *testing.T) {
	body := sseBody(
		textDeltaEvent("a", 1),
		textDeltaEvent("b", 2),
		textDeltaEvent("dup", 2),
		textDeltaEvent("stale", 1),
		textDeltaEvent("c", 3),
		completedEvent(4),
	)
	events, terminal := runProcessor(t, body, testIdleTimeout, nil)
	require.NoError(t, terminal)

	var deltas []string
	for _, ev := range events {
		if d, ok := ev.(OutputTextDelta); ok {
			deltas = append(deltas, d.Delta)
		}
	}
	assert.Equal(t, []string{"a", "b", "c"}, deltas)
	_, ok := events[len(events)-1].(Completed)
	assert.True(t, ok, "last event should be Completed")
}

func TestProcessSSEReasoningTextGuard(t *testing.T) {
	// No sequence numbers: exact-text repetition on the same key is
	// suppressed; distinct text and distinct keys pass.
	body := sseBody(
		`{"type":"response.reasoning_text.delta","item_id":"r1","delta":"think","content_index":0}`,
		`{"type":"response.reasoning_text.delta","item_id":"r1","delta":"think","content_index":0}`,
		`{"type":"response.reasoning_text.delta","item_id":"r1","delta":"think","content_index":1}`,
		`{"type":"response.reasoning_text.delta","item_id":"r1","delta":"more","content_index":0}`,
		completedEvent(1),
	)
	events, terminal := runProcessor(t, body, testIdleTimeout, nil)
	require.NoError(t, terminal)

	var deltas []ReasoningContentDelta
	for _, ev := range events {
		if d, ok := ev.(ReasoningContentDelta); ok {
			deltas = append(deltas, d)
		}
	}
	require.Len(t, deltas, 3)
	assert.Equal(t, "think", deltas[0].Delta)
	assert.Equal(t, "think", deltas[1].Delta) // different content_index
	assert.Equal(t, "more", deltas[2].Delta)
}

func TestProcessSSEMissingIndicesDefaultToZero(t *testing.T) {
	// A delta with content_index 0 and one with the index omitted share the
	// same dedup key, so the repeated text is suppressed.
	body := sseBody(
		`{"type":"response.reasoning_summary_text.delta","item_id":"r1","delta":"s","summary_index":0}`,
		`{"type":"response.reasoning_summary_text.delta","item_id":"r1","delta":"s"}`,
		completedEvent(1),
	)
	events, terminal := runProcessor(t, body, testIdleTimeout, nil)
	require.NoError(t, terminal)

	count := 0
	for _, ev := range events {
		if _, ok := ev.(ReasoningSummaryDelta); ok {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestProcessSSEEarlyCompletion(t *testing.T) {
	// The transport stays open after response.completed; the processor must
	// terminate anyway.
	pr, pw := io.Pipe()
	defer pw.Close()
	go func() {
		io.WriteString(pw, "data: "+completedEvent(1)+"\n\n")
	}()

	done := make(chan struct{})
	var events []ResponseEvent
	var terminal error
	go func() {
		defer close(done)
		events, terminal = runProcessor(t, pr, testIdleTimeout, nil)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("processor did not terminate after response.completed")
	}
	require.NoError(t, terminal)
	require.Len(t, events, 1)
	completed, ok := events[0].(Completed)
	require.True(t, ok)
	assert.Equal(t, "resp_1", completed.ResponseID)
	require.NotNil(t, completed.TokenUsage)
	assert.Equal(t, uint64(15), completed.TokenUsage.TotalTokens)
}

func TestProcessSSEMissingCompletion(t *testing.T) {
	body := sseBody(
		`{"type":"response.output_item.done","sequence_number":1,"item":{"type":"message","role":"assistant","content":[{"type":"output_text","text":"hi"}]}}`,
	)
	events, terminal := runProcessor(t, body, testIdleTimeout, nil)

	require.Len(t, events, 1)
	_, ok := events[0].(OutputItemDone)
	assert.True(t, ok)

	var stream *StreamError
	require.True(t, errors.As(terminal, &stream))
	assert.Contains(t, stream.Message, "stream closed before response.completed")
}

func TestProcessSSEIdleTimeout(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	start := time.Now()
	_, terminal := runProcessor(t, pr, 50*time.Millisecond, nil)

	var stream *StreamError
	require.True(t, errors.As(terminal, &stream))
	assert.Contains(t, stream.Message, "idle timeout")
	assert.Less(t, time.Since(start), time.Second)
}

func TestProcessSSECheckpointSurvivesReconnect(t *testing.T) {
	checkpoint := NewStreamCheckpoint()

	// First attempt delivers seq 1 and 2, then dies mid-stream.
	events, terminal := runProcessor(t, sseBody(
		textDeltaEvent("a", 1),
		textDeltaEvent("b", 2),
	), testIdleTimeout, checkpoint)
	require.Error(t, terminal)
	require.Len(t, events, 2)

	// The reconnected attempt replays seq 1-2; only seq 3 is new.
	events, terminal = runProcessor(t, sseBody(
		textDeltaEvent("a", 1),
		textDeltaEvent("b", 2),
		textDeltaEvent("c", 3),
		completedEvent(4),
	), testIdleTimeout, checkpoint)
	require.NoError(t, terminal)

	var deltas []string
	for _, ev := range events {
		if d, ok := ev.(OutputTextDelta); ok {
			deltas = append(deltas, d.Delta)
		}
	}
	assert.Equal(t, []string{"c"}, deltas)
}

func TestProcessSSESkipsMalformedEvents(t *testing.T) {
	body := sseBody(
		`{not json`,
		completedEvent(1),
	)
	events, terminal := runProcessor(t, body, testIdleTimeout, nil)
	require.NoError(t, terminal)
	require.Len(t, events, 1)
	_, ok := events[0].(Completed)
	assert.True(t, ok)
}

func TestProcessSSEWebSearchSynthesis(t *testing.T) {
	body := sseBody(
		`{"type":"response.output_item.added","sequence_number":1,"item":{"type":"web_search_call","id":"ws_1"}}`,
		`{"type":"response.output_item.done","sequence_number":2,"item":{"type":"web_search_call","id":"ws_1","action":{"query":"golang sse"}}}`,
		completedEvent(3),
	)
	events, terminal := runProcessor(t, body, testIdleTimeout, nil)
	require.NoError(t, terminal)

	require.GreaterOrEqual(t, len(events), 4)
	begin, ok := events[0].(WebSearchCallBegin)
	require.True(t, ok)
	assert.Equal(t, "ws_1", begin.CallID)

	completed, ok := events[1].(WebSearchCallCompleted)
	require.True(t, ok)
	assert.Equal(t, "ws_1", completed.CallID)
	assert.Equal(t, "golang sse", completed.Query)

	_, ok = events[2].(OutputItemDone)
	assert.True(t, ok, "item itself is still forwarded")
}

func TestProcessSSEResponseFailedClassified(t *testing.T) {
	body := sseBody(
		`{"type":"response.failed","response":{"error":{"code":"insufficient_quota","message":"quota gone"}}}`,
	)
	events, terminal := runProcessor(t, body, testIdleTimeout, nil)
	assert.Empty(t, events)

	var quota *QuotaExceededError
	assert.True(t, errors.As(terminal, &quota))
}

func TestProcessSSECurrentItemIDFallback(t *testing.T) {
	body := sseBody(
		`{"type":"response.output_text.delta","item_id":"item_9","delta":"x","sequence_number":1}`,
		`{"type":"response.output_text.delta","delta":"y","sequence_number":2}`,
		completedEvent(3),
	)
	events, terminal := runProcessor(t, body, testIdleTimeout, nil)
	require.NoError(t, terminal)

	var deltas []OutputTextDelta
	for _, ev := range events {
		if d, ok := ev.(OutputTextDelta); ok {
			deltas = append(deltas, d)
		}
	}
	require.Len(t, deltas, 2)
	assert.Equal(t, "item_9", deltas[0].ItemID)
	assert.Equal(t, "item_9", deltas[1].ItemID)
}
