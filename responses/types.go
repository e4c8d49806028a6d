package responses

import (
	"encoding/json"
	"strings"

	"github.com/coderelay/coderelay/protocol"
)

// ResponseItem is one output (or input) item of the streaming protocol.
// The Type field discriminates; unused fields stay zero. Unknown types are
// carried through untouched so consumers can ignore them.
type ResponseItem struct {
	Type      string           `json:"type"`
	ID        string           `json:"id,omitempty"`
	Role      string           `json:"role,omitempty"`
	Content   []ContentSpan    `json:"content,omitempty"`
	Summary   []ContentSpan    `json:"summary,omitempty"`
	Name      string           `json:"name,omitempty"`
	Arguments string           `json:"arguments,omitempty"`
	CallID    string           `json:"call_id,omitempty"`
	Status    string           `json:"status,omitempty"`
	Action    *WebSearchAction `json:"action,omitempty"`
}

// ContentSpan is one text span inside an item.
type ContentSpan struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// WebSearchAction describes a web search call's query.
type WebSearchAction struct {
	Query string `json:"query,omitempty"`
}

// Text concatenates the item's text spans.
func (it ResponseItem) Text() string {
	var sb strings.Builder
	for _, span := range it.Content {
		sb.WriteString(span.Text)
	}
	return sb.String()
}

// IsMessage reports whether the item is an assistant/user message.
func (it ResponseItem) IsMessage() bool { return it.Type == "message" }

// TextItem builds a message ResponseItem with a single text span.
func TextItem(role, text string) ResponseItem {
	spanType := "input_text"
	if role == "assistant" {
		spanType = "output_text"
	}
	return ResponseItem{
		Type:    "message",
		Role:    role,
		Content: []ContentSpan{{Type: spanType, Text: text}},
	}
}

// Request is the payload of one streaming turn request.
type Request struct {
	Model           string          `json:"model"`
	Instructions    string          `json:"instructions,omitempty"`
	Input           []ResponseItem  `json:"input"`
	ReasoningEffort string          `json:"reasoning_effort,omitempty"`
	OutputSchema    json.RawMessage `json:"text_format,omitempty"`
	Stream          bool            `json:"stream"`
}

// sseEvent is the decoded JSON payload of one server-sent event. Every field
// except the type discriminator is optional on the wire.
type sseEvent struct {
	Kind           string          `json:"type"`
	Response       json.RawMessage `json:"response,omitempty"`
	Item           json.RawMessage `json:"item,omitempty"`
	Delta          string          `json:"delta,omitempty"`
	ItemID         string          `json:"item_id,omitempty"`
	SequenceNumber *uint64         `json:"sequence_number,omitempty"`
	OutputIndex    *uint32         `json:"output_index,omitempty"`
	ContentIndex   *uint32         `json:"content_index,omitempty"`
	SummaryIndex   *uint32         `json:"summary_index,omitempty"`
}

type responseCompleted struct {
	ID    string                  `json:"id"`
	Usage *responseCompletedUsage `json:"usage,omitempty"`
}

type responseDone struct {
	ID    string                  `json:"id,omitempty"`
	Usage *responseCompletedUsage `json:"usage,omitempty"`
}

type responseCompletedUsage struct {
	InputTokens         uint64              `json:"input_tokens"`
	InputTokensDetails  *inputTokensDetails `json:"input_tokens_details,omitempty"`
	OutputTokens        uint64              `json:"output_tokens"`
	OutputTokensDetails *outputTokensDetails `json:"output_tokens_details,omitempty"`
	TotalTokens         uint64              `json:"total_tokens"`
}

type inputTokensDetails struct {
	CachedTokens uint64 `json:"cached_tokens"`
}

type outputTokensDetails struct {
	ReasoningTokens uint64 `json:"reasoning_tokens"`
}

func (u *responseCompletedUsage) toTokenUsage() *protocol.TokenUsage {
	if u == nil {
		return nil
	}
	out := &protocol.TokenUsage{
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
		TotalTokens:  u.TotalTokens,
	}
	if u.InputTokensDetails != nil {
		out.CachedInputTokens = u.InputTokensDetails.CachedTokens
	}
	if u.OutputTokensDetails != nil {
		out.ReasoningOutputTokens = u.OutputTokensDetails.ReasoningTokens
	}
	return out
}
