package responses

import "github.com/coderelay/coderelay/protocol"

// ResponseEvent is the closed union of events the stream processor emits.
// Every variant corresponds to a protocol condition; transport artifacts
// (duplicates, replays, unknown event types) never surface here.
type ResponseEvent interface {
	isResponseEvent()
}

// Created announces the backend accepted the request and opened a response.
type Created struct {
	ResponseID string
	Model      string
}

// OutputItemDone carries one finalized output item. Items are forwarded as
// they complete so consumers stream live instead of waiting for the
// completion envelope.
type OutputItemDone struct {
	Item           ResponseItem
	SequenceNumber *uint64
	OutputIndex    *uint32
}

// OutputTextDelta streams a chunk of assistant message text.
type OutputTextDelta struct {
	Delta          string
	ItemID         string
	SequenceNumber *uint64
	OutputIndex    *uint32
}

// ReasoningSummaryDelta streams a chunk of the reasoning summary.
type ReasoningSummaryDelta struct {
	Delta          string
	ItemID         string
	SequenceNumber *uint64
	OutputIndex    *uint32
	SummaryIndex   *uint32
}

// ReasoningContentDelta streams a chunk of raw reasoning content.
type ReasoningContentDelta struct {
	Delta          string
	ItemID         string
	SequenceNumber *uint64
	OutputIndex    *uint32
	ContentIndex   *uint32
}

// ReasoningSummaryPartAdded marks a boundary between reasoning summary
// sections.
type ReasoningSummaryPartAdded struct{}

// WebSearchCallBegin reports that the model started a web search.
type WebSearchCallBegin struct {
	CallID string
}

// WebSearchCallCompleted reports a finished web search.
type WebSearchCallCompleted struct {
	CallID string
	Query  string
}

// Completed is the terminal success event of a stream.
type Completed struct {
	ResponseID string
	TokenUsage *protocol.TokenUsage
}

func (Created) isResponseEvent()                   {}
func (OutputItemDone) isResponseEvent()            {}
func (OutputTextDelta) isResponseEvent()           {}
func (ReasoningSummaryDelta) isResponseEvent()     {}
func (ReasoningContentDelta) isResponseEvent()     {}
func (ReasoningSummaryPartAdded) isResponseEvent() {}
func (WebSearchCallBegin) isResponseEvent()        {}
func (WebSearchCallCompleted) isResponseEvent()    {}
func (Completed) isResponseEvent()                 {}

// StreamResult is one slot on the processor's output channel: either an
// accepted event or the stream's terminal error, never both.
type StreamResult struct {
	Event ResponseEvent
	Err   error
}
