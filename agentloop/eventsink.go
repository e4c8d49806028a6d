package agentloop

import (
	"context"
	"sync/atomic"

	"github.com/coderelay/coderelay/protocol"
)

// EventSink delivers events to the frontend over a bounded channel. Sends
// block until the consumer makes room; a cancelled context means the consumer
// is gone and the event is dropped.
type EventSink struct {
	ch  chan<- protocol.Event
	seq atomic.Uint64
}

func NewEventSink(ch chan<- protocol.Event) *EventSink {
	return &EventSink{ch: ch}
}

// NextSeq returns the next session-scoped event sequence number.
func (s *EventSink) NextSeq() uint64 {
	return s.seq.Add(1)
}

// Send delivers ev, blocking until the consumer accepts it. It reports false
// if ctx was cancelled first.
func (s *EventSink) Send(ctx context.Context, ev protocol.Event) bool {
	select {
	case s.ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
