package responses

import "sync"

// StreamCheckpoint carries deduplication state across reconnect attempts of
// one logical turn. The turn owns the checkpoint and passes the same instance
// into every attempt, so a retried stream resumes filtering where the failed
// attempt left off instead of re-forwarding replayed events.
type StreamCheckpoint struct {
	mu           sync.RWMutex
	lastSequence uint64
	seen         bool
}

// NewStreamCheckpoint returns an empty checkpoint.
func NewStreamCheckpoint() *StreamCheckpoint {
	return &StreamCheckpoint{}
}

// LastSequence returns the highest sequence number observed so far, and
// whether any has been observed at all.
func (c *StreamCheckpoint) LastSequence() (uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSequence, c.seen
}

// Advance records an accepted sequence number. Values at or below the current
// high-water mark are ignored.
func (c *StreamCheckpoint) Advance(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seen && seq <= c.lastSequence {
		return
	}
	c.lastSequence = seq
	c.seen = true
}
