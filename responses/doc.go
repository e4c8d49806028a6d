// Package responses is a streaming client for the Responses wire protocol.
//
// A Client posts one turn request and returns a StreamHandle whose channel
// carries ResponseEvents in accepted order. ProcessSSE is the protocol state
// machine behind it: it decodes server-sent events, drops anything at or
// below the highest sequence number already seen (seeded from a
// StreamCheckpoint shared across reconnect attempts, so deduplication
// survives a retry), additionally deduplicates reasoning deltas per
// (item, output index, slot index) key, and terminates as soon as the server
// reports completion rather than waiting for the transport to close.
//
// Failures are data: ClassifyAPIError and the HTTP error path produce typed
// errors (StreamError, UsageLimitReachedError, QuotaExceededError, ...) that
// callers discriminate with errors.As. Retry hints are parsed from
// Retry-After headers in several date formats and, failing that, scraped
// from human-readable error messages; a header hint always wins.
package responses
