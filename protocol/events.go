package protocol

// Event is one outbound notification. ID correlates to the triggering
// Submission (or is session-internal for background completions); EventSeq is
// monotonic within a session.
type Event struct {
	ID       string    `json:"id"`
	EventSeq uint64    `json:"event_seq"`
	Msg      EventMsg  `json:"msg"`
	Order    *OrderKey `json:"order,omitempty"`
}

// OrderKey positions an event within a turn for consumers that interleave
// multiple streams.
type OrderKey struct {
	TurnOrdinal    uint64  `json:"turn_ordinal"`
	SequenceNumber *uint64 `json:"sequence_number,omitempty"`
	OutputIndex    *uint32 `json:"output_index,omitempty"`
}

// EventMsg is the closed union of outbound event payloads.
type EventMsg interface {
	isEventMsg()
}

// ErrorEvent reports a failure correlated to a submission.
type ErrorEvent struct {
	Message string `json:"message"`
}

// AgentMessageEvent carries a complete assistant or status message.
type AgentMessageEvent struct {
	Message string `json:"message"`
}

// AgentMessageDeltaEvent streams a chunk of assistant text.
type AgentMessageDeltaEvent struct {
	Delta  string `json:"delta"`
	ItemID string `json:"item_id,omitempty"`
}

// AgentReasoningDeltaEvent streams a chunk of reasoning text or summary.
type AgentReasoningDeltaEvent struct {
	Delta   string `json:"delta"`
	ItemID  string `json:"item_id,omitempty"`
	Summary bool   `json:"summary,omitempty"`
}

// AgentReasoningSectionBreakEvent marks a boundary between reasoning summary
// sections.
type AgentReasoningSectionBreakEvent struct{}

// TaskStartedEvent announces that a turn began processing.
type TaskStartedEvent struct {
	Model string `json:"model,omitempty"`
}

// TaskCompleteEvent announces that a turn finished naturally.
type TaskCompleteEvent struct {
	LastAgentMessage string `json:"last_agent_message,omitempty"`
}

// TurnAbortReason explains why a turn was aborted.
type TurnAbortReason string

const (
	AbortReasonInterrupted TurnAbortReason = "interrupted"
	AbortReasonReplaced    TurnAbortReason = "replaced"
	AbortReasonShutdown    TurnAbortReason = "shutdown"
)

// TurnAbortedEvent announces that a turn was cancelled before completing.
type TurnAbortedEvent struct {
	Reason TurnAbortReason `json:"reason"`
}

// SessionConfiguredEvent acknowledges ConfigureSessionOp.
type SessionConfiguredEvent struct {
	SessionID string `json:"session_id"`
	Model     string `json:"model"`
}

// ShutdownCompleteEvent is the terminal event of a loop.
type ShutdownCompleteEvent struct{}

// ExecApprovalRequestEvent asks the caller to approve a command.
type ExecApprovalRequestEvent struct {
	ID      string   `json:"id"`
	Command []string `json:"command"`
	Cwd     string   `json:"cwd,omitempty"`
	Reason  string   `json:"reason,omitempty"`
}

// PatchApprovalRequestEvent asks the caller to approve a patch.
type PatchApprovalRequestEvent struct {
	ID      string `json:"id"`
	Summary string `json:"summary"`
}

// WebSearchBeginEvent reports that the model started a web search call.
type WebSearchBeginEvent struct {
	CallID string `json:"call_id"`
}

// WebSearchCompleteEvent reports a finished web search call.
type WebSearchCompleteEvent struct {
	CallID string `json:"call_id"`
	Query  string `json:"query,omitempty"`
}

// AgentStatusUpdateEvent reports the state of background agents.
type AgentStatusUpdateEvent struct {
	Agents []AgentStatus `json:"agents"`
}

// AgentStatus is one background agent's state.
type AgentStatus struct {
	ID      string `json:"id"`
	BatchID string `json:"batch_id,omitempty"`
	Status  string `json:"status"`
}

// TokenCountEvent reports usage and rate-limit data observed on a turn.
type TokenCountEvent struct {
	Usage      *TokenUsage        `json:"usage,omitempty"`
	RateLimits *RateLimitSnapshot `json:"rate_limits,omitempty"`
}

// GetHistoryEntryResponseEvent answers GetHistoryEntryRequestOp. Entry is nil
// when nothing was found.
type GetHistoryEntryResponseEvent struct {
	Offset int           `json:"offset"`
	LogID  uint64        `json:"log_id"`
	Entry  *HistoryEntry `json:"entry,omitempty"`
}

// HistoryEntry is one line of cross-session message history.
type HistoryEntry struct {
	SessionID string `json:"session_id"`
	Timestamp int64  `json:"ts"`
	Text      string `json:"text"`
}

// McpListToolsResponseEvent answers ListMcpToolsOp / RefreshMcpToolsOp.
type McpListToolsResponseEvent struct {
	Tools map[string]McpTool `json:"tools"`
}

// McpTool is one tool exposed by an MCP server.
type McpTool struct {
	Server      string `json:"server"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// ListCustomPromptsResponseEvent answers ListCustomPromptsOp.
type ListCustomPromptsResponseEvent struct {
	CustomPrompts []CustomPrompt `json:"custom_prompts"`
}

// CustomPrompt is a reusable prompt discovered on disk.
type CustomPrompt struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Content string `json:"content"`
}

// ListSkillsResponseEvent answers ListSkillsOp.
type ListSkillsResponseEvent struct {
	Skills []SkillMeta `json:"skills"`
}

// SkillMeta describes one skill discovered on disk. The skill body is loaded
// lazily; only the metadata travels on the wire.
type SkillMeta struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Path        string `json:"path"`
}

func (ErrorEvent) isEventMsg()                      {}
func (AgentMessageEvent) isEventMsg()               {}
func (AgentMessageDeltaEvent) isEventMsg()          {}
func (AgentReasoningDeltaEvent) isEventMsg()        {}
func (AgentReasoningSectionBreakEvent) isEventMsg() {}
func (TaskStartedEvent) isEventMsg()                {}
func (TaskCompleteEvent) isEventMsg()               {}
func (TurnAbortedEvent) isEventMsg()                {}
func (SessionConfiguredEvent) isEventMsg()          {}
func (ShutdownCompleteEvent) isEventMsg()           {}
func (ExecApprovalRequestEvent) isEventMsg()        {}
func (PatchApprovalRequestEvent) isEventMsg()       {}
func (WebSearchBeginEvent) isEventMsg()             {}
func (WebSearchCompleteEvent) isEventMsg()          {}
func (AgentStatusUpdateEvent) isEventMsg()          {}
func (TokenCountEvent) isEventMsg()                 {}
func (GetHistoryEntryResponseEvent) isEventMsg()    {}
func (McpListToolsResponseEvent) isEventMsg()       {}
func (ListCustomPromptsResponseEvent) isEventMsg()  {}
func (ListSkillsResponseEvent) isEventMsg()         {}

// TokenUsage tracks token consumption for one response.
type TokenUsage struct {
	InputTokens          uint64 `json:"input_tokens"`
	CachedInputTokens    uint64 `json:"cached_input_tokens"`
	OutputTokens         uint64 `json:"output_tokens"`
	ReasoningOutputTokens uint64 `json:"reasoning_output_tokens"`
	TotalTokens          uint64 `json:"total_tokens"`
}

// RateLimitSnapshot is the backend's rate-limit picture, parsed from
// response headers. All fields are best-effort.
type RateLimitSnapshot struct {
	PrimaryUsedPercent          float64 `json:"primary_used_percent"`
	SecondaryUsedPercent        float64 `json:"secondary_used_percent"`
	PrimaryToSecondaryRatioPct  float64 `json:"primary_to_secondary_ratio_percent"`
	PrimaryWindowMinutes        uint64  `json:"primary_window_minutes"`
	SecondaryWindowMinutes      uint64  `json:"secondary_window_minutes"`
	PrimaryResetAfterSeconds    *uint64 `json:"primary_reset_after_seconds,omitempty"`
	SecondaryResetAfterSeconds  *uint64 `json:"secondary_reset_after_seconds,omitempty"`
}
