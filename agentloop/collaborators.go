package agentloop

import (
	"context"

	"github.com/coderelay/coderelay/protocol"
)

// SafetyVerdict is what the safety engine decides about a proposed action.
type SafetyVerdict string

const (
	// VerdictAutoApprove runs the action without asking.
	VerdictAutoApprove SafetyVerdict = "auto_approve"
	// VerdictAskUser pauses the turn until the user answers.
	VerdictAskUser SafetyVerdict = "ask_user"
	// VerdictReject refuses the action outright.
	VerdictReject SafetyVerdict = "reject"
)

// SafetyDecision is the engine's assessment of one proposed command.
type SafetyDecision struct {
	Verdict SafetyVerdict
	Reason  string
}

// SafetyEngine assesses proposed commands against the approval policy and
// the session's approved patterns.
type SafetyEngine interface {
	AssessCommand(command []string, policy ApprovalPolicy, approved []protocol.ApprovedCommandPattern) SafetyDecision
}

// PolicySafetyEngine applies the approval policy directly: pre-approved
// patterns always auto-approve, otherwise the policy decides.
type PolicySafetyEngine struct{}

func (PolicySafetyEngine) AssessCommand(command []string, policy ApprovalPolicy, approved []protocol.ApprovedCommandPattern) SafetyDecision {
	for _, pat := range approved {
		if pat.Matches(command) {
			return SafetyDecision{Verdict: VerdictAutoApprove, Reason: "pre-approved"}
		}
	}
	switch policy {
	case ApproveNever:
		return SafetyDecision{Verdict: VerdictReject, Reason: "approval policy forbids asking"}
	case ApproveUntrusted:
		return SafetyDecision{Verdict: VerdictAskUser, Reason: "command is not pre-approved"}
	default:
		return SafetyDecision{Verdict: VerdictAskUser}
	}
}

// RolloutItem is one persisted line of the session transcript.
type RolloutItem struct {
	Timestamp int64  `json:"ts"`
	Kind      string `json:"kind"`
	Payload   any    `json:"payload,omitempty"`
}

// RolloutRecorder persists the session transcript. RecordItems may buffer;
// Shutdown flushes everything and must complete before the loop reports
// shutdown to the frontend.
type RolloutRecorder interface {
	RecordItems(ctx context.Context, items []RolloutItem) error
	Shutdown(ctx context.Context) error
}

// McpConnectionManager owns connections to MCP servers and their tool
// inventories.
type McpConnectionManager interface {
	// ListAllTools returns the cached inventory keyed by qualified name.
	ListAllTools() map[string]protocol.McpTool
	// RefreshTools re-queries every configured server.
	RefreshTools(ctx context.Context) error
}

// HistoryStore is the cross-session message history log.
type HistoryStore interface {
	// Append adds a line. Append failures are logged, never surfaced.
	Append(ctx context.Context, sessionID, text string) error
	// Lookup fetches the entry at offset if logID still identifies the
	// backing log.
	Lookup(logID uint64, offset int) (*protocol.HistoryEntry, bool)
	// LogID identifies the backing log for later lookups.
	LogID() uint64
}
