// Package protocol defines the submission/event data model shared by the
// agent loop, the response-stream client, and host front ends.
//
// A Submission carries exactly one Op into the loop; every Event produced on
// its behalf echoes the submission id. Both Op and EventMsg are closed tagged
// unions: each variant is a concrete struct with an unexported marker method,
// so adding a new operation or event is a compile-time-visible change.
package protocol

import (
	"encoding/json"
	"strings"
)

// Submission is one inbound instruction to the agent loop.
type Submission struct {
	// ID is assigned by the caller and echoed back on every resulting Event.
	ID string `json:"id"`
	Op Op     `json:"op"`
}

// Op is the closed union of operation kinds a caller may submit.
type Op interface {
	isOp()
}

// InterruptOp aborts the active task, if any.
type InterruptOp struct{}

// UserInputOp starts a new turn, superseding any active task.
type UserInputOp struct {
	Items []InputItem `json:"items"`
	// FinalOutputSchema optionally constrains the turn's final message to a
	// JSON schema.
	FinalOutputSchema json.RawMessage `json:"final_output_schema,omitempty"`
}

// QueueUserInputOp enqueues input behind the active task instead of
// superseding it. With no task active it behaves like UserInputOp.
type QueueUserInputOp struct {
	Items []InputItem `json:"items"`
}

// ConfigureSessionOp creates (or replaces) the session state. It must be the
// first Op; every other Op requires a configured session.
type ConfigureSessionOp struct {
	Model           string `json:"model"`
	ReasoningEffort string `json:"reasoning_effort,omitempty"`
	Instructions    string `json:"instructions,omitempty"`
	ApprovalPolicy  string `json:"approval_policy,omitempty"`
	SandboxPolicy   string `json:"sandbox_policy,omitempty"`
	Cwd             string `json:"cwd,omitempty"`
}

// ExecApprovalOp resolves a pending command approval by id.
type ExecApprovalOp struct {
	ID       string         `json:"id"`
	Decision ReviewDecision `json:"decision"`
}

// PatchApprovalOp resolves a pending patch approval by id.
type PatchApprovalOp struct {
	ID       string         `json:"id"`
	Decision ReviewDecision `json:"decision"`
}

// CancelAgentsOp cancels background agents by batch id and/or agent id.
type CancelAgentsOp struct {
	BatchIDs []string `json:"batch_ids,omitempty"`
	AgentIDs []string `json:"agent_ids,omitempty"`
}

// CompactOp requests a history compaction. When a task is active the request
// is injected into it and a single pending compaction is queued; otherwise a
// dedicated compaction task is spawned.
type CompactOp struct{}

// ReviewOp starts a review turn over the given request.
type ReviewOp struct {
	Request ReviewRequest `json:"request"`
}

// RegisterApprovedCommandOp records a command pattern as pre-approved for
// the remainder of the session.
type RegisterApprovedCommandOp struct {
	Command        []string         `json:"command"`
	MatchKind      CommandMatchKind `json:"match_kind"`
	SemanticPrefix []string         `json:"semantic_prefix,omitempty"`
}

// AddToHistoryOp appends a line to cross-session message history. The append
// runs as detached background work.
type AddToHistoryOp struct {
	Text string `json:"text"`
}

// GetHistoryEntryRequestOp looks up one history entry by log id and offset.
// The lookup runs as detached background work and reports back with a
// GetHistoryEntryResponseEvent.
type GetHistoryEntryRequestOp struct {
	Offset int    `json:"offset"`
	LogID  uint64 `json:"log_id"`
}

// ListMcpToolsOp reports the MCP tool inventory.
type ListMcpToolsOp struct{}

// RefreshMcpToolsOp re-queries MCP servers before reporting the inventory.
type RefreshMcpToolsOp struct{}

// ListCustomPromptsOp reports the discovered custom prompts.
type ListCustomPromptsOp struct{}

// ListSkillsOp reports the discovered skills.
type ListSkillsOp struct{}

// ShutdownOp aborts any active task, flushes the rollout recorder, emits
// ShutdownCompleteEvent and terminates the loop.
type ShutdownOp struct{}

func (InterruptOp) isOp()                {}
func (UserInputOp) isOp()                {}
func (QueueUserInputOp) isOp()           {}
func (ConfigureSessionOp) isOp()         {}
func (ExecApprovalOp) isOp()             {}
func (PatchApprovalOp) isOp()            {}
func (CancelAgentsOp) isOp()             {}
func (CompactOp) isOp()                  {}
func (ReviewOp) isOp()                   {}
func (RegisterApprovedCommandOp) isOp()  {}
func (AddToHistoryOp) isOp()             {}
func (GetHistoryEntryRequestOp) isOp()   {}
func (ListMcpToolsOp) isOp()             {}
func (RefreshMcpToolsOp) isOp()          {}
func (ListCustomPromptsOp) isOp()        {}
func (ListSkillsOp) isOp()               {}
func (ShutdownOp) isOp()                 {}

// InputItemKind discriminates InputItem variants.
type InputItemKind string

const (
	InputItemText  InputItemKind = "text"
	InputItemImage InputItemKind = "image"
)

// InputItem is one piece of user input: text or an image reference.
type InputItem struct {
	Kind InputItemKind `json:"kind"`
	Text string        `json:"text,omitempty"`
	// ImageURL holds a URL or data URI when Kind is InputItemImage.
	ImageURL string `json:"image_url,omitempty"`
}

// TextInput builds a plain-text InputItem.
func TextInput(text string) InputItem {
	return InputItem{Kind: InputItemText, Text: text}
}

// ReviewDecision is a caller's verdict on a pending approval.
type ReviewDecision string

const (
	DecisionApproved           ReviewDecision = "approved"
	DecisionApprovedForSession ReviewDecision = "approved_for_session"
	DecisionDenied             ReviewDecision = "denied"
	// DecisionAbort denies the request and interrupts the whole task.
	DecisionAbort ReviewDecision = "abort"
)

// ReviewRequest describes what a review turn should examine.
type ReviewRequest struct {
	Prompt string `json:"prompt"`
	// UserFacingHint is shown to the user while the review runs.
	UserFacingHint string `json:"user_facing_hint,omitempty"`
}

// CommandMatchKind controls how an approved command pattern matches later
// invocations.
type CommandMatchKind string

const (
	MatchExact  CommandMatchKind = "exact"
	MatchPrefix CommandMatchKind = "prefix"
)

// ApprovedCommandPattern is a command shape the user has pre-approved.
type ApprovedCommandPattern struct {
	Command        []string         `json:"command"`
	MatchKind      CommandMatchKind `json:"match_kind"`
	SemanticPrefix []string         `json:"semantic_prefix,omitempty"`
}

// Key returns a stable map key for the pattern.
func (p ApprovedCommandPattern) Key() string {
	return string(p.MatchKind) + "\x00" + strings.Join(p.Command, "\x00")
}

// Matches reports whether the given command is covered by the pattern.
func (p ApprovedCommandPattern) Matches(command []string) bool {
	switch p.MatchKind {
	case MatchPrefix:
		if len(command) < len(p.Command) {
			return false
		}
		for i, part := range p.Command {
			if command[i] != part {
				return false
			}
		}
		return true
	default:
		if len(command) != len(p.Command) {
			return false
		}
		for i, part := range p.Command {
			if command[i] != part {
				return false
			}
		}
		return true
	}
}
