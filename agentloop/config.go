package agentloop

import (
	"encoding/json"

	"github.com/coderelay/coderelay/responses"
)

// ApprovalPolicy controls when side-effecting actions require user approval.
type ApprovalPolicy string

const (
	// ApproveUntrusted asks for anything not covered by an approved pattern.
	ApproveUntrusted ApprovalPolicy = "untrusted"
	// ApproveOnRequest asks only when the safety engine says to.
	ApproveOnRequest ApprovalPolicy = "on-request"
	// ApproveNever rejects anything that would need a question.
	ApproveNever ApprovalPolicy = "never"
)

// SessionConfig is the fully merged configuration snapshot the loop receives
// via ConfigureSession. The loop does not perform layered merging itself.
type SessionConfig struct {
	Model           string         `json:"model"`
	ReasoningEffort string         `json:"reasoning_effort,omitempty"`
	Instructions    string         `json:"instructions,omitempty"`
	ApprovalPolicy  ApprovalPolicy `json:"approval_policy"`
	SandboxPolicy   string         `json:"sandbox_policy,omitempty"`
	Cwd             string         `json:"cwd,omitempty"`
}

// DefaultSessionConfig returns the default configuration.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Model:          "gpt-5.2",
		ApprovalPolicy: ApproveOnRequest,
	}
}

// TurnContext snapshots everything a single turn needs. It is immutable for
// the turn's lifetime; configuration changes only affect later turns.
type TurnContext struct {
	Model           string
	ReasoningEffort string
	Instructions    string
	OutputSchema    json.RawMessage
	ApprovalPolicy  ApprovalPolicy
	SandboxPolicy   string
	Cwd             string
	Client          *responses.Client
}
