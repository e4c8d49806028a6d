package agentloop

import (
	"context"

	"github.com/coderelay/coderelay/responses"
)

// compactPrompt asks the model to summarize the conversation so far. The
// summary replaces the history once the compact request completes.
const compactPrompt = "Summarize the conversation so far in a form another " +
	"assistant could resume from: goals, decisions made, work completed, and " +
	"anything still unfinished. Reply with the summary only."

// compactBridgePrefix introduces the summary in the replacement history.
const compactBridgePrefix = "Context from an earlier, compacted portion of this conversation:\n\n"

// compactInput is the synthetic input batch a manual compact injects or runs.
func compactInput() []responses.ResponseItem {
	return []responses.ResponseItem{responses.TextItem("user", compactPrompt)}
}

// compactBridge is the history that replaces the compacted conversation.
func compactBridge(summary string) []responses.ResponseItem {
	if summary == "" {
		return nil
	}
	return []responses.ResponseItem{responses.TextItem("user", compactBridgePrefix+summary)}
}

// spawnCompactTask starts a dedicated compaction turn.
func (s *Session) spawnCompactTask(runCtx context.Context, submissionID string) *AgentTask {
	return s.spawnTask(runCtx, submissionID, taskCompact, s.turnContext(nil), compactInput())
}
