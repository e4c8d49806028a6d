package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/coderelay/coderelay/protocol"
	"github.com/coderelay/coderelay/responses"
)

// Options configures a SubmissionLoop. Zero-value collaborators get small
// default implementations where one exists; nil MCP and watcher disable
// those surfaces.
type Options struct {
	Provider responses.Provider
	Safety   SafetyEngine
	Executor CommandExecutor
	Rollout  RolloutRecorder
	History  HistoryStore
	Mcp      McpConnectionManager
	Watcher  *FileWatcher
	// PromptsDir is scanned on ListCustomPrompts.
	PromptsDir string
	// SkillsDir is scanned on ListSkills.
	SkillsDir string
	Logger    *slog.Logger
}

// SubmissionLoop is the single consumer of inbound operations. It owns the
// session, processes one Op at a time, and spawns tasks and detached
// background work.
type SubmissionLoop struct {
	subs       <-chan protocol.Submission
	sink       *EventSink
	sess       *Session
	agents     *AgentManager
	history    HistoryStore
	mcp        McpConnectionManager
	watcher    *FileWatcher
	promptsDir string
	skillsDir  string
	provider   responses.Provider
	logger     *slog.Logger
}

// NewSubmissionLoop builds a loop reading submissions from subs and writing
// events to events. The agent manager is passed by reference; the caller may
// register background agents on it concurrently.
func NewSubmissionLoop(subs <-chan protocol.Submission, events chan<- protocol.Event, agents *AgentManager, opts Options) *SubmissionLoop {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if agents == nil {
		agents = NewAgentManager()
	}
	sink := NewEventSink(events)
	return &SubmissionLoop{
		subs:       subs,
		sink:       sink,
		sess:       newSession(sink, opts.Rollout, opts.Safety, opts.Executor, logger),
		agents:     agents,
		history:    opts.History,
		mcp:        opts.Mcp,
		watcher:    opts.Watcher,
		promptsDir: opts.PromptsDir,
		skillsDir:  opts.SkillsDir,
		provider:   opts.Provider,
		logger:     logger,
	}
}

// Session exposes the loop's session, mainly for hosts that need its id.
func (l *SubmissionLoop) Session() *Session { return l.sess }

// Run processes submissions and file-watch notifications until Shutdown, a
// closed submission channel, or context cancellation. Exactly one
// notification or submission is handled at a time; handlers may spawn
// detached work.
func (l *SubmissionLoop) Run(ctx context.Context) error {
	l.sess.runCtx = ctx

	var watchCh <-chan FileChangeNotification
	if l.watcher != nil {
		watchCh = l.watcher.Notifications()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sub, ok := <-l.subs:
			if !ok {
				l.shutdown(ctx, "")
				return nil
			}
			if l.handle(ctx, sub) {
				return nil
			}
		case note, ok := <-watchCh:
			if !ok {
				watchCh = nil
				continue
			}
			switch note.Kind {
			case FileWatchClosed:
				// Watching is disabled for the rest of the session.
				watchCh = nil
				l.logger.Debug("file watcher closed")
			case FileWatchLagged:
			case FileChanged:
				l.sess.recordRollout(ctx, "file_changed", map[string]string{"path": note.Path})
			}
		}
	}
}

// handle processes one submission. It reports true when the loop must exit.
func (l *SubmissionLoop) handle(ctx context.Context, sub protocol.Submission) bool {
	switch op := sub.Op.(type) {
	case protocol.ConfigureSessionOp:
		l.handleConfigureSession(ctx, sub.ID, op)
	case protocol.InterruptOp:
		if l.sess.abortActiveTask(protocol.AbortReasonInterrupted) == nil {
			l.sess.sendError(ctx, sub.ID, noSessionMsg("interrupt"))
		}
	case protocol.UserInputOp:
		if !l.requireConfigured(ctx, sub.ID, "user input") {
			return false
		}
		l.startUserTask(ctx, sub.ID, op.Items, op.FinalOutputSchema)
	case protocol.QueueUserInputOp:
		if !l.requireConfigured(ctx, sub.ID, "queued user input") {
			return false
		}
		if l.sess.hasActiveTask() {
			l.sess.pushQueuedInput(QueuedUserInput{SubmissionID: sub.ID, Items: op.Items})
		} else {
			l.startUserTask(ctx, sub.ID, op.Items, nil)
		}
	case protocol.ExecApprovalOp:
		l.handleApproval(ctx, sub.ID, op.ID, op.Decision)
	case protocol.PatchApprovalOp:
		l.handleApproval(ctx, sub.ID, op.ID, op.Decision)
	case protocol.CancelAgentsOp:
		l.handleCancelAgents(ctx, sub.ID, op)
	case protocol.CompactOp:
		if !l.requireConfigured(ctx, sub.ID, "compact") {
			return false
		}
		l.handleCompact(ctx, sub.ID)
	case protocol.ReviewOp:
		if !l.requireConfigured(ctx, sub.ID, "review") {
			return false
		}
		l.sess.abortActiveTask(protocol.AbortReasonReplaced)
		input := []responses.ResponseItem{responses.TextItem("user", op.Request.Prompt)}
		l.sess.spawnTask(ctx, sub.ID, taskReview, l.sess.turnContext(nil), input)
	case protocol.RegisterApprovedCommandOp:
		l.sess.registerApprovedCommand(protocol.ApprovedCommandPattern{
			Command:        op.Command,
			MatchKind:      op.MatchKind,
			SemanticPrefix: op.SemanticPrefix,
		})
	case protocol.AddToHistoryOp:
		l.handleAddToHistory(ctx, op.Text)
	case protocol.GetHistoryEntryRequestOp:
		l.handleHistoryLookup(ctx, sub.ID, op)
	case protocol.ListMcpToolsOp:
		l.sess.sendEvent(ctx, sub.ID, protocol.McpListToolsResponseEvent{Tools: l.mcpTools()})
	case protocol.RefreshMcpToolsOp:
		l.handleRefreshMcpTools(ctx, sub.ID)
	case protocol.ListCustomPromptsOp:
		prompts := DiscoverCustomPrompts(l.promptsDir)
		l.sess.sendEvent(ctx, sub.ID, protocol.ListCustomPromptsResponseEvent{CustomPrompts: prompts})
	case protocol.ListSkillsOp:
		l.sess.sendEvent(ctx, sub.ID, protocol.ListSkillsResponseEvent{Skills: DiscoverSkills(l.skillsDir)})
	case protocol.ShutdownOp:
		l.shutdown(ctx, sub.ID)
		return true
	default:
		l.sess.sendError(ctx, sub.ID, fmt.Sprintf("unsupported operation %T", op))
	}
	return false
}

func noSessionMsg(opName string) string {
	return fmt.Sprintf("No session initialized; ignoring the %s operation.", opName)
}

func (l *SubmissionLoop) requireConfigured(ctx context.Context, subID, opName string) bool {
	if l.sess.isConfigured() {
		return true
	}
	l.sess.sendError(ctx, subID, noSessionMsg(opName))
	return false
}

func (l *SubmissionLoop) handleConfigureSession(ctx context.Context, subID string, op protocol.ConfigureSessionOp) {
	config := DefaultSessionConfig()
	if op.Model != "" {
		config.Model = op.Model
	}
	config.ReasoningEffort = op.ReasoningEffort
	config.Instructions = op.Instructions
	if op.ApprovalPolicy != "" {
		config.ApprovalPolicy = ApprovalPolicy(op.ApprovalPolicy)
	}
	config.SandboxPolicy = op.SandboxPolicy
	config.Cwd = op.Cwd

	client := responses.NewClient(l.provider, l.logger)
	l.sess.configure(config, client)
	l.sess.sendEvent(ctx, subID, protocol.SessionConfiguredEvent{
		SessionID: l.sess.ID(),
		Model:     config.Model,
	})
}

// startUserTask supersedes any active task. The cancellation flip happens
// synchronously, before the new task is installed, so a racing abort can
// never land on the replacement.
func (l *SubmissionLoop) startUserTask(ctx context.Context, subID string, items []protocol.InputItem, schema json.RawMessage) {
	l.sess.abortActiveTask(protocol.AbortReasonReplaced)
	input := inputItemsToResponseItems(items)
	l.sess.spawnTask(ctx, subID, taskUserInput, l.sess.turnContext(schema), input)
}

func (l *SubmissionLoop) handleApproval(ctx context.Context, subID, approvalID string, decision protocol.ReviewDecision) {
	if !l.sess.resolveApproval(approvalID, decision) {
		l.sess.sendError(ctx, subID, fmt.Sprintf("no pending approval with id %q", approvalID))
	}
}

func (l *SubmissionLoop) handleCancelAgents(ctx context.Context, subID string, op protocol.CancelAgentsOp) {
	n := l.agents.Cancel(ctx, op.BatchIDs, op.AgentIDs)
	l.sess.sendEvent(ctx, subID, protocol.AgentStatusUpdateEvent{Agents: l.agents.Statuses()})

	var msg string
	switch n {
	case 0:
		msg = "No running agents to cancel."
	case 1:
		msg = "Cancelled 1 agent."
	default:
		msg = fmt.Sprintf("Cancelled %d agents.", n)
	}
	l.sess.sendEvent(ctx, subID, protocol.AgentMessageEvent{Message: msg})
}

func (l *SubmissionLoop) handleCompact(ctx context.Context, subID string) {
	if !l.sess.markPendingCompact() {
		l.sess.sendEvent(ctx, subID, protocol.AgentMessageEvent{Message: "Compaction already queued."})
		return
	}
	if l.sess.hasActiveTask() {
		// Injection can miss a task that is already finishing; the pending
		// flag stays set and the completion drain picks it up.
		l.sess.tryInject(compactInput(), true)
		l.sess.sendEvent(ctx, subID, protocol.AgentMessageEvent{Message: "Compaction queued; it will run when the current work finishes."})
		return
	}
	l.sess.spawnCompactTask(ctx, subID)
}

func (l *SubmissionLoop) handleAddToHistory(ctx context.Context, text string) {
	if l.history == nil {
		return
	}
	go func() {
		if err := l.history.Append(ctx, l.sess.ID(), text); err != nil {
			l.logger.Warn("history append failed", "error", err)
		}
	}()
}

func (l *SubmissionLoop) handleHistoryLookup(ctx context.Context, subID string, op protocol.GetHistoryEntryRequestOp) {
	go func() {
		var entry *protocol.HistoryEntry
		if l.history != nil {
			if e, ok := l.history.Lookup(op.LogID, op.Offset); ok {
				entry = e
			}
		}
		l.sess.sendEvent(ctx, subID, protocol.GetHistoryEntryResponseEvent{
			Offset: op.Offset,
			LogID:  op.LogID,
			Entry:  entry,
		})
	}()
}

func (l *SubmissionLoop) mcpTools() map[string]protocol.McpTool {
	if l.mcp == nil {
		return map[string]protocol.McpTool{}
	}
	return l.mcp.ListAllTools()
}

func (l *SubmissionLoop) handleRefreshMcpTools(ctx context.Context, subID string) {
	go func() {
		if l.mcp != nil {
			if err := l.mcp.RefreshTools(ctx); err != nil {
				l.sess.sendError(ctx, subID, "MCP tool refresh failed: "+err.Error())
				return
			}
		}
		l.sess.sendEvent(ctx, subID, protocol.McpListToolsResponseEvent{Tools: l.mcpTools()})
	}()
}

// shutdown aborts the active task, waits for the rollout recorder to flush,
// and always emits ShutdownComplete, session or not.
func (l *SubmissionLoop) shutdown(ctx context.Context, subID string) {
	l.sess.abortActiveTask(protocol.AbortReasonShutdown)
	if l.sess.rollout != nil {
		if err := l.sess.rollout.Shutdown(ctx); err != nil {
			l.logger.Warn("rollout shutdown failed", "error", err)
		}
	}
	l.sess.sendEvent(ctx, subID, protocol.ShutdownCompleteEvent{})
}
