package agentloop

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coderelay/coderelay/protocol"
	"github.com/coderelay/coderelay/responses"
)

// QueuedUserInput is user input that arrived while a task was active. It is
// drained in FIFO order once the active task completes.
type QueuedUserInput struct {
	SubmissionID string
	Items        []protocol.InputItem
	OutputSchema json.RawMessage
}

// Session is the mutable state shared by the submission loop and its tasks.
// Fields behind mu are touched from the loop goroutine and from task
// goroutines; the lock is never held across a channel send.
type Session struct {
	id string

	sink    *EventSink
	rollout RolloutRecorder
	safety  SafetyEngine
	exec    CommandExecutor
	logger  *slog.Logger

	// runCtx is the loop's run context; detached work spawned after task
	// completion inherits it.
	runCtx context.Context

	mu               sync.Mutex
	configured       bool
	config           SessionConfig
	client           *responses.Client
	activeTask       *AgentTask
	queuedInputs     []QueuedUserInput
	approvedCommands map[string]protocol.ApprovedCommandPattern
	pendingApprovals map[string]chan protocol.ReviewDecision
	pendingCompact   bool
	turnOrdinal      uint64
	history          []responses.ResponseItem
}

func newSession(sink *EventSink, rollout RolloutRecorder, safety SafetyEngine, exec CommandExecutor, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if safety == nil {
		safety = PolicySafetyEngine{}
	}
	if exec == nil {
		exec = &LocalCommandExecutor{}
	}
	return &Session{
		id:               uuid.New().String(),
		sink:             sink,
		rollout:          rollout,
		safety:           safety,
		exec:             exec,
		logger:           logger,
		approvedCommands: make(map[string]protocol.ApprovedCommandPattern),
		pendingApprovals: make(map[string]chan protocol.ReviewDecision),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

func (s *Session) makeEvent(submissionID string, msg protocol.EventMsg, order *protocol.OrderKey) protocol.Event {
	return protocol.Event{
		ID:       submissionID,
		EventSeq: s.sink.NextSeq(),
		Msg:      msg,
		Order:    order,
	}
}

// sendEvent delivers one event, blocking until the consumer accepts it.
func (s *Session) sendEvent(ctx context.Context, submissionID string, msg protocol.EventMsg) bool {
	return s.sink.Send(ctx, s.makeEvent(submissionID, msg, nil))
}

func (s *Session) sendOrderedEvent(ctx context.Context, submissionID string, msg protocol.EventMsg, order *protocol.OrderKey) bool {
	return s.sink.Send(ctx, s.makeEvent(submissionID, msg, order))
}

func (s *Session) sendError(ctx context.Context, submissionID, message string) {
	s.sendEvent(ctx, submissionID, protocol.ErrorEvent{Message: message})
}

// configure installs the merged configuration snapshot and the client built
// for it.
func (s *Session) configure(config SessionConfig, client *responses.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configured = true
	s.config = config
	s.client = client
}

func (s *Session) isConfigured() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configured
}

// turnContext snapshots the session configuration for one turn. Later
// configuration changes do not affect turns already running.
func (s *Session) turnContext(outputSchema json.RawMessage) TurnContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return TurnContext{
		Model:           s.config.Model,
		ReasoningEffort: s.config.ReasoningEffort,
		Instructions:    s.config.Instructions,
		OutputSchema:    outputSchema,
		ApprovalPolicy:  s.config.ApprovalPolicy,
		SandboxPolicy:   s.config.SandboxPolicy,
		Cwd:             s.config.Cwd,
		Client:          s.client,
	}
}

func (s *Session) nextTurnOrdinal() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turnOrdinal++
	return s.turnOrdinal
}

// installTask registers task as the active task, aborting any task it
// displaces. Promotion from a finished task's goroutine can race a fresh
// submission on the loop goroutine; whichever installs last wins.
func (s *Session) installTask(task *AgentTask) {
	s.mu.Lock()
	prev := s.activeTask
	s.activeTask = task
	s.mu.Unlock()
	if prev != nil && prev != task {
		prev.abort(protocol.AbortReasonReplaced)
	}
}

// clearTask removes task if it is still the active one. It reports whether
// the task was current; a superseded task must not drain the queue.
func (s *Session) clearTask(task *AgentTask) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeTask != task {
		return false
	}
	s.activeTask = nil
	return true
}

// abortActiveTask flips the cancellation signal synchronously and returns
// the aborted task, or nil when none was active. Teardown (the aborted
// notification) runs detached inside the task.
func (s *Session) abortActiveTask(reason protocol.TurnAbortReason) *AgentTask {
	s.mu.Lock()
	task := s.activeTask
	s.activeTask = nil
	s.mu.Unlock()
	if task == nil {
		return nil
	}
	task.abort(reason)
	return task
}

func (s *Session) hasActiveTask() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeTask != nil
}

// tryInject appends items to the active task's pending input, reporting
// false when no task can take them.
func (s *Session) tryInject(items []responses.ResponseItem, compact bool) bool {
	s.mu.Lock()
	task := s.activeTask
	s.mu.Unlock()
	if task == nil {
		return false
	}
	return task.tryInject(items, compact)
}

func (s *Session) pushQueuedInput(q QueuedUserInput) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queuedInputs = append(s.queuedInputs, q)
}

// popQueuedInput removes the oldest queued input.
func (s *Session) popQueuedInput() (QueuedUserInput, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queuedInputs) == 0 {
		return QueuedUserInput{}, false
	}
	q := s.queuedInputs[0]
	s.queuedInputs = s.queuedInputs[1:]
	return q, true
}

// markPendingCompact records a manual compact request. It reports false when
// one is already pending; repeated requests coalesce.
func (s *Session) markPendingCompact() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingCompact {
		return false
	}
	s.pendingCompact = true
	return true
}

func (s *Session) takePendingCompact() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.pendingCompact
	s.pendingCompact = false
	return was
}

func (s *Session) clearPendingCompact() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingCompact = false
}

func (s *Session) registerApprovedCommand(pat protocol.ApprovedCommandPattern) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approvedCommands[pat.Key()] = pat
}

func (s *Session) approvedCommandList() []protocol.ApprovedCommandPattern {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.ApprovedCommandPattern, 0, len(s.approvedCommands))
	for _, pat := range s.approvedCommands {
		out = append(out, pat)
	}
	return out
}

// registerApproval creates the pending approval slot for id. The returned
// channel carries exactly one decision.
func (s *Session) registerApproval(id string) <-chan protocol.ReviewDecision {
	ch := make(chan protocol.ReviewDecision, 1)
	s.mu.Lock()
	s.pendingApprovals[id] = ch
	s.mu.Unlock()
	return ch
}

func (s *Session) unregisterApproval(id string) {
	s.mu.Lock()
	delete(s.pendingApprovals, id)
	s.mu.Unlock()
}

// resolveApproval routes a decision to the pending approval with the given
// id. It reports false when no such approval is pending.
func (s *Session) resolveApproval(id string, decision protocol.ReviewDecision) bool {
	s.mu.Lock()
	ch, ok := s.pendingApprovals[id]
	if ok {
		delete(s.pendingApprovals, id)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	ch <- decision
	return true
}

// historySnapshot copies the conversation so a turn can build its request
// without holding the lock.
func (s *Session) historySnapshot() []responses.ResponseItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]responses.ResponseItem, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Session) appendHistory(items ...responses.ResponseItem) {
	s.mu.Lock()
	s.history = append(s.history, items...)
	s.mu.Unlock()
}

// replaceHistory swaps the conversation for a compacted bridge, keeping
// later turns inside the model's context window.
func (s *Session) replaceHistory(items []responses.ResponseItem) {
	s.mu.Lock()
	s.history = items
	s.mu.Unlock()
}

// recordRollout queues one transcript line; failures are logged, never
// surfaced to the turn.
func (s *Session) recordRollout(ctx context.Context, kind string, payload any) {
	if s.rollout == nil {
		return
	}
	item := RolloutItem{Timestamp: time.Now().Unix(), Kind: kind, Payload: payload}
	if err := s.rollout.RecordItems(ctx, []RolloutItem{item}); err != nil {
		s.logger.Warn("rollout record failed", "kind", kind, "error", err)
	}
}
