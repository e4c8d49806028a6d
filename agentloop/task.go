package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coderelay/coderelay/protocol"
	"github.com/coderelay/coderelay/responses"
)

// maxToolRounds bounds how many request/tool-execution rounds one batch of
// input may take.
const maxToolRounds = 32

type taskKind int

const (
	taskUserInput taskKind = iota
	taskCompact
	taskReview
)

// injectedInput is one batch of items waiting to run inside an active task.
type injectedInput struct {
	items   []responses.ResponseItem
	compact bool
}

// AgentTask is one in-flight turn. It owns a cancellation signal and the
// goroutine driving the responses client; aborting is a synchronous signal
// flip, with notification and teardown running detached in the task
// goroutine.
type AgentTask struct {
	sess         *Session
	submissionID string
	kind         taskKind
	turn         TurnContext
	turnOrdinal  uint64

	// ctx is cancelled on abort; emitCtx outlives it so the aborted
	// notification still reaches the sink.
	ctx     context.Context
	emitCtx context.Context
	cancel  context.CancelFunc

	done chan struct{}

	mu          sync.Mutex
	finishing   bool
	injected    []injectedInput
	abortReason protocol.TurnAbortReason
}

// spawnTask installs and starts a new task. Installation aborts any task it
// displaces, so callers racing a queue promotion stay safe.
func (s *Session) spawnTask(runCtx context.Context, submissionID string, kind taskKind, turn TurnContext, input []responses.ResponseItem) *AgentTask {
	ctx, cancel := context.WithCancel(runCtx)
	t := &AgentTask{
		sess:         s,
		submissionID: submissionID,
		kind:         kind,
		turn:         turn,
		turnOrdinal:  s.nextTurnOrdinal(),
		ctx:          ctx,
		emitCtx:      runCtx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	s.installTask(t)
	go t.run(input)
	return t
}

// abort flips the cancellation signal. The first reason wins; teardown runs
// detached in the task goroutine.
func (t *AgentTask) abort(reason protocol.TurnAbortReason) {
	t.mu.Lock()
	if t.abortReason == "" {
		t.abortReason = reason
	}
	t.mu.Unlock()
	t.cancel()
}

func (t *AgentTask) reason() protocol.TurnAbortReason {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.abortReason == "" {
		return protocol.AbortReasonInterrupted
	}
	return t.abortReason
}

// tryInject hands the task another batch to run after the current one. It
// reports false once the task is past the point of taking more work.
func (t *AgentTask) tryInject(items []responses.ResponseItem, compact bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finishing {
		return false
	}
	t.injected = append(t.injected, injectedInput{items: items, compact: compact})
	return true
}

// takeInjected pops the next pending batch. Once it reports false the task
// is finishing and rejects further injection.
func (t *AgentTask) takeInjected() (injectedInput, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.injected) == 0 {
		t.finishing = true
		return injectedInput{}, false
	}
	next := t.injected[0]
	t.injected = t.injected[1:]
	return next, true
}

func (t *AgentTask) run(input []responses.ResponseItem) {
	defer close(t.done)
	defer t.cancel()
	s := t.sess

	s.sendEvent(t.ctx, t.submissionID, protocol.TaskStartedEvent{Model: t.turn.Model})
	s.recordRollout(t.emitCtx, "task_started", map[string]any{
		"submission_id": t.submissionID,
		"turn_ordinal":  t.turnOrdinal,
	})

	lastAgentMessage := ""
	batch := injectedInput{items: input, compact: t.kind == taskCompact}
	var taskErr error

	for {
		msg, err := t.runBatch(batch)
		if err != nil {
			taskErr = err
			break
		}
		if msg != "" {
			lastAgentMessage = msg
		}
		if batch.compact {
			s.replaceHistory(compactBridge(msg))
			s.clearPendingCompact()
		}
		next, ok := t.takeInjected()
		if !ok {
			break
		}
		batch = next
	}

	if t.ctx.Err() != nil {
		// Aborted. The superseding handler already removed this task;
		// the notification is the detached part of the teardown.
		reason := t.reason()
		s.clearTask(t)
		s.sendEvent(t.emitCtx, t.submissionID, protocol.TurnAbortedEvent{Reason: reason})
		s.recordRollout(t.emitCtx, "turn_aborted", map[string]any{"reason": string(reason)})
		return
	}

	if taskErr != nil {
		s.sendEvent(t.emitCtx, t.submissionID, protocol.ErrorEvent{Message: taskErr.Error()})
	} else {
		s.sendEvent(t.emitCtx, t.submissionID, protocol.TaskCompleteEvent{LastAgentMessage: lastAgentMessage})
		s.recordRollout(t.emitCtx, "task_complete", map[string]any{"submission_id": t.submissionID})
	}

	if !s.clearTask(t) {
		return
	}
	t.drainFollowups()
}

// drainFollowups runs once per finished task: a pending manual compact takes
// precedence, then exactly one queued user input is promoted, preserving
// arrival order.
func (t *AgentTask) drainFollowups() {
	s := t.sess
	if s.takePendingCompact() {
		s.spawnCompactTask(s.runCtx, uuid.New().String())
		return
	}
	if q, ok := s.popQueuedInput(); ok {
		items := inputItemsToResponseItems(q.Items)
		s.spawnTask(s.runCtx, q.SubmissionID, taskUserInput, s.turnContext(q.OutputSchema), items)
	}
}

// runBatch feeds one batch of input through the model, executing tool rounds
// until the model stops calling tools. It returns the last assistant message.
func (t *AgentTask) runBatch(batch injectedInput) (string, error) {
	s := t.sess
	isolated := t.kind == taskReview

	var transcript []responses.ResponseItem
	if isolated {
		transcript = append(transcript, batch.items...)
	} else {
		transcript = append(s.historySnapshot(), batch.items...)
		s.appendHistory(batch.items...)
	}

	lastMessage := ""
	for round := 0; round < maxToolRounds; round++ {
		res, err := t.runRequest(transcript)
		if err != nil {
			return "", err
		}
		if res.lastMessage != "" {
			lastMessage = res.lastMessage
		}
		transcript = append(transcript, res.items...)
		if !isolated {
			s.appendHistory(res.items...)
		}

		outputs, err := t.resolveCalls(res.calls)
		if err != nil {
			return "", err
		}
		if len(outputs) == 0 {
			return lastMessage, nil
		}
		transcript = append(transcript, outputs...)
		if !isolated {
			s.appendHistory(outputs...)
		}

		if detectCallLoop(transcript, loopDetectionWindow) {
			steer := responses.TextItem("user", loopWarning)
			transcript = append(transcript, steer)
			if !isolated {
				s.appendHistory(steer)
			}
			s.logger.Warn("repeating tool-call pattern detected", "submission_id", t.submissionID)
		}
	}
	return lastMessage, fmt.Errorf("turn exceeded %d tool rounds", maxToolRounds)
}

// requestResult is what one streamed request produced.
type requestResult struct {
	items       []responses.ResponseItem
	calls       []responses.ResponseItem
	lastMessage string
}

// runRequest issues one streaming request and forwards accepted events to
// the sink. Retryable mid-stream failures reconnect with the same
// checkpoint so deduplication state survives.
func (t *AgentTask) runRequest(input []responses.ResponseItem) (requestResult, error) {
	s := t.sess
	req := responses.Request{
		Model:           t.turn.Model,
		Instructions:    t.turn.Instructions,
		Input:           input,
		ReasoningEffort: t.turn.ReasoningEffort,
		OutputSchema:    t.turn.OutputSchema,
	}
	policy := t.turn.Client.Provider().RetryPolicy

	checkpoint := responses.NewStreamCheckpoint()
	var res requestResult
	attempt := 0
	for {
		err := t.consumeStream(req, checkpoint, &res)
		if err == nil {
			return res, nil
		}
		if t.ctx.Err() != nil {
			return res, t.ctx.Err()
		}
		attempt++
		if attempt > policy.MaxRetries || !responses.IsRetryable(err) {
			return res, err
		}
		delay := policy.Delay(attempt)
		var streamErr *responses.StreamError
		if errors.As(err, &streamErr) && streamErr.RetryAfter != nil {
			delay = streamErr.RetryAfter.Delay
		}
		s.logger.Debug("stream failed, reconnecting",
			"attempt", attempt, "delay", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-t.ctx.Done():
			return res, t.ctx.Err()
		}
	}
}

func (t *AgentTask) consumeStream(req responses.Request, checkpoint *responses.StreamCheckpoint, res *requestResult) error {
	s := t.sess
	handle, err := t.turn.Client.Stream(t.ctx, req, checkpoint)
	if err != nil {
		return err
	}

	order := func(seq *uint64, outIdx *uint32) *protocol.OrderKey {
		return &protocol.OrderKey{
			TurnOrdinal:    t.turnOrdinal,
			SequenceNumber: seq,
			OutputIndex:    outIdx,
		}
	}

	for result := range handle.Events {
		if result.Err != nil {
			return result.Err
		}
		switch ev := result.Event.(type) {
		case responses.Created:
			s.recordRollout(t.emitCtx, "response_created", map[string]any{"response_id": ev.ResponseID})
		case responses.OutputTextDelta:
			if !s.sendOrderedEvent(t.ctx, t.submissionID,
				protocol.AgentMessageDeltaEvent{Delta: ev.Delta, ItemID: ev.ItemID},
				order(ev.SequenceNumber, ev.OutputIndex)) {
				return t.ctx.Err()
			}
		case responses.ReasoningSummaryDelta:
			if !s.sendOrderedEvent(t.ctx, t.submissionID,
				protocol.AgentReasoningDeltaEvent{Delta: ev.Delta, ItemID: ev.ItemID, Summary: true},
				order(ev.SequenceNumber, ev.OutputIndex)) {
				return t.ctx.Err()
			}
		case responses.ReasoningContentDelta:
			if !s.sendOrderedEvent(t.ctx, t.submissionID,
				protocol.AgentReasoningDeltaEvent{Delta: ev.Delta, ItemID: ev.ItemID},
				order(ev.SequenceNumber, ev.OutputIndex)) {
				return t.ctx.Err()
			}
		case responses.ReasoningSummaryPartAdded:
			if !s.sendEvent(t.ctx, t.submissionID, protocol.AgentReasoningSectionBreakEvent{}) {
				return t.ctx.Err()
			}
		case responses.WebSearchCallBegin:
			if !s.sendEvent(t.ctx, t.submissionID, protocol.WebSearchBeginEvent{CallID: ev.CallID}) {
				return t.ctx.Err()
			}
		case responses.WebSearchCallCompleted:
			if !s.sendEvent(t.ctx, t.submissionID, protocol.WebSearchCompleteEvent{CallID: ev.CallID, Query: ev.Query}) {
				return t.ctx.Err()
			}
		case responses.OutputItemDone:
			res.items = append(res.items, ev.Item)
			switch {
			case ev.Item.IsMessage() && ev.Item.Role == "assistant":
				res.lastMessage = ev.Item.Text()
				if !s.sendOrderedEvent(t.ctx, t.submissionID,
					protocol.AgentMessageEvent{Message: res.lastMessage},
					order(ev.SequenceNumber, ev.OutputIndex)) {
					return t.ctx.Err()
				}
			case ev.Item.Type == "function_call":
				res.calls = append(res.calls, ev.Item)
			}
		case responses.Completed:
			msg := protocol.TokenCountEvent{Usage: ev.TokenUsage, RateLimits: handle.RateLimits}
			if !s.sendEvent(t.ctx, t.submissionID, msg) {
				return t.ctx.Err()
			}
		}
	}
	return nil
}

// shellCallArgs is the argument payload of a shell function call.
type shellCallArgs struct {
	Command []string `json:"command"`
	Cwd     string   `json:"cwd,omitempty"`
}

// resolveCalls turns the request's function calls into output items,
// consulting the safety engine and, when it says to ask, pausing on a
// pending approval until the user decides.
func (t *AgentTask) resolveCalls(calls []responses.ResponseItem) ([]responses.ResponseItem, error) {
	var outputs []responses.ResponseItem
	for _, call := range calls {
		output, err := t.resolveCall(call)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, output)
	}
	return outputs, nil
}

func (t *AgentTask) resolveCall(call responses.ResponseItem) (responses.ResponseItem, error) {
	if call.Name != "shell" {
		return callOutput(call.CallID, fmt.Sprintf("unsupported call: %s", call.Name)), nil
	}
	var args shellCallArgs
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil || len(args.Command) == 0 {
		return callOutput(call.CallID, "invalid shell arguments"), nil
	}
	cwd := args.Cwd
	if cwd == "" {
		cwd = t.turn.Cwd
	}

	s := t.sess
	decision := s.safety.AssessCommand(args.Command, t.turn.ApprovalPolicy, s.approvedCommandList())
	switch decision.Verdict {
	case VerdictReject:
		return callOutput(call.CallID, "rejected: "+decision.Reason), nil
	case VerdictAskUser:
		verdict, err := t.awaitApproval(call, args, decision.Reason)
		if err != nil {
			return responses.ResponseItem{}, err
		}
		switch verdict {
		case protocol.DecisionApprovedForSession:
			s.registerApprovedCommand(protocol.ApprovedCommandPattern{
				Command:   args.Command,
				MatchKind: protocol.MatchExact,
			})
		case protocol.DecisionApproved:
		case protocol.DecisionAbort:
			t.abort(protocol.AbortReasonInterrupted)
			return responses.ResponseItem{}, t.ctx.Err()
		default:
			return callOutput(call.CallID, "denied by user"), nil
		}
	}

	result, err := s.exec.Exec(t.ctx, args.Command, cwd)
	if err != nil {
		if t.ctx.Err() != nil {
			return responses.ResponseItem{}, t.ctx.Err()
		}
		return callOutput(call.CallID, "exec failed: "+err.Error()), nil
	}
	body := truncateExecOutput(result.Output())
	if result.TimedOut {
		body = "command timed out\n" + body
	} else if result.ExitCode != 0 {
		body = fmt.Sprintf("exit code %d\n%s", result.ExitCode, body)
	}
	return callOutput(call.CallID, body), nil
}

// awaitApproval surfaces a pending approval and blocks the turn until the
// user answers or the task is aborted.
func (t *AgentTask) awaitApproval(call responses.ResponseItem, args shellCallArgs, reason string) (protocol.ReviewDecision, error) {
	s := t.sess
	ch := s.registerApproval(call.CallID)
	defer s.unregisterApproval(call.CallID)

	sent := s.sendEvent(t.ctx, t.submissionID, protocol.ExecApprovalRequestEvent{
		ID:      call.CallID,
		Command: args.Command,
		Cwd:     args.Cwd,
		Reason:  reason,
	})
	if !sent {
		return "", t.ctx.Err()
	}
	select {
	case decision := <-ch:
		return decision, nil
	case <-t.ctx.Done():
		return "", t.ctx.Err()
	}
}

func callOutput(callID, output string) responses.ResponseItem {
	return responses.ResponseItem{
		Type:   "function_call_output",
		CallID: callID,
		Status: "completed",
		Content: []responses.ContentSpan{
			{Type: "output_text", Text: output},
		},
	}
}

// inputItemsToResponseItems converts protocol input into request items.
// Image items carry their URL as text until image input is supported.
func inputItemsToResponseItems(items []protocol.InputItem) []responses.ResponseItem {
	out := make([]responses.ResponseItem, 0, len(items))
	for _, item := range items {
		switch item.Kind {
		case protocol.InputItemText:
			out = append(out, responses.TextItem("user", item.Text))
		case protocol.InputItemImage:
			out = append(out, responses.TextItem("user", item.ImageURL))
		}
	}
	return out
}
