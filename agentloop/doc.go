// Package agentloop implements the session actor that drives coding-agent
// turns.
//
// A SubmissionLoop is the single consumer of inbound operations: it waits on
// a submission channel and a file-watch channel, handles exactly one
// operation at a time, and mutates the Session it owns. Turn-producing
// operations spawn an AgentTask, which streams a model response through the
// responses package, routes function calls past the safety engine to a
// command executor, and forwards accepted events to the loop's event sink.
//
// At most one task is active. A superseding operation flips the previous
// task's cancellation signal synchronously before the replacement is
// installed; the aborted task's notification and teardown run detached.
// Input queued behind an active task is promoted in FIFO order when the task
// completes, after any pending manual compaction.
//
// # Quick start
//
//	subs := make(chan protocol.Submission)
//	events := make(chan protocol.Event, 64)
//	loop := agentloop.NewSubmissionLoop(subs, events, nil, agentloop.Options{
//	    Provider: provider,
//	})
//	go loop.Run(ctx)
package agentloop
