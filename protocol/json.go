package protocol

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Tagged-union JSON encoding. An Op or EventMsg serializes as an object with
// a "type" discriminator merged alongside the variant's own fields:
//
//	{"id":"sub-1","op":{"type":"user_input","items":[...]}}
//
// This is the wire shape the stdio front end speaks.

var opTypes = map[string]reflect.Type{
	"interrupt":                 reflect.TypeOf(InterruptOp{}),
	"user_input":                reflect.TypeOf(UserInputOp{}),
	"queue_user_input":          reflect.TypeOf(QueueUserInputOp{}),
	"configure_session":         reflect.TypeOf(ConfigureSessionOp{}),
	"exec_approval":             reflect.TypeOf(ExecApprovalOp{}),
	"patch_approval":            reflect.TypeOf(PatchApprovalOp{}),
	"cancel_agents":             reflect.TypeOf(CancelAgentsOp{}),
	"compact":                   reflect.TypeOf(CompactOp{}),
	"review":                    reflect.TypeOf(ReviewOp{}),
	"register_approved_command": reflect.TypeOf(RegisterApprovedCommandOp{}),
	"add_to_history":            reflect.TypeOf(AddToHistoryOp{}),
	"get_history_entry_request": reflect.TypeOf(GetHistoryEntryRequestOp{}),
	"list_mcp_tools":            reflect.TypeOf(ListMcpToolsOp{}),
	"refresh_mcp_tools":         reflect.TypeOf(RefreshMcpToolsOp{}),
	"list_custom_prompts":       reflect.TypeOf(ListCustomPromptsOp{}),
	"list_skills":               reflect.TypeOf(ListSkillsOp{}),
	"shutdown":                  reflect.TypeOf(ShutdownOp{}),
}

var eventMsgTypes = map[string]reflect.Type{
	"error":                          reflect.TypeOf(ErrorEvent{}),
	"agent_message":                  reflect.TypeOf(AgentMessageEvent{}),
	"agent_message_delta":            reflect.TypeOf(AgentMessageDeltaEvent{}),
	"agent_reasoning_delta":          reflect.TypeOf(AgentReasoningDeltaEvent{}),
	"agent_reasoning_section_break":  reflect.TypeOf(AgentReasoningSectionBreakEvent{}),
	"task_started":                   reflect.TypeOf(TaskStartedEvent{}),
	"task_complete":                  reflect.TypeOf(TaskCompleteEvent{}),
	"turn_aborted":                   reflect.TypeOf(TurnAbortedEvent{}),
	"session_configured":             reflect.TypeOf(SessionConfiguredEvent{}),
	"shutdown_complete":              reflect.TypeOf(ShutdownCompleteEvent{}),
	"exec_approval_request":          reflect.TypeOf(ExecApprovalRequestEvent{}),
	"patch_approval_request":         reflect.TypeOf(PatchApprovalRequestEvent{}),
	"web_search_begin":               reflect.TypeOf(WebSearchBeginEvent{}),
	"web_search_complete":            reflect.TypeOf(WebSearchCompleteEvent{}),
	"agent_status_update":            reflect.TypeOf(AgentStatusUpdateEvent{}),
	"token_count":                    reflect.TypeOf(TokenCountEvent{}),
	"get_history_entry_response":     reflect.TypeOf(GetHistoryEntryResponseEvent{}),
	"mcp_list_tools_response":        reflect.TypeOf(McpListToolsResponseEvent{}),
	"list_custom_prompts_response":   reflect.TypeOf(ListCustomPromptsResponseEvent{}),
	"list_skills_response":           reflect.TypeOf(ListSkillsResponseEvent{}),
}

var (
	opTags       = invert(opTypes)
	eventMsgTags = invert(eventMsgTypes)
)

func invert(m map[string]reflect.Type) map[reflect.Type]string {
	out := make(map[reflect.Type]string, len(m))
	for tag, t := range m {
		out[t] = tag
	}
	return out
}

func marshalTagged(tag string, v interface{}) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = make(map[string]json.RawMessage, 1)
	}
	tagRaw, err := json.Marshal(tag)
	if err != nil {
		return nil, err
	}
	fields["type"] = tagRaw
	return json.Marshal(fields)
}

func unmarshalTagged(data []byte, types map[string]reflect.Type, kind string) (interface{}, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}
	t, ok := types[head.Type]
	if !ok {
		return nil, fmt.Errorf("unknown %s type %q", kind, head.Type)
	}
	v := reflect.New(t)
	if err := json.Unmarshal(data, v.Interface()); err != nil {
		return nil, err
	}
	return v.Elem().Interface(), nil
}

// MarshalJSON implements json.Marshaler for Submission.
func (s Submission) MarshalJSON() ([]byte, error) {
	if s.Op == nil {
		return nil, fmt.Errorf("submission %q has no op", s.ID)
	}
	tag, ok := opTags[reflect.TypeOf(s.Op)]
	if !ok {
		return nil, fmt.Errorf("unregistered op type %T", s.Op)
	}
	op, err := marshalTagged(tag, s.Op)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		ID string          `json:"id"`
		Op json.RawMessage `json:"op"`
	}{ID: s.ID, Op: op})
}

// UnmarshalJSON implements json.Unmarshaler for Submission.
func (s *Submission) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID string          `json:"id"`
		Op json.RawMessage `json:"op"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	op, err := unmarshalTagged(raw.Op, opTypes, "op")
	if err != nil {
		return err
	}
	s.ID = raw.ID
	s.Op = op.(Op)
	return nil
}

// MarshalJSON implements json.Marshaler for Event.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Msg == nil {
		return nil, fmt.Errorf("event %q has no msg", e.ID)
	}
	tag, ok := eventMsgTags[reflect.TypeOf(e.Msg)]
	if !ok {
		return nil, fmt.Errorf("unregistered event msg type %T", e.Msg)
	}
	msg, err := marshalTagged(tag, e.Msg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		ID       string          `json:"id"`
		EventSeq uint64          `json:"event_seq"`
		Msg      json.RawMessage `json:"msg"`
		Order    *OrderKey       `json:"order,omitempty"`
	}{ID: e.ID, EventSeq: e.EventSeq, Msg: msg, Order: e.Order})
}

// UnmarshalJSON implements json.Unmarshaler for Event.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID       string          `json:"id"`
		EventSeq uint64          `json:"event_seq"`
		Msg      json.RawMessage `json:"msg"`
		Order    *OrderKey       `json:"order,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	msg, err := unmarshalTagged(raw.Msg, eventMsgTypes, "event msg")
	if err != nil {
		return err
	}
	e.ID = raw.ID
	e.EventSeq = raw.EventSeq
	e.Msg = msg.(EventMsg)
	e.Order = raw.Order
	return nil
}
