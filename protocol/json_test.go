package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmissionWireShape(t *testing.T) {
	sub := Submission{
		ID: "sub-1",
		Op: UserInputOp{Items: []InputItem{{Kind: InputItemText, Text: "hello"}}},
	}
	data, err := json.Marshal(sub)
	require.NoError(t, err)

	// The discriminator is merged alongside the variant's fields.
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	op := raw["op"].(map[string]any)
	assert.Equal(t, "user_input", op["type"])
	assert.NotNil(t, op["items"])

	var back Submission
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, sub, back)
}

func TestSubmissionEmptyVariant(t *testing.T) {
	data := []byte(`{"id":"sub-2","op":{"type":"shutdown"}}`)
	var sub Submission
	require.NoError(t, json.Unmarshal(data, &sub))
	assert.Equal(t, ShutdownOp{}, sub.Op)
}

func TestSubmissionUnknownOp(t *testing.T) {
	var sub Submission
	err := json.Unmarshal([]byte(`{"id":"x","op":{"type":"frobnicate"}}`), &sub)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown op type "frobnicate"`)
}

func TestSubmissionMissingOpRejected(t *testing.T) {
	_, err := json.Marshal(Submission{ID: "x"})
	assert.Error(t, err)
}

func TestEventRoundTripWithOrder(t *testing.T) {
	seq := uint64(7)
	outIdx := uint32(2)
	ev := Event{
		ID:       "sub-1",
		EventSeq: 42,
		Msg:      AgentMessageDeltaEvent{Delta: "чанк", ItemID: "msg_1"},
		Order:    &OrderKey{TurnOrdinal: 3, SequenceNumber: &seq, OutputIndex: &outIdx},
	}
	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	msg := raw["msg"].(map[string]any)
	assert.Equal(t, "agent_message_delta", msg["type"])

	var back Event
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, ev, back)
}

func TestEventOrderOmittedWhenNil(t *testing.T) {
	ev := Event{ID: "sub-1", EventSeq: 1, Msg: TaskCompleteEvent{LastAgentMessage: "done"}}
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"order"`)
}

func TestEventUnknownMsgType(t *testing.T) {
	var ev Event
	err := json.Unmarshal([]byte(`{"id":"x","event_seq":1,"msg":{"type":"mystery"}}`), &ev)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown event msg type "mystery"`)
}
