package agentloop

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/coderelay/coderelay/responses"
)

func fnCall(name, args string) responses.ResponseItem {
	return responses.ResponseItem{Type: "function_call", Name: name, Arguments: args}
}

func repeatCalls(n int, calls ...responses.ResponseItem) []responses.ResponseItem {
	var out []responses.ResponseItem
	for len(out) < n {
		out = append(out, calls...)
	}
	return out[:n]
}

func TestDetectCallLoopSingleCall(t *testing.T) {
	transcript := repeatCalls(loopDetectionWindow, fnCall("shell", `{"command":["ls"]}`))
	assert.True(t, detectCallLoop(transcript, loopDetectionWindow))
}

func TestDetectCallLoopAlternatingPair(t *testing.T) {
	transcript := repeatCalls(loopDetectionWindow,
		fnCall("shell", `{"command":["ls"]}`),
		fnCall("shell", `{"command":["cat","x"]}`),
	)
	assert.True(t, detectCallLoop(transcript, loopDetectionWindow))
}

func TestDetectCallLoopIgnoresShortHistory(t *testing.T) {
	transcript := repeatCalls(loopDetectionWindow-1, fnCall("shell", `{"command":["ls"]}`))
	assert.False(t, detectCallLoop(transcript, loopDetectionWindow))
}

func TestDetectCallLoopDistinctCalls(t *testing.T) {
	var transcript []responses.ResponseItem
	for i := 0; i < loopDetectionWindow; i++ {
		transcript = append(transcript, fnCall("shell", fmt.Sprintf(`{"command":["step%d"]}`, i)))
	}
	assert.False(t, detectCallLoop(transcript, loopDetectionWindow))
}

func TestDetectCallLoopSkipsNonCallItems(t *testing.T) {
	// Messages interleaved between calls do not break the pattern.
	var transcript []responses.ResponseItem
	for i := 0; i < loopDetectionWindow; i++ {
		transcript = append(transcript,
			fnCall("shell", `{"command":["retry"]}`),
			responses.TextItem("assistant", "still trying"),
		)
	}
	assert.True(t, detectCallLoop(transcript, loopDetectionWindow))
}

func TestCallSignatureDistinguishesArguments(t *testing.T) {
	a := callSignature("shell", `{"command":["ls"]}`)
	b := callSignature("shell", `{"command":["pwd"]}`)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, callSignature("shell", `{"command":["ls"]}`))
}
