package agentloop

import (
	"crypto/sha256"
	"fmt"

	"github.com/coderelay/coderelay/responses"
)

// loopDetectionWindow is how many trailing tool calls are inspected for a
// repeating pattern.
const loopDetectionWindow = 10

// loopWarning is injected as steering when a repeating pattern is found.
const loopWarning = "The last several tool calls follow a repeating pattern. Try a different approach."

// callSignature is a deterministic signature for one function call
// (name + hash of arguments).
func callSignature(name, arguments string) string {
	h := sha256.Sum256([]byte(arguments))
	return fmt.Sprintf("%s:%x", name, h[:8])
}

// recentCallSignatures collects the signatures of the most recent function
// calls in the transcript, in chronological order.
func recentCallSignatures(transcript []responses.ResponseItem, count int) []string {
	var sigs []string
	for i := len(transcript) - 1; i >= 0 && len(sigs) < count; i-- {
		item := transcript[i]
		if item.Type == "function_call" {
			sigs = append(sigs, callSignature(item.Name, item.Arguments))
		}
	}
	for i, j := 0, len(sigs)-1; i < j; i, j = i+1, j-1 {
		sigs[i], sigs[j] = sigs[j], sigs[i]
	}
	return sigs
}

// detectCallLoop reports whether the last windowSize function calls follow a
// repeating pattern of length 1, 2, or 3.
func detectCallLoop(transcript []responses.ResponseItem, windowSize int) bool {
	sigs := recentCallSignatures(transcript, windowSize)
	if len(sigs) < windowSize {
		return false
	}
	for patternLen := 1; patternLen <= 3; patternLen++ {
		if windowSize%patternLen != 0 {
			continue
		}
		pattern := sigs[:patternLen]
		allMatch := true
		for i := patternLen; i < windowSize && allMatch; i += patternLen {
			for j := 0; j < patternLen; j++ {
				if sigs[i+j] != pattern[j] {
					allMatch = false
					break
				}
			}
		}
		if allMatch {
			return true
		}
	}
	return false
}
