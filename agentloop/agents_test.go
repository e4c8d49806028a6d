package agentloop

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coderelay/coderelay/protocol"
)

func registerStubAgent(m *AgentManager, id, batchID string) *bool {
	cancelled := false
	done := make(chan struct{})
	close(done)
	m.Register(id, batchID, func() { cancelled = true }, done)
	return &cancelled
}

func TestAgentManagerStatuses(t *testing.T) {
	m := NewAgentManager()
	registerStubAgent(m, "b", "batch-1")
	registerStubAgent(m, "a", "batch-1")

	statuses := m.Statuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, []protocol.AgentStatus{
		{ID: "a", BatchID: "batch-1", Status: "running"},
		{ID: "b", BatchID: "batch-1", Status: "running"},
	}, statuses)
}

func TestAgentManagerCancelByID(t *testing.T) {
	m := NewAgentManager()
	cancelled := registerStubAgent(m, "a", "batch-1")
	registerStubAgent(m, "b", "batch-2")

	n := m.Cancel(context.Background(), nil, []string{"a"})
	assert.Equal(t, 1, n)
	assert.True(t, *cancelled)
	require.Len(t, m.Statuses(), 1)
	assert.Equal(t, "b", m.Statuses()[0].ID)
}

func TestAgentManagerCancelByBatch(t *testing.T) {
	m := NewAgentManager()
	registerStubAgent(m, "a", "batch-1")
	registerStubAgent(m, "b", "batch-1")
	registerStubAgent(m, "c", "batch-2")

	n := m.Cancel(context.Background(), []string{"batch-1"}, nil)
	assert.Equal(t, 2, n)
	require.Len(t, m.Statuses(), 1)
	assert.Equal(t, "c", m.Statuses()[0].ID)
}

func TestAgentManagerCancelDeduplicates(t *testing.T) {
	m := NewAgentManager()
	registerStubAgent(m, "a", "batch-1")

	// Named both ways, the agent is still cancelled once.
	n := m.Cancel(context.Background(), []string{"batch-1"}, []string{"a"})
	assert.Equal(t, 1, n)
}

func TestAgentManagerCancelUnknownIDs(t *testing.T) {
	m := NewAgentManager()
	assert.Equal(t, 0, m.Cancel(context.Background(), []string{"nope"}, []string{"ghost"}))
}

func TestAgentManagerComplete(t *testing.T) {
	m := NewAgentManager()
	registerStubAgent(m, "a", "batch-1")
	m.Complete("a")
	assert.Empty(t, m.Statuses())
}
