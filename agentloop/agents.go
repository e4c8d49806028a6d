package agentloop

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/coderelay/coderelay/protocol"
)

// backgroundAgent is one registered background worker.
type backgroundAgent struct {
	id      string
	batchID string
	status  string
	cancel  context.CancelFunc
	done    <-chan struct{}
}

// AgentManager is a lock-guarded registry of background agents. It is
// constructed by the caller and passed into the loop by reference; there is
// no package-level instance.
type AgentManager struct {
	mu     sync.Mutex
	agents map[string]*backgroundAgent
}

func NewAgentManager() *AgentManager {
	return &AgentManager{agents: make(map[string]*backgroundAgent)}
}

// Register adds an agent. done, when non-nil, is closed by the agent when
// its teardown finishes; CancelAgents waits on it.
func (m *AgentManager) Register(id, batchID string, cancel context.CancelFunc, done <-chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[id] = &backgroundAgent{
		id:      id,
		batchID: batchID,
		status:  "running",
		cancel:  cancel,
		done:    done,
	}
}

// Complete removes a finished agent from the registry.
func (m *AgentManager) Complete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.agents, id)
}

// Statuses returns a stable snapshot of every registered agent.
func (m *AgentManager) Statuses() []protocol.AgentStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]protocol.AgentStatus, 0, len(m.agents))
	for _, a := range m.agents {
		out = append(out, protocol.AgentStatus{ID: a.id, BatchID: a.batchID, Status: a.status})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Cancel cancels the requested batches and individual agents, waiting for
// each agent's teardown. IDs are deduplicated; unknown ids are ignored. It
// returns how many agents were actually cancelled.
func (m *AgentManager) Cancel(ctx context.Context, batchIDs, agentIDs []string) int {
	batches := make(map[string]bool, len(batchIDs))
	for _, id := range batchIDs {
		batches[id] = true
	}
	wanted := make(map[string]bool, len(agentIDs))
	for _, id := range agentIDs {
		wanted[id] = true
	}

	m.mu.Lock()
	var victims []*backgroundAgent
	for _, a := range m.agents {
		if batches[a.batchID] || wanted[a.id] {
			a.status = "cancelled"
			victims = append(victims, a)
		}
	}
	m.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, a := range victims {
		a := a
		g.Go(func() error {
			a.cancel()
			if a.done != nil {
				select {
				case <-a.done:
				case <-ctx.Done():
				}
			}
			m.Complete(a.id)
			return nil
		})
	}
	g.Wait()
	return len(victims)
}
