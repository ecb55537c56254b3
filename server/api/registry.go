package api

import (
	"sync"

	"github.com/google/uuid"

	"github.com/taskdeck/taskdeck/task"
)

// Registry is a Directory backed by the configured agent roster.
type Registry struct {
	mu     sync.RWMutex
	agents []task.Agent
	byID   map[string]int
	byType map[string]int
}

// NewRegistry builds a Registry from the given roster. Agents without an ID
// get one assigned; when two agents share a type, the first one wins type
// lookups.
func NewRegistry(agents []task.Agent) *Registry {
	r := &Registry{
		byID:   make(map[string]int),
		byType: make(map[string]int),
	}
	for _, a := range agents {
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		if a.Name == "" {
			a.Name = a.Type
		}
		idx := len(r.agents)
		r.agents = append(r.agents, a)
		r.byID[a.ID] = idx
		if _, exists := r.byType[a.Type]; !exists {
			r.byType[a.Type] = idx
		}
	}
	return r
}

// ListAgents returns a snapshot of the roster.
func (r *Registry) ListAgents() []task.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]task.Agent{}, r.agents...)
}

// GetAgent returns the agent with the given ID.
func (r *Registry) GetAgent(id string) (*task.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	a := r.agents[idx]
	return &a, true
}

// AgentByType returns the agent registered for the given type.
func (r *Registry) AgentByType(agentType string) (*task.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.byType[agentType]
	if !ok {
		return nil, false
	}
	a := r.agents[idx]
	return &a, true
}
