package api

import "github.com/taskdeck/taskdeck/task"

// Directory exposes the read-only agent roster to the API handlers.
type Directory interface {
	// ListAgents returns all registered agents.
	ListAgents() []task.Agent

	// GetAgent returns the agent with the given ID.
	GetAgent(id string) (*task.Agent, bool)

	// AgentByType returns the agent registered for the given type.
	AgentByType(agentType string) (*task.Agent, bool)
}
