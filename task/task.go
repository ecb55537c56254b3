// Package task defines the task model and persistence for agent work items.
package task

import (
	"encoding/json"
	"time"
)

// Status represents the lifecycle state of a task. Transitions are
// forward-only: a task never returns to an earlier state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// rank orders statuses for the forward-only transition check. Unknown
// statuses rank below pending so the store rejects writes that would
// resurrect a task.
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 1
	case StatusProcessing:
		return 2
	case StatusCompleted, StatusFailed:
		return 3
	}
	return 0
}

// Terminal reports whether the status is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether a task may move from s to next. Both
// terminal states rank equally, so a completed task can never be re-marked
// failed or vice versa.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return true
	}
	return next.rank() > s.rank()
}

// Priority is set at task creation and never changes.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Rank maps a priority to a sortable weight. Unknown priorities sort lowest.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	}
	return 0
}

// Task is one unit of work submitted to an agent. The store is the only
// writer; clients replace their whole cached view on each fetch and never
// mutate individual records.
type Task struct {
	ID          string          `json:"id"`
	AgentID     string          `json:"agent_id"`
	Action      string          `json:"action"`
	Status      Status          `json:"status"`
	Priority    Priority        `json:"priority"`
	Input       json.RawMessage `json:"input,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"` // set only when completed
	Error       string          `json:"error,omitempty"`  // set only when failed
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// LastActivity is the task's most recent lifecycle timestamp.
func (t *Task) LastActivity() time.Time {
	if t.CompletedAt != nil {
		return *t.CompletedAt
	}
	return t.CreatedAt
}

// Agent identifies a logical worker type. Agents are read-only from the
// dashboard's perspective; the roster comes from server configuration.
type Agent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Name string `json:"name"`
}

// Metrics summarizes a single agent's task counts by status.
type Metrics struct {
	TotalTasks   int            `json:"total_tasks"`
	StatusCounts map[Status]int `json:"status_counts"`
}

// Filter controls which tasks are returned by List.
type Filter struct {
	AgentID string  `json:"agent_id,omitempty"`
	Status  *Status `json:"status,omitempty"`
	Limit   int     `json:"limit,omitempty"`
	Offset  int     `json:"offset,omitempty"`
}

// Page is one window of a filtered task listing. Total counts every task
// matching the filter, not just the returned slice.
type Page struct {
	Tasks []*Task `json:"tasks"`
	Total int     `json:"total"`
}

// Store persists and retrieves tasks.
type Store interface {
	// Create persists a new task and returns its assigned ID.
	Create(t *Task) (string, error)

	// Get retrieves a task by ID.
	Get(id string) (*Task, error)

	// Update saves changes to an existing task. Backward status
	// transitions are rejected.
	Update(t *Task) error

	// List returns the window of tasks matching the filter along with the
	// total match count.
	List(filter Filter) (*Page, error)

	// Metrics returns per-status counts for one agent's tasks.
	Metrics(agentID string) (*Metrics, error)

	// Activity returns the most recent tasks across all agents, newest
	// first, capped at limit.
	Activity(limit int) ([]*Task, error)

	// Delete removes a task by ID.
	Delete(id string) error
}
