package models

import "time"

// AgentStatus represents the current state of a pooled agent.
type AgentStatus string

const (
	// AgentStatusIdle indicates the agent is available for work.
	AgentStatusIdle AgentStatus = "idle"
	// AgentStatusBusy indicates the agent is executing a task.
	AgentStatusBusy AgentStatus = "busy"
	// AgentStatusRetiring indicates the agent is being removed from the pool.
	AgentStatusRetiring AgentStatus = "retiring"
)

// Valid returns true if the status is a known value.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentStatusIdle, AgentStatusBusy, AgentStatusRetiring:
		return true
	default:
		return false
	}
}

// Agent represents a reusable worker handle bound to one capability.
// CurrentTaskID is non-empty exactly when Status is AgentStatusBusy.
type Agent struct {
	// ID is the unique identifier for this agent.
	ID string `json:"id"`
	// Capability is the kind of work this agent performs.
	Capability Capability `json:"capability"`
	// Status is the current state of the agent.
	Status AgentStatus `json:"status"`
	// CurrentTaskID is the task being executed, if any.
	CurrentTaskID string `json:"current_task_id,omitempty"`
	// TasksCompleted counts successful task executions by this agent.
	TasksCompleted int `json:"tasks_completed"`
	// CreatedAt is when the agent was created.
	CreatedAt time.Time `json:"created_at"`
	// LastActiveAt is when the agent last started or finished a task.
	LastActiveAt time.Time `json:"last_active_at"`
}
