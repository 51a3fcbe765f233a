package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has unsatisfied dependencies.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusReady indicates all dependencies are complete and the task
	// is waiting for an agent.
	TaskStatusReady TaskStatus = "ready"
	// TaskStatusDispatched indicates an agent is executing the task.
	TaskStatusDispatched TaskStatus = "dispatched"
	// TaskStatusCompleted indicates the task finished and passed validation.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailedRetryable indicates the last attempt failed but the
	// retry budget is not exhausted.
	TaskStatusFailedRetryable TaskStatus = "failed_retryable"
	// TaskStatusBlocked indicates the task cannot proceed without human
	// intervention.
	TaskStatusBlocked TaskStatus = "blocked"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusReady, TaskStatusDispatched,
		TaskStatusCompleted, TaskStatusFailedRetryable, TaskStatusBlocked:
		return true
	default:
		return false
	}
}

// Terminal returns true for states the scheduler never leaves on its own.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusBlocked
}

// Capability identifies the kind of worker an agent provides and a task
// requires. It is a closed set; executor selection is keyed off it.
type Capability string

const (
	// CapabilityBackend covers server-side implementation work.
	CapabilityBackend Capability = "backend"
	// CapabilityFrontend covers UI implementation work.
	CapabilityFrontend Capability = "frontend"
	// CapabilityTest covers test authoring and hardening work.
	CapabilityTest Capability = "test"
	// CapabilityReview covers code review work.
	CapabilityReview Capability = "review"
)

// Valid returns true if the capability is a known value.
func (c Capability) Valid() bool {
	switch c {
	case CapabilityBackend, CapabilityFrontend, CapabilityTest, CapabilityReview:
		return true
	default:
		return false
	}
}

// Capabilities lists all known capabilities in a stable order.
func Capabilities() []Capability {
	return []Capability{CapabilityBackend, CapabilityFrontend, CapabilityTest, CapabilityReview}
}

// Task represents a unit of work in the system.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// Title is the short description of the task.
	Title string `json:"title"`
	// Description provides detailed information about the task.
	Description string `json:"description,omitempty"`
	// Capability is the kind of agent required to execute this task.
	Capability Capability `json:"capability"`
	// DependsOn lists task IDs that must complete before this task.
	DependsOn []string `json:"depends_on,omitempty"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// Priority orders ready tasks for dispatch; lower runs first.
	Priority int `json:"priority,omitempty"`
	// RetryCount is the number of failed attempts so far.
	RetryCount int `json:"retry_count,omitempty"`
	// AssignedAgent is the ID of the agent working on this task.
	AssignedAgent string `json:"assigned_agent,omitempty"`
	// BlockedReason explains why the task is blocked, if it is.
	BlockedReason string `json:"blocked_reason,omitempty"`
	// Error contains the error message from the last failed attempt.
	Error string `json:"error,omitempty"`
	// CreatedAt is when the task was created. Ties in priority order are
	// broken by creation time (FIFO).
	CreatedAt time.Time `json:"created_at"`
	// CompletedAt is when the task completed, if applicable.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Result carries the outcome of one task execution attempt.
type Result struct {
	// TaskID is the task this result belongs to.
	TaskID string `json:"task_id"`
	// AgentID is the agent that produced the result.
	AgentID string `json:"agent_id"`
	// Success reports whether execution finished without error.
	Success bool `json:"success"`
	// Output is the worker's produced output, if any.
	Output string `json:"output,omitempty"`
	// Error holds the failure description when Success is false.
	Error string `json:"error,omitempty"`
	// Duration is how long the attempt took.
	Duration time.Duration `json:"duration"`
}
