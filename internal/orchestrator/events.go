// Package orchestrator drives task execution across a bounded agent pool.
package orchestrator

import (
	"time"

	"github.com/anvilworks/anvil/pkg/models"
)

// EventType represents the type of scheduler event.
type EventType string

const (
	// EventAgentCreated indicates a new agent was added to the pool.
	EventAgentCreated EventType = "agent_created"
	// EventAgentRetired indicates an idle agent was removed from the pool.
	EventAgentRetired EventType = "agent_retired"
	// EventTaskAssigned indicates a task was dispatched to an agent.
	EventTaskAssigned EventType = "task_assigned"
	// EventTaskCompleted indicates a task completed and passed validation.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates an attempt failed but the task will retry.
	EventTaskFailed EventType = "task_failed"
	// EventTaskBlocked indicates a task exhausted retries and needs a human.
	EventTaskBlocked EventType = "task_blocked"
	// EventTaskUnblocked indicates a task's dependencies are now satisfied.
	EventTaskUnblocked EventType = "task_unblocked"
	// EventPaused indicates the scheduler stopped issuing new dispatches.
	EventPaused EventType = "paused"
	// EventResumed indicates the scheduler resumed dispatching.
	EventResumed EventType = "resumed"
	// EventRunDone indicates the run reached a fixed point.
	EventRunDone EventType = "run_done"
)

// Event represents an observability event emitted by the scheduler.
// Consumers must treat events as advisory; losing one never affects
// scheduling.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// TaskID is the ID of the related task, if applicable.
	TaskID string
	// AgentID is the ID of the related agent, if applicable.
	AgentID string
	// Capability is the related capability, if applicable.
	Capability models.Capability
	// Message provides additional context about the event.
	Message string
	// Error contains error details for failure events.
	Error error
	// Timestamp is when the event occurred.
	Timestamp time.Time
}
