// Package blocker defines human-facing blocker records for tasks the
// scheduler cannot progress automatically.
package blocker

import "time"

// Status represents the lifecycle state of a blocker.
type Status string

const (
	// StatusOpen indicates the blocker awaits human resolution.
	StatusOpen Status = "open"
	// StatusResolved indicates a human resolved the blocker.
	StatusResolved Status = "resolved"
)

// Blocker is a record surfaced to a human when a task exhausts its retries
// or hits an unrecoverable failure. The task stays blocked until the blocker
// is resolved and the task is reset.
type Blocker struct {
	// ID is the unique identifier for this blocker.
	ID string `json:"id"`
	// TaskID is the blocked task.
	TaskID string `json:"task_id"`
	// Reason is a short human-readable summary.
	Reason string `json:"reason"`
	// Details carries the full failure context (last error, attempt count).
	Details string `json:"details,omitempty"`
	// Status is the current lifecycle state.
	Status Status `json:"status"`
	// CreatedAt is when the blocker was raised.
	CreatedAt time.Time `json:"created_at"`
	// ResolvedAt is when the blocker was resolved, if it was.
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Service is the interface the coordination loop uses to surface blockers.
// Implementations must not fail the scheduler: errors are reported back but
// the task transition to blocked happens regardless.
type Service interface {
	// CreateBlocker records a new open blocker for a task.
	CreateBlocker(taskID, reason, details string) (*Blocker, error)
	// ResolveBlocker marks a blocker resolved.
	ResolveBlocker(id string) error
	// ListOpenBlockers returns all open blockers, newest first.
	ListOpenBlockers() ([]Blocker, error)
}
