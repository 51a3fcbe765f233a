package graph

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCycleDetected indicates a circular dependency was found in the task graph.
var ErrCycleDetected = errors.New("circular dependency detected")

// CycleError reports a circular dependency along with the offending path.
// It matches ErrCycleDetected under errors.Is.
type CycleError struct {
	// Path is the cycle, first node repeated at the end (a, b, a).
	Path []string
}

// Error returns the cycle as "a -> b -> a".
func (e *CycleError) Error() string {
	return fmt.Sprintf("circular dependency detected: %s", strings.Join(e.Path, " -> "))
}

// Unwrap allows errors.Is(err, ErrCycleDetected).
func (e *CycleError) Unwrap() error {
	return ErrCycleDetected
}

// ConsistencyError indicates an operation referenced a task the resolver does
// not know about. The scheduler only references IDs it dispatched, so this
// signals a bug rather than a runtime condition.
type ConsistencyError struct {
	Op     string
	TaskID string
}

// Error describes the failed operation and offending ID.
func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("internal consistency error: %s on unknown task %s", e.Op, e.TaskID)
}
