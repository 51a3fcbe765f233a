// Package executor defines the worker-agent execution boundary consumed by
// the coordination loop, plus the bundled implementations.
package executor

import (
	"context"

	"github.com/anvilworks/anvil/pkg/models"
)

// Executor runs one execution attempt for a task. Implementations are opaque
// to the scheduler and may retry internally before returning; the returned
// Result reports the final outcome of the attempt.
type Executor interface {
	ExecuteTask(ctx context.Context, task *models.Task) (*models.Result, error)
}

// GateResult is the outcome of a quality-gate validation.
type GateResult struct {
	// Passed reports whether the output cleared the gate.
	Passed bool
	// Failures lists the individual checks that failed.
	Failures []string
}

// Gate validates a successful execution before the task is marked completed.
type Gate interface {
	Validate(ctx context.Context, task *models.Task, output string) (GateResult, error)
}

// PassGate is a Gate that accepts every output. Used when quality gates are
// disabled.
type PassGate struct{}

// Validate always passes.
func (PassGate) Validate(ctx context.Context, task *models.Task, output string) (GateResult, error) {
	return GateResult{Passed: true}, nil
}
