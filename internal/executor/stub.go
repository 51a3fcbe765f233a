package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/anvilworks/anvil/pkg/models"
)

// StubExecutor simulates task execution without calling any worker backend.
// It is used for plan dry-runs and in tests.
type StubExecutor struct {
	// Delay is how long each simulated execution takes.
	Delay time.Duration
	// FailTasks maps task IDs to the number of attempts that should fail
	// before the task succeeds. A negative count fails every attempt.
	FailTasks map[string]int

	// attempts is guarded by mu; executions run concurrently.
	mu       sync.Mutex
	attempts map[string]int
}

// ExecuteTask simulates one execution attempt.
func (s *StubExecutor) ExecuteTask(ctx context.Context, task *models.Task) (*models.Result, error) {
	start := time.Now()
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	if s.attempts == nil {
		s.attempts = make(map[string]int)
	}
	s.attempts[task.ID]++
	attempt := s.attempts[task.ID]
	s.mu.Unlock()

	result := &models.Result{
		TaskID:   task.ID,
		AgentID:  task.AssignedAgent,
		Duration: time.Since(start),
	}

	if n, ok := s.FailTasks[task.ID]; ok && (n < 0 || attempt <= n) {
		result.Error = fmt.Sprintf("simulated failure (attempt %d)", attempt)
		return result, nil
	}

	result.Success = true
	result.Output = fmt.Sprintf("simulated %s work for %q", task.Capability, task.Title)
	return result, nil
}
