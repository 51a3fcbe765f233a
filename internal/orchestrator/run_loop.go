package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/anvilworks/anvil/internal/pool"
	"github.com/anvilworks/anvil/pkg/models"
)

// outcome is the completion notification a dispatch goroutine sends back to
// the run loop. Dispatch goroutines never touch scheduler state directly.
type outcome struct {
	taskID  string
	agentID string
	result  *models.Result
	err     error
	started time.Time
}

// runLoop is the single-writer coordination loop. All resolver and pool
// mutations happen here; dispatch goroutines only execute tasks and report
// outcomes over completionCh.
func (o *Orchestrator) runLoop(ctx context.Context) error {
	maxConcurrency := o.pool.Status().MaxConcurrency

	// inflight maps dispatched task ID to the agent running it.
	inflight := make(map[string]string)
	completionCh := make(chan outcome, maxConcurrency)
	requeueCh := make(chan string, maxConcurrency)

	// retryWaits tracks per-task exponential backoff across attempts.
	retryWaits := make(map[string]*backoff.ExponentialBackOff)
	pendingRetries := 0

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if !o.pauseCtrl.IsPaused() {
			for _, taskID := range o.resolver.Ready() {
				if _, busy := inflight[taskID]; busy {
					continue
				}
				dispatched, err := o.dispatch(ctx, taskID, inflight, completionCh)
				if err != nil {
					log.Printf("[orchestrator] ERROR: dispatch %s: %v", taskID, err)
					continue
				}
				if !dispatched {
					// Pool exhausted; try again once an agent frees up.
					break
				}
			}
		}

		ready := len(o.resolver.Ready())
		if ready == 0 && len(inflight) == 0 && pendingRetries == 0 {
			o.logger.Log("[runLoop] fixed point reached: no ready, inflight, or retrying tasks")
			return nil
		}
		o.logger.Log("[runLoop] %d ready, %d inflight, %d awaiting retry", ready, len(inflight), pendingRetries)

		select {
		case <-ctx.Done():
			return ctx.Err()

		case out := <-completionCh:
			o.applyOutcome(ctx, out, inflight, retryWaits, &pendingRetries, requeueCh)

		case taskID := <-requeueCh:
			pendingRetries--
			if err := o.resolver.Requeue(taskID); err != nil {
				log.Printf("[orchestrator] ERROR: requeue %s: %v", taskID, err)
				continue
			}
			if task := o.resolver.GetTask(taskID); task != nil {
				o.saveTask(task)
			}
			o.logger.Log("[runLoop] task %s requeued after backoff", taskID)

		case <-time.After(o.pollInterval):
		}

		o.retireIdleAgents()
	}
}

// dispatch acquires an agent for the task and launches its execution
// goroutine. Returns false without error when the pool is exhausted.
func (o *Orchestrator) dispatch(ctx context.Context, taskID string, inflight map[string]string, completionCh chan<- outcome) (bool, error) {
	task := o.resolver.GetTask(taskID)
	if task == nil {
		return false, fmt.Errorf("ready task %s not in graph", taskID)
	}

	agent, created, err := o.pool.Acquire(task.Capability, taskID)
	if errors.Is(err, pool.ErrPoolExhausted) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if created {
		o.emit(Event{
			Type:       EventAgentCreated,
			AgentID:    agent.ID,
			Capability: agent.Capability,
			Message:    fmt.Sprintf("agent %s created", agent.ID),
			Timestamp:  time.Now(),
		})
	}
	o.saveAgent(&agent)

	if err := o.resolver.MarkDispatched(taskID, agent.ID); err != nil {
		if relErr := o.pool.Release(agent.ID, false); relErr != nil {
			log.Printf("[orchestrator] %v", relErr)
		}
		return false, err
	}
	o.saveTask(task)

	o.emit(Event{
		Type:       EventTaskAssigned,
		TaskID:     taskID,
		AgentID:    agent.ID,
		Capability: agent.Capability,
		Message:    fmt.Sprintf("task %q assigned to %s", task.Title, agent.ID),
		Timestamp:  time.Now(),
	})

	inflight[taskID] = agent.ID

	// The goroutine gets its own copy so executor code never shares task
	// memory with the loop.
	snapshot := *task
	o.wg.Add(1)
	go o.execute(ctx, snapshot, agent.ID, completionCh)
	return true, nil
}

// execute runs one attempt under the per-dispatch timeout, applies the
// quality gate, and reports the outcome. Runs outside the loop goroutine.
func (o *Orchestrator) execute(ctx context.Context, task models.Task, agentID string, completionCh chan<- outcome) {
	defer o.wg.Done()

	started := time.Now()
	execCtx, cancel := context.WithTimeout(ctx, o.taskTimeout)
	defer cancel()

	result, err := o.executor.ExecuteTask(execCtx, &task)

	if err == nil && result != nil && result.Success {
		gr, gateErr := o.gate.Validate(execCtx, &task, result.Output)
		if gateErr != nil {
			result.Success = false
			result.Error = fmt.Sprintf("gate validation: %v", gateErr)
		} else if !gr.Passed {
			result.Success = false
			result.Error = "quality gate failed: " + strings.Join(gr.Failures, "; ")
		}
	}

	// A deadline on the attempt context with the run still live means the
	// task stalled; count it as a failed attempt rather than a run error.
	if err != nil && errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("execution timed out after %s", o.taskTimeout)
	}

	select {
	case completionCh <- outcome{taskID: task.ID, agentID: agentID, result: result, err: err, started: started}:
	case <-ctx.Done():
	}
}

// applyOutcome folds one execution outcome into scheduler state. Called only
// from the run loop.
func (o *Orchestrator) applyOutcome(ctx context.Context, out outcome, inflight map[string]string, retryWaits map[string]*backoff.ExponentialBackOff, pendingRetries *int, requeueCh chan<- string) {
	agentID, ok := inflight[out.taskID]
	if !ok || agentID != out.agentID {
		// A result from a dispatch this loop no longer tracks (e.g. after a
		// restart) must not corrupt current state.
		o.logger.Log("[runLoop] discarding stale result for task %s from agent %s", out.taskID, out.agentID)
		return
	}
	delete(inflight, out.taskID)

	success := out.err == nil && out.result != nil && out.result.Success
	if err := o.pool.Release(out.agentID, success); err != nil {
		log.Printf("[orchestrator] ERROR: %v", err)
	}
	if a, found := o.pool.Get(out.agentID); found {
		o.saveAgent(&a)
	}

	task := o.resolver.GetTask(out.taskID)
	if task == nil {
		log.Printf("[orchestrator] ERROR: completed task %s not in graph", out.taskID)
		return
	}

	if success {
		delete(retryWaits, out.taskID)
		unblocked, err := o.resolver.MarkCompleted(out.taskID)
		if err != nil {
			log.Printf("[orchestrator] ERROR: mark completed %s: %v", out.taskID, err)
			return
		}
		o.saveTask(task)
		o.emit(Event{
			Type:      EventTaskCompleted,
			TaskID:    out.taskID,
			AgentID:   out.agentID,
			Message:   fmt.Sprintf("task %q completed in %s", task.Title, time.Since(out.started).Round(time.Millisecond)),
			Timestamp: time.Now(),
		})
		for _, depID := range unblocked {
			if dep := o.resolver.GetTask(depID); dep != nil {
				o.saveTask(dep)
			}
			o.emit(Event{
				Type:      EventTaskUnblocked,
				TaskID:    depID,
				Message:   fmt.Sprintf("task %s ready: all dependencies satisfied", depID),
				Timestamp: time.Now(),
			})
		}
		return
	}

	errMsg := "execution failed"
	switch {
	case out.err != nil:
		errMsg = out.err.Error()
	case out.result != nil && out.result.Error != "":
		errMsg = out.result.Error
	}

	if err := o.resolver.MarkRetrying(out.taskID, errMsg); err != nil {
		log.Printf("[orchestrator] ERROR: mark retrying %s: %v", out.taskID, err)
		return
	}

	if task.RetryCount >= o.maxRetries {
		delete(retryWaits, out.taskID)
		reason := fmt.Sprintf("failed after %d attempts: %s", task.RetryCount, errMsg)
		if err := o.resolver.MarkFailed(out.taskID, reason); err != nil {
			log.Printf("[orchestrator] ERROR: mark failed %s: %v", out.taskID, err)
			return
		}
		o.saveTask(task)

		blockerID := ""
		if b, err := o.blockers.CreateBlocker(out.taskID, reason, errMsg); err != nil {
			log.Printf("[orchestrator] warning: failed to create blocker for task %s: %v", out.taskID, err)
		} else {
			blockerID = b.ID
		}
		o.emit(Event{
			Type:      EventTaskBlocked,
			TaskID:    out.taskID,
			Error:     errors.New(errMsg),
			Message:   fmt.Sprintf("task %q blocked (blocker %s): %s", task.Title, blockerID, reason),
			Timestamp: time.Now(),
		})
		return
	}

	o.saveTask(task)
	o.emit(Event{
		Type:      EventTaskFailed,
		TaskID:    out.taskID,
		AgentID:   out.agentID,
		Error:     errors.New(errMsg),
		Message:   fmt.Sprintf("task %q failed (attempt %d/%d), retrying", task.Title, task.RetryCount, o.maxRetries),
		Timestamp: time.Now(),
	})

	wait := retryWaits[out.taskID]
	if wait == nil {
		wait = backoff.NewExponentialBackOff()
		wait.InitialInterval = 500 * time.Millisecond
		wait.MaxInterval = 30 * time.Second
		wait.MaxElapsedTime = 0 // retry budget is counted, not timed
		retryWaits[out.taskID] = wait
	}
	delay := wait.NextBackOff()

	*pendingRetries++
	o.wg.Add(1)
	go func(taskID string, d time.Duration) {
		defer o.wg.Done()
		select {
		case <-time.After(d):
			select {
			case requeueCh <- taskID:
			case <-ctx.Done():
			}
		case <-ctx.Done():
		}
	}(out.taskID, delay)
}

// retireIdleAgents removes agents idle past the configured timeout.
func (o *Orchestrator) retireIdleAgents() {
	for _, a := range o.pool.RetireIdle(o.idleRetire) {
		o.deleteAgent(a.ID)
		o.emit(Event{
			Type:       EventAgentRetired,
			AgentID:    a.ID,
			Capability: a.Capability,
			Message:    fmt.Sprintf("agent %s retired after %s idle (%d tasks completed)", a.ID, o.idleRetire, a.TasksCompleted),
			Timestamp:  time.Now(),
		})
	}
}
