package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/anvilworks/anvil/internal/blocker"
	"github.com/anvilworks/anvil/internal/executor"
	"github.com/anvilworks/anvil/internal/graph"
	"github.com/anvilworks/anvil/internal/pool"
	"github.com/anvilworks/anvil/internal/state"
	"github.com/anvilworks/anvil/pkg/models"
)

// Orchestrator coordinates task execution across a capacity-bounded agent
// pool. Tasks flow through the dependency resolver; ready tasks are matched
// to agents by capability and executed concurrently, while all state
// mutation happens from the single run loop goroutine.
type Orchestrator struct {
	resolver *graph.Resolver
	pool     *pool.Manager
	executor executor.Executor
	gate     executor.Gate
	blockers blocker.Service
	store    state.Store

	emitter   *EventEmitter
	pauseCtrl *PauseController
	logger    *DebugLogger

	maxRetries   int
	taskTimeout  time.Duration
	idleRetire   time.Duration
	pollInterval time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an Orchestrator from required config plus options.
func New(req RequiredConfig, opts ...Option) (*Orchestrator, error) {
	if req.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}

	options := &orchestratorOptions{}
	for _, opt := range opts {
		opt(options)
	}
	applyDefaults(options)

	o := &Orchestrator{
		resolver:     options.resolver,
		pool:         options.pool,
		executor:     req.Executor,
		gate:         options.gate,
		blockers:     options.blockers,
		store:        options.store,
		emitter:      NewEventEmitter(options.eventBuffer),
		pauseCtrl:    NewPauseController(),
		logger:       options.logger,
		maxRetries:   options.maxRetries,
		taskTimeout:  options.taskTimeout,
		idleRetire:   options.idleRetire,
		pollInterval: options.pollInterval,
	}
	o.resolver.SetDebugLog(o.logger.Log)
	return o, nil
}

// Submit validates the given tasks as a dependency graph and loads them into
// the resolver. It must be called before Run; calling it during a run is an
// error. On validation failure (cycle, unknown dependency) no task is
// accepted.
func (o *Orchestrator) Submit(tasks []*models.Task) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return fmt.Errorf("cannot submit tasks while running")
	}
	o.mu.Unlock()

	for _, t := range tasks {
		if t.ID == "" {
			return fmt.Errorf("task with empty id")
		}
		if !t.Capability.Valid() {
			return fmt.Errorf("task %s has unknown capability %q", t.ID, t.Capability)
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = time.Now()
		}
		if t.Status == "" {
			t.Status = models.TaskStatusPending
		}
	}

	if err := o.resolver.Build(tasks); err != nil {
		return err
	}

	for _, t := range tasks {
		o.saveTask(t)
	}
	o.logger.Log("[orchestrator] submitted %d tasks", len(tasks))
	return nil
}

// Run executes the coordination loop until every task reaches a terminal
// state or the context is cancelled. It blocks the calling goroutine.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return fmt.Errorf("already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.running = true
	o.cancel = cancel
	o.mu.Unlock()

	err := o.runLoop(runCtx)

	cancel()
	o.wg.Wait()
	o.teardown()

	counts := o.resolver.CountsByStatus()
	o.emit(Event{
		Type: EventRunDone,
		Message: fmt.Sprintf("run finished: %d completed, %d blocked",
			counts[models.TaskStatusCompleted], counts[models.TaskStatusBlocked]),
		Timestamp: time.Now(),
	})
	o.emitter.Close()

	o.mu.Lock()
	o.running = false
	o.cancel = nil
	o.mu.Unlock()
	return err
}

// Pause stops new dispatches. In-flight executions run to completion and
// their results are still applied.
func (o *Orchestrator) Pause() {
	if o.pauseCtrl.IsPaused() {
		return
	}
	o.pauseCtrl.Pause()
	o.emit(Event{Type: EventPaused, Message: "dispatch paused", Timestamp: time.Now()})
}

// Resume re-enables dispatching after a pause.
func (o *Orchestrator) Resume() {
	if !o.pauseCtrl.IsPaused() {
		return
	}
	o.pauseCtrl.Resume()
	o.emit(Event{Type: EventResumed, Message: "dispatch resumed", Timestamp: time.Now()})
}

// Stop cancels the run. In-flight results arriving after Stop are discarded.
func (o *Orchestrator) Stop() {
	o.pauseCtrl.Stop()
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Events returns the event stream for subscribers.
func (o *Orchestrator) Events() <-chan Event {
	return o.emitter.Events()
}

// ResolveBlocker resolves an open blocker and resets its task so it becomes
// schedulable again with a fresh retry budget.
func (o *Orchestrator) ResolveBlocker(blockerID string) error {
	open, err := o.blockers.ListOpenBlockers()
	if err != nil {
		return fmt.Errorf("list blockers: %w", err)
	}
	var target *blocker.Blocker
	for i := range open {
		if open[i].ID == blockerID {
			target = &open[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("no open blocker with id %s", blockerID)
	}

	if err := o.blockers.ResolveBlocker(blockerID); err != nil {
		return err
	}
	if err := o.resolver.Reset(target.TaskID); err != nil {
		return err
	}
	if task := o.resolver.GetTask(target.TaskID); task != nil {
		o.saveTask(task)
	}

	o.emit(Event{
		Type:      EventTaskUnblocked,
		TaskID:    target.TaskID,
		Message:   fmt.Sprintf("blocker %s resolved, task requeued", blockerID),
		Timestamp: time.Now(),
	})
	return nil
}

// Status is an observability snapshot of a run.
type Status struct {
	Running       bool                      `json:"running"`
	Paused        bool                      `json:"paused"`
	Tasks         map[models.TaskStatus]int `json:"tasks"`
	Pool          pool.Status               `json:"pool"`
	DroppedEvents uint64                    `json:"dropped_events"`
}

// Status returns a point-in-time snapshot of the run.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	running := o.running
	o.mu.Unlock()

	return Status{
		Running:       running,
		Paused:        o.pauseCtrl.IsPaused(),
		Tasks:         o.resolver.CountsByStatus(),
		Pool:          o.pool.Status(),
		DroppedEvents: o.emitter.DroppedCount(),
	}
}

// Resolver exposes the dependency resolver for read-only queries
// (execution order, blocked tasks, per-task lookups).
func (o *Orchestrator) Resolver() *graph.Resolver {
	return o.resolver
}

// emit sends an event without ever blocking scheduling.
func (o *Orchestrator) emit(event Event) {
	o.emitter.Emit(event)
}

// teardown retires every remaining agent at the end of a run.
func (o *Orchestrator) teardown() {
	for _, a := range o.pool.Teardown() {
		o.deleteAgent(a.ID)
		o.emit(Event{
			Type:       EventAgentRetired,
			AgentID:    a.ID,
			Capability: a.Capability,
			Message:    fmt.Sprintf("agent %s retired at teardown (%d tasks completed)", a.ID, a.TasksCompleted),
			Timestamp:  time.Now(),
		})
	}
}

// Persistence helpers. Store failures never affect scheduling; they are
// logged and the in-memory state stays authoritative.

func (o *Orchestrator) saveTask(t *models.Task) {
	if o.store == nil {
		return
	}
	if err := o.store.SaveTask(t); err != nil {
		log.Printf("[orchestrator] warning: failed to persist task %s: %v", t.ID, err)
	}
}

func (o *Orchestrator) saveAgent(a *models.Agent) {
	if o.store == nil {
		return
	}
	if err := o.store.SaveAgent(a); err != nil {
		log.Printf("[orchestrator] warning: failed to persist agent %s: %v", a.ID, err)
	}
}

func (o *Orchestrator) deleteAgent(agentID string) {
	if o.store == nil {
		return
	}
	if err := o.store.DeleteAgent(agentID); err != nil {
		log.Printf("[orchestrator] warning: failed to delete agent %s: %v", agentID, err)
	}
}
