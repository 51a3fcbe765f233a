package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/anvilworks/anvil/internal/blocker"
	"github.com/anvilworks/anvil/internal/executor"
	"github.com/anvilworks/anvil/pkg/models"
)

func newTask(id string, deps ...string) *models.Task {
	return &models.Task{
		ID:         id,
		Title:      "Task " + id,
		Capability: models.CapabilityBackend,
		DependsOn:  deps,
		Status:     models.TaskStatusPending,
	}
}

// collectEvents drains the event stream until it closes.
func collectEvents(t *testing.T, o *Orchestrator) func() []Event {
	t.Helper()
	var mu sync.Mutex
	var events []Event
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range o.Events() {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		}
	}()
	return func() []Event {
		<-done
		mu.Lock()
		defer mu.Unlock()
		return events
	}
}

func fastOptions(extra ...Option) []Option {
	opts := []Option{
		WithPollInterval(5 * time.Millisecond),
		WithTaskTimeout(5 * time.Second),
	}
	return append(opts, extra...)
}

func TestRunCompletesAllTasks(t *testing.T) {
	orch, err := New(RequiredConfig{Executor: &executor.StubExecutor{}}, fastOptions()...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Diamond: a -> (b, c) -> d
	tasks := []*models.Task{
		newTask("a"),
		newTask("b", "a"),
		newTask("c", "a"),
		newTask("d", "b", "c"),
	}
	if err := orch.Submit(tasks); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events := collectEvents(t, orch)
	if err := orch.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	for _, task := range tasks {
		if task.Status != models.TaskStatusCompleted {
			t.Errorf("task %s not completed: %s", task.ID, task.Status)
		}
	}
	if !orch.Resolver().Done() {
		t.Error("resolver should report done")
	}

	all := events()
	completed := 0
	var last Event
	for _, ev := range all {
		if ev.Type == EventTaskCompleted {
			completed++
		}
		last = ev
	}
	if completed != 4 {
		t.Errorf("expected 4 completion events, got %d", completed)
	}
	if last.Type != EventRunDone {
		t.Errorf("expected final event run_done, got %s", last.Type)
	}
}

// trackingExecutor records the peak number of concurrent executions.
type trackingExecutor struct {
	delay time.Duration

	mu      sync.Mutex
	current int
	peak    int
}

func (e *trackingExecutor) ExecuteTask(ctx context.Context, task *models.Task) (*models.Result, error) {
	e.mu.Lock()
	e.current++
	if e.current > e.peak {
		e.peak = e.current
	}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.current--
		e.mu.Unlock()
	}()

	select {
	case <-time.After(e.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &models.Result{TaskID: task.ID, AgentID: task.AssignedAgent, Success: true}, nil
}

func (e *trackingExecutor) Peak() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peak
}

func TestRunRespectsConcurrencyCap(t *testing.T) {
	exec := &trackingExecutor{delay: 50 * time.Millisecond}
	orch, err := New(RequiredConfig{Executor: exec},
		fastOptions(WithMaxConcurrency(2))...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Five independent tasks competing for two agent slots.
	if err := orch.Submit([]*models.Task{
		newTask("t1"), newTask("t2"), newTask("t3"), newTask("t4"), newTask("t5"),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events := collectEvents(t, orch)
	if err := orch.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	events()

	if exec.Peak() > 2 {
		t.Errorf("concurrency cap violated: %d concurrent executions", exec.Peak())
	}
	st := orch.Status()
	if st.Tasks[models.TaskStatusCompleted] != 5 {
		t.Errorf("expected 5 completed, got %v", st.Tasks)
	}
}

func TestRunRetriesThenSucceeds(t *testing.T) {
	stub := &executor.StubExecutor{FailTasks: map[string]int{"flaky": 1}}
	orch, err := New(RequiredConfig{Executor: stub},
		fastOptions(WithMaxRetries(3))...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	task := newTask("flaky")
	if err := orch.Submit([]*models.Task{task}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events := collectEvents(t, orch)
	if err := orch.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if task.Status != models.TaskStatusCompleted {
		t.Fatalf("expected flaky task completed, got %s", task.Status)
	}
	if task.RetryCount != 1 {
		t.Errorf("expected 1 recorded retry, got %d", task.RetryCount)
	}

	failures := 0
	for _, ev := range events() {
		if ev.Type == EventTaskFailed {
			failures++
		}
	}
	if failures != 1 {
		t.Errorf("expected 1 failure event, got %d", failures)
	}
}

func TestRunExhaustedRetriesBlocksTask(t *testing.T) {
	blockers := blocker.NewMemoryService()
	stub := &executor.StubExecutor{FailTasks: map[string]int{"doomed": -1}}
	orch, err := New(RequiredConfig{Executor: stub},
		fastOptions(WithMaxRetries(2), WithBlockers(blockers))...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	doomed := newTask("doomed")
	dependent := newTask("waiting", "doomed")
	if err := orch.Submit([]*models.Task{doomed, dependent}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events := collectEvents(t, orch)
	if err := orch.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if doomed.Status != models.TaskStatusBlocked {
		t.Fatalf("expected doomed blocked, got %s", doomed.Status)
	}
	if doomed.RetryCount != 2 {
		t.Errorf("expected 2 attempts recorded, got %d", doomed.RetryCount)
	}
	// The dependent must never have been scheduled.
	if dependent.Status != models.TaskStatusPending {
		t.Errorf("expected dependent still pending, got %s", dependent.Status)
	}

	open, err := blockers.ListOpenBlockers()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(open) != 1 || open[0].TaskID != "doomed" {
		t.Fatalf("expected one blocker for doomed, got %v", open)
	}

	sawBlocked := false
	for _, ev := range events() {
		if ev.Type == EventTaskBlocked && ev.TaskID == "doomed" {
			sawBlocked = true
		}
	}
	if !sawBlocked {
		t.Error("expected a task_blocked event")
	}
}

func TestResolveBlockerAllowsRerun(t *testing.T) {
	blockers := blocker.NewMemoryService()
	// Fails the first two attempts, succeeds on the third.
	stub := &executor.StubExecutor{FailTasks: map[string]int{"fixme": 2}}
	orch, err := New(RequiredConfig{Executor: stub},
		fastOptions(WithMaxRetries(2), WithBlockers(blockers))...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	task := newTask("fixme")
	if err := orch.Submit([]*models.Task{task}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events := collectEvents(t, orch)
	if err := orch.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	events()
	if task.Status != models.TaskStatusBlocked {
		t.Fatalf("expected fixme blocked after first run, got %s", task.Status)
	}

	open, _ := blockers.ListOpenBlockers()
	if len(open) != 1 {
		t.Fatalf("expected one open blocker, got %d", len(open))
	}
	if err := orch.ResolveBlocker(open[0].ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if task.Status != models.TaskStatusReady {
		t.Fatalf("expected fixme ready after resolve, got %s", task.Status)
	}
	if task.RetryCount != 0 {
		t.Errorf("expected fresh retry budget, got %d", task.RetryCount)
	}

	if err := orch.Run(context.Background()); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if task.Status != models.TaskStatusCompleted {
		t.Errorf("expected fixme completed after rerun, got %s", task.Status)
	}

	if open, _ := blockers.ListOpenBlockers(); len(open) != 0 {
		t.Errorf("expected no open blockers, got %d", len(open))
	}
}

func TestResolveBlockerUnknownID(t *testing.T) {
	orch, err := New(RequiredConfig{Executor: &executor.StubExecutor{}}, fastOptions()...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := orch.ResolveBlocker("ghost"); err == nil {
		t.Fatal("expected error for unknown blocker")
	}
}

func TestPauseBlocksDispatch(t *testing.T) {
	stub := &executor.StubExecutor{Delay: 10 * time.Millisecond}
	orch, err := New(RequiredConfig{Executor: stub}, fastOptions()...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := orch.Submit([]*models.Task{newTask("a"), newTask("b")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	orch.Pause()
	events := collectEvents(t, orch)

	runDone := make(chan error, 1)
	go func() { runDone <- orch.Run(context.Background()) }()

	// While paused nothing may be dispatched.
	time.Sleep(100 * time.Millisecond)
	st := orch.Status()
	if !st.Paused {
		t.Error("expected paused status")
	}
	if st.Tasks[models.TaskStatusDispatched] != 0 || st.Tasks[models.TaskStatusCompleted] != 0 {
		t.Errorf("tasks progressed while paused: %v", st.Tasks)
	}

	orch.Resume()
	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("run failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish after resume")
	}

	if got := orch.Status().Tasks[models.TaskStatusCompleted]; got != 2 {
		t.Errorf("expected 2 completed after resume, got %d", got)
	}

	sawPaused, sawResumed := false, false
	for _, ev := range events() {
		switch ev.Type {
		case EventPaused:
			sawPaused = true
		case EventResumed:
			sawResumed = true
		}
	}
	if !sawPaused || !sawResumed {
		t.Errorf("expected paused and resumed events, got paused=%v resumed=%v", sawPaused, sawResumed)
	}
}

func TestStopCancelsRun(t *testing.T) {
	stub := &executor.StubExecutor{Delay: 10 * time.Second}
	orch, err := New(RequiredConfig{Executor: stub}, fastOptions()...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := orch.Submit([]*models.Task{newTask("slow")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events := collectEvents(t, orch)
	runDone := make(chan error, 1)
	go func() { runDone <- orch.Run(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	orch.Stop()

	select {
	case err := <-runDone:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop")
	}
	events()

	if got := orch.Status().Tasks[models.TaskStatusCompleted]; got != 0 {
		t.Errorf("expected no completions after stop, got %d", got)
	}
}

func TestTaskTimeoutCountsAsFailure(t *testing.T) {
	stub := &executor.StubExecutor{Delay: 10 * time.Second}
	orch, err := New(RequiredConfig{Executor: stub},
		fastOptions(WithMaxRetries(1), WithTaskTimeout(50*time.Millisecond))...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	task := newTask("stall")
	if err := orch.Submit([]*models.Task{task}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events := collectEvents(t, orch)
	if err := orch.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	events()

	if task.Status != models.TaskStatusBlocked {
		t.Fatalf("expected stalled task blocked, got %s", task.Status)
	}
}

// failGate rejects every output.
type failGate struct{}

func (failGate) Validate(ctx context.Context, task *models.Task, output string) (executor.GateResult, error) {
	return executor.GateResult{Passed: false, Failures: []string{"lint"}}, nil
}

func TestGateFailureCountsAsFailure(t *testing.T) {
	orch, err := New(RequiredConfig{Executor: &executor.StubExecutor{}},
		fastOptions(WithMaxRetries(1), WithGate(failGate{}))...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	task := newTask("gated")
	if err := orch.Submit([]*models.Task{task}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events := collectEvents(t, orch)
	if err := orch.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	events()

	if task.Status != models.TaskStatusBlocked {
		t.Fatalf("expected gated task blocked, got %s", task.Status)
	}
	if task.BlockedReason == "" {
		t.Error("expected blocked reason to be recorded")
	}
}

func TestSubmitRejectsInvalidGraph(t *testing.T) {
	orch, err := New(RequiredConfig{Executor: &executor.StubExecutor{}}, fastOptions()...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := orch.Submit([]*models.Task{newTask("a", "b"), newTask("b", "a")}); err == nil {
		t.Error("expected cycle error")
	}
	if err := orch.Submit([]*models.Task{newTask("a", "missing")}); err == nil {
		t.Error("expected unknown dependency error")
	}
	bad := newTask("x")
	bad.Capability = "wizard"
	if err := orch.Submit([]*models.Task{bad}); err == nil {
		t.Error("expected unknown capability error")
	}
}

func TestNewRequiresExecutor(t *testing.T) {
	if _, err := New(RequiredConfig{}); err == nil {
		t.Fatal("expected error without executor")
	}
}
