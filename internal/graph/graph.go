// Package graph provides the dependency resolver for task scheduling.
package graph

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gammazero/toposort"

	"github.com/anvilworks/anvil/pkg/models"
)

// Resolver maintains the directed acyclic graph of task dependencies and
// answers "what can run now". Tasks are nodes; edges represent "blocked by"
// relationships. The ready set is maintained incrementally via per-task
// unsatisfied-dependency counters and a reverse-dependent index, so state
// changes cost O(dependents) rather than a full graph scan.
type Resolver struct {
	mu sync.RWMutex
	// nodes maps task ID to the task itself.
	nodes map[string]*models.Task
	// edges maps task ID to IDs of tasks it depends on (is blocked by).
	edges map[string][]string
	// dependents maps task ID to IDs of tasks that depend on it.
	dependents map[string][]string
	// unsatisfied counts incomplete dependencies per task.
	unsatisfied map[string]int
	// completed tracks which tasks have been marked complete.
	completed map[string]bool
	// ready is the set of tasks whose dependencies are all complete and
	// which have not been dispatched or finished.
	ready map[string]bool
	// debugLog is an optional logging function.
	debugLog func(format string, args ...interface{})
}

// New creates a new empty resolver.
func New() *Resolver {
	return &Resolver{
		nodes:       make(map[string]*models.Task),
		edges:       make(map[string][]string),
		dependents:  make(map[string][]string),
		unsatisfied: make(map[string]int),
		completed:   make(map[string]bool),
		ready:       make(map[string]bool),
		debugLog:    func(format string, args ...interface{}) {},
	}
}

// SetDebugLog sets the debug logging function.
func (r *Resolver) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		r.debugLog = fn
	}
}

// Build constructs the dependency graph from a slice of tasks.
// On any error (unknown dependency, cycle) the resolver keeps its previous
// state; the graph is committed only when fully valid.
func (r *Resolver) Build(tasks []*models.Task) error {
	nodes := make(map[string]*models.Task, len(tasks))
	edges := make(map[string][]string, len(tasks))
	dependents := make(map[string][]string)
	completed := make(map[string]bool)

	for _, task := range tasks {
		if _, dup := nodes[task.ID]; dup {
			return fmt.Errorf("duplicate task id %s", task.ID)
		}
		nodes[task.ID] = task
		edges[task.ID] = nil
		if task.Status == models.TaskStatusCompleted {
			completed[task.ID] = true
		}
	}

	for _, task := range tasks {
		seen := make(map[string]bool, len(task.DependsOn))
		for _, depID := range task.DependsOn {
			if depID == task.ID {
				return &CycleError{Path: []string{task.ID, task.ID}}
			}
			if _, exists := nodes[depID]; !exists {
				return fmt.Errorf("task %s depends on unknown task %s", task.ID, depID)
			}
			// Tolerate duplicate dependency declarations.
			if seen[depID] {
				continue
			}
			seen[depID] = true
			edges[task.ID] = append(edges[task.ID], depID)
			dependents[depID] = append(dependents[depID], task.ID)
		}
	}

	if cycle := findCycle(nodes, edges); cycle != nil {
		return &CycleError{Path: cycle}
	}

	unsatisfied := make(map[string]int, len(tasks))
	ready := make(map[string]bool)
	for id := range nodes {
		n := 0
		for _, depID := range edges[id] {
			if !completed[depID] {
				n++
			}
		}
		unsatisfied[id] = n
		if n == 0 && !completed[id] && !nodes[id].Status.Terminal() {
			ready[id] = true
			nodes[id].Status = models.TaskStatusReady
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes = nodes
	r.edges = edges
	r.dependents = dependents
	r.unsatisfied = unsatisfied
	r.completed = completed
	r.ready = ready

	r.debugLog("[graph.Build] built graph: %d tasks, %d ready", len(nodes), len(ready))
	return nil
}

// Ready returns the IDs of tasks whose dependencies are all complete and
// which are awaiting dispatch, ordered by priority then creation time.
func (r *Resolver) Ready() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.ready))
	for id := range r.ready {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := r.nodes[ids[i]], r.nodes[ids[j]]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return ids
}

// MarkDispatched removes a task from the ready set and records its agent
// assignment. The task stays a scheduling concern until a completion or
// failure is applied.
func (r *Resolver) MarkDispatched(taskID, agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.nodes[taskID]
	if !ok {
		return &ConsistencyError{Op: "mark dispatched", TaskID: taskID}
	}
	delete(r.ready, taskID)
	task.Status = models.TaskStatusDispatched
	task.AssignedAgent = agentID
	return nil
}

// Requeue returns a retryable task to the ready set after a failed attempt.
func (r *Resolver) Requeue(taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.nodes[taskID]
	if !ok {
		return &ConsistencyError{Op: "requeue", TaskID: taskID}
	}
	task.Status = models.TaskStatusReady
	task.AssignedAgent = ""
	r.ready[taskID] = true
	return nil
}

// MarkCompleted records a task as complete and returns the IDs of dependents
// that became ready as a result. Calling it again for an already completed
// task is a no-op.
func (r *Resolver) MarkCompleted(taskID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.nodes[taskID]
	if !ok {
		return nil, &ConsistencyError{Op: "mark completed", TaskID: taskID}
	}
	if r.completed[taskID] {
		return nil, nil
	}

	r.completed[taskID] = true
	delete(r.ready, taskID)
	now := time.Now()
	task.Status = models.TaskStatusCompleted
	task.CompletedAt = &now

	var unblocked []string
	for _, depID := range r.dependents[taskID] {
		r.unsatisfied[depID]--
		if r.unsatisfied[depID] > 0 {
			continue
		}
		dep := r.nodes[depID]
		if dep.Status != models.TaskStatusPending {
			// Blocked dependents stay blocked until manually reset.
			continue
		}
		dep.Status = models.TaskStatusReady
		r.ready[depID] = true
		unblocked = append(unblocked, depID)
	}
	sort.Strings(unblocked)

	r.debugLog("[graph.MarkCompleted] task %s complete, unblocked %d: %v", taskID, len(unblocked), unblocked)
	return unblocked, nil
}

// MarkRetrying records a failed attempt that will be retried. The task leaves
// the dispatched state but is not ready again until Requeue is called, which
// lets the scheduler hold it back for a backoff delay.
func (r *Resolver) MarkRetrying(taskID, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.nodes[taskID]
	if !ok {
		return &ConsistencyError{Op: "mark retrying", TaskID: taskID}
	}
	delete(r.ready, taskID)
	task.Status = models.TaskStatusFailedRetryable
	task.RetryCount++
	task.Error = errMsg
	task.AssignedAgent = ""
	return nil
}

// MarkFailed records a task as terminally blocked. Dependents are not
// unblocked; they remain unreachable until the task is reset.
func (r *Resolver) MarkFailed(taskID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.nodes[taskID]
	if !ok {
		return &ConsistencyError{Op: "mark failed", TaskID: taskID}
	}
	delete(r.ready, taskID)
	task.Status = models.TaskStatusBlocked
	task.BlockedReason = reason
	task.AssignedAgent = ""

	r.debugLog("[graph.MarkFailed] task %s blocked: %s", taskID, reason)
	return nil
}

// Reset returns a blocked task to the scheduler with a fresh retry budget.
// This is the manual-resolution path: a human clears the blocker and the task
// becomes schedulable again.
func (r *Resolver) Reset(taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.nodes[taskID]
	if !ok {
		return &ConsistencyError{Op: "reset", TaskID: taskID}
	}
	task.RetryCount = 0
	task.BlockedReason = ""
	task.Error = ""
	task.AssignedAgent = ""
	if r.unsatisfied[taskID] == 0 {
		task.Status = models.TaskStatusReady
		r.ready[taskID] = true
	} else {
		task.Status = models.TaskStatusPending
	}
	return nil
}

// AddTask adds a task to an existing graph, running the same cycle and
// unknown-dependency validation as Build. On error the graph is unchanged.
func (r *Resolver) AddTask(task *models.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.nodes[task.ID]; exists {
		return fmt.Errorf("task %s already exists", task.ID)
	}

	var deps []string
	seen := make(map[string]bool, len(task.DependsOn))
	for _, depID := range task.DependsOn {
		if depID == task.ID {
			return &CycleError{Path: []string{task.ID, task.ID}}
		}
		if _, exists := r.nodes[depID]; !exists {
			return fmt.Errorf("task %s depends on unknown task %s", task.ID, depID)
		}
		if seen[depID] {
			continue
		}
		seen[depID] = true
		deps = append(deps, depID)
	}

	// A new node only ever adds edges out of itself, so it cannot close a
	// cycle through existing nodes, but run the full check to keep the
	// invariant load-bearing rather than assumed.
	r.nodes[task.ID] = task
	r.edges[task.ID] = deps
	if cycle := findCycle(r.nodes, r.edges); cycle != nil {
		delete(r.nodes, task.ID)
		delete(r.edges, task.ID)
		return &CycleError{Path: cycle}
	}

	n := 0
	for _, depID := range deps {
		r.dependents[depID] = append(r.dependents[depID], task.ID)
		if !r.completed[depID] {
			n++
		}
	}
	r.unsatisfied[task.ID] = n
	if n == 0 {
		task.Status = models.TaskStatusReady
		r.ready[task.ID] = true
	} else {
		task.Status = models.TaskStatusPending
	}
	return nil
}

// RemoveTask removes a task that no other task depends on.
func (r *Resolver) RemoveTask(taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.nodes[taskID]; !ok {
		return &ConsistencyError{Op: "remove task", TaskID: taskID}
	}
	if deps := r.dependents[taskID]; len(deps) > 0 {
		return fmt.Errorf("task %s has %d dependents and cannot be removed", taskID, len(deps))
	}

	for _, depID := range r.edges[taskID] {
		kept := r.dependents[depID][:0]
		for _, id := range r.dependents[depID] {
			if id != taskID {
				kept = append(kept, id)
			}
		}
		r.dependents[depID] = kept
	}
	delete(r.nodes, taskID)
	delete(r.edges, taskID)
	delete(r.dependents, taskID)
	delete(r.unsatisfied, taskID)
	delete(r.completed, taskID)
	delete(r.ready, taskID)
	return nil
}

// ExecutionOrder returns task IDs in an order where all dependencies come
// before the tasks that depend on them.
func (r *Resolver) ExecutionOrder() ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var edges []toposort.Edge
	for id, deps := range r.edges {
		if len(deps) == 0 {
			edges = append(edges, toposort.Edge{nil, id})
			continue
		}
		for _, depID := range deps {
			edges = append(edges, toposort.Edge{depID, id})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		if cycle := findCycle(r.nodes, r.edges); cycle != nil {
			return nil, &CycleError{Path: cycle}
		}
		return nil, fmt.Errorf("topological sort: %w", err)
	}

	order := make([]string, 0, len(sorted))
	for _, v := range sorted {
		if id, ok := v.(string); ok {
			order = append(order, id)
		}
	}
	return order, nil
}

// BlockedTasks returns, for every unfinished task with incomplete
// dependencies, the IDs of the tasks blocking it.
func (r *Resolver) BlockedTasks() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	blocked := make(map[string][]string)
	for id := range r.nodes {
		if r.completed[id] {
			continue
		}
		var incomplete []string
		for _, depID := range r.edges[id] {
			if !r.completed[depID] {
				incomplete = append(incomplete, depID)
			}
		}
		if len(incomplete) > 0 {
			sort.Strings(incomplete)
			blocked[id] = incomplete
		}
	}
	return blocked
}

// DependencyDepth returns the length of the longest dependency chain below
// the given task. Tasks with no dependencies have depth 0.
func (r *Resolver) DependencyDepth(taskID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	memo := make(map[string]int)
	var depth func(id string) int
	depth = func(id string) int {
		if d, ok := memo[id]; ok {
			return d
		}
		max := 0
		for _, depID := range r.edges[id] {
			if d := 1 + depth(depID); d > max {
				max = d
			}
		}
		memo[id] = max
		return max
	}
	if _, ok := r.nodes[taskID]; !ok {
		return 0
	}
	return depth(taskID)
}

// GetTask returns the task for a given ID, or nil if not found.
func (r *Resolver) GetTask(taskID string) *models.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nodes[taskID]
}

// Size returns the number of tasks in the graph.
func (r *Resolver) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// Dependencies returns the IDs of tasks the given task depends on.
func (r *Resolver) Dependencies(taskID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.edges[taskID]...)
}

// Dependents returns the IDs of tasks that depend on the given task.
func (r *Resolver) Dependents(taskID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.dependents[taskID]...)
}

// Tasks returns all tasks in the graph. Callers must treat the tasks as
// read-only snapshots.
func (r *Resolver) Tasks() []*models.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tasks := make([]*models.Task, 0, len(r.nodes))
	for _, t := range r.nodes {
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks
}

// CountsByStatus returns the number of tasks in each status.
func (r *Resolver) CountsByStatus() map[models.TaskStatus]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[models.TaskStatus]int)
	for _, t := range r.nodes {
		counts[t.Status]++
	}
	return counts
}

// Done reports whether no task remains pending, ready, or dispatched.
func (r *Resolver) Done() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, t := range r.nodes {
		if !t.Status.Terminal() {
			return false
		}
	}
	return true
}

// findCycle runs a depth-first search with three-coloring and returns the
// first cycle found as a path (first node repeated at the end), or nil.
func findCycle(nodes map[string]*models.Task, edges map[string][]string) []string {
	// 0 = white (unvisited), 1 = gray (in progress), 2 = black (done).
	colors := make(map[string]int, len(nodes))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		colors[id] = 1
		stack = append(stack, id)

		for _, depID := range edges[id] {
			switch colors[depID] {
			case 1:
				// Back edge: slice the current path from the repeated node.
				for i, s := range stack {
					if s == depID {
						cycle := append([]string(nil), stack[i:]...)
						return append(cycle, depID)
					}
				}
			case 0:
				if cycle := visit(depID); cycle != nil {
					return cycle
				}
			}
		}

		colors[id] = 2
		stack = stack[:len(stack)-1]
		return nil
	}

	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if colors[id] == 0 {
			stack = stack[:0]
			if cycle := visit(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}
