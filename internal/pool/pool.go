// Package pool bounds agent concurrency and reuses worker agent handles.
package pool

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/anvilworks/anvil/pkg/models"
)

// DefaultMaxConcurrency is the default global cap on live agents.
const DefaultMaxConcurrency = 10

// ErrPoolExhausted indicates the pool is at capacity. This is a transient
// condition: the caller retries on a later tick once an agent is released.
var ErrPoolExhausted = errors.New("agent pool exhausted")

// UnknownAgentError indicates an operation referenced an agent the pool does
// not know about, which signals a scheduler bug.
type UnknownAgentError struct {
	Op      string
	AgentID string
}

// Error describes the failed operation and offending ID.
func (e *UnknownAgentError) Error() string {
	return fmt.Sprintf("internal consistency error: %s on unknown agent %s", e.Op, e.AgentID)
}

// CapabilityStatus holds idle/busy counts for one capability.
type CapabilityStatus struct {
	Idle int `json:"idle"`
	Busy int `json:"busy"`
}

// Status is an observability snapshot of the pool.
type Status struct {
	MaxConcurrency int                                   `json:"max_concurrency"`
	TotalIdle      int                                   `json:"total_idle"`
	TotalBusy      int                                   `json:"total_busy"`
	ByCapability   map[models.Capability]CapabilityStatus `json:"by_capability"`
}

// Manager owns a bounded set of reusable agents keyed by capability.
// Idle agents are reused before new ones are created; creation is lazy and
// the idle+busy total never exceeds the configured cap. All mutation happens
// from the coordination loop, so there is no concurrent acquirer; the mutex
// only guards read snapshots taken by observers.
type Manager struct {
	mu sync.RWMutex
	// max is the global cap across all capabilities.
	max int
	// agents maps agent ID to the agent handle.
	agents map[string]*models.Agent
	// seq numbers created agents per capability for readable IDs.
	seq map[models.Capability]int
}

// NewManager creates a Manager with the given global concurrency cap.
// A cap of zero or less falls back to DefaultMaxConcurrency.
func NewManager(maxConcurrency int) *Manager {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	return &Manager{
		max:    maxConcurrency,
		agents: make(map[string]*models.Agent),
		seq:    make(map[models.Capability]int),
	}
}

// Acquire returns an agent of the given capability bound to the given task,
// reusing an idle agent when one exists and creating one otherwise. The
// returned bool is true when a new agent was created. Fails with
// ErrPoolExhausted when the pool is at capacity.
func (m *Manager) Acquire(capability models.Capability, taskID string) (models.Agent, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !capability.Valid() {
		return models.Agent{}, false, fmt.Errorf("unknown capability %q", capability)
	}

	// Prefer an idle agent of matching capability. Iterate in ID order so
	// reuse is deterministic.
	for _, id := range m.sortedIDs() {
		a := m.agents[id]
		if a.Capability == capability && a.Status == models.AgentStatusIdle {
			a.Status = models.AgentStatusBusy
			a.CurrentTaskID = taskID
			a.LastActiveAt = time.Now()
			return *a, false, nil
		}
	}

	if len(m.agents) >= m.max {
		return models.Agent{}, false, ErrPoolExhausted
	}

	m.seq[capability]++
	now := time.Now()
	a := &models.Agent{
		ID:            fmt.Sprintf("%s-worker-%03d", capability, m.seq[capability]),
		Capability:    capability,
		Status:        models.AgentStatusBusy,
		CurrentTaskID: taskID,
		CreatedAt:     now,
		LastActiveAt:  now,
	}
	m.agents[a.ID] = a
	return *a, true, nil
}

// Release returns an agent to the idle set after an execution attempt.
// TasksCompleted is incremented only on success.
func (m *Manager) Release(agentID string, success bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.agents[agentID]
	if !ok {
		return &UnknownAgentError{Op: "release", AgentID: agentID}
	}
	a.Status = models.AgentStatusIdle
	a.CurrentTaskID = ""
	a.LastActiveAt = time.Now()
	if success {
		a.TasksCompleted++
	}
	return nil
}

// RetireIdle destroys idle agents that have been unused for longer than
// idleTimeout and returns the retired agents so the caller can emit a
// notification per agent. Busy agents are never retired.
func (m *Manager) RetireIdle(idleTimeout time.Duration) []models.Agent {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-idleTimeout)
	var retired []models.Agent
	for _, id := range m.sortedIDs() {
		a := m.agents[id]
		if a.Status != models.AgentStatusIdle || a.LastActiveAt.After(cutoff) {
			continue
		}
		a.Status = models.AgentStatusRetiring
		retired = append(retired, *a)
		delete(m.agents, id)
	}
	return retired
}

// Teardown removes every agent from the pool and returns them.
func (m *Manager) Teardown() []models.Agent {
	m.mu.Lock()
	defer m.mu.Unlock()

	var all []models.Agent
	for _, id := range m.sortedIDs() {
		a := m.agents[id]
		a.Status = models.AgentStatusRetiring
		all = append(all, *a)
		delete(m.agents, id)
	}
	return all
}

// Get returns a copy of the agent with the given ID.
func (m *Manager) Get(agentID string) (models.Agent, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.agents[agentID]
	if !ok {
		return models.Agent{}, false
	}
	return *a, true
}

// Size returns the number of live agents (idle plus busy).
func (m *Manager) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.agents)
}

// Agents returns copies of all live agents ordered by ID.
func (m *Manager) Agents() []models.Agent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agents := make([]models.Agent, 0, len(m.agents))
	for _, id := range m.sortedIDs() {
		agents = append(agents, *m.agents[id])
	}
	return agents
}

// Status returns idle/busy counts per capability.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Status{
		MaxConcurrency: m.max,
		ByCapability:   make(map[models.Capability]CapabilityStatus),
	}
	for _, a := range m.agents {
		cs := st.ByCapability[a.Capability]
		switch a.Status {
		case models.AgentStatusIdle:
			cs.Idle++
			st.TotalIdle++
		case models.AgentStatusBusy:
			cs.Busy++
			st.TotalBusy++
		}
		st.ByCapability[a.Capability] = cs
	}
	return st
}

// sortedIDs returns agent IDs in stable order. Caller must hold m.mu.
func (m *Manager) sortedIDs() []string {
	ids := make([]string, 0, len(m.agents))
	for id := range m.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
