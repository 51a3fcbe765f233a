package state

import (
	"io"

	"github.com/anvilworks/anvil/internal/blocker"
	"github.com/anvilworks/anvil/pkg/models"
)

// TaskStore handles task-related persistence operations.
type TaskStore interface {
	SaveTask(t *models.Task) error
	UpdateTaskStatus(taskID string, status models.TaskStatus) error
	GetTask(taskID string) (*models.Task, error)
	ListTasks() ([]models.Task, error)
}

// AgentStore handles agent-related persistence operations.
type AgentStore interface {
	SaveAgent(a *models.Agent) error
	DeleteAgent(agentID string) error
	ListAgents() ([]models.Agent, error)
}

// Migrator handles database schema migrations.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// Store defines the interface for state persistence.
// This lets the coordination loop work with any backend without depending on
// the concrete SQLite implementation.
type Store interface {
	io.Closer
	Migrator
	TaskStore
	AgentStore
	blocker.Service
}

// Compile-time verification that DB implements all interfaces.
var (
	_ Store           = (*DB)(nil)
	_ Migrator        = (*DB)(nil)
	_ TaskStore       = (*DB)(nil)
	_ AgentStore      = (*DB)(nil)
	_ blocker.Service = (*DB)(nil)
)
