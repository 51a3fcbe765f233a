package state

import (
	"fmt"

	"github.com/anvilworks/anvil/pkg/models"
)

// SaveAgent inserts or updates an agent row.
func (db *DB) SaveAgent(a *models.Agent) error {
	_, err := db.Exec(`
		INSERT INTO agents (id, capability, status, current_task_id, tasks_completed, created_at, last_active_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			current_task_id = excluded.current_task_id,
			tasks_completed = excluded.tasks_completed,
			last_active_at = excluded.last_active_at
	`, a.ID, string(a.Capability), string(a.Status), a.CurrentTaskID,
		a.TasksCompleted, formatTime(a.CreatedAt), formatTime(a.LastActiveAt))
	if err != nil {
		return fmt.Errorf("save agent %s: %w", a.ID, err)
	}
	return nil
}

// DeleteAgent removes a retired agent row.
func (db *DB) DeleteAgent(agentID string) error {
	if _, err := db.Exec(`DELETE FROM agents WHERE id = ?`, agentID); err != nil {
		return fmt.Errorf("delete agent %s: %w", agentID, err)
	}
	return nil
}

// ListAgents returns all agent rows ordered by ID.
func (db *DB) ListAgents() ([]models.Agent, error) {
	rows, err := db.Query(`
		SELECT id, capability, status, current_task_id, tasks_completed, created_at, last_active_at
		FROM agents ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []models.Agent
	for rows.Next() {
		var a models.Agent
		var capability, status, createdAt, lastActiveAt string
		var currentTaskID string
		if err := rows.Scan(&a.ID, &capability, &status, &currentTaskID,
			&a.TasksCompleted, &createdAt, &lastActiveAt); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		a.Capability = models.Capability(capability)
		a.Status = models.AgentStatus(status)
		a.CurrentTaskID = currentTaskID
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parse agent %s created_at: %w", a.ID, err)
		}
		if a.LastActiveAt, err = parseTime(lastActiveAt); err != nil {
			return nil, fmt.Errorf("parse agent %s last_active_at: %w", a.ID, err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}
