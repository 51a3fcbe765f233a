package state

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/anvilworks/anvil/pkg/models"
)

// SaveTask inserts or updates a task row.
func (db *DB) SaveTask(t *models.Task) error {
	var completedAt any
	if t.CompletedAt != nil {
		completedAt = formatTime(*t.CompletedAt)
	}

	_, err := db.Exec(`
		INSERT INTO tasks (id, title, description, capability, depends_on, status,
			priority, retry_count, assigned_agent, blocked_reason, error, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			capability = excluded.capability,
			depends_on = excluded.depends_on,
			status = excluded.status,
			priority = excluded.priority,
			retry_count = excluded.retry_count,
			assigned_agent = excluded.assigned_agent,
			blocked_reason = excluded.blocked_reason,
			error = excluded.error,
			completed_at = excluded.completed_at
	`, t.ID, t.Title, t.Description, string(t.Capability), strings.Join(t.DependsOn, ","),
		string(t.Status), t.Priority, t.RetryCount, t.AssignedAgent, t.BlockedReason,
		t.Error, formatTime(t.CreatedAt), completedAt)
	if err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return nil
}

// UpdateTaskStatus persists a status transition for a task.
func (db *DB) UpdateTaskStatus(taskID string, status models.TaskStatus) error {
	res, err := db.Exec(`UPDATE tasks SET status = ? WHERE id = ?`, string(status), taskID)
	if err != nil {
		return fmt.Errorf("update task %s status: %w", taskID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task %s status: %w", taskID, err)
	}
	if n == 0 {
		return fmt.Errorf("update task %s status: task not found", taskID)
	}
	return nil
}

// GetTask retrieves a task by ID. Returns sql.ErrNoRows if not found.
func (db *DB) GetTask(taskID string) (*models.Task, error) {
	row := db.QueryRow(`
		SELECT id, title, description, capability, depends_on, status,
			priority, retry_count, assigned_agent, blocked_reason, error, created_at, completed_at
		FROM tasks WHERE id = ?
	`, taskID)
	return scanTask(row)
}

// ListTasks returns all tasks ordered by creation time.
func (db *DB) ListTasks() ([]models.Task, error) {
	rows, err := db.Query(`
		SELECT id, title, description, capability, depends_on, status,
			priority, retry_count, assigned_agent, blocked_reason, error, created_at, completed_at
		FROM tasks ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		t, err := scanTaskRows(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func scanTask(row *sql.Row) (*models.Task, error) {
	var t models.Task
	var capability, status, dependsOn, createdAt string
	var description, assignedAgent, blockedReason, taskErr sql.NullString
	var completedAt sql.NullString

	err := row.Scan(&t.ID, &t.Title, &description, &capability, &dependsOn, &status,
		&t.Priority, &t.RetryCount, &assignedAgent, &blockedReason, &taskErr,
		&createdAt, &completedAt)
	if err != nil {
		return nil, err
	}
	return fillTask(&t, description, capability, dependsOn, status, assignedAgent,
		blockedReason, taskErr, createdAt, completedAt)
}

func scanTaskRows(rows *sql.Rows) (*models.Task, error) {
	var t models.Task
	var capability, status, dependsOn, createdAt string
	var description, assignedAgent, blockedReason, taskErr sql.NullString
	var completedAt sql.NullString

	err := rows.Scan(&t.ID, &t.Title, &description, &capability, &dependsOn, &status,
		&t.Priority, &t.RetryCount, &assignedAgent, &blockedReason, &taskErr,
		&createdAt, &completedAt)
	if err != nil {
		return nil, err
	}
	return fillTask(&t, description, capability, dependsOn, status, assignedAgent,
		blockedReason, taskErr, createdAt, completedAt)
}

func fillTask(t *models.Task, description sql.NullString, capability, dependsOn, status string,
	assignedAgent, blockedReason, taskErr sql.NullString, createdAt string, completedAt sql.NullString) (*models.Task, error) {
	t.Description = description.String
	t.Capability = models.Capability(capability)
	t.Status = models.TaskStatus(status)
	t.AssignedAgent = assignedAgent.String
	t.BlockedReason = blockedReason.String
	t.Error = taskErr.String
	if dependsOn != "" {
		t.DependsOn = strings.Split(dependsOn, ",")
	}

	created, err := parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse task %s created_at: %w", t.ID, err)
	}
	t.CreatedAt = created
	t.CompletedAt = parseNullableTime(completedAt)
	return t, nil
}
