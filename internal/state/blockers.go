package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/anvilworks/anvil/internal/blocker"
)

// CreateBlocker records a new open blocker for a task.
func (db *DB) CreateBlocker(taskID, reason, details string) (*blocker.Blocker, error) {
	b := &blocker.Blocker{
		ID:        uuid.New().String()[:8],
		TaskID:    taskID,
		Reason:    reason,
		Details:   details,
		Status:    blocker.StatusOpen,
		CreatedAt: time.Now(),
	}

	_, err := db.Exec(`
		INSERT INTO blockers (id, task_id, reason, details, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, b.ID, b.TaskID, b.Reason, b.Details, string(b.Status), formatTime(b.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("create blocker for task %s: %w", taskID, err)
	}
	return b, nil
}

// ResolveBlocker marks a blocker resolved.
func (db *DB) ResolveBlocker(id string) error {
	res, err := db.Exec(`
		UPDATE blockers SET status = ?, resolved_at = ? WHERE id = ? AND status = ?
	`, string(blocker.StatusResolved), formatTime(time.Now()), id, string(blocker.StatusOpen))
	if err != nil {
		return fmt.Errorf("resolve blocker %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve blocker %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("resolve blocker %s: no open blocker found", id)
	}
	return nil
}

// ListOpenBlockers returns all open blockers, newest first.
func (db *DB) ListOpenBlockers() ([]blocker.Blocker, error) {
	rows, err := db.Query(`
		SELECT id, task_id, reason, details, status, created_at, resolved_at
		FROM blockers WHERE status = ? ORDER BY created_at DESC
	`, string(blocker.StatusOpen))
	if err != nil {
		return nil, fmt.Errorf("list open blockers: %w", err)
	}
	defer rows.Close()

	var blockers []blocker.Blocker
	for rows.Next() {
		var b blocker.Blocker
		var details sql.NullString
		var status, createdAt string
		var resolvedAt sql.NullString
		if err := rows.Scan(&b.ID, &b.TaskID, &b.Reason, &details, &status, &createdAt, &resolvedAt); err != nil {
			return nil, fmt.Errorf("scan blocker: %w", err)
		}
		b.Details = details.String
		b.Status = blocker.Status(status)
		if b.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parse blocker %s created_at: %w", b.ID, err)
		}
		b.ResolvedAt = parseNullableTime(resolvedAt)
		blockers = append(blockers, b)
	}
	return blockers, rows.Err()
}
