package state

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/anvilworks/anvil/pkg/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)
	// Running migrations twice must not fail or duplicate schema.
	if err := db.Migrate(); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
}

func TestProjectDBPath(t *testing.T) {
	got := ProjectDBPath("/tmp/proj")
	want := filepath.Join("/tmp/proj", ".anvil", "state.db")
	if got != want {
		t.Errorf("ProjectDBPath = %q, want %q", got, want)
	}
}

func TestSaveAndGetTask(t *testing.T) {
	db := testDB(t)

	now := time.Now().UTC().Truncate(time.Second)
	done := now.Add(time.Minute)
	task := &models.Task{
		ID:          "task-1",
		Title:       "Build API",
		Description: "implement endpoints",
		Capability:  models.CapabilityBackend,
		DependsOn:   []string{"schema", "auth"},
		Status:      models.TaskStatusCompleted,
		Priority:    2,
		RetryCount:  1,
		CreatedAt:   now,
		CompletedAt: &done,
	}
	if err := db.SaveTask(task); err != nil {
		t.Fatalf("save task: %v", err)
	}

	got, err := db.GetTask("task-1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Title != task.Title || got.Description != task.Description {
		t.Errorf("round-trip mismatch: %+v", got)
	}
	if got.Capability != models.CapabilityBackend || got.Status != models.TaskStatusCompleted {
		t.Errorf("round-trip mismatch: %s %s", got.Capability, got.Status)
	}
	if len(got.DependsOn) != 2 || got.DependsOn[0] != "schema" {
		t.Errorf("depends_on mismatch: %v", got.DependsOn)
	}
	if got.RetryCount != 1 || got.Priority != 2 {
		t.Errorf("counters mismatch: %+v", got)
	}
	if !got.CreatedAt.Equal(now) {
		t.Errorf("created_at mismatch: %v != %v", got.CreatedAt, now)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(done) {
		t.Errorf("completed_at mismatch: %v", got.CompletedAt)
	}
}

func TestSaveTaskUpsert(t *testing.T) {
	db := testDB(t)

	task := &models.Task{
		ID:         "task-1",
		Title:      "Build API",
		Capability: models.CapabilityBackend,
		Status:     models.TaskStatusPending,
		CreatedAt:  time.Now(),
	}
	if err := db.SaveTask(task); err != nil {
		t.Fatalf("save task: %v", err)
	}

	task.Status = models.TaskStatusDispatched
	task.AssignedAgent = "backend-worker-001"
	if err := db.SaveTask(task); err != nil {
		t.Fatalf("upsert task: %v", err)
	}

	got, err := db.GetTask("task-1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Status != models.TaskStatusDispatched || got.AssignedAgent != "backend-worker-001" {
		t.Errorf("upsert not applied: %s %q", got.Status, got.AssignedAgent)
	}

	tasks, err := db.ListTasks()
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Errorf("upsert created a duplicate row: %d tasks", len(tasks))
	}
}

func TestGetTaskNotFound(t *testing.T) {
	db := testDB(t)
	_, err := db.GetTask("ghost")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestUpdateTaskStatus(t *testing.T) {
	db := testDB(t)

	task := &models.Task{
		ID:         "task-1",
		Title:      "t",
		Capability: models.CapabilityTest,
		Status:     models.TaskStatusPending,
		CreatedAt:  time.Now(),
	}
	if err := db.SaveTask(task); err != nil {
		t.Fatalf("save task: %v", err)
	}

	if err := db.UpdateTaskStatus("task-1", models.TaskStatusReady); err != nil {
		t.Fatalf("update status: %v", err)
	}
	got, _ := db.GetTask("task-1")
	if got.Status != models.TaskStatusReady {
		t.Errorf("expected ready, got %s", got.Status)
	}

	if err := db.UpdateTaskStatus("ghost", models.TaskStatusReady); err == nil {
		t.Error("expected error for unknown task")
	}
}

func TestAgentRoundTrip(t *testing.T) {
	db := testDB(t)

	now := time.Now().UTC().Truncate(time.Second)
	agent := &models.Agent{
		ID:             "backend-worker-001",
		Capability:     models.CapabilityBackend,
		Status:         models.AgentStatusBusy,
		CurrentTaskID:  "task-1",
		TasksCompleted: 3,
		CreatedAt:      now,
		LastActiveAt:   now,
	}
	if err := db.SaveAgent(agent); err != nil {
		t.Fatalf("save agent: %v", err)
	}

	agents, err := db.ListAgents()
	if err != nil {
		t.Fatalf("list agents: %v", err)
	}
	if len(agents) != 1 {
		t.Fatalf("expected 1 agent, got %d", len(agents))
	}
	got := agents[0]
	if got.ID != agent.ID || got.Status != models.AgentStatusBusy || got.CurrentTaskID != "task-1" {
		t.Errorf("round-trip mismatch: %+v", got)
	}
	if got.TasksCompleted != 3 {
		t.Errorf("tasks_completed mismatch: %d", got.TasksCompleted)
	}

	if err := db.DeleteAgent("backend-worker-001"); err != nil {
		t.Fatalf("delete agent: %v", err)
	}
	agents, _ = db.ListAgents()
	if len(agents) != 0 {
		t.Errorf("expected no agents after delete, got %d", len(agents))
	}
}

func TestBlockerLifecycle(t *testing.T) {
	db := testDB(t)

	b, err := db.CreateBlocker("task-1", "failed after 3 attempts", "connection refused")
	if err != nil {
		t.Fatalf("create blocker: %v", err)
	}
	if b.ID == "" || b.Status != "open" {
		t.Fatalf("unexpected blocker: %+v", b)
	}

	second, err := db.CreateBlocker("task-2", "gate failed", "")
	if err != nil {
		t.Fatalf("create blocker: %v", err)
	}

	open, err := db.ListOpenBlockers()
	if err != nil {
		t.Fatalf("list blockers: %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("expected 2 open blockers, got %d", len(open))
	}

	if err := db.ResolveBlocker(b.ID); err != nil {
		t.Fatalf("resolve blocker: %v", err)
	}
	open, _ = db.ListOpenBlockers()
	if len(open) != 1 || open[0].ID != second.ID {
		t.Errorf("expected only the second blocker open, got %v", open)
	}

	// Resolving twice is an error: the blocker is no longer open.
	if err := db.ResolveBlocker(b.ID); err == nil {
		t.Error("expected error resolving a resolved blocker")
	}
	if err := db.ResolveBlocker("ghost"); err == nil {
		t.Error("expected error resolving unknown blocker")
	}
}
