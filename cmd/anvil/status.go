package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/anvilworks/anvil/internal/state"
	"github.com/anvilworks/anvil/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show persisted run state",
	Long: `Display the state of the most recent run from the project database.

Shows:
  - Task counts by status
  - Blocked tasks with their reasons
  - Live agents and their assignments`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	dbPath := state.ProjectDBPath(cwd)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No run state found. Run 'anvil run <plan>' to start.")
		return nil
	}

	db, err := state.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	tasks, err := db.ListTasks()
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	if len(tasks) == 0 {
		fmt.Println("No run state found. Run 'anvil run <plan>' to start.")
		return nil
	}

	displayTasks(tasks)

	agents, err := db.ListAgents()
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}
	displayActiveAgents(agents)

	blockers, err := db.ListOpenBlockers()
	if err != nil {
		return fmt.Errorf("list blockers: %w", err)
	}
	if len(blockers) > 0 {
		fmt.Printf("\nOpen blockers: %d (see 'anvil blockers')\n", len(blockers))
	}
	return nil
}

func displayTasks(tasks []models.Task) {
	counts := make(map[models.TaskStatus]int)
	for _, t := range tasks {
		counts[t.Status]++
	}

	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	fmt.Printf("Tasks: %d total\n", len(tasks))
	fmt.Printf("  %s %d completed\n", green("✓"), counts[models.TaskStatusCompleted])
	if n := counts[models.TaskStatusDispatched]; n > 0 {
		fmt.Printf("  %s %d running\n", yellow("→"), n)
	}
	if n := counts[models.TaskStatusReady] + counts[models.TaskStatusFailedRetryable]; n > 0 {
		fmt.Printf("    %d queued\n", n)
	}
	if n := counts[models.TaskStatusPending]; n > 0 {
		fmt.Printf("    %d waiting on dependencies\n", n)
	}
	if n := counts[models.TaskStatusBlocked]; n > 0 {
		fmt.Printf("  %s %d blocked\n", red("✗"), n)
	}

	var blocked []models.Task
	for _, t := range tasks {
		if t.Status == models.TaskStatusBlocked {
			blocked = append(blocked, t)
		}
	}
	if len(blocked) > 0 {
		fmt.Println("\nBlocked tasks:")
		for _, t := range blocked {
			fmt.Printf("  %s: %q\n    %s\n", t.ID, t.Title, t.BlockedReason)
		}
	}
}

func displayActiveAgents(agents []models.Agent) {
	if len(agents) == 0 {
		return
	}

	fmt.Printf("\nAgents: %d\n", len(agents))
	for _, a := range agents {
		assignment := "idle"
		if a.CurrentTaskID != "" {
			assignment = fmt.Sprintf("task %s (%s)", a.CurrentTaskID, formatAge(time.Since(a.LastActiveAt)))
		}
		fmt.Printf("  %s: %s, %d completed\n", a.ID, assignment, a.TasksCompleted)
	}
}

// formatAge formats a duration in a compact human-readable way.
func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
}
