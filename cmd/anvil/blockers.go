package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/anvilworks/anvil/internal/state"
	"github.com/anvilworks/anvil/pkg/models"
)

var blockersCmd = &cobra.Command{
	Use:   "blockers",
	Short: "List open blockers",
	Long: `List tasks that exhausted their retries and are waiting for a human.

Resolve a blocker once the underlying problem is fixed; the task gets a fresh
retry budget on the next run:
  anvil blockers resolve <blocker-id>`,
	RunE: runBlockersList,
}

var blockersResolveCmd = &cobra.Command{
	Use:   "resolve <blocker-id>",
	Short: "Resolve a blocker and requeue its task",
	Args:  cobra.ExactArgs(1),
	RunE:  runBlockersResolve,
}

func init() {
	blockersCmd.AddCommand(blockersResolveCmd)
}

func openProjectDB() (*state.DB, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}
	dbPath := state.ProjectDBPath(cwd)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("no run state found, run 'anvil run <plan>' first")
	}
	db, err := state.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

func runBlockersList(cmd *cobra.Command, args []string) error {
	db, err := openProjectDB()
	if err != nil {
		return err
	}
	defer db.Close()

	blockers, err := db.ListOpenBlockers()
	if err != nil {
		return fmt.Errorf("list blockers: %w", err)
	}
	if len(blockers) == 0 {
		fmt.Println("No open blockers.")
		return nil
	}

	red := color.New(color.FgRed).SprintFunc()
	dim := color.New(color.Faint).SprintFunc()

	fmt.Printf("%d open blocker(s):\n\n", len(blockers))
	for _, b := range blockers {
		fmt.Printf("%s %s  task %s\n", red("✗"), b.ID, b.TaskID)
		fmt.Printf("  %s\n", b.Reason)
		if b.Details != "" && b.Details != b.Reason {
			fmt.Printf("  %s\n", dim(b.Details))
		}
		fmt.Printf("  %s\n\n", dim("raised "+b.CreatedAt.Format("2006-01-02 15:04:05")))
	}
	fmt.Println("Resolve with: anvil blockers resolve <blocker-id>")
	return nil
}

func runBlockersResolve(cmd *cobra.Command, args []string) error {
	db, err := openProjectDB()
	if err != nil {
		return err
	}
	defer db.Close()

	blockerID := args[0]
	blockers, err := db.ListOpenBlockers()
	if err != nil {
		return fmt.Errorf("list blockers: %w", err)
	}

	taskID := ""
	for _, b := range blockers {
		if b.ID == blockerID {
			taskID = b.TaskID
			break
		}
	}
	if taskID == "" {
		return fmt.Errorf("no open blocker with id %s", blockerID)
	}

	if err := db.ResolveBlocker(blockerID); err != nil {
		return err
	}

	// Give the task a fresh retry budget so the next run schedules it again.
	task, err := db.GetTask(taskID)
	if err != nil {
		return fmt.Errorf("load task %s: %w", taskID, err)
	}
	if task != nil {
		task.Status = models.TaskStatusPending
		task.RetryCount = 0
		task.BlockedReason = ""
		task.Error = ""
		task.AssignedAgent = ""
		if err := db.SaveTask(task); err != nil {
			return fmt.Errorf("update task %s: %w", taskID, err)
		}
	}

	green := color.New(color.FgGreen).SprintFunc()
	fmt.Printf("%s blocker %s resolved, task %s requeued\n", green("✓"), blockerID, taskID)
	return nil
}
