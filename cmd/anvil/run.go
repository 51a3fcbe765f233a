package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/anvilworks/anvil/internal/config"
	"github.com/anvilworks/anvil/internal/executor"
	"github.com/anvilworks/anvil/internal/orchestrator"
	"github.com/anvilworks/anvil/internal/state"
	"github.com/anvilworks/anvil/pkg/models"
)

var (
	runDryRun    bool
	runNoDB      bool
	runMaxAgents int
	runRetries   int
	runTimeout   time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run <plan-file>",
	Short: "Execute a plan",
	Long: `Load a plan file and execute its tasks across a pool of worker agents.

Independent tasks run in parallel up to the concurrency cap. Failed tasks are
retried with backoff; tasks that exhaust their retries are recorded as
blockers for human review (see 'anvil blockers').

The run ends when every task is either completed or blocked. Press Ctrl-C to
stop early; in-flight work is cancelled.

Examples:
  anvil run plan.yaml
  anvil run plan.yaml --dry-run        # simulate without calling the API
  anvil run plan.yaml --max-agents 4`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Simulate execution without calling any worker backend")
	runCmd.Flags().BoolVar(&runNoDB, "no-db", false, "Skip state persistence")
	runCmd.Flags().IntVar(&runMaxAgents, "max-agents", 0, "Override the agent concurrency cap")
	runCmd.Flags().IntVar(&runRetries, "retries", 0, "Override the per-task retry budget")
	runCmd.Flags().DurationVar(&runTimeout, "task-timeout", 0, "Override the per-task execution timeout")
}

func runRun(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	cfg, err := config.Load(cwd)
	if err != nil {
		return err
	}
	applyRunFlags(cfg)

	plan, err := LoadPlan(args[0])
	if err != nil {
		return err
	}
	tasks, err := plan.ToTasks()
	if err != nil {
		return err
	}

	exec, err := buildExecutor(cfg)
	if err != nil {
		return err
	}

	opts := []orchestrator.Option{
		orchestrator.WithMaxConcurrency(cfg.Scheduler.MaxConcurrency),
		orchestrator.WithMaxRetries(cfg.Scheduler.MaxRetries),
		orchestrator.WithPollInterval(cfg.Scheduler.PollInterval),
		orchestrator.WithTaskTimeout(cfg.Timeouts.Task),
		orchestrator.WithIdleRetire(cfg.Timeouts.IdleRetire),
		orchestrator.WithLogger(orchestrator.NewDebugLoggerForProject(cwd)),
	}

	if !runNoDB {
		db, err := state.OpenProject(cwd)
		if err != nil {
			return fmt.Errorf("open state database: %w", err)
		}
		defer db.Close()
		opts = append(opts, orchestrator.WithStore(db), orchestrator.WithBlockers(db))
	}

	orch, err := orchestrator.New(orchestrator.RequiredConfig{Executor: exec}, opts...)
	if err != nil {
		return err
	}

	if err := orch.Submit(tasks); err != nil {
		return fmt.Errorf("invalid plan: %w", err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nstopping...")
		orch.Stop()
	}()

	var g errgroup.Group
	g.Go(func() error {
		printEvents(orch.Events())
		return nil
	})

	runErr := orch.Run(ctx)

	// Run closes the event stream; wait for the printer to drain it.
	_ = g.Wait()

	printSummary(orch)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func applyRunFlags(cfg *config.Config) {
	if runMaxAgents > 0 {
		cfg.Scheduler.MaxConcurrency = runMaxAgents
	}
	if runRetries > 0 {
		cfg.Scheduler.MaxRetries = runRetries
	}
	if runTimeout > 0 {
		cfg.Timeouts.Task = runTimeout
	}
}

func buildExecutor(cfg *config.Config) (executor.Executor, error) {
	if runDryRun {
		return &executor.StubExecutor{Delay: 200 * time.Millisecond}, nil
	}
	return executor.NewClaudeExecutor(executor.ClaudeConfig{
		APIKey: cfg.Anthropic.APIKey,
		Model:  anthropic.Model(cfg.Anthropic.Model),
	})
}

// printEvents renders the event stream until the channel closes.
func printEvents(events <-chan orchestrator.Event) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()
	dim := color.New(color.Faint).SprintFunc()

	for ev := range events {
		ts := ev.Timestamp.Format("15:04:05")
		switch ev.Type {
		case orchestrator.EventTaskCompleted:
			fmt.Printf("%s %s %s\n", dim(ts), green("✓"), ev.Message)
		case orchestrator.EventTaskBlocked:
			fmt.Printf("%s %s %s\n", dim(ts), red("✗"), ev.Message)
		case orchestrator.EventTaskFailed:
			fmt.Printf("%s %s %s\n", dim(ts), yellow("!"), ev.Message)
		case orchestrator.EventTaskAssigned, orchestrator.EventTaskUnblocked:
			fmt.Printf("%s %s %s\n", dim(ts), cyan("→"), ev.Message)
		case orchestrator.EventAgentCreated, orchestrator.EventAgentRetired:
			fmt.Printf("%s %s\n", dim(ts), dim(ev.Message))
		default:
			fmt.Printf("%s %s\n", dim(ts), ev.Message)
		}
	}
}

func printSummary(orch *orchestrator.Orchestrator) {
	st := orch.Status()
	fmt.Println()
	fmt.Printf("Done: %d completed, %d blocked\n",
		st.Tasks[models.TaskStatusCompleted], st.Tasks[models.TaskStatusBlocked])
	if st.Tasks[models.TaskStatusBlocked] > 0 {
		fmt.Println("Run 'anvil blockers' to review blocked tasks.")
	}
}
