package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/anvilworks/anvil/internal/graph"
	"github.com/anvilworks/anvil/pkg/models"
)

// Plan is the YAML file format describing a set of tasks to run.
type Plan struct {
	Name  string     `yaml:"name"`
	Tasks []PlanTask `yaml:"tasks"`
}

// PlanTask is one task entry in a plan file.
type PlanTask struct {
	ID          string   `yaml:"id"`
	Title       string   `yaml:"title"`
	Description string   `yaml:"description"`
	Capability  string   `yaml:"capability"`
	Priority    int      `yaml:"priority"`
	DependsOn   []string `yaml:"depends_on"`
}

// LoadPlan reads and parses a plan file.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}

	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("parse plan %s: %w", path, err)
	}
	if len(plan.Tasks) == 0 {
		return nil, fmt.Errorf("plan %s contains no tasks", path)
	}
	return &plan, nil
}

// ToTasks converts plan entries to scheduler tasks. Entries without an ID get
// a generated one; entries without a capability default to backend.
func (p *Plan) ToTasks() ([]*models.Task, error) {
	tasks := make([]*models.Task, 0, len(p.Tasks))
	for i, pt := range p.Tasks {
		if pt.Title == "" {
			return nil, fmt.Errorf("task %d has no title", i+1)
		}
		id := pt.ID
		if id == "" {
			id = uuid.New().String()[:8]
		}
		capability := models.Capability(pt.Capability)
		if pt.Capability == "" {
			capability = models.CapabilityBackend
		}
		if !capability.Valid() {
			return nil, fmt.Errorf("task %s: unknown capability %q (want one of %s)",
				id, pt.Capability, capabilityNames())
		}
		tasks = append(tasks, &models.Task{
			ID:          id,
			Title:       pt.Title,
			Description: pt.Description,
			Capability:  capability,
			Priority:    pt.Priority,
			DependsOn:   pt.DependsOn,
			Status:      models.TaskStatusPending,
		})
	}
	return tasks, nil
}

func capabilityNames() string {
	caps := models.Capabilities()
	names := make([]string, len(caps))
	for i, c := range caps {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}

var planCmd = &cobra.Command{
	Use:   "plan <file>",
	Short: "Validate a plan and show its execution order",
	Long: `Parse a plan file, validate its dependency graph, and print the
order tasks would execute in.

Validation catches unknown dependencies and circular dependencies before any
agent is started. The printed order groups tasks by dependency depth; tasks
at the same depth can run in parallel.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

func runPlan(cmd *cobra.Command, args []string) error {
	plan, err := LoadPlan(args[0])
	if err != nil {
		return err
	}
	tasks, err := plan.ToTasks()
	if err != nil {
		return err
	}

	resolver := graph.New()
	if err := resolver.Build(tasks); err != nil {
		return fmt.Errorf("invalid plan: %w", err)
	}

	order, err := resolver.ExecutionOrder()
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen).SprintFunc()
	bold := color.New(color.Bold).SprintFunc()

	name := plan.Name
	if name == "" {
		name = args[0]
	}
	fmt.Printf("%s %s (%d tasks)\n\n", green("✓"), bold(name), len(tasks))

	for _, id := range order {
		task := resolver.GetTask(id)
		depth := resolver.DependencyDepth(id)
		indent := strings.Repeat("  ", depth)
		deps := ""
		if len(task.DependsOn) > 0 {
			deps = fmt.Sprintf(" (after %s)", strings.Join(task.DependsOn, ", "))
		}
		fmt.Printf("%s%s [%s] %s%s\n", indent, id, task.Capability, task.Title, deps)
	}
	return nil
}
