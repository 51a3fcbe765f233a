package executor

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/anvilworks/anvil/pkg/models"
)

// systemPrompts maps each capability to the worker persona sent as the
// system prompt.
var systemPrompts = map[models.Capability]string{
	models.CapabilityBackend:  "You are a backend engineer. Implement the requested server-side change and describe the result concisely.",
	models.CapabilityFrontend: "You are a frontend engineer. Implement the requested UI change and describe the result concisely.",
	models.CapabilityTest:     "You are a test engineer. Write or harden the requested tests and describe the result concisely.",
	models.CapabilityReview:   "You are a code reviewer. Review the described change and report findings concisely.",
}

// ClaudeConfig contains configuration for the Claude-backed executor.
type ClaudeConfig struct {
	// APIKey is the Anthropic API key. If empty, uses ANTHROPIC_API_KEY.
	APIKey string
	// Model is the Claude model to use.
	Model anthropic.Model
	// MaxTokens bounds the response size.
	MaxTokens int64
}

// ClaudeExecutor executes tasks by sending them to the Anthropic API with a
// capability-specific persona.
type ClaudeExecutor struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewClaudeExecutor creates a Claude-backed executor.
func NewClaudeExecutor(cfg ClaudeConfig) (*ClaudeExecutor, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
	}

	model := cfg.Model
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	return &ClaudeExecutor{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

// ExecuteTask sends the task to the API and returns the worker's output.
// A failed API call is reported as a failed attempt, not an error: the
// scheduler's retry budget covers transient API failures.
func (e *ClaudeExecutor) ExecuteTask(ctx context.Context, task *models.Task) (*models.Result, error) {
	start := time.Now()
	result := &models.Result{
		TaskID:  task.ID,
		AgentID: task.AssignedAgent,
	}

	system := systemPrompts[task.Capability]
	if system == "" {
		result.Error = fmt.Sprintf("no worker persona for capability %q", task.Capability)
		result.Duration = time.Since(start)
		return result, nil
	}

	resp, err := e.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     e.model,
		MaxTokens: e.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(task))),
		},
	})
	result.Duration = time.Since(start)
	if err != nil {
		result.Error = fmt.Sprintf("anthropic api: %v", err)
		return result, nil
	}

	var out strings.Builder
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			out.WriteString(variant.Text)
		}
	}

	result.Success = true
	result.Output = out.String()
	return result, nil
}

// buildPrompt renders the task into the user message.
func buildPrompt(task *models.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", task.Title)
	if task.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", task.Description)
	}
	if task.RetryCount > 0 {
		fmt.Fprintf(&b, "\nThis is attempt %d. Previous attempt failed with: %s\n",
			task.RetryCount+1, task.Error)
	}
	return b.String()
}
