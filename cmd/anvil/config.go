package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/anvilworks/anvil/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show effective configuration",
	Long: `Display the configuration anvil would use, after merging defaults,
the global config file, project overrides, and environment variables.

Global configuration lives at ` + "`~/.config/anvil/config.yaml`" + `.
Project overrides go in ` + "`.anvil/config.yaml`" + `.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("get working directory: %w", err)
		}
		cfg, err := config.Load(cwd)
		if err != nil {
			return err
		}

		apiKey := "(not set)"
		if cfg.Anthropic.APIKey != "" {
			apiKey = "****"
		}

		fmt.Printf("anthropic.api_key:          %s\n", apiKey)
		fmt.Printf("anthropic.model:            %s\n", cfg.Anthropic.Model)
		fmt.Printf("scheduler.max_concurrency:  %d\n", cfg.Scheduler.MaxConcurrency)
		fmt.Printf("scheduler.max_retries:      %d\n", cfg.Scheduler.MaxRetries)
		fmt.Printf("scheduler.poll_interval:    %s\n", cfg.Scheduler.PollInterval)
		fmt.Printf("timeouts.task:              %s\n", cfg.Timeouts.Task)
		fmt.Printf("timeouts.idle_retire:       %s\n", cfg.Timeouts.IdleRetire)
		fmt.Printf("\nconfig file: %s\n", filepath.Join(config.ConfigDir(), "config.yaml"))
		return nil
	},
}
