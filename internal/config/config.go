// Package config handles configuration loading for anvil.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for anvil.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Timeouts  TimeoutsConfig  `mapstructure:"timeouts"`
}

// AnthropicConfig holds Anthropic API settings for the Claude executor.
type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// SchedulerConfig holds coordination loop settings.
type SchedulerConfig struct {
	// MaxConcurrency is the global cap on live agents across capabilities.
	MaxConcurrency int `mapstructure:"max_concurrency"`
	// MaxRetries is the retryable-failure budget per task.
	MaxRetries int `mapstructure:"max_retries"`
	// PollInterval is the idle wait between scheduling ticks.
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// TimeoutsConfig holds timeout settings.
type TimeoutsConfig struct {
	// Task bounds a single dispatched execution.
	Task time.Duration `mapstructure:"task"`
	// IdleRetire is how long an agent may sit idle before retirement.
	IdleRetire time.Duration `mapstructure:"idle_retire"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Anthropic: AnthropicConfig{
			Model: "claude-sonnet-4-20250514",
		},
		Scheduler: SchedulerConfig{
			MaxConcurrency: 10,
			MaxRetries:     3,
			PollInterval:   100 * time.Millisecond,
		},
		Timeouts: TimeoutsConfig{
			Task:       15 * time.Minute,
			IdleRetire: 10 * time.Minute,
		},
	}
}

// ConfigDir returns the XDG config directory for anvil.
func ConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "anvil")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "anvil")
}

// Load reads configuration, merging (in increasing precedence):
// built-in defaults, the XDG config file, a project-local .anvil/config.yaml,
// and ANVIL_* environment variables.
func Load(projectRoot string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	def := Defaults()
	v.SetDefault("anthropic.model", def.Anthropic.Model)
	v.SetDefault("scheduler.max_concurrency", def.Scheduler.MaxConcurrency)
	v.SetDefault("scheduler.max_retries", def.Scheduler.MaxRetries)
	v.SetDefault("scheduler.poll_interval", def.Scheduler.PollInterval)
	v.SetDefault("timeouts.task", def.Timeouts.Task)
	v.SetDefault("timeouts.idle_retire", def.Timeouts.IdleRetire)

	v.SetEnvPrefix("ANVIL")
	v.AutomaticEnv()
	_ = v.BindEnv("anthropic.api_key", "ANVIL_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")

	globalPath := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(globalPath); err == nil {
		v.SetConfigFile(globalPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", globalPath, err)
		}
	}

	if projectRoot != "" {
		projectPath := filepath.Join(projectRoot, ".anvil", "config.yaml")
		if _, err := os.Stat(projectPath); err == nil {
			v.SetConfigFile(projectPath)
			if err := v.MergeInConfig(); err != nil {
				return nil, fmt.Errorf("merge config %s: %w", projectPath, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Scheduler.MaxConcurrency < 1 {
		return fmt.Errorf("scheduler.max_concurrency must be at least 1, got %d", c.Scheduler.MaxConcurrency)
	}
	if c.Scheduler.MaxRetries < 0 {
		return fmt.Errorf("scheduler.max_retries must not be negative, got %d", c.Scheduler.MaxRetries)
	}
	if c.Timeouts.Task <= 0 {
		return fmt.Errorf("timeouts.task must be positive, got %v", c.Timeouts.Task)
	}
	return nil
}
