// Package config handles configuration loading for gemini-cli.
// It supports XDG config paths, project-level overrides, and environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for gemini-cli.
type Config struct {
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Resources   ResourcesConfig   `mapstructure:"resources"`
	Workflow    WorkflowConfig    `mapstructure:"workflow"`
	History     HistoryConfig     `mapstructure:"history"`
	TUI         TUIConfig         `mapstructure:"tui"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// CoordinatorConfig holds execution control plane settings.
type CoordinatorConfig struct {
	MaxConcurrent     int           `mapstructure:"max_concurrent"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	RetryBaseDelay    time.Duration `mapstructure:"retry_base_delay"`
	DefaultTimeout    time.Duration `mapstructure:"default_timeout"`
	DefaultMaxRetries int           `mapstructure:"default_max_retries"`
}

// ResourcesConfig holds per-category concurrency quotas.
type ResourcesConfig struct {
	FileOperations  int `mapstructure:"file_operations"`
	NetworkRequests int `mapstructure:"network_requests"`
	ShellCommands   int `mapstructure:"shell_commands"`
	MemoryBudgetMB  int `mapstructure:"memory_budget_mb"`
}

// WorkflowConfig holds workflow orchestration settings.
type WorkflowConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	MaxIterations int    `mapstructure:"max_iterations"`
	MaxErrors     int    `mapstructure:"max_errors"`
	ProfilesPath  string `mapstructure:"profiles_path"`
	TestCommand   string `mapstructure:"test_command"`
}

// HistoryConfig holds execution journal settings.
type HistoryConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	RetentionDays int           `mapstructure:"retention_days"`
	PurgeInterval time.Duration `mapstructure:"purge_interval"`
}

// TUIConfig holds progress panel settings.
type TUIConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	RefreshRate time.Duration `mapstructure:"refresh_rate"`
}

// LoggingConfig holds debug log settings.
type LoggingConfig struct {
	Debug bool `mapstructure:"debug"`
}

// Load loads configuration from XDG paths, project overrides, and
// environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (GEMINI_* prefix)
// 2. Project config (.gemini/config.yaml in current directory or parent)
// 3. User config (~/.config/gemini-cli/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("GEMINI")
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return cfg, nil
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	v.Set("coordinator.max_concurrent", cfg.Coordinator.MaxConcurrent)
	v.Set("coordinator.poll_interval", cfg.Coordinator.PollInterval.String())
	v.Set("coordinator.retry_base_delay", cfg.Coordinator.RetryBaseDelay.String())
	v.Set("coordinator.default_timeout", cfg.Coordinator.DefaultTimeout.String())
	v.Set("coordinator.default_max_retries", cfg.Coordinator.DefaultMaxRetries)
	v.Set("resources.file_operations", cfg.Resources.FileOperations)
	v.Set("resources.network_requests", cfg.Resources.NetworkRequests)
	v.Set("resources.shell_commands", cfg.Resources.ShellCommands)
	v.Set("resources.memory_budget_mb", cfg.Resources.MemoryBudgetMB)
	v.Set("workflow.enabled", cfg.Workflow.Enabled)
	v.Set("workflow.max_iterations", cfg.Workflow.MaxIterations)
	v.Set("workflow.max_errors", cfg.Workflow.MaxErrors)
	v.Set("workflow.profiles_path", cfg.Workflow.ProfilesPath)
	v.Set("workflow.test_command", cfg.Workflow.TestCommand)
	v.Set("history.enabled", cfg.History.Enabled)
	v.Set("history.retention_days", cfg.History.RetentionDays)
	v.Set("history.purge_interval", cfg.History.PurgeInterval.String())
	v.Set("tui.enabled", cfg.TUI.Enabled)
	v.Set("tui.refresh_rate", cfg.TUI.RefreshRate.String())
	v.Set("logging.debug", cfg.Logging.Debug)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it
// exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("coordinator.max_concurrent", 4)
	v.SetDefault("coordinator.poll_interval", "100ms")
	v.SetDefault("coordinator.retry_base_delay", "1s")
	v.SetDefault("coordinator.default_timeout", "60s")
	v.SetDefault("coordinator.default_max_retries", 3)

	v.SetDefault("resources.file_operations", 5)
	v.SetDefault("resources.network_requests", 3)
	v.SetDefault("resources.shell_commands", 2)
	v.SetDefault("resources.memory_budget_mb", 512)

	v.SetDefault("workflow.enabled", true)
	v.SetDefault("workflow.max_iterations", 10)
	v.SetDefault("workflow.max_errors", 3)
	v.SetDefault("workflow.profiles_path", "")
	v.SetDefault("workflow.test_command", "go test ./...")

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.retention_days", 30)
	v.SetDefault("history.purge_interval", "24h")

	v.SetDefault("tui.enabled", false)
	v.SetDefault("tui.refresh_rate", "100ms")

	v.SetDefault("logging.debug", false)
}

// getUserConfigDir returns the XDG config directory for gemini-cli.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "gemini-cli")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "gemini-cli")
	}
	return filepath.Join(home, ".config", "gemini-cli")
}

// findProjectConfig searches for .gemini/config.yaml in the current
// directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".gemini", "config.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Coordinator: CoordinatorConfig{
			MaxConcurrent:     4,
			PollInterval:      100 * time.Millisecond,
			RetryBaseDelay:    time.Second,
			DefaultTimeout:    60 * time.Second,
			DefaultMaxRetries: 3,
		},
		Resources: ResourcesConfig{
			FileOperations:  5,
			NetworkRequests: 3,
			ShellCommands:   2,
			MemoryBudgetMB:  512,
		},
		Workflow: WorkflowConfig{
			Enabled:       true,
			MaxIterations: 10,
			MaxErrors:     3,
			TestCommand:   "go test ./...",
		},
		History: HistoryConfig{
			Enabled:       true,
			RetentionDays: 30,
			PurgeInterval: 24 * time.Hour,
		},
		TUI: TUIConfig{
			Enabled:     false,
			RefreshRate: 100 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Debug: false,
		},
	}
}
