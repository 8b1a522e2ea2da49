package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/datanger/gemini-cli/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify gemini-cli configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/gemini-cli/config.yaml
Project-specific overrides can be placed in .gemini/config.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
		case 1:
			displayConfigKey(cfg, args[0])
		default:
			setConfigKey(cfg, args[0], args[1])
		}
	},
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	fmt.Printf("coordinator.max_concurrent: %d\n", cfg.Coordinator.MaxConcurrent)
	fmt.Printf("coordinator.poll_interval: %s\n", cfg.Coordinator.PollInterval)
	fmt.Printf("coordinator.retry_base_delay: %s\n", cfg.Coordinator.RetryBaseDelay)
	fmt.Printf("coordinator.default_timeout: %s\n", cfg.Coordinator.DefaultTimeout)
	fmt.Printf("coordinator.default_max_retries: %d\n", cfg.Coordinator.DefaultMaxRetries)
	fmt.Printf("resources.file_operations: %d\n", cfg.Resources.FileOperations)
	fmt.Printf("resources.network_requests: %d\n", cfg.Resources.NetworkRequests)
	fmt.Printf("resources.shell_commands: %d\n", cfg.Resources.ShellCommands)
	fmt.Printf("resources.memory_budget_mb: %d\n", cfg.Resources.MemoryBudgetMB)
	fmt.Printf("workflow.enabled: %t\n", cfg.Workflow.Enabled)
	fmt.Printf("workflow.max_iterations: %d\n", cfg.Workflow.MaxIterations)
	fmt.Printf("workflow.max_errors: %d\n", cfg.Workflow.MaxErrors)
	fmt.Printf("workflow.profiles_path: %s\n", orNotSet(cfg.Workflow.ProfilesPath))
	fmt.Printf("workflow.test_command: %s\n", cfg.Workflow.TestCommand)
	fmt.Printf("history.enabled: %t\n", cfg.History.Enabled)
	fmt.Printf("history.retention_days: %d\n", cfg.History.RetentionDays)
	fmt.Printf("tui.enabled: %t\n", cfg.TUI.Enabled)
	fmt.Printf("tui.refresh_rate: %s\n", cfg.TUI.RefreshRate)
	fmt.Printf("logging.debug: %t\n", cfg.Logging.Debug)
}

func orNotSet(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}

// displayConfigKey prints a single configuration value.
func displayConfigKey(cfg *config.Config, key string) {
	value, err := getConfigValue(cfg, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(value)
}

// setConfigKey sets a configuration value and saves the config.
func setConfigKey(cfg *config.Config, key, value string) {
	if err := setConfigValue(cfg, key, value); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Set %s = %s\n", key, value)
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "coordinator.max_concurrent":
		return strconv.Itoa(cfg.Coordinator.MaxConcurrent), nil
	case "coordinator.poll_interval":
		return cfg.Coordinator.PollInterval.String(), nil
	case "coordinator.retry_base_delay":
		return cfg.Coordinator.RetryBaseDelay.String(), nil
	case "coordinator.default_timeout":
		return cfg.Coordinator.DefaultTimeout.String(), nil
	case "coordinator.default_max_retries":
		return strconv.Itoa(cfg.Coordinator.DefaultMaxRetries), nil
	case "resources.file_operations":
		return strconv.Itoa(cfg.Resources.FileOperations), nil
	case "resources.network_requests":
		return strconv.Itoa(cfg.Resources.NetworkRequests), nil
	case "resources.shell_commands":
		return strconv.Itoa(cfg.Resources.ShellCommands), nil
	case "resources.memory_budget_mb":
		return strconv.Itoa(cfg.Resources.MemoryBudgetMB), nil
	case "workflow.enabled":
		return strconv.FormatBool(cfg.Workflow.Enabled), nil
	case "workflow.max_iterations":
		return strconv.Itoa(cfg.Workflow.MaxIterations), nil
	case "workflow.max_errors":
		return strconv.Itoa(cfg.Workflow.MaxErrors), nil
	case "workflow.profiles_path":
		return orNotSet(cfg.Workflow.ProfilesPath), nil
	case "workflow.test_command":
		return cfg.Workflow.TestCommand, nil
	case "history.enabled":
		return strconv.FormatBool(cfg.History.Enabled), nil
	case "history.retention_days":
		return strconv.Itoa(cfg.History.RetentionDays), nil
	case "tui.enabled":
		return strconv.FormatBool(cfg.TUI.Enabled), nil
	case "tui.refresh_rate":
		return cfg.TUI.RefreshRate.String(), nil
	case "logging.debug":
		return strconv.FormatBool(cfg.Logging.Debug), nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	switch strings.ToLower(key) {
	case "coordinator.max_concurrent":
		return setInt(&cfg.Coordinator.MaxConcurrent, key, value)
	case "coordinator.poll_interval":
		return setDuration(&cfg.Coordinator.PollInterval, key, value)
	case "coordinator.retry_base_delay":
		return setDuration(&cfg.Coordinator.RetryBaseDelay, key, value)
	case "coordinator.default_timeout":
		return setDuration(&cfg.Coordinator.DefaultTimeout, key, value)
	case "coordinator.default_max_retries":
		return setInt(&cfg.Coordinator.DefaultMaxRetries, key, value)
	case "resources.file_operations":
		return setInt(&cfg.Resources.FileOperations, key, value)
	case "resources.network_requests":
		return setInt(&cfg.Resources.NetworkRequests, key, value)
	case "resources.shell_commands":
		return setInt(&cfg.Resources.ShellCommands, key, value)
	case "resources.memory_budget_mb":
		return setInt(&cfg.Resources.MemoryBudgetMB, key, value)
	case "workflow.enabled":
		return setBool(&cfg.Workflow.Enabled, key, value)
	case "workflow.max_iterations":
		return setInt(&cfg.Workflow.MaxIterations, key, value)
	case "workflow.max_errors":
		return setInt(&cfg.Workflow.MaxErrors, key, value)
	case "workflow.profiles_path":
		cfg.Workflow.ProfilesPath = value
		return nil
	case "workflow.test_command":
		cfg.Workflow.TestCommand = value
		return nil
	case "history.enabled":
		return setBool(&cfg.History.Enabled, key, value)
	case "history.retention_days":
		return setInt(&cfg.History.RetentionDays, key, value)
	case "tui.enabled":
		return setBool(&cfg.TUI.Enabled, key, value)
	case "tui.refresh_rate":
		return setDuration(&cfg.TUI.RefreshRate, key, value)
	case "logging.debug":
		return setBool(&cfg.Logging.Debug, key, value)
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
}

func setInt(dst *int, key, value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, key, value string) error {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid boolean for %s: %w", key, err)
	}
	*dst = b
	return nil
}

func setDuration(dst *time.Duration, key, value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	*dst = d
	return nil
}
