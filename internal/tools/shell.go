package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/datanger/gemini-cli/internal/exec"
)

// ShellTool runs a shell command in the workspace through a
// CommandRunner, so tests can substitute a fake runner.
type ShellTool struct {
	// Runner executes the command.
	Runner exec.CommandRunner
	// Root is the working directory commands run in.
	Root string
}

// Execute runs args["command"] and returns its combined output.
func (t *ShellTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	command, err := argString(args, "command")
	if err != nil {
		return nil, err
	}
	out, err := t.Runner.RunShell(ctx, t.Root, command)
	if err != nil {
		return nil, fmt.Errorf("shell command failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// TestTool runs the project's configured test command. It is the
// verify-role counterpart of ShellTool.
type TestTool struct {
	// Runner executes the command.
	Runner exec.CommandRunner
	// Root is the working directory the tests run in.
	Root string
	// Command is the test command line; empty means args must carry one.
	Command string
}

// Execute runs the configured test command, or args["command"] when the
// caller supplies one.
func (t *TestTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	command := t.Command
	if c, ok := args["command"].(string); ok && c != "" {
		command = c
	}
	if command == "" {
		return nil, fmt.Errorf("invalid parameter: no test command configured")
	}
	out, err := t.Runner.RunShell(ctx, t.Root, command)
	if err != nil {
		return nil, fmt.Errorf("verification failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return fmt.Sprintf("verification passed: %s", strings.TrimSpace(string(out))), nil
}
