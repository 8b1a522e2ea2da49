package tools

import (
	"github.com/datanger/gemini-cli/internal/exec"
)

// Resource categories tools register under. These mirror the resource
// manager's buckets without importing it.
const (
	categoryFileOps = "file_operations"
	categoryNetwork = "network_requests"
	categoryShell   = "shell_commands"
)

// RegisterDefaults registers the built-in local tool set rooted at the
// workspace directory: search and glob discovery, cached reads,
// write/edit mutation, and shell/test execution. testCommand may be
// empty, in which case the run_tests tool requires an explicit command
// argument.
func RegisterDefaults(reg *Registry, runner exec.CommandRunner, root, testCommand string) error {
	cache := NewFileCache()

	defaults := []Tool{
		{
			Name:     "search_files",
			Role:     RoleSearch,
			Category: categoryNetwork,
			Fallback: "glob",
			Backend:  &SearchTool{Root: root},
		},
		{
			Name:     "glob",
			Role:     RoleSearch,
			Category: categoryNetwork,
			Backend:  &GlobTool{Root: root},
		},
		{
			Name:     "read_file",
			Role:     RoleRead,
			Category: categoryFileOps,
			Fallback: "list_directory",
			Backend:  &ReadFileTool{Root: root, Cache: cache},
		},
		{
			Name:     "list_directory",
			Role:     RoleRead,
			Category: categoryFileOps,
			Backend:  &ListDirTool{Root: root},
		},
		{
			Name:     "write_file",
			Role:     RoleModify,
			Category: categoryFileOps,
			Backend:  &WriteFileTool{Root: root, Cache: cache},
		},
		{
			Name:     "edit_file",
			Role:     RoleModify,
			Category: categoryFileOps,
			Backend:  &EditFileTool{Root: root, Cache: cache},
		},
		{
			Name:     "run_shell_command",
			Role:     RoleGeneral,
			Category: categoryShell,
			Backend:  &ShellTool{Runner: runner, Root: root},
		},
		{
			Name:     "run_tests",
			Role:     RoleVerify,
			Category: categoryShell,
			Backend:  &TestTool{Runner: runner, Root: root, Command: testCommand},
		},
	}

	for _, t := range defaults {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}
