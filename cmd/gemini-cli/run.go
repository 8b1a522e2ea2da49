package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/datanger/gemini-cli/internal/config"
	"github.com/datanger/gemini-cli/internal/coordinator"
	"github.com/datanger/gemini-cli/internal/exec"
	"github.com/datanger/gemini-cli/internal/history"
	"github.com/datanger/gemini-cli/internal/tools"
	"github.com/datanger/gemini-cli/internal/workflow"
	"github.com/datanger/gemini-cli/pkg/models"
)

var (
	runSession    string
	runCalls      []string
	runNoWorkflow bool
	runSequential bool
	runTUI        bool
)

var runCmd = &cobra.Command{
	Use:   "run <task>",
	Short: "Execute a task through the control plane",
	Long: `Execute a task. Task text that describes a structured engineering
change is driven through the search/read/modify/verify workflow;
otherwise the supplied tool calls execute directly.

Tool calls are given with repeated --call flags:

  gemini-cli run "fix the bug in the parser" \
    --call "search_files:pattern=parser" \
    --call "read_file:path=internal/parser/parser.go"`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runSession, "session", "", "Session ID (generated when empty)")
	runCmd.Flags().StringArrayVar(&runCalls, "call", nil, "Tool call as tool:arg=val,arg=val (repeatable)")
	runCmd.Flags().BoolVar(&runNoWorkflow, "no-workflow", false, "Disable workflow mode for this run")
	runCmd.Flags().BoolVar(&runSequential, "sequential", false, "Execute standard-mode calls one at a time")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Show the live progress panel")
}

func runRun(cmd *cobra.Command, args []string) error {
	task := args[0]

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if runNoWorkflow {
		cfg.Workflow.Enabled = false
	}
	if cfg.TUI.Enabled {
		runTUI = true
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	sessionID := runSession
	if sessionID == "" {
		sessionID = uuid.New().String()[:8]
	}

	reqs, err := parseCalls(runCalls)
	if err != nil {
		return err
	}

	app, err := buildApp(cfg, cwd)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if runTUI {
		return runWithTUI(ctx, app, sessionID, task, reqs)
	}

	result, err := app.orchestrator.OrchestrateExecution(ctx, sessionID, task, reqs)
	if err != nil {
		return err
	}
	printResult(sessionID, result)
	return nil
}

// parseCalls converts --call flag values into coordinator requests. The
// format is "tool:arg=val,arg=val"; the argument list may be empty.
func parseCalls(calls []string) ([]coordinator.Request, error) {
	reqs := make([]coordinator.Request, 0, len(calls))
	for _, call := range calls {
		tool, argSpec, _ := strings.Cut(call, ":")
		tool = strings.TrimSpace(tool)
		if tool == "" {
			return nil, fmt.Errorf("invalid --call %q: missing tool name", call)
		}

		req := coordinator.Request{Tool: tool, Args: map[string]any{}}
		if argSpec != "" {
			for _, pair := range strings.Split(argSpec, ",") {
				key, val, ok := strings.Cut(pair, "=")
				if !ok {
					return nil, fmt.Errorf("invalid --call %q: argument %q is not key=value", call, pair)
				}
				req.Args[strings.TrimSpace(key)] = strings.TrimSpace(val)
			}
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// appStack holds the wired services for one run.
type appStack struct {
	registry     *tools.Registry
	coord        *coordinator.Coordinator
	manager      *workflow.StateManager
	integration  *workflow.IntegrationService
	orchestrator *workflow.Orchestrator
	journal      *history.Store
	logger       *coordinator.DebugLogger
}

// buildApp wires the registry, coordinator, workflow stack, and journal
// from configuration.
func buildApp(cfg *config.Config, cwd string) (*appStack, error) {
	registry := tools.NewRegistry()
	runner := exec.NewRunner()
	if err := tools.RegisterDefaults(registry, runner, cwd, cfg.Workflow.TestCommand); err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}

	profiles := workflow.DefaultProfiles()
	if cfg.Workflow.ProfilesPath != "" {
		var err error
		profiles, err = workflow.LoadProfiles(cfg.Workflow.ProfilesPath)
		if err != nil {
			return nil, err
		}
	}
	manager := workflow.NewStateManager(registry, profiles)

	logger := coordinator.NopLogger()
	if cfg.Logging.Debug {
		logger = coordinator.NewDebugLoggerForWorkspace(cwd)
	}

	resources := coordinator.NewResourceManager(registry, coordinator.ResourceLimits{
		FileOps:      cfg.Resources.FileOperations,
		Network:      cfg.Resources.NetworkRequests,
		Shell:        cfg.Resources.ShellCommands,
		MemoryBudget: cfg.Resources.MemoryBudgetMB,
	})

	coord := coordinator.New(registry, coordinator.Config{
		MaxConcurrent:     cfg.Coordinator.MaxConcurrent,
		PollInterval:      cfg.Coordinator.PollInterval,
		RetryBaseDelay:    cfg.Coordinator.RetryBaseDelay,
		DefaultTimeout:    cfg.Coordinator.DefaultTimeout,
		DefaultMaxRetries: cfg.Coordinator.DefaultMaxRetries,
	},
		coordinator.WithPhaseHinter(manager),
		coordinator.WithResourceManager(resources),
		coordinator.WithLogger(logger),
	)

	integration := workflow.NewIntegrationService(manager)
	coord.SetWorkflowSink(integration.HandleToolCallResult)

	orch := workflow.NewOrchestrator(coord, manager, integration, registry, workflow.OrchestratorConfig{
		Enabled:       cfg.Workflow.Enabled,
		MaxIterations: cfg.Workflow.MaxIterations,
		MaxErrors:     cfg.Workflow.MaxErrors,
		Sequential:    runSequential,
	})

	app := &appStack{
		registry:     registry,
		coord:        coord,
		manager:      manager,
		integration:  integration,
		orchestrator: orch,
		logger:       logger,
	}

	if cfg.History.Enabled {
		journal, err := history.OpenProject(cwd)
		if err != nil {
			return nil, err
		}
		app.journal = journal
		coord.AddResultListener(func(sessionID string, res models.ExecutionResult) {
			_ = journal.RecordResult(sessionID, res)
		})
		manager.AddListener(func(wctx *models.WorkflowContext) {
			if !wctx.Active {
				_ = journal.RecordWorkflow(wctx)
			}
		})
		if cfg.History.RetentionDays > 0 {
			_, _ = journal.Purge(time.Duration(cfg.History.RetentionDays) * 24 * time.Hour)
		}
	}

	return app, nil
}

// Close releases the app's resources.
func (a *appStack) Close() {
	if a.journal != nil {
		a.journal.Close()
	}
	a.logger.Close()
}

// printResult renders an orchestration result to stdout.
func printResult(sessionID string, result *workflow.OrchestrationResult) {
	mode := "standard"
	if result.WorkflowTriggered {
		mode = "workflow"
	}
	fmt.Printf("Session %s (%s mode, %s)\n", sessionID, mode, result.TotalTime.Round(time.Millisecond))

	if len(result.PhasesExecuted) > 0 {
		phases := make([]string, 0, len(result.PhasesExecuted))
		for _, p := range result.PhasesExecuted {
			phases = append(phases, string(p))
		}
		fmt.Printf("Phases: %s\n", strings.Join(phases, " > "))
	}

	for _, res := range result.ToolResults {
		mark := color.GreenString("✓")
		detail := ""
		if !res.Success {
			mark = color.RedString("✗")
			detail = " " + res.Error
		} else if res.RetryCount > 0 {
			detail = fmt.Sprintf(" (after %d retries)", res.RetryCount)
		}
		fmt.Printf("  %s %s [%s]%s\n", mark, res.Tool, res.Elapsed.Round(time.Millisecond), detail)
	}

	for _, e := range result.Errors {
		fmt.Printf("  %s %s\n", color.YellowString("!"), e)
	}

	if result.FinalReport != "" {
		fmt.Printf("\n%s\n", result.FinalReport)
	}
}
