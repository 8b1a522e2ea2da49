package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/datanger/gemini-cli/internal/coordinator"
	"github.com/datanger/gemini-cli/internal/tools"
	"github.com/datanger/gemini-cli/pkg/models"
)

// ModifySynthesizer produces invocations for a MODIFY phase that
// received no matching caller invocations. There is no default rule:
// modifications normally require explicit caller-supplied invocations.
type ModifySynthesizer func(ctx *models.WorkflowContext) []coordinator.Request

// OrchestratorConfig holds orchestration tuning knobs.
type OrchestratorConfig struct {
	// Enabled gates workflow mode entirely; when false every request
	// passes straight through to the coordinator.
	Enabled bool
	// MaxIterations is the hard phase-loop cap regardless of state.
	MaxIterations int
	// MaxErrors aborts the loop once this many errors accumulate.
	MaxErrors int
	// Sequential executes standard-mode invocations one at a time
	// instead of as a single batch.
	Sequential bool
	// SynthesizeModify, when set, supplies invocations for a MODIFY
	// phase with no matching caller invocations.
	SynthesizeModify ModifySynthesizer
	// TestCommandTool is the tool synthesized for a bare VERIFY phase.
	TestCommandTool string
}

// DefaultOrchestratorConfig returns the standard orchestration
// configuration.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		Enabled:         true,
		MaxIterations:   10,
		MaxErrors:       3,
		TestCommandTool: "run_tests",
	}
}

// OrchestrationResult is the structured outcome of one orchestrated
// request. Aborted workflows still carry whatever partial results and
// phases accumulated.
type OrchestrationResult struct {
	WorkflowTriggered bool
	PhasesExecuted    []models.WorkflowPhase
	ToolResults       []models.ExecutionResult
	TotalTime         time.Duration
	FinalReport       string
	Errors            []string
}

// OrchestrationContext tracks one in-flight orchestrated session for
// introspection and abort.
type OrchestrationContext struct {
	SessionID  string
	Task       string
	StartedAt  time.Time
	Iterations int
	Errors     []string
	cancel     context.CancelFunc
}

// Orchestrator is the top-level driver: it decides per request between
// workflow mode and standard pass-through, and in workflow mode drives
// the state machine phase by phase through the coordinator.
type Orchestrator struct {
	coord       *coordinator.Coordinator
	manager     *StateManager
	integration *IntegrationService
	registry    *tools.Registry
	cfg         OrchestratorConfig

	inflight map[string]*OrchestrationContext
	mu       sync.Mutex
}

// NewOrchestrator wires the coordinator, state manager, and integration
// service together.
func NewOrchestrator(coord *coordinator.Coordinator, manager *StateManager, integration *IntegrationService, registry *tools.Registry, cfg OrchestratorConfig) *Orchestrator {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultOrchestratorConfig().MaxIterations
	}
	if cfg.MaxErrors <= 0 {
		cfg.MaxErrors = DefaultOrchestratorConfig().MaxErrors
	}
	if cfg.TestCommandTool == "" {
		cfg.TestCommandTool = DefaultOrchestratorConfig().TestCommandTool
	}
	return &Orchestrator{
		coord:       coord,
		manager:     manager,
		integration: integration,
		registry:    registry,
		cfg:         cfg,
		inflight:    make(map[string]*OrchestrationContext),
	}
}

// OrchestrateExecution handles one request: workflow mode when the text
// triggers a structured task and orchestration is enabled, standard
// pass-through otherwise. Orchestration-level aborts populate Errors on
// the result instead of returning an error; only setup failures return
// one.
func (o *Orchestrator) OrchestrateExecution(ctx context.Context, sessionID, text string, reqs []coordinator.Request) (*OrchestrationResult, error) {
	start := time.Now()

	if !o.cfg.Enabled || !o.integration.ShouldTriggerWorkflow(text) {
		results, err := o.standardExecution(ctx, sessionID, reqs)
		if err != nil {
			return nil, err
		}
		return &OrchestrationResult{
			ToolResults: results,
			TotalTime:   time.Since(start),
		}, nil
	}

	if _, err := o.integration.StartWorkflow(sessionID, text); err != nil {
		return nil, fmt.Errorf("start workflow: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	oc := &OrchestrationContext{
		SessionID: sessionID,
		Task:      text,
		StartedAt: start,
		cancel:    cancel,
	}
	o.mu.Lock()
	o.inflight[sessionID] = oc
	o.mu.Unlock()
	defer func() {
		cancel()
		o.mu.Lock()
		delete(o.inflight, sessionID)
		o.mu.Unlock()
	}()

	result := o.runPhaseLoop(loopCtx, sessionID, oc, reqs)
	result.WorkflowTriggered = true
	result.TotalTime = time.Since(start)
	return result, nil
}

// standardExecution forwards directly to the coordinator, optionally
// one invocation at a time.
func (o *Orchestrator) standardExecution(ctx context.Context, sessionID string, reqs []coordinator.Request) ([]models.ExecutionResult, error) {
	if !o.cfg.Sequential {
		return o.coord.CoordinateExecution(ctx, sessionID, reqs)
	}
	var all []models.ExecutionResult
	for _, req := range reqs {
		results, err := o.coord.CoordinateExecution(ctx, sessionID, []coordinator.Request{req})
		if err != nil {
			return all, err
		}
		all = append(all, results...)
	}
	return all, nil
}

// runPhaseLoop drives the workflow phase by phase until completion or
// an abort condition.
func (o *Orchestrator) runPhaseLoop(ctx context.Context, sessionID string, oc *OrchestrationContext, pending []coordinator.Request) *OrchestrationResult {
	result := &OrchestrationResult{}
	seenPhases := make(map[models.WorkflowPhase]bool)

	for {
		if ctx.Err() != nil {
			oc.Errors = append(oc.Errors, "orchestration cancelled")
			break
		}

		phase, active := o.manager.ActivePhase(sessionID)
		if !active {
			break
		}

		if !seenPhases[phase] {
			seenPhases[phase] = true
			result.PhasesExecuted = append(result.PhasesExecuted, phase)
		}

		oc.Iterations++
		if oc.Iterations > o.cfg.MaxIterations {
			oc.Errors = append(oc.Errors, fmt.Sprintf("iteration cap reached (%d)", o.cfg.MaxIterations))
			_ = o.manager.EndWorkflow(sessionID)
			break
		}

		if elapsed, max, ok := o.manager.PhaseElapsed(sessionID); ok && max > 0 && elapsed > max {
			oc.Errors = append(oc.Errors, fmt.Sprintf("phase %s exceeded its %s budget", phase, max))
			_ = o.manager.EndWorkflow(sessionID)
			break
		}

		batch, rest := o.selectForPhase(phase, pending)
		if len(batch) == 0 {
			batch = o.synthesizeForPhase(sessionID, phase)
		}
		if len(batch) == 0 {
			oc.Errors = append(oc.Errors, fmt.Sprintf("no invocations available for phase %s", phase))
			if len(oc.Errors) >= o.cfg.MaxErrors {
				_ = o.manager.EndWorkflow(sessionID)
				break
			}
			continue
		}
		pending = rest

		results, err := o.coord.CoordinateExecution(ctx, sessionID, batch)
		if err != nil {
			oc.Errors = append(oc.Errors, err.Error())
		}
		result.ToolResults = append(result.ToolResults, results...)

		denied := false
		for _, res := range results {
			if res.Success {
				continue
			}
			oc.Errors = append(oc.Errors, fmt.Sprintf("%s: %s", res.Tool, res.Error))
			if isPermissionDenial(res.Error) {
				denied = true
			}
		}
		if denied {
			oc.Errors = append(oc.Errors, "aborting on permission denial")
			_ = o.manager.EndWorkflow(sessionID)
			break
		}
		if len(oc.Errors) >= o.cfg.MaxErrors {
			oc.Errors = append(oc.Errors, "error threshold reached")
			_ = o.manager.EndWorkflow(sessionID)
			break
		}
	}

	if wctx := o.manager.GetContext(sessionID); wctx != nil {
		if wctx.CurrentPhase == models.PhaseCompleted {
			result.FinalReport = wctx.FinalReport
		}
	}
	result.Errors = append([]string(nil), oc.Errors...)
	return result
}

// selectForPhase splits pending invocations into those whose tool role
// matches the phase and the remainder.
func (o *Orchestrator) selectForPhase(phase models.WorkflowPhase, pending []coordinator.Request) (batch, rest []coordinator.Request) {
	want, ok := phaseRole(phase)
	if !ok {
		return nil, pending
	}
	for _, req := range pending {
		role, known := o.registry.RoleFor(req.Tool)
		if known && role == want {
			batch = append(batch, req)
		} else {
			rest = append(rest, req)
		}
	}
	return batch, rest
}

// phaseRole maps a phase to the tool role it expects.
func phaseRole(phase models.WorkflowPhase) (tools.Role, bool) {
	switch phase {
	case models.PhaseSearch:
		return tools.RoleSearch, true
	case models.PhaseRead:
		return tools.RoleRead, true
	case models.PhaseModify:
		return tools.RoleModify, true
	case models.PhaseVerify:
		return tools.RoleVerify, true
	default:
		return "", false
	}
}

// synthesizeForPhase produces phase-appropriate invocations from
// carried-forward context when the caller supplied none. MODIFY has no
// built-in rule: modifications require explicit invocations unless a
// synthesizer is configured.
func (o *Orchestrator) synthesizeForPhase(sessionID string, phase models.WorkflowPhase) []coordinator.Request {
	wctx := o.manager.GetContext(sessionID)
	if wctx == nil {
		return nil
	}

	switch phase {
	case models.PhaseSearch:
		pattern := searchPatternFromTask(wctx.Task)
		if pattern == "" {
			return nil
		}
		return []coordinator.Request{{
			Tool: "search_files",
			Args: map[string]any{"pattern": pattern},
		}}

	case models.PhaseRead:
		search := wctx.Records[models.PhaseSearch]
		if search == nil {
			return nil
		}
		files := search.NextInputs["discovered_files"]
		if len(files) == 0 {
			return nil
		}
		return []coordinator.Request{{
			Tool: "read_file",
			Args: map[string]any{"path": files[0]},
		}}

	case models.PhaseModify:
		if o.cfg.SynthesizeModify != nil {
			return o.cfg.SynthesizeModify(wctx)
		}
		return nil

	case models.PhaseVerify:
		return []coordinator.Request{{
			Tool: o.cfg.TestCommandTool,
			Args: map[string]any{},
		}}
	}
	return nil
}

// synthesisStopwords are task words too generic to search for.
var synthesisStopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true,
	"this": true, "into": true, "from": true, "please": true,
}

// searchPatternFromTask infers a search pattern from the task text: the
// first word that is neither an action verb, a task noun, nor a
// stopword (typically the task's actual subject identifier).
func searchPatternFromTask(task string) string {
	words := tokenize(strings.ToLower(task))
	var fallback string
	for _, w := range words {
		if len(w) < 3 || synthesisStopwords[w] || containsWord(actionVerbs, w) {
			continue
		}
		if containsWord(taskNouns, w) {
			if fallback == "" {
				fallback = w
			}
			continue
		}
		return w
	}
	return fallback
}

// isPermissionDenial reports whether an error message indicates an
// access or permission problem.
func isPermissionDenial(msg string) bool {
	return containsAny(msg, "permission denied", "access denied", "operation not permitted", "unauthorized")
}

// Status returns a snapshot of the in-flight orchestration for a
// session, or nil.
func (o *Orchestrator) Status(sessionID string) *OrchestrationContext {
	o.mu.Lock()
	defer o.mu.Unlock()
	oc, ok := o.inflight[sessionID]
	if !ok {
		return nil
	}
	snapshot := *oc
	snapshot.Errors = append([]string(nil), oc.Errors...)
	snapshot.cancel = nil
	return &snapshot
}

// AbortOrchestration cancels the session's phase loop and ends its
// workflow.
func (o *Orchestrator) AbortOrchestration(sessionID string) error {
	o.mu.Lock()
	oc, ok := o.inflight[sessionID]
	o.mu.Unlock()
	if ok && oc.cancel != nil {
		oc.cancel()
	}
	return o.manager.EndWorkflow(sessionID)
}
