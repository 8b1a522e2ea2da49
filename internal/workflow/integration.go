package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/datanger/gemini-cli/pkg/models"
)

// IntegrationService bridges free-form user input and raw tool results
// into the workflow state machine, and renders guidance and progress
// text for the prompting layer.
type IntegrationService struct {
	manager *StateManager
}

// NewIntegrationService wraps a state manager.
func NewIntegrationService(manager *StateManager) *IntegrationService {
	return &IntegrationService{manager: manager}
}

// triggerPhrases match multi-word task descriptions directly.
var triggerPhrases = []string{
	"fix the bug",
	"fix bug",
	"implement the feature",
	"implement feature",
	"refactor the",
	"add support for",
	"update the code",
	"resolve the issue",
	"make the change",
}

// actionVerbs are recognized task verbs; the first match becomes the
// workflow objective.
var actionVerbs = []string{
	"fix", "implement", "refactor", "add", "update", "create",
	"modify", "change", "resolve", "improve", "remove", "rename",
	"debug", "optimize",
}

// taskNouns are subjects that, combined with an action verb, indicate a
// structured engineering task.
var taskNouns = []string{
	"bug", "feature", "function", "method", "class", "test", "tests",
	"error", "issue", "code", "file", "module", "package", "struct",
	"interface", "endpoint", "handler", "config",
}

// scopeKeywords map scope terms in the task text to a scope label.
var scopeKeywords = []string{
	"test", "config", "docs", "api", "cli", "build", "ci",
}

// ShouldTriggerWorkflow decides whether free-form input merits
// structured workflow handling: a known phrase, or an action verb
// combined with a task noun. Matching is case-insensitive.
func (s *IntegrationService) ShouldTriggerWorkflow(text string) bool {
	lower := strings.ToLower(text)

	for _, phrase := range triggerPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}

	words := tokenize(lower)
	hasVerb := false
	hasNoun := false
	for _, w := range words {
		if !hasVerb && containsWord(actionVerbs, w) {
			hasVerb = true
		}
		if !hasNoun && containsWord(taskNouns, w) {
			hasNoun = true
		}
	}
	return hasVerb && hasNoun
}

// tokenize splits text into lowercase words, stripping punctuation.
func tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
}

func containsWord(set []string, w string) bool {
	for _, s := range set {
		if s == w {
			return true
		}
	}
	return false
}

// StartWorkflow derives an objective and scope from the task text and
// opens a workflow for the session.
func (s *IntegrationService) StartWorkflow(sessionID, text string) (*models.WorkflowContext, error) {
	lower := strings.ToLower(text)
	words := tokenize(lower)

	objective := "complete"
	for _, w := range words {
		if containsWord(actionVerbs, w) {
			objective = w
			break
		}
	}

	scope := "general"
	for _, w := range words {
		if containsWord(scopeKeywords, w) {
			scope = w
			break
		}
	}

	return s.manager.StartWorkflow(sessionID, text, objective, scope)
}

// HandleToolCallResult converts a raw tool outcome into a templated
// summary line and records it against the session's current phase. A
// session without an active workflow is ignored: the coordinator
// forwards every settled result here regardless of mode.
func (s *IntegrationService) HandleToolCallResult(sessionID, tool string, payload any, success bool, errMsg string) {
	if _, active := s.manager.ActivePhase(sessionID); !active {
		return
	}

	summary := summarizeResult(tool, payload, success, errMsg)
	// Ignore record errors: results may race a transition that just
	// sealed the phase, and a lost summary line is not worth failing
	// the execution path.
	_ = s.manager.RecordToolResult(sessionID, tool, payload, summary)
}

// summarizeResult renders a short per-result summary line.
func summarizeResult(tool string, payload any, success bool, errMsg string) string {
	if !success {
		return fmt.Sprintf("%s failed: %s", tool, errMsg)
	}
	switch v := payload.(type) {
	case string:
		first := v
		if idx := strings.IndexByte(first, '\n'); idx >= 0 {
			first = first[:idx]
		}
		if len(first) > 120 {
			first = first[:120]
		}
		return fmt.Sprintf("%s: %s", tool, first)
	case []string:
		return fmt.Sprintf("%s found %d entries", tool, len(v))
	default:
		return fmt.Sprintf("%s completed", tool)
	}
}

// ProgressIndicator renders a one-line phase progress bar like
// "[search > READ > modify > verify]".
func (s *IntegrationService) ProgressIndicator(sessionID string) string {
	ctx := s.manager.GetContext(sessionID)
	if ctx == nil {
		return ""
	}
	phases := []models.WorkflowPhase{
		models.PhaseSearch, models.PhaseRead, models.PhaseModify, models.PhaseVerify,
	}
	parts := make([]string, 0, len(phases))
	for _, p := range phases {
		name := string(p)
		if p == ctx.CurrentPhase {
			name = strings.ToUpper(name)
		}
		parts = append(parts, name)
	}
	return "[" + strings.Join(parts, " > ") + "]"
}

// phaseGuidance is per-phase instruction text for the prompting layer.
var phaseGuidance = map[models.WorkflowPhase]string{
	models.PhaseSearch: "Discover relevant files and code locations. Use search and glob tools to map the task onto the codebase.",
	models.PhaseRead:   "Read and analyze the discovered files. Build an understanding of the current behavior before changing anything.",
	models.PhaseModify: "Apply the planned changes with write and edit tools. Keep edits minimal and focused on the objective.",
	models.PhaseVerify: "Run the tests and verify the changes behave as intended.",
}

// PhaseGuidance returns instruction text for the session's current
// phase, empty when no workflow is active.
func (s *IntegrationService) PhaseGuidance(sessionID string) string {
	phase, active := s.manager.ActivePhase(sessionID)
	if !active {
		return ""
	}
	return phaseGuidance[phase]
}

// ContextSummary renders the carried-forward inputs of every sealed
// phase for the prompting layer.
func (s *IntegrationService) ContextSummary(sessionID string) string {
	ctx := s.manager.GetContext(sessionID)
	if ctx == nil {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s (objective: %s, scope: %s)\n", ctx.Task, ctx.Objective, ctx.Scope)
	for _, phase := range []models.WorkflowPhase{
		models.PhaseSearch, models.PhaseRead, models.PhaseModify, models.PhaseVerify,
	} {
		rec := ctx.Records[phase]
		if rec == nil || !rec.Sealed() {
			continue
		}
		fmt.Fprintf(&b, "%s: %d tools, %d results\n", phase, len(rec.Tools), len(rec.Results))
		for key, values := range rec.NextInputs {
			if len(values) == 0 {
				continue
			}
			fmt.Fprintf(&b, "  %s: %s\n", key, strings.Join(values, ", "))
		}
	}
	return b.String()
}

// FinalReport returns the session's final report, empty until the
// workflow completes.
func (s *IntegrationService) FinalReport(sessionID string) string {
	ctx := s.manager.GetContext(sessionID)
	if ctx == nil {
		return ""
	}
	return ctx.FinalReport
}

// renderFinalReport combines all sealed phase records into the
// completion report.
func renderFinalReport(ctx *models.WorkflowContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Workflow complete: %s\n", ctx.Task)
	fmt.Fprintf(&b, "Objective: %s | Scope: %s\n", ctx.Objective, ctx.Scope)
	fmt.Fprintf(&b, "Duration: %s\n", ctx.UpdatedAt.Sub(ctx.StartedAt).Round(time.Millisecond))

	for _, phase := range []models.WorkflowPhase{
		models.PhaseSearch, models.PhaseRead, models.PhaseModify, models.PhaseVerify,
	} {
		rec := ctx.Records[phase]
		if rec == nil {
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n", strings.ToUpper(string(phase)))
		fmt.Fprintf(&b, "Tools: %s\n", strings.Join(rec.Tools, ", "))
		if rec.Summary != "" {
			fmt.Fprintf(&b, "%s\n", rec.Summary)
		}
		for key, values := range rec.NextInputs {
			if len(values) == 0 {
				continue
			}
			fmt.Fprintf(&b, "%s: %s\n", key, strings.Join(values, ", "))
		}
	}
	return b.String()
}
