package workflow

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/datanger/gemini-cli/internal/tools"
	"github.com/datanger/gemini-cli/pkg/models"
)

// ErrNoActiveWorkflow indicates an operation against a session with no
// active workflow context.
var ErrNoActiveWorkflow = errors.New("no active workflow for session")

// ErrWorkflowActive indicates startWorkflow was called while a workflow
// is already running for the session.
var ErrWorkflowActive = errors.New("workflow already active for session")

// Listener observes workflow context changes. Listeners receive a
// snapshot taken after the mutation completed and are invoked
// fire-and-forget, so a listener calling back into the manager cannot
// corrupt in-progress state.
type Listener func(ctx *models.WorkflowContext)

// StateManager owns every workflow context, indexed by session ID. It
// is an explicit service constructed once per process; there is no
// package-level state.
type StateManager struct {
	profiles  map[models.WorkflowPhase]PhaseProfile
	registry  *tools.Registry
	contexts  map[string]*models.WorkflowContext
	listeners []Listener
	mu        sync.Mutex
}

// NewStateManager creates a StateManager with the given phase profiles.
// Nil profiles fall back to the defaults.
func NewStateManager(registry *tools.Registry, profiles map[models.WorkflowPhase]PhaseProfile) *StateManager {
	if profiles == nil {
		profiles = DefaultProfiles()
	}
	return &StateManager{
		profiles: profiles,
		registry: registry,
		contexts: make(map[string]*models.WorkflowContext),
	}
}

// AddListener registers a context-change listener.
func (m *StateManager) AddListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// StartWorkflow creates a context positioned at SEARCH with an open
// phase record. Starting a second workflow for an active session is an
// error.
func (m *StateManager) StartWorkflow(sessionID, task, objective, scope string) (*models.WorkflowContext, error) {
	m.mu.Lock()
	if existing, ok := m.contexts[sessionID]; ok && existing.Active {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrWorkflowActive, sessionID)
	}

	now := time.Now()
	ctx := &models.WorkflowContext{
		SessionID:    sessionID,
		Task:         task,
		Objective:    objective,
		Scope:        scope,
		CurrentPhase: models.PhaseSearch,
		Records: map[models.WorkflowPhase]*models.PhaseRecord{
			models.PhaseSearch: newRecord(models.PhaseSearch, now),
		},
		Active:    true,
		StartedAt: now,
		UpdatedAt: now,
	}
	m.contexts[sessionID] = ctx
	snapshot := ctx.Clone()
	m.mu.Unlock()

	m.notify(snapshot)
	return snapshot, nil
}

// newRecord opens a fresh phase record.
func newRecord(phase models.WorkflowPhase, now time.Time) *models.PhaseRecord {
	return &models.PhaseRecord{
		Phase:      phase,
		StartedAt:  now,
		Results:    make(map[string]any),
		NextInputs: make(map[string][]string),
	}
}

// RecordToolResult appends a tool result to the open record of the
// current phase, folds the summary line in, then evaluates the
// transition gate and advances when every condition holds.
func (m *StateManager) RecordToolResult(sessionID, tool string, payload any, summary string) error {
	m.mu.Lock()
	ctx, ok := m.contexts[sessionID]
	if !ok || !ctx.Active {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoActiveWorkflow, sessionID)
	}
	rec := ctx.Records[ctx.CurrentPhase]
	if rec == nil || rec.Sealed() {
		m.mu.Unlock()
		return fmt.Errorf("no open record for phase %s in session %s", ctx.CurrentPhase, sessionID)
	}

	rec.Tools = append(rec.Tools, tool)
	rec.Results[tool] = payload
	if summary != "" {
		if rec.Summary != "" {
			rec.Summary += "\n"
		}
		rec.Summary += summary
	}
	ctx.UpdatedAt = time.Now()

	ready := m.phaseReadyLocked(ctx)
	var snapshot *models.WorkflowContext
	if ready {
		m.advanceLocked(ctx)
	}
	snapshot = ctx.Clone()
	m.mu.Unlock()

	m.notify(snapshot)
	return nil
}

// PhaseReady reports whether the session's current phase satisfies
// every transition condition.
func (m *StateManager) PhaseReady(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctx, ok := m.contexts[sessionID]
	if !ok || !ctx.Active {
		return false
	}
	return m.phaseReadyLocked(ctx)
}

// phaseReadyLocked evaluates the four gate conditions: a required-role
// tool was used, the minimum distinct result count is met, the phase
// content validator passes, and the phase has not outlived its maximum
// duration. The gate only ever blocks forward movement; a timed-out
// phase is not force-advanced and not aborted here. Caller holds m.mu.
func (m *StateManager) phaseReadyLocked(ctx *models.WorkflowContext) bool {
	profile, ok := m.profiles[ctx.CurrentPhase]
	if !ok {
		return false
	}
	rec := ctx.Records[ctx.CurrentPhase]
	if rec == nil || rec.Sealed() {
		return false
	}

	roleUsed := false
	for _, tool := range rec.Tools {
		if role, ok := m.registry.RoleFor(tool); ok && role == profile.RequiredRole {
			roleUsed = true
			break
		}
	}
	if !roleUsed {
		return false
	}

	if len(rec.Results) < profile.MinResults {
		return false
	}

	if !validatePhaseContent(ctx.CurrentPhase, rec) {
		return false
	}

	if profile.MaxDuration > 0 && time.Since(rec.StartedAt) > profile.MaxDuration {
		return false
	}

	return true
}

// validatePhaseContent is the phase-specific content gate.
func validatePhaseContent(phase models.WorkflowPhase, rec *models.PhaseRecord) bool {
	switch phase {
	case models.PhaseSearch:
		// Discovery must have produced a non-empty result set.
		for _, payload := range rec.Results {
			if !emptyPayload(payload) {
				return true
			}
		}
		return false
	case models.PhaseRead:
		return strings.TrimSpace(rec.Summary) != ""
	case models.PhaseModify:
		return containsAny(rec.Summary, "wrote", "edited", "modified", "created", "changed")
	case models.PhaseVerify:
		return containsAny(rec.Summary, "verif", "test", "passed", "check")
	default:
		return false
	}
}

// emptyPayload reports whether a result payload carries nothing usable.
func emptyPayload(payload any) bool {
	switch v := payload.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []string:
		return len(v) == 0
	case []tools.SearchMatch:
		return len(v) == 0
	case []any:
		return len(v) == 0
	default:
		return false
	}
}

// containsAny reports whether s contains any needle, case-insensitively.
func containsAny(s string, needles ...string) bool {
	s = strings.ToLower(s)
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// TransitionToNextPhase advances the session's workflow one phase if
// the gate allows it.
func (m *StateManager) TransitionToNextPhase(sessionID string) error {
	m.mu.Lock()
	ctx, ok := m.contexts[sessionID]
	if !ok || !ctx.Active {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoActiveWorkflow, sessionID)
	}
	if !m.phaseReadyLocked(ctx) {
		m.mu.Unlock()
		return fmt.Errorf("phase %s not ready to advance in session %s", ctx.CurrentPhase, sessionID)
	}
	m.advanceLocked(ctx)
	snapshot := ctx.Clone()
	m.mu.Unlock()

	m.notify(snapshot)
	return nil
}

// ForceTransitionToNextPhase advances regardless of the gate, for
// external control.
func (m *StateManager) ForceTransitionToNextPhase(sessionID string) error {
	m.mu.Lock()
	ctx, ok := m.contexts[sessionID]
	if !ok || !ctx.Active {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoActiveWorkflow, sessionID)
	}
	m.advanceLocked(ctx)
	snapshot := ctx.Clone()
	m.mu.Unlock()

	m.notify(snapshot)
	return nil
}

// advanceLocked seals the current record (end time plus derived inputs
// for the next phase), advances the state, and opens a fresh record.
// When the new state is COMPLETED it instead seals the whole context
// inactive and synthesizes the final report. Caller holds m.mu.
func (m *StateManager) advanceLocked(ctx *models.WorkflowContext) {
	now := time.Now()
	rec := ctx.Records[ctx.CurrentPhase]
	if rec != nil && !rec.Sealed() {
		rec.EndedAt = &now
		deriveNextInputs(rec)
	}

	ctx.CurrentPhase = ctx.CurrentPhase.Next()
	ctx.UpdatedAt = now

	if ctx.CurrentPhase == models.PhaseCompleted {
		ctx.Active = false
		ctx.FinalReport = renderFinalReport(ctx)
		return
	}
	ctx.Records[ctx.CurrentPhase] = newRecord(ctx.CurrentPhase, now)
}

// deriveNextInputs extracts carried-forward inputs from a sealed
// record: discovered files out of SEARCH, read files out of READ,
// modified files out of MODIFY, test outcomes out of VERIFY.
func deriveNextInputs(rec *models.PhaseRecord) {
	switch rec.Phase {
	case models.PhaseSearch:
		rec.NextInputs["discovered_files"] = filesFromPayloads(rec.Results)
	case models.PhaseRead:
		rec.NextInputs["analyzed_tools"] = append([]string(nil), rec.Tools...)
	case models.PhaseModify:
		var modified []string
		for _, payload := range rec.Results {
			if s, ok := payload.(string); ok {
				if f := trailingPathWord(s); f != "" {
					modified = append(modified, f)
				}
			}
		}
		rec.NextInputs["modified_files"] = modified
	case models.PhaseVerify:
		rec.NextInputs["test_outcomes"] = strings.Split(rec.Summary, "\n")
	}
}

// filesFromPayloads collects file paths out of search-shaped payloads.
func filesFromPayloads(results map[string]any) []string {
	seen := make(map[string]bool)
	var files []string
	add := func(f string) {
		if f != "" && !seen[f] {
			seen[f] = true
			files = append(files, f)
		}
	}
	for _, payload := range results {
		switch v := payload.(type) {
		case []string:
			for _, f := range v {
				add(f)
			}
		case []tools.SearchMatch:
			for _, match := range v {
				add(match.File)
			}
		case []any:
			for _, item := range v {
				if f, ok := item.(string); ok {
					add(f)
				}
			}
		}
	}
	return files
}

// trailingPathWord returns the last whitespace-separated token of a
// payload line like "wrote 42 bytes to internal/app/main.go".
func trailingPathWord(s string) string {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

// EndWorkflow seals the session's context inactive without requiring
// the gate, leaving its records for inspection.
func (m *StateManager) EndWorkflow(sessionID string) error {
	m.mu.Lock()
	ctx, ok := m.contexts[sessionID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoActiveWorkflow, sessionID)
	}
	now := time.Now()
	if rec := ctx.Records[ctx.CurrentPhase]; rec != nil && !rec.Sealed() {
		rec.EndedAt = &now
		deriveNextInputs(rec)
	}
	ctx.Active = false
	ctx.UpdatedAt = now
	snapshot := ctx.Clone()
	m.mu.Unlock()

	m.notify(snapshot)
	return nil
}

// GetContext returns a snapshot of the session's workflow context, or
// nil if none exists.
func (m *StateManager) GetContext(sessionID string) *models.WorkflowContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctx, ok := m.contexts[sessionID]
	if !ok {
		return nil
	}
	return ctx.Clone()
}

// ActivePhase implements the coordinator's PhaseHinter: it reports the
// current phase of the session's active workflow.
func (m *StateManager) ActivePhase(sessionID string) (models.WorkflowPhase, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctx, ok := m.contexts[sessionID]
	if !ok || !ctx.Active {
		return models.PhaseIdle, false
	}
	return ctx.CurrentPhase, true
}

// PhaseElapsed returns how long the session's current phase has been
// open, and the profile's maximum for it.
func (m *StateManager) PhaseElapsed(sessionID string) (elapsed, max time.Duration, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctx, found := m.contexts[sessionID]
	if !found || !ctx.Active {
		return 0, 0, false
	}
	rec := ctx.Records[ctx.CurrentPhase]
	if rec == nil {
		return 0, 0, false
	}
	profile := m.profiles[ctx.CurrentPhase]
	return time.Since(rec.StartedAt), profile.MaxDuration, true
}

// notify delivers a context snapshot to every listener fire-and-forget.
func (m *StateManager) notify(snapshot *models.WorkflowContext) {
	m.mu.Lock()
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	for _, l := range listeners {
		go l(snapshot)
	}
}
