package models

import "time"

// WorkflowPhase represents one stage of a structured task workflow.
type WorkflowPhase string

const (
	// PhaseIdle indicates no workflow has started for the session.
	PhaseIdle WorkflowPhase = "idle"
	// PhaseSearch is the discovery stage: locate relevant files.
	PhaseSearch WorkflowPhase = "search"
	// PhaseRead is the analysis stage: read and understand discovered files.
	PhaseRead WorkflowPhase = "read"
	// PhaseModify is the change stage: edit or write files.
	PhaseModify WorkflowPhase = "modify"
	// PhaseVerify is the validation stage: run tests or checks.
	PhaseVerify WorkflowPhase = "verify"
	// PhaseCompleted indicates the workflow finished all stages.
	PhaseCompleted WorkflowPhase = "completed"
)

// phaseOrder fixes the total order of phases. PhaseIdle is pre-start only.
var phaseOrder = []WorkflowPhase{
	PhaseIdle, PhaseSearch, PhaseRead, PhaseModify, PhaseVerify, PhaseCompleted,
}

// Valid returns true if the phase is a known value.
func (p WorkflowPhase) Valid() bool {
	for _, ph := range phaseOrder {
		if p == ph {
			return true
		}
	}
	return false
}

// Next returns the phase that follows p in the fixed order.
// PhaseCompleted has no successor and returns itself.
func (p WorkflowPhase) Next() WorkflowPhase {
	for i, ph := range phaseOrder {
		if p == ph && i+1 < len(phaseOrder) {
			return phaseOrder[i+1]
		}
	}
	return PhaseCompleted
}

// PhaseRecord captures everything that happened during one phase of one
// task. It is opened when the phase starts and sealed on transition out;
// a sealed record is never mutated again.
type PhaseRecord struct {
	// Phase identifies which stage this record covers.
	Phase WorkflowPhase `json:"phase"`
	// StartedAt is when the phase opened.
	StartedAt time.Time `json:"started_at"`
	// EndedAt is when the phase was sealed, nil while open.
	EndedAt *time.Time `json:"ended_at,omitempty"`
	// Tools lists the tool names used during this phase, in order.
	Tools []string `json:"tools,omitempty"`
	// Results maps tool name to its recorded payload.
	Results map[string]any `json:"results,omitempty"`
	// Summary is the running human-readable summary of the phase.
	Summary string `json:"summary,omitempty"`
	// NextInputs carries derived inputs for the following phase
	// (discovered files, identified issues, modified files, test outcomes).
	NextInputs map[string][]string `json:"next_inputs,omitempty"`
}

// Sealed returns true once the record has been closed by a transition.
func (r *PhaseRecord) Sealed() bool {
	return r != nil && r.EndedAt != nil
}

// WorkflowContext is the full state of one structured task, exclusively
// owned and indexed by session ID inside the workflow state manager.
type WorkflowContext struct {
	// SessionID identifies the owning session.
	SessionID string `json:"session_id"`
	// Task is the raw task description the workflow was started from.
	Task string `json:"task"`
	// Objective is the derived human-readable objective.
	Objective string `json:"objective"`
	// Scope is the derived scope keyword ("general" when none matched).
	Scope string `json:"scope"`
	// CurrentPhase is the phase the workflow is positioned at.
	CurrentPhase WorkflowPhase `json:"current_phase"`
	// Records maps each reached phase to its record.
	Records map[WorkflowPhase]*PhaseRecord `json:"records"`
	// Active is true until the workflow completes or is terminated.
	Active bool `json:"active"`
	// StartedAt is when the workflow began.
	StartedAt time.Time `json:"started_at"`
	// UpdatedAt is when the context last changed.
	UpdatedAt time.Time `json:"updated_at"`
	// FinalReport is the synthesized report, set on completion.
	FinalReport string `json:"final_report,omitempty"`
}

// Record returns the phase record for the given phase, or nil if the
// phase has not been reached.
func (c *WorkflowContext) Record(p WorkflowPhase) *PhaseRecord {
	if c == nil {
		return nil
	}
	return c.Records[p]
}

// Clone returns a deep-enough copy for listener notification: records
// are copied so a listener cannot mutate the manager's own state.
func (c *WorkflowContext) Clone() *WorkflowContext {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Records = make(map[WorkflowPhase]*PhaseRecord, len(c.Records))
	for ph, rec := range c.Records {
		if rec == nil {
			continue
		}
		r := *rec
		r.Tools = append([]string(nil), rec.Tools...)
		r.Results = make(map[string]any, len(rec.Results))
		for k, v := range rec.Results {
			r.Results[k] = v
		}
		r.NextInputs = make(map[string][]string, len(rec.NextInputs))
		for k, v := range rec.NextInputs {
			r.NextInputs[k] = append([]string(nil), v...)
		}
		cp.Records[ph] = &r
	}
	return &cp
}
