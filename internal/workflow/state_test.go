package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/datanger/gemini-cli/internal/tools"
	"github.com/datanger/gemini-cli/pkg/models"
)

func nopBackend(ctx context.Context, args map[string]any) (any, error) {
	return nil, nil
}

// workflowRegistry registers one tool per role, backends unused.
func workflowRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry()
	set := []tools.Tool{
		{Name: "search_files", Role: tools.RoleSearch, Backend: tools.BackendFunc(nopBackend)},
		{Name: "read_file", Role: tools.RoleRead, Backend: tools.BackendFunc(nopBackend)},
		{Name: "edit_file", Role: tools.RoleModify, Backend: tools.BackendFunc(nopBackend)},
		{Name: "run_tests", Role: tools.RoleVerify, Backend: tools.BackendFunc(nopBackend)},
	}
	for _, tool := range set {
		if err := reg.Register(tool); err != nil {
			t.Fatalf("register %s: %v", tool.Name, err)
		}
	}
	return reg
}

func newTestManager(t *testing.T) *StateManager {
	return NewStateManager(workflowRegistry(t), nil)
}

func TestStartWorkflowOpensAtSearch(t *testing.T) {
	m := newTestManager(t)

	ctx, err := m.StartWorkflow("s1", "fix the parser bug", "fix", "general")
	if err != nil {
		t.Fatalf("StartWorkflow failed: %v", err)
	}
	if ctx.CurrentPhase != models.PhaseSearch {
		t.Errorf("phase = %s, want %s", ctx.CurrentPhase, models.PhaseSearch)
	}
	if !ctx.Active {
		t.Error("new workflow should be active")
	}
	rec := ctx.Records[models.PhaseSearch]
	if rec == nil || rec.Sealed() {
		t.Error("SEARCH record should be open")
	}
}

func TestStartWorkflowRejectsActiveDuplicate(t *testing.T) {
	m := newTestManager(t)

	if _, err := m.StartWorkflow("s1", "task", "fix", "general"); err != nil {
		t.Fatalf("first StartWorkflow failed: %v", err)
	}
	if _, err := m.StartWorkflow("s1", "task", "fix", "general"); err == nil {
		t.Error("expected error starting a second active workflow")
	}
}

func TestRecordToolResultRequiresActiveWorkflow(t *testing.T) {
	m := newTestManager(t)

	if err := m.RecordToolResult("nope", "search_files", []string{"a.go"}, "found"); err == nil {
		t.Error("expected error without an active workflow")
	}
}

func TestPhaseAdvancesOneStepPerSatisfiedGate(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.StartWorkflow("s1", "fix the parser bug", "fix", "general"); err != nil {
		t.Fatalf("StartWorkflow failed: %v", err)
	}

	// A satisfying search result advances SEARCH -> READ, one step only.
	if err := m.RecordToolResult("s1", "search_files", []string{"a.go", "b.go"}, "search_files found 2 entries"); err != nil {
		t.Fatalf("RecordToolResult failed: %v", err)
	}
	if phase, _ := m.ActivePhase("s1"); phase != models.PhaseRead {
		t.Fatalf("after search: phase = %s, want %s", phase, models.PhaseRead)
	}

	// A satisfying read advances READ -> MODIFY; never skips.
	if err := m.RecordToolResult("s1", "read_file", "contents", "read_file: package parser"); err != nil {
		t.Fatalf("RecordToolResult failed: %v", err)
	}
	if phase, _ := m.ActivePhase("s1"); phase != models.PhaseModify {
		t.Fatalf("after read: phase = %s, want %s", phase, models.PhaseModify)
	}

	// A modify result whose summary shows a change advances to VERIFY.
	if err := m.RecordToolResult("s1", "edit_file", "edited a.go", "edit_file: edited a.go"); err != nil {
		t.Fatalf("RecordToolResult failed: %v", err)
	}
	if phase, _ := m.ActivePhase("s1"); phase != models.PhaseVerify {
		t.Fatalf("after modify: phase = %s, want %s", phase, models.PhaseVerify)
	}

	// Verification completes the workflow.
	if err := m.RecordToolResult("s1", "run_tests", "ok", "run_tests: verification passed"); err != nil {
		t.Fatalf("RecordToolResult failed: %v", err)
	}
	ctx := m.GetContext("s1")
	if ctx.CurrentPhase != models.PhaseCompleted {
		t.Fatalf("final phase = %s, want %s", ctx.CurrentPhase, models.PhaseCompleted)
	}
	if ctx.Active {
		t.Error("completed workflow should be inactive")
	}
	if ctx.FinalReport == "" {
		t.Error("completed workflow should carry a final report")
	}
}

func TestGateBlocksWithoutRequiredRole(t *testing.T) {
	m := newTestManager(t)
	m.StartWorkflow("s1", "task", "fix", "general")

	// A read result during SEARCH does not satisfy the search gate.
	if err := m.RecordToolResult("s1", "read_file", "contents", "read_file: stuff"); err != nil {
		t.Fatalf("RecordToolResult failed: %v", err)
	}
	if phase, _ := m.ActivePhase("s1"); phase != models.PhaseSearch {
		t.Errorf("phase advanced without the required role: %s", phase)
	}
}

func TestGateBlocksOnEmptySearchResults(t *testing.T) {
	m := newTestManager(t)
	m.StartWorkflow("s1", "task", "fix", "general")

	if err := m.RecordToolResult("s1", "search_files", []string{}, "search_files found 0 entries"); err != nil {
		t.Fatalf("RecordToolResult failed: %v", err)
	}
	if phase, _ := m.ActivePhase("s1"); phase != models.PhaseSearch {
		t.Errorf("empty search results must not advance the phase: %s", phase)
	}
}

func TestGateBlocksModifyWithoutChangeSummary(t *testing.T) {
	m := newTestManager(t)
	m.StartWorkflow("s1", "task", "fix", "general")
	m.RecordToolResult("s1", "search_files", []string{"a.go"}, "search_files found 1 entries")
	m.RecordToolResult("s1", "read_file", "contents", "read_file: contents")

	// A modify result whose summary shows no change keeps readiness false.
	if err := m.RecordToolResult("s1", "edit_file", "noop", "edit_file: nothing to do"); err != nil {
		t.Fatalf("RecordToolResult failed: %v", err)
	}
	if phase, _ := m.ActivePhase("s1"); phase != models.PhaseModify {
		t.Errorf("modify advanced without a change summary: %s", phase)
	}
	if m.PhaseReady("s1") {
		t.Error("readiness should stay false")
	}
}

func TestGateBlocksPastMaxDurationWithoutAborting(t *testing.T) {
	profiles := DefaultProfiles()
	p := profiles[models.PhaseSearch]
	p.MaxDuration = time.Nanosecond
	profiles[models.PhaseSearch] = p

	m := NewStateManager(workflowRegistry(t), profiles)
	m.StartWorkflow("s1", "task", "fix", "general")
	time.Sleep(time.Millisecond)

	if err := m.RecordToolResult("s1", "search_files", []string{"a.go"}, "search_files found 1 entries"); err != nil {
		t.Fatalf("RecordToolResult failed: %v", err)
	}
	phase, active := m.ActivePhase("s1")
	if phase != models.PhaseSearch {
		t.Errorf("timed-out phase must not advance: %s", phase)
	}
	if !active {
		t.Error("the gate must never abort on its own")
	}
}

func TestSealingPreservesRecordContents(t *testing.T) {
	m := newTestManager(t)
	m.StartWorkflow("s1", "task", "fix", "general")
	m.RecordToolResult("s1", "search_files", []string{"a.go"}, "search_files found 1 entries")

	ctx := m.GetContext("s1")
	rec := ctx.Records[models.PhaseSearch]
	if !rec.Sealed() {
		t.Fatal("SEARCH record should be sealed after transition")
	}
	if len(rec.Tools) != 1 || rec.Tools[0] != "search_files" {
		t.Errorf("sealing changed tools: %v", rec.Tools)
	}
	if rec.Summary != "search_files found 1 entries" {
		t.Errorf("sealing changed summary: %q", rec.Summary)
	}
	if _, ok := rec.Results["search_files"]; !ok {
		t.Error("sealing dropped results")
	}
	files := rec.NextInputs["discovered_files"]
	if len(files) != 1 || files[0] != "a.go" {
		t.Errorf("derived inputs = %v, want [a.go]", files)
	}
}

func TestForceTransitionBypassesGate(t *testing.T) {
	m := newTestManager(t)
	m.StartWorkflow("s1", "task", "fix", "general")

	if err := m.ForceTransitionToNextPhase("s1"); err != nil {
		t.Fatalf("ForceTransitionToNextPhase failed: %v", err)
	}
	if phase, _ := m.ActivePhase("s1"); phase != models.PhaseRead {
		t.Errorf("forced phase = %s, want %s", phase, models.PhaseRead)
	}
}

func TestTransitionToNextPhaseRejectsUnreadyGate(t *testing.T) {
	m := newTestManager(t)
	m.StartWorkflow("s1", "task", "fix", "general")

	if err := m.TransitionToNextPhase("s1"); err == nil {
		t.Error("expected error transitioning an unready phase")
	}
}

func TestEndWorkflowSealsInactive(t *testing.T) {
	m := newTestManager(t)
	m.StartWorkflow("s1", "task", "fix", "general")

	if err := m.EndWorkflow("s1"); err != nil {
		t.Fatalf("EndWorkflow failed: %v", err)
	}
	ctx := m.GetContext("s1")
	if ctx.Active {
		t.Error("ended workflow should be inactive")
	}
	if _, active := m.ActivePhase("s1"); active {
		t.Error("ActivePhase should report no active workflow")
	}
	if !ctx.Records[models.PhaseSearch].Sealed() {
		t.Error("open record should be sealed on end")
	}
}

func TestGetContextReturnsSnapshot(t *testing.T) {
	m := newTestManager(t)
	m.StartWorkflow("s1", "task", "fix", "general")

	snap := m.GetContext("s1")
	snap.Task = "mutated"
	snap.Records[models.PhaseSearch].Tools = append(snap.Records[models.PhaseSearch].Tools, "bogus")

	fresh := m.GetContext("s1")
	if fresh.Task != "task" {
		t.Error("snapshot mutation leaked into manager state")
	}
	if len(fresh.Records[models.PhaseSearch].Tools) != 0 {
		t.Error("record mutation leaked into manager state")
	}
}

func TestListenersReceiveSnapshots(t *testing.T) {
	m := newTestManager(t)

	ch := make(chan *models.WorkflowContext, 4)
	m.AddListener(func(ctx *models.WorkflowContext) {
		ch <- ctx
	})

	m.StartWorkflow("s1", "task", "fix", "general")

	select {
	case got := <-ch:
		if got.SessionID != "s1" {
			t.Errorf("listener context = %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("listener was never notified")
	}
}
