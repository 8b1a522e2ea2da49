package coordinator

import (
	"testing"

	"github.com/datanger/gemini-cli/pkg/models"
)

func inv(id string, priority int, deps ...string) *models.Invocation {
	return &models.Invocation{
		ID:        id,
		Tool:      "tool-" + id,
		Priority:  priority,
		DependsOn: deps,
	}
}

func ids(invs []*models.Invocation) []string {
	out := make([]string, 0, len(invs))
	for _, i := range invs {
		out = append(out, i.ID)
	}
	return out
}

func TestResolveNoDependencies(t *testing.T) {
	r := NewDependencyResolver()

	pending := []*models.Invocation{inv("a", 1), inv("b", 2), inv("c", 3)}
	part := r.Resolve(pending, map[string]bool{})

	if len(part.Executable) != 3 {
		t.Errorf("expected 3 executable, got %d", len(part.Executable))
	}
	if len(part.Blocked) != 0 || len(part.Circular) != 0 {
		t.Errorf("expected no blocked/circular, got %d/%d", len(part.Blocked), len(part.Circular))
	}
}

func TestResolveBlockedOnUnmetDependency(t *testing.T) {
	r := NewDependencyResolver()

	pending := []*models.Invocation{inv("a", 1), inv("b", 1, "a")}
	part := r.Resolve(pending, map[string]bool{})

	if len(part.Executable) != 1 || part.Executable[0].ID != "a" {
		t.Errorf("expected only a executable, got %v", ids(part.Executable))
	}
	if len(part.Blocked) != 1 || part.Blocked[0].ID != "b" {
		t.Errorf("expected b blocked, got %v", ids(part.Blocked))
	}
}

func TestResolveSatisfiedByCompletedSet(t *testing.T) {
	r := NewDependencyResolver()

	pending := []*models.Invocation{inv("b", 1, "a")}
	part := r.Resolve(pending, map[string]bool{"a": true})

	if len(part.Executable) != 1 || part.Executable[0].ID != "b" {
		t.Errorf("expected b executable once a completed, got %v", ids(part.Executable))
	}
}

func TestResolveThreeCycle(t *testing.T) {
	r := NewDependencyResolver()

	pending := []*models.Invocation{
		inv("a", 1, "b"),
		inv("b", 1, "c"),
		inv("c", 1, "a"),
	}
	part := r.Resolve(pending, map[string]bool{})

	if len(part.Circular) != 3 {
		t.Fatalf("expected all 3 circular, got %v", ids(part.Circular))
	}
	if len(part.Executable) != 0 || len(part.Blocked) != 0 {
		t.Errorf("expected no executable/blocked, got %v/%v", ids(part.Executable), ids(part.Blocked))
	}
}

func TestResolveDependentOfCycleIsBlockedNotCircular(t *testing.T) {
	r := NewDependencyResolver()

	pending := []*models.Invocation{
		inv("a", 1, "b"),
		inv("b", 1, "a"),
		inv("d", 1, "a"),
	}
	part := r.Resolve(pending, map[string]bool{})

	if len(part.Circular) != 2 {
		t.Errorf("expected a and b circular, got %v", ids(part.Circular))
	}
	if len(part.Blocked) != 1 || part.Blocked[0].ID != "d" {
		t.Errorf("expected d blocked, got %v", ids(part.Blocked))
	}
}

func TestResolveSelfDependency(t *testing.T) {
	r := NewDependencyResolver()

	pending := []*models.Invocation{inv("a", 1, "a")}
	part := r.Resolve(pending, map[string]bool{})

	if len(part.Circular) != 1 {
		t.Errorf("expected self-dependent invocation circular, got %v", ids(part.Circular))
	}
}

func TestSortByPriorityStable(t *testing.T) {
	r := NewDependencyResolver()

	invs := []*models.Invocation{
		inv("low", 10),
		inv("high", 100),
		inv("mid-1", 50),
		inv("mid-2", 50),
	}
	sorted := r.SortByPriority(invs)

	want := []string{"high", "mid-1", "mid-2", "low"}
	got := ids(sorted)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sort order mismatch: got %v, want %v", got, want)
		}
	}

	// Input slice is untouched.
	if invs[0].ID != "low" {
		t.Errorf("SortByPriority mutated its input")
	}
}

func TestUpdateDependencies(t *testing.T) {
	r := NewDependencyResolver()

	pending := []*models.Invocation{
		inv("b", 1, "a", "x"),
		inv("c", 1, "a"),
	}
	r.UpdateDependencies(pending, "a")

	if len(pending[0].DependsOn) != 1 || pending[0].DependsOn[0] != "x" {
		t.Errorf("expected b to retain only x, got %v", pending[0].DependsOn)
	}
	if len(pending[1].DependsOn) != 0 {
		t.Errorf("expected c to have no dependencies, got %v", pending[1].DependsOn)
	}
}
