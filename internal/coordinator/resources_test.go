package coordinator

import (
	"fmt"
	"testing"

	"github.com/datanger/gemini-cli/pkg/models"
)

// categoryMap is a CategorySource backed by a plain map.
type categoryMap map[string]string

func (m categoryMap) CategoryFor(tool string) (string, bool) {
	cat, ok := m[tool]
	return cat, ok
}

func TestCategoryForRegisteredTool(t *testing.T) {
	m := NewResourceManager(categoryMap{
		"read_file":  "file_operations",
		"run_tests":  "shell_commands",
		"web_search": "network_requests",
		"noop":       "something_else",
	}, DefaultResourceLimits())

	tests := []struct {
		tool string
		want ResourceCategory
	}{
		{"read_file", CategoryFileOps},
		{"run_tests", CategoryShell},
		{"web_search", CategoryNetwork},
		{"noop", CategoryGeneral},
	}
	for _, tt := range tests {
		got := m.CategoryFor(&models.Invocation{ID: "x", Tool: tt.tool})
		if got != tt.want {
			t.Errorf("CategoryFor(%s) = %s, want %s", tt.tool, got, tt.want)
		}
	}
}

func TestCategoryForNameHeuristicFallback(t *testing.T) {
	m := NewResourceManager(nil, DefaultResourceLimits())

	tests := []struct {
		tool string
		want ResourceCategory
	}{
		{"edit_buffer", CategoryFileOps},
		{"http_fetch", CategoryNetwork},
		{"exec_step", CategoryShell},
		{"think", CategoryGeneral},
	}
	for _, tt := range tests {
		got := m.CategoryFor(&models.Invocation{ID: "x", Tool: tt.tool})
		if got != tt.want {
			t.Errorf("CategoryFor(%s) = %s, want %s", tt.tool, got, tt.want)
		}
	}
}

func TestAllocateReleaseRoundTrip(t *testing.T) {
	m := NewResourceManager(categoryMap{"read_file": "file_operations"}, DefaultResourceLimits())

	before, _ := m.Usage(CategoryFileOps)

	i := &models.Invocation{ID: "r1", Tool: "read_file"}
	if !m.Allocate(i) {
		t.Fatal("allocation should succeed with headroom")
	}
	during, _ := m.Usage(CategoryFileOps)
	if during != before+1 {
		t.Errorf("usage during = %d, want %d", during, before+1)
	}

	m.Release(i)
	after, _ := m.Usage(CategoryFileOps)
	if after != before {
		t.Errorf("usage after release = %d, want %d", after, before)
	}
}

func TestAllocateDeniedAtLimitWithoutMutating(t *testing.T) {
	m := NewResourceManager(categoryMap{"sh": "shell_commands"}, ResourceLimits{Shell: 1})

	a := &models.Invocation{ID: "a", Tool: "sh"}
	b := &models.Invocation{ID: "b", Tool: "sh"}

	if !m.Allocate(a) {
		t.Fatal("first allocation should succeed")
	}
	if m.CheckAvailability(b) {
		t.Error("availability check should report exhaustion")
	}
	if m.Allocate(b) {
		t.Error("second allocation should be denied")
	}
	if used, _ := m.Usage(CategoryShell); used != 1 {
		t.Errorf("denied allocation mutated usage: %d", used)
	}

	m.Release(a)
	if !m.Allocate(b) {
		t.Error("allocation should succeed after release")
	}
}

func TestAllocateIdempotentPerInvocation(t *testing.T) {
	m := NewResourceManager(categoryMap{"sh": "shell_commands"}, ResourceLimits{Shell: 2})

	i := &models.Invocation{ID: "a", Tool: "sh"}
	m.Allocate(i)
	m.Allocate(i)

	if used, _ := m.Usage(CategoryShell); used != 1 {
		t.Errorf("double allocation double-counted: used=%d", used)
	}
}

func TestReleaseNeverGoesBelowZero(t *testing.T) {
	m := NewResourceManager(nil, DefaultResourceLimits())

	i := &models.Invocation{ID: "ghost", Tool: "write_file"}
	m.Release(i)
	m.Release(i)

	if used, _ := m.Usage(CategoryFileOps); used != 0 {
		t.Errorf("usage went negative or nonzero: %d", used)
	}
}

func TestGeneralCategoryUncapped(t *testing.T) {
	m := NewResourceManager(nil, DefaultResourceLimits())

	for n := 0; n < 100; n++ {
		i := &models.Invocation{ID: fmt.Sprintf("g-%d", n), Tool: "think"}
		if !m.Allocate(i) {
			t.Fatalf("general allocation %d denied", n)
		}
	}
}
