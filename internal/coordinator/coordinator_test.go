package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/datanger/gemini-cli/internal/tools"
	"github.com/datanger/gemini-cli/pkg/models"
)

// flakyBackend fails a configured number of times before succeeding.
type flakyBackend struct {
	failures int32
	failErr  error
	payload  any
}

func (b *flakyBackend) Execute(ctx context.Context, args map[string]any) (any, error) {
	if atomic.AddInt32(&b.failures, -1) >= 0 {
		return nil, b.failErr
	}
	return b.payload, nil
}

func okBackend(payload any) tools.BackendFunc {
	return func(ctx context.Context, args map[string]any) (any, error) {
		return payload, nil
	}
}

func failBackend(err error) tools.BackendFunc {
	return func(ctx context.Context, args map[string]any) (any, error) {
		return nil, err
	}
}

// testRegistry registers the standard role set over fake backends.
func testRegistry(t *testing.T, overrides map[string]tools.Tool) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry()

	defaults := []tools.Tool{
		{Name: "search_files", Role: tools.RoleSearch, Category: "network_requests", Backend: okBackend([]string{"a.go"})},
		{Name: "read_file", Role: tools.RoleRead, Category: "file_operations", Backend: okBackend("contents")},
		{Name: "edit_file", Role: tools.RoleModify, Category: "file_operations", Backend: okBackend("edited a.go")},
		{Name: "run_tests", Role: tools.RoleVerify, Category: "shell_commands", Backend: okBackend("verification passed")},
	}
	for _, d := range defaults {
		if o, ok := overrides[d.Name]; ok {
			d = o
		}
		if err := reg.Register(d); err != nil {
			t.Fatalf("register %s: %v", d.Name, err)
		}
	}
	for name, o := range overrides {
		if _, exists := reg.Lookup(name); !exists {
			if err := reg.Register(o); err != nil {
				t.Fatalf("register %s: %v", name, err)
			}
		}
	}
	return reg
}

func fastConfig() Config {
	return Config{
		MaxConcurrent:     4,
		PollInterval:      time.Millisecond,
		RetryBaseDelay:    time.Millisecond,
		DefaultTimeout:    5 * time.Second,
		DefaultMaxRetries: 3,
	}
}

func TestCoordinateSingleSuccess(t *testing.T) {
	c := New(testRegistry(t, nil), fastConfig())

	results, err := c.CoordinateExecution(context.Background(), "s1", []Request{
		{Tool: "search_files", Args: map[string]any{"pattern": "foo"}},
	})
	if err != nil {
		t.Fatalf("CoordinateExecution failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if !results[0].Success || results[0].Tool != "search_files" {
		t.Errorf("unexpected result: %+v", results[0])
	}
}

func TestCoordinateRetriesTimeoutFlavoredFailure(t *testing.T) {
	reg := testRegistry(t, map[string]tools.Tool{
		"search_files": {
			Name: "search_files", Role: tools.RoleSearch, Category: "network_requests",
			Backend: &flakyBackend{
				failures: 2,
				failErr:  errors.New("request timed out"),
				payload:  []string{"a.go"},
			},
		},
	})
	c := New(reg, fastConfig())

	results, err := c.CoordinateExecution(context.Background(), "s1", []Request{
		{Tool: "search_files", Args: map[string]any{"pattern": "foo"}},
	})
	if err != nil {
		t.Fatalf("CoordinateExecution failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if !results[0].Success {
		t.Fatalf("expected success after retries, got %+v", results[0])
	}
	if results[0].RetryCount != 2 {
		t.Errorf("retry count = %d, want 2", results[0].RetryCount)
	}
}

func TestCoordinateParameterErrorSurfacesImmediately(t *testing.T) {
	reg := testRegistry(t, map[string]tools.Tool{
		"read_file": {
			Name: "read_file", Role: tools.RoleRead, Category: "file_operations",
			Backend: failBackend(errors.New("invalid parameter: path")),
		},
	})
	c := New(reg, fastConfig())

	results, err := c.CoordinateExecution(context.Background(), "s1", []Request{
		{Tool: "read_file", Args: map[string]any{}},
	})
	if err != nil {
		t.Fatalf("CoordinateExecution failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Success {
		t.Fatal("parameter error should fail")
	}
	if results[0].RetryCount != 0 {
		t.Errorf("parameter error retried %d times", results[0].RetryCount)
	}
}

func TestCoordinateFallbackSubstitution(t *testing.T) {
	reg := testRegistry(t, map[string]tools.Tool{
		"search_files": {
			Name: "search_files", Role: tools.RoleSearch, Category: "network_requests",
			Fallback: "glob",
			Backend:  failBackend(errors.New("search backend exploded badly")),
		},
		"glob": {
			Name: "glob", Role: tools.RoleSearch, Category: "network_requests",
			Backend: okBackend([]string{"b.go"}),
		},
	})
	c := New(reg, fastConfig())

	results, err := c.CoordinateExecution(context.Background(), "s1", []Request{
		{Tool: "search_files", Args: map[string]any{"pattern": "foo"}},
	})
	if err != nil {
		t.Fatalf("CoordinateExecution failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result from the fallback, got %d", len(results))
	}
	if !results[0].Success || results[0].Tool != "glob" {
		t.Errorf("expected successful glob fallback, got %+v", results[0])
	}
}

func TestModifyBlockedWithoutReadAcrossBatches(t *testing.T) {
	c := New(testRegistry(t, nil), fastConfig())
	ctx := context.Background()

	// A modify submitted with no read anywhere stays blocked.
	results, err := c.CoordinateExecution(ctx, "s1", []Request{
		{Tool: "edit_file", Args: map[string]any{"path": "a.go"}},
	})
	if err != nil {
		t.Fatalf("CoordinateExecution failed: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("modify without read must not execute, got %v", results)
	}
	if c.BacklogSize("s1") != 1 {
		t.Fatalf("blocked modify should stay queued, backlog=%d", c.BacklogSize("s1"))
	}

	// A later batch with a read unblocks it: both settle in this call.
	results, err = c.CoordinateExecution(ctx, "s1", []Request{
		{Tool: "read_file", Args: map[string]any{"path": "a.go"}},
	})
	if err != nil {
		t.Fatalf("CoordinateExecution failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected read plus unblocked modify, got %d results", len(results))
	}
	for _, r := range results {
		if !r.Success {
			t.Errorf("unexpected failure: %+v", r)
		}
	}
	if c.BacklogSize("s1") != 0 {
		t.Errorf("backlog should drain, got %d", c.BacklogSize("s1"))
	}
}

func TestModifyInSameBatchRunsAfterRead(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(name string, payload any) tools.BackendFunc {
		return func(ctx context.Context, args map[string]any) (any, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return payload, nil
		}
	}

	reg := testRegistry(t, map[string]tools.Tool{
		"read_file": {Name: "read_file", Role: tools.RoleRead, Category: "file_operations",
			Backend: record("read_file", "contents")},
		"edit_file": {Name: "edit_file", Role: tools.RoleModify, Category: "file_operations",
			Backend: record("edit_file", "edited a.go")},
	})
	c := New(reg, fastConfig())

	results, err := c.CoordinateExecution(context.Background(), "s1", []Request{
		{Tool: "edit_file", Args: map[string]any{"path": "a.go"}},
		{Tool: "read_file", Args: map[string]any{"path": "a.go"}},
	})
	if err != nil {
		t.Fatalf("CoordinateExecution failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected both to settle, got %d", len(results))
	}
	if len(order) != 2 || order[0] != "read_file" || order[1] != "edit_file" {
		t.Errorf("expected read before edit, got %v", order)
	}
}

func TestVerifyDependsOnModify(t *testing.T) {
	c := New(testRegistry(t, nil), fastConfig())

	// verify alone stays blocked on the modify marker.
	results, err := c.CoordinateExecution(context.Background(), "s1", []Request{
		{Tool: "run_tests", Args: map[string]any{}},
	})
	if err != nil {
		t.Fatalf("CoordinateExecution failed: %v", err)
	}
	if len(results) != 0 || c.BacklogSize("s1") != 1 {
		t.Fatalf("verify without modify must stay queued: results=%d backlog=%d",
			len(results), c.BacklogSize("s1"))
	}
}

func TestExplicitDependsOnOverridesRoleEdges(t *testing.T) {
	c := New(testRegistry(t, nil), fastConfig())

	// An explicit empty-satisfiable dependency list wins over the
	// standing modify->read edge.
	results, err := c.CoordinateExecution(context.Background(), "s1", []Request{
		{Tool: "search_files", Args: map[string]any{"pattern": "x"}, DependsOn: []string{}},
		{Tool: "edit_file", Args: map[string]any{"path": "a.go"}, DependsOn: []string{"role:read"}},
	})
	if err != nil {
		t.Fatalf("CoordinateExecution failed: %v", err)
	}
	if len(results) != 1 || results[0].Tool != "search_files" {
		t.Fatalf("expected only search to settle, got %v", results)
	}
}

func TestCoordinateCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New(testRegistry(t, nil), fastConfig())
	results, err := c.CoordinateExecution(ctx, "s1", []Request{
		{Tool: "search_files", Args: map[string]any{"pattern": "x"}},
	})
	if err != nil {
		t.Fatalf("CoordinateExecution failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("cancelled call should settle nothing, got %v", results)
	}
}

func TestPerInvocationTimeout(t *testing.T) {
	reg := testRegistry(t, map[string]tools.Tool{
		"search_files": {
			Name: "search_files", Role: tools.RoleSearch, Category: "network_requests",
			Backend: tools.BackendFunc(func(ctx context.Context, args map[string]any) (any, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			}),
		},
	})
	c := New(reg, fastConfig())

	start := time.Now()
	results, err := c.CoordinateExecution(context.Background(), "s1", []Request{
		{Tool: "search_files", Args: map[string]any{}, Timeout: 20 * time.Millisecond, MaxRetries: 1},
	})
	if err != nil {
		t.Fatalf("CoordinateExecution failed: %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatal("timeout did not cut execution short")
	}
	if len(results) != 1 || results[0].Success {
		t.Fatalf("expected a failed timeout result, got %v", results)
	}
}

type phaseStub struct {
	phase models.WorkflowPhase
}

func (p phaseStub) ActivePhase(sessionID string) (models.WorkflowPhase, bool) {
	return p.phase, true
}

func TestPhaseDerivedPriorities(t *testing.T) {
	c := New(testRegistry(t, nil), fastConfig(), WithPhaseHinter(phaseStub{phase: models.PhaseSearch}))
	ss := c.session("s1")

	invs := c.buildInvocations("s1", []Request{
		{Tool: "search_files"},
		{Tool: "read_file"},
		{Tool: "run_tests"},
	}, ss)

	if invs[0].Priority != priorityPrimary {
		t.Errorf("search priority = %d, want %d", invs[0].Priority, priorityPrimary)
	}
	if invs[1].Priority != prioritySecondary {
		t.Errorf("read priority = %d, want %d", invs[1].Priority, prioritySecondary)
	}
	if invs[2].Priority != priorityDefault {
		t.Errorf("verify priority = %d, want %d", invs[2].Priority, priorityDefault)
	}
}

func TestBroadcastReachesSinkAndListeners(t *testing.T) {
	c := New(testRegistry(t, nil), fastConfig())

	var mu sync.Mutex
	var sinkCalls []string
	c.SetWorkflowSink(func(sessionID, tool string, payload any, success bool, errMsg string) {
		mu.Lock()
		sinkCalls = append(sinkCalls, tool)
		mu.Unlock()
	})

	listenerCh := make(chan models.ExecutionResult, 1)
	c.AddResultListener(func(sessionID string, res models.ExecutionResult) {
		listenerCh <- res
	})

	_, err := c.CoordinateExecution(context.Background(), "s1", []Request{
		{Tool: "search_files", Args: map[string]any{"pattern": "x"}},
	})
	if err != nil {
		t.Fatalf("CoordinateExecution failed: %v", err)
	}

	mu.Lock()
	if len(sinkCalls) != 1 || sinkCalls[0] != "search_files" {
		t.Errorf("sink calls = %v", sinkCalls)
	}
	mu.Unlock()

	select {
	case res := <-listenerCh:
		if res.Tool != "search_files" {
			t.Errorf("listener got %+v", res)
		}
	case <-time.After(time.Second):
		t.Error("listener was never notified")
	}
}

func TestResourceDenialRequeuesNotDrops(t *testing.T) {
	reg := testRegistry(t, nil)
	rm := NewResourceManager(reg, ResourceLimits{FileOps: 1, Network: 1, Shell: 1})
	c := New(reg, fastConfig(), WithResourceManager(rm))

	// Saturate the file quota from the outside, then release it shortly
	// after: the coordinator must wait, not drop the invocation.
	hold := &models.Invocation{ID: "hold", Tool: "read_file"}
	if !rm.Allocate(hold) {
		t.Fatal("setup allocation failed")
	}
	go func() {
		time.Sleep(30 * time.Millisecond)
		rm.Release(hold)
	}()

	results, err := c.CoordinateExecution(context.Background(), "s1", []Request{
		{Tool: "read_file", Args: map[string]any{"path": "a.go"}},
	})
	if err != nil {
		t.Fatalf("CoordinateExecution failed: %v", err)
	}
	if len(results) != 1 || !results[0].Success {
		t.Fatalf("expected the held invocation to run eventually, got %v", results)
	}
}

func TestEndSessionDiscardsBacklog(t *testing.T) {
	c := New(testRegistry(t, nil), fastConfig())

	_, err := c.CoordinateExecution(context.Background(), "s1", []Request{
		{Tool: "edit_file", Args: map[string]any{"path": "a.go"}},
	})
	if err != nil {
		t.Fatalf("CoordinateExecution failed: %v", err)
	}
	if c.BacklogSize("s1") != 1 {
		t.Fatalf("expected blocked backlog, got %d", c.BacklogSize("s1"))
	}

	c.EndSession("s1")
	if c.BacklogSize("s1") != 0 {
		t.Errorf("EndSession left a backlog of %d", c.BacklogSize("s1"))
	}
}
