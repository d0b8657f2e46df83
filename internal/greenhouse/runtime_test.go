package greenhouse

import (
	"context"
	"testing"
	"time"

	"github.com/greenhouse-network/sentinel/internal/orchestrator"
	"github.com/rs/zerolog"
)

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	t.Setenv("GREENHOUSE_HOME", t.TempDir())
	rt, err := New(DefaultConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	t.Cleanup(func() {
		if rt.cancel != nil {
			rt.Stop()
		} else {
			rt.History.Close()
			rt.EventLog.Close()
		}
	})
	return rt
}

func TestNew_WiresEveryComponent(t *testing.T) {
	rt := newTestRuntime(t)
	if rt.Twin == nil || rt.Safety == nil || rt.Bus == nil || rt.Agents == nil ||
		rt.Bridge == nil || rt.Orchestrator == nil || rt.Finance == nil ||
		rt.UI == nil || rt.Command == nil || rt.History == nil {
		t.Fatal("expected every component wired, got a nil field")
	}
}

func TestNew_RegistersValidationChainRoles(t *testing.T) {
	rt := newTestRuntime(t)
	for _, role := range []string{"coder", "tester", "documenter", "validator", "climate"} {
		if _, err := rt.Agents.Spawn(context.Background(), role, role+"-probe", nil); err != nil {
			t.Fatalf("expected role %q registered, spawn failed: %v", role, err)
		}
	}
}

func TestRunGoal_CompletesAndRecordsHistory(t *testing.T) {
	rt := newTestRuntime(t)
	for _, spec := range []struct{ role, id string }{
		{"coder", "coder-1"}, {"tester", "tester-1"},
		{"documenter", "documenter-1"}, {"validator", "validator-1"},
	} {
		if _, err := rt.Agents.Spawn(context.Background(), spec.role, spec.id, nil); err != nil {
			t.Fatalf("spawn %s: %v", spec.id, err)
		}
	}

	state, err := rt.RunGoal(context.Background(), "grow healthier tomatoes")
	if err != nil {
		t.Fatalf("run goal: %v", err)
	}
	if state.Status != orchestrator.StatusCompleted {
		t.Fatalf("status = %v, want completed; errors=%v", state.Status, state.Errors)
	}

	recs, err := rt.History.RecentWorkflows(5)
	if err != nil {
		t.Fatalf("recent workflows: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("len(recs) = %d, want 1", len(recs))
	}
}

func TestStartStop_DoesNotHang(t *testing.T) {
	rt := newTestRuntime(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := rt.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	rt.Stop()
}
