package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/greenhouse-network/sentinel/internal/agents"
	"github.com/greenhouse-network/sentinel/internal/bus"
	"github.com/greenhouse-network/sentinel/internal/finance"
	"github.com/greenhouse-network/sentinel/internal/historystore"
	"github.com/greenhouse-network/sentinel/internal/orchestrator"
	"github.com/greenhouse-network/sentinel/internal/settings"
	"github.com/greenhouse-network/sentinel/internal/twin"
	"github.com/greenhouse-network/sentinel/internal/uibridge"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	tw := twin.New(twin.DefaultConfig(), 1, zerolog.Nop())
	b := bus.New(zerolog.Nop())
	ar := agents.New(b, t.TempDir(), zerolog.Nop())
	ar.RegisterRole("coder", agents.NewCoderAgent())
	ar.RegisterRole("tester", agents.NewTesterAgent())
	ar.RegisterRole("documenter", agents.NewDocumenterAgent())
	ar.RegisterRole("validator", agents.NewValidatorAgent())
	for _, spec := range []struct{ role, id string }{
		{"coder", "coder-1"}, {"tester", "tester-1"},
		{"documenter", "documenter-1"}, {"validator", "validator-1"},
	} {
		if _, err := ar.Spawn(context.Background(), spec.role, spec.id, nil); err != nil {
			t.Fatalf("spawn %s: %v", spec.id, err)
		}
	}
	ui := uibridge.New(zerolog.Nop())
	hs, err := historystore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open historystore: %v", err)
	}
	t.Cleanup(func() { hs.Close() })
	st := settings.Open(filepath.Join(t.TempDir(), "settings.json"))
	orch := orchestrator.New(b, ar, finance.New(nil), 2.0, zerolog.Nop())
	runGoal := func(ctx context.Context, goal string) (orchestrator.WorkflowState, error) {
		return orch.Execute(ctx, "validation_chain", goal)
	}

	return New(tw, ar, ui, hs, st, nil, runGoal, time.Now(), zerolog.Nop())
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleStatus_ReportsAgentsAndUptime(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Agents != 4 {
		t.Fatalf("agents = %d, want 4", resp.Agents)
	}
	if !resp.Systems["simulation"] || resp.Systems["vector"] {
		t.Fatalf("systems = %+v, want simulation=true vector=false", resp.Systems)
	}
}

func TestHandleGoal_RunsValidationChain(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/goal", goalRequest{Goal: "grow healthier tomatoes"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rec.Code, rec.Body.String())
	}
	var state orchestrator.WorkflowState
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if state.Status != orchestrator.StatusCompleted {
		t.Fatalf("status = %v, want completed", state.Status)
	}
}

func TestHandleGoal_RejectsMissingGoal(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/goal", goalRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleActuator_SetIncludesBCC(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/actuator", actuatorRequest{Name: "pump_active", Value: 1, Action: "set"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rec.Code, rec.Body.String())
	}
	var resp actuatorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Value != 1 || !resp.OverrideActive || len(resp.BCC) != 2 {
		t.Fatalf("resp = %+v, want value=1 override_active=true bcc=2 hex digits", resp)
	}
}

func TestHandleActuator_UnknownNameRejected(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/actuator", actuatorRequest{Name: "nonexistent", Value: 1, Action: "set"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleOverrides_ReflectsActuatorWrite(t *testing.T) {
	s := newTestServer(t)
	doJSON(t, s.Handler(), http.MethodPost, "/api/actuator", actuatorRequest{Name: "pump_active", Value: 1, Action: "set"})

	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/overrides", nil)
	var resp overridesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Count != 1 || !resp.Overrides["pump_active"] {
		t.Fatalf("resp = %+v, want pump_active overridden", resp)
	}
}

func TestSettings_RoundTripsThroughHTTP(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/settings", map[string]any{"label": "zone-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("post status = %d", rec.Code)
	}

	rec = doJSON(t, s.Handler(), http.MethodGet, "/api/settings", nil)
	var blob settings.Blob
	if err := json.Unmarshal(rec.Body.Bytes(), &blob); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if blob["label"] != "zone-1" {
		t.Fatalf("blob = %+v, want label=zone-1", blob)
	}
}

func TestHandleHistory_ReturnsRecordedRuns(t *testing.T) {
	s := newTestServer(t)
	doJSON(t, s.Handler(), http.MethodPost, "/api/goal", goalRequest{Goal: "grow more basil"})
	if err := s.history.RecordWorkflow(orchestrator.WorkflowState{WorkflowID: "wf-1", Name: "validation_chain", Status: orchestrator.StatusCompleted}); err != nil {
		t.Fatalf("record: %v", err)
	}

	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/history?limit=5", nil)
	var recs []historystore.WorkflowRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &recs); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(recs) == 0 {
		t.Fatal("expected at least one recorded workflow")
	}
}
