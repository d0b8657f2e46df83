package historystore

import (
	"testing"
	"time"

	"github.com/greenhouse-network/sentinel/internal/finance"
	"github.com/greenhouse-network/sentinel/internal/orchestrator"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordWorkflow_RoundTrips(t *testing.T) {
	s := newTestStore(t)
	state := orchestrator.WorkflowState{
		WorkflowID: "wf-1",
		Name:       "validation_chain",
		Status:     orchestrator.StatusCompleted,
		StartedAt:  time.Unix(1000, 0),
		EndedAt:    time.Unix(1010, 0),
	}
	if err := s.RecordWorkflow(state); err != nil {
		t.Fatalf("record: %v", err)
	}

	recs, err := s.RecentWorkflows(10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("len(recs) = %d, want 1", len(recs))
	}
	if recs[0].WorkflowID != "wf-1" || recs[0].Status != "completed" {
		t.Fatalf("unexpected record: %+v", recs[0])
	}
}

func TestRecentWorkflows_OrderedNewestFirst(t *testing.T) {
	s := newTestStore(t)
	for i, ts := range []int64{1000, 2000, 3000} {
		state := orchestrator.WorkflowState{
			WorkflowID: string(rune('a' + i)),
			Name:       "validation_chain",
			Status:     orchestrator.StatusCompleted,
			StartedAt:  time.Unix(ts, 0),
			EndedAt:    time.Unix(ts+1, 0),
		}
		if err := s.RecordWorkflow(state); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	recs, err := s.RecentWorkflows(2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("len(recs) = %d, want 2 (limit respected)", len(recs))
	}
	if recs[0].WorkflowID != "c" {
		t.Fatalf("first record = %s, want newest (c)", recs[0].WorkflowID)
	}
}

func TestRecordFinanceSnapshot(t *testing.T) {
	s := newTestStore(t)
	summary := finance.Summary{TotalCostUSD: 1.23, TotalInTokens: 100, TotalOutTokens: 50, Stable: true}
	if err := s.RecordFinanceSnapshot(time.Unix(5000, 0), summary); err != nil {
		t.Fatalf("record snapshot: %v", err)
	}
}
