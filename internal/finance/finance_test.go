package finance

import "testing"

func TestLogTokens_ComputesCost(t *testing.T) {
	tr := New(nil)
	cost := tr.LogTokens(DefaultModelTag, 1_000_000, 1_000_000)
	want := 0.15 + 0.60
	if diff := cost - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("cost = %v, want %v", cost, want)
	}
}

func TestLogTokens_UnknownModelFallsBackToDefault(t *testing.T) {
	tr := New(nil)
	cost := tr.LogTokens("mystery-model", 1_000_000, 0)
	if diff := cost - 0.15; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("cost = %v, want 0.15 (default rate fallback)", cost)
	}
}

func TestIsStable_ThresholdExact(t *testing.T) {
	tr := New(nil)
	tr.LogTokens(DefaultModelTag, 100, 0) // total_in=100
	tr.LogTokens(DefaultModelTag, 0, 1100) // total_out = 100*10+100 = 1100, boundary: stable
	if !tr.IsStable() {
		t.Fatal("expected stable at the exact threshold boundary")
	}
}

func TestIsStable_ExceedsThreshold(t *testing.T) {
	tr := New(nil)
	tr.LogTokens(DefaultModelTag, 100, 0)
	tr.LogTokens(DefaultModelTag, 0, 1101)
	if tr.IsStable() {
		t.Fatal("expected unstable once total_out exceeds total_in*10+100")
	}
}

func TestSummary_ReflectsLedger(t *testing.T) {
	tr := New(nil)
	tr.LogTokens(DefaultModelTag, 10, 20)
	tr.LogEffectiveness("validation_chain", 1, true)
	tr.LogUtilization("coder-1")

	s := tr.Summary()
	if s.SampleCount != 1 {
		t.Fatalf("SampleCount = %d, want 1", s.SampleCount)
	}
	if s.TotalInTokens != 10 || s.TotalOutTokens != 20 {
		t.Fatalf("unexpected token totals: %+v", s)
	}
}

func TestLogEffectiveness_TalliesByAttemptCount(t *testing.T) {
	tr := New(nil)
	tr.LogEffectiveness("t1", 1, true)
	tr.LogEffectiveness("t2", 2, true)
	tr.LogEffectiveness("t3", 3, true) // neither first nor second time pass
	tr.LogEffectiveness("t4", 1, false)

	l := tr.Ledger()
	if l.Effectiveness.TotalTasks != 4 {
		t.Fatalf("TotalTasks = %d, want 4", l.Effectiveness.TotalTasks)
	}
	if l.Effectiveness.FirstTimePass != 1 || l.Effectiveness.SecondTimePass != 1 || l.Effectiveness.Failures != 1 {
		t.Fatalf("unexpected effectiveness tally: %+v", l.Effectiveness)
	}
}

func TestLogUtilization_CountsCallsPerAgent(t *testing.T) {
	tr := New(nil)
	tr.LogUtilization("coder-1")
	tr.LogUtilization("coder-1")
	tr.LogUtilization("tester-1")

	l := tr.Ledger()
	if l.Utilization["coder-1"] != 2 || l.Utilization["tester-1"] != 1 {
		t.Fatalf("unexpected utilization: %+v", l.Utilization)
	}
}

func TestLedger_ReturnsIndependentCopy(t *testing.T) {
	tr := New(nil)
	tr.LogTokens(DefaultModelTag, 1, 1)

	l := tr.Ledger()
	l.Tokens[0].ModelTag = "mutated"

	l2 := tr.Ledger()
	if l2.Tokens[0].ModelTag == "mutated" {
		t.Fatal("Ledger() must return an independent copy, not a shared slice")
	}
}
