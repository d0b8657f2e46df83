package twin

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestTwin(t *testing.T) *Twin {
	t.Helper()
	return New(DefaultConfig(), 42, zerolog.Nop())
}

// ─── set_actuator arbitration ──────────────────────────────────────────────

func TestSetActuator_UnknownID(t *testing.T) {
	tw := newTestTwin(t)
	if tw.SetActuator("does_not_exist", true, 0, SourceAgent) {
		t.Fatal("expected false for unknown actuator id")
	}
}

func TestSetActuator_UserAlwaysWrites(t *testing.T) {
	tw := newTestTwin(t)
	if !tw.SetActuator("pump_active", true, 0, SourceUser) {
		t.Fatal("user write should always succeed")
	}
	if !tw.OverrideActive("pump_active") {
		t.Fatal("user write should set override")
	}
}

func TestSetActuator_AgentBlockedByUserOverride(t *testing.T) {
	tw := newTestTwin(t)
	tw.SetActuator("pump_active", false, 0, SourceUser)
	if tw.SetActuator("pump_active", true, 0, SourceAgent) {
		t.Fatal("agent write should be rejected while user override is active")
	}
	v, _ := tw.ActuatorValue("pump_active")
	if v != 0 {
		t.Fatalf("actuator value mutated despite rejection: got %v", v)
	}
}

func TestClearOverride_ReenablesAgentWrites(t *testing.T) {
	tw := newTestTwin(t)
	tw.SetActuator("pump_active", false, 0, SourceUser)
	tw.ClearOverride("pump_active")
	if !tw.SetActuator("pump_active", true, 0, SourceAgent) {
		t.Fatal("agent write should succeed after override cleared")
	}
}

// TestScenarioA walks the user-override-beats-agent sequence step by step.
func TestScenarioA_UserOverrideBeatsAgent(t *testing.T) {
	tw := newTestTwin(t)

	tw.SetActuator("pump_active", true, 0, SourceAgent)
	v, _ := tw.ActuatorValue("pump_active")
	if v != 1 {
		t.Fatalf("step1: got %v want true", v)
	}

	tw.SetActuator("pump_active", false, 0, SourceUser)
	v, _ = tw.ActuatorValue("pump_active")
	if v != 0 {
		t.Fatalf("step2: got %v want false", v)
	}
	if !tw.OverrideActive("pump_active") {
		t.Fatal("step2: override should be active")
	}

	tw.SetActuator("pump_active", true, 0, SourceAgent)
	v, _ = tw.ActuatorValue("pump_active")
	if v != 0 {
		t.Fatalf("step3: got %v want false (agent write rejected)", v)
	}

	tw.ClearOverride("pump_active")
	v, _ = tw.ActuatorValue("pump_active")
	if v != 0 {
		t.Fatalf("step4: got %v want false (clear_override does not mutate value)", v)
	}
	if tw.OverrideActive("pump_active") {
		t.Fatal("step4: override should be cleared")
	}

	tw.SetActuator("pump_active", true, 0, SourceAgent)
	v, _ = tw.ActuatorValue("pump_active")
	if v != 1 {
		t.Fatalf("step5: got %v want true", v)
	}
}

// ─── step safety & determinism ─────────────────────────────────────────────

func TestStep_NegativeDeltaClamped(t *testing.T) {
	tw := newTestTwin(t)
	tw.Step(-5 * time.Second) // must not panic or go complex
	s := tw.Snapshot()
	if s.CycleCount != 1 {
		t.Fatalf("cycle count = %d, want 1", s.CycleCount)
	}
}

func TestStep_AlwaysFiniteAndBounded(t *testing.T) {
	tw := newTestTwin(t)
	tw.SetActuator("heater", true, 0, SourceAgent)
	tw.SetActuator("vent", false, 0.7, SourceAgent)
	for i := 0; i < 10_000; i++ {
		tw.Step(time.Second)
	}
	s := tw.Snapshot()
	if s.StressIndex < 0 || s.StressIndex > 1 {
		t.Fatalf("stress_index out of [0,1]: %v", s.StressIndex)
	}
	if s.PlantHealth < 0 || s.PlantHealth > 1 {
		t.Fatalf("plant_health out of [0,1]: %v", s.PlantHealth)
	}
	for id, sn := range s.Sensors {
		if math.IsNaN(sn.Value) || math.IsInf(sn.Value, 0) {
			t.Fatalf("sensor %s not finite: %v", id, sn.Value)
		}
	}
}

func TestStep_DeterministicModuloSeed(t *testing.T) {
	run := func(seed int64) State {
		tw := New(DefaultConfig(), seed, zerolog.Nop())
		tw.SetActuator("pump_active", true, 0, SourceAgent)
		for i := 0; i < 500; i++ {
			tw.Step(time.Second)
		}
		return tw.Snapshot()
	}
	a := run(7)
	b := run(7)
	if a.Sensors["temperature"].Value != b.Sensors["temperature"].Value {
		t.Fatal("same seed + same actuator trajectory should produce identical temperature")
	}
	if a.StressIndex != b.StressIndex {
		t.Fatal("same seed + same actuator trajectory should produce identical stress_index")
	}
}

func TestHumidity_ClampedRange(t *testing.T) {
	tw := newTestTwin(t)
	for i := 0; i < 2000; i++ {
		tw.Step(time.Minute)
		h := tw.Snapshot().Sensors["humidity"].Value
		if h < 20 || h > 95 {
			t.Fatalf("humidity out of range: %v", h)
		}
	}
}

func TestPlantHealth_Formula(t *testing.T) {
	got := PlantHealth(0)
	if got != 1 {
		t.Fatalf("PlantHealth(0) = %v, want 1", got)
	}
	got = PlantHealth(1)
	if got != 0 {
		t.Fatalf("PlantHealth(1) = %v, want 0", got)
	}
}
