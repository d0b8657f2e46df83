// Package twin implements the greenhouse digital-twin state machine: the
// authoritative simulated ground truth for sensors, actuators, crop and
// environment state, and the priority-arbitrated override model that governs
// who may write to an actuator.
package twin

import "time"

// Weather enumerates the stochastic daily weather states.
type Weather string

const (
	WeatherSunny    Weather = "sunny"
	WeatherOvercast Weather = "overcast"
	WeatherRain     Weather = "rain"
)

// CropStage enumerates the crop lifecycle.
type CropStage string

const (
	StageSeedling   CropStage = "seedling"
	StageVegetative CropStage = "vegetative"
	StageFlowering  CropStage = "flowering"
	StageFruiting   CropStage = "fruiting"
)

// Stage-transition thresholds in cumulative days since planting (the
// days-in-stage limits are their differences) — no original_source crop-stage files survived
// retrieval, so these are fixed here as a concrete policy.
const (
	daysToVegetative = 14
	daysToFlowering  = 35
	daysToFruiting   = 63
)

// Source identifies who issued an actuator write.
type Source string

const (
	SourceAgent Source = "agent"
	SourceUser  Source = "user"
)

// Override marks whether a human has taken manual control of an actuator.
type Override string

const (
	OverrideNone Override = "none"
	OverrideUser Override = "user"
)

// ActuatorKind distinguishes the three actuator value shapes in the data model.
type ActuatorKind int

const (
	// KindBoolean is an ON/OFF actuator (pump, heater, fan, grow light).
	KindBoolean ActuatorKind = iota
	// KindFraction is a scalar actuator clamped to [0,1] (vent fraction).
	KindFraction
	// KindRate is a scalar actuator clamped to [0,+inf) (dosing rate).
	KindRate
)

// ActuatorSpec fixes an actuator's kind and power draw at startup; the
// actuator set itself never changes after construction.
type ActuatorSpec struct {
	ID       string
	Kind     ActuatorKind
	PowerKW  float64
	Conflict string // id of an actuator this one conflicts with when both active, "" if none
}

// ActuatorState is the current value of one actuator.
type ActuatorState struct {
	Spec     ActuatorSpec
	Bool     bool
	Fraction float64
	Rate     float64
	Override Override
}

// On reports whether the actuator is presently drawing power / acting.
func (a ActuatorState) On() bool {
	switch a.Spec.Kind {
	case KindBoolean:
		return a.Bool
	case KindFraction:
		return a.Fraction > 0
	case KindRate:
		return a.Rate > 0
	default:
		return false
	}
}

// Sensor is one named, unit-tagged numeric reading.
type Sensor struct {
	ID    string
	Value float64
	Unit  string
}

// Env is the shared simulated environment clock and weather.
type Env struct {
	SimDay      int
	SimHour     float64 // [0, 24)
	Weather     Weather
	OutsideTemp float64
}

// Crop is the tracked crop lifecycle state.
type Crop struct {
	PlantID      string
	Stage        CropStage
	DayPlanted   int
	DaysInStage  int
}

// Opex is the monotonically non-decreasing set of operational counters.
type Opex struct {
	ElectricityKWh float64
	NutrientsL     float64
	UtilityCost    float64
	LaborSavedH    float64
}

// State is an immutable snapshot of the observable portion of TwinState,
// safe to hand to callers outside the twin's mutex.
type State struct {
	Sensors      map[string]Sensor
	Actuators    map[string]ActuatorState
	Env          Env
	Crop         Crop
	Opex         Opex
	StressIndex  float64
	PlantHealth  float64
	CycleCount   uint64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TelemetryPacket is the narrower, rounded, UI-oriented view of State.
type TelemetryPacket struct {
	Sensors     map[string]float64 `json:"sensors"`
	PumpActive  bool               `json:"pump_active"`
	VentFrac    float64            `json:"vent_fraction"`
	PlantHealth float64            `json:"plant_health"`
	StressIndex float64            `json:"stress_index"`
	PowerKWh    float64            `json:"power_kwh"`
	SimDay      int                `json:"sim_day"`
	SimHour     float64            `json:"sim_hour"`
	Weather     Weather            `json:"weather"`
	CropStage   CropStage          `json:"crop_stage"`
}
