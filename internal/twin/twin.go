package twin

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Twin owns TwinState exclusively; every read by another component goes
// through Snapshot or TelemetryPacket. A single mutex protects all mutating
// operations and all snapshot copies.
type Twin struct {
	mu  sync.Mutex
	cfg Config
	log zerolog.Logger
	rng *rand.Rand

	sensors   map[string]Sensor
	actuators map[string]ActuatorState
	env       Env
	crop      Crop
	opex      Opex

	stressIndex float64
	cycleCount  uint64
	createdAt   time.Time
	updatedAt   time.Time

	elapsedSimHours float64 // accumulates fractional sim-hours for day rollover
}

// sensorDefaults seeds the starting value and unit for each fixed sensor.
var sensorDefaults = []Sensor{
	{ID: "temperature", Value: 22.0, Unit: "celsius"},
	{ID: "humidity", Value: 45.0, Unit: "percent"},
	{ID: "ph", Value: 6.5, Unit: "ph"},
	{ID: "ec", Value: 1.2, Unit: "mS/cm"},
	{ID: "lux", Value: 0, Unit: "lux"},
	{ID: "co2", Value: 400, Unit: "ppm"},
	{ID: "water_pressure", Value: 0, Unit: "psi"},
	{ID: "dissolved_o2", Value: 7.0, Unit: "mg/L"},
}

// New constructs a Twin with the given configuration and a deterministic RNG
// seed — two Twins built with the same seed and driven by the same actuator
// trajectory produce identical step-by-step state (invariant 6).
func New(cfg Config, seed int64, log zerolog.Logger) *Twin {
	now := time.Now()
	t := &Twin{
		cfg:       cfg,
		log:       log.With().Str("component", "twin").Logger(),
		rng:       rand.New(rand.NewSource(seed)),
		sensors:   make(map[string]Sensor, len(sensorDefaults)),
		actuators: make(map[string]ActuatorState, len(cfg.Actuators)),
		env: Env{
			SimDay:      1,
			SimHour:     6,
			Weather:     WeatherSunny,
			OutsideTemp: 18,
		},
		crop: Crop{
			PlantID:    "crop-1",
			Stage:      StageSeedling,
			DayPlanted: 1,
		},
		createdAt: now,
		updatedAt: now,
	}
	for _, s := range sensorDefaults {
		t.sensors[s.ID] = s
	}
	for _, spec := range cfg.Actuators {
		t.actuators[spec.ID] = ActuatorState{Spec: spec, Override: OverrideNone}
	}
	return t
}

// Step advances the twin by delta seconds of wall-clock time. Contract:
// negative delta is clamped to 0. Step is synchronous, non-suspending, never
// concurrent with itself, and never panics — individual factor computations
// that would yield a non-finite value are skipped and logged (see the
// failure semantics).
func (t *Twin) Step(delta time.Duration) {
	if delta < 0 {
		delta = 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cycleCount++
	t.updatedAt = time.Now()

	simHoursElapsed := delta.Seconds() / 3600 * t.cfg.TimeAccelerationX
	t.advanceClock(simHoursElapsed)
	t.stepPhysics(delta)
	t.stepOpex(delta)
	t.stepStress()
	t.advanceCrop()
}

// advanceClock moves sim_hour forward, rolling sim_day and re-rolling
// weather on day boundaries.
func (t *Twin) advanceClock(simHours float64) {
	t.elapsedSimHours += simHours
	t.env.SimHour += simHours
	for t.env.SimHour >= 24 {
		t.env.SimHour -= 24
		t.env.SimDay++
		t.rollWeather()
	}
}

func (t *Twin) rollWeather() {
	roll := t.rng.Float64()
	switch {
	case roll < 0.55:
		t.env.Weather = WeatherSunny
	case roll < 0.85:
		t.env.Weather = WeatherOvercast
	default:
		t.env.Weather = WeatherRain
	}
}

func weatherTempOffset(w Weather) float64 {
	switch w {
	case WeatherRain:
		return -1.5
	case WeatherOvercast:
		return -0.5
	default:
		return 0.5
	}
}

func weatherHumidityOffset(w Weather) float64 {
	switch w {
	case WeatherRain:
		return 8
	case WeatherOvercast:
		return 3
	default:
		return -3
	}
}

func weatherLuxScale(w Weather) float64 {
	switch w {
	case WeatherRain:
		return 0.3
	case WeatherOvercast:
		return 0.5
	default:
		return 1.0
	}
}

func (t *Twin) setFinite(id string, v float64, unit string) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		t.log.Warn().Str("sensor", id).Msg("skipped non-finite sensor computation")
		return
	}
	t.sensors[id] = Sensor{ID: id, Value: v, Unit: unit}
}

func (t *Twin) actuatorOn(id string) bool {
	a, ok := t.actuators[id]
	return ok && a.On()
}

func (t *Twin) stepPhysics(delta time.Duration) {
	phase := t.env.SimHour * (2 * math.Pi / 24)
	noise := func(amp float64) float64 { return (t.rng.Float64()*2 - 1) * amp }

	// 1. Temperature: diurnal sine + outside influence + heater + vent + noise.
	temp := t.cfg.TempBase + t.cfg.TempAmplitude*math.Sin(phase) + weatherTempOffset(t.env.Weather)
	if t.actuatorOn("heater") {
		temp += 2.0
	}
	if v, ok := t.actuators["vent"]; ok {
		temp -= v.Fraction * 3.0
	}
	temp += noise(t.cfg.NoiseAmpTemp)
	t.setFinite("temperature", temp, "celsius")

	// 2. Humidity: inverse phase, weather offset, clamped [20,95].
	hum := t.cfg.HumidityBase + t.cfg.HumidityAmplitude*math.Cos(phase) + weatherHumidityOffset(t.env.Weather)
	hum += noise(t.cfg.NoiseAmpHumidity)
	hum = clamp(hum, 20, 95)
	t.setFinite("humidity", hum, "percent")

	// 3. pH: dosing pumps drift it, otherwise natural acidification.
	ph := t.sensors["ph"].Value
	switch {
	case t.actuatorOn("ph_up"):
		ph = math.Min(8.5, ph+t.rng.Float64()*0.08)
	case t.actuatorOn("pump_active") || t.actuatorOn("nutrient_pump"):
		ph = math.Min(8.5, ph+t.rng.Float64()*0.05)
	case t.actuatorOn("ph_down"):
		ph = math.Max(4.0, ph-t.rng.Float64()*0.08)
	default:
		ph = math.Max(4.0, ph-t.rng.Float64()*0.01)
	}
	t.setFinite("ph", ph, "ph")

	// 4. EC: rises with dosing, slow uptake decay.
	ec := t.sensors["ec"].Value
	if t.actuatorOn("nutrient_pump") || t.actuatorOn("ph_up") || t.actuatorOn("ph_down") {
		ec += 0.02
	}
	ec = math.Max(0, ec-0.002)
	t.setFinite("ec", ec, "mS/cm")

	// 5. Water pressure: exponential smoothing toward 0 or 40 PSI.
	target := 0.0
	if t.actuatorOn("pump_active") {
		target = 40.0
	}
	wp := t.sensors["water_pressure"].Value
	wp += (target - wp) * 0.2
	t.setFinite("water_pressure", wp, "psi")

	// 6. CO2: plant respiration vs ventilation.
	co2 := t.sensors["co2"].Value
	if v, ok := t.actuators["vent"]; ok && v.Fraction > 0.5 {
		co2 = math.Max(300, co2-5)
	} else {
		co2 = math.Min(1200, co2+2)
	}
	t.setFinite("co2", co2, "ppm")

	// 7. Dissolved O2: aeration pump vs decay.
	do2 := t.sensors["dissolved_o2"].Value
	if t.actuatorOn("aeration_pump") {
		do2 = math.Min(12, do2+0.1)
	} else {
		do2 = math.Max(2, do2-0.02)
	}
	t.setFinite("dissolved_o2", do2, "mg/L")

	// 8. Lux: sine over daylight hours, scaled by weather, plus grow-light.
	daylight := math.Max(0, math.Sin(math.Pi*(t.env.SimHour-6)/12))
	lux := daylight * 1000 * weatherLuxScale(t.env.Weather)
	if t.actuatorOn("grow_light") {
		lux += 400
	}
	t.setFinite("lux", lux, "lux")
}

func (t *Twin) stepOpex(delta time.Duration) {
	dtHours := delta.Seconds() / 3600
	for _, a := range t.actuators {
		if a.On() {
			t.opex.ElectricityKWh += a.Spec.PowerKW * dtHours
		}
	}
	t.opex.UtilityCost = t.opex.ElectricityKWh * t.cfg.ElectricityRatePerKWh

	if t.actuatorOn("nutrient_pump") || t.actuatorOn("pump_active") {
		t.opex.NutrientsL += 0.01 * (delta.Seconds() / 60.0)
	}
	if t.stressIndex < 0.2 {
		t.opex.LaborSavedH += 0.5 * dtHours
	}
}

func (t *Twin) stepStress() {
	var gain float64
	temp := t.sensors["temperature"].Value
	switch {
	case temp > 32.0:
		gain += (temp - 32.0) * 0.01
	case temp < 15.0:
		gain += (15.0 - temp) * 0.01
	default:
		gain -= 0.005
	}
	ph := t.sensors["ph"].Value
	if ph < 5.5 || ph > 7.5 {
		gain += 0.002
	}
	hum := t.sensors["humidity"].Value
	if hum < 30 || hum > 80 {
		gain += 0.002
	}
	if t.sensors["dissolved_o2"].Value < 4 {
		gain += 0.003
	}
	if t.env.SimHour > 6 && t.env.SimHour < 18 && t.sensors["lux"].Value < 50 {
		gain += 0.001
	}
	t.stressIndex = clamp(t.stressIndex+gain, 0, 1)
}

func (t *Twin) advanceCrop() {
	if t.elapsedSimHours < 24 {
		return
	}
	for t.elapsedSimHours >= 24 {
		t.elapsedSimHours -= 24
		t.crop.DaysInStage++
		switch t.crop.Stage {
		case StageSeedling:
			if t.crop.DaysInStage >= daysToVegetative {
				t.crop.Stage = StageVegetative
				t.crop.DaysInStage = 0
			}
		case StageVegetative:
			if t.crop.DaysInStage >= daysToFlowering-daysToVegetative {
				t.crop.Stage = StageFlowering
				t.crop.DaysInStage = 0
			}
		case StageFlowering:
			if t.crop.DaysInStage >= daysToFruiting-daysToFlowering {
				t.crop.Stage = StageFruiting
				t.crop.DaysInStage = 0
			}
		}
	}
}

// PlantHealth derives 1 - stress_index^0.7.
func PlantHealth(stressIndex float64) float64 {
	return 1 - math.Pow(stressIndex, 0.7)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SetActuator arbitrates a write per this rule table:
//  1. unknown id -> false
//  2. source=user -> always writes, sets override, returns true
//  3. source=agent and override=user -> rejected, returns false
//  4. source=agent and no override -> writes, override stays none
func (t *Twin) SetActuator(id string, boolVal bool, scalarVal float64, source Source) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, ok := t.actuators[id]
	if !ok {
		return false
	}

	if source == SourceAgent && a.Override == OverrideUser {
		t.log.Info().Str("actuator", id).Msg("agent write rejected: user override active")
		return false
	}

	switch a.Spec.Kind {
	case KindBoolean:
		a.Bool = boolVal
	case KindFraction:
		a.Fraction = clamp(scalarVal, 0, 1)
	case KindRate:
		a.Rate = math.Max(0, scalarVal)
	}
	if source == SourceUser {
		a.Override = OverrideUser
	}
	t.actuators[id] = a
	t.updatedAt = time.Now()
	return true
}

// ClearOverride removes the override flag on one actuator without mutating
// its value.
func (t *Twin) ClearOverride(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.actuators[id]
	if !ok {
		return false
	}
	a.Override = OverrideNone
	t.actuators[id] = a
	return true
}

// ClearAllOverrides removes every actuator's override flag.
func (t *Twin) ClearAllOverrides() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, a := range t.actuators {
		a.Override = OverrideNone
		t.actuators[id] = a
	}
}

// OverrideActive reports whether an actuator currently has a user override.
func (t *Twin) OverrideActive(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.actuators[id]
	return ok && a.Override == OverrideUser
}

// ActuatorValue returns the actuator's current scalar/boolean value as a
// float64 (1/0 for booleans) plus whether it was found.
func (t *Twin) ActuatorValue(id string) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.actuators[id]
	if !ok {
		return 0, false
	}
	switch a.Spec.Kind {
	case KindBoolean:
		if a.Bool {
			return 1, true
		}
		return 0, true
	case KindFraction:
		return a.Fraction, true
	default:
		return a.Rate, true
	}
}

// Overrides returns the set of actuator ids currently under user override.
func (t *Twin) Overrides() map[string]bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]bool)
	for id, a := range t.actuators {
		if a.Override == OverrideUser {
			out[id] = true
		}
	}
	return out
}

// Snapshot returns an immutable copy of the observable TwinState.
func (t *Twin) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	sensors := make(map[string]Sensor, len(t.sensors))
	for k, v := range t.sensors {
		sensors[k] = v
	}
	actuators := make(map[string]ActuatorState, len(t.actuators))
	for k, v := range t.actuators {
		actuators[k] = v
	}
	return State{
		Sensors:     sensors,
		Actuators:   actuators,
		Env:         t.env,
		Crop:        t.crop,
		Opex:        t.opex,
		StressIndex: t.stressIndex,
		PlantHealth: PlantHealth(t.stressIndex),
		CycleCount:  t.cycleCount,
		CreatedAt:   t.createdAt,
		UpdatedAt:   t.updatedAt,
	}
}

// TelemetryPacket returns the narrower, UI-optimized view.
func (t *Twin) TelemetryPacket() TelemetryPacket {
	s := t.Snapshot()
	sensors := make(map[string]float64, len(s.Sensors))
	for id, sn := range s.Sensors {
		sensors[id] = roundTo(sn.Value, 2)
	}
	pump := s.Actuators["pump_active"]
	vent := s.Actuators["vent"]
	return TelemetryPacket{
		Sensors:     sensors,
		PumpActive:  pump.Bool,
		VentFrac:    roundTo(vent.Fraction, 2),
		PlantHealth: roundTo(s.PlantHealth, 2),
		StressIndex: roundTo(s.StressIndex, 2),
		PowerKWh:    roundTo(s.Opex.ElectricityKWh, 3),
		SimDay:      s.Env.SimDay,
		SimHour:     roundTo(s.Env.SimHour, 2),
		Weather:     s.Env.Weather,
		CropStage:   s.Crop.Stage,
	}
}

func roundTo(v float64, places int) float64 {
	mult := math.Pow(10, float64(places))
	return math.Round(v*mult) / mult
}
