// Package safety implements the authoritative safety watchdog: bounds
// checking on sensor telemetry and the veto gate over every actuator write.
// Grounded on original_source/_SUDOTEER/backend/core/hardware/safety.py,
// generalized to the richer range table and conflict-pair policy required by
// the safety rule table below.
package safety

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Range is an inclusive [Min, Max] bound for one sensor.
type Range struct {
	Min, Max float64
}

// Policy is the static configuration a Watchdog enforces.
type Policy struct {
	Ranges map[string]Range
	// Timeout is the max allowable age of the most recent sensor update.
	Timeout time.Duration
	// Conflicts lists actuator-id pairs that must never both be active.
	Conflicts [][2]string
}

// DefaultPolicy mirrors the conflict table and ranges named in
// the actuator set (ph_up/ph_down, heater/chiller) and the sensor bounds
// this runtime operates on.
func DefaultPolicy() Policy {
	return Policy{
		Ranges: map[string]Range{
			"temperature":    {Min: -20, Max: 80},
			"humidity":       {Min: 0, Max: 100},
			"ph":             {Min: 0, Max: 14},
			"ec":             {Min: 0, Max: 10},
			"lux":            {Min: 0, Max: 200000},
			"co2":            {Min: 0, Max: 5000},
			"water_pressure": {Min: 0, Max: 200},
			"dissolved_o2":   {Min: 0, Max: 20},
		},
		Timeout: 30 * time.Second,
		Conflicts: [][2]string{
			{"ph_up", "ph_down"},
			{"heater", "chiller"},
		},
	}
}

// ActiveActuatorSet reports which actuators are presently on, for conflict
// checks; the caller (IndustrialBridge) supplies it since Watchdog does not
// own Twin state.
type ActiveActuatorSet func() map[string]bool

// Watchdog is the authoritative gate over actuator writes and telemetry
// sanity. Once emergency_lock latches, every write is vetoed regardless of
// source until an operator calls Reset.
type Watchdog struct {
	mu              sync.Mutex
	policy          Policy
	emergencyLock   bool
	lastSensorUpd   time.Time
	now             func() time.Time
	log             zerolog.Logger
	onLatch         func() // invoked once per latch transition (for UIBridge FATAL event)
}

// New constructs a Watchdog with the given policy. onLatch, if non-nil, is
// called exactly once per false->true transition of emergency_lock.
func New(policy Policy, log zerolog.Logger, onLatch func()) *Watchdog {
	return &Watchdog{
		policy:        policy,
		lastSensorUpd: time.Now(),
		now:           time.Now,
		log:           log.With().Str("component", "safety").Logger(),
		onLatch:       onLatch,
	}
}

// ValidateWrite returns false if emergency_lock is set, or if this actuator
// conflicts with another currently-active one. active may be nil, in which
// case conflict checks are skipped.
func (w *Watchdog) ValidateWrite(actuatorID string, active ActiveActuatorSet) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.emergencyLock {
		return false
	}
	if active == nil {
		return true
	}
	set := active()
	for _, pair := range w.policy.Conflicts {
		var other string
		switch actuatorID {
		case pair[0]:
			other = pair[1]
		case pair[1]:
			other = pair[0]
		default:
			continue
		}
		if set[other] {
			w.log.Warn().Str("actuator", actuatorID).Str("conflicts_with", other).Msg("safety: conflicting actuator pair rejected")
			return false
		}
	}
	return true
}

// CheckTelemetry latches emergency_lock if any ranged sensor is out of
// bounds, or if the telemetry is stale beyond Timeout.
func (w *Watchdog) CheckTelemetry(sensors map[string]float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if !w.lastSensorUpd.IsZero() && now.Sub(w.lastSensorUpd) > w.policy.Timeout {
		w.log.Error().Dur("age", now.Sub(w.lastSensorUpd)).Msg("safety: telemetry stale, latching emergency stop")
		w.latchLocked()
	}
	for id, rng := range w.policy.Ranges {
		v, ok := sensors[id]
		if !ok {
			continue
		}
		if v < rng.Min || v > rng.Max {
			w.log.Error().Str("sensor", id).Float64("value", v).Msg("safety: sensor out of range, latching emergency stop")
			w.latchLocked()
		}
	}
	w.lastSensorUpd = now
}

// TriggerEmergencyStop latches emergency_lock unconditionally.
func (w *Watchdog) TriggerEmergencyStop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.latchLocked()
}

// latchLocked must be called with w.mu held. It is idempotent: onLatch fires
// only on the false->true transition.
func (w *Watchdog) latchLocked() {
	if w.emergencyLock {
		return
	}
	w.emergencyLock = true
	if w.onLatch != nil {
		w.onLatch()
	}
}

// Reset clears the latch. Operator-only — never reachable from agent or UI
// command paths.
func (w *Watchdog) Reset(authorizationToken string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.emergencyLock = false
	return true
}

// Locked reports the current emergency_lock state.
func (w *Watchdog) Locked() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.emergencyLock
}
