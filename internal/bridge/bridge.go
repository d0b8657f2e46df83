// Package bridge implements the IndustrialBridge: the mediator between the
// Twin (or, in hardware mode, a real driver) and the outside world. Every
// actuator write is gated through the SafetyWatchdog; telemetry is sampled
// and republished at bounded, independent rates. Grounded on
// original_source/_SUDOTEER/backend/core/industrial_bridge.py.
package bridge

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/greenhouse-network/sentinel/internal/bus"
	"github.com/greenhouse-network/sentinel/internal/safety"
	"github.com/greenhouse-network/sentinel/internal/twin"
	"github.com/rs/zerolog"
)

// Mode selects the bridge's transport: the in-process Twin, or (unimplemented
// here, as a Non-goal) a real hardware driver.
type Mode string

const (
	ModeSim      Mode = "sim"
	ModeHardware Mode = "hardware"
)

// Driver is the hardware-mode transport contract. No concrete driver ships
// with this module (serial/Modbus transports are an explicit Non-goal); a
// caller wiring ModeHardware supplies one.
type Driver interface {
	WriteSetpoint(actuatorID string, value float64) error
	ReadSensors() (map[string]float64, error)
}

const (
	defaultSampleInterval  = 100 * time.Millisecond // 10 Hz, hardware mode
	defaultPublishInterval = 500 * time.Millisecond // 2 Hz, UI awareness
	sampleBufferWindow     = 10 * time.Second

	// maxConsecutiveTelemetryFailures bounds how many back-to-back
	// ReadSensors errors are tolerated in ModeHardware before the watchdog
	// is latched: a driver that has stopped answering is indistinguishable
	// from one reporting an unsafe state.
	maxConsecutiveTelemetryFailures = 5
)

// LatentVariables are sensor-derived quantities computed by the bridge, not
// measured directly by the Twin.
type LatentVariables struct {
	VPD              float64 // kPa, vapor pressure deficit
	TemperatureStdev float64 // rolling stddev over the sample buffer
}

// Frame is one telemetry publication: the Twin's raw packet plus latents.
type Frame struct {
	Packet  twin.TelemetryPacket
	Latents LatentVariables
}

type sample struct {
	at          time.Time
	temperature float64
}

// Bridge mediates Twin <-> external transport.
type Bridge struct {
	t        *twin.Twin
	watchdog *safety.Watchdog
	bus      *bus.Bus
	driver   Driver
	log      zerolog.Logger
	now      func() time.Time

	sampleInterval  time.Duration
	publishInterval time.Duration
	reporter        func(Frame)
	onSample        func()

	mu                   sync.Mutex
	connected            bool
	mode                 Mode
	samples              []sample
	consecutiveFailures  int

	stop chan struct{}
	wg   sync.WaitGroup
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithIntervals overrides the default sample/publish rates.
func WithIntervals(sample, publish time.Duration) Option {
	return func(b *Bridge) {
		b.sampleInterval = sample
		b.publishInterval = publish
	}
}

// WithReporter sets the external reporter hook, called after every publish.
// Nil by default ("a pluggable external reporter
// hook called on each telemetry publish" satisfies the MQTT Non-goal without
// implementing MQTT itself).
func WithReporter(fn func(Frame)) Option {
	return func(b *Bridge) { b.reporter = fn }
}

// WithSampleHook registers a callback invoked once per Sample call, after the
// sample is recorded — used to feed external counters without this package
// depending on them.
func WithSampleHook(fn func()) Option {
	return func(b *Bridge) { b.onSample = fn }
}

// New constructs a disconnected Bridge.
func New(t *twin.Twin, w *safety.Watchdog, bus *bus.Bus, log zerolog.Logger, opts ...Option) *Bridge {
	b := &Bridge{
		t:               t,
		watchdog:        w,
		bus:             bus,
		log:             log.With().Str("component", "bridge").Logger(),
		now:             time.Now,
		sampleInterval:  defaultSampleInterval,
		publishInterval: defaultPublishInterval,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Connect establishes the transport. For ModeHardware, driver must be
// non-nil.
func (b *Bridge) Connect(mode Mode, driver Driver) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if mode == ModeHardware && driver == nil {
		return fmt.Errorf("bridge: hardware mode requires a driver")
	}
	b.mode = mode
	b.driver = driver
	b.connected = true
	b.log.Info().Str("mode", string(mode)).Msg("bridge: connected")
	return nil
}

// Disconnect tears down the transport and stops background loops.
func (b *Bridge) Disconnect() {
	b.Stop()
	b.mu.Lock()
	b.connected = false
	b.mu.Unlock()
	b.log.Info().Msg("bridge: disconnected")
}

// Connected reports whether the bridge is currently connected.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// WriteSetpoint executes the mandated five-step write sequence: connected
// check, safety validation, delegation to sim/driver, logging, and a final
// success/failure report. Failure at any step returns false.
func (b *Bridge) WriteSetpoint(actuatorID string, boolVal bool, scalarVal float64, source twin.Source) bool {
	if !b.Connected() {
		b.log.Warn().Str("actuator", actuatorID).Msg("bridge: write rejected, not connected")
		return false
	}

	active := func() map[string]bool {
		snap := b.t.Snapshot()
		out := make(map[string]bool, len(snap.Actuators))
		for id, a := range snap.Actuators {
			out[id] = a.On()
		}
		return out
	}
	if !b.watchdog.ValidateWrite(actuatorID, active) {
		b.log.Warn().Str("actuator", actuatorID).Msg("bridge: write rejected by safety watchdog")
		return false
	}

	b.mu.Lock()
	mode := b.mode
	driver := b.driver
	b.mu.Unlock()

	switch mode {
	case ModeHardware:
		if err := driver.WriteSetpoint(actuatorID, scalarVal); err != nil {
			b.log.Error().Err(err).Str("actuator", actuatorID).Msg("bridge: hardware write failed")
			return false
		}
	default:
		if ok := b.t.SetActuator(actuatorID, boolVal, scalarVal, source); !ok {
			return false
		}
	}

	b.log.Info().Str("actuator", actuatorID).Str("source", string(source)).Msg("bridge: setpoint written")
	return true
}

// Start launches the background sample and publish loops. Cancel ctx or call
// Stop to tear them down.
func (b *Bridge) Start(ctx context.Context) {
	b.mu.Lock()
	b.stop = make(chan struct{})
	stop := b.stop
	b.mu.Unlock()

	b.wg.Add(2)
	go b.sampleLoop(ctx, stop)
	go b.publishLoop(ctx, stop)
}

// Stop halts the background loops and waits for them to exit.
func (b *Bridge) Stop() {
	b.mu.Lock()
	stop := b.stop
	b.stop = nil
	b.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	b.wg.Wait()
}

func (b *Bridge) sampleLoop(ctx context.Context, stop chan struct{}) {
	defer b.wg.Done()
	ticker := time.NewTicker(b.sampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			b.Sample()
		}
	}
}

func (b *Bridge) publishLoop(ctx context.Context, stop chan struct{}) {
	defer b.wg.Done()
	ticker := time.NewTicker(b.publishInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			b.PublishOnce()
		}
	}
}

// Sample records one sensor reading into the rolling buffer, evicting
// anything older than the sample-buffer window. Exported so callers (and
// tests) can drive it deterministically instead of waiting on the ticker.
//
// In ModeHardware, the reading comes from the driver's ReadSensors instead of
// the Twin; maxConsecutiveTelemetryFailures consecutive errors latch the
// watchdog's emergency stop, since a driver that has gone silent cannot be
// told apart from one reporting an unsafe plant.
func (b *Bridge) Sample() {
	b.mu.Lock()
	mode, driver := b.mode, b.driver
	b.mu.Unlock()

	var temperature float64
	switch mode {
	case ModeHardware:
		readings, err := driver.ReadSensors()
		if err != nil {
			b.mu.Lock()
			b.consecutiveFailures++
			failures := b.consecutiveFailures
			b.mu.Unlock()
			b.log.Error().Err(err).Int("consecutive_failures", failures).Msg("bridge: ReadSensors failed")
			if failures >= maxConsecutiveTelemetryFailures {
				b.watchdog.TriggerEmergencyStop()
				b.log.Error().Int("consecutive_failures", failures).Msg("bridge: emergency stop latched, telemetry lost")
			}
			return
		}
		b.mu.Lock()
		b.consecutiveFailures = 0
		b.mu.Unlock()
		temperature = readings["temperature"]
	default:
		temperature = b.t.TelemetryPacket().Sensors["temperature"]
	}

	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = append(b.samples, sample{at: now, temperature: temperature})

	cutoff := now.Add(-sampleBufferWindow)
	i := 0
	for ; i < len(b.samples); i++ {
		if b.samples[i].at.After(cutoff) {
			break
		}
	}
	b.samples = b.samples[i:]

	if b.onSample != nil {
		b.onSample()
	}
}

// svp computes saturation vapor pressure (kPa) at temperature T (°C).
func svp(tempC float64) float64 {
	return 0.61078 * math.Exp(17.27*tempC/(tempC+237.3))
}

// vpd computes vapor pressure deficit from temperature and relative humidity.
func vpd(tempC, relHumidity float64) float64 {
	s := svp(tempC)
	return s - s*relHumidity/100
}

// PublishOnce publishes one telemetry frame (raw sensors plus latents) on
// "telemetry/industrial", and invokes the external reporter hook if set.
// Exported for deterministic test drives in addition to the ticker loop.
func (b *Bridge) PublishOnce() {
	packet := b.t.TelemetryPacket()

	b.mu.Lock()
	var stdev float64
	if n := len(b.samples); n > 1 {
		var mean float64
		for _, s := range b.samples {
			mean += s.temperature
		}
		mean /= float64(n)
		var variance float64
		for _, s := range b.samples {
			d := s.temperature - mean
			variance += d * d
		}
		variance /= float64(n)
		stdev = math.Sqrt(variance)
	}
	b.mu.Unlock()

	frame := Frame{
		Packet: packet,
		Latents: LatentVariables{
			VPD:              vpd(packet.Sensors["temperature"], packet.Sensors["humidity"]),
			TemperatureStdev: stdev,
		},
	}

	b.bus.Publish("telemetry/industrial", frame)
	if b.reporter != nil {
		b.reporter(frame)
	}
}
