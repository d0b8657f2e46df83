package twin

// Config fixes the physics constants and actuator set for a Twin. Concrete
// defaults are grounded on original_source/_SUDOTEER's greenhouse.py and
// utils/finance.py, extended to cover the sensor/actuator
// set this runtime operates on.
type Config struct {
	// TimeAccelerationX is how many simulated hours pass per real hour.
	// Default 60.
	TimeAccelerationX float64

	TempBase      float64 // °C
	TempAmplitude float64 // °C swing over the day
	NoiseAmpTemp  float64 // uniform(-NoiseAmpTemp, NoiseAmpTemp)

	HumidityBase      float64
	HumidityAmplitude float64
	NoiseAmpHumidity  float64

	ElectricityRatePerKWh float64

	Actuators []ActuatorSpec
}

// DefaultActuators is the fixed actuator set for the reference greenhouse.
func DefaultActuators() []ActuatorSpec {
	return []ActuatorSpec{
		{ID: "pump_active", Kind: KindBoolean, PowerKW: 0.1},
		{ID: "heater", Kind: KindBoolean, PowerKW: 1.5},
		{ID: "vent", Kind: KindFraction, PowerKW: 0},
		{ID: "fan", Kind: KindBoolean, PowerKW: 0.2},
		{ID: "nutrient_pump", Kind: KindBoolean, PowerKW: 0.05},
		{ID: "grow_light", Kind: KindBoolean, PowerKW: 0.4},
		{ID: "aeration_pump", Kind: KindBoolean, PowerKW: 0.08},
		{ID: "ph_up", Kind: KindRate, PowerKW: 0.02, Conflict: "ph_down"},
		{ID: "ph_down", Kind: KindRate, PowerKW: 0.02, Conflict: "ph_up"},
	}
}

// DefaultConfig returns the physics constants used by original_source's
// simulation, extended for the full sensor set.
func DefaultConfig() Config {
	return Config{
		TimeAccelerationX:     60,
		TempBase:              20.0,
		TempAmplitude:         5.0,
		NoiseAmpTemp:          0.1,
		HumidityBase:          50.0,
		HumidityAmplitude:     10.0,
		NoiseAmpHumidity:      0.5,
		ElectricityRatePerKWh: 0.12,
		Actuators:             DefaultActuators(),
	}
}
