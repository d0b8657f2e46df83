// Package greenhouse is the composition root: it loads Config and wires
// every component (Twin, SafetyWatchdog, Bus, AgentRuntime, Bridge,
// Orchestrator, FinanceTracker, UIBridge, CommandPlane, HistoryStore) into
// one Runtime, following the internal/daemon Config/Daemon split this
// project inherited its process-lifecycle shape from.
package greenhouse

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config holds every subsystem's configuration, loaded from TOML with
// defaults applied first.
type Config struct {
	Twin         TwinConfig         `toml:"twin"`
	Safety       SafetyConfig       `toml:"safety"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Finance      FinanceConfig      `toml:"finance"`
	Bridge       BridgeConfig       `toml:"bridge"`
	UI           UIConfig           `toml:"ui"`
	HTTP         HTTPConfig         `toml:"http"`
}

// TwinConfig controls the digital-twin simulation.
type TwinConfig struct {
	Seed                  int64   `toml:"seed"`
	TimeAccelerationX     float64 `toml:"time_acceleration_x"`
	NoiseAmpTemp          float64 `toml:"noise_amp_temp"`
	NoiseAmpHumidity      float64 `toml:"noise_amp_humidity"`
	ElectricityRatePerKWh float64 `toml:"electricity_rate_per_kwh"`
}

// SafetyConfig controls the watchdog's staleness timeout; sensor ranges come
// from safety.DefaultPolicy and are not configurable here.
type SafetyConfig struct {
	TimeoutSeconds int `toml:"timeout_seconds"`
}

// OrchestratorConfig controls workflow budget guardrails.
type OrchestratorConfig struct {
	BudgetHours float64 `toml:"budget_hours"`
}

// FinanceConfig controls the default model cost table entry.
type FinanceConfig struct {
	DefaultModelTag      string  `toml:"default_model_tag"`
	PromptPerMillion     float64 `toml:"prompt_per_million"`
	CompletionPerMillion float64 `toml:"completion_per_million"`
}

// BridgeConfig controls the industrial bridge's mode and rates.
type BridgeConfig struct {
	Mode                   string `toml:"mode"` // "sim" or "hardware"; Runtime.Start connects in sim mode regardless
	SampleIntervalMillis   int    `toml:"sample_interval_millis"`
	PublishIntervalMillis  int    `toml:"publish_interval_millis"`
}

// UIConfig controls the UI bridge's heartbeat.
type UIConfig struct {
	HeartbeatIntervalSeconds int `toml:"heartbeat_interval_seconds"`
	StallThresholdSeconds    int `toml:"stall_threshold_seconds"`
}

// HTTPConfig controls the REST API listener.
type HTTPConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// DefaultConfig returns the greenhouse's out-of-the-box configuration,
// fixing the constants grounded on original_source.
func DefaultConfig() Config {
	return Config{
		Twin: TwinConfig{
			Seed:                  1,
			TimeAccelerationX:     60,
			NoiseAmpTemp:          0.1,
			NoiseAmpHumidity:      0.5,
			ElectricityRatePerKWh: 0.12,
		},
		Safety: SafetyConfig{
			TimeoutSeconds: 30,
		},
		Orchestrator: OrchestratorConfig{
			BudgetHours: 2.0,
		},
		Finance: FinanceConfig{
			DefaultModelTag:      "gpt-4o-mini",
			PromptPerMillion:     0.15,
			CompletionPerMillion: 0.60,
		},
		Bridge: BridgeConfig{
			Mode:                  "sim",
			SampleIntervalMillis:  100,
			PublishIntervalMillis: 500,
		},
		UI: UIConfig{
			HeartbeatIntervalSeconds: 2,
			StallThresholdSeconds:    10,
		},
		HTTP: HTTPConfig{
			Host: "127.0.0.1",
			Port: 8420,
		},
	}
}

// Load reads config from path, overlaying it onto DefaultConfig. A missing
// file is not an error — defaults are used as-is.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("greenhouse: parse config: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to path as TOML, creating parent directories as needed.
func Save(cfg Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("greenhouse: create config dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("greenhouse: create config file: %w", err)
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

// DataHome returns the greenhouse data directory, honoring
// GREENHOUSE_HOME, falling back to ~/.greenhouse.
func DataHome() string {
	if env := os.Getenv("GREENHOUSE_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".greenhouse")
}
