// Package config provides configuration loading and access for the
// evacuation simulation engine, following the teacher's embed-defaults +
// YAML-overlay pattern.
package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds all engine configuration parameters.
type Config struct {
	Domain    DomainConfig            `yaml:"domain"`
	Grid      GridConfig              `yaml:"grid"`
	Micro     MicroConfig             `yaml:"micro"`
	Meso      MesoConfig              `yaml:"meso"`
	Macro     MacroConfig             `yaml:"macro"`
	RL        RLConfig                `yaml:"rl"`
	Telemetry TelemetryConfig         `yaml:"telemetry"`
	Bookmarks BookmarksConfig         `yaml:"bookmarks"`
	Presets   map[string]PresetParams `yaml:"presets"`

	// DevMode mirrors the DEV_MODE environment variable ("mock" forces the
	// Mock Oracle). Modeled as an explicit field per spec.md §9 rather than
	// solvers reading the environment themselves.
	DevMode string `yaml:"-"`
}

// DomainConfig holds the shared world coordinate bounds (meters).
type DomainConfig struct {
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
}

// GridConfig holds default resolutions and the Mock Oracle resource caps.
type GridConfig struct {
	DefaultMicroN     int `yaml:"default_micro_n"`
	DefaultFieldN     int `yaml:"default_field_n"`
	MaxGridResolution int `yaml:"max_grid_resolution"`
	MaxTimeSteps      int `yaml:"max_time_steps"`
}

// MicroConfig holds social-force solver parameters (spec.md §4.2).
type MicroConfig struct {
	DT                       float64 `yaml:"dt"`
	Tau                      float64 `yaml:"tau"`
	DesiredSpeed             float64 `yaml:"desired_speed"`
	PanicFactor              float64 `yaml:"panic_factor"`
	AgentInteractionRange    float64 `yaml:"agent_interaction_range"`
	AgentInteractionStrength float64 `yaml:"agent_interaction_strength"`
	AgentInteractionFalloff  float64 `yaml:"agent_interaction_falloff"`
	WallRange                float64 `yaml:"wall_range"`
	WallStrength             float64 `yaml:"wall_strength"`
	WallFalloff              float64 `yaml:"wall_falloff"`
	HazardStrength           float64 `yaml:"hazard_strength"`
	EvacRadius               float64 `yaml:"evac_radius"`
}

// MesoConfig holds BGK lattice solver parameters (spec.md §4.3).
type MesoConfig struct {
	DT                  float64 `yaml:"dt"`
	NumDirections       int     `yaml:"num_directions"`
	TauLow              float64 `yaml:"tau_low"`
	TauHigh             float64 `yaml:"tau_high"`
	DensityThreshold    float64 `yaml:"density_threshold"`
	ExitAttractionScale float64 `yaml:"exit_attraction_scale"`
}

// MacroConfig holds PDE solver parameters (spec.md §4.4).
type MacroConfig struct {
	DT                        float64 `yaml:"dt"`
	Diffusion                 float64 `yaml:"diffusion"`
	ExitSinkRate              float64 `yaml:"exit_sink_rate"`
	FireReactionRate          float64 `yaml:"fire_reaction_rate"`
	VelocityRecomputeInterval int     `yaml:"velocity_recompute_interval"`
	FireHazardFeedback        float64 `yaml:"fire_hazard_feedback"`
}

// RLConfig holds RL environment parameters (spec.md §4.5).
type RLConfig struct {
	MaxEpisodeSteps      int     `yaml:"max_episode_steps"`
	FairnessThreshold    float64 `yaml:"fairness_threshold"`
	FairnessWeight       float64 `yaml:"fairness_weight"`
	EvacuationReward     float64 `yaml:"evacuation_reward"`
	HazardPenalty        float64 `yaml:"hazard_penalty"`
	ExitAttractionScale  float64 `yaml:"exit_attraction_scale"`
	HazardRepulsionScale float64 `yaml:"hazard_repulsion_scale"`
}

// TelemetryConfig holds output settings for the telemetry package.
type TelemetryConfig struct {
	OutputDir  string `yaml:"output_dir"`
	CSVEnabled bool   `yaml:"csv_enabled"`
}

// BookmarksConfig tunes the telemetry bookmark detector's trigger
// thresholds (spec.md §9's "automatic highlight" notes).
type BookmarksConfig struct {
	MassCasualty   MassCasualtyConfig   `yaml:"mass_casualty"`
	EvacStall      EvacStallConfig      `yaml:"evac_stall"`
	HazardSpike    HazardSpikeConfig    `yaml:"hazard_spike"`
	RapidClearance RapidClearanceConfig `yaml:"rapid_clearance"`
}

// MassCasualtyConfig triggers when the casualty count in one window reaches
// MinCasualties.
type MassCasualtyConfig struct {
	MinCasualties int `yaml:"min_casualties"`
}

// EvacStallConfig triggers when evacuations stall for consecutive windows.
type EvacStallConfig struct {
	StallWindows int `yaml:"stall_windows"`
}

// HazardSpikeConfig triggers when mean hazard intensity jumps sharply.
type HazardSpikeConfig struct {
	Multiplier float64 `yaml:"multiplier"`
}

// RapidClearanceConfig triggers when evacuation rate is unusually high.
type RapidClearanceConfig struct {
	Multiplier float64 `yaml:"multiplier"`
	MinEvacs   int     `yaml:"min_evacs"`
}

// PresetParams selects the (desired speed, relaxation time, panic factor)
// triple referenced throughout spec.md §4.2-§4.4.
type PresetParams struct {
	DesiredSpeed float64 `yaml:"desired_speed"`
	Tau          float64 `yaml:"tau"`
	PanicFactor  float64 `yaml:"panic_factor"`
}

// global holds the loaded configuration for CLI entry points.
var global *Config

// Init loads configuration from path (embedded defaults if empty) and
// records it as the package-level singleton used by cmd/ entry points.
// Library code should prefer Load and pass *Config explicitly.
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	cfg.DevMode = os.Getenv("DEV_MODE")
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Load loads configuration from a YAML file, merging with embedded
// defaults. If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	return cfg, nil
}

// WriteYAML saves the configuration to path, mirroring the teacher's
// telemetry.OutputManager.WriteConfig.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Preset resolves a preset name to its parameter triple, falling back to
// "standard" for an unknown name.
func (c *Config) Preset(name string) PresetParams {
	if p, ok := c.Presets[name]; ok {
		return p
	}
	return c.Presets["standard"]
}

// IsMockForced reports whether DEV_MODE=mock forces the Mock Oracle.
func (c *Config) IsMockForced() bool {
	return c.DevMode == "mock"
}
