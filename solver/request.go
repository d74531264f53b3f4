// Package solver is the top-level dispatch point (spec.md §6/§7): it
// resolves a scenario and request options to a scale-specific solver (or
// the Mock Oracle), applies the resource-cap and numerical-containment
// error policy, and returns a uniform Result Envelope regardless of
// which path ran.
package solver

import (
	"github.com/pthm-cable/evacsim/config"
)

// Scale selects which solver answers a request.
type Scale string

const (
	ScaleMicro Scale = "micro"
	ScaleMeso  Scale = "meso"
	ScaleMacro Scale = "macro"
	ScaleRL    Scale = "rl"
)

// RequestOptions is the per-call options table from spec.md §6. Zero
// values are replaced by the documented defaults in ResolveDefaults.
type RequestOptions struct {
	GridResolution int     // spatial N; default depends on Scale (see ResolveDefaults)
	TimeSteps      int     // T; default 100
	NumAgents      int     // micro/RL only; default 100
	PanicFactor    float64 // micro/RL; 0 = the preset's panic factor (1.2 for "standard")
	UseGPU         bool    // accepted for interface compatibility; this engine has no GPU path (DESIGN.md)
	Preset         string  // default "standard"
	DevMode        string  // mirrors the DEV_MODE environment variable; "mock" forces the Mock Oracle
	Seed           int64   // RNG seed for RL agent placement; micro runs do not depend on it, and the mock oracle's texture is fixed regardless
}

// ResolveDefaults fills zero-valued fields of o with the spec.md §6
// defaults, using defaultGrid as the scale-appropriate spatial default
// (50 for micro, 100 for meso/macro/rl). A zero PanicFactor is left as is,
// so the micro solver takes the panic factor from the selected preset.
func (o RequestOptions) ResolveDefaults(defaultGrid int) RequestOptions {
	if o.GridResolution <= 0 {
		o.GridResolution = defaultGrid
	}
	if o.TimeSteps <= 0 {
		o.TimeSteps = 100
	}
	if o.NumAgents <= 0 {
		o.NumAgents = 100
	}
	if o.Preset == "" {
		o.Preset = "standard"
	}
	return o
}

// defaultGridFor returns the scale-appropriate default spatial
// resolution per spec.md §6's "50 / 100" split between micro and the
// field solvers.
func defaultGridFor(scale Scale) int {
	if scale == ScaleMicro {
		return 50
	}
	return 100
}

// effectiveDevMode resolves the request's DevMode against the engine's
// configured default, giving the explicit request priority.
func effectiveDevMode(o RequestOptions, cfg *config.Config) string {
	if o.DevMode != "" {
		return o.DevMode
	}
	if cfg != nil {
		return cfg.DevMode
	}
	return ""
}
