package solver

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/pthm-cable/evacsim/config"
	"github.com/pthm-cable/evacsim/envelope"
	"github.com/pthm-cable/evacsim/macro"
	"github.com/pthm-cable/evacsim/meso"
	"github.com/pthm-cable/evacsim/micro"
	"github.com/pthm-cable/evacsim/mock"
	"github.com/pthm-cable/evacsim/policy"
	"github.com/pthm-cable/evacsim/raster"
	"github.com/pthm-cable/evacsim/rl"
	"github.com/pthm-cable/evacsim/scenario"
)

// numericalGuardThreshold is the number of consecutive steps an
// InternalNumerical condition may persist before the run falls through
// to the Mock Oracle (spec.md §7).
const numericalGuardThreshold = 3

// Run dispatches scenario s to the solver named by scale, applying the
// resource-cap and error-kind policy from spec.md §7: scenario/parameter
// errors are raised before allocation, ResourceExceeded deterministically
// downshifts to the Mock Oracle, and an InternalNumerical condition that
// recurs for three consecutive steps falls through to the Mock Oracle
// with a warning.
func Run(ctx context.Context, cfg *config.Config, s *scenario.Scenario, scale Scale, opts RequestOptions) *envelope.Envelope {
	opts = opts.ResolveDefaults(defaultGridFor(scale))

	if err := s.Validate(); err != nil {
		return envelope.FromError(classifyScenarioError(err))
	}
	if opts.GridResolution <= 0 || opts.TimeSteps < 0 || opts.NumAgents < 0 {
		return envelope.FromError(envelope.NewSolverError(envelope.KindInvalidParameters,
			fmt.Errorf("grid_resolution, time_steps and num_agents must be non-negative")))
	}

	devMode := effectiveDevMode(opts, cfg)
	useMock, cappedGrid, cappedSteps := mock.Trigger(devMode, opts.GridResolution, opts.TimeSteps)
	if cfg != nil {
		if capped, ok := capAgainstConfig(cfg, opts.GridResolution, opts.TimeSteps); ok {
			useMock = true
			cappedGrid, cappedSteps = capped[0], capped[1]
		}
	}

	domainWidth := 20.0
	if cfg != nil && cfg.Domain.Width > 0 {
		domainWidth = cfg.Domain.Width
	}

	if useMock {
		r, err := raster.Rasterize(s, cappedGrid, domainWidth)
		if err != nil {
			return envelope.FromError(classifyScenarioError(err))
		}
		env := mock.Run(s, r, cappedSteps)
		env.Warn("downshifted to the mock oracle: resource caps or DEV_MODE=mock")
		return env
	}

	r, err := raster.Rasterize(s, opts.GridResolution, domainWidth)
	if err != nil {
		return envelope.FromError(classifyScenarioError(err))
	}

	var env *envelope.Envelope
	switch scale {
	case ScaleMicro:
		env = runMicro(ctx, cfg, s, r, opts)
	case ScaleMeso:
		env = runMeso(ctx, cfg, s, r, opts)
	case ScaleMacro:
		env = runMacro(ctx, cfg, s, r, opts)
	case ScaleRL:
		env = runRL(ctx, cfg, s, r, opts)
	default:
		return envelope.FromError(envelope.NewSolverError(envelope.KindInvalidParameters,
			fmt.Errorf("unknown solver scale %q", scale)))
	}

	if env == nil {
		return envelope.FromError(envelope.NewSolverError(envelope.KindInternalNumerical, fmt.Errorf("solver produced no envelope")))
	}

	if env.Success && numericalGuardTripped(env) {
		fallback := mock.Run(s, r, opts.TimeSteps)
		fallback.Warn(fmt.Sprintf("internal numerical instability persisted for %d+ consecutive steps; fell through to the mock oracle", numericalGuardThreshold))
		return fallback
	}

	return env
}

func classifyScenarioError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, scenario.ErrNoExits), errors.Is(err, scenario.ErrMalformedWall):
		return envelope.NewSolverError(envelope.KindInvalidScenario, err)
	case errors.Is(err, scenario.ErrInvalidParameters):
		return envelope.NewSolverError(envelope.KindInvalidParameters, err)
	default:
		return envelope.NewSolverError(envelope.KindInvalidScenario, err)
	}
}

// capAgainstConfig additionally triggers the mock downshift against the
// engine's own configured resource caps (config.GridConfig), which may be
// tighter than the Mock Oracle package's built-in defaults.
func capAgainstConfig(cfg *config.Config, grid, steps int) ([2]int, bool) {
	maxGrid := cfg.Grid.MaxGridResolution
	maxSteps := cfg.Grid.MaxTimeSteps
	if maxGrid <= 0 {
		maxGrid = mock.MaxGridResolution
	}
	if maxSteps <= 0 {
		maxSteps = mock.MaxTimeSteps
	}
	cappedGrid, cappedSteps := grid, steps
	triggered := false
	if grid > maxGrid {
		cappedGrid = maxGrid
		triggered = true
	}
	if steps > maxSteps {
		cappedSteps = maxSteps
		triggered = true
	}
	return [2]int{cappedGrid, cappedSteps}, triggered
}

func runMicro(ctx context.Context, cfg *config.Config, s *scenario.Scenario, r *raster.Raster, opts RequestOptions) *envelope.Envelope {
	microCfg := cfg.Micro
	preset := cfg.Preset(opts.Preset)
	microCfg.DesiredSpeed = preset.DesiredSpeed
	microCfg.Tau = preset.Tau
	microCfg.PanicFactor = preset.PanicFactor
	if opts.PanicFactor > 0 {
		microCfg.PanicFactor = opts.PanicFactor
	}

	sv, err := micro.NewSolver(scenarioWithAgentCount(s, opts.NumAgents), r, microCfg, opts.Seed)
	if err != nil {
		return envelope.FromError(classifyScenarioError(err))
	}
	return sv.Run(ctx, opts.TimeSteps)
}

func runMeso(ctx context.Context, cfg *config.Config, s *scenario.Scenario, r *raster.Raster, opts RequestOptions) *envelope.Envelope {
	sv, err := meso.NewSolver(s, r, cfg.Meso)
	if err != nil {
		return envelope.FromError(classifyScenarioError(err))
	}
	return sv.Run(ctx, opts.TimeSteps)
}

func runMacro(ctx context.Context, cfg *config.Config, s *scenario.Scenario, r *raster.Raster, opts RequestOptions) *envelope.Envelope {
	sv, err := macro.NewSolver(s, r, cfg.Macro)
	if err != nil {
		return envelope.FromError(classifyScenarioError(err))
	}
	return sv.Run(ctx, opts.TimeSteps)
}

// runRL plays out a full episode against the reference forward-pass
// policy and packages the trajectory into a Result Envelope, so batch
// callers (and the testable-property suite) can exercise the RL scale
// through the same dispatch surface as the other solvers. The
// interactive reset/step/observation API remains directly available via
// the rl package for callers that want per-step control or a policy
// fit from persisted weights.
func runRL(ctx context.Context, cfg *config.Config, s *scenario.Scenario, r *raster.Raster, opts RequestOptions) *envelope.Envelope {
	env := rl.NewEnv(s, r, cfg.RL)
	obs := env.Reset(opts.NumAgents, opts.Seed)
	pol := policy.NewIdentityPolicy()

	n := r.N
	evacuated := make([]float64, 0, opts.TimeSteps)
	safeAgents := make([]float64, 0, opts.TimeSteps)
	lastObs := obs
	truncated := false

	for t := 0; t < opts.TimeSteps; t++ {
		if err := ctx.Err(); err != nil {
			truncated = true
			break
		}
		positions := env.Positions()
		actions := make([]int, len(positions))
		for i, p := range positions {
			if !env.AgentActive(i) {
				continue
			}
			logits := pol.Forward(lastObs, p[0], p[1])
			actions[i] = policy.SelectAction(logits)
		}
		nextObs, _, done, err := env.Step(actions)
		if err != nil {
			break
		}
		lastObs = nextObs
		evacuated = append(evacuated, float64(env.EvacuatedCount()))
		safeAgents = append(safeAgents, float64(env.EvacuatedCount()))
		if done {
			break
		}
	}

	out := envelope.New(n, opts.TimeSteps, cfg.Macro.DT)
	out.Truncated = truncated
	out.Fields["observation"] = lastObs
	out.Series["evacuated_count"] = evacuated
	out.Series["safe_agents"] = safeAgents
	return out
}

// scenarioWithAgentCount returns a shallow copy of s with its initial
// clusters scaled so the total agent count matches requested, preserving
// relative cluster proportions; used so the micro solver honors the
// request's num_agents option independent of the scenario JSON's own
// counts (the RL environment takes num_agents directly in Reset).
func scenarioWithAgentCount(s *scenario.Scenario, requested int) *scenario.Scenario {
	if requested <= 0 || len(s.Layout.InitialPositions) == 0 {
		return s
	}
	total := 0
	for _, c := range s.Layout.InitialPositions {
		total += c.Count
	}
	if total == requested || total == 0 {
		return s
	}

	clone := *s
	clusters := make([]scenario.InitialCluster, len(s.Layout.InitialPositions))
	copy(clusters, s.Layout.InitialPositions)

	assigned := 0
	for i := range clusters {
		share := int(math.Round(float64(clusters[i].Count) / float64(total) * float64(requested)))
		clusters[i].Count = share
		assigned += share
	}
	if diff := requested - assigned; diff != 0 && len(clusters) > 0 {
		clusters[0].Count += diff
		if clusters[0].Count < 0 {
			clusters[0].Count = 0
		}
	}
	clone.Layout.InitialPositions = clusters
	clone.NumAgents = requested
	return &clone
}

// numericalGuardTripped reports whether any spatial field contains a
// non-finite value across numericalGuardThreshold or more consecutive
// time steps, the envelope-level containment check backing spec.md §7's
// "recurs for three consecutive steps" policy.
func numericalGuardTripped(env *envelope.Envelope) bool {
	for _, tensor := range env.Fields {
		if len(tensor.Shape) == 0 {
			continue
		}
		steps := tensor.Shape[0]
		cellsPerStep := 1
		for _, d := range tensor.Shape[1:] {
			cellsPerStep *= d
		}
		if cellsPerStep == 0 {
			continue
		}
		consecutive := 0
		for t := 0; t < steps; t++ {
			bad := false
			base := t * cellsPerStep
			for i := 0; i < cellsPerStep; i++ {
				v := tensor.Data[base+i]
				if math.IsNaN(v) || math.IsInf(v, 0) {
					bad = true
					break
				}
			}
			if bad {
				consecutive++
				if consecutive >= numericalGuardThreshold {
					return true
				}
			} else {
				consecutive = 0
			}
		}
	}
	return false
}
