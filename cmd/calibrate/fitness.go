package main

import (
	"context"

	"github.com/pthm-cable/evacsim/config"
	"github.com/pthm-cable/evacsim/micro"
	"github.com/pthm-cable/evacsim/raster"
	"github.com/pthm-cable/evacsim/scenario"
)

// deadlockWeight balances the two calibration scenarios: E2 (the
// doorway-gap deadlock test) is the harder case and dominates the
// combined score so CMA-ES doesn't trade E2 clearance for E1 speed.
const deadlockWeight = 1.5

// emptyRoomScenario is spec.md §8's E1: a 10x10 m box with a single exit,
// 20 agents seeded away from it, no obstructions.
func emptyRoomScenario() *scenario.Scenario {
	return &scenario.Scenario{
		ID: "calibrate-e1-empty-room",
		Layout: scenario.BuildingLayout{
			Walls: []scenario.Wall{
				{P: scenario.Point{X: 0, Y: 0}, Q: scenario.Point{X: 0, Y: 10}},
				{P: scenario.Point{X: 10, Y: 0}, Q: scenario.Point{X: 10, Y: 10}},
				{P: scenario.Point{X: 0, Y: 10}, Q: scenario.Point{X: 10, Y: 10}},
				{P: scenario.Point{X: 0, Y: 0}, Q: scenario.Point{X: 4.5, Y: 0}},
				{P: scenario.Point{X: 5.5, Y: 0}, Q: scenario.Point{X: 10, Y: 0}},
			},
			Exits:            []scenario.Point{{X: 5, Y: 0}},
			InitialPositions: []scenario.InitialCluster{{X: 5, Y: 8, Count: 20}},
		},
	}
}

// deadlockScenario is spec.md §8's E2: E1's box with an additional wall
// in front of the exit, open only at two 0.5 m gaps near the side walls,
// forcing agents to funnel around it.
func deadlockScenario() *scenario.Scenario {
	s := emptyRoomScenario()
	s.ID = "calibrate-e2-deadlock"
	s.Layout.Walls = append(s.Layout.Walls, scenario.Wall{
		P: scenario.Point{X: 0.5, Y: 1}, Q: scenario.Point{X: 9.5, Y: 1},
	})
	return s
}

// FitnessEvaluator scores a MicroConfig parameter set by how quickly and
// completely it clears the calibration scenarios, mirroring the teacher's
// FitnessEvaluator but over evacuation scenarios instead of organism
// survival ticks.
type FitnessEvaluator struct {
	params      *ParamVector
	maxSteps    int
	gridRes     int
	domainWidth float64
	seeds       []int64

	lastQuality float64 // mean fraction evacuated across the last Evaluate call
}

// NewFitnessEvaluator builds an evaluator that runs each calibration
// scenario once per seed. The seed is passed to micro.NewSolver, but the
// micro solver's stepping does not draw from it, so every seed yields the
// same result for a given parameter set.
func NewFitnessEvaluator(params *ParamVector, maxSteps, gridRes int, domainWidth float64, seeds []int64) *FitnessEvaluator {
	return &FitnessEvaluator{
		params:      params,
		maxSteps:    maxSteps,
		gridRes:     gridRes,
		domainWidth: domainWidth,
		seeds:       seeds,
	}
}

// LastQuality returns the mean evacuated fraction from the most recent
// Evaluate call, for progress reporting.
func (fe *FitnessEvaluator) LastQuality() float64 { return fe.lastQuality }

// Evaluate returns a score where lower is better: steps-to-clear for E1,
// plus a heavy per-stuck-agent penalty, weighted-summed with E2's result,
// averaged over fe.seeds.
func (fe *FitnessEvaluator) Evaluate(raw []float64) float64 {
	clamped := fe.params.Clamp(raw)
	cfg := microConfigFrom(clamped)

	var total, qualitySum float64
	for _, seed := range fe.seeds {
		e1Score, e1Quality := fe.scoreScenario(emptyRoomScenario(), cfg, seed)
		e2Score, e2Quality := fe.scoreScenario(deadlockScenario(), cfg, seed)
		total += e1Score + deadlockWeight*e2Score
		qualitySum += (e1Quality + e2Quality) / 2
	}

	fe.lastQuality = qualitySum / float64(len(fe.seeds))
	return total / float64(len(fe.seeds))
}

// scoreScenario runs s to completion (or fe.maxSteps) and returns
// (score, evacuated fraction). A scenario that fully clears scores the
// step index it cleared on; one that does not is penalized by 10x the
// step budget plus one step budget per straggling agent so CMA-ES always
// prefers full clearance over speed.
func (fe *FitnessEvaluator) scoreScenario(s *scenario.Scenario, cfg config.MicroConfig, seed int64) (float64, float64) {
	r, err := raster.Rasterize(s, fe.gridRes, fe.domainWidth)
	if err != nil {
		return float64(10 * fe.maxSteps), 0
	}
	sv, err := micro.NewSolver(s, r, cfg, seed)
	if err != nil {
		return float64(10 * fe.maxSteps), 0
	}

	total := 0
	for _, c := range s.Layout.InitialPositions {
		total += c.Count
	}
	if total == 0 {
		return 0, 1
	}

	env := sv.Run(context.Background(), fe.maxSteps)
	safe := env.Series["safe_agents"]

	clearedAt := -1
	for t, v := range safe {
		if int(v) >= total {
			clearedAt = t
			break
		}
	}

	final := 0.0
	if len(safe) > 0 {
		final = safe[len(safe)-1]
	}
	quality := final / float64(total)

	if clearedAt >= 0 {
		return float64(clearedAt), quality
	}
	stragglers := float64(total) - final
	return float64(10*fe.maxSteps) + stragglers*float64(fe.maxSteps), quality
}

// microConfigFrom builds a MicroConfig from a clamped parameter vector,
// filling in the fixed (non-calibrated) constants with literals equal to
// the defaults.yaml values so the evaluator doesn't need a *config.Config
// in hand.
func microConfigFrom(clamped []float64) config.MicroConfig {
	return config.MicroConfig{
		DT:                       0.1,
		DesiredSpeed:             clamped[0],
		Tau:                      clamped[1],
		PanicFactor:              clamped[2],
		AgentInteractionRange:    2.0,
		AgentInteractionStrength: clamped[3],
		AgentInteractionFalloff:  clamped[4],
		WallRange:                1.0,
		WallStrength:             clamped[5],
		WallFalloff:              clamped[6],
		HazardStrength:           5.0,
		EvacRadius:               clamped[7],
	}
}
