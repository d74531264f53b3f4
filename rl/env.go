// Package rl implements the grid-based reinforcement-learning environment:
// a Gym-style reset/step/observation loop over the shared raster, where
// agents choose one of eight compass moves each step and are rewarded for
// evacuating quickly, avoiding hazards, and spreading load fairly across
// exits. Grounded on the micro solver's per-agent force combination
// (driving + exit attraction + hazard repulsion), adapted from continuous
// forces to a discrete grid-action interface.
package rl

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/pthm-cable/evacsim/config"
	"github.com/pthm-cable/evacsim/envelope"
	"github.com/pthm-cable/evacsim/raster"
	"github.com/pthm-cable/evacsim/scenario"
	"github.com/pthm-cable/evacsim/telemetry"
)

// State is one of the environment's four lifecycle states.
type State string

const (
	StateFresh     State = "fresh"
	StateReady     State = "ready"
	StateInEpisode State = "in_episode"
	StateTerminal  State = "terminal"
)

// ErrNotReady is returned by Step when called outside {ready, in_episode}.
var ErrNotReady = errors.New("rl: step called in terminal state; call Reset first")

// actionDelta lists the eight compass-direction grid steps, indexed 0..7
// starting north and proceeding clockwise.
var actionDelta = [8][2]int{
	{0, -1}, {1, -1}, {1, 0}, {1, 1}, {0, 1}, {-1, 1}, {-1, 0}, {-1, -1},
}

type agent struct {
	gx, gy  int
	active  bool
	exitIdx int // exit used upon evacuation, -1 until evacuated
}

// Env is the grid-based evacuation RL environment.
type Env struct {
	rast *raster.Raster
	scen *scenario.Scenario
	cfg  config.RLConfig
	rng  *rand.Rand

	state State
	step  int

	agents         []agent
	evacuatedCount int
	exitUsage      []int // per-exit evacuation counts, len(scen.Layout.Exits)
}

// NewEnv builds an Env over raster r for scenario s. Call Reset before the
// first Step.
func NewEnv(s *scenario.Scenario, r *raster.Raster, cfg config.RLConfig) *Env {
	return &Env{
		rast:  r,
		scen:  s,
		cfg:   cfg,
		state: StateFresh,
	}
}

// Reset places numAgents agents uniformly at random on cells that are
// neither walls nor hazard > 0.5, using seed for reproducibility, and
// transitions the environment to StateReady.
func (e *Env) Reset(numAgents int, seed int64) envelope.Tensor {
	e.rng = rand.New(rand.NewSource(seed))
	e.step = 0
	e.evacuatedCount = 0
	e.exitUsage = make([]int, len(e.scen.Layout.Exits))
	e.agents = make([]agent, 0, numAgents)

	n := e.rast.N
	for len(e.agents) < numAgents {
		gx := e.rng.Intn(n)
		gy := e.rng.Intn(n)
		idx := e.rast.Idx(gx, gy)
		if e.rast.WallMask[idx] {
			continue
		}
		if e.rast.AggregateHazard[idx] > 0.5 {
			continue
		}
		e.agents = append(e.agents, agent{gx: gx, gy: gy, active: true, exitIdx: -1})
	}

	e.state = StateReady
	return e.Observation()
}

// Observation builds the 4-channel tensor: agent density (normalized by
// 5), wall mask, aggregated hazard intensity, exit mask.
func (e *Env) Observation() envelope.Tensor {
	n := e.rast.N
	obs := envelope.NewTensor(4, n, n)

	for _, a := range e.agents {
		if !a.active {
			continue
		}
		cur := obs.At(0, a.gy, a.gx)
		obs.Set(cur+1, 0, a.gy, a.gx)
	}
	for gy := 0; gy < n; gy++ {
		for gx := 0; gx < n; gx++ {
			idx := e.rast.Idx(gx, gy)
			obs.Set(obs.At(0, gy, gx)/5, 0, gy, gx)
			if e.rast.WallMask[idx] {
				obs.Set(1, 1, gy, gx)
			}
			obs.Set(e.rast.AggregateHazard[idx], 2, gy, gx)
			if e.rast.ExitMask[idx] {
				obs.Set(1, 3, gy, gx)
			}
		}
	}
	return obs
}

// Positions returns the current grid cell of every agent in spawn order,
// active or evacuated, for callers (a policy evaluation loop, telemetry)
// that need per-agent state the aggregate Observation tensor discards.
func (e *Env) Positions() [][2]int {
	out := make([][2]int, len(e.agents))
	for i, a := range e.agents {
		out[i] = [2]int{a.gx, a.gy}
	}
	return out
}

// AgentActive reports whether agent i is still active (not evacuated).
func (e *Env) AgentActive(i int) bool {
	if i < 0 || i >= len(e.agents) {
		return false
	}
	return e.agents[i].active
}

// ActiveCount returns the number of agents not yet evacuated.
func (e *Env) ActiveCount() int {
	n := 0
	for _, a := range e.agents {
		if a.active {
			n++
		}
	}
	return n
}

// Step applies one action per active agent (actions is indexed over all
// agents; entries for inactive agents are ignored) and returns the next
// observation, the step's reward, and whether the episode has ended.
func (e *Env) Step(actions []int) (envelope.Tensor, float64, bool, error) {
	if e.state == StateTerminal || e.state == StateFresh {
		return envelope.Tensor{}, 0, true, fmt.Errorf("%w (state=%s)", ErrNotReady, e.state)
	}
	e.state = StateInEpisode

	evacuatedBefore := e.evacuatedCount
	var hazardSum float64

	for i := range e.agents {
		a := &e.agents[i]
		if !a.active {
			continue
		}

		action := 0
		if i < len(actions) {
			action = actions[i]
		}
		e.moveAgent(a, action)

		if a.active {
			hazardSum += e.rast.AggregateHazard[e.rast.Idx(a.gx, a.gy)]
		}
	}

	deltaEvacuated := e.evacuatedCount - evacuatedBefore
	reward := e.cfg.EvacuationReward*float64(deltaEvacuated) - e.cfg.HazardPenalty*hazardSum + e.fairnessBonus()

	e.step++
	done := e.ActiveCount() == 0 || e.step >= e.cfg.MaxEpisodeSteps
	if done {
		e.state = StateTerminal
	}

	return e.Observation(), reward, done, nil
}

// moveAgent computes the combined driving/exit-attraction/hazard-repulsion
// vector for a, rounds it to a grid step, and applies it if the
// destination is not a wall; marks the agent evacuated if it ends within
// Chebyshev distance 1 of any exit cell.
func (e *Env) moveAgent(a *agent, action int) {
	n := e.rast.N
	if action < 0 || action >= len(actionDelta) {
		action = 0
	}
	d := actionDelta[action]
	vx, vy := float64(d[0]), float64(d[1])

	px, py := float64(a.gx), float64(a.gy)

	if exitIdx := e.scen.ClosestExit(e.gridToWorldX(px), e.gridToWorldY(py)); exitIdx >= 0 {
		ex, ey := e.rast.ToGridFloat(e.scen.Layout.Exits[exitIdx].X, e.scen.Layout.Exits[exitIdx].Y)
		dx, dy := ex-px, ey-py
		de := math.Max(math.Hypot(dx, dy), 0.1)
		vx += dx / (e.cfg.ExitAttractionScale * de)
		vy += dy / (e.cfg.ExitAttractionScale * de)
	}

	scale := float64(n) / 10
	for _, h := range e.scen.Hazards {
		hgx, hgy := e.rast.ToGridFloat(h.Position.X, h.Position.Y)
		rGrid := h.Radius * scale
		dx, dy := hgx-px, hgy-py
		dh := math.Hypot(dx, dy)
		if dh >= 2*rGrid || dh < 1e-9 {
			continue
		}
		vx += -dx / (e.cfg.HazardRepulsionScale * dh)
		vy += -dy / (e.cfg.HazardRepulsionScale * dh)
	}

	mag := math.Hypot(vx, vy)
	if mag > 1e-9 {
		vx /= mag
		vy /= mag
	}
	stepX := int(math.Round(vx))
	stepY := int(math.Round(vy))

	nx := clampInt(a.gx+stepX, 0, n-1)
	ny := clampInt(a.gy+stepY, 0, n-1)

	if !e.rast.WallMask[e.rast.Idx(nx, ny)] {
		a.gx, a.gy = nx, ny
	}

	if e.nearAnyExit(a.gx, a.gy) {
		a.active = false
		exitIdx := e.scen.ClosestExit(e.gridToWorldX(float64(a.gx)), e.gridToWorldY(float64(a.gy)))
		a.exitIdx = exitIdx
		e.evacuatedCount++
		if exitIdx >= 0 && exitIdx < len(e.exitUsage) {
			e.exitUsage[exitIdx]++
		}
	}
}

// nearAnyExit reports whether (gx,gy) is within Chebyshev distance 1 of an
// exit cell.
func (e *Env) nearAnyExit(gx, gy int) bool {
	n := e.rast.N
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			nx, ny := gx+dx, gy+dy
			if nx < 0 || nx >= n || ny < 0 || ny >= n {
				continue
			}
			if e.rast.ExitMask[e.rast.Idx(nx, ny)] {
				return true
			}
		}
	}
	return false
}

// fairnessBonus rewards an even spread of evacuations across exits:
// max(0, fairness_threshold - G(shares)) * fairness_weight, where G is the
// Gini coefficient of exit-usage shares normalized to sum 1.
func (e *Env) fairnessBonus() float64 {
	if e.evacuatedCount == 0 {
		return 0
	}
	shares := make([]float64, len(e.exitUsage))
	total := float64(e.evacuatedCount)
	for i, c := range e.exitUsage {
		shares[i] = float64(c) / total
	}
	g := telemetry.Gini(shares)
	bonus := e.cfg.FairnessThreshold - g
	if bonus < 0 {
		bonus = 0
	}
	return bonus * e.cfg.FairnessWeight
}

func (e *Env) gridToWorldX(gx float64) float64 { return gx * e.rast.Width / float64(e.rast.N) }
func (e *Env) gridToWorldY(gy float64) float64 { return gy * e.rast.Height / float64(e.rast.N) }

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// CurrentState returns the environment's lifecycle state.
func (e *Env) CurrentState() State { return e.state }

// StepCount returns the number of steps taken in the current episode.
func (e *Env) StepCount() int { return e.step }

// EvacuatedCount returns the total number of agents evacuated so far.
func (e *Env) EvacuatedCount() int { return e.evacuatedCount }
