// Package mock implements the deterministic Mock/Fallback Oracle
// (spec.md §4.6): a surrogate that produces a Result Envelope with the
// same tensor shapes as a real solver, without performing any numerical
// solution. It is used when DEV_MODE=mock is set, or as a deterministic
// downshift when a request would exceed the resource caps.
package mock

import (
	"math"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/pthm-cable/evacsim/envelope"
	"github.com/pthm-cable/evacsim/raster"
	"github.com/pthm-cable/evacsim/scenario"
)

// Seed fixes the oracle's texture generator so repeated calls over the
// same scenario and raster produce byte-identical envelopes.
const Seed = 1

// MaxGridResolution and MaxTimeSteps are the resource caps from spec.md
// §4.6: a request above either is downshifted to the Mock Oracle and
// capped to these values rather than failing.
const (
	MaxGridResolution = 200
	MaxTimeSteps      = 150
)

// Trigger reports whether a request should be served by the Mock Oracle,
// either because devMode forces it or because the request exceeds the
// resource caps. cappedGrid/cappedSteps are the values to rasterize and
// run at when use is true and the cap, not DEV_MODE, is the reason.
func Trigger(devMode string, gridResolution, timeSteps int) (use bool, cappedGrid, cappedSteps int) {
	cappedGrid, cappedSteps = gridResolution, timeSteps
	if devMode == "mock" {
		return true, cappedGrid, cappedSteps
	}
	if gridResolution > MaxGridResolution {
		cappedGrid = MaxGridResolution
		use = true
	}
	if timeSteps > MaxTimeSteps {
		cappedSteps = MaxTimeSteps
		use = true
	}
	return use, cappedGrid, cappedSteps
}

// Run produces a deterministic envelope shaped like a real solver's
// output for scenario s over raster r, across steps time steps:
//
//   - density starts as a radial hump (the scenario's initial mass
//     distribution, textured by fixed-seed noise) that decays
//     monotonically over time;
//   - the velocity field is the unit vector from each non-wall cell
//     toward the nearest mapped exit, identical at every step;
//   - the fire field grows toward a saturating plateau across the first
//     half of the run, then freezes;
//   - evacuated_count is a smooth, monotonically increasing curve
//     saturating at 0.9 * the scenario's total initial mass.
func Run(s *scenario.Scenario, r *raster.Raster, steps int) *envelope.Envelope {
	n := r.N
	env := envelope.New(n, steps, 0.1)
	env.MockData = true

	density := envelope.NewTensor(steps, n, n)
	velX := envelope.NewTensor(steps, n, n)
	velY := envelope.NewTensor(steps, n, n)
	fireField := envelope.NewTensor(steps, n, n)
	evacuated := make([]float64, steps)

	initialMass := r.InitialDensity(s)
	totalInitial := sumAll(initialMass)
	spatialHump := texturedHump(initialMass, n, Seed)
	velXField, velYField := exitPointingField(r)
	fireBase := fireBaseField(r)

	midpoint := steps / 2
	if midpoint == 0 {
		midpoint = 1
	}

	for t := 0; t < steps; t++ {
		decay := math.Exp(-1.5 * float64(t) / float64(steps))
		fireGrowth := fireGrowthFactor(t, midpoint)

		for gy := 0; gy < n; gy++ {
			for gx := 0; gx < n; gx++ {
				idx := r.Idx(gx, gy)
				if r.WallMask[idx] {
					continue
				}
				density.Set(spatialHump[idx]*decay, t, gy, gx)
				velX.Set(velXField[idx], t, gy, gx)
				velY.Set(velYField[idx], t, gy, gx)
				fireField.Set(fireBase[idx]*fireGrowth, t, gy, gx)
			}
		}
		evacuated[t] = saturatingEvacuation(t, steps, totalInitial)
	}

	env.Fields["density"] = density
	env.Fields["velocity_x"] = velX
	env.Fields["velocity_y"] = velY
	env.Fields["fire"] = fireField
	env.Series["evacuated_count"] = evacuated
	return env
}

// texturedHump perturbs the scenario's initial density by fixed-seed
// OpenSimplex noise, once, so the spatial pattern stays fixed across
// time and only the decay factor varies per step.
func texturedHump(initialMass []float64, n int, seed int64) []float64 {
	noise := opensimplex.New(seed)
	out := make([]float64, len(initialMass))
	for gy := 0; gy < n; gy++ {
		for gx := 0; gx < n; gx++ {
			idx := gy*n + gx
			jitter := 0.85 + 0.3*(noise.Eval2(float64(gx)*0.15, float64(gy)*0.15)+1)*0.5
			out[idx] = initialMass[idx] * jitter
		}
	}
	return out
}

// exitPointingField returns the unit vector field pointing from each
// non-wall, exit-reachable cell toward the nearest mapped exit, derived
// from the shared exit-distance potential.
func exitPointingField(r *raster.Raster) (vx, vy []float64) {
	n := r.N
	gx, gy := raster.Gradient(r.ExitDistance, n, r.DX, r.DY)
	vx = make([]float64, n*n)
	vy = make([]float64, n*n)
	for i := range vx {
		if r.WallMask[i] || math.IsInf(r.ExitDistance[i], 1) {
			continue
		}
		mag := math.Hypot(gx[i], gy[i])
		if mag > 1e-9 {
			vx[i] = -gx[i] / mag
			vy[i] = -gy[i] / mag
		}
	}
	return vx, vy
}

// fireBaseField seeds the mock fire field's per-cell ceiling from any
// fire-type hazard already rasterized into the scenario, clamped to
// [0,1] the same way the macro solver seeds its fire field.
func fireBaseField(r *raster.Raster) []float64 {
	out := make([]float64, r.N*r.N)
	field, ok := r.HazardFields[scenario.HazardFire]
	if !ok {
		return out
	}
	for i, v := range field {
		if r.WallMask[i] {
			continue
		}
		out[i] = math.Min(v, 1)
	}
	return out
}

// fireGrowthFactor rises from 0 toward 1 across [0, midpoint) and holds
// at its midpoint value thereafter (the "saturating plateau then
// freeze" contract).
func fireGrowthFactor(t, midpoint int) float64 {
	if t >= midpoint {
		t = midpoint - 1
	}
	return 1 - math.Exp(-2*float64(t)/float64(midpoint))
}

// saturatingEvacuation returns a smooth, monotonically increasing curve
// over [0, steps) saturating at 0.9*totalInitial as t approaches the
// last step.
func saturatingEvacuation(t, steps int, totalInitial float64) float64 {
	frac := 1 - math.Exp(-3*float64(t+1)/float64(steps))
	return 0.9 * totalInitial * frac
}

func sumAll(v []float64) float64 {
	var total float64
	for _, x := range v {
		total += x
	}
	return total
}
