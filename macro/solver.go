// Package macro implements the macroscopic advection-diffusion-reaction
// solver: a scalar crowd density ρ(x,y,t) evolved under a velocity field
// pointing toward the nearest exit, sunk at exit cells, and reacting
// against a spreading fire field. Grounded on the mesoscopic solver's
// row-chunked field-update shape, generalized from a discrete-velocity
// distribution to a single continuum field with an explicit PDE stencil.
package macro

import (
	"context"
	"math"

	"github.com/pthm-cable/evacsim/config"
	"github.com/pthm-cable/evacsim/envelope"
	"github.com/pthm-cable/evacsim/raster"
	"github.com/pthm-cable/evacsim/scenario"
)

// fireKernel is the 3x3 diffusion kernel applied to the fire field
// (spec.md §4.4), indexed [drow][dcol] with the center at [1][1].
var fireKernel = [3][3]float64{
	{0.05, 0.2, 0.05},
	{0.2, 0, 0.2},
	{0.05, 0.2, 0.05},
}

// Solver evolves the macroscopic density field over a shared raster.
type Solver struct {
	rast *raster.Raster
	cfg  config.MacroConfig

	rho []float64 // crowd density, N*N
	fire []float64 // fire intensity in [0,1], N*N

	velX, velY []float64 // cached unit velocity field, recomputed periodically
}

// NewSolver builds a Solver for scenario s over raster r, seeding ρ from
// the scenario's initial clusters (or a radial hump) and the fire field
// from any fire-type hazards in the scenario.
func NewSolver(s *scenario.Scenario, r *raster.Raster, cfg config.MacroConfig) (*Solver, error) {
	sv := &Solver{
		rast: r,
		cfg:  cfg,
		rho:  r.InitialDensity(s),
		fire: make([]float64, r.N*r.N),
	}

	if field, ok := r.HazardFields[scenario.HazardFire]; ok {
		for i, v := range field {
			sv.fire[i] = math.Min(v, 1)
		}
	}
	for i, wall := range r.WallMask {
		if wall {
			sv.fire[i] = 0
		}
	}

	sv.recomputeVelocity()

	return sv, nil
}

// Run advances the simulation for steps iterations following the
// normative per-step order: record snapshot, update the fire field,
// compute advective divergence, compute the diffusive Laplacian, update ρ
// with the exit sink and fire reaction terms, clamp, and zero walls.
func (s *Solver) Run(ctx context.Context, steps int) *envelope.Envelope {
	n := s.rast.N
	env := envelope.New(n, steps, s.cfg.DT)

	density := envelope.NewTensor(steps, n, n)
	velX := envelope.NewTensor(steps, n, n)
	velY := envelope.NewTensor(steps, n, n)
	fireField := envelope.NewTensor(steps, n, n)
	evacuated := make([]float64, steps)

	midpoint := steps / 2

	for t := 0; t < steps; t++ {
		if err := ctx.Err(); err != nil {
			env.Truncated = true
			break
		}

		if t > 0 && t%s.cfg.VelocityRecomputeInterval == 0 {
			s.recomputeVelocity()
		}

		for gy := 0; gy < n; gy++ {
			for gx := 0; gx < n; gx++ {
				idx := s.rast.Idx(gx, gy)
				density.Set(s.rho[idx], t, gy, gx)
				velX.Set(s.velX[idx], t, gy, gx)
				velY.Set(s.velY[idx], t, gy, gx)
				fireField.Set(s.fire[idx], t, gy, gx)
			}
		}

		s.updateFire(t < midpoint)
		evacuated[t] = s.step()
	}

	env.Fields["density"] = density
	env.Fields["velocity_x"] = velX
	env.Fields["velocity_y"] = velY
	env.Fields["fire"] = fireField
	env.Series["evacuated_count"] = evacuated
	return env
}

// recomputeVelocity rebuilds the unit velocity field pointing down the
// exit-distance potential, perturbed toward fleeing the fire field where
// present, then renormalized to unit magnitude.
func (s *Solver) recomputeVelocity() {
	n := s.rast.N
	gx, gy := raster.Gradient(s.rast.ExitDistance, n, s.rast.DX, s.rast.DY)

	vx := make([]float64, n*n)
	vy := make([]float64, n*n)

	for i := range vx {
		if s.rast.WallMask[i] || math.IsInf(s.rast.ExitDistance[i], 1) {
			continue
		}
		mag := math.Hypot(gx[i], gy[i])
		if mag > 1e-9 {
			vx[i] = -gx[i] / mag
			vy[i] = -gy[i] / mag
		}
	}

	fgx, fgy := raster.Gradient(s.fire, n, s.rast.DX, s.rast.DY)
	for i := range vx {
		if s.fire[i] <= 0 {
			continue
		}
		fmag := math.Hypot(fgx[i], fgy[i])
		if fmag <= 1e-9 {
			continue
		}
		vx[i] += -s.cfg.FireHazardFeedback * (fgx[i] / fmag) * s.fire[i]
		vy[i] += -s.cfg.FireHazardFeedback * (fgy[i] / fmag) * s.fire[i]
	}

	for i := range vx {
		mag := math.Hypot(vx[i], vy[i])
		if mag > 1e-9 {
			vx[i] /= mag
			vy[i] /= mag
		}
	}

	s.velX, s.velY = vx, vy
}

// updateFire applies the 3x3 diffusion kernel while active (first half of
// the horizon), zeroing wall cells after each update; once frozen it
// returns without changing the field.
func (s *Solver) updateFire(active bool) {
	n := s.rast.N
	if !active {
		return
	}

	conv := convolve3x3(s.fire, n, fireKernel)
	for i := range s.fire {
		s.fire[i] = clamp01(s.fire[i] + 0.1*conv[i])
	}
	for i, wall := range s.rast.WallMask {
		if wall {
			s.fire[i] = 0
		}
	}
}

// convolve3x3 applies kernel k to field over an n-by-n grid, treating
// out-of-bounds neighbors as zero.
func convolve3x3(field []float64, n int, k [3][3]float64) []float64 {
	out := make([]float64, n*n)
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			var sum float64
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					ny, nx := y+dy, x+dx
					if ny < 0 || ny >= n || nx < 0 || nx >= n {
						continue
					}
					sum += k[dy+1][dx+1] * field[ny*n+nx]
				}
			}
			out[y*n+x] = sum
		}
	}
	return out
}

// step performs one ρ update: div(vρ) by centered differences, the
// 5-point Laplacian, then the combined advection-diffusion-reaction
// update, clamp and wall zeroing. Returns the step's evacuated count,
// Σ dt·γ·E·ρ computed before the clamp.
func (s *Solver) step() float64 {
	n := s.rast.N
	div := s.divergence()
	lap := s.laplacian()

	dt := s.cfg.DT
	gamma := s.cfg.ExitSinkRate
	lambdaF := s.cfg.FireReactionRate
	diffusion := s.cfg.Diffusion

	var evacuated float64
	next := make([]float64, n*n)
	for i, rho := range s.rho {
		e := 0.0
		if s.rast.ExitMask[i] {
			e = 1
		}
		evacuated += dt * gamma * e * rho

		updated := rho - dt*div[i] - dt*gamma*e*rho - dt*lambdaF*s.fire[i]*rho + dt*diffusion*lap[i]
		if updated < 0 {
			updated = 0
		}
		next[i] = updated
	}
	for i, wall := range s.rast.WallMask {
		if wall {
			next[i] = 0
		}
	}
	s.rho = next
	return evacuated
}

// divergence computes div(vρ) by centered differences with zero ghost
// cells at the domain boundary.
func (s *Solver) divergence() []float64 {
	n := s.rast.N
	dx, dy := s.rast.DX, s.rast.DY
	out := make([]float64, n*n)

	fx := make([]float64, n*n)
	fy := make([]float64, n*n)
	for i, rho := range s.rho {
		fx[i] = s.velX[i] * rho
		fy[i] = s.velY[i] * rho
	}

	at := func(f []float64, x, y int) float64 {
		if x < 0 || x >= n || y < 0 || y >= n {
			return 0
		}
		return f[y*n+x]
	}

	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			ddx := (at(fx, x+1, y) - at(fx, x-1, y)) / (2 * dx)
			ddy := (at(fy, x, y+1) - at(fy, x, y-1)) / (2 * dy)
			out[y*n+x] = ddx + ddy
		}
	}
	return out
}

// laplacian computes ∇²ρ with the standard 5-point stencil, treating
// out-of-bounds neighbors as zero (ghost cells).
func (s *Solver) laplacian() []float64 {
	n := s.rast.N
	dx, dy := s.rast.DX, s.rast.DY
	out := make([]float64, n*n)

	at := func(x, y int) float64 {
		if x < 0 || x >= n || y < 0 || y >= n {
			return 0
		}
		return s.rho[y*n+x]
	}

	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			center := at(x, y)
			d2x := (at(x+1, y) - 2*center + at(x-1, y)) / (dx * dx)
			d2y := (at(x, y+1) - 2*center + at(x, y-1)) / (dy * dy)
			out[y*n+x] = d2x + d2y
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
