// Package meso implements the mesoscopic BGK lattice-Boltzmann solver: a
// discrete-velocity distribution f_k(x,y), k=0..7, relaxed toward local
// equilibrium each step and advected under hazard repulsion and exit
// attraction. Grounded on the microscopic solver's snapshot/parallel-apply
// shape and the teacher's row-chunked capacity-field update
// (ResourceField.updateCapacity), generalized from a single scalar field to
// eight per-direction fields.
package meso

import (
	"context"
	"math"
	"runtime"
	"sync"

	"github.com/pthm-cable/evacsim/config"
	"github.com/pthm-cable/evacsim/envelope"
	"github.com/pthm-cable/evacsim/raster"
	"github.com/pthm-cable/evacsim/scenario"
)

// numDirections is fixed at 8 by the lattice geometry; config.MesoConfig's
// NumDirections field documents this for operators but is not read here,
// since the collision, streaming and boundary steps are all written
// against the literal eight-direction lattice.
const numDirections = 8

// direction holds a discrete lattice velocity of unit magnitude.
type direction struct {
	cx, cy float64
}

func directions() [numDirections]direction {
	var d [numDirections]direction
	for k := 0; k < numDirections; k++ {
		theta := 2 * math.Pi * float64(k) / numDirections
		d[k] = direction{cx: math.Cos(theta), cy: math.Sin(theta)}
	}
	return d
}

// Solver evolves the eight-direction BGK distribution over a shared raster.
type Solver struct {
	rast *raster.Raster
	cfg  config.MesoConfig
	dirs [numDirections]direction

	f [numDirections][]float64 // current distribution, one N*N slice per direction

	// exitAttraction is the static exit-attraction field A(x), precomputed
	// once from the raster's shared exit-distance potential.
	exitAttraction []float64
}

// NewSolver builds a Solver for scenario s over raster r, seeding the
// distribution from the scenario's initial clusters (or a central radial
// hump when none are given) split evenly across all eight directions.
func NewSolver(s *scenario.Scenario, r *raster.Raster, cfg config.MesoConfig) (*Solver, error) {
	sv := &Solver{
		rast: r,
		cfg:  cfg,
		dirs: directions(),
	}

	rho0 := r.InitialDensity(s)
	for k := 0; k < numDirections; k++ {
		sv.f[k] = make([]float64, r.N*r.N)
		for i, v := range rho0 {
			sv.f[k][i] = v / numDirections
		}
	}

	sv.exitAttraction = make([]float64, r.N*r.N)
	scale := float64(r.N) / 10
	for i, d := range r.ExitDistance {
		if math.IsInf(d, 1) {
			sv.exitAttraction[i] = 0
			continue
		}
		sv.exitAttraction[i] = math.Exp(-d / scale)
	}

	return sv, nil
}

// Run advances the simulation for steps iterations, recording density,
// velocity and total-occupancy snapshots taken at the start of each step
// (before that step's relaxation is applied).
func (s *Solver) Run(ctx context.Context, steps int) *envelope.Envelope {
	n := s.rast.N
	env := envelope.New(n, steps, s.cfg.DT)

	density := envelope.NewTensor(steps, n, n)
	velX := envelope.NewTensor(steps, n, n)
	velY := envelope.NewTensor(steps, n, n)
	totalOcc := make([]float64, steps)

	for t := 0; t < steps; t++ {
		if err := ctx.Err(); err != nil {
			env.Truncated = true
			break
		}

		rho, u, v := s.macroscopicFields()
		for gy := 0; gy < n; gy++ {
			for gx := 0; gx < n; gx++ {
				idx := s.rast.Idx(gx, gy)
				density.Set(rho[idx], t, gy, gx)
				velX.Set(u[idx], t, gy, gx)
				velY.Set(v[idx], t, gy, gx)
				totalOcc[t] += rho[idx]
			}
		}

		s.collide(rho)
		s.hazardRepulsion()
		s.exitAttract()
		s.stream()
		s.enforceBoundary()
	}

	env.Fields["density"] = density
	env.Fields["velocity_x"] = velX
	env.Fields["velocity_y"] = velY
	env.Series["total_occupancy"] = totalOcc
	return env
}

// macroscopicFields computes ρ = Σf_k, u = Σc_x f_k / ρ, v = Σc_y f_k / ρ,
// leaving u,v at zero where ρ ≤ 1e-5.
func (s *Solver) macroscopicFields() (rho, u, v []float64) {
	n := s.rast.N
	rho = make([]float64, n*n)
	u = make([]float64, n*n)
	v = make([]float64, n*n)

	for k := 0; k < numDirections; k++ {
		d := s.dirs[k]
		fk := s.f[k]
		for i, val := range fk {
			rho[i] += val
			u[i] += d.cx * val
			v[i] += d.cy * val
		}
	}
	for i, r := range rho {
		if r > 1e-5 {
			u[i] /= r
			v[i] /= r
		} else {
			u[i] = 0
			v[i] = 0
		}
	}
	return rho, u, v
}

// forEachRowChunk splits [0,n) into per-CPU row ranges and runs fn
// concurrently over each, mirroring the teacher's ResourceField row-split
// capacity update.
func forEachRowChunk(n int, fn func(loRow, hiRow int)) {
	workers := runtime.NumCPU()
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		fn(0, n)
		return
	}
	chunk := (n + workers - 1) / workers
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := lo + chunk
		if lo >= n {
			break
		}
		if hi > n {
			hi = n
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			fn(lo, hi)
		}(lo, hi)
	}
	wg.Wait()
}

// collide relaxes each f_k toward equilibrium ρ/K with BGK relaxation time
// τ, which widens from τ_low to τ_high in cells above density_threshold.
func (s *Solver) collide(rho []float64) {
	n := s.rast.N
	forEachRowChunk(n, func(loRow, hiRow int) {
		for gy := loRow; gy < hiRow; gy++ {
			for gx := 0; gx < n; gx++ {
				idx := s.rast.Idx(gx, gy)
				tau := s.cfg.TauLow
				if rho[idx] > s.cfg.DensityThreshold {
					tau = s.cfg.TauHigh
				}
				feq := rho[idx] / numDirections
				for k := 0; k < numDirections; k++ {
					s.f[k][idx] += s.cfg.DT * (-(s.f[k][idx] - feq) / tau)
				}
			}
		}
	})
}

// hazardRepulsion pushes mass away from the aggregated hazard gradient:
// s_k = -c_k·∇H, adding clamp(s_k·H·dt, 0, ρ) to f_k where H > 0.01 and
// s_k > 0.
func (s *Solver) hazardRepulsion() {
	n := s.rast.N
	gx, gy := raster.Gradient(s.rast.AggregateHazard, n, s.rast.DX, s.rast.DY)

	forEachRowChunk(n, func(loRow, hiRow int) {
		for row := loRow; row < hiRow; row++ {
			for col := 0; col < n; col++ {
				idx := s.rast.Idx(col, row)
				h := s.rast.AggregateHazard[idx]
				if h <= 0.01 {
					continue
				}
				rho := 0.0
				for k := 0; k < numDirections; k++ {
					rho += s.f[k][idx]
				}
				for k := 0; k < numDirections; k++ {
					d := s.dirs[k]
					sk := -(d.cx*gx[idx] + d.cy*gy[idx])
					if sk <= 0 {
						continue
					}
					add := sk * h * s.cfg.DT
					add = clamp(add, 0, rho)
					s.f[k][idx] += add
				}
			}
		}
	})
}

// exitAttract draws mass toward exits along the gradient of the static
// exit-attraction field A(x), adding max(0, c_k·∇A)·0.1 to f_k.
func (s *Solver) exitAttract() {
	n := s.rast.N
	gx, gy := raster.Gradient(s.exitAttraction, n, s.rast.DX, s.rast.DY)

	forEachRowChunk(n, func(loRow, hiRow int) {
		for row := loRow; row < hiRow; row++ {
			for col := 0; col < n; col++ {
				idx := s.rast.Idx(col, row)
				for k := 0; k < numDirections; k++ {
					d := s.dirs[k]
					contrib := d.cx*gx[idx] + d.cy*gy[idx]
					if contrib > 0 {
						s.f[k][idx] += contrib * s.cfg.ExitAttractionScale
					}
				}
			}
		}
	})
}

// stream shifts each f_k by (round(c_x·dt), round(c_y·dt)) cells,
// discarding mass that leaves the grid. Streaming must happen out-of-place
// since every cell both sources and receives mass.
func (s *Solver) stream() {
	n := s.rast.N
	for k := 0; k < numDirections; k++ {
		d := s.dirs[k]
		shiftX := int(math.Round(d.cx * s.cfg.DT))
		shiftY := int(math.Round(d.cy * s.cfg.DT))
		if shiftX == 0 && shiftY == 0 {
			continue
		}

		next := make([]float64, n*n)
		src := s.f[k]
		for gy := 0; gy < n; gy++ {
			for gx := 0; gx < n; gx++ {
				nx, ny := gx+shiftX, gy+shiftY
				if nx < 0 || nx >= n || ny < 0 || ny >= n {
					continue
				}
				next[s.rast.Idx(nx, ny)] = src[s.rast.Idx(gx, gy)]
			}
		}
		s.f[k] = next
	}
}

// enforceBoundary zeroes every direction's distribution on wall cells.
func (s *Solver) enforceBoundary() {
	for idx, wall := range s.rast.WallMask {
		if !wall {
			continue
		}
		for k := 0; k < numDirections; k++ {
			s.f[k][idx] = 0
		}
	}
}


func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
