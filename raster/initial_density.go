package raster

import (
	"math"

	"github.com/pthm-cable/evacsim/scenario"
)

// InitialDensity sums count/(dx*dy) into the mapped cell of each initial
// cluster, or falls back to a radial hump of height 5/(dx*dy) within the
// central N/8 radius when the scenario specifies no clusters (spec.md
// §4.4, shared by the mesoscopic and macroscopic solvers since both seed
// off the same discretized geometry).
func (r *Raster) InitialDensity(s *scenario.Scenario) []float64 {
	rho := make([]float64, r.N*r.N)
	cellArea := r.DX * r.DY

	if len(s.Layout.InitialPositions) > 0 {
		for _, c := range s.Layout.InitialPositions {
			gx, gy := r.WorldToGrid(c.X, c.Y)
			rho[r.Idx(gx, gy)] += float64(c.Count) / cellArea
		}
		return rho
	}

	cx, cy := r.N/2, r.N/2
	radius := float64(r.N) / 8
	height := 5 / cellArea
	for gy := 0; gy < r.N; gy++ {
		for gx := 0; gx < r.N; gx++ {
			d := math.Hypot(float64(gx-cx), float64(gy-cy))
			if d <= radius {
				rho[r.Idx(gx, gy)] = height
			}
		}
	}
	return rho
}
