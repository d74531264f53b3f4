// Package raster turns a scenario's walls, exits, hazards and initial
// clusters into the shared discrete grid every solver reads: wall mask,
// exit mask, per-hazard-type scalar fields, and an exit-distance potential.
// Centralizing this here (spec.md §9) means the micro, meso, macro and RL
// solvers see byte-identical discretizations of the same geometry.
package raster

import (
	"fmt"
	"math"

	"github.com/pthm-cable/evacsim/scenario"
)

// Raster holds the discretized geometry shared by all solvers. Once built
// it is read-only: owned by the enclosing solver for the duration of a run.
type Raster struct {
	N             int
	Width, Height float64 // domain size in meters
	DX, DY        float64 // cell size in meters along x / y

	WallMask []bool // N*N, row-major (index = gy*N+gx)
	ExitMask []bool

	// HazardFields holds one additive scalar field per hazard type.
	HazardFields map[scenario.HazardType][]float64

	// AggregateHazard is the sum of all hazard fields, a convenience used
	// by the meso, macro and RL solvers for avoidance terms.
	AggregateHazard []float64

	// ExitDistance is the shortest wall-free path distance (meters) from
	// each cell to the nearest exit's mapped centre cell; +Inf on wall cells.
	ExitDistance []float64

	exitCells [][2]int // grid coordinates of exit source cells
}

// Idx returns the row-major flat index for grid coordinates (gx, gy).
func (r *Raster) Idx(gx, gy int) int { return gy*r.N + gx }

// InBounds reports whether (gx, gy) lies within the grid.
func (r *Raster) InBounds(gx, gy int) bool {
	return gx >= 0 && gx < r.N && gy >= 0 && gy < r.N
}

// WorldToGrid maps a world coordinate to clamped grid coordinates per
// spec.md §3: (x, y) -> (round(x*N/W), round(y*N/H)).
func (r *Raster) WorldToGrid(x, y float64) (int, int) {
	gx := int(math.Round(x * float64(r.N) / r.Width))
	gy := int(math.Round(y * float64(r.N) / r.Height))
	return clamp(gx, 0, r.N-1), clamp(gy, 0, r.N-1)
}

// ToGridFloat maps a world coordinate to unrounded grid coordinates,
// for callers (the RL environment's force calculations) that need
// sub-cell precision rather than WorldToGrid's rounded cell index.
func (r *Raster) ToGridFloat(x, y float64) (float64, float64) {
	return x * float64(r.N) / r.Width, y * float64(r.N) / r.Height
}

// GridToWorld returns the world-space center of grid cell (gx, gy).
func (r *Raster) GridToWorld(gx, gy int) (float64, float64) {
	x := (float64(gx) + 0.5) * r.DX
	y := (float64(gy) + 0.5) * r.DY
	return x, y
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Rasterize builds a Raster for scenario s at resolution n over a
// domainWidth x domainWidth square world (defaulting to 20 when <= 0, per
// spec.md §3). It rejects scenarios with zero exits and warns (via the
// scenario's own Validate) when there are zero walls.
func Rasterize(s *scenario.Scenario, n int, domainWidth float64) (*Raster, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: grid resolution must be positive, got %d", scenario.ErrInvalidParameters, n)
	}
	if domainWidth <= 0 {
		domainWidth = 20
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	r := &Raster{
		N:               n,
		Width:           domainWidth,
		Height:          domainWidth,
		DX:              domainWidth / float64(n),
		DY:              domainWidth / float64(n),
		WallMask:        make([]bool, n*n),
		ExitMask:        make([]bool, n*n),
		HazardFields:    make(map[scenario.HazardType][]float64),
		AggregateHazard: make([]float64, n*n),
	}

	for _, w := range s.Layout.Walls {
		r.drawWall(w)
	}

	exitRadius := maxInt(1, int(math.Round(0.5*float64(n)/domainWidth)))
	for _, e := range s.Layout.Exits {
		r.markExit(e, exitRadius)
	}

	for _, h := range s.Hazards {
		r.addHazard(h)
	}
	r.aggregateHazards()

	r.ExitDistance = r.computeExitDistance()

	return r, nil
}

// drawWall marks every cell crossed by segment w using an integer
// Bresenham line scan, including both endpoints when in-bounds.
func (r *Raster) drawWall(w scenario.Wall) {
	gx0, gy0 := r.WorldToGrid(w.P.X, w.P.Y)
	gx1, gy1 := r.WorldToGrid(w.Q.X, w.Q.Y)
	if gx0 == gx1 && gy0 == gy1 {
		r.WallMask[r.Idx(gx0, gy0)] = true
		return
	}
	bresenhamLine(gx0, gy0, gx1, gy1, func(gx, gy int) {
		if r.InBounds(gx, gy) {
			r.WallMask[r.Idx(gx, gy)] = true
		}
	})
}

// markExit marks the mapped cell and a small disc of radius cells around
// it as exit, clearing any wall flag so wall_mask ∧ exit_mask = ∅ holds.
func (r *Raster) markExit(p scenario.Point, radius int) {
	cx, cy := r.WorldToGrid(p.X, p.Y)
	r.exitCells = append(r.exitCells, [2]int{cx, cy})
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			gx, gy := cx+dx, cy+dy
			if !r.InBounds(gx, gy) {
				continue
			}
			if dx*dx+dy*dy > radius*radius {
				continue
			}
			idx := r.Idx(gx, gy)
			r.ExitMask[idx] = true
			r.WallMask[idx] = false
		}
	}
}

// addHazard adds intensity*(1-d/r) for cells within the hazard's grid
// radius, additive across hazards of the same type.
func (r *Raster) addHazard(h scenario.Hazard) {
	field, ok := r.HazardFields[h.Type]
	if !ok {
		field = make([]float64, r.N*r.N)
		r.HazardFields[h.Type] = field
	}

	cx, cy := r.WorldToGrid(h.Position.X, h.Position.Y)
	rGrid := int(math.Round(h.Radius * float64(r.N) / r.Width))
	if rGrid <= 0 {
		rGrid = 1
	}

	for dy := -rGrid; dy <= rGrid; dy++ {
		for dx := -rGrid; dx <= rGrid; dx++ {
			gx, gy := cx+dx, cy+dy
			if !r.InBounds(gx, gy) {
				continue
			}
			d := math.Hypot(float64(dx), float64(dy))
			if d >= float64(rGrid) {
				continue
			}
			field[r.Idx(gx, gy)] += h.Intensity * (1 - d/float64(rGrid))
		}
	}

	for i, v := range field {
		if v < 0 {
			field[i] = 0
		}
	}
}

func (r *Raster) aggregateHazards() {
	for _, field := range r.HazardFields {
		for i, v := range field {
			r.AggregateHazard[i] += v
		}
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
