package raster

import "math"

// Gradient computes the centered-difference gradient of a scalar field
// defined over an n-by-n grid with cell size (dx, dy), using one-sided
// differences at the domain borders and at any neighbor holding the +Inf
// sentinel a field like ExitDistance stores on wall/unreachable cells
// (treated as "no data", the same fallback as a grid boundary, rather
// than differenced against directly). Shared by the mesoscopic and
// macroscopic solvers, which both need gradients of fields discretized on
// the same grid (hazard, exit-attraction, exit-distance potential).
func Gradient(field []float64, n int, dx, dy float64) (gx, gy []float64) {
	gx = make([]float64, n*n)
	gy = make([]float64, n*n)
	idx := func(x, y int) int { return y*n + x }
	usable := func(v float64) bool { return !math.IsInf(v, 0) }

	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			center := field[idx(x, y)]

			left, right := center, center
			if x > 0 {
				if v := field[idx(x-1, y)]; usable(v) {
					left = v
				}
			}
			if x < n-1 {
				if v := field[idx(x+1, y)]; usable(v) {
					right = v
				}
			}
			gx[idx(x, y)] = (right - left) / (2 * dx)

			down, up := center, center
			if y > 0 {
				if v := field[idx(x, y-1)]; usable(v) {
					down = v
				}
			}
			if y < n-1 {
				if v := field[idx(x, y+1)]; usable(v) {
					up = v
				}
			}
			gy[idx(x, y)] = (up - down) / (2 * dy)
		}
	}
	return gx, gy
}
