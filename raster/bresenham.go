package raster

// bresenhamLine walks the integer line from (x0,y0) to (x1,y1), calling
// visit for every cell crossed (both endpoints included). This is the
// standard Bresenham integer line algorithm; no example in the corpus
// provides a reusable version of it (it is a self-contained, well known
// algorithm rather than something an ecosystem library wraps), so it is
// implemented directly here.
func bresenhamLine(x0, y0, x1, y1 int, visit func(x, y int)) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx := 1
	if x0 >= x1 {
		sx = -1
	}
	sy := 1
	if y0 >= y1 {
		sy = -1
	}
	err := dx + dy

	x, y := x0, y0
	for {
		visit(x, y)
		if x == x1 && y == y1 {
			break
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x += sx
		}
		if e2 <= dx {
			err += dx
			y += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
