package raster

import (
	"container/heap"
	"math"
)

// distNode is a node in the multi-source shortest-path scan. Grounded on
// the heap.Interface pattern used by the teacher's astar.go nodeHeap.
type distNode struct {
	gx, gy int
	dist   float64
	index  int
}

type distHeap []*distNode

func (h distHeap) Len() int            { return len(h) }
func (h distHeap) Less(i, j int) bool  { return h[i].dist < h[j].dist }
func (h distHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *distHeap) Push(x any) {
	n := x.(*distNode)
	n.index = len(*h)
	*h = append(*h, n)
}
func (h *distHeap) Pop() any {
	old := *h
	n := len(old)
	node := old[n-1]
	old[n-1] = nil
	node.index = -1
	*h = old[0 : n-1]
	return node
}

// computeExitDistance runs a multi-source Dijkstra search seeded from each
// exit's mapped centre cell (the other cells of an exit's disc are not
// sources), over the 8-connected wall-free grid, returning the shortest
// path distance (meters) from each cell to its nearest exit. Wall cells are
// left at +Inf. This is the potential field used by the macroscopic
// solver's velocity field, the mesoscopic solver's exit attraction and the
// Mock Oracle's velocity field.
func (r *Raster) computeExitDistance() []float64 {
	n := r.N
	dist := make([]float64, n*n)
	for i := range dist {
		dist[i] = math.Inf(1)
	}

	h := &distHeap{}
	heap.Init(h)
	for _, c := range r.exitCells {
		idx := r.Idx(c[0], c[1])
		if dist[idx] > 0 {
			dist[idx] = 0
			heap.Push(h, &distNode{gx: c[0], gy: c[1], dist: 0})
		}
	}

	diag := math.Hypot(r.DX, r.DY)
	orthoX, orthoY := r.DX, r.DY

	type step struct {
		dx, dy int
		cost   float64
	}
	steps := []step{
		{-1, 0, orthoX}, {1, 0, orthoX},
		{0, -1, orthoY}, {0, 1, orthoY},
		{-1, -1, diag}, {1, -1, diag},
		{-1, 1, diag}, {1, 1, diag},
	}

	for h.Len() > 0 {
		cur := heap.Pop(h).(*distNode)
		curIdx := r.Idx(cur.gx, cur.gy)
		if cur.dist > dist[curIdx] {
			continue // stale heap entry
		}

		for _, s := range steps {
			ngx, ngy := cur.gx+s.dx, cur.gy+s.dy
			if !r.InBounds(ngx, ngy) {
				continue
			}
			nIdx := r.Idx(ngx, ngy)
			if r.WallMask[nIdx] {
				continue
			}
			cand := dist[curIdx] + s.cost
			if cand < dist[nIdx] {
				dist[nIdx] = cand
				heap.Push(h, &distNode{gx: ngx, gy: ngy, dist: cand})
			}
		}
	}

	return dist
}
