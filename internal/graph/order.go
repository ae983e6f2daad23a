package graph

import (
	"container/heap"
	"strings"
)

type intMinHeap []int

func (h intMinHeap) Len() int           { return len(h) }
func (h intMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topoOrder runs Kahn's algorithm with a min-heap over declaration indices.
// A result shorter than the node count means the leftover nodes sit on or
// behind a cycle.
func (g *Graph) topoOrder() []int {
	indeg := make([]int, len(g.nodes))
	for i := range g.deps {
		indeg[i] = len(g.deps[i])
	}

	ready := &intMinHeap{}
	for i, d := range indeg {
		if d == 0 {
			heap.Push(ready, i)
		}
	}

	out := make([]int, 0, len(g.nodes))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		out = append(out, n)
		for _, m := range g.dependents[n] {
			indeg[m]--
			if indeg[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	return out
}

func (g *Graph) computeDepth() []int {
	depth := make([]int, len(g.nodes))
	for _, u := range g.order {
		for _, d := range g.deps[u] {
			if depth[d]+1 > depth[u] {
				depth[u] = depth[d] + 1
			}
		}
	}
	return depth
}

// findCycles walks dependency edges depth-first in declaration order and
// records one cycle per back edge. Each cycle is listed in "depends on"
// direction, rotated to start at its lexicographically smallest stage ID and
// closed by repeating that ID, so the report does not depend on where the
// walk started. Duplicate cycles are dropped.
func (g *Graph) findCycles() [][]string {
	const (
		white = iota
		gray
		black
	)
	color := make([]int, len(g.nodes))
	var (
		path   []int
		cycles [][]string
		seen   = map[string]struct{}{}
	)

	var dfs func(u int)
	dfs = func(u int) {
		color[u] = gray
		path = append(path, u)
		for _, v := range g.deps[u] {
			switch color[v] {
			case white:
				dfs(v)
			case gray:
				start := len(path) - 1
				for path[start] != v {
					start--
				}
				cycle := g.canonicalCycle(path[start:])
				key := strings.Join(cycle, "\x00")
				if _, dup := seen[key]; !dup {
					seen[key] = struct{}{}
					cycles = append(cycles, cycle)
				}
			}
		}
		path = path[:len(path)-1]
		color[u] = black
	}
	for i := range g.nodes {
		if color[i] == white {
			dfs(i)
		}
	}
	return cycles
}

func (g *Graph) canonicalCycle(members []int) []string {
	ids := g.ids(members)
	minAt := 0
	for i, id := range ids {
		if id < ids[minAt] {
			minAt = i
		}
	}
	out := make([]string, 0, len(ids)+1)
	out = append(out, ids[minAt:]...)
	out = append(out, ids[:minAt]...)
	return append(out, out[0])
}
