package topology

import (
	"context"
	"strconv"

	"github.com/katalvlaran/lvlath/algorithms"
	"github.com/katalvlaran/lvlath/core"
)

func (g *Graph) lvlath() *core.Graph {
	lg := core.NewGraph(false, false)
	for a, nbrs := range g.adj {
		for b := range nbrs {
			if a < b {
				lg.AddEdge(strconv.Itoa(a), strconv.Itoa(b), 0)
			}
		}
	}
	return lg
}

// Depths returns the hop distance from src to every node it can reach,
// src included at depth 0.
func (g *Graph) Depths(src int) map[int]int {
	depths := map[int]int{src: 0}
	if len(g.adj[src]) == 0 {
		return depths
	}
	opts := &algorithms.BFSOptions{
		Ctx: context.Background(),
		OnEnqueue: func(v *core.Vertex, depth int) {
			id, err := strconv.Atoi(v.ID)
			if err != nil {
				return
			}
			if _, seen := depths[id]; !seen {
				depths[id] = depth
			}
		},
	}
	if _, err := algorithms.BFS(g.lvlath(), strconv.Itoa(src), opts); err != nil {
		return map[int]int{src: 0}
	}
	return depths
}

// Connected reports whether every node is reachable from node 1.
func (g *Graph) Connected() bool {
	if g.n <= 1 {
		return true
	}
	return len(g.Depths(1)) == g.n
}

// Diameter is the longest shortest path in hops. ok is false for a
// disconnected graph.
func (g *Graph) Diameter() (d int, ok bool) {
	for _, v := range g.Nodes() {
		depths := g.Depths(v)
		if len(depths) != g.n {
			return 0, false
		}
		for _, x := range depths {
			if x > d {
				d = x
			}
		}
	}
	return d, true
}
