// Package topology builds the initial peer graph of a gossip network.
//
// Node labels are always 1..N. The only query the gossip engine needs is
// Graph.Peers; everything else here exists for generation and checks.
package topology

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"time"
)

var ErrInvalidTopologyParams = errors.New(`invalid topology params`)

type Kind string

const (
	Circular             Kind = `circular`
	RandomRegular        Kind = `random-k-regular`
	PowerlawCluster      Kind = `powerlaw-cluster`
	CompleteMultipartite Kind = `complete-multipartite`
)

// Kinds lists the supported topology families.
var Kinds = []Kind{Circular, RandomRegular, PowerlawCluster, CompleteMultipartite}

// Params holds the family-specific knobs. Unused fields are ignored.
type Params struct {
	K    int     // random-k-regular: degree
	M    int     // powerlaw-cluster: edges per new node
	P    float64 // powerlaw-cluster: triangle probability
	R    int     // complete-multipartite: partitions
	Seed uint64  // 0 = seeded from the clock
}

// DefaultParams mirrors the defaults the network launcher has always used.
func DefaultParams() Params {
	return Params{K: 3, M: 3, P: 0.5, R: 3}
}

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case `circular`, `ring`:
		return Circular, nil
	case `random-k-regular`, `random`, `regular`:
		return RandomRegular, nil
	case `powerlaw-cluster`, `powerlaw`:
		return PowerlawCluster, nil
	case `complete-multipartite`, `turan`, `multipartite`:
		return CompleteMultipartite, nil
	}
	return ``, fmt.Errorf(`%w: unknown topology %q`, ErrInvalidTopologyParams, s)
}

// Graph is an undirected simple graph over nodes 1..N.
type Graph struct {
	kind Kind
	n    int
	adj  map[int]map[int]struct{}
}

func newGraph(kind Kind, n int) *Graph {
	g := &Graph{kind: kind, n: n, adj: make(map[int]map[int]struct{}, n)}
	for i := 1; i <= n; i++ {
		g.adj[i] = map[int]struct{}{}
	}
	return g
}

// FromAdjacency builds a graph from explicit peer lists. Edges are made
// symmetric.
func FromAdjacency(n int, peers map[int][]int) (*Graph, error) {
	if n < 1 {
		return nil, fmt.Errorf(`%w: need at least one node, got %d`, ErrInvalidTopologyParams, n)
	}
	g := newGraph(``, n)
	for a, ps := range peers {
		for _, b := range ps {
			if a < 1 || a > n || b < 1 || b > n {
				return nil, fmt.Errorf(`%w: edge %d-%d outside 1..%d`, ErrInvalidTopologyParams, a, b, n)
			}
			if a != b {
				g.addEdge(a, b)
			}
		}
	}
	return g, nil
}

func (g *Graph) addEdge(a, b int) {
	g.adj[a][b] = struct{}{}
	g.adj[b][a] = struct{}{}
}

func (g *Graph) hasEdge(a, b int) bool {
	_, ok := g.adj[a][b]
	return ok
}

func (g *Graph) Kind() Kind { return g.kind }

func (g *Graph) NumNodes() int { return g.n }

// Nodes returns 1..N.
func (g *Graph) Nodes() []int {
	out := make([]int, 0, g.n)
	for i := 1; i <= g.n; i++ {
		out = append(out, i)
	}
	return out
}

// Peers returns the sorted neighbour ids of id, or nil if id is not a node.
func (g *Graph) Peers(id int) []int {
	nbrs, ok := g.adj[id]
	if !ok {
		return nil
	}
	out := make([]int, 0, len(nbrs))
	for p := range nbrs {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

func (g *Graph) Degree(id int) int { return len(g.adj[id]) }

func (g *Graph) NumEdges() int {
	total := 0
	for _, nbrs := range g.adj {
		total += len(nbrs)
	}
	return total / 2
}

// Generate builds the initial adjacency for numNodes nodes of the given kind.
func Generate(kind Kind, numNodes int, p Params) (*Graph, error) {
	if numNodes < 1 {
		return nil, fmt.Errorf(`%w: need at least one node, got %d`, ErrInvalidTopologyParams, numNodes)
	}
	seed := p.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	switch kind {
	case Circular:
		return circular(numNodes), nil
	case RandomRegular:
		return randomRegular(numNodes, p.K, rng)
	case PowerlawCluster:
		return powerlawCluster(numNodes, p.M, p.P, rng)
	case CompleteMultipartite:
		return completeMultipartite(numNodes, p.R)
	}
	return nil, fmt.Errorf(`%w: unknown topology %q`, ErrInvalidTopologyParams, kind)
}

// ---------- circular ----------

func circular(n int) *Graph {
	g := newGraph(Circular, n)
	if n == 1 {
		return g
	}
	for i := 1; i <= n; i++ {
		next := i + 1
		if i == n {
			next = 1
		}
		g.addEdge(i, next)
	}
	return g
}

// ---------- random k-regular ----------

const maxRegularAttempts = 1000

func randomRegular(n, k int, rng *rand.Rand) (*Graph, error) {
	if (n*k)%2 != 0 {
		return nil, fmt.Errorf(`%w: num-nodes × degree must be even, got %d × %d`, ErrInvalidTopologyParams, n, k)
	}
	if k < 2 || k >= n {
		return nil, fmt.Errorf(`%w: degree must satisfy 2 ≤ k < num-nodes, got k=%d n=%d`, ErrInvalidTopologyParams, k, n)
	}
	if k == n-1 {
		g := newGraph(RandomRegular, n)
		for a := 1; a <= n; a++ {
			for b := a + 1; b <= n; b++ {
				g.addEdge(a, b)
			}
		}
		return g, nil
	}
	for attempt := 0; attempt < maxRegularAttempts; attempt++ {
		edges, ok := tryPairing(n, k, rng)
		if !ok {
			continue
		}
		g := newGraph(RandomRegular, n)
		for e := range edges {
			g.addEdge(e[0], e[1])
		}
		if g.Connected() {
			return g, nil
		}
	}
	return nil, fmt.Errorf(`%w: no connected %d-regular graph on %d nodes after %d attempts`, ErrInvalidTopologyParams, k, n, maxRegularAttempts)
}

// tryPairing is the stub-pairing construction: every node contributes k
// stubs, stubs are shuffled and paired, and rejected pairs are re-paired
// while a valid pairing is still possible.
func tryPairing(n, k int, rng *rand.Rand) (map[[2]int]struct{}, bool) {
	edges := map[[2]int]struct{}{}
	stubs := make([]int, 0, n*k)
	for i := 1; i <= n; i++ {
		for j := 0; j < k; j++ {
			stubs = append(stubs, i)
		}
	}
	for len(stubs) > 0 {
		potential := map[int]int{}
		rng.Shuffle(len(stubs), func(i, j int) { stubs[i], stubs[j] = stubs[j], stubs[i] })
		for i := 0; i+1 < len(stubs); i += 2 {
			a, b := stubs[i], stubs[i+1]
			if a > b {
				a, b = b, a
			}
			if _, dup := edges[[2]int{a, b}]; a != b && !dup {
				edges[[2]int{a, b}] = struct{}{}
				continue
			}
			potential[a]++
			potential[b]++
		}
		if !suitable(edges, potential) {
			return nil, false
		}
		stubs = stubs[:0]
		for node, c := range potential {
			for j := 0; j < c; j++ {
				stubs = append(stubs, node)
			}
		}
		sort.Ints(stubs)
	}
	return edges, true
}

func suitable(edges map[[2]int]struct{}, potential map[int]int) bool {
	if len(potential) == 0 {
		return true
	}
	nodes := make([]int, 0, len(potential))
	for v := range potential {
		nodes = append(nodes, v)
	}
	for i, a := range nodes {
		for _, b := range nodes[i+1:] {
			x, y := a, b
			if x > y {
				x, y = y, x
			}
			if _, ok := edges[[2]int{x, y}]; !ok {
				return true
			}
		}
	}
	return false
}

// ---------- powerlaw cluster ----------

// powerlawCluster is Holme–Kim growth: preferential attachment of m edges per
// new node, where each edge after the first closes a triangle with
// probability p. Internally nodes are 0..n-1; node 0 is relabelled to n.
func powerlawCluster(n, m int, p float64, rng *rand.Rand) (*Graph, error) {
	if m < 1 || m >= n {
		return nil, fmt.Errorf(`%w: edges per node must satisfy 1 ≤ m < num-nodes, got m=%d n=%d`, ErrInvalidTopologyParams, m, n)
	}
	if p < 0 || p > 1 {
		return nil, fmt.Errorf(`%w: triangle probability must be in [0,1], got %v`, ErrInvalidTopologyParams, p)
	}
	label := func(v int) int {
		if v == 0 {
			return n
		}
		return v
	}
	g := newGraph(PowerlawCluster, n)
	add := func(a, b int) { g.addEdge(label(a), label(b)) }
	has := func(a, b int) bool { return g.hasEdge(label(a), label(b)) }
	neighbours := func(v int) []int {
		out := make([]int, 0, len(g.adj[label(v)]))
		for w := range g.adj[label(v)] {
			if w == n {
				w = 0
			}
			out = append(out, w)
		}
		sort.Ints(out)
		return out
	}

	repeated := make([]int, 0, 2*n*m)
	for v := 0; v < m; v++ {
		repeated = append(repeated, v)
	}
	for source := m; source < n; source++ {
		targets := randomSubset(repeated, m, rng)
		target := targets[len(targets)-1]
		targets = targets[:len(targets)-1]
		add(source, target)
		repeated = append(repeated, target)
		for count := 1; count < m; count++ {
			if rng.Float64() < p {
				var hood []int
				for _, w := range neighbours(target) {
					if w != source && !has(source, w) {
						hood = append(hood, w)
					}
				}
				if len(hood) > 0 {
					w := hood[rng.IntN(len(hood))]
					add(source, w)
					repeated = append(repeated, w)
					continue
				}
			}
			target = targets[len(targets)-1]
			targets = targets[:len(targets)-1]
			add(source, target)
			repeated = append(repeated, target)
		}
		for j := 0; j < m; j++ {
			repeated = append(repeated, source)
		}
	}
	return g, nil
}

func randomSubset(seq []int, m int, rng *rand.Rand) []int {
	picked := map[int]struct{}{}
	out := make([]int, 0, m)
	for len(out) < m {
		v := seq[rng.IntN(len(seq))]
		if _, ok := picked[v]; ok {
			continue
		}
		picked[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// ---------- complete multipartite ----------

// Partitions splits 1..n into r consecutive blocks whose sizes differ by at
// most one; the first n%r blocks are the larger ones.
func Partitions(n, r int) [][]int {
	if r < 1 || n < 1 {
		return nil
	}
	out := make([][]int, 0, r)
	next := 1
	for i := 0; i < r; i++ {
		size := n / r
		if i < n%r {
			size++
		}
		block := make([]int, 0, size)
		for j := 0; j < size; j++ {
			block = append(block, next)
			next++
		}
		out = append(out, block)
	}
	return out
}

func completeMultipartite(n, r int) (*Graph, error) {
	if r < 2 || r > n {
		return nil, fmt.Errorf(`%w: partitions must satisfy 2 ≤ r ≤ num-nodes, got r=%d n=%d`, ErrInvalidTopologyParams, r, n)
	}
	parts := Partitions(n, r)
	g := newGraph(CompleteMultipartite, n)
	for i, pa := range parts {
		for _, pb := range parts[i+1:] {
			for _, a := range pa {
				for _, b := range pb {
					g.addEdge(a, b)
				}
			}
		}
	}
	if err := checkPartitions(g, parts); err != nil {
		return nil, err
	}
	return g, nil
}

// checkPartitions asserts that nodes sharing a partition have identical
// neighbour sets and no edges among themselves.
func checkPartitions(g *Graph, parts [][]int) error {
	for _, part := range parts {
		want := g.Peers(part[0])
		for _, v := range part {
			got := g.Peers(v)
			if !equalInts(want, got) {
				return fmt.Errorf(`%w: node %d and node %d share a partition but not a neighbourhood`, ErrInvalidTopologyParams, part[0], v)
			}
			for _, w := range part {
				if g.hasEdge(v, w) {
					return fmt.Errorf(`%w: edge %d-%d inside a partition`, ErrInvalidTopologyParams, v, w)
				}
			}
		}
	}
	return nil
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
