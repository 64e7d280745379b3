package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircular(t *testing.T) {
	g, err := Generate(Circular, 6, Params{})
	require.NoError(t, err)

	require.Equal(t, []int{2, 6}, g.Peers(1))
	require.Equal(t, []int{1, 3}, g.Peers(2))
	require.Equal(t, []int{1, 5}, g.Peers(6))
	for _, v := range g.Nodes() {
		require.Equal(t, 2, g.Degree(v))
	}
	require.True(t, g.Connected())

	d, ok := g.Diameter()
	require.True(t, ok)
	require.Equal(t, 3, d)
}

func TestCircularSmall(t *testing.T) {
	g, err := Generate(Circular, 1, Params{})
	require.NoError(t, err)
	require.Empty(t, g.Peers(1))

	g, err = Generate(Circular, 2, Params{})
	require.NoError(t, err)
	require.Equal(t, []int{2}, g.Peers(1))
	require.Equal(t, []int{1}, g.Peers(2))
}

func TestRandomRegularOddProduct(t *testing.T) {
	_, err := Generate(RandomRegular, 7, Params{K: 3, Seed: 1})
	require.ErrorIs(t, err, ErrInvalidTopologyParams)
}

func TestRandomRegularDegreeOutOfRange(t *testing.T) {
	for _, k := range []int{0, 1, 8, 10} {
		_, err := Generate(RandomRegular, 8, Params{K: k, Seed: 1})
		require.ErrorIs(t, err, ErrInvalidTopologyParams, "k=%d", k)
	}
}

func TestRandomRegular(t *testing.T) {
	tests := []struct {
		n, k int
	}{
		{n: 8, k: 3},
		{n: 10, k: 4},
		{n: 16, k: 3},
		{n: 20, k: 2},
		{n: 5, k: 4},
	}
	for _, tt := range tests {
		for seed := uint64(1); seed <= 5; seed++ {
			g, err := Generate(RandomRegular, tt.n, Params{K: tt.k, Seed: seed})
			require.NoError(t, err, "n=%d k=%d seed=%d", tt.n, tt.k, seed)
			for _, v := range g.Nodes() {
				require.Equal(t, tt.k, g.Degree(v), "node %d", v)
				require.NotContains(t, g.Peers(v), v)
			}
			require.True(t, g.Connected())
			require.Equal(t, tt.n*tt.k/2, g.NumEdges())
		}
	}
}

func TestRandomRegularSeedDeterministic(t *testing.T) {
	a, err := Generate(RandomRegular, 12, Params{K: 3, Seed: 42})
	require.NoError(t, err)
	b, err := Generate(RandomRegular, 12, Params{K: 3, Seed: 42})
	require.NoError(t, err)
	for _, v := range a.Nodes() {
		require.Equal(t, a.Peers(v), b.Peers(v))
	}
}

func TestPowerlawCluster(t *testing.T) {
	for seed := uint64(1); seed <= 5; seed++ {
		g, err := Generate(PowerlawCluster, 30, Params{M: 3, P: 0.5, Seed: seed})
		require.NoError(t, err)
		require.True(t, g.Connected())

		// every node added after the seed set brings at most m edges
		require.LessOrEqual(t, g.NumEdges(), (30-3)*3)
		for _, v := range g.Nodes() {
			require.Positive(t, g.Degree(v))
			require.NotContains(t, g.Peers(v), v)
			require.NotContains(t, g.Peers(v), 0)
		}
	}
}

func TestPowerlawClusterParams(t *testing.T) {
	_, err := Generate(PowerlawCluster, 5, Params{M: 0, P: 0.5})
	require.ErrorIs(t, err, ErrInvalidTopologyParams)
	_, err = Generate(PowerlawCluster, 5, Params{M: 5, P: 0.5})
	require.ErrorIs(t, err, ErrInvalidTopologyParams)
	_, err = Generate(PowerlawCluster, 5, Params{M: 2, P: 1.5})
	require.ErrorIs(t, err, ErrInvalidTopologyParams)
}

func TestCompleteMultipartite(t *testing.T) {
	g, err := Generate(CompleteMultipartite, 7, Params{R: 3})
	require.NoError(t, err)

	parts := Partitions(7, 3)
	require.Equal(t, [][]int{{1, 2, 3}, {4, 5}, {6, 7}}, parts)

	require.Equal(t, []int{4, 5, 6, 7}, g.Peers(1))
	require.Equal(t, []int{4, 5, 6, 7}, g.Peers(3))
	require.Equal(t, []int{1, 2, 3, 6, 7}, g.Peers(5))
	for _, part := range parts {
		for _, v := range part {
			assert.Equal(t, g.Peers(part[0]), g.Peers(v))
		}
	}

	d, ok := g.Diameter()
	require.True(t, ok)
	require.Equal(t, 2, d)
}

func TestCompleteMultipartiteParams(t *testing.T) {
	_, err := Generate(CompleteMultipartite, 4, Params{R: 1})
	require.ErrorIs(t, err, ErrInvalidTopologyParams)
	_, err = Generate(CompleteMultipartite, 4, Params{R: 5})
	require.ErrorIs(t, err, ErrInvalidTopologyParams)
}

func TestGenerateRejectsEmptyNetwork(t *testing.T) {
	_, err := Generate(Circular, 0, Params{})
	require.ErrorIs(t, err, ErrInvalidTopologyParams)

	_, err = Generate(Kind(`star`), 5, Params{})
	require.ErrorIs(t, err, ErrInvalidTopologyParams)
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{
		`circular`:              Circular,
		`random`:                RandomRegular,
		`random-k-regular`:      RandomRegular,
		`powerlaw`:              PowerlawCluster,
		` Powerlaw-Cluster `:    PowerlawCluster,
		`turan`:                 CompleteMultipartite,
		`complete-multipartite`: CompleteMultipartite,
	} {
		got, err := ParseKind(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := ParseKind(`hypercube`)
	require.ErrorIs(t, err, ErrInvalidTopologyParams)
}

func TestFromAdjacency(t *testing.T) {
	g, err := FromAdjacency(4, map[int][]int{1: {2}, 3: {4, 2}})
	require.NoError(t, err)
	require.Equal(t, []int{1, 3}, g.Peers(2))
	require.Equal(t, []int{3}, g.Peers(4))
	require.True(t, g.Connected())

	g, err = FromAdjacency(4, map[int][]int{1: {2}, 3: {4}})
	require.NoError(t, err)
	require.False(t, g.Connected())
	_, ok := g.Diameter()
	require.False(t, ok)

	_, err = FromAdjacency(3, map[int][]int{1: {9}})
	require.ErrorIs(t, err, ErrInvalidTopologyParams)
}
