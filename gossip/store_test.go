package gossip

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreObserve(t *testing.T) {
	s := NewStore(1)
	id := MessageID{Text: `hi`, TS: 1}

	r, first := s.Observe(id, []NodeID{1, 3})
	require.True(t, first)
	require.True(t, r.Unread)
	require.Equal(t, [][]NodeID{{1, 3}}, r.Paths)

	r, first = s.Observe(id, []NodeID{1, 2, 3})
	require.False(t, first)
	require.Equal(t, [][]NodeID{{1, 3}, {1, 2, 3}}, r.Paths)

	// same path twice is stored once
	r, _ = s.Observe(id, []NodeID{1, 3})
	require.Len(t, r.Paths, 2)
	require.Equal(t, 1, s.Len())
}

func TestStoreObserveCopiesPath(t *testing.T) {
	s := NewStore(1)
	id := MessageID{Text: `hi`, TS: 1}
	path := []NodeID{1, 2}
	r, _ := s.Observe(id, path)
	path[0] = 9
	r.Paths[0][1] = 9

	got, ok := s.Get(id)
	require.True(t, ok)
	require.Equal(t, [][]NodeID{{1, 2}}, got.Paths)
}

func TestStoreDistinctTimestamps(t *testing.T) {
	s := NewStore(1)
	a := MessageID{Text: `same`, TS: 1}
	b := MessageID{Text: `same`, TS: 2}

	_, first := s.Observe(a, []NodeID{1})
	require.True(t, first)
	_, first = s.Observe(b, []NodeID{1})
	require.True(t, first)
	require.True(t, s.TryRegisterOutbound(a, 2))
	require.True(t, s.TryRegisterOutbound(b, 2))
	require.Equal(t, 2, s.Len())
}

func TestStoreFirstAfterInbound(t *testing.T) {
	s := NewStore(1)
	id := MessageID{Text: `hi`, TS: 1}

	require.Equal(t, 1, s.RegisterInbound(id, 2))
	require.Equal(t, 0, s.Len())
	_, ok := s.Get(id)
	require.False(t, ok)

	_, first := s.Observe(id, []NodeID{2, 1})
	require.True(t, first)
	require.Equal(t, 2, s.RegisterInbound(id, 2))
	require.Equal(t, 1, s.RegisterInbound(id, 3))
}

func TestStoreOutboundBudget(t *testing.T) {
	s := NewStore(2)
	id := MessageID{Text: `hi`, TS: 1}
	s.Observe(id, []NodeID{1})

	require.True(t, s.TryRegisterOutbound(id, 2))
	require.True(t, s.TryRegisterOutbound(id, 2))
	require.False(t, s.TryRegisterOutbound(id, 2))
	require.True(t, s.TryRegisterOutbound(id, 3))

	r, _ := s.Get(id)
	require.Equal(t, map[NodeID]int{2: 2, 3: 1}, r.Outbound)
}

func TestStoreOutboundBudgetConcurrent(t *testing.T) {
	const limit = 3
	s := NewStore(limit)
	id := MessageID{Text: `hi`, TS: 1}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.RegisterInbound(id, 4)
			s.Observe(id, []NodeID{4, 1})
			if s.TryRegisterOutbound(id, 2) {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, limit, accepted)
	r, _ := s.Get(id)
	require.Equal(t, 50, r.Inbound[4])
	require.Equal(t, limit, r.Outbound[2])
}

func TestSnapshotPathFilters(t *testing.T) {
	s := NewStore(1)
	id := MessageID{Text: `hi`, TS: 1}
	s.Observe(id, []NodeID{1, 5})
	s.Observe(id, []NodeID{2, 5})
	s.Observe(id, []NodeID{1, 2, 3, 5})

	tests := []struct {
		filter PathFilter
		want   [][]NodeID
	}{
		{PathsShortest, [][]NodeID{{1, 5}, {2, 5}}},
		{PathsLongest, [][]NodeID{{1, 2, 3, 5}}},
		{PathsShortestAndLongest, [][]NodeID{{1, 5}, {2, 5}, {1, 2, 3, 5}}},
		{PathsAll, [][]NodeID{{1, 5}, {2, 5}, {1, 2, 3, 5}}},
	}
	for _, tt := range tests {
		got := s.Snapshot(StatusAll, tt.filter)
		require.Equal(t, tt.want, got[id], "filter %s", tt.filter)
	}
}

func TestSnapshotReadState(t *testing.T) {
	s := NewStore(1)
	a := MessageID{Text: `a`, TS: 1}
	b := MessageID{Text: `b`, TS: 2}
	s.Observe(a, []NodeID{1})
	s.Observe(b, []NodeID{1})

	require.Empty(t, s.Snapshot(StatusRead, PathsAll))

	first := s.Snapshot(StatusAll, PathsAll)
	require.Len(t, first, 2)
	for _, r := range s.Records() {
		require.False(t, r.Unread, r.ID.Key())
	}

	second := s.Snapshot(StatusAll, PathsAll)
	require.Equal(t, first, second)
	require.Empty(t, s.Snapshot(StatusUnread, PathsAll))
	require.Len(t, s.Snapshot(StatusRead, PathsAll), 2)

	c := MessageID{Text: `c`, TS: 3}
	s.Observe(c, []NodeID{1})
	unread := s.Snapshot(StatusUnread, PathsAll)
	require.Equal(t, Messages{c: {{1}}}, unread)
	require.Empty(t, s.Snapshot(StatusUnread, PathsAll))
}

func TestSnapshotReadDoesNotMark(t *testing.T) {
	s := NewStore(1)
	a := MessageID{Text: `a`, TS: 1}
	s.Observe(a, []NodeID{1})

	require.Empty(t, s.Snapshot(StatusRead, PathsAll))
	r, _ := s.Get(a)
	require.True(t, r.Unread)
}

func TestStoreKeyedByMessageID(t *testing.T) {
	s := NewStore(1)
	ids := []MessageID{
		{Text: `a_1`, TS: 2},
		{Text: `a`, TS: 12},
		{Text: `a`, TS: 2},
		{Text: `b`, TS: 2},
	}
	for _, id := range ids {
		_, first := s.Observe(id, []NodeID{1})
		require.True(t, first, id.Key())
	}
	require.Equal(t, len(ids), s.Len())

	var got []MessageID
	for _, r := range s.Records() {
		got = append(got, r.ID)
	}
	require.Equal(t, ids, got)
}
