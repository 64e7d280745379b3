package gossip

import (
	"sync"
)

// Record is everything a node knows about one message.
type Record struct {
	ID       MessageID
	Paths    [][]NodeID
	Inbound  map[NodeID]int
	Outbound map[NodeID]int
	Unread   bool

	seen bool
}

func (r *Record) clone() Record {
	out := Record{
		ID:       r.ID,
		Paths:    make([][]NodeID, len(r.Paths)),
		Inbound:  make(map[NodeID]int, len(r.Inbound)),
		Outbound: make(map[NodeID]int, len(r.Outbound)),
		Unread:   r.Unread,
		seen:     r.seen,
	}
	for i, p := range r.Paths {
		out.Paths[i] = append([]NodeID(nil), p...)
	}
	for k, v := range r.Inbound {
		out.Inbound[k] = v
	}
	for k, v := range r.Outbound {
		out.Outbound[k] = v
	}
	return out
}

func (r *Record) hasPath(path []NodeID) bool {
	for _, p := range r.Paths {
		if equalPath(p, path) {
			return true
		}
	}
	return false
}

// Store holds every message a node has observed. A single mutex covers all
// records, so counter updates for one message never interleave.
type Store struct {
	relayLimit int

	mu      sync.Mutex
	records map[MessageID]*Record
	order   []MessageID
}

func NewStore(relayLimit int) *Store {
	if relayLimit < 1 {
		relayLimit = DefaultRelayLimit
	}
	return &Store{
		relayLimit: relayLimit,
		records:    map[MessageID]*Record{},
	}
}

func (s *Store) RelayLimit() int { return s.relayLimit }

// must hold s.mu
func (s *Store) lookupOrCreate(id MessageID) *Record {
	if r, ok := s.records[id]; ok {
		return r
	}
	r := &Record{
		ID:       id,
		Inbound:  map[NodeID]int{},
		Outbound: map[NodeID]int{},
		Unread:   true,
	}
	s.records[id] = r
	s.order = append(s.order, id)
	return r
}

// Observe records that id arrived along path. first is true for the first
// Observe of id, even if counters were already registered for it. Paths are
// kept distinct and in arrival order.
func (s *Store) Observe(id MessageID, path []NodeID) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.lookupOrCreate(id)
	first := !r.seen
	r.seen = true
	if len(path) > 0 && !r.hasPath(path) {
		r.Paths = append(r.Paths, append([]NodeID(nil), path...))
	}
	return r.clone(), first
}

// RegisterInbound counts one more copy of id received from peer.
func (s *Store) RegisterInbound(id MessageID, from NodeID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.lookupOrCreate(id)
	r.Inbound[from]++
	return r.Inbound[from]
}

// TryRegisterOutbound reserves one relay of id to peer if the relay budget
// for that peer is not used up.
func (s *Store) TryRegisterOutbound(id MessageID, to NodeID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.lookupOrCreate(id)
	if r.Outbound[to] >= s.relayLimit {
		return false
	}
	r.Outbound[to]++
	return true
}

// Snapshot returns the paths of every record matching status, narrowed by
// paths. Unless status is StatusRead, the returned records are marked read:
// fetching is the acknowledgement.
func (s *Store) Snapshot(status StatusFilter, paths PathFilter) Messages {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Messages{}
	for _, id := range s.order {
		r := s.records[id]
		if !r.seen {
			continue
		}
		switch status {
		case StatusUnread:
			if !r.Unread {
				continue
			}
		case StatusRead:
			if r.Unread {
				continue
			}
		}
		out[r.ID] = filterPaths(r.Paths, paths)
		if status != StatusRead {
			r.Unread = false
		}
	}
	return out
}

// Get returns a copy of the record for id.
func (s *Store) Get(id MessageID) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok || !r.seen {
		return Record{}, false
	}
	return r.clone(), true
}

// Records returns copies of all records in first-seen order.
func (s *Store) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.order))
	for _, id := range s.order {
		if r := s.records[id]; r.seen {
			out = append(out, r.clone())
		}
	}
	return out
}

// Len counts observed messages.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.records {
		if r.seen {
			n++
		}
	}
	return n
}

// filterPaths keeps insertion order and copies the selected paths.
func filterPaths(all [][]NodeID, f PathFilter) [][]NodeID {
	if len(all) == 0 {
		return [][]NodeID{}
	}
	shortest, longest := len(all[0]), len(all[0])
	for _, p := range all[1:] {
		shortest = min(shortest, len(p))
		longest = max(longest, len(p))
	}
	keep := func(p []NodeID) bool {
		switch f {
		case PathsShortest:
			return len(p) == shortest
		case PathsLongest:
			return len(p) == longest
		case PathsShortestAndLongest:
			return len(p) == shortest || len(p) == longest
		}
		return true
	}
	out := make([][]NodeID, 0, len(all))
	for _, p := range all {
		if keep(p) {
			out = append(out, append([]NodeID(nil), p...))
		}
	}
	return out
}

func equalPath(a, b []NodeID) bool {
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
