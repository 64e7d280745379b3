package gossip

import (
	"context"
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"gossipnet/topology"
)

// NetworkConfig describes an in-process network. Every node gets the same
// engine settings.
type NetworkConfig struct {
	Host     string // defaults to Localhost
	PortBase int    // 0 binds ephemeral ports, otherwise node i listens on PortBase+i

	RelayLimit  int
	DialTimeout time.Duration
	MaxConns    int

	Log *logrus.Logger
}

// Network runs one node per topology vertex inside a single process.
type Network struct {
	ID    string
	nodes map[NodeID]*Node
	lns   map[NodeID]net.Listener
	reg   *prometheus.Registry
	log   *logrus.Entry
}

// NewNetwork binds a listener per node first, so peers can be wired with
// their real addresses even on ephemeral ports.
func NewNetwork(g *topology.Graph, cfg NetworkConfig) (*Network, error) {
	if cfg.Host == `` {
		cfg.Host = Localhost
	}
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	nw := &Network{
		ID:    uuid.NewString(),
		nodes: map[NodeID]*Node{},
		lns:   map[NodeID]net.Listener{},
		reg:   prometheus.NewRegistry(),
	}
	nw.log = cfg.Log.WithField(`network`, nw.ID)

	addrs := map[NodeID]string{}
	for _, v := range g.Nodes() {
		port := 0
		if cfg.PortBase > 0 {
			port = cfg.PortBase + v
		}
		ln, err := net.Listen(`tcp`, net.JoinHostPort(cfg.Host, fmt.Sprint(port)))
		if err != nil {
			nw.closeListeners()
			return nil, fmt.Errorf(`node %d: listen: %w`, v, err)
		}
		nw.lns[NodeID(v)] = ln
		addrs[NodeID(v)] = ln.Addr().String()
	}

	for _, v := range g.Nodes() {
		id := NodeID(v)
		var peers []PeerRef
		for _, p := range g.Peers(v) {
			peers = append(peers, PeerRef{ID: NodeID(p), Addr: addrs[NodeID(p)]})
		}
		n, err := NewNode(Config{
			ID:          id,
			Addr:        addrs[id],
			Peers:       peers,
			RelayLimit:  cfg.RelayLimit,
			DialTimeout: cfg.DialTimeout,
			MaxConns:    cfg.MaxConns,
			Log:         nw.log,
			Registry:    nw.reg,
		})
		if err != nil {
			nw.closeListeners()
			return nil, err
		}
		nw.nodes[id] = n
	}
	return nw, nil
}

func (nw *Network) closeListeners() {
	for _, ln := range nw.lns {
		ln.Close()
	}
}

// Run serves every node until ctx is done or one of them fails.
func (nw *Network) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	for id, n := range nw.nodes {
		ln := nw.lns[id]
		group.Go(func() error {
			if err := n.Serve(ctx, ln); err != nil {
				return fmt.Errorf(`node %d: %w`, n.ID(), err)
			}
			return nil
		})
	}
	nw.log.WithField(`nodes`, len(nw.nodes)).Info(`network running`)
	return group.Wait()
}

func (nw *Network) Node(id NodeID) *Node { return nw.nodes[id] }

func (nw *Network) IDs() []NodeID {
	out := make([]NodeID, 0, len(nw.nodes))
	for id := range nw.nodes {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (nw *Network) Registry() *prometheus.Registry { return nw.reg }

// Client returns a client for node id.
func (nw *Network) Client(id NodeID) *Client {
	n := nw.nodes[id]
	if n == nil {
		return nil
	}
	return NewClient(n.Addr())
}

// Remove isolates id: every node that has it as a peer drops it. The node
// itself keeps running; callers stop it by other means.
func (nw *Network) Remove(ctx context.Context, id NodeID) error {
	n := nw.nodes[id]
	if n == nil {
		return fmt.Errorf(`no node %d`, id)
	}
	var peers []PeerRef
	for _, p := range n.PeerIDs() {
		peers = append(peers, PeerRef{ID: p, Addr: nw.nodes[p].Addr()})
	}
	return RemoveEverywhere(ctx, id, peers)
}

// Quiesce waits until no node has a relay in flight for a full settle period.
func (nw *Network) Quiesce(settle time.Duration) {
	for {
		for _, n := range nw.nodes {
			n.Wait()
		}
		before := nw.relaysStarted()
		time.Sleep(settle)
		if nw.relaysStarted() == before && nw.relaysInFlight() == 0 {
			return
		}
	}
}

func (nw *Network) relaysInFlight() int {
	total := 0
	for _, n := range nw.nodes {
		total += n.relaysInFlight()
	}
	return total
}

func (nw *Network) relaysStarted() int {
	total := 0
	for _, n := range nw.nodes {
		total += n.relaysStarted()
	}
	return total
}
