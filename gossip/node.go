package gossip

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/netutil"
)

// Node is one gossip participant: a TCP server that owns a message store and
// a shrinking set of peers.
type Node struct {
	cfg   Config
	log   *logrus.Entry
	store *Store
	m     *metrics

	peersMu sync.RWMutex
	peers   map[NodeID]*Peer

	lastTS   atomic.Int64
	started  atomic.Int64
	inflight atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	conns  sync.WaitGroup

	addrMu sync.Mutex
	addr   net.Addr
}

func NewNode(cfg Config) (*Node, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m, err := newMetrics(cfg.Registry, cfg.ID)
	if err != nil {
		return nil, fmt.Errorf(`node %d metrics: %w`, cfg.ID, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		cfg:    cfg,
		log:    cfg.Log.WithField(`node`, int(cfg.ID)),
		store:  NewStore(cfg.RelayLimit),
		m:      m,
		peers:  make(map[NodeID]*Peer, len(cfg.Peers)),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, p := range cfg.Peers {
		n.peers[p.ID] = NewPeer(p.ID, p.Addr, WithTimeout(cfg.DialTimeout), WithDialRate(cfg.DialRate))
	}
	m.peers.Set(float64(len(n.peers)))
	return n, nil
}

func (n *Node) ID() NodeID { return n.cfg.ID }

func (n *Node) Store() *Store { return n.store }

func (n *Node) RelayLimit() int { return n.store.RelayLimit() }

// Addr is the bound listen address once serving, else the configured one.
func (n *Node) Addr() string {
	n.addrMu.Lock()
	defer n.addrMu.Unlock()
	if n.addr != nil {
		return n.addr.String()
	}
	return n.cfg.Addr
}

// ---------- Peers ----------

// Peers lists the current peer set ordered by id.
func (n *Node) Peers() []PeerInfo {
	ps := n.peerList()
	out := make([]PeerInfo, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Info())
	}
	return out
}

func (n *Node) PeerIDs() []NodeID {
	ps := n.peerList()
	out := make([]NodeID, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.ID)
	}
	return out
}

func (n *Node) peerList() []*Peer {
	n.peersMu.RLock()
	out := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		out = append(out, p)
	}
	n.peersMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RemovePeer drops id from the peer set for good. It reports whether id was
// a peer.
func (n *Node) RemovePeer(id NodeID) bool {
	n.peersMu.Lock()
	_, ok := n.peers[id]
	delete(n.peers, id)
	size := len(n.peers)
	n.peersMu.Unlock()
	n.m.peers.Set(float64(size))
	if ok {
		n.log.WithField(`peer`, int(id)).Info(`peer removed`)
	}
	return ok
}

// ---------- Engine ----------

// Submit originates a message at this node and floods it to every peer.
// Invalid UTF-8 in text is replaced byte by byte with U+FFFD first, so the id
// survives the wire unchanged.
func (n *Node) Submit(text string) MessageID {
	id := MessageID{Text: validText(text), TS: n.nextTS()}
	path := []NodeID{n.cfg.ID}
	if _, first := n.store.Observe(id, path); first {
		n.m.observed.Inc()
	}
	n.log.WithField(`msg`, id.Key()).Info(`new message`)
	n.relay(id, path, 0)
	return id
}

// nextTS is the wall clock in nanoseconds, bumped so two submissions on the
// same node never share a timestamp.
func (n *Node) nextTS() int64 {
	now := n.cfg.Now().UnixNano()
	for {
		last := n.lastTS.Load()
		ts := max(now, last+1)
		if n.lastTS.CompareAndSwap(last, ts) {
			return ts
		}
	}
}

func (n *Node) receiveRelay(id MessageID, path []NodeID) {
	prev := path[len(path)-1]
	inbound := n.store.RegisterInbound(id, prev)

	here := make([]NodeID, len(path), len(path)+1)
	copy(here, path)
	here = append(here, n.cfg.ID)
	_, first := n.store.Observe(id, here)
	if first {
		n.m.observed.Inc()
	}

	if inbound > n.store.RelayLimit() && !first {
		n.m.relaysThrottled.Inc()
		n.log.WithFields(logrus.Fields{`msg`: id.Key(), `from`: int(prev), `inbound`: inbound}).Debug(`duplicate relay ignored`)
		return
	}
	n.relay(id, here, prev)
}

// relay forwards id with path to every peer except skip whose outbound budget
// allows it. Sends run in the background and are never retried.
func (n *Node) relay(id MessageID, path []NodeID, skip NodeID) {
	req := Relay(id, path)
	for _, p := range n.peerList() {
		if p.ID == skip {
			continue
		}
		if !n.store.TryRegisterOutbound(id, p.ID) {
			continue
		}
		n.inflight.Add(1)
		n.started.Add(1)
		go func(p *Peer) {
			defer n.inflight.Add(-1)
			if err := p.Send(n.ctx, req); err != nil {
				n.m.relaysFailed.Inc()
				n.log.WithFields(logrus.Fields{`msg`: id.Key(), `to`: int(p.ID)}).WithError(err).Debug(`relay failed`)
				return
			}
			n.m.relaysSent.Inc()
		}(p)
	}
}

// HandleConnection executes one raw command line. The response is nil for
// commands that do not answer.
func (n *Node) HandleConnection(raw []byte) ([]byte, error) {
	req, err := ParseRequest(raw)
	if err != nil {
		n.m.malformed.Inc()
		return nil, err
	}
	n.m.commands.WithLabelValues(req.Cmd.String()).Inc()

	switch req.Cmd {
	case CmdNew:
		n.Submit(req.Text)
		return nil, nil
	case CmdRelay:
		n.receiveRelay(req.ID, req.Path)
		return nil, nil
	case CmdGet:
		return json.Marshal(n.store.Snapshot(req.Status, req.Paths))
	case CmdPeers:
		return json.Marshal(n.Peers())
	case CmdRemove:
		n.RemovePeer(req.Peer)
		return nil, nil
	}
	return nil, fmt.Errorf(`%w: unhandled command %v`, ErrMalformedCommand, req.Cmd)
}

// Wait blocks until no relay is in flight. Relays started while waiting are
// waited for too.
func (n *Node) Wait() {
	for n.inflight.Load() > 0 {
		time.Sleep(5 * time.Millisecond)
	}
}

func (n *Node) relaysInFlight() int { return int(n.inflight.Load()) }

func (n *Node) relaysStarted() int { return int(n.started.Load()) }

// ---------- Networking ----------

// ListenAndServe binds the configured address and serves until ctx is done.
func (n *Node) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen(`tcp`, n.cfg.Addr)
	if err != nil {
		return fmt.Errorf(`listen on %s: %w`, n.cfg.Addr, err)
	}
	return n.Serve(ctx, ln)
}

// Serve accepts connections on ln, one goroutine per connection, until ctx
// is done. In-flight relays are cancelled on return.
func (n *Node) Serve(ctx context.Context, ln net.Listener) error {
	if n.cfg.MaxConns > 0 {
		ln = netutil.LimitListener(ln, n.cfg.MaxConns)
	}
	n.addrMu.Lock()
	n.addr = ln.Addr()
	n.addrMu.Unlock()

	var admin *adminServer
	if n.cfg.AdminAddr != `` {
		var err error
		if admin, err = startAdmin(n, n.cfg.AdminAddr); err != nil {
			ln.Close()
			return err
		}
	}

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		ln.Close()
	}()
	defer close(stop)

	n.log.WithFields(logrus.Fields{`addr`: ln.Addr().String(), `peers`: n.PeerIDs()}).Info(`node serving`)
	defer func() {
		n.cancel()
		n.conns.Wait()
		n.Wait()
		if admin != nil {
			admin.close()
		}
		n.log.Info(`node stopped`)
	}()

	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			n.log.WithError(err).Warn(`accept failed`)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		n.conns.Add(1)
		go n.handleConn(c)
	}
}

func (n *Node) handleConn(conn net.Conn) {
	defer n.conns.Done()
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(n.cfg.ReadTimeout))

	dec := bufio.NewScanner(conn)
	dec.Buffer(make([]byte, 0, 4096), MaxLineSize)
	if !dec.Scan() {
		if err := dec.Err(); err != nil {
			n.log.WithError(err).WithField(`remote`, conn.RemoteAddr().String()).Debug(`read failed`)
		}
		return
	}

	resp, err := n.HandleConnection(dec.Bytes())
	if err != nil {
		n.log.WithError(err).WithField(`remote`, conn.RemoteAddr().String()).Warn(`bad command`)
		return
	}
	if resp == nil {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(n.cfg.ReadTimeout))
	if _, err := conn.Write(resp); err != nil {
		n.log.WithError(err).Debug(`write response failed`)
	}
}

func idLabel(id NodeID) string { return strconv.Itoa(int(id)) }
