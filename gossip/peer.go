package gossip

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"golang.org/x/time/rate"
)

// Peer is one directed edge to a remote node. Every call opens a fresh
// connection carrying a single command line.
type Peer struct {
	ID   NodeID
	Addr string

	timeout time.Duration
	limiter *rate.Limiter
}

type PeerOption func(*Peer)

func WithTimeout(d time.Duration) PeerOption {
	return func(p *Peer) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithDialRate limits outbound connections to perSecond; <= 0 is unlimited.
func WithDialRate(perSecond float64) PeerOption {
	return func(p *Peer) {
		if perSecond > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

func NewPeer(id NodeID, addr string, opts ...PeerOption) *Peer {
	p := &Peer{
		ID:      id,
		Addr:    addr,
		timeout: DefaultDialTimeout,
		limiter: rate.NewLimiter(rate.Inf, 1),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// DisplayName is what /PEERS reports for this peer.
func (p *Peer) DisplayName() string {
	return fmt.Sprintf(`node-%d@%s`, p.ID, p.Addr)
}

func (p *Peer) Info() PeerInfo { return PeerInfo{ID: p.ID, Name: p.DisplayName()} }

func (p *Peer) dial(ctx context.Context, req Request) (net.Conn, error) {
	line, err := req.Encode()
	if err != nil {
		return nil, err
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf(`%w: %s: %v`, ErrPeerUnreachable, p.Addr, err)
	}
	d := net.Dialer{Timeout: p.timeout}
	conn, err := d.DialContext(ctx, `tcp`, p.Addr)
	if err != nil {
		return nil, fmt.Errorf(`%w: dial %s: %v`, ErrPeerUnreachable, p.Addr, err)
	}
	_ = conn.SetDeadline(time.Now().Add(p.timeout))
	if _, err := conn.Write(line); err != nil {
		conn.Close()
		return nil, fmt.Errorf(`%w: write %s: %v`, ErrPeerUnreachable, p.Addr, err)
	}
	return conn, nil
}

// Send delivers req and closes without waiting for an answer.
func (p *Peer) Send(ctx context.Context, req Request) error {
	conn, err := p.dial(ctx, req)
	if err != nil {
		return err
	}
	return conn.Close()
}

// SendAndReceive delivers req and returns everything the peer writes before
// closing the connection.
func (p *Peer) SendAndReceive(ctx context.Context, req Request) ([]byte, error) {
	conn, err := p.dial(ctx, req)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
	}
	b, err := io.ReadAll(conn)
	if err != nil {
		return nil, fmt.Errorf(`%w: read %s: %v`, ErrPeerUnreachable, p.Addr, err)
	}
	return b, nil
}
