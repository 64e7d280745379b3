package gossip

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const (
	DefaultRelayLimit  = 1
	DefaultDialTimeout = 2 * time.Second
	DefaultReadTimeout = 5 * time.Second
	MaxLineSize        = 1 << 20
)

// PeerRef is an addressable neighbour.
type PeerRef struct {
	ID   NodeID `json:"id"`
	Addr string `json:"addr"`
}

// Config configures one node. Zero values are filled in by SetDefaults.
type Config struct {
	ID   NodeID
	Addr string // listen address, defaults to AddrFor(ID)

	Peers []PeerRef

	RelayLimit  int
	DialTimeout time.Duration // per outbound connect/write/read
	ReadTimeout time.Duration // per inbound command line
	DialRate    float64       // outbound dials per second, 0 = unlimited
	MaxConns    int           // concurrent inbound connections, 0 = unlimited

	AdminAddr string // optional HTTP admin listener

	Log      *logrus.Entry
	Registry *prometheus.Registry
	Now      func() time.Time
}

func (c *Config) SetDefaults() {
	if c.Addr == `` {
		c.Addr = AddrFor(c.ID)
	}
	if c.RelayLimit <= 0 {
		c.RelayLimit = DefaultRelayLimit
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.Log == nil {
		c.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	if c.Registry == nil {
		c.Registry = prometheus.NewRegistry()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

func (c *Config) Validate() error {
	if c.ID < 1 {
		return fmt.Errorf(`node id must be positive, got %d`, c.ID)
	}
	seen := map[NodeID]bool{}
	for _, p := range c.Peers {
		if p.ID < 1 || p.ID == c.ID {
			return fmt.Errorf(`node %d: bad peer id %d`, c.ID, p.ID)
		}
		if seen[p.ID] {
			return fmt.Errorf(`node %d: duplicate peer %d`, c.ID, p.ID)
		}
		seen[p.ID] = true
		if p.Addr == `` {
			return fmt.Errorf(`node %d: peer %d has no address`, c.ID, p.ID)
		}
	}
	return nil
}

// DefaultPeers addresses every id at its default port.
func DefaultPeers(ids []NodeID) []PeerRef {
	out := make([]PeerRef, 0, len(ids))
	for _, id := range ids {
		out = append(out, PeerRef{ID: id, Addr: AddrFor(id)})
	}
	return out
}
