package gossip

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Client talks to a single node on behalf of an operator.
type Client struct {
	peer *Peer
}

func NewClient(addr string, opts ...PeerOption) *Client {
	return &Client{peer: NewPeer(0, addr, opts...)}
}

// Dial is NewClient for a node listening on its default port.
func Dial(id NodeID, opts ...PeerOption) *Client {
	return NewClient(AddrFor(id), opts...)
}

func (c *Client) Addr() string { return c.peer.Addr }

func (c *Client) String() string { return `node@` + c.peer.Addr }

func (c *Client) SendMessage(ctx context.Context, text string) error {
	return c.peer.Send(ctx, NewMessage(text))
}

func (c *Client) GetMessages(ctx context.Context, status StatusFilter, paths PathFilter) (Messages, error) {
	b, err := c.peer.SendAndReceive(ctx, Get(status, paths))
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, fmt.Errorf(`%w: empty response from %s`, ErrPeerUnreachable, c.peer.Addr)
	}
	var out Messages
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf(`decode messages from %s: %w`, c.peer.Addr, err)
	}
	return out, nil
}

func (c *Client) GetPeers(ctx context.Context) ([]PeerInfo, error) {
	b, err := c.peer.SendAndReceive(ctx, ListPeers())
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, fmt.Errorf(`%w: empty response from %s`, ErrPeerUnreachable, c.peer.Addr)
	}
	var out []PeerInfo
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf(`decode peers from %s: %w`, c.peer.Addr, err)
	}
	return out, nil
}

func (c *Client) RemovePeer(ctx context.Context, id NodeID) error {
	return c.peer.Send(ctx, Remove(id))
}

// RemoveEverywhere tells each of peers to forget removed. It keeps going past
// failures and returns them joined.
func RemoveEverywhere(ctx context.Context, removed NodeID, peers []PeerRef, opts ...PeerOption) error {
	var errs []error
	for _, p := range peers {
		if err := NewClient(p.Addr, opts...).RemovePeer(ctx, removed); err != nil {
			errs = append(errs, fmt.Errorf(`node %d: %w`, p.ID, err))
		}
	}
	return errors.Join(errs...)
}

// SortedIDs returns the message ids of m ordered by origin time, then text.
func (m Messages) SortedIDs() []MessageID {
	ids := make([]MessageID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].TS != ids[j].TS {
			return ids[i].TS < ids[j].TS
		}
		return ids[i].Text < ids[j].Text
	})
	return ids
}
