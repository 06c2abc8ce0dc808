// Package testnet provides an in-process BitSwapNetwork and a matching mock
// content router, so coordinator-level tests can run many virtual peers
// without any real transport.
package testnet

import (
	"context"
	"errors"
	"sync"
	"time"

	cid "github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/blocksync/bitswap/internal/message"
	bsnet "github.com/blocksync/bitswap/internal/network"
)

// Network is the shared medium every virtual peer's adapter talks through.
type Network interface {
	Adapter(p peer.ID) bsnet.BitSwapNetwork
	HasPeer(p peer.ID) bool
}

// VirtualNetwork returns a Network that delivers messages in-process,
// optionally delaying each delivery by latency (use 0 for no delay).
func VirtualNetwork(routing *MockRouter, latency time.Duration) Network {
	return &network{
		clients: make(map[peer.ID]*client),
		routing: routing,
		latency: latency,
	}
}

type network struct {
	mu      sync.RWMutex
	clients map[peer.ID]*client
	routing *MockRouter
	latency time.Duration
}

func (n *network) HasPeer(p peer.ID) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.clients[p]
	return ok
}

func (n *network) Adapter(p peer.ID) bsnet.BitSwapNetwork {
	c := &client{local: p, net: n, routingClient: n.routing.Client(p)}
	n.mu.Lock()
	n.clients[p] = c
	n.mu.Unlock()
	return c
}

func (n *network) sendMessage(from, to peer.ID, m *message.Message) error {
	n.mu.RLock()
	target, ok := n.clients[to]
	n.mu.RUnlock()
	if !ok {
		return errors.New("testnet: no such peer on the network")
	}
	go n.deliver(target, from, m)
	return nil
}

func (n *network) deliver(target *client, from peer.ID, m *message.Message) {
	if n.latency > 0 {
		time.Sleep(n.latency)
	}
	r := target.delegate()
	if r == nil {
		return
	}
	r.ReceiveMessage(context.Background(), from, m)
}

// client is one peer's view of the virtual network, implementing
// BitSwapNetwork without any real stream or codec negotiation.
type client struct {
	local         peer.ID
	net           *network
	routingClient *mockRoutingClient

	mu       sync.RWMutex
	receiver bsnet.Receiver
}

func (c *client) Self() peer.ID { return c.local }

func (c *client) SetDelegate(r bsnet.Receiver) {
	c.mu.Lock()
	c.receiver = r
	c.mu.Unlock()
}

func (c *client) delegate() bsnet.Receiver {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.receiver
}

func (c *client) SendMessage(ctx context.Context, to peer.ID, m *message.Message) error {
	return c.net.sendMessage(c.local, to, m)
}

type sender struct {
	c      *client
	target peer.ID
}

func (s *sender) SendMsg(ctx context.Context, m *message.Message) error {
	return s.c.net.sendMessage(s.c.local, s.target, m)
}
func (s *sender) Close() error { return nil }
func (s *sender) Reset() error { return nil }

func (c *client) NewMessageSender(ctx context.Context, p peer.ID, _ *bsnet.MessageSenderOpts) (bsnet.MessageSender, error) {
	return &sender{c: c, target: p}, nil
}

func (c *client) Connect(ctx context.Context, p peer.ID) error {
	if !c.net.HasPeer(p) {
		return errors.New("testnet: no such peer on the network")
	}
	c.net.mu.RLock()
	remote := c.net.clients[p]
	c.net.mu.RUnlock()

	if r := remote.delegate(); r != nil {
		r.PeerConnected(c.local)
	}
	if r := c.delegate(); r != nil {
		r.PeerConnected(p)
	}
	return nil
}

func (c *client) DisconnectFrom(ctx context.Context, p peer.ID) error {
	c.net.mu.RLock()
	remote := c.net.clients[p]
	c.net.mu.RUnlock()

	if remote != nil {
		if r := remote.delegate(); r != nil {
			r.PeerDisconnected(c.local)
		}
	}
	if r := c.delegate(); r != nil {
		r.PeerDisconnected(p)
	}
	return nil
}

func (c *client) Provide(ctx context.Context, k cid.Cid) error {
	return c.routingClient.Provide(ctx, k, true)
}

func (c *client) FindAndConnect(ctx context.Context, k cid.Cid) error {
	providers := c.routingClient.FindProvidersAsync(ctx, k, 0)
	var connected bool
	for p := range providers {
		if err := c.Connect(ctx, p.ID); err == nil {
			connected = true
		}
	}
	if !connected {
		return errors.New("testnet: no providers found")
	}
	return nil
}

func (c *client) Start() {}
func (c *client) Stop()  {}
