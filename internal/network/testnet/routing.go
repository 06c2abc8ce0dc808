package testnet

import (
	"context"
	"math/rand"
	"sync"

	cid "github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"
)

// MockRouter is a shared, in-memory provider table every virtual peer's
// Client announces to and queries.
type MockRouter struct {
	lock      sync.RWMutex
	providers map[string]map[peer.ID]struct{}
}

// NewMockRouter returns an empty provider table.
func NewMockRouter() *MockRouter {
	return &MockRouter{providers: make(map[string]map[peer.ID]struct{})}
}

func (rt *MockRouter) announce(p peer.ID, k cid.Cid) {
	rt.lock.Lock()
	defer rt.lock.Unlock()
	key := k.KeyString()
	if rt.providers[key] == nil {
		rt.providers[key] = make(map[peer.ID]struct{})
	}
	rt.providers[key][p] = struct{}{}
}

func (rt *MockRouter) providersFor(k cid.Cid) []peer.ID {
	rt.lock.RLock()
	defer rt.lock.RUnlock()
	set := rt.providers[k.KeyString()]
	out := make([]peer.ID, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// Client returns the per-peer routing handle used by that peer's
// BitSwapNetwork adapter.
func (rt *MockRouter) Client(p peer.ID) *mockRoutingClient {
	return &mockRoutingClient{self: p, router: rt}
}

type mockRoutingClient struct {
	self   peer.ID
	router *MockRouter
}

// Provide announces self as a provider of k.
func (c *mockRoutingClient) Provide(ctx context.Context, k cid.Cid, _ bool) error {
	c.router.announce(c.self, k)
	return nil
}

// FindProvidersAsync returns up to max providers for k (0 means no limit).
func (c *mockRoutingClient) FindProvidersAsync(ctx context.Context, k cid.Cid, max int) <-chan peer.AddrInfo {
	out := make(chan peer.AddrInfo)
	go func() {
		defer close(out)
		for i, p := range c.router.providersFor(k) {
			if max > 0 && i >= max {
				return
			}
			select {
			case out <- peer.AddrInfo{ID: p}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
