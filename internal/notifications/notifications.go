// Package notifications is a per-CID publish/subscribe registry: the
// coordinator publishes a block once it lands in the local store, and any
// in-flight Get/GetMany calls waiting on that CID receive it and stop
// waiting.
package notifications

import (
	"context"
	"sync"

	blocks "github.com/ipfs/go-block-format"
	cid "github.com/ipfs/go-cid"
)

// PubSub is the subscription registry the coordinator depends on.
type PubSub interface {
	Publish(b blocks.Block)
	Subscribe(ctx context.Context, keys ...cid.Cid) <-chan blocks.Block
	Shutdown()
}

type impl struct {
	lock sync.Mutex
	subs map[string]map[chan blocks.Block]struct{}
	done chan struct{}
}

// New returns an empty PubSub.
func New() PubSub {
	return &impl{
		subs: make(map[string]map[chan blocks.Block]struct{}),
		done: make(chan struct{}),
	}
}

// Publish delivers b to every subscriber currently waiting on its CID. Each
// subscriber receives at most once per key: the subscription is removed
// from the registry as part of delivery.
func (ps *impl) Publish(b blocks.Block) {
	key := b.Cid().KeyString()

	ps.lock.Lock()
	chans := ps.subs[key]
	delete(ps.subs, key)
	ps.lock.Unlock()

	for ch := range chans {
		select {
		case ch <- b:
		case <-ps.done:
			return
		}
	}
}

// Subscribe returns a channel that yields one block per key in keys, in
// whatever order they are published, then closes. It also closes early if
// ctx is done or Shutdown is called, in which case fewer than len(keys)
// blocks may have been delivered.
func (ps *impl) Subscribe(ctx context.Context, keys ...cid.Cid) <-chan blocks.Block {
	blocksCh := make(chan blocks.Block, len(keys))
	if len(keys) == 0 {
		close(blocksCh)
		return blocksCh
	}

	valuesCh := make(chan blocks.Block, len(keys))
	ps.lock.Lock()
	for _, k := range keys {
		key := k.KeyString()
		if ps.subs[key] == nil {
			ps.subs[key] = make(map[chan blocks.Block]struct{})
		}
		ps.subs[key][valuesCh] = struct{}{}
	}
	ps.lock.Unlock()

	go func() {
		defer close(blocksCh)
		defer ps.unsubscribeAll(keys, valuesCh)
		remaining := len(keys)
		for remaining > 0 {
			select {
			case <-ctx.Done():
				return
			case <-ps.done:
				return
			case b, ok := <-valuesCh:
				if !ok {
					return
				}
				select {
				case blocksCh <- b:
					remaining--
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return blocksCh
}

func (ps *impl) unsubscribeAll(keys []cid.Cid, ch chan blocks.Block) {
	ps.lock.Lock()
	defer ps.lock.Unlock()
	for _, k := range keys {
		key := k.KeyString()
		if set, ok := ps.subs[key]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(ps.subs, key)
			}
		}
	}
}

// Shutdown releases every pending subscriber without delivering anything
// further.
func (ps *impl) Shutdown() {
	close(ps.done)
}
