// Package bitswap implements a bilateral block-exchange protocol: peers
// advertise what they want, serve what they hold, and account for the
// balance of bytes traded with each partner.
package bitswap

import (
	"context"
	"sync"

	blocks "github.com/ipfs/go-block-format"
	cid "github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/jbenet/goprocess"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/blocksync/bitswap/internal/blockstore"
	"github.com/blocksync/bitswap/internal/decision"
	"github.com/blocksync/bitswap/internal/message"
	"github.com/blocksync/bitswap/internal/network"
	"github.com/blocksync/bitswap/internal/notifications"
	"github.com/blocksync/bitswap/internal/wantlist"
)

var log = logging.Logger("bitswap")

// Bitswap is one node's view of the exchange: it tracks what the local
// store has and wants, talks to the network on the local node's behalf,
// and decides what to serve to peers asking for blocks we hold.
type Bitswap struct {
	self peer.ID

	network    network.BitSwapNetwork
	blockstore blockstore.Blockstore

	notifications notifications.PubSub
	pending       *pendingWants
	unwant        *unwantRegistry

	engine      *decision.Engine
	wantManager *WantManager

	cfg *Config

	process goprocess.Process

	counterLk      sync.Mutex
	blocksRecvd    uint64
	dataRecvd      uint64
	dupBlocksRecvd uint64
	dupDataRecvd   uint64
	blocksSent     uint64
	dataSent       uint64
}

// New constructs a Bitswap exchange bound to self, speaking over net and
// backed by bstore, and starts its background workers. Callers must call
// Close when done.
func New(parent context.Context, self peer.ID, net network.BitSwapNetwork, bstore blockstore.Blockstore, opts ...Option) *Bitswap {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	ctx, cancel := context.WithCancel(parent)

	notif := notifications.New()
	px := goprocess.WithTeardown(func() error {
		notif.Shutdown()
		return nil
	})
	go func() {
		<-px.Closing() // process closes first
		cancel()
	}()
	go func() {
		<-ctx.Done() // parent cancelled first
		px.Close()
	}()

	bs := &Bitswap{
		self:          self,
		network:       net,
		blockstore:    bstore,
		notifications: notif,
		pending:       newPendingWants(),
		unwant:        newUnwantRegistry(),
		engine:        decision.NewEngine(ctx, bstore, cfg.EngineTaskWorkerCount),
		wantManager:   NewWantManager(ctx, net, cfg),
		cfg:           cfg,
		process:       px,
	}

	net.SetDelegate(bs)
	net.Start()

	px.Go(func(proc goprocess.Process) { bs.wantManager.Run() })
	px.Go(func(proc goprocess.Process) { bs.taskWorker(ctx) })

	return bs
}

// GetBlock fetches a single block, blocking until it arrives, ctx ends, or
// Unwant is called for c, in which case it fails with ErrUnwanted.
func (bs *Bitswap) GetBlock(ctx context.Context, c cid.Cid) (blocks.Block, error) {
	promise, err := bs.GetBlocks(ctx, []cid.Cid{c})
	if err != nil {
		return nil, err
	}
	abort := bs.unwant.subscribe(c)
	defer bs.unwant.unsubscribe(c, abort)
	select {
	case b, ok := <-promise:
		if !ok {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			// the notification registry shut down under us.
			return nil, ErrNotStarted
		}
		return b, nil
	case <-abort:
		return nil, ErrUnwanted
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetBlocks requests ks from the network and returns a channel that yields
// each one as it arrives, in arrival order, closing once every key has
// been delivered or ctx ends. Two overlapping GetBlocks calls for the same
// CID do not cancel each other's want when one of them ends first.
func (bs *Bitswap) GetBlocks(ctx context.Context, ks []cid.Cid) (<-chan blocks.Block, error) {
	select {
	case <-bs.process.Closing():
		return nil, ErrNotStarted
	default:
	}

	promise := bs.notifications.Subscribe(ctx, ks...)

	fresh := bs.pending.add(ks)
	if len(fresh) > 0 {
		bs.wantManager.WantBlocks(ctx, fresh)
		go bs.findProviders(ctx, fresh)
	}

	go func() {
		<-ctx.Done()
		if done := bs.pending.release(ks); len(done) > 0 {
			bs.wantManager.CancelWants(done)
		}
	}()

	return promise, nil
}

// findProviders looks up providers for each of ks and connects to them so
// the want-manager's message queue has somewhere to deliver the wantlist.
func (bs *Bitswap) findProviders(ctx context.Context, ks []cid.Cid) {
	var wg sync.WaitGroup
	for _, k := range ks {
		wg.Add(1)
		go func(k cid.Cid) {
			defer wg.Done()
			child, cancel := context.WithTimeout(ctx, bs.cfg.ProviderSearchTimeout)
			defer cancel()
			if err := bs.network.FindAndConnect(child, k); err != nil {
				log.Debugf("findProviders(%s): %s", k, err)
			}
		}(k)
	}
	wg.Wait()
}

// HasBlock stores b locally, satisfies any waiters for it, tells the
// decision engine it's now available to serve, and advertises it to the
// routing collaborator.
func (bs *Bitswap) HasBlock(ctx context.Context, b blocks.Block) error {
	select {
	case <-bs.process.Closing():
		return ErrNotStarted
	default:
	}
	if err := bs.blockstore.Put(ctx, b); err != nil {
		return err
	}
	if done := bs.pending.clear([]cid.Cid{b.Cid()}); len(done) > 0 {
		bs.wantManager.CancelWants(done)
	}
	bs.notifications.Publish(b)
	bs.engine.NotifyNewBlock(b.Cid())
	go bs.provide(b.Cid())
	return nil
}

// provide announces c to the routing collaborator in the background.
// Failures are logged and never surfaced; announcing is best-effort.
func (bs *Bitswap) provide(c cid.Cid) {
	ctx, cancel := context.WithTimeout(context.Background(), bs.cfg.ProviderSearchTimeout)
	defer cancel()
	if err := bs.network.Provide(ctx, c); err != nil {
		log.Debugf("provide(%s): %s", c, err)
	}
}

// PutBlocks is HasBlock for a batch, sharing one PutMany call against the
// store.
func (bs *Bitswap) PutBlocks(ctx context.Context, bs2 []blocks.Block) error {
	if err := bs.blockstore.PutMany(ctx, bs2); err != nil {
		return err
	}
	for _, b := range bs2 {
		if done := bs.pending.clear([]cid.Cid{b.Cid()}); len(done) > 0 {
			bs.wantManager.CancelWants(done)
		}
		bs.notifications.Publish(b)
		bs.engine.NotifyNewBlock(b.Cid())
		go bs.provide(b.Cid())
	}
	return nil
}

// Unwant immediately fails every local GetBlock caller currently awaiting
// c with ErrUnwanted and cancels the want regardless of how many other
// local callers were also waiting on it.
func (bs *Bitswap) Unwant(c cid.Cid) {
	bs.unwant.fire(c)
	if done := bs.pending.clear([]cid.Cid{c}); len(done) > 0 {
		bs.wantManager.CancelWants(done)
	}
}

// WantlistForPeer returns the coordinator's record of what p wants from
// us, sorted deterministically.
func (bs *Bitswap) WantlistForPeer(p peer.ID) []wantlist.Entry {
	return bs.engine.WantlistForPeer(p)
}

// IsStarted reports whether the exchange is running, that is, whether
// Close has not yet been called.
func (bs *Bitswap) IsStarted() bool {
	select {
	case <-bs.process.Closing():
		return false
	default:
		return true
	}
}

// ReceiveMessage implements network.Receiver: it hands the message to the
// decision engine for wantlist bookkeeping and task scheduling, stores any
// blocks it carried, counts duplicates, and resolves local waiters.
func (bs *Bitswap) ReceiveMessage(ctx context.Context, from peer.ID, incoming *message.Message) {
	received := bs.engine.MessageReceived(from, incoming)

	for _, b := range received {
		isDup, err := bs.blockstore.Has(ctx, b.Cid())
		if err != nil {
			log.Debugf("ReceiveMessage: store.Has(%s): %s", b.Cid(), err)
			isDup = false
		}

		bs.counterLk.Lock()
		bs.blocksRecvd++
		bs.dataRecvd += uint64(len(b.RawData()))
		if isDup {
			bs.dupBlocksRecvd++
			bs.dupDataRecvd += uint64(len(b.RawData()))
		}
		bs.counterLk.Unlock()

		if err := bs.HasBlock(ctx, b); err != nil {
			log.Debugf("ReceiveMessage: HasBlock(%s): %s", b.Cid(), err)
		}
	}
}

// ReceiveError implements network.Receiver.
func (bs *Bitswap) ReceiveError(err error) {
	log.Debugf("bitswap network error: %s", err)
}

// PeerConnected implements network.Receiver.
func (bs *Bitswap) PeerConnected(p peer.ID) {
	bs.engine.PeerConnected(p)
	bs.wantManager.Connected(p)
}

// PeerDisconnected implements network.Receiver.
func (bs *Bitswap) PeerDisconnected(p peer.ID) {
	bs.engine.PeerDisconnected(p)
	bs.wantManager.Disconnected(p)
}

// Close stops every background worker and the decision engine.
func (bs *Bitswap) Close() error {
	bs.wantManager.Stop()
	bs.engine.Close()
	bs.network.Stop()
	return bs.process.Close()
}
