package bitswap

import (
	"context"
	"time"

	cid "github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/benbjohnson/clock"

	"github.com/blocksync/bitswap/internal/message"
	"github.com/blocksync/bitswap/internal/network"
	"github.com/blocksync/bitswap/internal/wantlist"
)

// kMaxPriority is the highest priority a locally originated want can carry;
// successive keys in one GetBlocks call are assigned kMaxPriority,
// kMaxPriority-1, ... so earlier keys in the batch are preferred by peers
// that can't serve everything at once.
const kMaxPriority = int32(1<<31 - 1)

// WantManager owns the authoritative local wantlist and one messageQueue
// per connected peer, broadcasting wantlist deltas to all of them and the
// full wantlist to any peer that newly connects or on periodic
// rebroadcast.
type WantManager struct {
	incoming   chan []message.Entry
	connect    chan peer.ID
	disconnect chan peer.ID
	peerReqs   chan chan []peer.ID
	wantReqs   chan chan []wantlist.Entry

	peers map[peer.ID]*messageQueue
	wl    *wantlist.Wantlist

	network  network.BitSwapNetwork
	clock    clock.Clock
	debounce time.Duration
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWantManager constructs a WantManager. Callers must call Run in its own
// goroutine and Stop when done.
func NewWantManager(ctx context.Context, net network.BitSwapNetwork, cfg *Config) *WantManager {
	ctx, cancel := context.WithCancel(ctx)
	return &WantManager{
		incoming:   make(chan []message.Entry, 16),
		connect:    make(chan peer.ID, 16),
		disconnect: make(chan peer.ID, 16),
		peerReqs:   make(chan chan []peer.ID),
		wantReqs:   make(chan chan []wantlist.Entry),
		peers:      make(map[peer.ID]*messageQueue),
		wl:         wantlist.New(),
		network:    net,
		clock:      cfg.Clock,
		debounce:   cfg.WantlistSendDebounce,
		interval:   cfg.RebroadcastInterval,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// WantBlocks adds ks to the local wantlist as full-block wants and
// broadcasts the delta to every connected peer.
func (wm *WantManager) WantBlocks(ctx context.Context, ks []cid.Cid) {
	wm.addEntries(ctx, ks, false, wantlist.WantBlock)
}

// WantHaves adds ks to the local wantlist as HAVE-only wants.
func (wm *WantManager) WantHaves(ctx context.Context, ks []cid.Cid) {
	wm.addEntries(ctx, ks, false, wantlist.WantHave)
}

// CancelWants drops one reference to each of ks in the local wantlist and
// broadcasts CANCEL entries for those whose last reference was dropped.
func (wm *WantManager) CancelWants(ks []cid.Cid) {
	wm.addEntries(context.Background(), ks, true, wantlist.WantBlock)
}

func (wm *WantManager) addEntries(ctx context.Context, ks []cid.Cid, cancel bool, wtype wantlist.WantType) {
	entries := make([]message.Entry, 0, len(ks))
	for i, k := range ks {
		entries = append(entries, message.Entry{
			Cid:          k,
			Priority:     kMaxPriority - int32(i),
			Cancel:       cancel,
			WantType:     wtype,
			SendDontHave: true,
		})
	}
	select {
	case wm.incoming <- entries:
	case <-ctx.Done():
	case <-wm.ctx.Done():
	}
}

// ConnectedPeers returns every peer the WantManager currently holds a
// message queue for.
func (wm *WantManager) ConnectedPeers() []peer.ID {
	resp := make(chan []peer.ID)
	select {
	case wm.peerReqs <- resp:
	case <-wm.ctx.Done():
		return nil
	}
	return <-resp
}

// CurrentWants returns a snapshot of the local wantlist, sorted
// deterministically. The snapshot is taken by the Run loop itself, so
// callers never observe a half-applied update.
func (wm *WantManager) CurrentWants() []wantlist.Entry {
	resp := make(chan []wantlist.Entry)
	select {
	case wm.wantReqs <- resp:
	case <-wm.ctx.Done():
		return nil
	}
	return <-resp
}

// Connected notifies the WantManager that p is reachable; it starts (or
// refcounts) a message queue for p and primes it with the full wantlist.
func (wm *WantManager) Connected(p peer.ID) {
	select {
	case wm.connect <- p:
	case <-wm.ctx.Done():
	}
}

// Disconnected notifies the WantManager that p is no longer reachable.
func (wm *WantManager) Disconnected(p peer.ID) {
	select {
	case wm.disconnect <- p:
	case <-wm.ctx.Done():
	}
}

// Stop tears down every message queue and the Run loop.
func (wm *WantManager) Stop() {
	wm.cancel()
}

func (wm *WantManager) startPeerHandler(p peer.ID) {
	if mq, ok := wm.peers[p]; ok {
		mq.refcnt++
		return
	}
	mq := newMessageQueue(p, wm.network, wm.clock, wm.debounce)
	wm.peers[p] = mq
	mq.setFullWantlist(entriesFromWantlist(wm.wl.SortedEntries()))
	go mq.run(wm.ctx)
}

func (wm *WantManager) stopPeerHandler(p peer.ID) {
	mq, ok := wm.peers[p]
	if !ok {
		return
	}
	mq.refcnt--
	if mq.refcnt > 0 {
		return
	}
	mq.stop()
	delete(wm.peers, p)
}

func entriesFromWantlist(es []wantlist.Entry) []message.Entry {
	out := make([]message.Entry, 0, len(es))
	for _, e := range es {
		out = append(out, message.Entry{
			Cid:          e.Cid,
			Priority:     e.Priority,
			WantType:     e.WantType,
			SendDontHave: true,
		})
	}
	return out
}

// Run drives the WantManager's event loop. Call it in its own goroutine;
// it returns when Stop is called or the parent context passed to
// NewWantManager is done.
func (wm *WantManager) Run() {
	ticker := wm.clock.Ticker(wm.interval)
	defer ticker.Stop()
	// drainConnects applies every Connected call already queued, so a
	// Connected call made before a wantlist change or a Disconnected call
	// is applied first.
	drainConnects := func() {
		for {
			select {
			case p := <-wm.connect:
				wm.startPeerHandler(p)
			default:
				return
			}
		}
	}
	for {
		select {
		case entries := <-wm.incoming:
			drainConnects()
			out := make([]message.Entry, 0, len(entries))
			for _, e := range entries {
				if e.Cancel {
					if !wm.wl.Remove(e.Cid) {
						continue // still wanted, or not wanted at all
					}
				} else {
					wm.wl.Add(e.Cid, e.Priority, e.WantType)
				}
				out = append(out, e)
			}
			for _, mq := range wm.peers {
				mq.addEntries(out)
			}

		case <-ticker.C:
			full := entriesFromWantlist(wm.wl.SortedEntries())
			for _, mq := range wm.peers {
				mq.setFullWantlist(full)
			}

		case p := <-wm.connect:
			wm.startPeerHandler(p)

		case p := <-wm.disconnect:
			drainConnects()
			wm.stopPeerHandler(p)

		case req := <-wm.wantReqs:
			req <- wm.wl.SortedEntries()

		case req := <-wm.peerReqs:
			peers := make([]peer.ID, 0, len(wm.peers))
			for p := range wm.peers {
				peers = append(peers, p)
			}
			req <- peers

		case <-wm.ctx.Done():
			return
		}
	}
}
