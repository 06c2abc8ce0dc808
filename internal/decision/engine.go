// Package decision implements the bitswap decision engine: for each remote
// peer it maintains a wantlist-and-ledger view and produces outbound block
// responses honoring priority and per-peer fairness.
package decision

import (
	"context"
	"sync"

	blocks "github.com/ipfs/go-block-format"
	cid "github.com/ipfs/go-cid"
	peer "github.com/libp2p/go-libp2p/core/peer"

	logging "github.com/ipfs/go-log/v2"
	peertaskqueue "github.com/ipfs/go-peertaskqueue"
	"github.com/ipfs/go-peertaskqueue/peertask"

	"github.com/blocksync/bitswap/internal/blockstore"
	"github.com/blocksync/bitswap/internal/message"
	"github.com/blocksync/bitswap/internal/wantlist"
)

var log = logging.Logger("bitswap/decision")

const (
	// taskWorkerCount is the number of goroutines pulling tasks off the
	// shared peer task queue; work for distinct peers proceeds
	// concurrently, but the underlying queue never hands out two tasks
	// for the same peer at once.
	taskWorkerCount = 8

	// outboxBuffer keeps the outbox small so a burst of ready tasks
	// doesn't unboundedly queue finished envelopes.
	outboxBuffer = 4
)

// Envelope carries one outbound message destined for Peer.
type Envelope struct {
	Peer    peer.ID
	Message *message.Message
}

// taskData is attached to each peertask.Task so the worker doesn't need to
// re-derive it from the topic alone. Built fresh from whichever entry type
// triggered the push (message.Entry on receipt, wantlist.Entry on replay).
type taskData struct {
	cid          cid.Cid
	wantType     wantlist.WantType
	sendDontHave bool
}

// Engine is the decision engine. One Engine instance serves every peer the
// local node is exchanging with.
type Engine struct {
	taskQueue  *peertaskqueue.PeerTaskQueue
	workSignal chan struct{}
	outbox     chan Envelope

	store blockstore.Blockstore

	lock      sync.RWMutex
	ledgerMap map[peer.ID]*ledger

	cancel context.CancelFunc
}

// NewEngine constructs an Engine over the given block store and starts its
// task worker pool. workerCount <= 0 falls back to taskWorkerCount. Callers
// must call Close when done.
func NewEngine(ctx context.Context, store blockstore.Blockstore, workerCount int) *Engine {
	if workerCount <= 0 {
		workerCount = taskWorkerCount
	}
	ctx, cancel := context.WithCancel(ctx)
	e := &Engine{
		taskQueue:  peertaskqueue.New(),
		workSignal: make(chan struct{}, 1),
		outbox:     make(chan Envelope, outboxBuffer),
		store:      store,
		ledgerMap:  make(map[peer.ID]*ledger),
		cancel:     cancel,
	}
	for i := 0; i < workerCount; i++ {
		go e.taskWorker(ctx)
	}
	return e
}

// Close stops the engine's task workers. Ledgers are retained in memory
// for the caller to inspect but no further work is dispatched.
func (e *Engine) Close() {
	e.cancel()
}

// Outbox is the channel of outbound envelopes the coordinator should send.
func (e *Engine) Outbox() <-chan Envelope {
	return e.outbox
}

// Peers returns every peer with an active ledger.
func (e *Engine) Peers() []peer.ID {
	e.lock.RLock()
	defer e.lock.RUnlock()
	out := make([]peer.ID, 0, len(e.ledgerMap))
	for p := range e.ledgerMap {
		out = append(out, p)
	}
	return out
}

// WantlistForPeer returns our view of p's wantlist, sorted deterministically.
func (e *Engine) WantlistForPeer(p peer.ID) []wantlist.Entry {
	e.lock.RLock()
	defer e.lock.RUnlock()
	l, ok := e.ledgerMap[p]
	if !ok {
		return nil
	}
	return l.wantlist.SortedEntries()
}

// LedgerReceipt returns a snapshot of p's accounting.
func (e *Engine) LedgerReceipt(p peer.ID) *Receipt {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.findOrCreate(p).Receipt()
}

// findOrCreate requires e.lock to be held (read or write; it only mutates
// on the write path, callers taking RLock must already know p exists).
func (e *Engine) findOrCreate(p peer.ID) *ledger {
	l, ok := e.ledgerMap[p]
	if !ok {
		l = newLedger(p)
		e.ledgerMap[p] = l
	}
	return l
}

// PeerConnected ensures a ledger exists for p. Ledgers are cumulative and
// are never torn down on disconnect; only the readiness to dispatch tasks
// for p is.
func (e *Engine) PeerConnected(p peer.ID) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.findOrCreate(p)
}

// PeerDisconnected drops p's wantlist and any queued tasks for it. The
// accounting half of the ledger, being cumulative, survives so a
// reconnecting peer's debt ratio carries over.
func (e *Engine) PeerDisconnected(p peer.ID) {
	e.lock.Lock()
	defer e.lock.Unlock()
	l, ok := e.ledgerMap[p]
	if !ok {
		return
	}
	for _, entry := range l.wantlist.Entries() {
		e.taskQueue.Remove(entry.Cid.KeyString(), p)
		l.wantlist.RemoveForce(entry.Cid)
	}
}

// MessageReceived performs bookkeeping and enqueues tasks to satisfy as
// much of the peer's wantlist as the local store can. It returns the
// blocks carried by msg for the coordinator to write to the store and
// resolve waiters with.
func (e *Engine) MessageReceived(p peer.ID, msg *message.Message) []blocks.Block {
	e.lock.Lock()
	l := e.findOrCreate(p)

	for _, b := range msg.Blocks() {
		l.ReceivedBytes(len(b.RawData()))
	}

	if msg.Full() {
		l.wantlist = wantlist.New()
	}

	var newWork bool
	var toPush []peertask.Task
	for _, entry := range msg.Wantlist() {
		if entry.Cancel {
			if l.wantlist.RemoveForce(entry.Cid) {
				e.taskQueue.Remove(entry.Cid.KeyString(), p)
			}
			continue
		}
		l.wantlist.Add(entry.Cid, entry.Priority, entry.WantType)
		newWork = true
		toPush = append(toPush, peertask.Task{
			Topic:    entry.Cid.KeyString(),
			Priority: int(entry.Priority),
			Work:     1,
			Data: taskData{
				cid:          entry.Cid,
				wantType:     entry.WantType,
				sendDontHave: entry.SendDontHave,
			},
		})
	}
	e.lock.Unlock()

	if len(toPush) > 0 {
		e.taskQueue.PushTasks(p, toPush...)
	}
	if newWork {
		e.signalWork()
	}

	return msg.Blocks()
}

// MessageSent records bytes sent to p for each block in msg and removes any
// matching entries from our view of p's wantlist, since msg already
// satisfies them.
func (e *Engine) MessageSent(p peer.ID, msg *message.Message) {
	e.lock.Lock()
	defer e.lock.Unlock()
	l := e.findOrCreate(p)
	for _, b := range msg.Blocks() {
		l.SentBytes(len(b.RawData()))
		l.wantlist.RemoveForce(b.Cid())
		e.taskQueue.Remove(b.Cid().KeyString(), p)
	}
}

// NotifyNewBlock wakes any peer's queued task for c. The coordinator
// calls it after a local Put makes c available, so a peer who wanted it
// before we had it gets served now.
func (e *Engine) NotifyNewBlock(c cid.Cid) {
	e.lock.RLock()
	var toPush []struct {
		p peer.ID
		t peertask.Task
	}
	for p, l := range e.ledgerMap {
		if entry, ok := l.wantlist.Contains(c); ok {
			toPush = append(toPush, struct {
				p peer.ID
				t peertask.Task
			}{p, peertask.Task{
				Topic:    entry.Cid.KeyString(),
				Priority: int(entry.Priority),
				Work:     1,
				Data: taskData{
					cid:          entry.Cid,
					wantType:     entry.WantType,
					sendDontHave: false,
				},
			}})
		}
	}
	e.lock.RUnlock()

	if len(toPush) == 0 {
		return
	}
	for _, item := range toPush {
		e.taskQueue.PushTasks(item.p, item.t)
	}
	e.signalWork()
}

func (e *Engine) signalWork() {
	select {
	case e.workSignal <- struct{}{}:
	default:
	}
}

func (e *Engine) taskWorker(ctx context.Context) {
	for {
		p, tasks, _ := e.taskQueue.PopTasks(1)
		if len(tasks) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-e.workSignal:
			}
			continue
		}
		msg := message.New(false)
		for _, t := range tasks {
			td, ok := t.Data.(taskData)
			if !ok {
				continue
			}
			c := td.cid
			has, err := e.store.Has(ctx, c)
			if err != nil {
				log.Debugf("store.Has(%s): %s", c, err)
				continue
			}
			if !has {
				if td.sendDontHave {
					msg.AddDontHave(c)
				}
				continue
			}
			if td.wantType == wantlist.WantHave {
				msg.AddHave(c)
				continue
			}
			blk, err := e.store.Get(ctx, c)
			if err != nil {
				log.Debugf("store.Get(%s): %s", c, err)
				continue
			}
			msg.AddBlock(blk)
		}
		e.taskQueue.TasksDone(p, tasks...)
		if msg.Empty() {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case e.outbox <- Envelope{Peer: p, Message: msg}:
		}
	}
}
