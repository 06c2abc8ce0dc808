package bitswap

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/blocksync/bitswap/internal/message"
	"github.com/blocksync/bitswap/internal/network"
)

// messageQueue batches wantlist changes for one peer and flushes them as a
// single message after a debounce window, so a burst of WantBlocks /
// CancelWants calls costs one wire message instead of many.
type messageQueue struct {
	p        peer.ID
	network  network.BitSwapNetwork
	clock    clock.Clock
	debounce time.Duration

	outlk sync.Mutex
	out   *message.Message

	work chan struct{}
	done chan struct{}

	refcnt int
}

func newMessageQueue(p peer.ID, net network.BitSwapNetwork, cl clock.Clock, debounce time.Duration) *messageQueue {
	return &messageQueue{
		p:        p,
		network:  net,
		clock:    cl,
		debounce: debounce,
		work:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		refcnt:   1,
	}
}

// addEntries merges entries into the pending outbound message and signals
// the run loop to start a debounce window. The window is not restarted by
// later calls: entries added before it ends go out in the same message.
func (mq *messageQueue) addEntries(entries []message.Entry) {
	mq.outlk.Lock()
	if mq.out == nil {
		mq.out = message.New(false)
	}
	for _, e := range entries {
		if e.Cancel {
			mq.out.Cancel(e.Cid)
		} else {
			mq.out.AddEntry(e.Cid, e.Priority, e.WantType, e.SendDontHave)
		}
	}
	mq.outlk.Unlock()

	select {
	case mq.work <- struct{}{}:
	default:
	}
}

// setFullWantlist replaces the pending outbound message with a full
// snapshot, used on first connect and periodic rebroadcast.
func (mq *messageQueue) setFullWantlist(entries []message.Entry) {
	m := message.New(true)
	for _, e := range entries {
		m.AddEntry(e.Cid, e.Priority, e.WantType, e.SendDontHave)
	}
	mq.outlk.Lock()
	mq.out = m
	mq.outlk.Unlock()

	select {
	case mq.work <- struct{}{}:
	default:
	}
}

func (mq *messageQueue) run(ctx context.Context) {
	for {
		select {
		case <-mq.work:
			mq.debounceAndSend(ctx)
		case <-mq.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (mq *messageQueue) debounceAndSend(ctx context.Context) {
	timer := mq.clock.Timer(mq.debounce)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-mq.done:
		return
	case <-ctx.Done():
		return
	}

	mq.outlk.Lock()
	m := mq.out
	mq.out = nil
	mq.outlk.Unlock()

	if m == nil || m.Empty() {
		return
	}

	conctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	err := mq.network.Connect(conctx, mq.p)
	cancel()
	if err != nil {
		log.Debugf("messagequeue: cannot connect to %s: %s", mq.p, err)
		return
	}

	sendctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	if err := mq.network.SendMessage(sendctx, mq.p, m); err != nil {
		log.Debugf("messagequeue: send to %s failed: %s", mq.p, err)
	}
}

func (mq *messageQueue) stop() {
	close(mq.done)
}
