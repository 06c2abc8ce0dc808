package bitswap

import (
	"context"

	"github.com/blocksync/bitswap/internal/decision"
)

// taskWorker drains the decision engine's outbox and ships each envelope
// over the network, recording sent-bytes accounting on both the ledger
// (via engine.MessageSent) and the local Stat counters.
func (bs *Bitswap) taskWorker(ctx context.Context) {
	defer log.Debug("bitswap task worker shutting down")
	for {
		select {
		case <-ctx.Done():
			return
		case envelope, ok := <-bs.engine.Outbox():
			if !ok {
				return
			}
			bs.sendEnvelope(ctx, envelope)
		}
	}
}

func (bs *Bitswap) sendEnvelope(ctx context.Context, env decision.Envelope) {
	if err := bs.network.SendMessage(ctx, env.Peer, env.Message); err != nil {
		log.Debugf("taskWorker: send to %s failed: %s", env.Peer, err)
		return
	}
	bs.engine.MessageSent(env.Peer, env.Message)

	var n uint64
	for _, b := range env.Message.Blocks() {
		n += uint64(len(b.RawData()))
	}
	bs.counterLk.Lock()
	bs.blocksSent += uint64(len(env.Message.Blocks()))
	bs.dataSent += n
	bs.counterLk.Unlock()
}
