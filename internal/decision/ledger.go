package decision

import (
	"sync"
	"time"

	peer "github.com/libp2p/go-libp2p/core/peer"

	"github.com/blocksync/bitswap/internal/wantlist"
)

// ledger stores the data-exchange relationship with one remote peer: the
// bytes sent/received accounting and our view of that peer's wantlist.
// Not threadsafe on its own; callers hold the engine's lock.
type ledger struct {
	Partner peer.ID

	Accounting debtRatio

	firstExchange time.Time
	lastExchange  time.Time
	exchangeCount uint64

	// wantlist is a view of the keys Partner wants from us.
	wantlist *wantlist.Wantlist

	lk sync.Mutex
}

func newLedger(p peer.ID) *ledger {
	return &ledger{
		Partner:  p,
		wantlist: wantlist.New(),
	}
}

// Receipt is an external-facing snapshot of a ledger, returned by
// Engine.LedgerReceipt.
type Receipt struct {
	Peer      string
	Value     float64
	Sent      uint64
	Recv      uint64
	Exchanged uint64
}

type debtRatio struct {
	BytesSent uint64
	BytesRecv uint64
}

// Value is the debt ratio: bytes sent over bytes received plus one.
func (dr *debtRatio) Value() float64 {
	return float64(dr.BytesSent) / float64(dr.BytesRecv+1)
}

func (l *ledger) SentBytes(n int) {
	l.exchangeCount++
	l.lastExchange = time.Now()
	l.Accounting.BytesSent += uint64(n)
}

func (l *ledger) ReceivedBytes(n int) {
	l.exchangeCount++
	l.lastExchange = time.Now()
	l.Accounting.BytesRecv += uint64(n)
}

func (l *ledger) Receipt() *Receipt {
	return &Receipt{
		Peer:      l.Partner.String(),
		Value:     l.Accounting.Value(),
		Sent:      l.Accounting.BytesSent,
		Recv:      l.Accounting.BytesRecv,
		Exchanged: l.exchangeCount,
	}
}
