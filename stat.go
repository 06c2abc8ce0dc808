package bitswap

import (
	"fmt"
	"sort"

	humanize "github.com/dustin/go-humanize"
	cid "github.com/ipfs/go-cid"
)

// Stat is a point-in-time snapshot of the exchange's activity.
type Stat struct {
	Wantlist        []cid.Cid
	Peers           []string
	BlocksReceived  uint64
	DataReceived    uint64
	DupBlksReceived uint64
	DupDataReceived uint64
	BlocksSent      uint64
	DataSent        uint64
}

// String renders a Stat with human-readable byte counts.
func (st *Stat) String() string {
	return fmt.Sprintf(
		"wantlist: %d peers: %d\n"+
			"received: %d blocks (%s), %d duplicate (%s)\n"+
			"sent:     %d blocks (%s)",
		len(st.Wantlist), len(st.Peers),
		st.BlocksReceived, humanize.Bytes(st.DataReceived),
		st.DupBlksReceived, humanize.Bytes(st.DupDataReceived),
		st.BlocksSent, humanize.Bytes(st.DataSent),
	)
}

// Stat gathers a fresh snapshot of the exchange's wantlist, the peers the
// decision engine holds a ledger for (ledgers are kept after a peer
// disconnects, so this includes peers no longer connected), and cumulative
// traffic counters.
func (bs *Bitswap) Stat() (*Stat, error) {
	entries := bs.wantManager.CurrentWants()
	wl := make([]cid.Cid, 0, len(entries))
	for _, e := range entries {
		wl = append(wl, e.Cid)
	}
	st := &Stat{Wantlist: wl}

	bs.counterLk.Lock()
	st.BlocksReceived = bs.blocksRecvd
	st.DataReceived = bs.dataRecvd
	st.DupBlksReceived = bs.dupBlocksRecvd
	st.DupDataReceived = bs.dupDataRecvd
	st.BlocksSent = bs.blocksSent
	st.DataSent = bs.dataSent
	bs.counterLk.Unlock()

	for _, p := range bs.engine.Peers() {
		st.Peers = append(st.Peers, p.String())
	}
	sort.Strings(st.Peers)

	return st, nil
}
