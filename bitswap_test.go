package bitswap

import (
	"context"
	"testing"
	"time"

	blocks "github.com/ipfs/go-block-format"
	cid "github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/test"
	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/require"

	"github.com/blocksync/bitswap/internal/blockstore/memstore"
	"github.com/blocksync/bitswap/internal/network/testnet"
)

func block(t *testing.T, data string) blocks.Block {
	h, err := multihash.Sum([]byte(data), multihash.SHA2_256, -1)
	require.NoError(t, err)
	c := cid.NewCidV1(cid.Raw, h)
	b, err := blocks.NewBlockWithCid([]byte(data), c)
	require.NoError(t, err)
	return b
}

func newSessionID(t *testing.T) peer.ID {
	p, err := test.RandPeerID()
	require.NoError(t, err)
	return p
}

// fixture wires one virtual network, one shared mock router, and N
// coordinators, each with its own store and identity.
type fixture struct {
	net  testnet.Network
	bs   []*Bitswap
	self []peer.ID
}

func newFixture(t *testing.T, n int) *fixture {
	t.Helper()
	router := testnet.NewMockRouter()
	net := testnet.VirtualNetwork(router, 0)

	f := &fixture{net: net}
	for i := 0; i < n; i++ {
		p := newSessionID(t)
		adapter := net.Adapter(p)
		bs := New(context.Background(), p, adapter, memstore.New(),
			WithRebroadcastInterval(time.Hour), // keep tests from racing the ticker
			WithWantlistSendDebounce(5*time.Millisecond),
		)
		f.bs = append(f.bs, bs)
		f.self = append(f.self, p)
	}
	return f
}

func (f *fixture) connect(t *testing.T, i, j int) {
	t.Helper()
	require.NoError(t, f.bs[i].network.Connect(context.Background(), f.self[j]))
}

func (f *fixture) close() {
	for _, bs := range f.bs {
		bs.Close()
	}
}

func TestGetBlockFetchesFromConnectedPeer(t *testing.T) {
	f := newFixture(t, 2)
	defer f.close()

	b := block(t, "hello-world")
	require.NoError(t, f.bs[1].HasBlock(context.Background(), b))

	f.connect(t, 0, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	got, err := f.bs[0].GetBlock(ctx, b.Cid())
	require.NoError(t, err)
	require.Equal(t, b.RawData(), got.RawData())
}

func TestGetBlockTimesOutWithNoProvider(t *testing.T) {
	f := newFixture(t, 1)
	defer f.close()

	missing := block(t, "never-exists")
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := f.bs[0].GetBlock(ctx, missing.Cid())
	require.Error(t, err)
}

func TestHasBlockStopsWantingLocally(t *testing.T) {
	f := newFixture(t, 2)
	defer f.close()
	f.connect(t, 0, 1)

	b := block(t, "arrives-later")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		got, err := f.bs[0].GetBlock(ctx, b.Cid())
		require.NoError(t, err)
		require.Equal(t, b.RawData(), got.RawData())
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, f.bs[1].HasBlock(context.Background(), b))

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("GetBlock never completed")
	}
}

func TestUnwantFailsPendingGetter(t *testing.T) {
	f := newFixture(t, 1)
	defer f.close()

	missing := block(t, "never-arrives-and-is-unwanted")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		_, err := f.bs[0].GetBlock(ctx, missing.Cid())
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	f.bs[0].Unwant(missing.Cid())

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrUnwanted)
	case <-time.After(3 * time.Second):
		t.Fatal("GetBlock never returned after Unwant")
	}

	for _, e := range f.bs[0].wantManager.CurrentWants() {
		require.False(t, e.Cid.Equals(missing.Cid()), "wantlist should no longer contain the unwanted cid")
	}
}

// TestDoubleGetBothResolve exercises two concurrent getters for one CID:
// a single local HasBlock must resolve both with identical bytes, and the
// want must be gone afterwards.
func TestDoubleGetBothResolve(t *testing.T) {
	f := newFixture(t, 1)
	defer f.close()

	b := block(t, "wanted-twice")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	results := make(chan []byte, 2)
	for i := 0; i < 2; i++ {
		go func() {
			got, err := f.bs[0].GetBlock(ctx, b.Cid())
			if err != nil {
				results <- nil
				return
			}
			results <- got.RawData()
		}()
	}

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, f.bs[0].HasBlock(context.Background(), b))

	for i := 0; i < 2; i++ {
		select {
		case data := <-results:
			require.Equal(t, b.RawData(), data)
		case <-time.After(3 * time.Second):
			t.Fatal("a getter never resolved")
		}
	}

	require.Empty(t, f.bs[0].wantManager.CurrentWants())
}

// TestLedgersAgreeOnExchange checks both ends of one block transfer: the
// sender's ledger records the bytes as sent, the receiver's as received,
// and both equal the block's length.
func TestLedgersAgreeOnExchange(t *testing.T) {
	f := newFixture(t, 2)
	defer f.close()
	f.connect(t, 0, 1)

	b := block(t, "accounted-on-both-ends")
	require.NoError(t, f.bs[1].HasBlock(context.Background(), b))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err := f.bs[0].GetBlock(ctx, b.Cid())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return f.bs[1].engine.LedgerReceipt(f.self[0]).Sent == uint64(len(b.RawData()))
	}, 2*time.Second, 10*time.Millisecond, "sender never recorded sent bytes")

	recv := f.bs[0].engine.LedgerReceipt(f.self[1])
	require.EqualValues(t, len(b.RawData()), recv.Recv)
}

func TestStatReportsTraffic(t *testing.T) {
	f := newFixture(t, 2)
	defer f.close()
	f.connect(t, 0, 1)

	b := block(t, "stat-me")
	require.NoError(t, f.bs[1].HasBlock(context.Background(), b))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err := f.bs[0].GetBlock(ctx, b.Cid())
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	recvStat, err := f.bs[0].Stat()
	require.NoError(t, err)
	require.EqualValues(t, 1, recvStat.BlocksReceived)

	sentStat, err := f.bs[1].Stat()
	require.NoError(t, err)
	require.EqualValues(t, 1, sentStat.BlocksSent)
}
