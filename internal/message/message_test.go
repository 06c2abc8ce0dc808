package message

import (
	"testing"

	blocks "github.com/ipfs/go-block-format"
	cid "github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/require"

	"github.com/blocksync/bitswap/internal/wantlist"
)

func rawBlock(t *testing.T, data string) blocks.Block {
	h, err := multihash.Sum([]byte(data), multihash.SHA2_256, -1)
	require.NoError(t, err)
	c := cid.NewCidV1(cid.Raw, h)
	b, err := blocks.NewBlockWithCid([]byte(data), c)
	require.NoError(t, err)
	return b
}

func TestEmpty(t *testing.T) {
	m := New(false)
	require.True(t, m.Empty())
	m.AddEntry(rawBlock(t, "x").Cid(), 1, wantlist.WantBlock, false)
	require.False(t, m.Empty())
}

func TestAddEntryDeduplicates(t *testing.T) {
	m := New(false)
	c := rawBlock(t, "x").Cid()
	m.AddEntry(c, 1, wantlist.WantBlock, false)
	m.AddEntry(c, 5, wantlist.WantHave, true)
	require.Len(t, m.Wantlist(), 1)
	require.EqualValues(t, 5, m.Wantlist()[0].Priority)
}

func TestRoundTripCurrent(t *testing.T) {
	original := New(true)
	b1 := rawBlock(t, "hello")
	b2 := rawBlock(t, "world")
	original.AddEntry(b1.Cid(), 3, wantlist.WantBlock, false)
	original.AddEntry(b2.Cid(), 1, wantlist.WantHave, true)
	original.Cancel(rawBlock(t, "gone").Cid())
	original.AddBlock(b1)
	original.AddHave(b2.Cid())
	original.AddDontHave(rawBlock(t, "missing").Cid())
	original.SetPendingBytes(42)

	wire, err := original.Marshal(ProtocolV1_1_0)
	require.NoError(t, err)

	decoded, err := FromBytes(wire, ProtocolV1_1_0, nil)
	require.NoError(t, err)

	require.True(t, decoded.Full())
	require.EqualValues(t, 42, decoded.PendingBytes())
	require.Len(t, decoded.Wantlist(), 3)
	require.Len(t, decoded.Blocks(), 1)
	require.True(t, decoded.Blocks()[0].Cid().Equals(b1.Cid()))
	require.Equal(t, b1.RawData(), decoded.Blocks()[0].RawData())
	require.Len(t, decoded.BlockPresences(), 2)
}

func TestRoundTripLegacyLosesWantTypeAndPresences(t *testing.T) {
	h, err := multihash.Sum([]byte("hello"), multihash.SHA2_256, -1)
	require.NoError(t, err)
	c := cid.NewCidV0(h)

	original := New(false)
	original.AddEntry(c, 7, wantlist.WantHave, false)
	b, err := blocks.NewBlockWithCid([]byte("hello"), c)
	require.NoError(t, err)
	original.AddBlock(b)
	original.AddHave(c)

	wire, err := original.Marshal(ProtocolV1_0_0)
	require.NoError(t, err)

	decoded, err := FromBytes(wire, ProtocolV1_0_0, nil)
	require.NoError(t, err)

	require.Len(t, decoded.Wantlist(), 1)
	require.True(t, decoded.Wantlist()[0].Cid.Equals(c))
	require.EqualValues(t, 7, decoded.Wantlist()[0].Priority)
	require.Equal(t, wantlist.WantBlock, decoded.Wantlist()[0].WantType)
	require.Len(t, decoded.Blocks(), 1)
	require.True(t, decoded.Blocks()[0].Cid().Equals(c))
	require.Empty(t, decoded.BlockPresences())
}

func TestFromBytesMalformedIsFormatError(t *testing.T) {
	_, err := FromBytes([]byte{0xff, 0xff, 0xff}, ProtocolV1_1_0, nil)
	require.ErrorIs(t, err, ErrFormat)
}

func TestFromBytesCidMismatchOnBadPrefixLength(t *testing.T) {
	data := []byte("payload")
	h, err := multihash.Sum(data, multihash.SHA2_256, -1)
	require.NoError(t, err)
	c := cid.NewCidV1(cid.Raw, h)
	b, err := blocks.NewBlockWithCid(data, c)
	require.NoError(t, err)

	m := New(false)
	m.AddBlock(b)
	wire, err := m.Marshal(ProtocolV1_1_0)
	require.NoError(t, err)

	// decode with a hash loader whose 16-byte digest disagrees with the
	// 32-byte sha2-256 length the prefix declares.
	badLoader := func(code uint64, data []byte) (multihash.Multihash, error) {
		return multihash.Encode(make([]byte, 16), code)
	}
	_, err = FromBytes(wire, ProtocolV1_1_0, badLoader)
	require.ErrorIs(t, err, ErrCidMismatch)
}
