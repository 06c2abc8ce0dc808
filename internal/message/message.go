// Package message implements the in-memory representation of a bitswap
// wire message and its two wire-format variants: the legacy v1.0.0 codec
// (raw blocks, CID-v0-only wantlist entries) and the v1.1.0/v1.2.0 codec
// (full CIDs, want-type, block presences, pending-byte accounting).
package message

import (
	"errors"
	"fmt"

	blocks "github.com/ipfs/go-block-format"
	cid "github.com/ipfs/go-cid"
	"github.com/multiformats/go-multicodec"
	"github.com/multiformats/go-multihash"

	pb "github.com/blocksync/bitswap/internal/message/pb"
	"github.com/blocksync/bitswap/internal/wantlist"
)

// ProtocolVersion identifies which of the two wire formats a Message
// serializes to / was parsed from.
type ProtocolVersion int

const (
	ProtocolV1_0_0 ProtocolVersion = iota
	ProtocolV1_1_0
	ProtocolV1_2_0
)

var (
	// ErrFormat is returned for a malformed protobuf payload.
	ErrFormat = errors.New("bitswap message: malformed protobuf")
	// ErrUnsupportedHash is returned when a payload block's CID prefix
	// names a multihash type with no registered hasher.
	ErrUnsupportedHash = errors.New("bitswap message: unsupported hash function")
	// ErrCidMismatch is returned when a payload block's declared prefix
	// is inconsistent with the digest actually produced by hashing its
	// data.
	ErrCidMismatch = errors.New("bitswap message: block does not match its declared cid prefix")
)

// HashLoader computes a multihash digest of data using the given multihash
// code. The default, DefaultHashLoader, delegates to the standard
// multihash table.
type HashLoader func(code uint64, data []byte) (multihash.Multihash, error)

// DefaultHashLoader hashes using whichever hash functions go-multihash
// registers by default (sha2-256 among them, which is all the legacy
// v1.0.0 codec ever needs).
func DefaultHashLoader(code uint64, data []byte) (multihash.Multihash, error) {
	return multihash.Sum(data, code, -1)
}

// BlockPresenceType mirrors pb.BlockPresenceType for callers that don't
// want to import the pb package directly.
type BlockPresenceType int

const (
	Have BlockPresenceType = iota
	DontHave
)

// Entry is a single outgoing/incoming wantlist record.
type Entry struct {
	Cid          cid.Cid
	Priority     int32
	Cancel       bool
	WantType     wantlist.WantType
	SendDontHave bool
}

// BlockPresence is a single have/don't-have announcement.
type BlockPresence struct {
	Cid  cid.Cid
	Type BlockPresenceType
}

// Message is the in-memory representation of a bitswap wire message.
type Message struct {
	full           bool
	wantlist       []Entry
	blocks         []blocks.Block
	blockPresences []BlockPresence
	pendingBytes   int32
}

// New returns an empty message. full marks this as a complete wantlist
// snapshot ("replace what you had") as opposed to a delta.
func New(full bool) *Message {
	return &Message{full: full}
}

func (m *Message) Full() bool { return m.full }

func (m *Message) SetFull(full bool) { m.full = full }

// Empty reports whether the message carries nothing worth sending.
func (m *Message) Empty() bool {
	return len(m.wantlist) == 0 && len(m.blocks) == 0 && len(m.blockPresences) == 0
}

func (m *Message) Wantlist() []Entry { return m.wantlist }

func (m *Message) Blocks() []blocks.Block { return m.blocks }

func (m *Message) BlockPresences() []BlockPresence { return m.blockPresences }

func (m *Message) PendingBytes() int32 { return m.pendingBytes }

func (m *Message) SetPendingBytes(n int32) { m.pendingBytes = n }

// AddEntry appends a want for c. Calling AddEntry for a c already present
// replaces that entry (the message, unlike a Wantlist, carries no
// reference counting of its own).
func (m *Message) AddEntry(c cid.Cid, priority int32, wtype wantlist.WantType, sendDontHave bool) {
	for i, e := range m.wantlist {
		if e.Cid.Equals(c) {
			m.wantlist[i] = Entry{Cid: c, Priority: priority, WantType: wtype, SendDontHave: sendDontHave}
			return
		}
	}
	m.wantlist = append(m.wantlist, Entry{Cid: c, Priority: priority, WantType: wtype, SendDontHave: sendDontHave})
}

// Cancel appends a cancel entry for c, replacing any entry already present
// for c.
func (m *Message) Cancel(c cid.Cid) {
	for i, e := range m.wantlist {
		if e.Cid.Equals(c) {
			m.wantlist[i] = Entry{Cid: c, Cancel: true}
			return
		}
	}
	m.wantlist = append(m.wantlist, Entry{Cid: c, Cancel: true})
}

// AddBlock appends a full block to the outgoing payload.
func (m *Message) AddBlock(b blocks.Block) {
	m.blocks = append(m.blocks, b)
}

// AddHave announces that the local peer has c without sending its bytes.
func (m *Message) AddHave(c cid.Cid) {
	m.blockPresences = append(m.blockPresences, BlockPresence{Cid: c, Type: Have})
}

// AddDontHave announces that the local peer does not have c.
func (m *Message) AddDontHave(c cid.Cid) {
	m.blockPresences = append(m.blockPresences, BlockPresence{Cid: c, Type: DontHave})
}

// Size returns the sum of payload block bytes carried by this message.
func (m *Message) Size() int {
	n := 0
	for _, b := range m.blocks {
		n += len(b.RawData())
	}
	return n
}

// ToProto renders m as the pb wire type appropriate for version.
func (m *Message) ToProto(version ProtocolVersion) (*pb.Message, error) {
	if version == ProtocolV1_0_0 {
		return m.toProtoLegacy()
	}
	return m.toProtoCurrent()
}

func (m *Message) toProtoLegacy() (*pb.Message, error) {
	pbm := &pb.Message{}
	if len(m.wantlist) > 0 || m.full {
		wl := &pb.Message_Wantlist{Full: m.full}
		for _, e := range m.wantlist {
			wl.Entries = append(wl.Entries, &pb.Message_Wantlist_Entry{
				Block:    e.Cid.Hash(),
				Priority: e.Priority,
				Cancel:   e.Cancel,
			})
		}
		pbm.Wantlist = wl
	}
	for _, b := range m.blocks {
		pbm.Blocks = append(pbm.Blocks, b.RawData())
	}
	return pbm, nil
}

func (m *Message) toProtoCurrent() (*pb.Message, error) {
	pbm := &pb.Message{}
	if len(m.wantlist) > 0 || m.full {
		wl := &pb.Message_Wantlist{Full: m.full}
		for _, e := range m.wantlist {
			wt := pb.WantType_Block
			if e.WantType == wantlist.WantHave {
				wt = pb.WantType_Have
			}
			wl.Entries = append(wl.Entries, &pb.Message_Wantlist_Entry{
				Block:        e.Cid.Bytes(),
				Priority:     e.Priority,
				Cancel:       e.Cancel,
				WantType:     wt,
				SendDontHave: e.SendDontHave,
			})
		}
		pbm.Wantlist = wl
	}
	for _, b := range m.blocks {
		pbm.Payload = append(pbm.Payload, &pb.Message_Block{
			Prefix: b.Cid().Prefix().Bytes(),
			Data:   b.RawData(),
		})
	}
	for _, bp := range m.blockPresences {
		t := pb.BlockPresenceType_Have
		if bp.Type == DontHave {
			t = pb.BlockPresenceType_DontHave
		}
		pbm.BlockPresences = append(pbm.BlockPresences, &pb.Message_BlockPresence{
			Cid:  bp.Cid.Bytes(),
			Type: t,
		})
	}
	pbm.PendingBytes = m.pendingBytes
	return pbm, nil
}

// Marshal serializes m to the wire bytes for the given protocol version.
// The caller is responsible for length-prefixing on the stream.
func (m *Message) Marshal(version ProtocolVersion) ([]byte, error) {
	pbm, err := m.ToProto(version)
	if err != nil {
		return nil, err
	}
	return pbm.Marshal()
}

// FromBytes parses the wire bytes of one frame into a Message, using
// hashLoader to validate payload block prefixes against their data
// (nil uses DefaultHashLoader).
func FromBytes(data []byte, version ProtocolVersion, hashLoader HashLoader) (*Message, error) {
	if hashLoader == nil {
		hashLoader = DefaultHashLoader
	}
	pbm := &pb.Message{}
	if err := pbm.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if version == ProtocolV1_0_0 {
		return fromProtoLegacy(pbm)
	}
	return fromProtoCurrent(pbm, hashLoader)
}

func fromProtoLegacy(pbm *pb.Message) (*Message, error) {
	m := &Message{}
	if pbm.Wantlist != nil {
		m.full = pbm.Wantlist.Full
		for _, e := range pbm.Wantlist.Entries {
			c := cid.NewCidV0(multihash.Multihash(e.Block))
			m.wantlist = append(m.wantlist, Entry{
				Cid:      c,
				Priority: e.Priority,
				Cancel:   e.Cancel,
				WantType: wantlist.WantBlock,
			})
		}
	}
	for _, raw := range pbm.Blocks {
		h, err := multihash.Sum(raw, multihash.SHA2_256, -1)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedHash, err)
		}
		b, err := blocks.NewBlockWithCid(raw, cid.NewCidV0(h))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCidMismatch, err)
		}
		m.blocks = append(m.blocks, b)
	}
	return m, nil
}

func fromProtoCurrent(pbm *pb.Message, hashLoader HashLoader) (*Message, error) {
	m := &Message{pendingBytes: pbm.PendingBytes}
	if pbm.Wantlist != nil {
		m.full = pbm.Wantlist.Full
		for _, e := range pbm.Wantlist.Entries {
			c, err := cid.Cast(e.Block)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrFormat, err)
			}
			wt := wantlist.WantBlock
			if e.WantType == pb.WantType_Have {
				wt = wantlist.WantHave
			}
			m.wantlist = append(m.wantlist, Entry{
				Cid:          c,
				Priority:     e.Priority,
				Cancel:       e.Cancel,
				WantType:     wt,
				SendDontHave: e.SendDontHave,
			})
		}
	}
	for _, blk := range pbm.Payload {
		b, err := blockFromPrefixAndData(blk.Prefix, blk.Data, hashLoader)
		if err != nil {
			return nil, err
		}
		m.blocks = append(m.blocks, b)
	}
	for _, bp := range pbm.BlockPresences {
		c, err := cid.Cast(bp.Cid)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFormat, err)
		}
		t := Have
		if bp.Type == pb.BlockPresenceType_DontHave {
			t = DontHave
		}
		m.blockPresences = append(m.blockPresences, BlockPresence{Cid: c, Type: t})
	}
	return m, nil
}

// blockFromPrefixAndData reconstructs a block's CID from a payload entry's
// prefix (version + codec + mh-type + mh-length) and hashes data under the
// declared mh-type, raising ErrUnsupportedHash if no hasher is registered
// for that code and ErrCidMismatch if the digest the hasher produces
// disagrees with the prefix's declared length.
func blockFromPrefixAndData(prefix, data []byte, hashLoader HashLoader) (blocks.Block, error) {
	pfx, err := cid.PrefixFromBytes(prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	digest, err := hashLoader(pfx.MhType, data)
	if err != nil {
		return nil, fmt.Errorf("%w: codec %s: %v", ErrUnsupportedHash, multicodec.Code(pfx.Codec), err)
	}
	decoded, err := multihash.Decode(digest)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if pfx.MhLength >= 0 && decoded.Length != pfx.MhLength {
		return nil, ErrCidMismatch
	}
	c := cid.NewCidV1(pfx.Codec, digest)
	b, err := blocks.NewBlockWithCid(data, c)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCidMismatch, err)
	}
	return b, nil
}
