// Package pb holds the wire schema for bitswap messages (see message.proto)
// and a hand-written protowire codec for it. There is no protoc toolchain
// in this build environment, so this file plays the role a
// protoc-gen-go-generated file normally would; keep it in sync with
// message.proto by hand.
package pb

import (
	"google.golang.org/protobuf/encoding/protowire"
)

type WantType int32

const (
	WantType_Block WantType = 0
	WantType_Have  WantType = 1
)

type BlockPresenceType int32

const (
	BlockPresenceType_Have     BlockPresenceType = 0
	BlockPresenceType_DontHave BlockPresenceType = 1
)

type Message struct {
	Wantlist       *Message_Wantlist
	Blocks         [][]byte
	Payload        []*Message_Block
	BlockPresences []*Message_BlockPresence
	PendingBytes   int32
}

type Message_Wantlist struct {
	Entries []*Message_Wantlist_Entry
	Full    bool
}

type Message_Wantlist_Entry struct {
	Block        []byte
	Priority     int32
	Cancel       bool
	WantType     WantType
	SendDontHave bool
}

type Message_Block struct {
	Prefix []byte
	Data   []byte
}

type Message_BlockPresence struct {
	Cid  []byte
	Type BlockPresenceType
}

const (
	fieldMessageWantlist       protowire.Number = 1
	fieldMessageBlocks         protowire.Number = 2
	fieldMessagePayload        protowire.Number = 3
	fieldMessageBlockPresences protowire.Number = 4
	fieldMessagePendingBytes   protowire.Number = 5
	fieldWantlistEntries       protowire.Number = 1
	fieldWantlistFull          protowire.Number = 2
	fieldEntryBlock            protowire.Number = 1
	fieldEntryPriority         protowire.Number = 2
	fieldEntryCancel           protowire.Number = 3
	fieldEntryWantType         protowire.Number = 4
	fieldEntrySendDontHave     protowire.Number = 5
	fieldBlockPrefix           protowire.Number = 1
	fieldBlockData             protowire.Number = 2
	fieldBlockPresenceCid      protowire.Number = 1
	fieldBlockPresenceType     protowire.Number = 2
)

// Marshal encodes m as a protobuf message.
func (m *Message) Marshal() ([]byte, error) {
	var b []byte
	if m.Wantlist != nil {
		wl, err := m.Wantlist.Marshal()
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, fieldMessageWantlist, protowire.BytesType)
		b = protowire.AppendBytes(b, wl)
	}
	for _, blk := range m.Blocks {
		b = protowire.AppendTag(b, fieldMessageBlocks, protowire.BytesType)
		b = protowire.AppendBytes(b, blk)
	}
	for _, p := range m.Payload {
		pb, err := p.Marshal()
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, fieldMessagePayload, protowire.BytesType)
		b = protowire.AppendBytes(b, pb)
	}
	for _, bp := range m.BlockPresences {
		bpb, err := bp.Marshal()
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, fieldMessageBlockPresences, protowire.BytesType)
		b = protowire.AppendBytes(b, bpb)
	}
	if m.PendingBytes != 0 {
		b = protowire.AppendTag(b, fieldMessagePendingBytes, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(uint32(m.PendingBytes)))
	}
	return b, nil
}

// Unmarshal decodes data into m, which is reset to zero value first.
func (m *Message) Unmarshal(data []byte) error {
	*m = Message{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]
		switch num {
		case fieldMessageWantlist:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			wl := &Message_Wantlist{}
			if err := wl.Unmarshal(v); err != nil {
				return err
			}
			m.Wantlist = wl
			data = data[n:]
		case fieldMessageBlocks:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			m.Blocks = append(m.Blocks, append([]byte(nil), v...))
			data = data[n:]
		case fieldMessagePayload:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			blk := &Message_Block{}
			if err := blk.Unmarshal(v); err != nil {
				return err
			}
			m.Payload = append(m.Payload, blk)
			data = data[n:]
		case fieldMessageBlockPresences:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			bp := &Message_BlockPresence{}
			if err := bp.Unmarshal(v); err != nil {
				return err
			}
			m.BlockPresences = append(m.BlockPresences, bp)
			data = data[n:]
		case fieldMessagePendingBytes:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			m.PendingBytes = int32(uint32(v))
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	return nil
}

func (w *Message_Wantlist) Marshal() ([]byte, error) {
	var b []byte
	for _, e := range w.Entries {
		eb, err := e.Marshal()
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, fieldWantlistEntries, protowire.BytesType)
		b = protowire.AppendBytes(b, eb)
	}
	if w.Full {
		b = protowire.AppendTag(b, fieldWantlistFull, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	return b, nil
}

func (w *Message_Wantlist) Unmarshal(data []byte) error {
	*w = Message_Wantlist{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]
		switch num {
		case fieldWantlistEntries:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			e := &Message_Wantlist_Entry{}
			if err := e.Unmarshal(v); err != nil {
				return err
			}
			w.Entries = append(w.Entries, e)
			data = data[n:]
		case fieldWantlistFull:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			w.Full = v != 0
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	return nil
}

func (e *Message_Wantlist_Entry) Marshal() ([]byte, error) {
	var b []byte
	if len(e.Block) > 0 {
		b = protowire.AppendTag(b, fieldEntryBlock, protowire.BytesType)
		b = protowire.AppendBytes(b, e.Block)
	}
	if e.Priority != 0 {
		b = protowire.AppendTag(b, fieldEntryPriority, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(uint32(e.Priority)))
	}
	if e.Cancel {
		b = protowire.AppendTag(b, fieldEntryCancel, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	if e.WantType != WantType_Block {
		b = protowire.AppendTag(b, fieldEntryWantType, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(e.WantType))
	}
	if e.SendDontHave {
		b = protowire.AppendTag(b, fieldEntrySendDontHave, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	return b, nil
}

func (e *Message_Wantlist_Entry) Unmarshal(data []byte) error {
	*e = Message_Wantlist_Entry{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]
		switch num {
		case fieldEntryBlock:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			e.Block = append([]byte(nil), v...)
			data = data[n:]
		case fieldEntryPriority:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			e.Priority = int32(uint32(v))
			data = data[n:]
		case fieldEntryCancel:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			e.Cancel = v != 0
			data = data[n:]
		case fieldEntryWantType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			e.WantType = WantType(v)
			data = data[n:]
		case fieldEntrySendDontHave:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			e.SendDontHave = v != 0
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	return nil
}

func (blk *Message_Block) Marshal() ([]byte, error) {
	var b []byte
	if len(blk.Prefix) > 0 {
		b = protowire.AppendTag(b, fieldBlockPrefix, protowire.BytesType)
		b = protowire.AppendBytes(b, blk.Prefix)
	}
	b = protowire.AppendTag(b, fieldBlockData, protowire.BytesType)
	b = protowire.AppendBytes(b, blk.Data)
	return b, nil
}

func (blk *Message_Block) Unmarshal(data []byte) error {
	*blk = Message_Block{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]
		switch num {
		case fieldBlockPrefix:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			blk.Prefix = append([]byte(nil), v...)
			data = data[n:]
		case fieldBlockData:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			blk.Data = append([]byte(nil), v...)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	return nil
}

func (bp *Message_BlockPresence) Marshal() ([]byte, error) {
	var b []byte
	if len(bp.Cid) > 0 {
		b = protowire.AppendTag(b, fieldBlockPresenceCid, protowire.BytesType)
		b = protowire.AppendBytes(b, bp.Cid)
	}
	if bp.Type != BlockPresenceType_Have {
		b = protowire.AppendTag(b, fieldBlockPresenceType, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(bp.Type))
	}
	return b, nil
}

func (bp *Message_BlockPresence) Unmarshal(data []byte) error {
	*bp = Message_BlockPresence{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]
		switch num {
		case fieldBlockPresenceCid:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			bp.Cid = append([]byte(nil), v...)
			data = data[n:]
		case fieldBlockPresenceType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			bp.Type = BlockPresenceType(v)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	return nil
}
