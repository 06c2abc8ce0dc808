// Package network adapts the message exchange to a libp2p host: stream
// lifecycle, protocol-version negotiation, and peer-connectivity events.
package network

import (
	"context"
	"time"

	cid "github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/blocksync/bitswap/internal/message"
)

// ProtocolBitswap100, ProtocolBitswap110, and ProtocolBitswap120 are
// negotiated newest-first against every connecting peer.
const (
	ProtocolBitswap100 = "/ipfs/bitswap/1.0.0"
	ProtocolBitswap110 = "/ipfs/bitswap/1.1.0"
	ProtocolBitswap120 = "/ipfs/bitswap/1.2.0"
)

// SupportedProtocols lists protocol IDs newest first, the order they are
// offered to a peer during stream negotiation.
var SupportedProtocols = []string{ProtocolBitswap120, ProtocolBitswap110, ProtocolBitswap100}

// protocolVersion maps a negotiated protocol ID to the wire codec version
// it corresponds to.
func protocolVersion(id string) message.ProtocolVersion {
	switch id {
	case ProtocolBitswap100:
		return message.ProtocolV1_0_0
	case ProtocolBitswap110:
		return message.ProtocolV1_1_0
	default:
		return message.ProtocolV1_2_0
	}
}

// MessageSender is a per-peer handle for streaming messages without paying
// for a new stream's handshake on every send.
type MessageSender interface {
	SendMsg(ctx context.Context, m *message.Message) error
	Close() error
	Reset() error
}

// Receiver is implemented by the coordinator and invoked on every event
// the network layer observes.
type Receiver interface {
	ReceiveMessage(ctx context.Context, sender peer.ID, incoming *message.Message)
	ReceiveError(err error)
	PeerConnected(p peer.ID)
	PeerDisconnected(p peer.ID)
}

// BitSwapNetwork is the transport contract the coordinator depends on.
type BitSwapNetwork interface {
	Self() peer.ID

	SendMessage(ctx context.Context, to peer.ID, m *message.Message) error
	NewMessageSender(ctx context.Context, p peer.ID, opts *MessageSenderOpts) (MessageSender, error)

	SetDelegate(Receiver)

	Connect(ctx context.Context, p peer.ID) error
	DisconnectFrom(ctx context.Context, p peer.ID) error

	// FindAndConnect dials every address the routing collaborator returns
	// for c's providers; dial failures for individual peers are
	// aggregated and returned, not fatal to the others.
	FindAndConnect(ctx context.Context, c cid.Cid) error

	// Provide announces to the routing collaborator that the local peer
	// now holds c, so future FindAndConnect calls by other peers surface
	// us as a candidate.
	Provide(ctx context.Context, c cid.Cid) error

	Start()
	Stop()
}

// MessageSenderOpts tunes a MessageSender. The libp2p adapter reads only
// SendTimeout; MaxRetries and SendErrorBackoff are not consulted, and a
// failed send is not retried.
type MessageSenderOpts struct {
	MaxRetries       int
	SendTimeout      time.Duration
	SendErrorBackoff time.Duration
}

// SelectProtocols returns the protocol IDs to advertise, newest first.
// With b100Only every protocol but the legacy one is dropped, so a
// negotiating peer is left with no choice but 1.0.0.
func SelectProtocols(b100Only bool) []string {
	if b100Only {
		return []string{ProtocolBitswap100}
	}
	out := make([]string, len(SupportedProtocols))
	copy(out, SupportedProtocols)
	return out
}
