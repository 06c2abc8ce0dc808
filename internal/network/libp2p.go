package network

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	multierror "github.com/hashicorp/go-multierror"
	cid "github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-msgio"
	ma "github.com/multiformats/go-multiaddr"
	"golang.org/x/sync/semaphore"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/core/routing"

	"github.com/blocksync/bitswap/internal/message"
)

var log = logging.Logger("bitswap/network")

// defaultSendTimeout bounds how long a single SendMessage / NewMessageSender
// write may take when the caller's context carries no deadline.
const defaultSendTimeout = time.Minute

// defaultIncomingStreamIdle closes an inbound stream that has delivered no
// complete message in this long, so a silent or stalled peer doesn't pin a
// goroutine and a stream slot forever.
const defaultIncomingStreamIdle = 30 * time.Second

// defaultMaxProvidersPerRequest bounds how many providers FindAndConnect
// asks routing for per CID; more connections than that add little chance
// of a response and cost a dial each.
const defaultMaxProvidersPerRequest = 10

const (
	defaultMaxInboundStreams  = 32
	defaultMaxOutboundStreams = 128
)

func toProtocolIDs(ids []string) []protocol.ID {
	out := make([]protocol.ID, len(ids))
	for i, s := range ids {
		out[i] = protocol.ID(s)
	}
	return out
}

// impl adapts a libp2p host plus a content-routing collaborator into a
// BitSwapNetwork.
type impl struct {
	host    host.Host
	routing routing.ContentRouting

	mu       sync.RWMutex
	receiver Receiver

	b100Only     bool
	hashLoader   message.HashLoader
	maxProviders int

	incomingIdle time.Duration
	sendTimeout  time.Duration

	// inboundLimit/outboundLimit bound concurrent streams. A saturated
	// inboundLimit causes handleNewStream to reset the stream
	// immediately; a saturated outboundLimit makes a send wait for a
	// slot, respecting the caller's context.
	inboundLimit  *semaphore.Weighted
	outboundLimit *semaphore.Weighted
}

// NewFromHost returns a BitSwapNetwork backed by h, using r to resolve
// providers for CIDs it has no open connection for.
func NewFromHost(h host.Host, r routing.ContentRouting, opts ...Option) BitSwapNetwork {
	bsnet := &impl{
		host:          h,
		routing:       r,
		hashLoader:    message.DefaultHashLoader,
		maxProviders:  defaultMaxProvidersPerRequest,
		incomingIdle:  defaultIncomingStreamIdle,
		sendTimeout:   defaultSendTimeout,
		inboundLimit:  semaphore.NewWeighted(int64(defaultMaxInboundStreams)),
		outboundLimit: semaphore.NewWeighted(int64(defaultMaxOutboundStreams)),
	}
	for _, opt := range opts {
		opt(bsnet)
	}
	return bsnet
}

// protocolIDs returns the protocol IDs this adapter advertises, narrowed
// to the legacy-only set when b100Only is set.
func (bsnet *impl) protocolIDs() []protocol.ID {
	return toProtocolIDs(SelectProtocols(bsnet.b100Only))
}

func (bsnet *impl) Self() peer.ID {
	return bsnet.host.ID()
}

// Start registers stream handlers for every advertised protocol and begins
// observing topology events. Every connection already open at Start time
// is replayed through PeerConnected so the decision engine and
// want-manager see it exactly as they would a fresh connection.
func (bsnet *impl) Start() {
	for _, pid := range bsnet.protocolIDs() {
		bsnet.host.SetStreamHandler(pid, bsnet.handleNewStream)
	}
	bsnet.host.Network().Notify((*netNotifiee)(bsnet))

	if r := bsnet.delegate(); r != nil {
		for _, p := range bsnet.host.Network().Peers() {
			r.PeerConnected(p)
		}
	}
}

func (bsnet *impl) Stop() {
	bsnet.host.Network().StopNotify((*netNotifiee)(bsnet))
	for _, pid := range bsnet.protocolIDs() {
		bsnet.host.RemoveStreamHandler(pid)
	}
}

func (bsnet *impl) SetDelegate(r Receiver) {
	bsnet.mu.Lock()
	defer bsnet.mu.Unlock()
	bsnet.receiver = r
}

func (bsnet *impl) delegate() Receiver {
	bsnet.mu.RLock()
	defer bsnet.mu.RUnlock()
	return bsnet.receiver
}

func (bsnet *impl) Connect(ctx context.Context, p peer.ID) error {
	return bsnet.host.Connect(ctx, peer.AddrInfo{ID: p})
}

func (bsnet *impl) DisconnectFrom(ctx context.Context, p peer.ID) error {
	return bsnet.host.Network().ClosePeer(p)
}

func (bsnet *impl) newStreamToPeer(ctx context.Context, p peer.ID) (network.Stream, error) {
	if err := bsnet.outboundLimit.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("bitswap network: outbound stream limit: %w", err)
	}
	if err := bsnet.host.Connect(ctx, peer.AddrInfo{ID: p}); err != nil {
		bsnet.outboundLimit.Release(1)
		return nil, fmt.Errorf("bitswap network: connect to %s: %w", p, err)
	}
	s, err := bsnet.host.NewStream(ctx, p, bsnet.protocolIDs()...)
	if err != nil {
		bsnet.outboundLimit.Release(1)
		return nil, err
	}
	return &releasingStream{Stream: s, limit: bsnet.outboundLimit}, nil
}

// releasingStream gives back its outbound-stream semaphore slot exactly
// once, on whichever of Close/Reset happens first.
type releasingStream struct {
	network.Stream
	limit    *semaphore.Weighted
	released sync.Once
}

func (s *releasingStream) release() {
	s.released.Do(func() { s.limit.Release(1) })
}

func (s *releasingStream) Close() error {
	s.release()
	return s.Stream.Close()
}

func (s *releasingStream) Reset() error {
	s.release()
	return s.Stream.Reset()
}

func (bsnet *impl) SendMessage(ctx context.Context, p peer.ID, m *message.Message) error {
	s, err := bsnet.newStreamToPeer(ctx, p)
	if err != nil {
		return err
	}
	defer s.Close()
	return writeMessage(ctx, s, m, bsnet.sendTimeout)
}

// streamMessageSender keeps one stream open across several SendMsg calls
// so a busy peer doesn't pay a new handshake per message.
type streamMessageSender struct {
	s       network.Stream
	timeout time.Duration
}

func (bsnet *impl) NewMessageSender(ctx context.Context, p peer.ID, opts *MessageSenderOpts) (MessageSender, error) {
	s, err := bsnet.newStreamToPeer(ctx, p)
	if err != nil {
		return nil, err
	}
	timeout := bsnet.sendTimeout
	if opts != nil && opts.SendTimeout > 0 {
		timeout = opts.SendTimeout
	}
	return &streamMessageSender{s: s, timeout: timeout}, nil
}

func (s *streamMessageSender) SendMsg(ctx context.Context, m *message.Message) error {
	return writeMessage(ctx, s.s, m, s.timeout)
}

func (s *streamMessageSender) Close() error {
	return s.s.Close()
}

func (s *streamMessageSender) Reset() error {
	return s.s.Reset()
}

func writeMessage(ctx context.Context, s network.Stream, m *message.Message, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	if dl, ok := ctx.Deadline(); ok {
		deadline = dl
	}
	if err := s.SetWriteDeadline(deadline); err != nil {
		log.Debugf("error setting write deadline: %s", err)
	}

	version := protocolVersion(string(s.Protocol()))
	wire, err := m.Marshal(version)
	if err != nil {
		return fmt.Errorf("bitswap network: marshal message: %w", err)
	}

	w := msgio.NewVarintWriter(s)
	if err := w.WriteMsg(wire); err != nil {
		return fmt.Errorf("bitswap network: write message: %w", err)
	}
	return s.SetWriteDeadline(time.Time{})
}

// FindAndConnect resolves providers for c through routing, then dials each
// candidate concurrently. Dial failures are aggregated and returned, never
// causing sibling dials to abort; a nil return means at least one provider
// was successfully connected (or one was already connected).
func (bsnet *impl) FindAndConnect(ctx context.Context, c cid.Cid) error {
	providers := bsnet.routing.FindProvidersAsync(ctx, c, bsnet.maxProviders)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var merr *multierror.Error
	connected := false

	for p := range providers {
		if p.ID == bsnet.host.ID() {
			continue
		}
		wg.Add(1)
		go func(p peer.AddrInfo) {
			defer wg.Done()
			bsnet.host.Peerstore().AddAddrs(p.ID, p.Addrs, peerstore.TempAddrTTL)
			err := bsnet.host.Connect(ctx, p)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				merr = multierror.Append(merr, fmt.Errorf("dial %s: %w", p.ID, err))
				return
			}
			connected = true
		}(p)
	}
	wg.Wait()

	if connected {
		return nil
	}
	if merr == nil {
		return fmt.Errorf("bitswap network: no providers found for %s", c)
	}
	return merr.ErrorOrNil()
}

// Provide announces c to the routing collaborator.
func (bsnet *impl) Provide(ctx context.Context, c cid.Cid) error {
	return bsnet.routing.Provide(ctx, c, true)
}

// handleNewStream reads every delimited message off s until the peer
// closes it, an idle timeout elapses, or a framing error occurs. An
// inbound stream beyond the concurrency bound is reset immediately
// without involving the Receiver.
func (bsnet *impl) handleNewStream(s network.Stream) {
	if !bsnet.inboundLimit.TryAcquire(1) {
		s.Reset()
		return
	}
	defer bsnet.inboundLimit.Release(1)
	defer s.Close()

	receiver := bsnet.delegate()
	if receiver == nil {
		s.Reset()
		return
	}

	version := protocolVersion(string(s.Protocol()))
	reader := msgio.NewVarintReader(s)
	remote := s.Conn().RemotePeer()

	for {
		if err := s.SetReadDeadline(time.Now().Add(bsnet.incomingIdle)); err != nil {
			log.Debugf("error setting read deadline: %s", err)
		}

		data, err := reader.ReadMsg()
		if err != nil {
			if err != io.EOF {
				go receiver.ReceiveError(fmt.Errorf("bitswap network: read from %s: %w", remote, err))
			}
			return
		}

		m, err := message.FromBytes(data, version, bsnet.hashLoader)
		reader.ReleaseMsg(data)
		if err != nil {
			go receiver.ReceiveError(fmt.Errorf("bitswap network: decode from %s: %w", remote, err))
			return
		}

		receiver.ReceiveMessage(context.Background(), remote, m)
	}
}

type netNotifiee impl

func (nn *netNotifiee) impl() *impl { return (*impl)(nn) }

func (nn *netNotifiee) Connected(n network.Network, c network.Conn) {
	if r := nn.impl().delegate(); r != nil {
		r.PeerConnected(c.RemotePeer())
	}
}

func (nn *netNotifiee) Disconnected(n network.Network, c network.Conn) {
	if r := nn.impl().delegate(); r != nil {
		r.PeerDisconnected(c.RemotePeer())
	}
}

func (nn *netNotifiee) Listen(network.Network, ma.Multiaddr)      {}
func (nn *netNotifiee) ListenClose(network.Network, ma.Multiaddr) {}
