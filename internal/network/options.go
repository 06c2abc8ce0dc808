package network

import (
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/blocksync/bitswap/internal/message"
)

// Option configures an adapter built by NewFromHost.
type Option func(*impl)

// WithB100Only restricts protocol negotiation to the legacy
// /ipfs/bitswap/1.0.0 wire format.
func WithB100Only(on bool) Option {
	return func(i *impl) { i.b100Only = on }
}

// WithHashLoader overrides the multihash resolver used while decoding
// inbound payload blocks.
func WithHashLoader(h message.HashLoader) Option {
	return func(i *impl) { i.hashLoader = h }
}

// WithIncomingStreamIdleTimeout overrides how long an inbound stream may
// go without delivering a frame before it is aborted (default 30s). The
// timer resets on every received frame.
func WithIncomingStreamIdleTimeout(d time.Duration) Option {
	return func(i *impl) { i.incomingIdle = d }
}

// WithMaxProvidersPerRequest bounds how many providers FindAndConnect
// dials per CID (default 10).
func WithMaxProvidersPerRequest(n int) Option {
	return func(i *impl) { i.maxProviders = n }
}

// WithSendTimeout overrides the deadline placed on a single outbound
// message write when the caller's context carries none.
func WithSendTimeout(d time.Duration) Option {
	return func(i *impl) { i.sendTimeout = d }
}

// WithMaxInboundStreams bounds how many inbound bitswap streams this
// adapter will service concurrently (default 32). Streams beyond the
// bound are reset immediately rather than queued.
func WithMaxInboundStreams(n int) Option {
	return func(i *impl) { i.inboundLimit = semaphore.NewWeighted(int64(n)) }
}

// WithMaxOutboundStreams bounds how many outbound bitswap streams this
// adapter will open concurrently (default 128). A SendMessage call made
// while the bound is saturated blocks until a slot frees up or its
// context ends.
func WithMaxOutboundStreams(n int) Option {
	return func(i *impl) { i.outboundLimit = semaphore.NewWeighted(int64(n)) }
}
