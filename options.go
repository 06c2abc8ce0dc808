package bitswap

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Config holds every tunable the coordinator, want-manager, and message
// queues read at construction time. Build one with New's functional
// options rather than constructing it directly.
type Config struct {
	// EngineTaskWorkerCount is the number of goroutines the decision
	// engine runs to drain its peer task queue.
	EngineTaskWorkerCount int

	// WantlistSendDebounce is how long a message queue waits after the
	// first queued entry before flushing, to coalesce a burst of
	// WantBlocks/CancelWants calls into one wire message.
	WantlistSendDebounce time.Duration

	// RebroadcastInterval is how often the want-manager resends the
	// full wantlist to every connected peer, covering for wants that
	// were never acknowledged with a HAVE/DONT_HAVE or a block.
	RebroadcastInterval time.Duration

	// ProviderSearchTimeout bounds how long a single provider lookup
	// may run before giving up on that CID for this round.
	ProviderSearchTimeout time.Duration

	// Clock is the time source message queues debounce against. Tests
	// inject a mock clock to drive debounce windows deterministically.
	Clock clock.Clock
}

// Option configures a Config. See the With* functions below.
type Option func(*Config)

func defaultConfig() *Config {
	return &Config{
		EngineTaskWorkerCount: 8,
		WantlistSendDebounce:  10 * time.Millisecond,
		RebroadcastInterval:   10 * time.Second,
		ProviderSearchTimeout: 10 * time.Second,
		Clock:                 clock.New(),
	}
}

// WithEngineTaskWorkerCount overrides the decision engine's worker pool
// size.
func WithEngineTaskWorkerCount(n int) Option {
	return func(c *Config) { c.EngineTaskWorkerCount = n }
}

// WithWantlistSendDebounce overrides the per-peer message-queue debounce
// window.
func WithWantlistSendDebounce(d time.Duration) Option {
	return func(c *Config) { c.WantlistSendDebounce = d }
}

// WithRebroadcastInterval overrides how often the full wantlist is resent.
func WithRebroadcastInterval(d time.Duration) Option {
	return func(c *Config) { c.RebroadcastInterval = d }
}

// WithProviderSearchTimeout overrides the per-CID provider lookup timeout.
func WithProviderSearchTimeout(d time.Duration) Option {
	return func(c *Config) { c.ProviderSearchTimeout = d }
}

// WithClock overrides the time source message queues debounce against;
// intended for tests using benbjohnson/clock's mock.
func WithClock(cl clock.Clock) Option {
	return func(c *Config) { c.Clock = cl }
}
