package bitswap

import "errors"

// ErrNotStarted is returned by operations attempted after Close. New
// starts the exchange, so there is no earlier not-started state.
var ErrNotStarted = errors.New("bitswap: exchange not started")

// ErrUnwanted is returned to a pending GetBlock caller whose CID was
// force-cancelled by a concurrent Unwant call.
var ErrUnwanted = errors.New("bitswap: block unwanted")
