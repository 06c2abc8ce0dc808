// Package blockstore declares the key->bytes mapping the exchange depends
// on but never implements; the store is an external collaborator. memstore
// provides a minimal in-memory adapter for tests.
package blockstore

import (
	"context"
	"errors"

	blocks "github.com/ipfs/go-block-format"
	cid "github.com/ipfs/go-cid"
)

// ErrNotFound is returned by Get for a CID the store does not hold.
var ErrNotFound = errors.New("blockstore: block not found")

// Blockstore is the contract the exchange requires of the local block
// store.
type Blockstore interface {
	Has(ctx context.Context, c cid.Cid) (bool, error)
	Get(ctx context.Context, c cid.Cid) (blocks.Block, error)
	Put(ctx context.Context, b blocks.Block) error
	PutMany(ctx context.Context, bs []blocks.Block) error
}
