// Package memstore is a test-only in-memory Blockstore backed by
// go-datastore, grounded on kubo's blocks/blockstore package, which wraps a
// keyed datastore rather than reimplementing a map from scratch.
package memstore

import (
	"context"

	blocks "github.com/ipfs/go-block-format"
	cid "github.com/ipfs/go-cid"
	ds "github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	dshelp "github.com/ipfs/go-ipfs-ds-help"

	"github.com/blocksync/bitswap/internal/blockstore"
)

type memstore struct {
	ds ds.Datastore
}

// New returns a Blockstore backed by a mutex-guarded in-memory datastore.
func New() blockstore.Blockstore {
	return &memstore{ds: dssync.MutexWrap(ds.NewMapDatastore())}
}

// dsKey base32-encodes the CID's multihash the way dshelp does throughout
// kubo's blockstore package, rather than handing a datastore implementation
// a raw binary string it was never designed to treat as a path.
func dsKey(c cid.Cid) ds.Key {
	return dshelp.MultihashToDsKey(c.Hash())
}

func (m *memstore) Has(ctx context.Context, c cid.Cid) (bool, error) {
	return m.ds.Has(ctx, dsKey(c))
}

func (m *memstore) Get(ctx context.Context, c cid.Cid) (blocks.Block, error) {
	data, err := m.ds.Get(ctx, dsKey(c))
	if err != nil {
		if err == ds.ErrNotFound {
			return nil, blockstore.ErrNotFound
		}
		return nil, err
	}
	return blocks.NewBlockWithCid(data, c)
}

func (m *memstore) Put(ctx context.Context, b blocks.Block) error {
	return m.ds.Put(ctx, dsKey(b.Cid()), b.RawData())
}

func (m *memstore) PutMany(ctx context.Context, bs []blocks.Block) error {
	for _, b := range bs {
		if err := m.Put(ctx, b); err != nil {
			return err
		}
	}
	return nil
}
