package pebble

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/erain9/orderindex/pkg/core"
	"github.com/rs/zerolog"
)

// PebbleBackend implements core.Backend on an embedded Pebble store.
// Each change set is written as one synced batch.
type PebbleBackend struct {
	mu     sync.Mutex
	db     *pebble.DB
	dir    string
	logger zerolog.Logger
}

// Open opens or creates the store in dir
func Open(dir string, logger zerolog.Logger) (*PebbleBackend, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble store %s: %w", dir, err)
	}
	logger.Debug().Str("dir", dir).Msg("Opened pebble store")
	return &PebbleBackend{db: db, dir: dir, logger: logger}, nil
}

// Apply commits the change set as one batch
func (b *PebbleBackend) Apply(ctx context.Context, cs *core.ChangeSet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if cs == nil {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	batch := b.db.NewBatch()
	defer batch.Close()

	for price, k := range cs.Keys {
		var err error
		if k == nil {
			err = batch.Delete(priceKeyFor(price), nil)
		} else {
			err = batch.Set(priceKeyFor(price), encodePriceKey(k), nil)
		}
		if err != nil {
			return err
		}
	}
	for id, e := range cs.Orders {
		var err error
		if e == nil {
			err = batch.Delete(orderKeyFor(id), nil)
		} else {
			err = batch.Set(orderKeyFor(id), encodeOrderEntry(e), nil)
		}
		if err != nil {
			return err
		}
	}
	if err := batch.Set(rootKey, encodeRoot(cs.Root), nil); err != nil {
		return err
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		b.logger.Error().Err(err).Str("dir", b.dir).Msg("Failed to commit change set")
		return fmt.Errorf("pebble commit: %w", err)
	}
	return nil
}

// Load scans every stored record
func (b *PebbleBackend) Load(ctx context.Context) (*core.State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	st := &core.State{}

	val, closer, err := b.db.Get(rootKey)
	switch {
	case errors.Is(err, pebble.ErrNotFound):
		st.Root = core.Sentinel
	case err != nil:
		return nil, err
	default:
		root, err := decodeRoot(val)
		closer.Close()
		if err != nil {
			return nil, err
		}
		st.Root = root
	}

	err = b.scan(pricePrefix, func(price uint64, val []byte) error {
		k, err := decodePriceKey(price, val)
		if err != nil {
			return err
		}
		st.Keys = append(st.Keys, k)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = b.scan(orderPrefix, func(id uint64, val []byte) error {
		e, err := decodeOrderEntry(id, val)
		if err != nil {
			return err
		}
		st.Orders = append(st.Orders, e)
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.logger.Debug().
		Str("dir", b.dir).
		Int("keys", len(st.Keys)).
		Int("orders", len(st.Orders)).
		Msg("Loaded index state")
	return st, nil
}

// scan iterates every record under prefix in key order
func (b *PebbleBackend) scan(prefix []byte, fn func(n uint64, val []byte) error) error {
	upper := append(append([]byte{}, prefix...), '~')
	iter, err := b.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upper,
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		n, err := parseKey(prefix, iter.Key())
		if err != nil {
			return err
		}
		if err := fn(n, iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Close flushes and closes the store
func (b *PebbleBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.db.Close()
}
