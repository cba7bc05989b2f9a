package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/erain9/orderindex/pkg/core"
	"github.com/google/btree"
)

func priceLess(a, b core.PriceKey) bool {
	return a.Price < b.Price
}

// MemoryBackend implements core.Backend with in-memory storage.
// Price keys are kept in a btree so they load in price order.
type MemoryBackend struct {
	sync.RWMutex
	root   uint64
	keys   *btree.BTreeG[core.PriceKey]
	orders map[uint64]core.OrderEntry
	closed bool
}

// NewMemoryBackend creates new instance of MemoryBackend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		keys:   btree.NewG(16, priceLess),
		orders: make(map[uint64]core.OrderEntry),
	}
}

// Apply stores every record of the change set. The write is all or nothing
// since it happens under a single lock.
func (b *MemoryBackend) Apply(ctx context.Context, cs *core.ChangeSet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if cs == nil {
		return nil
	}

	b.Lock()
	defer b.Unlock()

	if b.closed {
		return ErrClosed
	}

	for price, k := range cs.Keys {
		if k == nil {
			b.keys.Delete(core.PriceKey{Price: price})
			continue
		}
		b.keys.ReplaceOrInsert(*k)
	}
	for id, e := range cs.Orders {
		if e == nil {
			delete(b.orders, id)
			continue
		}
		b.orders[id] = *e
	}
	b.root = cs.Root
	return nil
}

// Load returns a copy of everything stored
func (b *MemoryBackend) Load(ctx context.Context) (*core.State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.RLock()
	defer b.RUnlock()

	if b.closed {
		return nil, ErrClosed
	}

	st := &core.State{
		Root:   b.root,
		Keys:   make([]core.PriceKey, 0, b.keys.Len()),
		Orders: make([]core.OrderEntry, 0, len(b.orders)),
	}
	b.keys.Ascend(func(k core.PriceKey) bool {
		st.Keys = append(st.Keys, k)
		return true
	})
	for _, e := range b.orders {
		st.Orders = append(st.Orders, e)
	}
	return st, nil
}

// Close marks the backend closed
func (b *MemoryBackend) Close() error {
	b.Lock()
	defer b.Unlock()
	b.closed = true
	return nil
}

// Prices returns every stored price in ascending order
func (b *MemoryBackend) Prices() []uint64 {
	b.RLock()
	defer b.RUnlock()

	prices := make([]uint64, 0, b.keys.Len())
	b.keys.Ascend(func(k core.PriceKey) bool {
		prices = append(prices, k.Price)
		return true
	})
	return prices
}

// Orders returns the stored chain of price from head to tail
func (b *MemoryBackend) Orders(price uint64) []uint64 {
	b.RLock()
	defer b.RUnlock()

	k, ok := b.keys.Get(core.PriceKey{Price: price})
	if !ok {
		return nil
	}
	ids := make([]uint64, 0, k.Count)
	for id := k.Head; id != core.Sentinel && uint64(len(ids)) < k.Count; {
		ids = append(ids, id)
		id = b.orders[id].Next
	}
	return ids
}

// Order returns the stored entry of id
func (b *MemoryBackend) Order(id uint64) (core.OrderEntry, bool) {
	b.RLock()
	defer b.RUnlock()
	e, ok := b.orders[id]
	return e, ok
}

// String implements fmt.Stringer interface
func (b *MemoryBackend) String() string {
	b.RLock()
	defer b.RUnlock()

	sb := strings.Builder{}
	b.keys.Ascend(func(k core.PriceKey) bool {
		sb.WriteString(fmt.Sprintf("\n%d -> orders: %d", k.Price, k.Count))
		return true
	})
	return sb.String()
}
