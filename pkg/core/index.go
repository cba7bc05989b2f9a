package core

// Index keeps order ids sorted by price with FIFO priority among equal
// prices. It is not safe for concurrent use; callers serialise access.
type Index struct {
	root    uint64
	keys    map[uint64]*PriceKey
	orders  map[uint64]*OrderEntry
	journal *journal
}

// Option configures an Index
type Option func(*Index)

// WithJournal makes the index remember every record touched since the last
// Commit, so the changes can be persisted with Changes or undone with Rollback.
func WithJournal() Option {
	return func(x *Index) {
		x.journal = newJournal()
	}
}

// NewIndex creates an empty Index
func NewIndex(opts ...Option) *Index {
	x := &Index{
		keys:   make(map[uint64]*PriceKey),
		orders: make(map[uint64]*OrderEntry),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Insert appends id to the FIFO chain of price
func (x *Index) Insert(price, id uint64) error {
	if price == Sentinel || id == Sentinel {
		return ErrInvalidArgument
	}
	if _, exists := x.orders[id]; exists {
		return ErrDuplicateID
	}

	x.begin()
	k := x.findOrCreate(price)
	x.appendToChain(k, id)
	return nil
}

// Remove takes id out of the index, dropping its price once the chain is empty
func (x *Index) Remove(id uint64) error {
	e, ok := x.orders[id]
	if !ok {
		return ErrNotFound
	}

	x.begin()
	price := e.Price
	if x.unlinkFromChain(e) {
		x.deleteKey(price)
	}
	return nil
}

// Next returns the order that follows id in price-time order, or 0 after the last one
func (x *Index) Next(id uint64) (uint64, error) {
	e, ok := x.orders[id]
	if !ok {
		return Sentinel, ErrNotFound
	}
	if e.Next != Sentinel {
		return e.Next, nil
	}
	if s := x.successor(e.Price); s != Sentinel {
		return x.keys[s].Head, nil
	}
	return Sentinel, nil
}

// Prev returns the order that precedes id in price-time order, or 0 before the first one
func (x *Index) Prev(id uint64) (uint64, error) {
	e, ok := x.orders[id]
	if !ok {
		return Sentinel, ErrNotFound
	}
	if e.Prev != Sentinel {
		return e.Prev, nil
	}
	if p := x.predecessor(e.Price); p != Sentinel {
		return x.keys[p].Tail, nil
	}
	return Sentinel, nil
}

// First returns the oldest order at the lowest price, or 0 when empty
func (x *Index) First() uint64 {
	if p := x.leftmost(x.root); p != Sentinel {
		return x.keys[p].Head
	}
	return Sentinel
}

// Last returns the newest order at the highest price, or 0 when empty
func (x *Index) Last() uint64 {
	if p := x.rightmost(x.root); p != Sentinel {
		return x.keys[p].Tail
	}
	return Sentinel
}

// GetNode returns the price id rests at
func (x *Index) GetNode(id uint64) (uint64, error) {
	e, ok := x.orders[id]
	if !ok {
		return Sentinel, ErrNotFound
	}
	return e.Price, nil
}

// Root returns the price held by the tree root, or 0 when empty.
// Intended for inspection and tests.
func (x *Index) Root() uint64 {
	return x.root
}

// RootOrder returns the oldest order at the root price, or 0 when empty
func (x *Index) RootOrder() uint64 {
	if k := x.key(x.root); k != nil {
		return k.Head
	}
	return Sentinel
}

// Contains reports whether id is registered
func (x *Index) Contains(id uint64) bool {
	_, ok := x.orders[id]
	return ok
}

// Exists reports whether price currently holds at least one order
func (x *Index) Exists(price uint64) bool {
	return x.key(price) != nil
}

// Len returns the number of registered orders
func (x *Index) Len() int {
	return len(x.orders)
}

// Levels returns the number of distinct active prices
func (x *Index) Levels() int {
	return len(x.keys)
}

// Level returns the chain summary of price
func (x *Index) Level(price uint64) (Level, bool) {
	k := x.key(price)
	if k == nil {
		return Level{}, false
	}
	return Level{Price: k.Price, Count: k.Count, Head: k.Head, Tail: k.Tail}, true
}

// Ascend calls fn for every order from best (lowest) to worst price until fn returns false
func (x *Index) Ascend(fn func(price, id uint64) bool) {
	for p := x.leftmost(x.root); p != Sentinel; p = x.successor(p) {
		for id := x.keys[p].Head; id != Sentinel; id = x.orders[id].Next {
			if !fn(p, id) {
				return
			}
		}
	}
}

// Descend calls fn for every order from the highest price down, newest first
// within a price, until fn returns false
func (x *Index) Descend(fn func(price, id uint64) bool) {
	for p := x.rightmost(x.root); p != Sentinel; p = x.predecessor(p) {
		for id := x.keys[p].Tail; id != Sentinel; id = x.orders[id].Prev {
			if !fn(p, id) {
				return
			}
		}
	}
}

// Depth returns the height of the tree in nodes
func (x *Index) Depth() int {
	if x.root == Sentinel {
		return 0
	}
	depth := 0
	level := []uint64{x.root}
	for len(level) > 0 {
		depth++
		next := level[:0:0]
		for _, p := range level {
			if l := x.leftOf(p); l != Sentinel {
				next = append(next, l)
			}
			if r := x.rightOf(p); r != Sentinel {
				next = append(next, r)
			}
		}
		level = next
	}
	return depth
}

// Snapshot copies the full state of the index
func (x *Index) Snapshot() *State {
	st := &State{
		Root:   x.root,
		Keys:   make([]PriceKey, 0, len(x.keys)),
		Orders: make([]OrderEntry, 0, len(x.orders)),
	}
	for p := x.leftmost(x.root); p != Sentinel; p = x.successor(p) {
		k := x.keys[p]
		st.Keys = append(st.Keys, *k)
		for id := k.Head; id != Sentinel; id = x.orders[id].Next {
			st.Orders = append(st.Orders, *x.orders[id])
		}
	}
	return st
}

// Restore rebuilds an index from persisted state and verifies it
func Restore(st *State, opts ...Option) (*Index, error) {
	x := NewIndex(opts...)
	if st == nil {
		return x, nil
	}
	for i := range st.Keys {
		k := st.Keys[i]
		if k.Price == Sentinel {
			return nil, &InvariantError{Rule: "sentinel", Detail: "price key with reserved price 0"}
		}
		if _, dup := x.keys[k.Price]; dup {
			return nil, &InvariantError{Rule: "unique-price", Price: k.Price, Detail: "price stored twice"}
		}
		x.keys[k.Price] = &k
	}
	for i := range st.Orders {
		e := st.Orders[i]
		if e.ID == Sentinel {
			return nil, &InvariantError{Rule: "sentinel", Price: e.Price, Detail: "order entry with reserved id 0"}
		}
		if _, dup := x.orders[e.ID]; dup {
			return nil, &InvariantError{Rule: "unique-id", ID: e.ID, Detail: "order stored twice"}
		}
		x.orders[e.ID] = &e
	}
	x.root = st.Root
	if err := x.Verify(); err != nil {
		return nil, err
	}
	return x, nil
}

func (x *Index) setRoot(price uint64) {
	x.root = price
}
