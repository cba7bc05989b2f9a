package core

// journal holds the before-images of every record touched since the last
// commit. A nil before-image means the record did not exist.
type journal struct {
	open   bool
	root   uint64
	keys   map[uint64]*PriceKey
	orders map[uint64]*OrderEntry
}

func newJournal() *journal {
	return &journal{
		keys:   make(map[uint64]*PriceKey),
		orders: make(map[uint64]*OrderEntry),
	}
}

func (j *journal) reset() {
	j.open = false
	j.root = Sentinel
	clear(j.keys)
	clear(j.orders)
}

// begin marks the start of a mutation. Consecutive mutations without a
// Commit accumulate into the same pending change.
func (x *Index) begin() {
	if x.journal == nil || x.journal.open {
		return
	}
	x.journal.open = true
	x.journal.root = x.root
}

func (x *Index) touchKey(price uint64) {
	j := x.journal
	if j == nil {
		return
	}
	if _, seen := j.keys[price]; seen {
		return
	}
	if k, ok := x.keys[price]; ok {
		before := *k
		j.keys[price] = &before
	} else {
		j.keys[price] = nil
	}
}

func (x *Index) touchOrder(id uint64) {
	j := x.journal
	if j == nil {
		return
	}
	if _, seen := j.orders[id]; seen {
		return
	}
	if e, ok := x.orders[id]; ok {
		before := *e
		j.orders[id] = &before
	} else {
		j.orders[id] = nil
	}
}

// mutKey returns the live key of price after recording its before-image
func (x *Index) mutKey(price uint64) *PriceKey {
	x.touchKey(price)
	return x.keys[price]
}

// mutOrder returns the live entry of id after recording its before-image
func (x *Index) mutOrder(id uint64) *OrderEntry {
	x.touchOrder(id)
	return x.orders[id]
}

// Pending reports whether there are uncommitted changes
func (x *Index) Pending() bool {
	return x.journal != nil && x.journal.open
}

// Changes returns the after-images of every record touched since the last
// Commit. It returns nil when the index has no journal or nothing changed.
func (x *Index) Changes() *ChangeSet {
	j := x.journal
	if j == nil || !j.open {
		return nil
	}
	cs := &ChangeSet{
		Root:   x.root,
		Keys:   make(map[uint64]*PriceKey, len(j.keys)),
		Orders: make(map[uint64]*OrderEntry, len(j.orders)),
	}
	for p := range j.keys {
		if k, ok := x.keys[p]; ok {
			after := *k
			cs.Keys[p] = &after
		} else {
			cs.Keys[p] = nil
		}
	}
	for id := range j.orders {
		if e, ok := x.orders[id]; ok {
			after := *e
			cs.Orders[id] = &after
		} else {
			cs.Orders[id] = nil
		}
	}
	return cs
}

// Commit forgets the pending changes, making them permanent
func (x *Index) Commit() {
	if x.journal != nil {
		x.journal.reset()
	}
}

// Rollback restores the state as of the last Commit
func (x *Index) Rollback() {
	j := x.journal
	if j == nil || !j.open {
		return
	}
	for p, before := range j.keys {
		if before == nil {
			delete(x.keys, p)
			continue
		}
		k := *before
		x.keys[p] = &k
	}
	for id, before := range j.orders {
		if before == nil {
			delete(x.orders, id)
			continue
		}
		e := *before
		x.orders[id] = &e
	}
	x.root = j.root
	j.reset()
}
