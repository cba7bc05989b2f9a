package core

// appendToChain links id after the tail of k's chain and registers it
func (x *Index) appendToChain(k *PriceKey, id uint64) {
	x.touchOrder(id)
	e := &OrderEntry{ID: id, Price: k.Price, Prev: k.Tail}
	if k.Tail != Sentinel {
		x.mutOrder(k.Tail).Next = id
	} else {
		k.Head = id
	}
	k.Tail = id
	k.Count++
	x.orders[id] = e
}

// unlinkFromChain splices e out of its price's chain and drops the
// registry entry. It reports whether the chain is now empty.
func (x *Index) unlinkFromChain(e *OrderEntry) bool {
	k := x.mutKey(e.Price)

	if e.Prev != Sentinel {
		x.mutOrder(e.Prev).Next = e.Next
	} else {
		k.Head = e.Next
	}
	if e.Next != Sentinel {
		x.mutOrder(e.Next).Prev = e.Prev
	} else {
		k.Tail = e.Prev
	}
	k.Count--

	x.touchOrder(e.ID)
	delete(x.orders, e.ID)
	return k.Count == 0
}
