package core

import "fmt"

// Verify checks every structural rule of the index: search order, parent
// links, red-black coloring, black height, and chain consistency. It returns
// an *InvariantError describing the first violation found.
func (x *Index) Verify() error {
	if x.root == Sentinel {
		if len(x.keys) != 0 || len(x.orders) != 0 {
			return &InvariantError{Rule: "empty-root", Detail: fmt.Sprintf("no root but %d keys and %d orders", len(x.keys), len(x.orders))}
		}
		return nil
	}

	root := x.key(x.root)
	if root == nil {
		return &InvariantError{Rule: "root", Price: x.root, Detail: "root price has no key"}
	}
	if root.Parent != Sentinel {
		return &InvariantError{Rule: "root", Price: x.root, Detail: "root has a parent"}
	}
	if root.Color != Black {
		return &InvariantError{Rule: "black-root", Price: x.root, Detail: "root is red"}
	}

	if err := x.verifyTree(); err != nil {
		return err
	}
	return x.verifyChains()
}

type verifyFrame struct {
	price  uint64
	lo, hi uint64 // exclusive bounds, 0 meaning unbounded
	blacks int
}

func (x *Index) verifyTree() error {
	visited := make(map[uint64]struct{}, len(x.keys))
	leafBlacks := -1
	stack := []verifyFrame{{price: x.root}}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		k := x.key(f.price)
		if k == nil {
			return &InvariantError{Rule: "dangling-link", Price: f.price, Detail: "link to a price without key"}
		}
		if _, seen := visited[f.price]; seen {
			return &InvariantError{Rule: "cycle", Price: f.price, Detail: "price reached twice"}
		}
		visited[f.price] = struct{}{}

		if k.Price != f.price {
			return &InvariantError{Rule: "key-price", Price: f.price, Detail: fmt.Sprintf("key stores price %d", k.Price)}
		}
		if (f.lo != Sentinel && k.Price <= f.lo) || (f.hi != Sentinel && k.Price >= f.hi) {
			return &InvariantError{Rule: "search-order", Price: k.Price, Detail: fmt.Sprintf("outside (%d, %d)", f.lo, f.hi)}
		}

		blacks := f.blacks
		if k.Color == Black {
			blacks++
		} else if x.isRed(k.Left) || x.isRed(k.Right) {
			return &InvariantError{Rule: "red-red", Price: k.Price, Detail: "red key has a red child"}
		}

		for _, child := range []uint64{k.Left, k.Right} {
			if child == Sentinel {
				if leafBlacks == -1 {
					leafBlacks = blacks
				} else if blacks != leafBlacks {
					return &InvariantError{Rule: "black-height", Price: k.Price, Detail: fmt.Sprintf("path has %d black keys, want %d", blacks, leafBlacks)}
				}
				continue
			}
			if x.parentOf(child) != k.Price {
				return &InvariantError{Rule: "parent-link", Price: child, Detail: fmt.Sprintf("parent is %d, want %d", x.parentOf(child), k.Price)}
			}
		}

		if k.Left != Sentinel {
			stack = append(stack, verifyFrame{price: k.Left, lo: f.lo, hi: k.Price, blacks: blacks})
		}
		if k.Right != Sentinel {
			stack = append(stack, verifyFrame{price: k.Right, lo: k.Price, hi: f.hi, blacks: blacks})
		}
	}

	if len(visited) != len(x.keys) {
		return &InvariantError{Rule: "unreachable-key", Detail: fmt.Sprintf("%d keys reachable of %d", len(visited), len(x.keys))}
	}
	return nil
}

func (x *Index) verifyChains() error {
	var total uint64
	for price, k := range x.keys {
		if k.Count == 0 {
			return &InvariantError{Rule: "empty-chain", Price: price, Detail: "active price without orders"}
		}

		var n uint64
		prev := Sentinel
		for id := k.Head; id != Sentinel; {
			if n == k.Count {
				return &InvariantError{Rule: "chain-length", Price: price, ID: id, Detail: fmt.Sprintf("chain longer than count %d", k.Count)}
			}
			e, ok := x.orders[id]
			if !ok {
				return &InvariantError{Rule: "dangling-order", Price: price, ID: id, Detail: "chain links an unregistered id"}
			}
			if e.ID != id {
				return &InvariantError{Rule: "entry-id", Price: price, ID: id, Detail: fmt.Sprintf("entry stores id %d", e.ID)}
			}
			if e.Price != price {
				return &InvariantError{Rule: "entry-price", Price: price, ID: id, Detail: fmt.Sprintf("entry stores price %d", e.Price)}
			}
			if e.Prev != prev {
				return &InvariantError{Rule: "prev-link", Price: price, ID: id, Detail: fmt.Sprintf("prev is %d, want %d", e.Prev, prev)}
			}
			prev = id
			id = e.Next
			n++
		}
		if n != k.Count {
			return &InvariantError{Rule: "chain-length", Price: price, Detail: fmt.Sprintf("chain has %d orders, count is %d", n, k.Count)}
		}
		if k.Tail != prev {
			return &InvariantError{Rule: "tail", Price: price, Detail: fmt.Sprintf("tail is %d, want %d", k.Tail, prev)}
		}
		total += n
	}

	if total != uint64(len(x.orders)) {
		return &InvariantError{Rule: "orphan-order", Detail: fmt.Sprintf("%d orders chained of %d registered", total, len(x.orders))}
	}
	return nil
}
