package core

// Red-black tree over price keys.
//
// Nodes are addressed by their price and all links are prices, so the
// sentinel 0 plays the role of the nil leaf: it is black and has no
// children. Fixups walk upward through parent links instead of recursing.

func (x *Index) key(price uint64) *PriceKey {
	if price == Sentinel {
		return nil
	}
	return x.keys[price]
}

func (x *Index) parentOf(price uint64) uint64 {
	if k := x.key(price); k != nil {
		return k.Parent
	}
	return Sentinel
}

func (x *Index) leftOf(price uint64) uint64 {
	if k := x.key(price); k != nil {
		return k.Left
	}
	return Sentinel
}

func (x *Index) rightOf(price uint64) uint64 {
	if k := x.key(price); k != nil {
		return k.Right
	}
	return Sentinel
}

func (x *Index) isRed(price uint64) bool {
	k := x.key(price)
	return k != nil && k.Color == Red
}

func (x *Index) colorOf(price uint64) Color {
	if x.isRed(price) {
		return Red
	}
	return Black
}

func (x *Index) setColor(price uint64, c Color) {
	if price == Sentinel {
		return
	}
	x.mutKey(price).Color = c
}

func (x *Index) setParent(price, parent uint64) {
	if price == Sentinel {
		return
	}
	x.mutKey(price).Parent = parent
}

// leftmost returns the smallest price in the subtree rooted at price
func (x *Index) leftmost(price uint64) uint64 {
	if price == Sentinel {
		return Sentinel
	}
	for l := x.leftOf(price); l != Sentinel; l = x.leftOf(price) {
		price = l
	}
	return price
}

// rightmost returns the largest price in the subtree rooted at price
func (x *Index) rightmost(price uint64) uint64 {
	if price == Sentinel {
		return Sentinel
	}
	for r := x.rightOf(price); r != Sentinel; r = x.rightOf(price) {
		price = r
	}
	return price
}

// successor returns the next larger active price, or 0
func (x *Index) successor(price uint64) uint64 {
	if r := x.rightOf(price); r != Sentinel {
		return x.leftmost(r)
	}
	p := x.parentOf(price)
	for p != Sentinel && price == x.rightOf(p) {
		price = p
		p = x.parentOf(p)
	}
	return p
}

// predecessor returns the next smaller active price, or 0
func (x *Index) predecessor(price uint64) uint64 {
	if l := x.leftOf(price); l != Sentinel {
		return x.rightmost(l)
	}
	p := x.parentOf(price)
	for p != Sentinel && price == x.leftOf(p) {
		price = p
		p = x.parentOf(p)
	}
	return p
}

// replaceChild points parent's link that referenced old at repl.
// A zero parent means old was the root.
func (x *Index) replaceChild(parent, old, repl uint64) {
	if parent == Sentinel {
		x.setRoot(repl)
		return
	}
	pk := x.mutKey(parent)
	if pk.Left == old {
		pk.Left = repl
	} else {
		pk.Right = repl
	}
}

func (x *Index) rotateLeft(price uint64) {
	n := x.mutKey(price)
	r := n.Right
	rn := x.mutKey(r)

	n.Right = rn.Left
	x.setParent(rn.Left, price)

	rn.Parent = n.Parent
	x.replaceChild(n.Parent, price, r)

	rn.Left = price
	n.Parent = r
}

func (x *Index) rotateRight(price uint64) {
	n := x.mutKey(price)
	l := n.Left
	ln := x.mutKey(l)

	n.Left = ln.Right
	x.setParent(ln.Right, price)

	ln.Parent = n.Parent
	x.replaceChild(n.Parent, price, l)

	ln.Right = price
	n.Parent = l
}

// findOrCreate returns the key for price, inserting a new red leaf and
// rebalancing when the price is not active yet.
func (x *Index) findOrCreate(price uint64) *PriceKey {
	parent := Sentinel
	cur := x.root
	for cur != Sentinel {
		parent = cur
		switch {
		case price < cur:
			cur = x.leftOf(cur)
		case price > cur:
			cur = x.rightOf(cur)
		default:
			return x.mutKey(cur)
		}
	}

	x.touchKey(price)
	x.keys[price] = &PriceKey{Price: price, Parent: parent, Color: Red}

	switch {
	case parent == Sentinel:
		x.setRoot(price)
	case price < parent:
		x.mutKey(parent).Left = price
	default:
		x.mutKey(parent).Right = price
	}

	x.insertFixup(price)
	return x.mutKey(price)
}

func (x *Index) insertFixup(z uint64) {
	for z != x.root && x.isRed(x.parentOf(z)) {
		p := x.parentOf(z)
		g := x.parentOf(p)

		if p == x.leftOf(g) {
			u := x.rightOf(g)
			if x.isRed(u) {
				x.setColor(p, Black)
				x.setColor(u, Black)
				x.setColor(g, Red)
				z = g
				continue
			}
			if z == x.rightOf(p) {
				z = p
				x.rotateLeft(z)
				p = x.parentOf(z)
				g = x.parentOf(p)
			}
			x.setColor(p, Black)
			x.setColor(g, Red)
			x.rotateRight(g)
		} else {
			u := x.leftOf(g)
			if x.isRed(u) {
				x.setColor(p, Black)
				x.setColor(u, Black)
				x.setColor(g, Red)
				z = g
				continue
			}
			if z == x.leftOf(p) {
				z = p
				x.rotateRight(z)
				p = x.parentOf(z)
				g = x.parentOf(p)
			}
			x.setColor(p, Black)
			x.setColor(g, Red)
			x.rotateLeft(g)
		}
	}
	x.setColor(x.root, Black)
}

// transplant replaces the subtree rooted at u with the one rooted at v
func (x *Index) transplant(u, v uint64) {
	up := x.parentOf(u)
	x.replaceChild(up, u, v)
	x.setParent(v, up)
}

// deleteKey detaches the key of price from the tree and rebalances.
// The key's chain must already be empty.
func (x *Index) deleteKey(price uint64) {
	z := x.key(price)
	if z == nil {
		return
	}

	var child, childParent uint64
	removedColor := z.Color

	switch {
	case z.Left == Sentinel:
		child = z.Right
		childParent = z.Parent
		x.transplant(price, z.Right)
	case z.Right == Sentinel:
		child = z.Left
		childParent = z.Parent
		x.transplant(price, z.Left)
	default:
		y := x.leftmost(z.Right)
		removedColor = x.colorOf(y)
		child = x.rightOf(y)
		if x.parentOf(y) == price {
			childParent = y
		} else {
			childParent = x.parentOf(y)
			x.transplant(y, child)
			yk := x.mutKey(y)
			yk.Right = z.Right
			x.setParent(yk.Right, y)
		}
		x.transplant(price, y)
		yk := x.mutKey(y)
		yk.Left = z.Left
		x.setParent(yk.Left, y)
		yk.Color = z.Color
	}

	x.touchKey(price)
	delete(x.keys, price)

	if removedColor == Black {
		x.deleteFixup(child, childParent)
	}
}

func (x *Index) deleteFixup(n, parent uint64) {
	for n != x.root && !x.isRed(n) {
		if n == x.leftOf(parent) {
			w := x.rightOf(parent)
			if x.isRed(w) {
				x.setColor(w, Black)
				x.setColor(parent, Red)
				x.rotateLeft(parent)
				w = x.rightOf(parent)
			}
			if !x.isRed(x.leftOf(w)) && !x.isRed(x.rightOf(w)) {
				x.setColor(w, Red)
				n = parent
				parent = x.parentOf(n)
				continue
			}
			if !x.isRed(x.rightOf(w)) {
				x.setColor(x.leftOf(w), Black)
				x.setColor(w, Red)
				x.rotateRight(w)
				w = x.rightOf(parent)
			}
			x.setColor(w, x.colorOf(parent))
			x.setColor(parent, Black)
			x.setColor(x.rightOf(w), Black)
			x.rotateLeft(parent)
			n = x.root
		} else {
			w := x.leftOf(parent)
			if x.isRed(w) {
				x.setColor(w, Black)
				x.setColor(parent, Red)
				x.rotateRight(parent)
				w = x.leftOf(parent)
			}
			if !x.isRed(x.rightOf(w)) && !x.isRed(x.leftOf(w)) {
				x.setColor(w, Red)
				n = parent
				parent = x.parentOf(n)
				continue
			}
			if !x.isRed(x.leftOf(w)) {
				x.setColor(x.rightOf(w), Black)
				x.setColor(w, Red)
				x.rotateLeft(w)
				w = x.leftOf(parent)
			}
			x.setColor(w, x.colorOf(parent))
			x.setColor(parent, Black)
			x.setColor(x.leftOf(w), Black)
			x.rotateRight(parent)
			n = x.root
		}
	}
	x.setColor(n, Black)
}
