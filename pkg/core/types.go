package core

import "fmt"

// Color is the red-black color flag of a price key
type Color uint8

// Node colors. The zero value is Red so a freshly built key is red.
const (
	Red Color = iota
	Black
)

// String returns color as string
func (c Color) String() string {
	switch c {
	case Red:
		return "RED"
	case Black:
		return "BLACK"
	default:
		return "UNKNOWN"
	}
}

// PriceKey is one tree node: a distinct price holding at least one order.
// Links are prices of the related keys, 0 meaning none.
type PriceKey struct {
	Price  uint64 `json:"price"`
	Parent uint64 `json:"parent"`
	Left   uint64 `json:"left"`
	Right  uint64 `json:"right"`
	Color  Color  `json:"color"`
	Count  uint64 `json:"count"`
	Head   uint64 `json:"head"`
	Tail   uint64 `json:"tail"`
}

// String implements fmt.Stringer interface
func (k *PriceKey) String() string {
	return fmt.Sprintf("price=%d color=%s parent=%d left=%d right=%d count=%d head=%d tail=%d",
		k.Price, k.Color, k.Parent, k.Left, k.Right, k.Count, k.Head, k.Tail)
}

// OrderEntry is the registry record of one resting order.
// Prev and Next are ids of the neighbouring orders at the same price.
type OrderEntry struct {
	ID    uint64 `json:"id"`
	Price uint64 `json:"price"`
	Prev  uint64 `json:"prev"`
	Next  uint64 `json:"next"`
}

// String implements fmt.Stringer interface
func (e *OrderEntry) String() string {
	return fmt.Sprintf("id=%d price=%d prev=%d next=%d", e.ID, e.Price, e.Prev, e.Next)
}

// Level summarises the FIFO chain of one price
type Level struct {
	Price uint64
	Count uint64
	Head  uint64
	Tail  uint64
}

// State is the complete persisted form of an index
type State struct {
	Root   uint64
	Keys   []PriceKey
	Orders []OrderEntry
}

// ChangeSet carries the after-images of every record touched since the
// last commit. A nil value marks a record that no longer exists.
type ChangeSet struct {
	Root   uint64
	Keys   map[uint64]*PriceKey
	Orders map[uint64]*OrderEntry
}

// Empty reports whether the change set touches nothing
func (cs *ChangeSet) Empty() bool {
	return cs == nil || (len(cs.Keys) == 0 && len(cs.Orders) == 0)
}

// InvariantError describes a structural rule broken by an index
type InvariantError struct {
	Rule   string
	Price  uint64
	ID     uint64
	Detail string
}

// Error implements error interface
func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s: %s (price=%d id=%d): %s", ErrCorrupt, e.Rule, e.Price, e.ID, e.Detail)
}

// Unwrap lets errors.Is match ErrCorrupt
func (e *InvariantError) Unwrap() error {
	return ErrCorrupt
}
