package pebble

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/erain9/orderindex/pkg/core"
)

const (
	priceKeySize   = 6*8 + 1
	orderEntrySize = 3 * 8
)

var (
	pricePrefix = []byte("price/")
	orderPrefix = []byte("order/")
	rootKey     = []byte("meta/root")
)

func priceKeyFor(price uint64) []byte {
	return []byte(fmt.Sprintf("price/%020d", price))
}

func orderKeyFor(id uint64) []byte {
	return []byte(fmt.Sprintf("order/%020d", id))
}

func parseKey(prefix, b []byte) (uint64, error) {
	var n uint64
	_, err := fmt.Sscanf(string(bytes.TrimPrefix(b, prefix)), "%d", &n)
	if err != nil {
		return 0, fmt.Errorf("%w: key %q: %v", core.ErrCorrupt, b, err)
	}
	return n, nil
}

// encodePriceKey layout: parent | left | right | count | head | tail | color
func encodePriceKey(k *core.PriceKey) []byte {
	b := make([]byte, priceKeySize)
	binary.BigEndian.PutUint64(b[0:8], k.Parent)
	binary.BigEndian.PutUint64(b[8:16], k.Left)
	binary.BigEndian.PutUint64(b[16:24], k.Right)
	binary.BigEndian.PutUint64(b[24:32], k.Count)
	binary.BigEndian.PutUint64(b[32:40], k.Head)
	binary.BigEndian.PutUint64(b[40:48], k.Tail)
	b[48] = byte(k.Color)
	return b
}

func decodePriceKey(price uint64, b []byte) (core.PriceKey, error) {
	if len(b) != priceKeySize {
		return core.PriceKey{}, fmt.Errorf("%w: price %d record has %d bytes", core.ErrCorrupt, price, len(b))
	}
	return core.PriceKey{
		Price:  price,
		Parent: binary.BigEndian.Uint64(b[0:8]),
		Left:   binary.BigEndian.Uint64(b[8:16]),
		Right:  binary.BigEndian.Uint64(b[16:24]),
		Count:  binary.BigEndian.Uint64(b[24:32]),
		Head:   binary.BigEndian.Uint64(b[32:40]),
		Tail:   binary.BigEndian.Uint64(b[40:48]),
		Color:  core.Color(b[48]),
	}, nil
}

// encodeOrderEntry layout: price | prev | next
func encodeOrderEntry(e *core.OrderEntry) []byte {
	b := make([]byte, orderEntrySize)
	binary.BigEndian.PutUint64(b[0:8], e.Price)
	binary.BigEndian.PutUint64(b[8:16], e.Prev)
	binary.BigEndian.PutUint64(b[16:24], e.Next)
	return b
}

func decodeOrderEntry(id uint64, b []byte) (core.OrderEntry, error) {
	if len(b) != orderEntrySize {
		return core.OrderEntry{}, fmt.Errorf("%w: order %d record has %d bytes", core.ErrCorrupt, id, len(b))
	}
	return core.OrderEntry{
		ID:    id,
		Price: binary.BigEndian.Uint64(b[0:8]),
		Prev:  binary.BigEndian.Uint64(b[8:16]),
		Next:  binary.BigEndian.Uint64(b[16:24]),
	}, nil
}

func encodeRoot(root uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, root)
	return b
}

func decodeRoot(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("%w: root record has %d bytes", core.ErrCorrupt, len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}
