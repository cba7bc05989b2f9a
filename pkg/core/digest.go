package core

import (
	"encoding/binary"

	"github.com/zeebo/blake3"
)

// DigestSize is the length of an index digest in bytes
const DigestSize = 32

// Digest hashes the observable order of the index: every (price, id) pair
// from First to Last. Two indexes with equal digests walk identically.
func (x *Index) Digest() [DigestSize]byte {
	h := blake3.New()
	var buf [16]byte
	x.Ascend(func(price, id uint64) bool {
		binary.BigEndian.PutUint64(buf[:8], price)
		binary.BigEndian.PutUint64(buf[8:], id)
		_, _ = h.Write(buf[:])
		return true
	})

	var out [DigestSize]byte
	copy(out[:], h.Sum(nil))
	return out
}
