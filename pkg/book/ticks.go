package book

import (
	"fmt"
	"math"

	"github.com/erain9/orderindex/pkg/core"
	"github.com/nikolaydubina/fpdecimal"
)

// maxTickKey bounds keys so key*tick stays inside fpdecimal's int64 range
const maxTickKey = 1 << 40

// Ticks maps decimal prices onto integer price keys: key = price / size.
// Only exact multiples of the tick size are valid prices.
type Ticks struct {
	size fpdecimal.Decimal
}

// NewTicks parses the tick size, e.g. "0.01"
func NewTicks(size string) (Ticks, error) {
	d, err := fpdecimal.FromString(size)
	if err != nil {
		return Ticks{}, fmt.Errorf("%w: tick size %q: %v", core.ErrInvalidArgument, size, err)
	}
	if d.LessThanOrEqual(fpdecimal.Zero) {
		return Ticks{}, fmt.Errorf("%w: tick size %q must be positive", core.ErrInvalidArgument, size)
	}
	return Ticks{size: d}, nil
}

// Size returns the tick size
func (t Ticks) Size() fpdecimal.Decimal {
	return t.size
}

// ToKey converts a decimal price to its key
func (t Ticks) ToKey(price string) (uint64, error) {
	d, err := fpdecimal.FromString(price)
	if err != nil {
		return 0, fmt.Errorf("%w: price %q: %v", core.ErrInvalidArgument, price, err)
	}
	return t.KeyOf(d)
}

// KeyOf converts a decimal price to its key
func (t Ticks) KeyOf(price fpdecimal.Decimal) (uint64, error) {
	if price.LessThanOrEqual(fpdecimal.Zero) {
		return 0, fmt.Errorf("%w: price %s must be positive", core.ErrInvalidArgument, price)
	}

	k := math.Round(price.Float64() / t.size.Float64())
	if k < 1 || k > maxTickKey {
		return 0, fmt.Errorf("%w: price %s out of range", core.ErrInvalidArgument, price)
	}
	key := uint64(k)
	if !fpdecimal.FromInt(int64(key)).Mul(t.size).Equal(price) {
		return 0, fmt.Errorf("%w: price %s is not a multiple of tick %s", core.ErrInvalidArgument, price, t.size)
	}
	return key, nil
}

// Price converts a key back to its decimal price
func (t Ticks) Price(key uint64) fpdecimal.Decimal {
	return fpdecimal.FromInt(int64(key)).Mul(t.size)
}

// FromKey formats the decimal price of key
func (t Ticks) FromKey(key uint64) string {
	return t.Price(key).String()
}
