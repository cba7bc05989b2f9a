package main

import (
	"context"
	"fmt"

	"github.com/erain9/orderindex/pkg/backend/memory"
	"github.com/erain9/orderindex/pkg/book"
	"github.com/erain9/orderindex/pkg/core"
)

func walk(x *core.Index) []uint64 {
	var ids []uint64
	for id := x.First(); id != core.Sentinel; {
		ids = append(ids, id)
		next, err := x.Next(id)
		if err != nil {
			panic(err)
		}
		id = next
	}
	return ids
}

func mustInsert(x *core.Index, price, id uint64) {
	if err := x.Insert(price, id); err != nil {
		panic(err)
	}
}

func mustRemove(x *core.Index, id uint64) {
	if err := x.Remove(id); err != nil {
		panic(err)
	}
}

func main() {
	// A small book: three prices, one order each
	small := core.NewIndex()
	mustInsert(small, 5, 1)
	mustInsert(small, 4, 2)
	mustInsert(small, 6, 3)
	fmt.Printf("small book: root price=%d first=%d last=%d order=%v\n",
		small.Root(), small.First(), small.Last(), walk(small))

	// Twenty orders, some sharing a price
	large := core.NewIndex()
	prices := []uint64{1, 5, 7, 6, 12, 43, 64, 32, 22, 1, 22, 33, 7, 3, 2, 78, 5, 66, 15, 14}
	for i, p := range prices {
		mustInsert(large, p, uint64(i+1))
	}
	fmt.Printf("large book: %v\n", walk(large))

	// Removing orders keeps the rest in price-time order
	for _, id := range []uint64{7, 8, 13, 16, 14, 2, 1} {
		mustRemove(large, id)
	}
	fmt.Printf("after removals: %v\n", walk(large))

	// A re-inserted order goes to the back of its new price
	mustRemove(large, 9)
	mustInsert(large, 13, 9)
	fmt.Printf("after reinsertion: %v (depth %d, %d levels)\n", walk(large), large.Depth(), large.Levels())

	// The same flow through a durable book with decimal prices
	ctx := context.Background()
	b, err := book.Open(ctx, "example", memory.NewMemoryBackend())
	if err != nil {
		panic(err)
	}
	defer b.Close()

	ticks, err := book.NewTicks("0.25")
	if err != nil {
		panic(err)
	}
	for i, p := range []string{"100.25", "99.75", "100.25", "101.00"} {
		key, err := ticks.ToKey(p)
		if err != nil {
			panic(err)
		}
		if err := b.Insert(ctx, key, uint64(i+1)); err != nil {
			panic(err)
		}
	}
	if err := b.Reprice(ctx, 1, 404); err != nil {
		panic(err)
	}

	fmt.Println("\ndurable book:")
	b.Walk(func(price, id uint64) bool {
		fmt.Printf("- order %d at %s\n", id, ticks.FromKey(price))
		return true
	})
	if err := b.VerifyStore(ctx); err != nil {
		panic(err)
	}
	fmt.Printf("store verified, %d orders in %d levels\n", b.Len(), b.Levels())
}
