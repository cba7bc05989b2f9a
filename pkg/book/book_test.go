package book

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/erain9/orderindex/pkg/backend/memory"
	"github.com/erain9/orderindex/pkg/core"
	"github.com/erain9/orderindex/pkg/messaging"
	"github.com/erain9/orderindex/pkg/otel"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// flakyBackend wraps a memory backend and fails Apply while failing is set
type flakyBackend struct {
	*memory.MemoryBackend
	failing bool
	applied int
}

var errStoreDown = errors.New("store down")

func (f *flakyBackend) Apply(ctx context.Context, cs *core.ChangeSet) error {
	if f.failing {
		return errStoreDown
	}
	f.applied++
	return f.MemoryBackend.Apply(ctx, cs)
}

func openTestBook(t *testing.T, opts ...Option) (*Book, *flakyBackend) {
	t.Helper()
	backend := &flakyBackend{MemoryBackend: memory.NewMemoryBackend()}
	opts = append([]Option{WithLogger(zerolog.Nop())}, opts...)
	b, err := Open(context.Background(), "test", backend, opts...)
	require.NoError(t, err)
	return b, backend
}

func bookOrder(t *testing.T, b *Book) []uint64 {
	t.Helper()
	var ids []uint64
	b.Walk(func(_, id uint64) bool {
		ids = append(ids, id)
		return true
	})
	return ids
}

func TestBook_InsertRemovePersist(t *testing.T) {
	ctx := context.Background()
	b, backend := openTestBook(t)

	require.NoError(t, b.Insert(ctx, 5, 1))
	require.NoError(t, b.Insert(ctx, 4, 2))
	require.NoError(t, b.Insert(ctx, 6, 3))
	require.NoError(t, b.Insert(ctx, 5, 4))
	assert.Equal(t, []uint64{2, 1, 4, 3}, bookOrder(t, b))
	assert.Equal(t, uint64(4), b.Seq())
	assert.Equal(t, 4, backend.applied)

	require.NoError(t, b.Remove(ctx, 1))
	assert.Equal(t, []uint64{2, 4, 3}, bookOrder(t, b))
	assert.Equal(t, []uint64{4}, backend.Orders(5))

	require.NoError(t, b.VerifyStore(ctx))
	require.NoError(t, b.Verify())
}

func TestBook_ReadOperations(t *testing.T) {
	ctx := context.Background()
	b, _ := openTestBook(t)

	assert.Equal(t, uint64(0), b.First())
	assert.Equal(t, uint64(0), b.Last())
	assert.Equal(t, uint64(0), b.Root())

	require.NoError(t, b.Insert(ctx, 5, 1))
	require.NoError(t, b.Insert(ctx, 4, 2))
	require.NoError(t, b.Insert(ctx, 6, 3))

	assert.Equal(t, uint64(2), b.First())
	assert.Equal(t, uint64(3), b.Last())
	assert.Equal(t, uint64(5), b.Root())
	assert.Equal(t, 3, b.Len())
	assert.Equal(t, 3, b.Levels())
	assert.Equal(t, 2, b.Depth())

	next, err := b.Next(2)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), next)
	prev, err := b.Prev(2)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), prev)

	price, err := b.GetNode(3)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), price)
	_, err = b.GetNode(99)
	assert.ErrorIs(t, err, core.ErrNotFound)

	lvl, ok := b.Level(4)
	require.True(t, ok)
	assert.Equal(t, core.Level{Price: 4, Count: 1, Head: 2, Tail: 2}, lvl)

	var prices []uint64
	b.WalkLevels(func(l core.Level) bool {
		prices = append(prices, l.Price)
		return true
	})
	assert.Equal(t, []uint64{4, 5, 6}, prices)

	st := b.Snapshot()
	assert.Len(t, st.Orders, 3)
	assert.Equal(t, "test", b.Name())
}

func TestBook_Reprice(t *testing.T) {
	ctx := context.Background()
	sender := messaging.NewMockMessageSender()
	b, _ := openTestBook(t, WithSender(sender))

	for i, price := range []uint64{1, 5, 7, 6, 12, 43, 64, 32, 22, 1, 22, 33, 7, 3, 2, 78, 5, 66, 15, 14} {
		require.NoError(t, b.Insert(ctx, price, uint64(i+1)))
	}
	for _, id := range []uint64{7, 8, 13, 16, 14, 2, 1} {
		require.NoError(t, b.Remove(ctx, id))
	}

	require.NoError(t, b.Reprice(ctx, 9, 13))
	assert.Equal(t, []uint64{10, 15, 17, 4, 3, 5, 9, 20, 19, 11, 12, 6, 18}, bookOrder(t, b))

	events := sender.Events()
	require.Len(t, events, 28)
	last := events[len(events)-1]
	assert.Equal(t, messaging.EventRepriced, last.Type)
	assert.Equal(t, uint64(9), last.OrderID)
	assert.Equal(t, uint64(13), last.Price)
	assert.Equal(t, uint64(22), last.PrevPrice)
	assert.Equal(t, uint64(28), last.Seq)
	assert.Equal(t, "test", last.Book)
}

func TestBook_RepriceSamePriceLosesPriority(t *testing.T) {
	ctx := context.Background()
	b, _ := openTestBook(t)
	require.NoError(t, b.Insert(ctx, 10, 1))
	require.NoError(t, b.Insert(ctx, 10, 2))

	require.NoError(t, b.Reprice(ctx, 1, 10))
	assert.Equal(t, []uint64{2, 1}, bookOrder(t, b))
}

func TestBook_RepriceErrors(t *testing.T) {
	ctx := context.Background()
	b, backend := openTestBook(t)
	require.NoError(t, b.Insert(ctx, 10, 1))
	before := b.Digest()
	applied := backend.applied

	assert.ErrorIs(t, b.Reprice(ctx, 1, 0), core.ErrInvalidArgument)
	assert.ErrorIs(t, b.Reprice(ctx, 2, 11), core.ErrNotFound)
	assert.Equal(t, before, b.Digest())
	assert.Equal(t, applied, backend.applied)
	assert.Equal(t, uint64(1), b.Seq())
}

func TestBook_BackendFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	sender := messaging.NewMockMessageSender()
	b, backend := openTestBook(t, WithSender(sender))

	for i, price := range []uint64{5, 4, 6, 5, 9, 1} {
		require.NoError(t, b.Insert(ctx, price, uint64(i+1)))
	}
	snapshot := b.Snapshot()
	stored, err := backend.Load(ctx)
	require.NoError(t, err)

	backend.failing = true
	assert.ErrorIs(t, b.Insert(ctx, 7, 50), errStoreDown)
	assert.ErrorIs(t, b.Remove(ctx, 5), errStoreDown)
	assert.ErrorIs(t, b.Reprice(ctx, 1, 3), errStoreDown)

	// memory and store are both untouched
	assert.Equal(t, snapshot, b.Snapshot())
	require.NoError(t, b.Verify())
	again, err := backend.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, stored.Root, again.Root)
	assert.ElementsMatch(t, stored.Keys, again.Keys)
	assert.ElementsMatch(t, stored.Orders, again.Orders)

	assert.Len(t, sender.Events(), 6)
	assert.Equal(t, uint64(6), b.Seq())

	// recovers once the store is back
	backend.failing = false
	require.NoError(t, b.Insert(ctx, 7, 50))
	require.NoError(t, b.VerifyStore(ctx))
}

func TestBook_SendFailureKeepsCommit(t *testing.T) {
	ctx := context.Background()
	sender := messaging.NewMockMessageSender()
	sender.Err = errors.New("broker down")
	b, _ := openTestBook(t, WithSender(sender))

	require.NoError(t, b.Insert(ctx, 5, 1))
	assert.True(t, b.index.Contains(1))
	require.NoError(t, b.VerifyStore(ctx))
}

func TestBook_ReopenRestoresState(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewMemoryBackend()

	b, err := Open(ctx, "persist", backend, WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	for i, price := range []uint64{3, 1, 4, 1, 5, 9, 2, 6} {
		require.NoError(t, b.Insert(ctx, price, uint64(i+1)))
	}
	require.NoError(t, b.Remove(ctx, 3))
	digest := b.Digest()

	reopened, err := Open(ctx, "persist", backend, WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	assert.Equal(t, digest, reopened.Digest())
	assert.Equal(t, b.First(), reopened.First())
	assert.Equal(t, uint64(0), reopened.Seq())
}

func TestOpen_CorruptStore(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewMemoryBackend()

	// an order entry whose price key was never written
	require.NoError(t, backend.Apply(ctx, &core.ChangeSet{
		Root:   5,
		Orders: map[uint64]*core.OrderEntry{1: {ID: 1, Price: 5}},
	}))

	_, err := Open(ctx, "corrupt", backend, WithLogger(zerolog.Nop()))
	assert.ErrorIs(t, err, core.ErrCorrupt)
}

func TestBook_Closed(t *testing.T) {
	ctx := context.Background()
	b, _ := openTestBook(t)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	assert.ErrorIs(t, b.Insert(ctx, 1, 1), ErrClosed)
	assert.ErrorIs(t, b.Remove(ctx, 1), ErrClosed)
}

func TestBook_ConcurrentInserts(t *testing.T) {
	ctx := context.Background()
	b, _ := openTestBook(t)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id := uint64(w*1000 + i + 1)
				assert.NoError(t, b.Insert(ctx, uint64(i%7+1), id))
				_ = b.First()
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 400, b.Len())
	assert.Equal(t, uint64(400), b.Seq())
	require.NoError(t, b.Verify())
	require.NoError(t, b.VerifyStore(ctx))
}

func TestErrorClass(t *testing.T) {
	assert.Equal(t, "", errorClass(nil))
	assert.Equal(t, "invalid_argument", errorClass(core.ErrInvalidArgument))
	assert.Equal(t, "duplicate_id", errorClass(core.ErrDuplicateID))
	assert.Equal(t, "not_found", errorClass(core.ErrNotFound))
	assert.Equal(t, "corrupt", errorClass(&core.InvariantError{Rule: "x"}))
	assert.Equal(t, "closed", errorClass(ErrClosed))
	assert.Equal(t, "backend", errorClass(errStoreDown))
}

func TestBook_Metrics(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(ctx) }()

	metrics, err := otel.NewIndexMetrics(provider.Meter("test"))
	require.NoError(t, err)
	b, _ := openTestBook(t, WithMetrics(metrics))

	require.NoError(t, b.Insert(ctx, 5, 1))
	require.NoError(t, b.Insert(ctx, 5, 2))
	require.NoError(t, b.Insert(ctx, 6, 3))
	require.NoError(t, b.Remove(ctx, 3))
	assert.ErrorIs(t, b.Insert(ctx, 7, 1), core.ErrDuplicateID)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if data, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range data.DataPoints {
					sums[m.Name] += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(5), sums["orderindex.operations.total"])
	assert.Equal(t, int64(1), sums["orderindex.errors.total"])
	assert.Equal(t, int64(2), sums["orderindex.orders"])
	assert.Equal(t, int64(1), sums["orderindex.levels"])
}
