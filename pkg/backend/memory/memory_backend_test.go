package memory

import (
	"context"
	"testing"

	"github.com/erain9/orderindex/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// persist runs op on a journaled index and applies its changes to the backend
func persist(t *testing.T, backend *MemoryBackend, x *core.Index, op func() error) {
	t.Helper()
	require.NoError(t, op())
	require.NoError(t, backend.Apply(context.Background(), x.Changes()))
	x.Commit()
}

func TestNewMemoryBackend(t *testing.T) {
	backend := NewMemoryBackend()
	assert.NotNil(t, backend)
	assert.NotNil(t, backend.keys)
	assert.NotNil(t, backend.orders)

	st, err := backend.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), st.Root)
	assert.Empty(t, st.Keys)
	assert.Empty(t, st.Orders)
}

func TestMemoryBackend_ApplyAndLoad(t *testing.T) {
	backend := NewMemoryBackend()
	x := core.NewIndex(core.WithJournal())

	inserts := []struct{ price, id uint64 }{{5, 1}, {4, 2}, {6, 3}, {6, 4}, {5, 5}}
	for _, in := range inserts {
		in := in
		persist(t, backend, x, func() error { return x.Insert(in.price, in.id) })
	}

	assert.Equal(t, []uint64{4, 5, 6}, backend.Prices())
	assert.Equal(t, []uint64{1, 5}, backend.Orders(5))
	assert.Equal(t, []uint64{3, 4}, backend.Orders(6))
	assert.Nil(t, backend.Orders(7))

	st, err := backend.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, x.Root(), st.Root)

	y, err := core.Restore(st)
	require.NoError(t, err)
	assert.Equal(t, x.Digest(), y.Digest())
}

func TestMemoryBackend_ApplyDeletes(t *testing.T) {
	backend := NewMemoryBackend()
	x := core.NewIndex(core.WithJournal())

	persist(t, backend, x, func() error { return x.Insert(5, 1) })
	persist(t, backend, x, func() error { return x.Insert(7, 2) })
	persist(t, backend, x, func() error { return x.Remove(2) })

	assert.Equal(t, []uint64{5}, backend.Prices())
	_, ok := backend.Order(2)
	assert.False(t, ok)

	e, ok := backend.Order(1)
	require.True(t, ok)
	assert.Equal(t, core.OrderEntry{ID: 1, Price: 5}, e)

	persist(t, backend, x, func() error { return x.Remove(1) })
	st, err := backend.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), st.Root)
	assert.Empty(t, st.Keys)
	assert.Empty(t, st.Orders)
}

func TestMemoryBackend_LoadReturnsCopies(t *testing.T) {
	backend := NewMemoryBackend()
	x := core.NewIndex(core.WithJournal())
	persist(t, backend, x, func() error { return x.Insert(5, 1) })

	st, err := backend.Load(context.Background())
	require.NoError(t, err)
	st.Keys[0].Count = 42
	st.Orders[0].Price = 42

	again, err := backend.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), again.Keys[0].Count)
	assert.Equal(t, uint64(5), again.Orders[0].Price)
}

func TestMemoryBackend_NilChangeSet(t *testing.T) {
	backend := NewMemoryBackend()
	assert.NoError(t, backend.Apply(context.Background(), nil))
}

func TestMemoryBackend_CancelledContext(t *testing.T) {
	backend := NewMemoryBackend()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, backend.Apply(ctx, &core.ChangeSet{}), context.Canceled)
	_, err := backend.Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryBackend_Closed(t *testing.T) {
	backend := NewMemoryBackend()
	require.NoError(t, backend.Close())

	assert.ErrorIs(t, backend.Apply(context.Background(), &core.ChangeSet{}), ErrClosed)
	_, err := backend.Load(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemoryBackend_String(t *testing.T) {
	backend := NewMemoryBackend()
	x := core.NewIndex(core.WithJournal())
	persist(t, backend, x, func() error { return x.Insert(5, 1) })
	persist(t, backend, x, func() error { return x.Insert(5, 2) })
	persist(t, backend, x, func() error { return x.Insert(3, 3) })

	assert.Equal(t, "\n3 -> orders: 1\n5 -> orders: 2", backend.String())
}
