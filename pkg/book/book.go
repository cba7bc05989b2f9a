package book

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/erain9/orderindex/pkg/core"
	"github.com/erain9/orderindex/pkg/logging"
	"github.com/erain9/orderindex/pkg/messaging"
	"github.com/erain9/orderindex/pkg/otel"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// ErrClosed is returned by a book used after Close
var ErrClosed = errors.New("book closed")

// Book is a durable order index. Every mutation is applied to the in-memory
// index, persisted through the backend as one change set, and only then
// published. A failed write leaves both the index and the store unchanged.
type Book struct {
	mu      sync.RWMutex
	name    string
	index   *core.Index
	backend core.Backend
	sender  messaging.MessageSender
	metrics *otel.IndexMetrics
	logger  zerolog.Logger
	seq     uint64
	closed  bool
}

// Option configures a Book
type Option func(*Book)

// WithSender publishes an IndexEvent for every committed mutation
func WithSender(sender messaging.MessageSender) Option {
	return func(b *Book) {
		b.sender = sender
	}
}

// WithMetrics records operation metrics on m
func WithMetrics(m *otel.IndexMetrics) Option {
	return func(b *Book) {
		b.metrics = m
	}
}

// WithLogger overrides the logger taken from the Open context
func WithLogger(logger zerolog.Logger) Option {
	return func(b *Book) {
		b.logger = logger
	}
}

// Open loads the persisted state of a book and verifies it
func Open(ctx context.Context, name string, backend core.Backend, opts ...Option) (*Book, error) {
	ctx, span := otel.StartSpan(ctx, otel.SpanLoad, attribute.String(otel.AttributeBook, name))
	defer span.End()

	b := &Book{
		name:    name,
		backend: backend,
		logger:  logging.FromContext(ctx).With().Str("book", name).Logger(),
	}
	for _, opt := range opts {
		opt(b)
	}

	st, err := backend.Load(ctx)
	if err != nil {
		otel.RecordError(span, err)
		b.logger.Error().Err(err).Msg("Failed to load book")
		return nil, fmt.Errorf("load book %s: %w", name, err)
	}

	index, err := core.Restore(st, core.WithJournal())
	if err != nil {
		otel.RecordError(span, err)
		b.logger.Error().Err(err).Msg("Persisted book failed verification")
		return nil, fmt.Errorf("restore book %s: %w", name, err)
	}
	b.index = index

	b.metrics.AddSize(ctx, name, int64(index.Len()), int64(index.Levels()))
	otel.AddAttributes(span,
		attribute.Int(otel.AttributeOrders, index.Len()),
		attribute.Int(otel.AttributeLevels, index.Levels()))
	b.logger.Info().
		Int("orders", index.Len()).
		Int("levels", index.Levels()).
		Msg("Opened book")
	return b, nil
}

// Name returns the book name
func (b *Book) Name() string {
	return b.name
}

// Seq returns the number of mutations committed since Open
func (b *Book) Seq() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seq
}

// Insert rests order id at price behind every order already there
func (b *Book) Insert(ctx context.Context, price, id uint64) error {
	return b.mutate(ctx, "insert", otel.SpanInsert,
		[]attribute.KeyValue{
			attribute.Int64(otel.AttributeOrderID, int64(id)),
			attribute.Int64(otel.AttributePrice, int64(price)),
		},
		func() (*messaging.IndexEvent, error) {
			if err := b.index.Insert(price, id); err != nil {
				return nil, err
			}
			return &messaging.IndexEvent{Type: messaging.EventInserted, OrderID: id, Price: price}, nil
		})
}

// Remove takes order id out of the book
func (b *Book) Remove(ctx context.Context, id uint64) error {
	return b.mutate(ctx, "remove", otel.SpanRemove,
		[]attribute.KeyValue{attribute.Int64(otel.AttributeOrderID, int64(id))},
		func() (*messaging.IndexEvent, error) {
			price, err := b.index.GetNode(id)
			if err != nil {
				return nil, err
			}
			if err := b.index.Remove(id); err != nil {
				return nil, err
			}
			return &messaging.IndexEvent{Type: messaging.EventRemoved, OrderID: id, Price: price}, nil
		})
}

// Reprice moves order id to price as one atomic step. The order goes to the
// back of its new price, even when the price is unchanged.
func (b *Book) Reprice(ctx context.Context, id, price uint64) error {
	return b.mutate(ctx, "reprice", otel.SpanReprice,
		[]attribute.KeyValue{
			attribute.Int64(otel.AttributeOrderID, int64(id)),
			attribute.Int64(otel.AttributePrice, int64(price)),
		},
		func() (*messaging.IndexEvent, error) {
			if price == core.Sentinel {
				return nil, core.ErrInvalidArgument
			}
			prev, err := b.index.GetNode(id)
			if err != nil {
				return nil, err
			}
			if err := b.index.Remove(id); err != nil {
				return nil, err
			}
			if err := b.index.Insert(price, id); err != nil {
				return nil, err
			}
			return &messaging.IndexEvent{Type: messaging.EventRepriced, OrderID: id, Price: price, PrevPrice: prev}, nil
		})
}

// mutate runs op under the write lock, persists its change set and
// publishes the resulting event. Any failure rolls the index back.
func (b *Book) mutate(ctx context.Context, op, spanName string, attrs []attribute.KeyValue, fn func() (*messaging.IndexEvent, error)) error {
	start := time.Now()
	ctx, span := otel.StartSpan(ctx, spanName, append(attrs, attribute.String(otel.AttributeBook, b.name))...)
	defer span.End()

	err := b.apply(ctx, fn)
	b.metrics.RecordOperation(ctx, b.name, op, time.Since(start), errorClass(err))
	if err != nil {
		otel.RecordError(span, err)
		b.logger.Debug().Err(err).Str("op", op).Msg("Operation failed")
	}
	return err
}

func (b *Book) apply(ctx context.Context, fn func() (*messaging.IndexEvent, error)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	orders, levels := b.index.Len(), b.index.Levels()

	ev, err := fn()
	if err != nil {
		b.index.Rollback()
		return err
	}

	if err := b.persist(ctx); err != nil {
		b.index.Rollback()
		b.logger.Error().Err(err).Msg("Failed to persist change set, rolled back")
		return fmt.Errorf("persist: %w", err)
	}
	b.index.Commit()
	b.seq++

	b.metrics.AddSize(ctx, b.name, int64(b.index.Len()-orders), int64(b.index.Levels()-levels))

	// published under the lock so events leave in commit order
	b.publish(ctx, ev)
	return nil
}

func (b *Book) persist(ctx context.Context) error {
	ctx, span := otel.StartSpan(ctx, otel.SpanPersist, attribute.String(otel.AttributeBook, b.name))
	defer span.End()

	cs := b.index.Changes()
	if cs.Empty() {
		return nil
	}
	if err := b.backend.Apply(ctx, cs); err != nil {
		otel.RecordError(span, err)
		return err
	}
	return nil
}

func (b *Book) publish(ctx context.Context, ev *messaging.IndexEvent) {
	if b.sender == nil || ev == nil {
		return
	}

	ctx, span := otel.StartSpan(ctx, otel.SpanPublish, attribute.String(otel.AttributeBook, b.name))
	defer span.End()

	event := messaging.NewIndexEvent(b.name, b.seq, ev.Type, ev.OrderID, ev.Price, ev.PrevPrice)
	if err := b.sender.SendIndexEvent(ctx, event); err != nil {
		otel.RecordError(span, err)
		b.logger.Warn().
			Err(err).
			Str("event_id", event.EventID).
			Uint64("seq", event.Seq).
			Msg("Failed to publish index event")
	}
}

// First returns the oldest order at the lowest price, or 0 when empty
func (b *Book) First() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.index.First()
}

// Last returns the newest order at the highest price, or 0 when empty
func (b *Book) Last() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.index.Last()
}

// Next returns the order after id, or 0 after the last one
func (b *Book) Next(id uint64) (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.index.Next(id)
}

// Prev returns the order before id, or 0 before the first one
func (b *Book) Prev(id uint64) (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.index.Prev(id)
}

// GetNode returns the price order id rests at
func (b *Book) GetNode(id uint64) (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.index.GetNode(id)
}

// Root returns the price at the root of the tree
func (b *Book) Root() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.index.Root()
}

// Len returns the number of resting orders
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.index.Len()
}

// Levels returns the number of active prices
func (b *Book) Levels() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.index.Levels()
}

// Level returns the chain summary of price
func (b *Book) Level(price uint64) (core.Level, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.index.Level(price)
}

// Depth returns the tree height
func (b *Book) Depth() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.index.Depth()
}

// Walk calls fn for every order in price-time order until fn returns false.
// fn must not call back into the book's mutating methods.
func (b *Book) Walk(fn func(price, id uint64) bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	b.index.Ascend(fn)
}

// WalkLevels calls fn for every active price, lowest first
func (b *Book) WalkLevels(fn func(core.Level) bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	last := core.Sentinel
	b.index.Ascend(func(price, _ uint64) bool {
		if price == last {
			return true
		}
		last = price
		lvl, _ := b.index.Level(price)
		return fn(lvl)
	})
}

// Verify checks the structural rules of the in-memory index
func (b *Book) Verify() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.index.Verify()
}

// VerifyStore reloads the persisted state and checks that it verifies and
// walks identically to the in-memory index.
func (b *Book) VerifyStore(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	st, err := b.backend.Load(ctx)
	if err != nil {
		return fmt.Errorf("load book %s: %w", b.name, err)
	}
	stored, err := core.Restore(st)
	if err != nil {
		return err
	}
	if stored.Digest() != b.index.Digest() {
		return &core.InvariantError{Rule: "store-digest", Detail: "persisted order differs from memory"}
	}
	return nil
}

// Digest hashes the traversal order of the book
func (b *Book) Digest() [core.DigestSize]byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.index.Digest()
}

// Snapshot copies the full state of the book
func (b *Book) Snapshot() *core.State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.index.Snapshot()
}

// Close closes the backend. The sender is left to its owner.
func (b *Book) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	b.logger.Info().Uint64("seq", b.seq).Msg("Closing book")
	return b.backend.Close()
}

// errorClass names an error for metrics
func errorClass(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, core.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, core.ErrDuplicateID):
		return "duplicate_id"
	case errors.Is(err, core.ErrNotFound):
		return "not_found"
	case errors.Is(err, core.ErrCorrupt):
		return "corrupt"
	case errors.Is(err, ErrClosed):
		return "closed"
	default:
		return "backend"
	}
}
