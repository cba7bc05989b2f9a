package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/erain9/orderindex/pkg/core"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisOptions represents configuration options for Redis connection
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

var defaultOptions = &RedisOptions{
	Addr:     "localhost:6379",
	Password: "",
	DB:       0,
}

// SetDefaultRedisOptions sets the default options for Redis connections
func SetDefaultRedisOptions(options *RedisOptions) {
	defaultOptions = options
}

// GetRedisClient creates a new Redis client using the default options
func GetRedisClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     defaultOptions.Addr,
		Password: defaultOptions.Password,
		DB:       defaultOptions.DB,
	})
}

// Hash fields of a stored price key
const (
	fieldParent = "parent"
	fieldLeft   = "left"
	fieldRight  = "right"
	fieldColor  = "color"
	fieldCount  = "count"
	fieldHead   = "head"
	fieldTail   = "tail"
	fieldPrice  = "price"
	fieldPrev   = "prev"
	fieldNext   = "next"
)

// RedisBackend implements core.Backend with Redis storage.
//
// Layout under the prefix:
//
//	<prefix>:root          string, root price
//	<prefix>:prices        set of active prices
//	<prefix>:price:<p>     hash, one price key
//	<prefix>:orders        set of registered ids
//	<prefix>:order:<id>    hash, one order entry
type RedisBackend struct {
	sync.Mutex
	client    *redis.Client
	ownClient bool
	prefix    string
	rootKey   string
	pricesKey string
	ordersKey string
	logger    *zap.Logger
}

// NewRedisBackend creates a new instance of RedisBackend on a shared client.
// Close leaves the client open.
func NewRedisBackend(client *redis.Client, prefix string, logger *zap.Logger) *RedisBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBackend{
		client:    client,
		prefix:    prefix,
		rootKey:   fmt.Sprintf("%s:root", prefix),
		pricesKey: fmt.Sprintf("%s:prices", prefix),
		ordersKey: fmt.Sprintf("%s:orders", prefix),
		logger:    logger,
	}
}

// NewRedisBackendWithDefaults creates a backend that owns a client built from
// the default options. Close closes that client.
func NewRedisBackendWithDefaults(prefix string, logger *zap.Logger) *RedisBackend {
	b := NewRedisBackend(GetRedisClient(), prefix, logger)
	b.ownClient = true
	return b
}

// Apply writes the change set inside one MULTI/EXEC transaction
func (b *RedisBackend) Apply(ctx context.Context, cs *core.ChangeSet) error {
	if cs == nil {
		return nil
	}

	b.Lock()
	defer b.Unlock()

	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for price, k := range cs.Keys {
			key := b.getPriceKey(price)
			member := strconv.FormatUint(price, 10)
			if k == nil {
				pipe.Del(ctx, key)
				pipe.SRem(ctx, b.pricesKey, member)
				continue
			}
			pipe.HSet(ctx, key, encodeKey(k))
			pipe.SAdd(ctx, b.pricesKey, member)
		}
		for id, e := range cs.Orders {
			key := b.getOrderKey(id)
			member := strconv.FormatUint(id, 10)
			if e == nil {
				pipe.Del(ctx, key)
				pipe.SRem(ctx, b.ordersKey, member)
				continue
			}
			pipe.HSet(ctx, key, encodeOrder(e))
			pipe.SAdd(ctx, b.ordersKey, member)
		}
		pipe.Set(ctx, b.rootKey, strconv.FormatUint(cs.Root, 10), 0)
		return nil
	})
	if err != nil {
		b.logger.Error("failed to apply change set",
			zap.String("prefix", b.prefix),
			zap.Int("keys", len(cs.Keys)),
			zap.Int("orders", len(cs.Orders)),
			zap.Error(err))
		return fmt.Errorf("redis apply: %w", err)
	}
	return nil
}

// Load reads every stored record
func (b *RedisBackend) Load(ctx context.Context) (*core.State, error) {
	b.Lock()
	defer b.Unlock()

	st := &core.State{}

	root, err := b.client.Get(ctx, b.rootKey).Uint64()
	switch {
	case errors.Is(err, redis.Nil):
		root = core.Sentinel
	case err != nil:
		return nil, fmt.Errorf("redis load root: %w", err)
	}
	st.Root = root

	prices, err := b.client.SMembers(ctx, b.pricesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis load prices: %w", err)
	}
	ids, err := b.client.SMembers(ctx, b.ordersKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis load orders: %w", err)
	}

	priceCmds := make([]*redis.MapStringStringCmd, len(prices))
	orderCmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = b.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, p := range prices {
			priceCmds[i] = pipe.HGetAll(ctx, fmt.Sprintf("%s:price:%s", b.prefix, p))
		}
		for i, id := range ids {
			orderCmds[i] = pipe.HGetAll(ctx, fmt.Sprintf("%s:order:%s", b.prefix, id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis load records: %w", err)
	}

	st.Keys = make([]core.PriceKey, 0, len(prices))
	for i, p := range prices {
		k, err := decodeKey(p, priceCmds[i].Val())
		if err != nil {
			b.logger.Error("failed to decode price key",
				zap.String("prefix", b.prefix),
				zap.String("price", p),
				zap.Error(err))
			return nil, err
		}
		st.Keys = append(st.Keys, k)
	}

	st.Orders = make([]core.OrderEntry, 0, len(ids))
	for i, id := range ids {
		e, err := decodeOrder(id, orderCmds[i].Val())
		if err != nil {
			b.logger.Error("failed to decode order entry",
				zap.String("prefix", b.prefix),
				zap.String("orderID", id),
				zap.Error(err))
			return nil, err
		}
		st.Orders = append(st.Orders, e)
	}

	b.logger.Debug("loaded index state",
		zap.String("prefix", b.prefix),
		zap.Int("keys", len(st.Keys)),
		zap.Int("orders", len(st.Orders)))
	return st, nil
}

// Clear removes every record stored under the prefix
func (b *RedisBackend) Clear(ctx context.Context) error {
	st, err := b.Load(ctx)
	if err != nil {
		return err
	}

	b.Lock()
	defer b.Unlock()

	keys := []string{b.rootKey, b.pricesKey, b.ordersKey}
	for _, k := range st.Keys {
		keys = append(keys, b.getPriceKey(k.Price))
	}
	for _, e := range st.Orders {
		keys = append(keys, b.getOrderKey(e.ID))
	}
	return b.client.Del(ctx, keys...).Err()
}

// Close closes the Redis client when the backend owns it
func (b *RedisBackend) Close() error {
	b.Lock()
	defer b.Unlock()
	if !b.ownClient {
		return nil
	}
	return b.client.Close()
}

func (b *RedisBackend) getPriceKey(price uint64) string {
	return fmt.Sprintf("%s:price:%d", b.prefix, price)
}

func (b *RedisBackend) getOrderKey(id uint64) string {
	return fmt.Sprintf("%s:order:%d", b.prefix, id)
}

func encodeKey(k *core.PriceKey) map[string]interface{} {
	return map[string]interface{}{
		fieldParent: k.Parent,
		fieldLeft:   k.Left,
		fieldRight:  k.Right,
		fieldColor:  uint8(k.Color),
		fieldCount:  k.Count,
		fieldHead:   k.Head,
		fieldTail:   k.Tail,
	}
}

func encodeOrder(e *core.OrderEntry) map[string]interface{} {
	return map[string]interface{}{
		fieldPrice: e.Price,
		fieldPrev:  e.Prev,
		fieldNext:  e.Next,
	}
}

// fieldReader parses uint64 hash fields, keeping the first error
type fieldReader struct {
	fields map[string]string
	err    error
}

func (r *fieldReader) uint(name string) uint64 {
	if r.err != nil {
		return 0
	}
	raw, ok := r.fields[name]
	if !ok {
		r.err = fmt.Errorf("%w: missing field %q", core.ErrCorrupt, name)
		return 0
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		r.err = fmt.Errorf("%w: field %q: %v", core.ErrCorrupt, name, err)
	}
	return v
}

func decodeKey(member string, fields map[string]string) (core.PriceKey, error) {
	price, err := strconv.ParseUint(member, 10, 64)
	if err != nil {
		return core.PriceKey{}, fmt.Errorf("%w: price member %q: %v", core.ErrCorrupt, member, err)
	}
	r := &fieldReader{fields: fields}
	k := core.PriceKey{
		Price:  price,
		Parent: r.uint(fieldParent),
		Left:   r.uint(fieldLeft),
		Right:  r.uint(fieldRight),
		Color:  core.Color(r.uint(fieldColor)),
		Count:  r.uint(fieldCount),
		Head:   r.uint(fieldHead),
		Tail:   r.uint(fieldTail),
	}
	return k, r.err
}

func decodeOrder(member string, fields map[string]string) (core.OrderEntry, error) {
	id, err := strconv.ParseUint(member, 10, 64)
	if err != nil {
		return core.OrderEntry{}, fmt.Errorf("%w: order member %q: %v", core.ErrCorrupt, member, err)
	}
	r := &fieldReader{fields: fields}
	e := core.OrderEntry{
		ID:    id,
		Price: r.uint(fieldPrice),
		Prev:  r.uint(fieldPrev),
		Next:  r.uint(fieldNext),
	}
	return e, r.err
}
