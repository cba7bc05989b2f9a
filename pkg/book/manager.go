package book

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/erain9/orderindex/pkg/backend/memory"
	"github.com/erain9/orderindex/pkg/backend/pebble"
	"github.com/erain9/orderindex/pkg/backend/redis"
	"github.com/erain9/orderindex/pkg/core"
	"github.com/erain9/orderindex/pkg/logging"
	"github.com/erain9/orderindex/pkg/messaging"
	"github.com/erain9/orderindex/pkg/otel"
	redisClient "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.uber.org/zap"
)

var (
	// ErrBookExists is returned when trying to create a book that already exists
	ErrBookExists = errors.New("book with this name already exists")

	// ErrBookNotFound is returned when trying to access a non-existent book
	ErrBookNotFound = errors.New("book not found")
)

// Backend names reported in BookInfo
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendPebble = "pebble"
)

// BookInfo contains metadata about a book
type BookInfo struct {
	Name      string
	Backend   string
	CreatedAt time.Time
}

// RedisOptions selects the Redis server and key prefix of a book
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Manager manages multiple named books sharing a sender, metrics and a
// pool of Redis clients.
type Manager struct {
	mu        sync.RWMutex
	books     map[string]*Book
	info      map[string]*BookInfo
	redisPool map[string]*redisClient.Client
	sender    messaging.MessageSender
	metrics   *otel.IndexMetrics
	zapLogger *zap.Logger
	dataDir   string
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithEventSender publishes events of every managed book to sender.
// The manager closes the sender on Close.
func WithEventSender(sender messaging.MessageSender) ManagerOption {
	return func(m *Manager) {
		m.sender = sender
	}
}

// WithIndexMetrics records metrics of every managed book
func WithIndexMetrics(metrics *otel.IndexMetrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithZapLogger sets the logger handed to Redis backends
func WithZapLogger(logger *zap.Logger) ManagerOption {
	return func(m *Manager) {
		m.zapLogger = logger
	}
}

// WithDataDir sets the directory pebble books live under
func WithDataDir(dir string) ManagerOption {
	return func(m *Manager) {
		m.dataDir = dir
	}
}

// NewManager creates a new Manager
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		books:     make(map[string]*Book),
		info:      make(map[string]*BookInfo),
		redisPool: make(map[string]*redisClient.Client),
		zapLogger: zap.NewNop(),
		dataDir:   "data",
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) bookOptions() []Option {
	var opts []Option
	if m.sender != nil {
		opts = append(opts, WithSender(m.sender))
	}
	if m.metrics != nil {
		opts = append(opts, WithMetrics(m.metrics))
	}
	return opts
}

// register opens a book on backend and stores it. The caller holds m.mu.
func (m *Manager) register(ctx context.Context, logger zerolog.Logger, name, kind string, backend core.Backend) (*BookInfo, error) {
	b, err := Open(ctx, name, backend, m.bookOptions()...)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	m.books[name] = b
	info := &BookInfo{
		Name:      name,
		Backend:   kind,
		CreatedAt: time.Now(),
	}
	m.info[name] = info

	logger.Info().
		Str("backend", kind).
		Int("orders", b.Len()).
		Msg("Registered book")
	return info, nil
}

// CreateMemoryBook creates a new book with in-memory backend
func (m *Manager) CreateMemoryBook(ctx context.Context, name string) (*BookInfo, error) {
	logger := logging.FromContext(ctx).With().Str("book", name).Logger()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.books[name]; exists {
		logger.Error().Msg("Book already exists")
		return nil, ErrBookExists
	}

	return m.register(ctx, logger, name, BackendMemory, memory.NewMemoryBackend())
}

// CreateRedisBook creates a new book with Redis backend. Clients are pooled
// by address and database.
func (m *Manager) CreateRedisBook(ctx context.Context, name string, opts RedisOptions) (*BookInfo, error) {
	logger := logging.FromContext(ctx).With().Str("book", name).Logger()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.books[name]; exists {
		logger.Error().Msg("Book already exists")
		return nil, ErrBookExists
	}

	if opts.Addr == "" {
		opts.Addr = "localhost:6379"
	}
	if opts.Prefix == "" {
		opts.Prefix = "orderindex:" + name
	}

	redisKey := opts.Addr + ":" + strconv.Itoa(opts.DB)
	client, exists := m.redisPool[redisKey]
	if !exists {
		client = redisClient.NewClient(&redisClient.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		})

		if _, err := client.Ping(ctx).Result(); err != nil {
			logger.Error().Err(err).Str("addr", opts.Addr).Msg("Failed to connect to Redis")
			_ = client.Close()
			return nil, err
		}

		m.redisPool[redisKey] = client
	}

	backend := redis.NewRedisBackend(client, opts.Prefix, m.zapLogger.With(zap.String("book", name)))
	info, err := m.register(ctx, logger, name, BackendRedis, backend)
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("addr", opts.Addr).
		Int("db", opts.DB).
		Str("prefix", opts.Prefix).
		Msg("Created new Redis book")
	return info, nil
}

// CreatePebbleBook creates a new book stored in its own pebble directory
func (m *Manager) CreatePebbleBook(ctx context.Context, name string) (*BookInfo, error) {
	logger := logging.FromContext(ctx).With().Str("book", name).Logger()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.books[name]; exists {
		logger.Error().Msg("Book already exists")
		return nil, ErrBookExists
	}

	dir := filepath.Join(m.dataDir, filepath.FromSlash(name))
	backend, err := pebble.Open(dir, logger)
	if err != nil {
		logger.Error().Err(err).Str("dir", dir).Msg("Failed to open pebble store")
		return nil, err
	}

	return m.register(ctx, logger, name, BackendPebble, backend)
}

// GetBook retrieves a book by name
func (m *Manager) GetBook(ctx context.Context, name string) (*Book, *BookInfo, error) {
	logger := logging.FromContext(ctx).With().Str("book", name).Logger()

	m.mu.RLock()
	defer m.mu.RUnlock()

	b, exists := m.books[name]
	if !exists {
		logger.Debug().Msg("Book not found")
		return nil, nil, ErrBookNotFound
	}

	return b, m.info[name], nil
}

// DeleteBook closes a book and forgets it. Persisted state is kept.
func (m *Manager) DeleteBook(ctx context.Context, name string) error {
	logger := logging.FromContext(ctx).With().Str("book", name).Logger()

	m.mu.Lock()
	defer m.mu.Unlock()

	b, exists := m.books[name]
	if !exists {
		logger.Debug().Msg("Book not found")
		return ErrBookNotFound
	}

	delete(m.books, name)
	delete(m.info, name)

	if err := b.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close book")
		return fmt.Errorf("close book %s: %w", name, err)
	}

	logger.Info().Msg("Deleted book")
	return nil
}

// ListBooks returns information about all books sorted by name
func (m *Manager) ListBooks(ctx context.Context) []*BookInfo {
	logger := logging.FromContext(ctx)

	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*BookInfo, 0, len(m.info))
	for _, info := range m.info {
		result = append(result, info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })

	logger.Debug().Int("count", len(result)).Msg("Listed books")
	return result
}

// Close closes every book, the Redis clients and the sender
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for name, b := range m.books {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close book %s: %w", name, err))
		}
	}
	for _, client := range m.redisPool {
		if err := client.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if m.sender != nil {
		if err := m.sender.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	m.books = make(map[string]*Book)
	m.info = make(map[string]*BookInfo)
	m.redisPool = make(map[string]*redisClient.Client)
	return errors.Join(errs...)
}

// LogBookSummary logs summary information about a book
func LogBookSummary(logger zerolog.Logger, b *Book, info *BookInfo) {
	logger.Info().
		Str("name", info.Name).
		Str("backend", info.Backend).
		Time("created_at", info.CreatedAt).
		Int("orders", b.Len()).
		Int("levels", b.Levels()).
		Int("depth", b.Depth()).
		Uint64("seq", b.Seq()).
		Msg("Book summary")
}
