package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/erain9/orderindex/pkg/backend/memory"
	"github.com/erain9/orderindex/pkg/backend/pebble"
	"github.com/erain9/orderindex/pkg/book"
	"github.com/erain9/orderindex/pkg/core"
	"github.com/erain9/orderindex/pkg/logging"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// idStride separates the id ranges of workers
const idStride = 1 << 32

type options struct {
	workers   int
	ops       int
	rate      int
	prices    int
	removePct int
	backend   string
	dataDir   string
	seed      int64
}

// result is what one run measured
type result struct {
	insert   *hdrhistogram.Histogram
	remove   *hdrhistogram.Histogram
	errors   int
	duration time.Duration
}

func main() {
	opts := options{}
	flag.IntVar(&opts.workers, "workers", 8, "Concurrent workers")
	flag.IntVar(&opts.ops, "ops", 10000, "Operations per worker")
	flag.IntVar(&opts.rate, "rate", 0, "Operations per second across workers, 0 for unlimited")
	flag.IntVar(&opts.prices, "prices", 500, "Number of distinct price keys")
	flag.IntVar(&opts.removePct, "remove_pct", 40, "Share of operations that remove a resting order")
	flag.StringVar(&opts.backend, "backend", "memory", "Store backend: memory or pebble")
	flag.StringVar(&opts.dataDir, "data_dir", "", "Pebble directory, a temporary one when empty")
	flag.Int64Var(&opts.seed, "seed", time.Now().UnixNano(), "Random seed")
	logLevel := flag.String("log_level", "info", "Log level")
	flag.Parse()

	logging.Setup(logging.Config{Level: *logLevel, Pretty: true, Output: os.Stderr})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, opts)
	cancel()
	os.Exit(code)
}

// run executes one load test and returns the process exit code. The book and
// any temporary store are released before it returns.
func run(ctx context.Context, opts options) int {
	backend, cleanup, err := openBackend(opts)
	if err != nil {
		log.Error().Err(err).Msg("Failed to open backend")
		return 1
	}
	defer cleanup()

	b, err := book.Open(ctx, "load-test", backend)
	if err != nil {
		log.Error().Err(err).Msg("Failed to open book")
		_ = backend.Close()
		return 1
	}
	defer b.Close()

	log.Info().
		Int("workers", opts.workers).
		Int("ops_per_worker", opts.ops).
		Int("rate", opts.rate).
		Str("backend", opts.backend).
		Int64("seed", opts.seed).
		Msg("Starting load test")

	res := runLoad(ctx, b, opts)
	report(res)

	if err := b.Verify(); err != nil {
		log.Error().Err(err).Msg("Index failed verification")
		return 1
	}
	if err := b.VerifyStore(ctx); err != nil {
		log.Error().Err(err).Msg("Store differs from index")
		return 1
	}
	log.Info().Int("orders", b.Len()).Int("levels", b.Levels()).Int("depth", b.Depth()).Msg("Book verified")

	if res.errors > 0 {
		return 1
	}
	return 0
}

func openBackend(opts options) (core.Backend, func(), error) {
	if opts.backend != "pebble" {
		return memory.NewMemoryBackend(), func() {}, nil
	}

	dir := opts.dataDir
	cleanup := func() {}
	if dir == "" {
		tmp, err := os.MkdirTemp("", "orderindex-loadtest-")
		if err != nil {
			return nil, nil, err
		}
		dir = tmp
		cleanup = func() { _ = os.RemoveAll(tmp) }
	}

	backend, err := pebble.Open(dir, log.Logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return backend, cleanup, nil
}

func newHistogram() *hdrhistogram.Histogram {
	// 1µs to 10s at 3 significant figures
	return hdrhistogram.New(1, 10_000_000, 3)
}

// runLoad drives random inserts and removes from every worker. Each worker
// owns a disjoint id range so only the book's lock is contended.
func runLoad(ctx context.Context, b *book.Book, opts options) result {
	limit := rate.Inf
	if opts.rate > 0 {
		limit = rate.Limit(opts.rate)
	}
	limiter := rate.NewLimiter(limit, max(opts.workers, 1))

	res := result{insert: newHistogram(), remove: newHistogram()}
	var mu sync.Mutex
	var wg sync.WaitGroup

	start := time.Now()
	for w := 0; w < opts.workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()

			r := rand.New(rand.NewSource(opts.seed + int64(worker)))
			ins, rem := newHistogram(), newHistogram()
			var resting []uint64
			next := uint64(worker)*idStride + 1
			errs := 0

			for i := 0; i < opts.ops; i++ {
				if err := limiter.Wait(ctx); err != nil {
					break
				}

				if len(resting) > 0 && r.Intn(100) < opts.removePct {
					j := r.Intn(len(resting))
					id := resting[j]
					t0 := time.Now()
					err := b.Remove(ctx, id)
					_ = rem.RecordValue(time.Since(t0).Microseconds())
					if err != nil {
						errs++
						continue
					}
					resting[j] = resting[len(resting)-1]
					resting = resting[:len(resting)-1]
					continue
				}

				price := uint64(r.Intn(opts.prices) + 1)
				t0 := time.Now()
				err := b.Insert(ctx, price, next)
				_ = ins.RecordValue(time.Since(t0).Microseconds())
				if err != nil {
					errs++
					continue
				}
				resting = append(resting, next)
				next++
			}

			mu.Lock()
			res.insert.Merge(ins)
			res.remove.Merge(rem)
			res.errors += errs
			mu.Unlock()
		}(w)
	}
	wg.Wait()
	res.duration = time.Since(start)
	return res
}

func report(res result) {
	total := res.insert.TotalCount() + res.remove.TotalCount()
	throughput := float64(total) / res.duration.Seconds()

	log.Info().
		Dur("duration", res.duration).
		Int64("operations", total).
		Str("throughput", fmt.Sprintf("%.0f ops/s", throughput)).
		Int("errors", res.errors).
		Msg("Load test completed")

	for name, h := range map[string]*hdrhistogram.Histogram{"insert": res.insert, "remove": res.remove} {
		if h.TotalCount() == 0 {
			continue
		}
		log.Info().
			Str("op", name).
			Int64("count", h.TotalCount()).
			Int64("p50_us", h.ValueAtQuantile(50)).
			Int64("p99_us", h.ValueAtQuantile(99)).
			Int64("p999_us", h.ValueAtQuantile(99.9)).
			Int64("max_us", h.Max()).
			Msg("Latency")
	}
}
