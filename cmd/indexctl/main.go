package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/erain9/orderindex/config"
	"github.com/erain9/orderindex/pkg/book"
	"github.com/erain9/orderindex/pkg/db/queue"
	"github.com/erain9/orderindex/pkg/logging"
	"github.com/erain9/orderindex/pkg/messaging"
	"github.com/erain9/orderindex/pkg/messaging/kafka"
	"github.com/erain9/orderindex/pkg/otel"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var errUsage = errors.New("usage")

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		printUsage(os.Stderr)
		os.Exit(2)
	}

	logCfg := logging.Config{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Format == "pretty",
		Output: os.Stderr,
	}
	logging.Setup(logCfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logCfg, os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			printUsage(os.Stderr)
			os.Exit(2)
		}
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

// run opens the configured book and executes the command in cfg.Args
func run(ctx context.Context, cfg *config.Config, logCfg logging.Config, out io.Writer) error {
	if len(cfg.Args) == 0 {
		return errUsage
	}
	command, args := cfg.Args[0], cfg.Args[1:]

	ctx = logging.WithRequestID(ctx, uuid.NewString())
	ctx = logging.WithBook(ctx, cfg.Book.Name)
	logger := logging.FromContext(ctx)

	ticks, err := book.NewTicks(cfg.Book.TickSize)
	if err != nil {
		return err
	}

	if command == "tail" {
		return tail(ctx, cfg, ticks, out)
	}

	if cfg.Otel.Enabled {
		cleanup, err := otel.Init(otel.Config{
			ServiceName:      cfg.Otel.ServiceName,
			ServiceVersion:   cfg.Otel.ServiceVersion,
			Endpoint:         cfg.Otel.Endpoint,
			CollectorEnabled: true,
		})
		if err != nil {
			return fmt.Errorf("init opentelemetry: %w", err)
		}
		defer cleanup()
		if err := otel.StartRuntimeMetrics(0); err != nil {
			logger.Warn().Err(err).Msg("Runtime metrics unavailable")
		}
	}

	opts := []book.ManagerOption{
		book.WithDataDir(cfg.Store.DataDir),
		book.WithZapLogger(logging.NewZapLogger(logCfg)),
		book.WithIndexMetrics(otel.GetIndexMetrics()),
	}
	if cfg.Kafka.Enabled {
		sender, err := newSender(cfg)
		if err != nil {
			return err
		}
		opts = append(opts, book.WithEventSender(sender))
	}

	manager := book.NewManager(opts...)
	defer func() {
		if err := manager.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close books")
		}
	}()

	if err := openBook(ctx, manager, cfg); err != nil {
		return err
	}
	b, info, err := manager.GetBook(ctx, cfg.Book.Name)
	if err != nil {
		return err
	}
	book.LogBookSummary(logger, b, info)

	return execute(ctx, b, ticks, command, args, out)
}

func openBook(ctx context.Context, manager *book.Manager, cfg *config.Config) error {
	var err error
	switch cfg.Store.Backend {
	case config.BackendRedis:
		_, err = manager.CreateRedisBook(ctx, cfg.Book.Name, book.RedisOptions{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
			Prefix:   cfg.Store.Redis.Prefix,
		})
	case config.BackendPebble:
		_, err = manager.CreatePebbleBook(ctx, cfg.Book.Name)
	default:
		_, err = manager.CreateMemoryBook(ctx, cfg.Book.Name)
	}
	return err
}

// newSender builds the event publisher selected by kafka.client
func newSender(cfg *config.Config) (messaging.MessageSender, error) {
	switch cfg.Kafka.Client {
	case config.ClientSarama:
		queue.ConfigureSenderPool(queue.Options{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
		}, 2)
		return queue.PooledSender{}, nil
	default:
		return kafka.NewKafkaMessageSender(cfg.Kafka.Brokers[0], cfg.Kafka.Topic)
	}
}

// tail prints index events from the configured topic until interrupted
func tail(ctx context.Context, cfg *config.Config, ticks book.Ticks, out io.Writer) error {
	logger := logging.FromContext(ctx)
	handle := func(ev *messaging.IndexEvent) error {
		printEvent(out, ticks, ev)
		return nil
	}

	if cfg.Kafka.Client == config.ClientSarama {
		consumer, err := queue.NewQueueMessageConsumer(queue.Options{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
		})
		if err != nil {
			return err
		}
		go func() {
			<-ctx.Done()
			_ = consumer.Close()
		}()
		logger.Info().Str("topic", cfg.Kafka.Topic).Msg("Tailing index events (sarama)")
		return consumer.ConsumeIndexEvents(handle)
	}

	consumer, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID, logger)
	if err != nil {
		return err
	}
	defer consumer.Close()

	logger.Info().
		Str("topic", cfg.Kafka.Topic).
		Str("group_id", cfg.Kafka.GroupID).
		Msg("Tailing index events")
	return consumer.Consume(ctx, handle)
}

func printEvent(out io.Writer, ticks book.Ticks, ev *messaging.IndexEvent) {
	line := fmt.Sprintf("%s %-12s #%-6d %-9s order=%d price=%s",
		ev.Time.Format(time.RFC3339), ev.Book, ev.Seq, eventColor(ev.Type), ev.OrderID, ticks.FromKey(ev.Price))
	if ev.Type == messaging.EventRepriced {
		line += " from=" + ticks.FromKey(ev.PrevPrice)
	}
	fmt.Fprintln(out, line)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: indexctl [flags] <command> [args]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  insert <price> <id>     rest order id at price")
	fmt.Fprintln(w, "  remove <id>             remove order id")
	fmt.Fprintln(w, "  reprice <id> <price>    move order id to price")
	fmt.Fprintln(w, "  get <id>                print the price of order id")
	fmt.Fprintln(w, "  first | last            print the first or last order")
	fmt.Fprintln(w, "  next <id> | prev <id>   print the neighbour of order id")
	fmt.Fprintln(w, "  walk                    print every order in price-time order")
	fmt.Fprintln(w, "  levels                  print every active price")
	fmt.Fprintln(w, "  verify                  check the book and its store")
	fmt.Fprintln(w, "  tail                    print published index events")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <file>  -backend memory|redis|pebble  -data_dir <dir>")
	fmt.Fprintln(w, "  -redis_addr <addr>  -book <name>  -tick_size <size>  -kafka")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Examples:")
	fmt.Fprintln(w, "  indexctl -backend pebble -book btc-usd/asks insert 100.25 42")
	fmt.Fprintln(w, "  indexctl -backend pebble -book btc-usd/asks walk")
}
