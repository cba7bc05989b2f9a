package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/erain9/orderindex/pkg/messaging"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// messageReader is the part of *kafka.Reader the consumer uses
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Consumer reads index events written by KafkaMessageSender
type Consumer struct {
	reader messageReader
	logger zerolog.Logger
}

// ConsumerOption adjusts the reader configuration
type ConsumerOption func(*kafka.ReaderConfig)

// FromFirstOffset makes a new group start at the oldest retained event
func FromFirstOffset() ConsumerOption {
	return func(cfg *kafka.ReaderConfig) {
		cfg.StartOffset = kafka.FirstOffset
	}
}

// NewConsumer creates a consumer for topic in consumer group groupID. The
// group is assigned every partition, so events of all books are read. A new
// group starts from the latest offset.
func NewConsumer(brokers []string, topic, groupID string, logger zerolog.Logger, opts ...ConsumerOption) (*Consumer, error) {
	cfg, err := readerConfig(brokers, topic, groupID)
	if err != nil {
		return nil, err
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Consumer{
		reader: kafka.NewReader(cfg),
		logger: logger,
	}, nil
}

func readerConfig(brokers []string, topic, groupID string) (kafka.ReaderConfig, error) {
	if len(brokers) == 0 || topic == "" {
		return kafka.ReaderConfig{}, fmt.Errorf("kafka consumer needs brokers and a topic")
	}
	if groupID == "" {
		return kafka.ReaderConfig{}, fmt.Errorf("kafka consumer needs a group id to read every partition")
	}
	return kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	}, nil
}

// Consume calls handler for every event until ctx is done or handler fails.
// Messages that do not decode are logged and skipped.
func (c *Consumer) Consume(ctx context.Context, handler func(*messaging.IndexEvent) error) error {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("read index event: %w", err)
		}

		var event messaging.IndexEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			c.logger.Warn().
				Err(err).
				Int64("offset", msg.Offset).
				Int("partition", msg.Partition).
				Msg("Skipping undecodable index event")
			continue
		}

		c.logger.Debug().
			Str("event_id", event.EventID).
			Str("book", event.Book).
			Uint64("seq", event.Seq).
			Msg("Received index event")

		if err := handler(&event); err != nil {
			return err
		}
	}
}

// Close closes the reader
func (c *Consumer) Close() error {
	return c.reader.Close()
}
