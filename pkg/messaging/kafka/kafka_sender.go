package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/erain9/orderindex/pkg/messaging"
	"github.com/segmentio/kafka-go"
)

const sendTimeout = 5 * time.Second

// messageWriter is the part of *kafka.Writer the sender uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaMessageSender implements MessageSender using Kafka
type KafkaMessageSender struct {
	writer messageWriter
	topic  string
}

// NewKafkaMessageSender creates a new Kafka message sender.
// Messages are keyed by book so one book's events stay on one partition.
func NewKafkaMessageSender(brokerAddr, topic string) (*KafkaMessageSender, error) {
	if brokerAddr == "" || topic == "" {
		return nil, fmt.Errorf("kafka sender needs a broker address and a topic")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokerAddr),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}

	return &KafkaMessageSender{
		writer: writer,
		topic:  topic,
	}, nil
}

// SendIndexEvent sends one event as JSON
func (k *KafkaMessageSender) SendIndexEvent(ctx context.Context, event *messaging.IndexEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal index event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.Book),
		Value: data,
		Time:  event.Time,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.EventID)},
			{Key: "type", Value: []byte(event.Type)},
		},
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to send message to Kafka: %w", err)
	}

	return nil
}

// Close closes the Kafka writer
func (k *KafkaMessageSender) Close() error {
	return k.writer.Close()
}

var _ messaging.MessageSender = (*KafkaMessageSender)(nil)
