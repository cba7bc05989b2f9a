package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/erain9/orderindex/pkg/messaging"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	defaultBrokerList = "localhost:9092"
	defaultTopic      = "orderindex-events"
	maxRetry          = 5
)

// Constructors, replaceable in tests
var (
	newSyncProducer = sarama.NewSyncProducer
	newConsumer     = sarama.NewConsumer
)

// Options configures the sarama sender and consumer
type Options struct {
	Brokers []string
	Topic   string
}

func (o Options) withDefaults() Options {
	if len(o.Brokers) == 0 {
		o.Brokers = []string{defaultBrokerList}
	}
	if o.Topic == "" {
		o.Topic = defaultTopic
	}
	return o
}

// QueueMessageSender implements the MessageSender interface
// for sending protobuf encoded events to Kafka
type QueueMessageSender struct {
	producer sarama.SyncProducer
	topic    string
}

// NewQueueMessageSender connects a synchronous producer
func NewQueueMessageSender(opts Options) (*QueueMessageSender, error) {
	opts = opts.withDefaults()

	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = maxRetry
	config.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := newSyncProducer(opts.Brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	return &QueueMessageSender{producer: producer, topic: opts.Topic}, nil
}

// SendIndexEvent sends the event to the Kafka queue
func (q *QueueMessageSender) SendIndexEvent(ctx context.Context, event *messaging.IndexEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	messageBytes, err := EncodeIndexEvent(event)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic:     q.topic,
		Key:       sarama.StringEncoder(event.Book),
		Value:     sarama.ByteEncoder(messageBytes),
		Timestamp: event.Time,
	}

	if _, _, err := q.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("failed to send message to Kafka: %w", err)
	}
	return nil
}

// Close closes the producer
func (q *QueueMessageSender) Close() error {
	return q.producer.Close()
}

var _ messaging.MessageSender = (*QueueMessageSender)(nil)

// EncodeIndexEvent serialises an event as a protobuf Struct
func EncodeIndexEvent(event *messaging.IndexEvent) ([]byte, error) {
	st, err := structpb.NewStruct(map[string]interface{}{
		"event_id":   event.EventID,
		"book":       event.Book,
		"seq":        fmt.Sprint(event.Seq),
		"type":       string(event.Type),
		"order_id":   fmt.Sprint(event.OrderID),
		"price":      fmt.Sprint(event.Price),
		"prev_price": fmt.Sprint(event.PrevPrice),
		"time":       event.Time.Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build index event: %w", err)
	}

	data, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal index event: %w", err)
	}
	return data, nil
}

// DecodeIndexEvent parses a payload written by EncodeIndexEvent
func DecodeIndexEvent(data []byte) (*messaging.IndexEvent, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal index event: %w", err)
	}

	f := st.GetFields()
	str := func(name string) string { return f[name].GetStringValue() }

	var ev messaging.IndexEvent
	ev.EventID = str("event_id")
	ev.Book = str("book")
	ev.Type = messaging.EventType(str("type"))

	for name, dst := range map[string]*uint64{
		"seq":        &ev.Seq,
		"order_id":   &ev.OrderID,
		"price":      &ev.Price,
		"prev_price": &ev.PrevPrice,
	} {
		if _, err := fmt.Sscan(str(name), dst); err != nil {
			return nil, fmt.Errorf("index event field %s: %w", name, err)
		}
	}

	ts, err := time.Parse(time.RFC3339Nano, str("time"))
	if err != nil {
		return nil, fmt.Errorf("index event field time: %w", err)
	}
	ev.Time = ts
	return &ev, nil
}

// QueueMessageConsumer reads protobuf encoded events from one topic
type QueueMessageConsumer struct {
	consumer  sarama.Consumer
	topic     string
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueueMessageConsumer connects a consumer
func NewQueueMessageConsumer(opts Options) (*QueueMessageConsumer, error) {
	opts = opts.withDefaults()

	config := sarama.NewConfig()
	config.Consumer.Return.Errors = true

	consumer, err := newConsumer(opts.Brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}
	return &QueueMessageConsumer{
		consumer: consumer,
		topic:    opts.Topic,
		done:     make(chan struct{}),
	}, nil
}

// ConsumeIndexEvents reads every partition of the topic from the newest
// offset and calls handler for every decoded event until Close is called,
// a partition fails or handler fails.
func (c *QueueMessageConsumer) ConsumeIndexEvents(handler func(*messaging.IndexEvent) error) error {
	partitions, err := c.consumer.Partitions(c.topic)
	if err != nil {
		return fmt.Errorf("failed to list partitions: %w", err)
	}
	if len(partitions) == 0 {
		return fmt.Errorf("topic %s has no partitions", c.topic)
	}

	pcs := make([]sarama.PartitionConsumer, 0, len(partitions))
	defer func() {
		for _, pc := range pcs {
			_ = pc.Close()
		}
	}()
	for _, partition := range partitions {
		pc, err := c.consumer.ConsumePartition(c.topic, partition, sarama.OffsetNewest)
		if err != nil {
			return fmt.Errorf("failed to consume partition %d: %w", partition, err)
		}
		pcs = append(pcs, pc)
	}

	messages := make(chan *sarama.ConsumerMessage)
	errs := make(chan error, len(pcs))
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for _, pc := range pcs {
		wg.Add(1)
		go forwardPartition(pc, messages, errs, stop, &wg)
	}
	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()
	defer func() {
		close(stop)
		<-drained
	}()

	for {
		select {
		case <-c.done:
			return nil
		case <-drained:
			select {
			case err := <-errs:
				return err
			default:
				return nil
			}
		case err := <-errs:
			return err
		case msg := <-messages:
			ev, err := DecodeIndexEvent(msg.Value)
			if err != nil {
				continue
			}
			if err := handler(ev); err != nil {
				return err
			}
		}
	}
}

// forwardPartition copies one partition's messages into out until stop is
// closed, the partition closes, or it reports an error.
func forwardPartition(pc sarama.PartitionConsumer, out chan<- *sarama.ConsumerMessage, errs chan<- error, stop <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-stop:
			return
		case msg, ok := <-pc.Messages():
			if !ok {
				return
			}
			select {
			case out <- msg:
			case <-stop:
				return
			}
		case cerr, ok := <-pc.Errors():
			if !ok {
				return
			}
			errs <- cerr
			return
		}
	}
}

// Close stops consumption and closes the consumer
func (c *QueueMessageConsumer) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.consumer.Close()
	})
	return err
}
