package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/erain9/orderindex/pkg/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockConsumer struct {
	parts map[int32]*mockPartitionConsumer
}

func newMockConsumer(partitions ...int32) *mockConsumer {
	m := &mockConsumer{parts: make(map[int32]*mockPartitionConsumer)}
	for _, p := range partitions {
		m.parts[p] = &mockPartitionConsumer{
			messages: make(chan *sarama.ConsumerMessage, 2),
			errors:   make(chan *sarama.ConsumerError, 1),
		}
	}
	return m
}

func (m *mockConsumer) ConsumePartition(topic string, partition int32, offset int64) (sarama.PartitionConsumer, error) {
	pc, ok := m.parts[partition]
	if !ok {
		return nil, sarama.ErrUnknownTopicOrPartition
	}
	return pc, nil
}

func (m *mockConsumer) Topics() ([]string, error) {
	return []string{}, nil
}

func (m *mockConsumer) Partitions(topic string) ([]int32, error) {
	out := make([]int32, 0, len(m.parts))
	for p := range m.parts {
		out = append(out, p)
	}
	return out, nil
}

func (m *mockConsumer) HighWaterMarks() map[string]map[int32]int64 {
	return nil
}

func (m *mockConsumer) Close() error {
	return nil
}

func (m *mockConsumer) Pause(topicPartitions map[string][]int32) {}

func (m *mockConsumer) Resume(topicPartitions map[string][]int32) {}

func (m *mockConsumer) PauseAll() {}

func (m *mockConsumer) ResumeAll() {}

type mockPartitionConsumer struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
}

func (m *mockPartitionConsumer) AsyncClose() {}

func (m *mockPartitionConsumer) Close() error {
	return nil
}

func (m *mockPartitionConsumer) Messages() <-chan *sarama.ConsumerMessage {
	return m.messages
}

func (m *mockPartitionConsumer) Errors() <-chan *sarama.ConsumerError {
	return m.errors
}

func (m *mockPartitionConsumer) HighWaterMarkOffset() int64 {
	return 0
}

func (m *mockPartitionConsumer) IsPaused() bool {
	return false
}

func (m *mockPartitionConsumer) Pause() {}

func (m *mockPartitionConsumer) Resume() {}

// useMockProducer swaps the producer constructor for the duration of the test
func useMockProducer(t *testing.T) *mockProducer {
	t.Helper()
	mockProd := &mockProducer{}
	oldNewSyncProducer := newSyncProducer
	t.Cleanup(func() { newSyncProducer = oldNewSyncProducer })
	newSyncProducer = func(addrs []string, config *sarama.Config) (sarama.SyncProducer, error) {
		assert.True(t, config.Producer.Return.Successes)
		assert.Equal(t, sarama.WaitForAll, config.Producer.RequiredAcks)
		return mockProd, nil
	}
	return mockProd
}

func TestEncodeDecodeIndexEvent(t *testing.T) {
	ev := messaging.NewIndexEvent("eth/bids", 12, messaging.EventRepriced, 1<<60, 99, 101)

	data, err := EncodeIndexEvent(ev)
	require.NoError(t, err)

	got, err := DecodeIndexEvent(data)
	require.NoError(t, err)
	assert.Equal(t, ev.EventID, got.EventID)
	assert.Equal(t, ev.Book, got.Book)
	assert.Equal(t, ev.Seq, got.Seq)
	assert.Equal(t, ev.Type, got.Type)
	assert.Equal(t, ev.OrderID, got.OrderID)
	assert.Equal(t, ev.Price, got.Price)
	assert.Equal(t, ev.PrevPrice, got.PrevPrice)
	assert.True(t, ev.Time.Equal(got.Time))

	_, err = DecodeIndexEvent([]byte{0xff, 0xff})
	assert.Error(t, err)
}

func TestQueueMessageSender_SendIndexEvent(t *testing.T) {
	mockProd := useMockProducer(t)

	sender, err := NewQueueMessageSender(Options{})
	require.NoError(t, err)
	defer sender.Close()

	ev := messaging.NewIndexEvent("btc/asks", 1, messaging.EventInserted, 7, 100, 0)
	require.NoError(t, sender.SendIndexEvent(context.Background(), ev))

	msgs := mockProd.messages()
	require.Len(t, msgs, 1)
	msg := msgs[0]
	require.Equal(t, defaultTopic, msg.Topic)
	assert.Equal(t, sarama.StringEncoder("btc/asks"), msg.Key)

	got, err := DecodeIndexEvent(msg.Value.(sarama.ByteEncoder))
	require.NoError(t, err)
	assert.Equal(t, ev.EventID, got.EventID)
	assert.Equal(t, uint64(7), got.OrderID)
}

func TestQueueMessageSender_ProducerError(t *testing.T) {
	mockProd := useMockProducer(t)
	mockProd.err = errors.New("not enough replicas")

	sender, err := NewQueueMessageSender(Options{Topic: "custom"})
	require.NoError(t, err)
	assert.Equal(t, "custom", sender.topic)

	err = sender.SendIndexEvent(context.Background(), messaging.NewIndexEvent("b", 1, messaging.EventRemoved, 1, 1, 0))
	assert.ErrorIs(t, err, mockProd.err)
}

func TestQueueMessageSender_CancelledContext(t *testing.T) {
	mockProd := useMockProducer(t)
	sender, err := NewQueueMessageSender(Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sender.SendIndexEvent(ctx, messaging.NewIndexEvent("b", 1, messaging.EventRemoved, 1, 1, 0)), context.Canceled)
	assert.Empty(t, mockProd.messages())
}

func TestNewQueueMessageSender_Error(t *testing.T) {
	oldNewSyncProducer := newSyncProducer
	defer func() { newSyncProducer = oldNewSyncProducer }()
	newSyncProducer = func(addrs []string, config *sarama.Config) (sarama.SyncProducer, error) {
		return nil, sarama.ErrOutOfBrokers
	}

	_, err := NewQueueMessageSender(Options{})
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
}

func TestQueueMessageConsumer_ConsumeIndexEvents(t *testing.T) {
	first := messaging.NewIndexEvent("btc/asks", 5, messaging.EventRemoved, 3, 42, 0)
	second := messaging.NewIndexEvent("eth/bids", 9, messaging.EventInserted, 4, 17, 0)
	firstPayload, err := EncodeIndexEvent(first)
	require.NoError(t, err)
	secondPayload, err := EncodeIndexEvent(second)
	require.NoError(t, err)

	mockConsumer := newMockConsumer(0, 1)
	consumer := &QueueMessageConsumer{
		consumer: mockConsumer,
		topic:    defaultTopic,
		done:     make(chan struct{}),
	}

	received := make(chan *messaging.IndexEvent, 2)
	finished := make(chan error, 1)
	go func() {
		finished <- consumer.ConsumeIndexEvents(func(ev *messaging.IndexEvent) error {
			received <- ev
			return nil
		})
	}()

	// undecodable payloads are skipped
	mockConsumer.parts[0].messages <- &sarama.ConsumerMessage{Value: []byte{0xff}}
	mockConsumer.parts[0].messages <- &sarama.ConsumerMessage{Value: firstPayload}
	mockConsumer.parts[1].messages <- &sarama.ConsumerMessage{Partition: 1, Value: secondPayload}

	books := make(map[string]*messaging.IndexEvent)
	for i := 0; i < 2; i++ {
		select {
		case ev := <-received:
			books[ev.Book] = ev
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for message")
		}
	}
	require.Contains(t, books, "btc/asks")
	require.Contains(t, books, "eth/bids")
	assert.Equal(t, first.EventID, books["btc/asks"].EventID)
	assert.Equal(t, first.Type, books["btc/asks"].Type)
	assert.Equal(t, first.Price, books["btc/asks"].Price)
	assert.Equal(t, second.OrderID, books["eth/bids"].OrderID)

	require.NoError(t, consumer.Close())
	require.NoError(t, consumer.Close())

	select {
	case err := <-finished:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestQueueMessageConsumer_PartitionError(t *testing.T) {
	mockConsumer := newMockConsumer(0, 1, 2)
	consumer := &QueueMessageConsumer{
		consumer: mockConsumer,
		topic:    defaultTopic,
		done:     make(chan struct{}),
	}
	defer consumer.Close()

	mockConsumer.parts[2].errors <- &sarama.ConsumerError{Topic: defaultTopic, Partition: 2, Err: sarama.ErrOutOfBrokers}

	err := consumer.ConsumeIndexEvents(func(*messaging.IndexEvent) error { return nil })
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
}

func TestQueueMessageConsumer_NoPartitions(t *testing.T) {
	consumer := &QueueMessageConsumer{
		consumer: newMockConsumer(),
		topic:    defaultTopic,
		done:     make(chan struct{}),
	}
	err := consumer.ConsumeIndexEvents(func(*messaging.IndexEvent) error { return nil })
	assert.ErrorContains(t, err, "no partitions")
}

// resetSenderPool drops the process-wide pool so a test can size its own
func resetSenderPool() {
	if senderPool != nil {
		for drained := false; !drained; {
			select {
			case s := <-senderPool:
				_ = s.Close()
			default:
				drained = true
			}
		}
	}
	senderPool = nil
	poolInitOnce = sync.Once{}
	poolOptions = Options{}
	poolLive = 0
	maxPoolSize = defaultPoolSize
}

func TestPooledSender(t *testing.T) {
	resetSenderPool()
	t.Cleanup(resetSenderPool)
	mockProd := useMockProducer(t)
	ConfigureSenderPool(Options{Topic: "pooled"}, 2)

	var s messaging.MessageSender = PooledSender{}
	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, s.SendIndexEvent(context.Background(), messaging.NewIndexEvent("b", i, messaging.EventInserted, i, 10, 0)))
	}
	require.NoError(t, s.Close())

	msgs := mockProd.messages()
	require.Len(t, msgs, 3)
	for _, msg := range msgs {
		assert.Equal(t, "pooled", msg.Topic)
	}
}

func TestPooledSender_RecoversAfterOutage(t *testing.T) {
	resetSenderPool()
	t.Cleanup(resetSenderPool)

	brokerDown := errors.New("broker down")
	mockProd := &mockProducer{}
	var mu sync.Mutex
	down := false
	connects := 0

	oldNewSyncProducer := newSyncProducer
	t.Cleanup(func() { newSyncProducer = oldNewSyncProducer })
	newSyncProducer = func(addrs []string, config *sarama.Config) (sarama.SyncProducer, error) {
		mu.Lock()
		defer mu.Unlock()
		if down {
			return nil, brokerDown
		}
		connects++
		return mockProd, nil
	}
	setDown := func(v bool) {
		mu.Lock()
		down = v
		mu.Unlock()
		if v {
			mockProd.setErr(brokerDown)
		} else {
			mockProd.setErr(nil)
		}
	}

	ConfigureSenderPool(Options{Topic: "pooled"}, 2)
	ctx := context.Background()
	var s messaging.MessageSender = PooledSender{}
	event := func(i uint64) *messaging.IndexEvent {
		return messaging.NewIndexEvent("b", i, messaging.EventInserted, i, 10, 0)
	}

	require.NoError(t, s.SendIndexEvent(ctx, event(1)))

	setDown(true)
	for i := uint64(2); i <= 4; i++ {
		assert.Error(t, s.SendIndexEvent(ctx, event(i)))
	}

	setDown(false)
	for i := uint64(5); i <= 8; i++ {
		require.NoError(t, s.SendIndexEvent(ctx, event(i)))
	}

	assert.Len(t, mockProd.messages(), 5)
	poolMu.Lock()
	assert.LessOrEqual(t, poolLive, 2)
	poolMu.Unlock()
	mu.Lock()
	assert.Greater(t, connects, 2)
	mu.Unlock()
}
