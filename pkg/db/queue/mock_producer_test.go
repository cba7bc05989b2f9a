package queue

import (
	"sync"

	"github.com/IBM/sarama"
)

// mockProducer implements just enough of sarama.SyncProducer for our tests
type mockProducer struct {
	mu           sync.Mutex
	sentMessages []*sarama.ProducerMessage
	err          error
	closed       bool
}

func (m *mockProducer) SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, 0, m.err
	}
	m.sentMessages = append(m.sentMessages, msg)
	return 0, int64(len(m.sentMessages) - 1), nil
}

func (m *mockProducer) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *mockProducer) SendMessages(msgs []*sarama.ProducerMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sentMessages = append(m.sentMessages, msgs...)
	return nil
}

func (m *mockProducer) messages() []*sarama.ProducerMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*sarama.ProducerMessage, len(m.sentMessages))
	copy(out, m.sentMessages)
	return out
}

func (m *mockProducer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockProducer) TxnStatus() sarama.ProducerTxnStatusFlag {
	return 0
}

func (m *mockProducer) BeginTxn() error {
	return nil
}

func (m *mockProducer) CommitTxn() error {
	return nil
}

func (m *mockProducer) AbortTxn() error {
	return nil
}

func (m *mockProducer) AddMessageToTxn(msg *sarama.ConsumerMessage, groupID string, metadata *string) error {
	return nil
}

func (m *mockProducer) AddOffsetsToTxn(offsets map[string][]*sarama.PartitionOffsetMetadata, groupID string) error {
	return nil
}

func (m *mockProducer) IsTransactional() bool {
	return false
}
