package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/erain9/orderindex/pkg/messaging"
	"github.com/rs/zerolog/log"
)

const defaultPoolSize = 8

var (
	senderPool   chan messaging.MessageSender
	poolInitOnce sync.Once
	poolOptions  Options
	maxPoolSize  = defaultPoolSize

	poolMu   sync.Mutex
	poolLive int // senders connected and not yet closed
)

var errPoolExhausted = errors.New("sender pool exhausted")

// ConfigureSenderPool sets the broker options and size used when the pool is
// first filled. It has no effect once the pool exists.
func ConfigureSenderPool(opts Options, size int) {
	poolOptions = opts
	if size > 0 {
		maxPoolSize = size
	}
}

// initSenderPool initializes the sender pool
func initSenderPool() {
	poolInitOnce.Do(func() {
		senderPool = make(chan messaging.MessageSender, maxPoolSize)
		for i := 0; i < maxPoolSize; i++ {
			sender, err := newPooledSender()
			if err != nil {
				log.Warn().Err(err).Msg("Error creating pooled sender")
				continue
			}
			senderPool <- sender
		}
	})
}

// newPooledSender connects a new sender unless the pool is at its size
func newPooledSender() (messaging.MessageSender, error) {
	poolMu.Lock()
	defer poolMu.Unlock()
	if poolLive >= maxPoolSize {
		return nil, errPoolExhausted
	}
	sender, err := NewQueueMessageSender(poolOptions)
	if err != nil {
		return nil, err
	}
	poolLive++
	return sender, nil
}

// discardSender closes a sender and frees its slot for a replacement
func discardSender(sender messaging.MessageSender) {
	_ = sender.Close()
	poolMu.Lock()
	poolLive--
	poolMu.Unlock()
}

// GetSender gets a sender from the pool. When the pool is empty it connects a
// replacement for any sender that was discarded, and returns nil otherwise.
func GetSender() messaging.MessageSender {
	initSenderPool()

	select {
	case sender := <-senderPool:
		return sender
	default:
	}

	sender, err := newPooledSender()
	if err != nil {
		log.Warn().Err(err).Msg("Sender pool is empty")
		return nil
	}
	return sender
}

// ReturnSender returns a sender to the pool
func ReturnSender(sender messaging.MessageSender) {
	if sender == nil {
		return
	}

	select {
	case senderPool <- sender:
	default:
		log.Warn().Msg("Sender pool is full")
		discardSender(sender)
	}
}

// SendMessage sends an event using a pooled sender
func SendMessage(ctx context.Context, event *messaging.IndexEvent) error {
	sender := GetSender()
	if sender == nil {
		return fmt.Errorf("failed to get message sender from pool")
	}

	if err := sender.SendIndexEvent(ctx, event); err != nil {
		log.Error().Err(err).Str("event_id", event.EventID).Msg("Error sending message")
		// a failed sender is replaced on the next GetSender
		discardSender(sender)
		return err
	}

	ReturnSender(sender)
	return nil
}

// PooledSender is a MessageSender that borrows a pooled sender per event
type PooledSender struct{}

// SendIndexEvent sends through the pool
func (PooledSender) SendIndexEvent(ctx context.Context, event *messaging.IndexEvent) error {
	return SendMessage(ctx, event)
}

// Close does nothing; pooled senders live for the process
func (PooledSender) Close() error {
	return nil
}

var _ messaging.MessageSender = PooledSender{}
