package kafka

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/erain9/orderindex/pkg/messaging"
	"github.com/erain9/orderindex/pkg/testutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTopic(t *testing.T, addr, topic string) {
	t.Helper()

	conn, err := kafka.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	cconn, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer cconn.Close()

	require.NoError(t, cconn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

func TestKafka_SendAndConsume(t *testing.T) {
	addr := testutil.KafkaAddr(t)
	topic := "orderindex-test-" + uuid.NewString()
	createTopic(t, addr, topic)

	sender, err := NewKafkaMessageSender(addr, topic)
	require.NoError(t, err)
	defer sender.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sent := []*messaging.IndexEvent{
		messaging.NewIndexEvent("btc/asks", 1, messaging.EventInserted, 1, 100, 0),
		messaging.NewIndexEvent("btc/asks", 2, messaging.EventRepriced, 1, 101, 100),
		messaging.NewIndexEvent("btc/asks", 3, messaging.EventRemoved, 1, 101, 0),
	}
	for _, ev := range sent {
		require.NoError(t, sender.SendIndexEvent(ctx, ev))
	}

	consumer, err := NewConsumer([]string{addr}, topic, "itest-"+uuid.NewString(), zerolog.Nop(), FromFirstOffset())
	require.NoError(t, err)
	defer consumer.Close()

	var got []*messaging.IndexEvent
	err = consumer.Consume(ctx, func(ev *messaging.IndexEvent) error {
		got = append(got, ev)
		if len(got) == len(sent) {
			cancel()
		}
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, len(sent))
	for i := range sent {
		assert.Equal(t, sent[i].EventID, got[i].EventID)
		assert.Equal(t, sent[i].Seq, got[i].Seq)
		assert.Equal(t, sent[i].Type, got[i].Type)
	}
}
