package testutil

import (
	"context"
	"errors"
	"net"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
)

// Environment variables that point integration tests at real services
const (
	RedisAddrEnv = "ORDERINDEX_TEST_REDIS_ADDR"
	KafkaAddrEnv = "ORDERINDEX_TEST_KAFKA_ADDR"
)

// RedisAddr returns the Redis address for integration tests, skipping the
// test when nothing answers there.
func RedisAddr(t testing.TB) string {
	t.Helper()
	addr := envOr(RedisAddrEnv, "localhost:6379")
	SkipIfRedisUnavailable(t, addr)
	return addr
}

// KafkaAddr returns the Kafka broker address for integration tests, skipping
// the test when the broker is unreachable.
func KafkaAddr(t testing.TB) string {
	t.Helper()
	addr := envOr(KafkaAddrEnv, "localhost:9092")
	SkipIfKafkaUnavailable(t, addr)
	return addr
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// SkipIfRedisUnavailable skips the test if Redis is unavailable on the specified address
func SkipIfRedisUnavailable(t testing.TB, redisAddr string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})
	defer client.Close()

	if _, err := client.Ping(ctx).Result(); err != nil {
		t.Skipf("Skipping test: Redis not available at %s - %v", redisAddr, err)
	}
}

// SkipIfKafkaUnavailable skips the test if Kafka is unavailable on the specified address
func SkipIfKafkaUnavailable(t testing.TB, kafkaAddr string) {
	t.Helper()

	conn, err := net.DialTimeout("tcp", kafkaAddr, 2*time.Second)
	if err != nil {
		t.Skipf("Skipping test: Kafka not available at %s - %v", kafkaAddr, err)
		return
	}
	_ = conn.Close()

	// A metadata round trip tells a broker apart from any open port
	kconn, err := kafka.DialContext(context.Background(), "tcp", kafkaAddr)
	if err != nil {
		t.Skipf("Skipping test: Kafka at %s is not responding - %v", kafkaAddr, err)
		return
	}
	defer kconn.Close()

	_ = kconn.SetDeadline(time.Now().Add(2 * time.Second))
	if _, err := kconn.Brokers(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		t.Skipf("Skipping test: Kafka at %s is not responding correctly - %v", kafkaAddr, err)
	}
}

// SkipIfDependenciesUnavailable skips the test if either Redis or Kafka is unavailable
func SkipIfDependenciesUnavailable(t testing.TB, redisAddr, kafkaAddr string) {
	t.Helper()
	SkipIfRedisUnavailable(t, redisAddr)
	SkipIfKafkaUnavailable(t, kafkaAddr)
}
