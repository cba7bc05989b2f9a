package redis

import (
	"context"
	"testing"

	"github.com/erain9/orderindex/pkg/core"
	"github.com/erain9/orderindex/pkg/testutil"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// skipIfNoRedis will skip the benchmark if Redis is not available
func skipIfNoRedis(b *testing.B) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: testutil.RedisAddr(b),
	})
}

func BenchmarkRedisBackend_Apply(b *testing.B) {
	client := skipIfNoRedis(b)
	if client == nil {
		return
	}
	defer client.Close()

	ctx := context.Background()
	client.FlushDB(ctx)
	backend := NewRedisBackend(client, "bench:apply", zap.NewNop())
	x := core.NewIndex(core.WithJournal())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := x.Insert(uint64(i%1000+1), uint64(i+1)); err != nil {
			b.Fatal(err)
		}
		if err := backend.Apply(ctx, x.Changes()); err != nil {
			b.Fatal(err)
		}
		x.Commit()
	}
}
