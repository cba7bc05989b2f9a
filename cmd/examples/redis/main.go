package main

import (
	"context"
	"fmt"

	redisbackend "github.com/erain9/orderindex/pkg/backend/redis"
	"github.com/erain9/orderindex/pkg/book"
	"go.uber.org/zap"
)

const (
	redisAddr = "localhost:6379"
	redisDB   = 0
	prefix    = "orderindex:example"
)

func main() {
	ctx := context.Background()

	// Connect to Redis
	redisbackend.SetDefaultRedisOptions(&redisbackend.RedisOptions{
		Addr:     redisAddr,
		Password: "", // no password set
		DB:       redisDB,
	})
	client := redisbackend.GetRedisClient()
	defer client.Close()

	pong, err := client.Ping(ctx).Result()
	if err != nil {
		panic(fmt.Sprintf("Failed to connect to Redis: %v", err))
	}
	fmt.Printf("Redis connection established: %s\n", pong)

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// Start from an empty book; this backend shares the client
	backend := redisbackend.NewRedisBackend(client, prefix, logger)
	if err := backend.Clear(ctx); err != nil {
		panic(err)
	}

	b, err := book.Open(ctx, "redis-example", backend)
	if err != nil {
		panic(err)
	}
	for i, price := range []uint64{1000, 1005, 995, 1000} {
		if err := b.Insert(ctx, price, uint64(i+1)); err != nil {
			panic(err)
		}
	}
	if err := b.Remove(ctx, 2); err != nil {
		panic(err)
	}
	digest := b.Digest()
	_ = b.Close()

	// Reopen from what Redis holds, on a backend that owns its own client
	reopened, err := book.Open(ctx, "redis-example", redisbackend.NewRedisBackendWithDefaults(prefix, logger))
	if err != nil {
		panic(err)
	}
	defer reopened.Close()

	fmt.Println("\nOrders reloaded from Redis:")
	reopened.Walk(func(price, id uint64) bool {
		fmt.Printf("- order %d at %d\n", id, price)
		return true
	})

	fields, _ := client.HGetAll(ctx, prefix+":price:1000").Result()
	fmt.Printf("\nPrice key 1000 in Redis: %v\n", fields)
	fmt.Printf("Digest matches: %t\n", reopened.Digest() == digest)
}
