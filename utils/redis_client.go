package utils

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisOptions struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

func redisOptions(o RedisOptions) *redis.Options {
	opts, err := redis.ParseURL(o.URL)
	if err != nil {
		// Plain host:port
		opts = &redis.Options{
			Addr:     o.URL,
			Password: o.Password,
			DB:       o.DB,
		}
	}

	opts.PoolSize = 100
	if o.PoolSize > 0 {
		opts.PoolSize = o.PoolSize
	}
	opts.MinIdleConns = 10
	opts.MaxRetries = 3
	return opts
}

// NewRedisClient connects and pings Redis. Redis backs the occupied-number
// cache and the anti-bot counters; the process refuses to start without it.
func NewRedisClient(o RedisOptions) (*redis.Client, error) {
	client := redis.NewClient(redisOptions(o))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", o.URL, err)
	}

	log.Println("Successfully connected to Redis")
	return client, nil
}

// RedisHealthCheck performs a health check on Redis connection
func RedisHealthCheck(client redis.UniversalClient) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	return nil
}
