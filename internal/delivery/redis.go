package delivery

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"lightning-lens/internal/domain"
)

// DefaultRedisChannel is the pub/sub channel batches are published on.
const DefaultRedisChannel = "lightning_lens:recommendations"

// RedisSink publishes each batch as JSON on a redis pub/sub channel.
type RedisSink struct {
	client  *redis.Client
	channel string
}

// NewRedisSink connects to addr and verifies the connection.
func NewRedisSink(ctx context.Context, addr, password, channel string) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return NewRedisSinkFromClient(client, channel), nil
}

// NewRedisSinkFromClient wraps an existing client.
func NewRedisSinkFromClient(client *redis.Client, channel string) *RedisSink {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisSink{client: client, channel: channel}
}

func (s *RedisSink) Name() string { return "redis" }

// Deliver publishes batch.
func (s *RedisSink) Deliver(ctx context.Context, batch domain.RecommendationBatch) error {
	payload, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}
	return s.client.Publish(ctx, s.channel, payload).Err()
}

// Close closes the redis connection.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
