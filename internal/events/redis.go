package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher publishes events on a per-meeting redis channel.
type RedisPublisher struct {
	client *redis.Client
	prefix string
}

func NewRedisPublisher(cfg RedisConfig, prefix string) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	if prefix == "" {
		prefix = "huddle"
	}
	return &RedisPublisher{client: client, prefix: prefix}, nil
}

func (r *RedisPublisher) Publish(ctx context.Context, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return r.client.Publish(ctx, MeetingChannel(r.prefix, event.MeetingID), data).Err()
}

func (r *RedisPublisher) Close() error {
	return r.client.Close()
}
