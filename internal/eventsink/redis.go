package eventsink

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"yqhp/cherry/pkg/utils"
)

// RedisSink publishes events as JSON on a Redis channel and keeps the latest
// recovered password under "<channel>:key".
type RedisSink struct {
	client  *redis.Client
	channel string
}

// NewRedisSink connects to addr and checks the connection.
func NewRedisSink(ctx context.Context, addr, channel string) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 3 * time.Second,
	})

	// 测试连接
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis %s: %w", addr, err)
	}
	return &RedisSink{client: client, channel: channel}, nil
}

// Publish implements Sink.
func (s *RedisSink) Publish(ctx context.Context, e Event) error {
	data, err := utils.ToJSONBytes(e)
	if err != nil {
		return err
	}
	if err := s.client.Publish(ctx, s.channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	if e.Type == TypeKeyFound {
		return s.client.HSet(ctx, s.channel+":key",
			"password", e.Password,
			"ip", e.IP,
			"time", e.Time.Format(time.RFC3339)).Err()
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
