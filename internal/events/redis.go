package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type redisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisForwarder pushes every event it handles onto a Redis pub/sub channel so
// out-of-process consumers (notifications) can react.
type RedisForwarder struct {
	client  redisClient
	channel string
}

func NewRedisForwarder(client redisClient, channel string) *RedisForwarder {
	return &RedisForwarder{client: client, channel: channel}
}

func (f *RedisForwarder) Handle(ctx context.Context, ev Event) error {
	const op = "events.RedisForwarder.Handle"

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := f.client.Publish(ctx, f.channel, data).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
