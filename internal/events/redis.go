package events

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel events are broadcast on.
const DefaultChannel = "flipcoin:events"

// RedisClient is the subset of *redis.Client used by RedisPublisher.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher broadcasts event envelopes on a Redis channel for live subscribers.
type RedisPublisher struct {
	client  RedisClient
	channel string
	now     func() time.Time
}

func NewRedisPublisher(client RedisClient, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel, now: time.Now}
}

func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := Encode(event, p.now())
	if err != nil {
		return fmt.Errorf("encode %s: %w", event.Type(), err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", event.Type(), err)
	}
	return nil
}
