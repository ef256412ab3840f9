package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisSink publishes events as JSON on a Redis pub/sub channel.
type RedisSink struct {
	client  *redis.Client
	channel string
}

// NewRedisSink constructs a RedisSink.
func NewRedisSink(client *redis.Client, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

// Notify implements Sink.
func (s *RedisSink) Notify(ctx context.Context, event Event) error {
	payload, errMarshal := json.Marshal(event)
	if errMarshal != nil {
		return fmt.Errorf("notify: marshal event: %w", errMarshal)
	}
	if errPublish := s.client.Publish(ctx, s.channel, payload).Err(); errPublish != nil {
		return fmt.Errorf("notify: publish %s: %w", s.channel, errPublish)
	}
	return nil
}
