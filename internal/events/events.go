package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/makeasinger/stemsplit/internal/model"
)

// Publisher emits job events
type Publisher interface {
	Publish(ctx context.Context, event model.JobEvent) error
}

// RedisPublisher publishes job events on a Redis pub/sub channel
type RedisPublisher struct {
	redis   *redis.Client
	channel string
}

// NewRedisPublisher creates a publisher for the given channel
func NewRedisPublisher(redisClient *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{
		redis:   redisClient,
		channel: channel,
	}
}

// Publish sends one event. Events are best effort: nobody may be listening.
func (p *RedisPublisher) Publish(ctx context.Context, event model.JobEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return p.redis.Publish(ctx, p.channel, data).Err()
}

// Subscribe delivers events from the channel to handle until ctx is done.
func Subscribe(ctx context.Context, redisClient *redis.Client, channel string, handle func(model.JobEvent)) error {
	sub := redisClient.Subscribe(ctx, channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event model.JobEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Printf("Dropping malformed job event: %v", err)
				continue
			}
			handle(event)
		}
	}
}
