package logsink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

// Sink accepts log lines keyed by their source. Nothing in the pipeline reads them back.
type Sink interface {
	Push(ctx context.Context, sourceKey, message string) error
}

// RedisSink appends "{sourceKey}:{message}" entries to a Redis list
type RedisSink struct {
	redis   *redis.Client
	channel string
}

// NewRedisSink creates a sink writing to the named list
func NewRedisSink(redisClient *redis.Client, channel string) *RedisSink {
	return &RedisSink{
		redis:   redisClient,
		channel: channel,
	}
}

// Push appends one entry to the log list
func (s *RedisSink) Push(ctx context.Context, sourceKey, message string) error {
	return s.redis.RPush(ctx, s.channel, Format(sourceKey, message)).Err()
}

// Format renders a sink entry
func Format(sourceKey, message string) string {
	return fmt.Sprintf("%s:%s", sourceKey, message)
}

// Relay pops entries from the log list and writes one line per entry to w
// until ctx is done.
func Relay(ctx context.Context, redisClient *redis.Client, channel string, w io.Writer) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		res, err := redisClient.BLPop(ctx, time.Second, channel).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("Exception raised in log loop: %v", err)
			time.Sleep(time.Second)
			continue
		}

		if _, err := fmt.Fprintln(w, res[1]); err != nil {
			return err
		}
		if f, ok := w.(*os.File); ok {
			_ = f.Sync()
		}
	}
}
