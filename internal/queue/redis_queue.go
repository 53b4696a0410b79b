package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/makeasinger/stemsplit/internal/model"
)

// Delivery is a descriptor handed to one consumer. In reliable mode it stays
// in the processing list until acknowledged.
type Delivery struct {
	Descriptor model.JobDescriptor
	raw        string
	claimed    bool
}

// RedisQueue is a FIFO job queue backed by a Redis list
type RedisQueue struct {
	redis      *redis.Client
	name       string
	processing string
	reliable   bool
}

// NewRedisQueue creates a queue over the named list
func NewRedisQueue(redisClient *redis.Client, name string) *RedisQueue {
	return &RedisQueue{
		redis:      redisClient,
		name:       name,
		processing: name + ":processing",
	}
}

// WithReliable switches Claim to claim-check delivery: claimed items move to
// a processing list and are removed only by Ack.
func (q *RedisQueue) WithReliable(reliable bool) *RedisQueue {
	q.reliable = reliable
	return q
}

// WithConsumer gives this consumer its own processing list,
// "{name}:processing:{id}". RequeueInflight then only touches items this
// consumer claimed, so a restarting process cannot steal jobs that live
// coordinators elsewhere still hold. The id must be stable across restarts.
func (q *RedisQueue) WithConsumer(id string) *RedisQueue {
	if id == "" {
		q.processing = q.name + ":processing"
	} else {
		q.processing = q.name + ":processing:" + id
	}
	return q
}

// Processing returns the name of the in-flight list used in reliable mode
func (q *RedisQueue) Processing() string {
	return q.processing
}

// Reliable reports whether claim-check delivery is on
func (q *RedisQueue) Reliable() bool {
	return q.reliable
}

// Name returns the list name
func (q *RedisQueue) Name() string {
	return q.name
}

// Push appends a descriptor to the tail of the queue
func (q *RedisQueue) Push(ctx context.Context, d model.JobDescriptor) error {
	payload, err := d.Encode()
	if err != nil {
		return err
	}
	if err := q.redis.RPush(ctx, q.name, payload).Err(); err != nil {
		return fmt.Errorf("%w: failed to push to %s: %w", model.ErrQueue, q.name, err)
	}
	return nil
}

// BlockingPop removes and returns the head of the queue, waiting up to
// timeout for an item. It returns nil, nil when the timeout elapses.
// Redis counts the timeout in whole seconds; a zero timeout waits forever.
func (q *RedisQueue) BlockingPop(ctx context.Context, timeout time.Duration) (*model.JobDescriptor, error) {
	res, err := q.redis.BLPop(ctx, normalizeTimeout(timeout), q.name).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: failed to pop from %s: %w", model.ErrQueue, q.name, err)
	}

	// BLPOP replies with [key, value]
	d, err := model.DecodeDescriptor(res[1])
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Claim hands the next descriptor to the caller. Without reliable mode it is
// the same as BlockingPop.
func (q *RedisQueue) Claim(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	if !q.reliable {
		d, err := q.BlockingPop(ctx, timeout)
		if err != nil || d == nil {
			return nil, err
		}
		return &Delivery{Descriptor: *d}, nil
	}

	raw, err := q.redis.BLMove(ctx, q.name, q.processing, "LEFT", "RIGHT", normalizeTimeout(timeout)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: failed to claim from %s: %w", model.ErrQueue, q.name, err)
	}

	d, err := model.DecodeDescriptor(raw)
	if err != nil {
		// A malformed entry can never be processed; drop it from the processing list.
		if remErr := q.redis.LRem(ctx, q.processing, 1, raw).Err(); remErr != nil {
			log.Printf("Failed to drop malformed entry from %s: %v", q.processing, remErr)
		}
		return nil, err
	}

	return &Delivery{Descriptor: d, raw: raw, claimed: true}, nil
}

// Ack marks a delivery as done. It is a no-op for unconditional pops.
func (q *RedisQueue) Ack(ctx context.Context, dl *Delivery) error {
	if dl == nil || !dl.claimed {
		return nil
	}
	if err := q.redis.LRem(ctx, q.processing, 1, dl.raw).Err(); err != nil {
		return fmt.Errorf("%w: failed to ack %s: %w", model.ErrQueue, dl.Descriptor.JobID, err)
	}
	return nil
}

// RequeueInflight moves every claimed-but-unacknowledged item of this
// consumer back to the head of the queue. The pool calls it at startup in
// reliable mode.
func (q *RedisQueue) RequeueInflight(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.redis.LMove(ctx, q.processing, q.name, "RIGHT", "LEFT").Err()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return moved, nil
			}
			return moved, fmt.Errorf("%w: failed to requeue from %s: %w", model.ErrQueue, q.processing, err)
		}
		moved++
	}
}

// Snapshot returns the pending descriptors in queue order. Entries that do not
// decode are skipped.
func (q *RedisQueue) Snapshot(ctx context.Context) ([]model.JobDescriptor, error) {
	entries, err := q.redis.LRange(ctx, q.name, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %w", model.ErrQueue, q.name, err)
	}

	descriptors := make([]model.JobDescriptor, 0, len(entries))
	for _, entry := range entries {
		d, err := model.DecodeDescriptor(entry)
		if err != nil {
			log.Printf("Skipping queue entry %q: %v", entry, err)
			continue
		}
		descriptors = append(descriptors, d)
	}
	return descriptors, nil
}

// Len returns the number of pending descriptors
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.redis.LLen(ctx, q.name).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: failed to read %s: %w", model.ErrQueue, q.name, err)
	}
	return n, nil
}

// Ping checks broker connectivity
func (q *RedisQueue) Ping(ctx context.Context) error {
	if err := q.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", model.ErrQueue, err)
	}
	return nil
}

func normalizeTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return 0
	}
	if timeout < time.Second {
		return time.Second
	}
	return timeout
}
