package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/makeasinger/stemsplit/internal/client"
	"github.com/makeasinger/stemsplit/internal/config"
	"github.com/makeasinger/stemsplit/internal/events"
	"github.com/makeasinger/stemsplit/internal/logsink"
	"github.com/makeasinger/stemsplit/internal/queue"
	"github.com/makeasinger/stemsplit/internal/service"
	"github.com/makeasinger/stemsplit/internal/storage"
	"github.com/makeasinger/stemsplit/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
	}

	logger := logsink.NewLogger(logsink.NewRedisSink(redisClient, cfg.Redis.LogChannel), "worker").
		WithDebug(cfg.Server.LogLevel == "debug")
	defer logger.Close()

	s3Client, err := client.NewS3Client(&cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to create storage client: %v", err)
	}
	store := storage.NewContentStore(s3Client, cfg.Storage.Bucket)
	if err := store.EnsureBucket(ctx); err != nil {
		log.Printf("Warning: bucket %s not available: %v", cfg.Storage.Bucket, err)
	}

	jobQueue := queue.NewRedisQueue(redisClient, cfg.Redis.JobQueue).
		WithReliable(cfg.Worker.Reliable).
		WithConsumer(cfg.Worker.ConsumerID)

	if err := os.MkdirAll(cfg.Separator.WorkDir, 0o755); err != nil {
		log.Fatalf("Failed to create work dir %s: %v", cfg.Separator.WorkDir, err)
	}

	separator := client.NewDemucsSeparator(&cfg.Separator).WithOutput(func(line string) {
		logger.Debugf("%s", line)
	})

	opts := worker.Options{
		Queue:      jobQueue,
		Store:      store,
		Separator:  separator,
		Events:     events.NewRedisPublisher(redisClient, cfg.Redis.EventsChannel),
		Logger:     logger,
		WorkDir:    cfg.Separator.WorkDir,
		PopTimeout: cfg.Worker.PopTimeout,
	}

	if cfg.DeadLetter.Enabled {
		redisOpt := asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}
		asynqClient := asynq.NewClient(redisOpt)
		defer asynqClient.Close()
		inspector := asynq.NewInspector(redisOpt)
		defer inspector.Close()

		opts.DeadLetters = service.NewDeadLetterService(asynqClient, inspector, cfg.DeadLetter.Queue, cfg.DeadLetter.Retention, jobQueue, logger)
	}

	pool := worker.NewPool(cfg.Worker.Concurrency, opts)
	log.Printf("Worker starting %d coordinators on %s (model %s, reliable=%t, inflight=%s)",
		pool.Size(), jobQueue.Name(), separator.Model(), jobQueue.Reliable(), jobQueue.Processing())

	if err := pool.Run(ctx); err != nil {
		log.Printf("Worker error: %v", err)
	}
	log.Println("Worker stopped")
}
