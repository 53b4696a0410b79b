package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/makeasinger/stemsplit/internal/client"
	"github.com/makeasinger/stemsplit/internal/config"
	"github.com/makeasinger/stemsplit/internal/events"
	"github.com/makeasinger/stemsplit/internal/logsink"
	"github.com/makeasinger/stemsplit/internal/queue"
	"github.com/makeasinger/stemsplit/internal/server"
	"github.com/makeasinger/stemsplit/internal/service"
	"github.com/makeasinger/stemsplit/internal/storage"
	ws "github.com/makeasinger/stemsplit/internal/websocket"
	"github.com/makeasinger/stemsplit/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Test Redis connection
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
	}

	logger := logsink.NewLogger(logsink.NewRedisSink(redisClient, cfg.Redis.LogChannel), "api").
		WithDebug(cfg.Server.LogLevel == "debug")
	defer logger.Close()

	// Initialize object storage
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
		WithConsumer("api-" + cfg.Worker.ConsumerID)

	// Dead-letter queue
	var deadLetters *service.DeadLetterService
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

		deadLetters = service.NewDeadLetterService(asynqClient, inspector, cfg.DeadLetter.Queue, cfg.DeadLetter.Retention, jobQueue, logger)
	}

	// Initialize services
	separationService := service.NewSeparationService(store, jobQueue, logger)
	trackService := service.NewTrackService(store, jobQueue, logger)

	// Initialize WebSocket hub, fed from the job event channel
	hub := ws.NewHub()
	go hub.Run(ctx)
	go func() {
		if err := events.Subscribe(ctx, redisClient, cfg.Redis.EventsChannel, hub.BroadcastEvent); err != nil {
			log.Printf("Job events unavailable: %v", err)
		}
	}()

	app := server.NewApp(server.Deps{
		Config:      cfg,
		Redis:       redisClient,
		Store:       store,
		Separation:  separationService,
		Tracks:      trackService,
		DeadLetters: deadLetters,
		Hub:         hub,
		Logger:      logger,
	})

	// Embedded coordinators
	done := make(chan struct{})
	if cfg.Worker.Embedded {
		go func() {
			defer close(done)
			startCoordinators(ctx, cfg, redisClient, jobQueue, store, deadLetters)
		}()
	} else {
		close(done)
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		stop()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	stop()
	<-done
}

func startCoordinators(ctx context.Context, cfg *config.Config, redisClient *redis.Client, jobQueue *queue.RedisQueue, store *storage.ContentStore, deadLetters *service.DeadLetterService) {
	logger := logsink.NewLogger(logsink.NewRedisSink(redisClient, cfg.Redis.LogChannel), "worker").
		WithDebug(cfg.Server.LogLevel == "debug")
	defer logger.Close()

	if err := os.MkdirAll(cfg.Separator.WorkDir, 0o755); err != nil {
		log.Printf("Embedded coordinators disabled: work dir %s: %v", cfg.Separator.WorkDir, err)
		return
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
	if deadLetters != nil {
		opts.DeadLetters = deadLetters
	}

	pool := worker.NewPool(cfg.Worker.Concurrency, opts)
	log.Printf("Starting %d embedded coordinators (model %s)", pool.Size(), separator.Model())
	if err := pool.Run(ctx); err != nil {
		log.Printf("Coordinator pool error: %v", err)
	}
}
