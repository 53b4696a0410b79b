package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/makeasinger/stemsplit/internal/config"
	"github.com/makeasinger/stemsplit/internal/logsink"
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

	log.Printf("Relaying log lines from %s", cfg.Redis.LogChannel)
	if err := logsink.Relay(ctx, redisClient, cfg.Redis.LogChannel, os.Stdout); err != nil {
		log.Fatalf("Log relay error: %v", err)
	}
}
