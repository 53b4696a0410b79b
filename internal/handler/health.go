package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/makeasinger/stemsplit/internal/storage"
)

const healthTimeout = 2 * time.Second

type HealthHandler struct {
	redis *redis.Client
	store *storage.ContentStore
}

func NewHealthHandler(redisClient *redis.Client, store *storage.ContentStore) *HealthHandler {
	return &HealthHandler{
		redis: redisClient,
		store: store,
	}
}

// Health handles GET /health. It always answers 200 and reports which
// backing services are reachable.
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), healthTimeout)
	defer cancel()

	redisOK := h.redis.Ping(ctx).Err() == nil

	storageOK := false
	if exists, err := h.store.BucketExists(ctx); err == nil {
		storageOK = exists
	}

	status := "ok"
	if !redisOK || !storageOK {
		status = "degraded"
	}

	return c.JSON(fiber.Map{
		"status": status,
		"services": fiber.Map{
			"redis":   redisOK,
			"storage": storageOK,
		},
	})
}
