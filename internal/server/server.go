package server

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/makeasinger/stemsplit/internal/config"
	"github.com/makeasinger/stemsplit/internal/handler"
	"github.com/makeasinger/stemsplit/internal/logsink"
	"github.com/makeasinger/stemsplit/internal/middleware"
	"github.com/makeasinger/stemsplit/internal/service"
	"github.com/makeasinger/stemsplit/internal/storage"
	ws "github.com/makeasinger/stemsplit/internal/websocket"
	"github.com/makeasinger/stemsplit/pkg/response"
)

// Deps are the shared clients and services the HTTP surface is built from
type Deps struct {
	Config      *config.Config
	Redis       *redis.Client
	Store       *storage.ContentStore
	Separation  *service.SeparationService
	Tracks      *service.TrackService
	DeadLetters *service.DeadLetterService // nil when disabled
	Hub         *ws.Hub
	Logger      *logsink.Logger
}

// NewApp builds the fiber app with every route registered
func NewApp(d Deps) *fiber.App {
	validate := validator.New()

	separateHandler := handler.NewSeparateHandler(d.Separation, validate, d.Logger)
	trackHandler := handler.NewTrackHandler(d.Tracks, validate)
	deadLetterHandler := handler.NewDeadLetterHandler(d.DeadLetters)
	healthHandler := handler.NewHealthHandler(d.Redis, d.Store)
	rateLimiter := middleware.NewRateLimiter(d.Redis)

	bodyLimit := d.Config.Server.BodyLimit
	if bodyLimit <= 0 {
		bodyLimit = 100
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    bodyLimit * 1024 * 1024,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	app.Get("/health", healthHandler.Health)

	api := app.Group("/apiv1")
	api.Post("/separate", rateLimiter.SubmitLimit(d.Config.RateLimit.SubmitPerHour), separateHandler.Separate)
	api.Get("/queue", trackHandler.Queue)
	api.Get("/track/:songhash/:track", trackHandler.Track)
	api.Delete("/remove/:songhash/:track", trackHandler.Remove)
	api.Get("/status/:songhash", trackHandler.Status)

	deadLetters := api.Group("/deadletters")
	deadLetters.Get("/", deadLetterHandler.List)
	deadLetters.Post("/:id/retry", deadLetterHandler.Retry)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/jobs/:songhash", websocket.New(func(c *websocket.Conn) {
		d.Hub.HandleConnection(c, c.Params("songhash"))
	}))

	return app
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	errCode := response.CodeServiceError
	switch code {
	case fiber.StatusNotFound:
		errCode = response.CodeNotFound
	case fiber.StatusRequestEntityTooLarge, fiber.StatusBadRequest:
		errCode = response.CodeValidationError
	}

	return response.Error(c, code, errCode, message, nil)
}
