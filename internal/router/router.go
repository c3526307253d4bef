package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/medilink-api/internal/config"
	"github.com/noah-isme/medilink-api/internal/handler"
	"github.com/noah-isme/medilink-api/internal/middleware"
	"github.com/noah-isme/medilink-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	ConversationHandler *handler.ConversationHandler
	ChatHandler         *handler.ChatHandler
	NotificationHandler *handler.NotificationHandler
	ConnectionHandler   *handler.ConnectionHandler
	InteractionHandler  *handler.InteractionHandler
	RealtimeHandler     *handler.RealtimeHandler
	Realtime            handler.RealtimeEngine
	Redis               *redis.Client
	JWTMiddleware       fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler())

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.Redis, deps.Realtime))

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	protected := api.Group("", jwtMiddleware)

	if deps.ConversationHandler != nil {
		deps.ConversationHandler.Register(protected)
	}

	if deps.ChatHandler != nil {
		deps.ChatHandler.Register(protected.Group("/chat"))
	}

	if deps.NotificationHandler != nil {
		deps.NotificationHandler.Register(protected.Group("/notifications"))
	}

	if deps.ConnectionHandler != nil {
		users := protected.Group("/users", middleware.RateLimit("connections", 20, time.Minute))
		deps.ConnectionHandler.Register(users)
	}

	if deps.InteractionHandler != nil {
		deps.InteractionHandler.Register(protected.Group("/interactions"))
	}

	if deps.RealtimeHandler != nil {
		deps.RealtimeHandler.Register(protected)
	}
}
