package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/medilink-api/internal/config"
	"github.com/noah-isme/medilink-api/internal/realtime"
	"github.com/noah-isme/medilink-api/internal/utils"
)

// HealthResponse represents the payload returned by the health endpoint.
type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Service     string         `json:"service"`
	Environment string         `json:"environment"`
	Redis       string         `json:"redis,omitempty"`
	Realtime    realtime.Stats `json:"realtime"`
}

// HealthCheck returns a handler that reports application health information.
// Redis is optional; when configured its reachability is included but never fails the check.
func HealthCheck(cfg config.Config, redisClient *redis.Client, engine RealtimeEngine) fiber.Handler {
	return func(c *fiber.Ctx) error {
		payload := HealthResponse{
			Status:      "ok",
			Timestamp:   time.Now().UTC(),
			Service:     cfg.AppName,
			Environment: cfg.AppEnv,
		}

		if redisClient != nil {
			ctx, cancel := context.WithTimeout(c.UserContext(), time.Second)
			defer cancel()
			payload.Redis = "ok"
			if err := redisClient.Ping(ctx).Err(); err != nil {
				payload.Redis = "unreachable"
			}
		}
		if engine != nil {
			payload.Realtime = engine.Stats()
		}

		return utils.SendSuccess(c, "service healthy", payload)
	}
}
