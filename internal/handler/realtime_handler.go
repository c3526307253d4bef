package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/medilink-api/internal/dto"
	"github.com/noah-isme/medilink-api/internal/middleware"
	"github.com/noah-isme/medilink-api/internal/realtime"
	"github.com/noah-isme/medilink-api/internal/utils"
)

const maxPresenceQuery = 200

// RealtimeEngine is the slice of the realtime engine the HTTP layer needs.
type RealtimeEngine interface {
	ServeConnection(ctx context.Context, conn realtime.Conn, userID string)
	OnlineUsers(ctx context.Context, userIDs []string) ([]string, error)
	Stats() realtime.Stats
}

// RealtimeHandler upgrades websocket connections and exposes presence.
type RealtimeHandler struct {
	engine RealtimeEngine
	logger zerolog.Logger
}

// NewRealtimeHandler constructs a realtime handler.
func NewRealtimeHandler(engine RealtimeEngine, logger zerolog.Logger) *RealtimeHandler {
	return &RealtimeHandler{
		engine: engine,
		logger: logger.With().Str("component", "realtime_handler").Logger(),
	}
}

// Register binds /ws, /presence and the admin stats route on the authenticated router.
func (h *RealtimeHandler) Register(router fiber.Router) {
	router.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("request_ctx", requestContext(c))
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	router.Get("/ws", websocket.New(h.handleConnection))
	router.Get("/presence", h.presence)
	router.Get("/realtime/stats", middleware.RequireRole(middleware.RoleAdmin), h.stats)
}

func (h *RealtimeHandler) handleConnection(conn *websocket.Conn) {
	userID, _ := conn.Locals("user_id").(string)
	if userID == "" {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "user id missing"))
		_ = conn.Close()
		return
	}

	ctx, _ := conn.Locals("request_ctx").(context.Context)
	if ctx == nil {
		ctx = context.Background()
	}

	h.logger.Info().Str("user_id", userID).Str("correlation_id", middleware.CorrelationIDFromContext(ctx)).Msg("realtime websocket connected")
	h.engine.ServeConnection(ctx, conn, userID)
	h.logger.Info().Str("user_id", userID).Msg("realtime websocket disconnected")
}

func (h *RealtimeHandler) presence(c *fiber.Ctx) error {
	ids := splitAndTrim(c.Query("user_ids"))
	if len(ids) > maxPresenceQuery {
		return utils.SendError(c, fiber.StatusBadRequest, "too many user ids")
	}

	online, err := h.engine.OnlineUsers(requestContext(c), ids)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "presence", dto.PresenceResponse{Online: online})
}

func (h *RealtimeHandler) stats(c *fiber.Ctx) error {
	return utils.SendSuccess(c, "realtime stats", h.engine.Stats())
}
