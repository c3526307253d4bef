package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/medilink-api/internal/dto"
	"github.com/noah-isme/medilink-api/internal/service"
	"github.com/noah-isme/medilink-api/internal/utils"
)

// NotificationHandler lists notifications and answers connection requests.
type NotificationHandler struct {
	service service.NotificationService
	logger  zerolog.Logger
}

// NewNotificationHandler constructs a handler instance.
func NewNotificationHandler(service service.NotificationService, logger zerolog.Logger) *NotificationHandler {
	return &NotificationHandler{
		service: service,
		logger:  logger.With().Str("component", "notification_handler").Logger(),
	}
}

// Register binds the notification routes.
func (h *NotificationHandler) Register(router fiber.Router) {
	router.Get("/", h.list)
	router.Patch("/:id/read", h.markRead)
	router.Post("/accept/:id", h.accept)
	router.Post("/reject/:id", h.reject)
	router.Post("/maybe/:id", h.maybeLater)
}

func (h *NotificationHandler) list(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}
	offset, err := parseQueryInt(c, "offset")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid offset")
	}

	notifications, err := h.service.List(requestContext(c), userID, limit, offset)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.OK(c, notifications, "notifications", dto.NotificationListQuery{Limit: limit, Offset: offset})
}

func (h *NotificationHandler) markRead(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	notification, err := h.service.MarkRead(requestContext(c), c.Params("id"), userID)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "notification updated", notification)
}

func (h *NotificationHandler) accept(c *fiber.Ctx) error {
	return h.answer(c, "connection accepted", h.service.Accept)
}

func (h *NotificationHandler) reject(c *fiber.Ctx) error {
	return h.answer(c, "connection request removed", h.service.Reject)
}

func (h *NotificationHandler) maybeLater(c *fiber.Ctx) error {
	return h.answer(c, "marked as maybe later", h.service.DeferToLater)
}

type answerFunc func(ctx context.Context, notificationID, actorID string) (dto.NotificationResponse, error)

func (h *NotificationHandler) answer(c *fiber.Ctx, message string, fn answerFunc) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	notification, err := fn(requestContext(c), c.Params("id"), userID)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, message, notification)
}
