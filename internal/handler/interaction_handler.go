package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/medilink-api/internal/dto"
	"github.com/noah-isme/medilink-api/internal/models"
	"github.com/noah-isme/medilink-api/internal/service"
	"github.com/noah-isme/medilink-api/internal/utils"
)

// InteractionHandler receives post likes and comments reported by the content service.
type InteractionHandler struct {
	service   service.NotificationService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewInteractionHandler constructs an interaction handler.
func NewInteractionHandler(service service.NotificationService, validate *validator.Validate, logger zerolog.Logger) *InteractionHandler {
	return &InteractionHandler{
		service:   service,
		validator: validate,
		logger:    logger.With().Str("component", "interaction_handler").Logger(),
	}
}

// Register binds the /interactions route.
func (h *InteractionHandler) Register(router fiber.Router) {
	router.Post("/", h.create)
}

func (h *InteractionHandler) create(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	var payload dto.InteractionRequest
	if handled, err := parseBody(c, h.validator, &payload); handled {
		return err
	}

	notification, err := h.service.NotifyInteraction(requestContext(c), service.InteractionInput{
		Type:        models.NotificationType(payload.Type),
		ActorID:     userID,
		RecipientID: payload.RecipientID,
		PostID:      payload.PostID,
		Preview:     payload.Preview,
	})
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "interaction recorded", notification)
}
