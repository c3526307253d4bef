package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/medilink-api/internal/service"
	"github.com/noah-isme/medilink-api/internal/utils"
)

// ConnectionHandler manages the user connection graph.
type ConnectionHandler struct {
	service service.NotificationService
	logger  zerolog.Logger
}

// NewConnectionHandler constructs a connection handler.
func NewConnectionHandler(service service.NotificationService, logger zerolog.Logger) *ConnectionHandler {
	return &ConnectionHandler{
		service: service,
		logger:  logger.With().Str("component", "connection_handler").Logger(),
	}
}

// Register binds the /users routes.
func (h *ConnectionHandler) Register(router fiber.Router) {
	router.Get("/connections", h.list)
	router.Post("/connect/:id", h.connect)
	router.Post("/:id/unconnect", h.unconnect)
}

func (h *ConnectionHandler) list(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	connections, err := h.service.ListConnections(requestContext(c), userID)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "connections", connections)
}

func (h *ConnectionHandler) connect(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	request, err := h.service.CreateConnectionRequest(requestContext(c), userID, c.Params("id"))
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "connection request sent", request)
}

func (h *ConnectionHandler) unconnect(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	if err := h.service.Unconnect(requestContext(c), userID, c.Params("id")); err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "connection removed", nil)
}
