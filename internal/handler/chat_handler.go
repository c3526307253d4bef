package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/medilink-api/internal/dto"
	"github.com/noah-isme/medilink-api/internal/service"
	"github.com/noah-isme/medilink-api/internal/utils"
)

// ChatHandler serves message requests: chats that the receiver must accept before both sides can write.
type ChatHandler struct {
	messaging service.MessagingService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewChatHandler creates a chat handler instance.
func NewChatHandler(messaging service.MessagingService, validate *validator.Validate, logger zerolog.Logger) *ChatHandler {
	return &ChatHandler{
		messaging: messaging,
		validator: validate,
		logger:    logger.With().Str("component", "chat_handler").Logger(),
	}
}

// Register binds chat routes under the provided router group.
func (h *ChatHandler) Register(router fiber.Router) {
	router.Post("/start", h.start)
	router.Get("/", h.list)
	router.Get("/:chatId/messages", h.messages)
	router.Post("/:chatId/accept", h.accept)
	router.Post("/:chatId/ignore", h.ignore)
	router.Post("/:chatId/message", h.send)
}

func (h *ChatHandler) start(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	var payload dto.ChatStartRequest
	if handled, err := parseBody(c, h.validator, &payload); handled {
		return err
	}

	chat, err := h.messaging.StartRequest(requestContext(c), userID, payload.UserID, payload.Text)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "message request sent", chat)
}

func (h *ChatHandler) list(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	chats, err := h.messaging.ListConversations(requestContext(c), userID)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "chats", chats)
}

func (h *ChatHandler) messages(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	messages, err := h.messaging.GetMessages(requestContext(c), c.Params("chatId"), userID)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "messages", messages)
}

func (h *ChatHandler) accept(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	chat, err := h.messaging.Accept(requestContext(c), c.Params("chatId"), userID)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "chat accepted", chat)
}

func (h *ChatHandler) ignore(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	chat, err := h.messaging.Ignore(requestContext(c), c.Params("chatId"), userID)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "chat request ignored", chat)
}

func (h *ChatHandler) send(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	var payload dto.ChatMessageRequest
	if handled, err := parseBody(c, h.validator, &payload); handled {
		return err
	}

	message, err := h.messaging.SendMessage(requestContext(c), c.Params("chatId"), userID, service.SendMessageInput{Text: payload.Text})
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "message sent", message)
}
