package handler

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/medilink-api/internal/dto"
	"github.com/noah-isme/medilink-api/internal/models"
	"github.com/noah-isme/medilink-api/internal/service"
	"github.com/noah-isme/medilink-api/internal/utils"
)

// ConversationHandler serves the ungated conversation and message endpoints.
type ConversationHandler struct {
	messaging   service.MessagingService
	attachments service.AttachmentService
	validator   *validator.Validate
	logger      zerolog.Logger
}

// NewConversationHandler constructs a conversation handler.
func NewConversationHandler(messaging service.MessagingService, attachments service.AttachmentService, validate *validator.Validate, logger zerolog.Logger) *ConversationHandler {
	return &ConversationHandler{
		messaging:   messaging,
		attachments: attachments,
		validator:   validate,
		logger:      logger.With().Str("component", "conversation_handler").Logger(),
	}
}

// Register binds /conversations and /messages on the authenticated router.
func (h *ConversationHandler) Register(router fiber.Router) {
	router.Post("/conversations", h.getOrCreate)
	router.Get("/conversations", h.list)
	router.Get("/messages/:id", h.messages)
	router.Post("/messages/:id", h.send)
}

func (h *ConversationHandler) getOrCreate(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	var payload dto.ConversationCreateRequest
	if handled, err := parseBody(c, h.validator, &payload); handled {
		return err
	}

	conversation, err := h.messaging.GetOrCreateConversation(requestContext(c), userID, payload.OtherUserID)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "conversation ready", conversation)
}

func (h *ConversationHandler) list(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	conversations, err := h.messaging.ListConversations(requestContext(c), userID)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "conversations", conversations)
}

func (h *ConversationHandler) messages(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	messages, err := h.messaging.GetMessages(requestContext(c), c.Params("id"), userID)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "messages", messages)
}

func (h *ConversationHandler) send(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	ctx := requestContext(c)
	var input service.SendMessageInput

	if strings.HasPrefix(strings.ToLower(c.Get(fiber.HeaderContentType)), fiber.MIMEMultipartForm) {
		form, err := c.MultipartForm()
		if err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid multipart body")
		}
		if values := form.Value["text"]; len(values) > 0 {
			input.Text = values[0]
		}
		if h.attachments == nil && len(form.File["files"]) > 0 {
			return utils.SendError(c, fiber.StatusBadRequest, "attachments are not enabled")
		}
		if h.attachments != nil {
			attachments, err := h.attachments.Upload(ctx, form.File["files"])
			if err != nil {
				return respondError(c, h.logger, err)
			}
			input.Attachments = attachments
		}
	} else {
		var payload dto.MessageCreateRequest
		if handled, err := parseBody(c, h.validator, &payload); handled {
			return err
		}
		input.Text = payload.Text
		for _, attachment := range payload.Attachments {
			input.Attachments = append(input.Attachments, models.Attachment{
				URL:  attachment.URL,
				Kind: models.AttachmentKind(attachment.Kind),
			})
		}
	}

	message, err := h.messaging.SendMessage(ctx, c.Params("id"), userID, input)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "message sent", message)
}
