package handler

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/medilink-api/internal/middleware"
	"github.com/noah-isme/medilink-api/internal/service"
	"github.com/noah-isme/medilink-api/internal/utils"
)

func splitAndTrim(input string) []string {
	parts := strings.Split(input, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func parseQueryInt(c *fiber.Ctx, key string) (int, error) {
	value := strings.TrimSpace(c.Query(key))
	if value == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	return parsed, nil
}

func userIDFromContext(c *fiber.Ctx) string {
	if id, ok := c.Locals("user_id").(string); ok {
		return strings.TrimSpace(id)
	}
	return ""
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
}

func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	logger := base
	if c != nil {
		if correlation := middleware.GetCorrelationID(c); correlation != "" {
			logger = base.With().Str("correlation_id", correlation).Logger()
		}
	}
	return &logger
}

// parseBody decodes the JSON body into payload and runs struct validation, writing the 400 response itself.
// A nil return with handled=true means the response was already sent.
func parseBody(c *fiber.Ctx, validate *validator.Validate, payload interface{}) (bool, error) {
	if err := c.BodyParser(payload); err != nil {
		return true, utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if validate == nil {
		return false, nil
	}
	if err := validate.Struct(payload); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			return true, utils.Fail(c, fiber.StatusBadRequest, "validation failed", validationDetails(validationErrs))
		}
		return true, utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	return false, nil
}

func validationDetails(errs validator.ValidationErrors) map[string]string {
	details := make(map[string]string, len(errs))
	for _, fieldErr := range errs {
		details[fieldErr.Field()] = fieldErr.Tag()
	}
	return details
}

// respondError maps service errors onto HTTP statuses. Unknown errors are logged and hidden from the client.
func respondError(c *fiber.Ctx, logger zerolog.Logger, err error) error {
	switch {
	case errors.Is(err, service.ErrValidation), errors.Is(err, service.ErrInvalidState):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrForbidden):
		return utils.SendError(c, fiber.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrNotFound):
		return utils.SendError(c, fiber.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrConflict):
		return utils.SendError(c, fiber.StatusConflict, err.Error())
	default:
		requestLogger(logger, c).Error().Err(err).Str("path", c.Path()).Msg("request failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}
