package middleware

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	// HeaderCorrelationID is read from requests and echoed on every response.
	HeaderCorrelationID = "X-Correlation-ID"
	headerRequestID     = "X-Request-ID"
	// correlationQuery carries the id on websocket upgrades, where browsers cannot set headers.
	correlationQuery = "cid"

	maxCorrelationIDLength = 64
)

type correlationIDKey struct{}

var correlationKey = correlationIDKey{}

// CorrelationID tags each request with an id that follows it into service logs, realtime
// connection logs and spans. Client supplied ids that are too long or contain characters
// outside [A-Za-z0-9._:-] are replaced with a fresh UUID so they cannot forge log fields.
func CorrelationID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		incoming := validCorrelationID(c.Get(HeaderCorrelationID))
		if incoming == "" {
			incoming = validCorrelationID(c.Get(headerRequestID))
		}
		if incoming == "" && isUpgrade(c) {
			incoming = validCorrelationID(c.Query(correlationQuery))
		}
		if incoming == "" {
			incoming = uuid.NewString()
		}

		c.Locals("correlation_id", incoming)
		c.Set(HeaderCorrelationID, incoming)
		c.SetUserContext(context.WithValue(c.UserContext(), correlationKey, incoming))

		return c.Next()
	}
}

// CorrelationIDFromContext returns the id bound by CorrelationID or ContextWithCorrelation.
func CorrelationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(correlationKey).(string)
	return id
}

// GetCorrelationID returns the id of the request being handled.
func GetCorrelationID(c *fiber.Ctx) string {
	if c == nil {
		return ""
	}
	if id, ok := c.Locals("correlation_id").(string); ok {
		return id
	}
	return CorrelationIDFromContext(c.UserContext())
}

// ContextWithCorrelation carries the request id into contexts handed to services and the realtime engine.
func ContextWithCorrelation(ctx context.Context, correlationID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	correlationID = strings.TrimSpace(correlationID)
	if correlationID == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey, correlationID)
}

func validCorrelationID(value string) string {
	value = strings.TrimSpace(value)
	if value == "" || len(value) > maxCorrelationIDLength {
		return ""
	}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.', r == ':':
		default:
			return ""
		}
	}
	return value
}
