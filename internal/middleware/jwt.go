package middleware

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/medilink-api/internal/utils"
)

// JWTProtected returns a middleware that validates JWT bearer tokens.
// Websocket upgrades may carry the token in the `token` query parameter since browsers cannot set headers there.
func JWTProtected(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString, err := bearerToken(c)
		if err != nil {
			return utils.SendError(c, fiber.StatusUnauthorized, err.Error())
		}

		token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method")
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token")
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token claims")
		}

		userID := extractUserIDFromClaims(claims)
		if userID == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "token subject missing")
		}
		c.Locals("user_id", userID)

		if role := extractUserRoleFromClaims(claims); role != "" {
			c.Locals("user_role", role)
		}

		return c.Next()
	}
}

func bearerToken(c *fiber.Ctx) (string, error) {
	authorization := c.Get("Authorization")
	if authorization == "" {
		if query := strings.TrimSpace(c.Query("token")); query != "" && isUpgrade(c) {
			return query, nil
		}
		return "", fmt.Errorf("authorization header missing")
	}

	const bearer = "Bearer "
	if !strings.HasPrefix(strings.ToLower(authorization), strings.ToLower(bearer)) {
		return "", fmt.Errorf("invalid authorization header")
	}

	tokenString := strings.TrimSpace(authorization[len(bearer):])
	if tokenString == "" {
		return "", fmt.Errorf("invalid token")
	}
	return tokenString, nil
}

func isUpgrade(c *fiber.Ctx) bool {
	return strings.EqualFold(c.Get(fiber.HeaderUpgrade), "websocket")
}

func extractUserIDFromClaims(claims jwt.MapClaims) string {
	keys := []string{"sub", "user_id", "id"}
	for _, key := range keys {
		if value, ok := claims[key]; ok {
			if normalized := normalizeUserID(value); normalized != "" {
				return normalized
			}
		}
	}

	return ""
}

func normalizeUserID(value interface{}) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		if v < 0 {
			return ""
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func extractUserRoleFromClaims(claims jwt.MapClaims) string {
	candidates := []string{"role", "roles"}
	for _, key := range candidates {
		if value, ok := claims[key]; ok {
			if role := normalizeRole(value); role != "" {
				return role
			}
		}
	}
	return ""
}

func normalizeRole(value interface{}) string {
	switch v := value.(type) {
	case string:
		return strings.ToLower(strings.TrimSpace(v))
	case []interface{}:
		for _, item := range v {
			if str, ok := item.(string); ok {
				role := strings.ToLower(strings.TrimSpace(str))
				if role != "" {
					return role
				}
			}
		}
	default:
		return ""
	}
	return ""
}
