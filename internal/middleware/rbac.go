package middleware

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/medilink-api/internal/utils"
)

// Roles carried in the JWT role claim.
const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
	RoleAdmin   = "admin"
)

// RequireRole admits callers whose role claim matches one of roles. Admins pass every role gate.
// A token without a role claim is treated as a plain member and is rejected.
func RequireRole(roles ...string) fiber.Handler {
	allowed := map[string]struct{}{RoleAdmin: {}}
	for _, role := range roles {
		if normalized := normalizeRoleName(role); normalized != "" {
			allowed[normalized] = struct{}{}
		}
	}

	return func(c *fiber.Ctx) error {
		role := UserRole(c)
		if role == "" {
			return utils.SendError(c, fiber.StatusForbidden, "role claim missing")
		}
		if _, ok := allowed[role]; !ok {
			return utils.SendError(c, fiber.StatusForbidden, "insufficient permissions")
		}
		return c.Next()
	}
}

// UserRole returns the normalised role set by JWTProtected, or "" when the token had none.
func UserRole(c *fiber.Ctx) string {
	switch v := c.Locals("user_role").(type) {
	case nil:
		return ""
	case string:
		return normalizeRoleName(v)
	case fmt.Stringer:
		return normalizeRoleName(v.String())
	default:
		return normalizeRoleName(fmt.Sprintf("%v", v))
	}
}

func normalizeRoleName(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
