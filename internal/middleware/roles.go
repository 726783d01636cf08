package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/idest-grading-api/internal/models"
	"github.com/noah-isme/idest-grading-api/internal/utils"
)

// RequireUser rejects requests that reached the route without an authenticated subject.
func RequireUser() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if id, _ := c.Locals("user_id").(string); id == "" {
			return utils.Fail(c, fiber.StatusUnauthorized, "authentication required", nil)
		}
		return c.Next()
	}
}

// RequireRole lets the request through when the caller holds one of roles.
func RequireRole(roles ...string) fiber.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		if normalized := models.NormalizeRole(role); normalized != "" {
			allowed[normalized] = struct{}{}
		}
	}

	return func(c *fiber.Ctx) error {
		if id, _ := c.Locals("user_id").(string); id == "" {
			return utils.Fail(c, fiber.StatusUnauthorized, "authentication required", nil)
		}
		if _, ok := allowed[currentRole(c)]; !ok {
			return utils.Fail(c, fiber.StatusForbidden, "insufficient permissions", nil)
		}
		return c.Next()
	}
}

// RequireStaff admits teachers and admins.
func RequireStaff() fiber.Handler {
	return RequireRole(models.RoleTeacher, models.RoleAdmin)
}

func currentRole(c *fiber.Ctx) string {
	role, _ := c.Locals("user_role").(string)
	return models.NormalizeRole(role)
}
