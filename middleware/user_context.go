package middleware

import (
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// UserContextMiddleware extracts the user identity headers set by the
// Gateway. Identity is enforced only on secured paths (/s/); everywhere else
// an anonymous guest is fine — local play works without an account.
func UserContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Get("X-User-ID")
		userName := c.Get("X-User-Name")

		path := c.Path()
		isSecured := strings.HasPrefix(path, "/s/")
		if isSecured && userID == "" {
			log.Printf("❌ [USER_CTX] X-User-ID required but missing on secured route: %s", path)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-User-ID — request must come through gateway with auth context",
			})
		}

		if userName == "" {
			userName = userID
		}

		c.Locals("user_id", userID)
		c.Locals("user_name", userName)

		return c.Next()
	}
}
