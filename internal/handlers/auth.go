package handlers

import (
	"strings"

	"fretes-chat/internal/services"

	"github.com/gofiber/fiber/v2"
)

// AuthMiddleware verifies the JWT and stores the identity in locals
func AuthMiddleware(users *services.UserService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Get token from query param `access_token` (browsers can't set
		// headers on websocket upgrades) or Authorization header
		token := c.Query("access_token")
		if token == "" {
			authHeader := c.Get("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				token = strings.TrimPrefix(authHeader, "Bearer ")
			}
		}

		if token == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing token")
		}

		claims, err := users.ValidateToken(token)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid token")
		}

		c.Locals("user_id", claims.UserID)
		c.Locals("role", claims.Role)
		return c.Next()
	}
}

func currentUserID(c *fiber.Ctx) int {
	id, _ := c.Locals("user_id").(int)
	return id
}

func currentRole(c *fiber.Ctx) string {
	role, _ := c.Locals("role").(string)
	return role
}
