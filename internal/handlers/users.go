package handlers

import (
	"net/http"

	"fretes-chat/internal/models"
	"fretes-chat/internal/presence"
	"fretes-chat/internal/services"

	"github.com/gofiber/fiber/v2"
)

func RegisterHandler(users *services.UserService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req models.RegisterRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request")
		}
		user, err := users.Register(c.Context(), req)
		if err != nil {
			return respondError(c, err, "Register")
		}
		return c.Status(http.StatusCreated).JSON(user)
	}
}

func LoginHandler(users *services.UserService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req models.LoginRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request")
		}
		res, err := users.Login(c.Context(), req)
		if err != nil {
			return respondError(c, err, "Login")
		}
		return c.JSON(res)
	}
}

// MeHandler returns the profile behind the token.
func MeHandler(users *services.UserService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user, err := users.GetUser(c.Context(), currentUserID(c))
		if err != nil {
			return respondError(c, err, "GetUser")
		}
		return c.JSON(user)
	}
}

// OnlineUsersHandler lists the user ids currently announced on the live channel.
func OnlineUsersHandler(hub *presence.Hub) fiber.Handler {
	return func(c *fiber.Ctx) error {
		online, err := hub.OnlineUsers(c.Context())
		if err != nil {
			return respondError(c, err, "OnlineUsers")
		}
		return c.JSON(fiber.Map{"online_user_ids": online})
	}
}
