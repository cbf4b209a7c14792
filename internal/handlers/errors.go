package handlers

import (
	"errors"
	"net/http"

	"fretes-chat/internal/services"
	"fretes-chat/internal/utils"

	"github.com/gofiber/fiber/v2"
)

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case services.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrConversationNotFound), services.IsForbidden(err):
		return http.StatusForbidden
	case services.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, services.ErrUserExists):
		return http.StatusConflict
	case errors.Is(err, services.ErrInvalidCredentials), errors.Is(err, services.ErrInvalidToken):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *fiber.Ctx, err error, context string) error {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		utils.LogError(err, context)
		return c.Status(status).JSON(fiber.Map{"error": "internal server error"})
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

// ErrorHandler renders fiber errors (auth failures, 404s) in the same shape
// as handler errors.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code == fiber.StatusInternalServerError {
		utils.LogError(err, "unhandled")
		return c.Status(code).JSON(fiber.Map{"error": "internal server error"})
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
