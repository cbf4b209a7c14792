package handlers

import (
	"net/http"
	"strconv"

	"fretes-chat/internal/models"
	"fretes-chat/internal/presence"
	"fretes-chat/internal/services"

	"github.com/gofiber/fiber/v2"
)

func conversationIDParam(c *fiber.Ctx) (int, bool) {
	id, err := strconv.Atoi(c.Params("id"))
	return id, err == nil && id > 0
}

// ResolveConversationHandler finds or creates the conversation with the
// recipient, optionally scoped to an offer.
func ResolveConversationHandler(chat *services.ChatService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := currentUserID(c)

		var req models.ResolveConversationRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request")
		}
		if req.RecipientID == 0 {
			return badRequest(c, "recipient_id required")
		}

		res, err := chat.ResolveConversation(c.Context(), userID, req.RecipientID, req.OfferID)
		if err != nil {
			return respondError(c, err, "ResolveConversation")
		}

		status := http.StatusOK
		if res.IsNew {
			status = http.StatusCreated
		}
		return c.Status(status).JSON(res)
	}
}

func ListConversationsHandler(chat *services.ChatService, hub *presence.Hub) fiber.Handler {
	return func(c *fiber.Ctx) error {
		conversations, err := chat.ListConversations(c.Context(), currentUserID(c))
		if err != nil {
			return respondError(c, err, "ListConversations")
		}

		for i := range conversations {
			if hub.IsUserOnline(conversations[i].OtherUserID) {
				conversations[i].OtherUserStatus = "online"
			} else {
				conversations[i].OtherUserStatus = "offline"
			}
		}
		return c.JSON(fiber.Map{"conversations": conversations})
	}
}

// OpenConversationHandler returns a history page and marks it read.
func OpenConversationHandler(chat *services.ChatService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		convID, ok := conversationIDParam(c)
		if !ok {
			return badRequest(c, "invalid conversation id")
		}
		limit := c.QueryInt("limit", services.DefaultHistoryLimit)
		offset := c.QueryInt("offset", 0)

		detail, err := chat.OpenConversation(c.Context(), currentUserID(c), convID, limit, offset)
		if err != nil {
			return respondError(c, err, "OpenConversation")
		}
		return c.JSON(detail)
	}
}

func SendMessageHandler(chat *services.ChatService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req models.SendMessageRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request")
		}
		if req.ConversationID == 0 || req.RecipientID == 0 {
			return badRequest(c, "conversation_id, recipient_id and content are required")
		}

		res, err := chat.SendMessage(c.Context(), services.SendMessageInput{
			ConversationID: req.ConversationID,
			SenderID:       currentUserID(c),
			RecipientID:    req.RecipientID,
			Content:        req.Content,
			ClientKey:      req.ClientKey,
		})
		if err != nil {
			return respondError(c, err, "SendMessage")
		}

		status := http.StatusCreated
		if res.Duplicate {
			status = http.StatusOK
		}
		return c.Status(status).JSON(models.SendMessageResponse{Message: res.Message, Duplicate: res.Duplicate})
	}
}

func MarkReadHandler(chat *services.ChatService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		convID, ok := conversationIDParam(c)
		if !ok {
			return badRequest(c, "invalid conversation id")
		}
		marked, err := chat.MarkConversationRead(c.Context(), convID, currentUserID(c))
		if err != nil {
			return respondError(c, err, "MarkConversationRead")
		}
		return c.JSON(fiber.Map{"marked": marked})
	}
}

func UnreadHandler(chat *services.ChatService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := currentUserID(c)
		total, err := chat.Unread().Total(c.Context(), userID)
		if err != nil {
			return respondError(c, err, "CountUnread")
		}
		byConversation, err := chat.Unread().ByConversation(c.Context(), userID)
		if err != nil {
			return respondError(c, err, "CountUnreadByConversation")
		}
		return c.JSON(models.UnreadResponse{Total: total, ByConversation: byConversation})
	}
}
