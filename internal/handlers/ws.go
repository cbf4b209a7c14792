package handlers

import (
	"context"

	"fretes-chat/internal/models"
	"fretes-chat/internal/presence"
	"fretes-chat/internal/services"
	"fretes-chat/internal/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

// WebSocketHandler handles the websocket connection
func WebSocketHandler(chat *services.ChatService, hub *presence.Hub) fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		// Retrieve user info from locals (set by middleware)
		userID, _ := c.Locals("user_id").(int)

		// Generate a unique ID for this connection
		connID := uuid.New().String()
		client := presence.NewClient(connID, c)
		hub.Connect(client)

		session := &wsSession{chat: chat, hub: hub, client: client, userID: userID}

		defer func() {
			hub.Disconnect(context.Background(), connID)
			c.Close()
		}()

		client.Send(models.WSMessage{Event: models.EventConnected, UserID: userID})

		for {
			msgType, msg, err := c.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
					utils.Logger().Warn("websocket read failed", "conn_id", connID, "error", err)
				}
				break
			}

			HandleMessage(session, msgType, msg)
		}
	})
}

// WSUpgradeMiddleware upgrades the connection to WebSocket
func WSUpgradeMiddleware(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		c.Locals("allowed", true)
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}
