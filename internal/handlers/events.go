package handlers

import (
	"context"
	"errors"
	"time"

	"fretes-chat/internal/models"
	"fretes-chat/internal/presence"
	"fretes-chat/internal/services"
	"fretes-chat/internal/utils"

	"github.com/gofiber/websocket/v2"
)

const eventTimeout = 5 * time.Second

// wsSession is the per-connection state the event dispatcher works on.
type wsSession struct {
	chat   *services.ChatService
	hub    *presence.Hub
	client *presence.Client
	// userID comes from the verified token, never from the payload.
	userID int
}

// HandleMessage processes incoming websocket frames
func HandleMessage(s *wsSession, msgType int, msg []byte) {
	if msgType != websocket.TextMessage {
		return
	}

	var in models.WSMessage
	if err := utils.SafeJSONParse(msg, &in); err != nil {
		s.sendError("invalid payload", "")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	switch in.Event {
	case models.EventAnnounce:
		s.announce(ctx, in)
	case models.EventMessageSent:
		s.messageSent(ctx, in)
	case models.EventTypingStart, models.EventTypingStop:
		s.typing(ctx, in)
	case models.EventPing:
		s.client.Send(models.WSMessage{Event: models.EventPong, ServerTimestamp: time.Now().UnixMilli()})
	default:
		utils.Logger().Warn("unknown websocket event", "event", in.Event, "conn_id", s.client.ID)
	}
}

func (s *wsSession) sendError(msg, clientKey string) {
	s.client.Send(models.WSMessage{Event: models.EventError, Error: msg, ClientKey: clientKey})
}

func (s *wsSession) announce(ctx context.Context, in models.WSMessage) {
	userID := in.UserID
	if userID == 0 {
		userID = s.userID
	}
	if userID != s.userID {
		s.sendError("cannot announce as another user", "")
		return
	}
	if err := s.hub.Announce(ctx, s.client.ID, userID); err != nil {
		if !errors.Is(err, presence.ErrAlreadyAnnounced) {
			utils.LogError(err, "Announce")
		}
		s.sendError(err.Error(), "")
		return
	}
	s.client.Send(models.WSMessage{Event: models.EventAnnounced, UserID: userID})
}

// messageSent persists first; the recipient push happens inside
// SendMessage and the confirmation goes back on this connection only.
func (s *wsSession) messageSent(ctx context.Context, in models.WSMessage) {
	res, err := s.chat.SendMessage(ctx, services.SendMessageInput{
		ConversationID: in.ConversationID,
		SenderID:       s.userID,
		RecipientID:    in.RecipientID,
		Content:        in.Text,
		ClientKey:      in.ClientKey,
	})
	if err != nil {
		if statusFor(err) >= 500 {
			utils.LogError(err, "SendMessage (ws)")
			s.sendError("failed to send message", in.ClientKey)
			return
		}
		s.sendError(err.Error(), in.ClientKey)
		return
	}

	out := models.DeliveryEvent(models.EventMessageConfirmed, res.Message)
	out.ClientTimestamp = in.ClientTimestamp
	if out.ClientKey == "" {
		out.ClientKey = in.ClientKey
	}
	s.client.Send(out)
}

func (s *wsSession) typing(ctx context.Context, in models.WSMessage) {
	if _, err := s.chat.CheckParticipants(ctx, in.ConversationID, s.userID, in.RecipientID); err != nil {
		s.sendError(err.Error(), "")
		return
	}
	s.hub.SendToUser(in.RecipientID, models.WSMessage{
		Event:          in.Event,
		ConversationID: in.ConversationID,
		SenderID:       s.userID,
	})
}
