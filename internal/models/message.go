package models

import "time"

type Message struct {
	ID             int       `json:"id"`
	ConversationID int       `json:"conversation_id"`
	SenderID       int       `json:"sender_id"`
	RecipientID    int       `json:"recipient_id"`
	SenderName     string    `json:"sender_name,omitempty"`
	RecipientName  string    `json:"recipient_name,omitempty"`
	Content        string    `json:"content"`
	ClientKey      *string   `json:"client_key,omitempty"`
	Read           bool      `json:"read"`
	CreatedAt      time.Time `json:"created_at"`
}

type SendMessageRequest struct {
	ConversationID int    `json:"conversation_id"`
	RecipientID    int    `json:"recipient_id"`
	Content        string `json:"content"`
	ClientKey      string `json:"client_key,omitempty"`
}

type SendMessageResponse struct {
	Message   *Message `json:"message"`
	Duplicate bool     `json:"duplicate,omitempty"`
}

type UnreadResponse struct {
	Total          int         `json:"total"`
	ByConversation map[int]int `json:"by_conversation"`
}

// WebSocket event names
const (
	EventConnected        = "connected"
	EventAnnounce         = "announce"
	EventAnnounced        = "announced"
	EventMessageSent      = "message-sent"
	EventMessageDelivered = "message-delivered"
	EventMessageConfirmed = "message-confirmed"
	EventTypingStart      = "typing-start"
	EventTypingStop       = "typing-stop"
	EventRosterChanged    = "roster-changed"
	EventPing             = "ping"
	EventPong             = "pong"
	EventError            = "error"
)

// WebSocket Message Structure
type WSMessage struct {
	Event           string `json:"event"`
	ConversationID  int    `json:"conversation_id,omitempty"`
	MessageID       int    `json:"message_id,omitempty"`
	UserID          int    `json:"user_id,omitempty"`
	SenderID        int    `json:"sender_id,omitempty"`
	RecipientID     int    `json:"recipient_id,omitempty"`
	Text            string `json:"text,omitempty"`
	ClientKey       string `json:"client_key,omitempty"`
	ClientTimestamp int64  `json:"client_timestamp,omitempty"`
	ServerTimestamp int64  `json:"server_timestamp,omitempty"`
	OnlineUserIDs   []int  `json:"online_user_ids,omitempty"`
	Error           string `json:"error,omitempty"`
}

// DeliveryEvent builds the payload pushed for a persisted message.
func DeliveryEvent(event string, m *Message) WSMessage {
	out := WSMessage{
		Event:           event,
		ConversationID:  m.ConversationID,
		MessageID:       m.ID,
		SenderID:        m.SenderID,
		RecipientID:     m.RecipientID,
		Text:            m.Content,
		ServerTimestamp: m.CreatedAt.UnixMilli(),
	}
	if m.ClientKey != nil {
		out.ClientKey = *m.ClientKey
	}
	return out
}
