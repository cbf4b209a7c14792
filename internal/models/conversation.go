package models

import "time"

// Conversation is a two-party thread, optionally scoped to an offer.
// ParticipantLow is always the numerically smaller user id.
type Conversation struct {
	ID              int       `json:"id"`
	ParticipantLow  int       `json:"participant_low"`
	ParticipantHigh int       `json:"participant_high"`
	OfferID         *int      `json:"offer_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID int) bool {
	return c.ParticipantLow == userID || c.ParticipantHigh == userID
}

// OtherParticipant returns the participant that is not userID.
func (c *Conversation) OtherParticipant(userID int) int {
	if c.ParticipantLow == userID {
		return c.ParticipantHigh
	}
	return c.ParticipantLow
}

// OfferContext carries the route fields shown next to an offer-scoped conversation.
type OfferContext struct {
	Origin      string  `json:"origin"`
	Destination string  `json:"destination"`
	Price       float64 `json:"price"`
}

type ConversationSummary struct {
	Conversation
	OtherUserID     int           `json:"other_user_id"`
	OtherUserName   string        `json:"other_user_name"`
	OtherUserRole   string        `json:"other_user_role,omitempty"`
	OtherUserStatus string        `json:"other_user_status,omitempty"`
	Offer           *OfferContext `json:"offer,omitempty"`
	UnreadCount     int           `json:"unread_count"`
	LastMessage     *string       `json:"last_message,omitempty"`
	LastMessageAt   *time.Time    `json:"last_message_at,omitempty"`
}

type ResolveConversationRequest struct {
	RecipientID int  `json:"recipient_id"`
	OfferID     *int `json:"offer_id,omitempty"`
}

type ConversationResponse struct {
	ConversationID int  `json:"conversation_id"`
	IsNew          bool `json:"is_new"`
}

type ConversationDetail struct {
	Conversation *ConversationSummary `json:"conversation"`
	Messages     []Message            `json:"messages"`
}
