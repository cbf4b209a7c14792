// Package repository holds the persistence ports of the messaging core and
// their Postgres and in-memory adapters.
package repository

import (
	"context"
	"errors"

	"fretes-chat/internal/models"
)

var (
	ErrNotFound  = errors.New("repository: not found")
	ErrDuplicate = errors.New("repository: duplicate")
)

// ChatRepository stores conversations and messages.
type ChatRepository interface {
	// FindConversation matches the canonical pair and offer exactly: a nil
	// offerID only matches conversations without an offer.
	FindConversation(ctx context.Context, low, high int, offerID *int) (*models.Conversation, error)
	// CreateConversation returns ErrDuplicate when the triple already exists
	// and ErrNotFound when a participant or the offer does not.
	CreateConversation(ctx context.Context, low, high int, offerID *int) (*models.Conversation, error)
	GetConversation(ctx context.Context, id int) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID int) ([]models.ConversationSummary, error)
	// GetConversationSummary is one row of ListConversations.
	GetConversationSummary(ctx context.Context, userID, conversationID int) (*models.ConversationSummary, error)
	TouchConversation(ctx context.Context, id int) error

	// SaveMessage fills ID, CreatedAt and Read. ErrDuplicate means the
	// sender already used the client key in that conversation.
	SaveMessage(ctx context.Context, msg *models.Message) error
	FindMessageByClientKey(ctx context.Context, conversationID, senderID int, clientKey string) (*models.Message, error)
	// GetMessages returns newest-first.
	GetMessages(ctx context.Context, conversationID, limit, offset int) ([]models.Message, error)
	MarkRead(ctx context.Context, conversationID, recipientID int) (int64, error)
	// CountUnread counts across all conversations when conversationID is nil.
	CountUnread(ctx context.Context, recipientID int, conversationID *int) (int, error)
	CountUnreadByConversation(ctx context.Context, recipientID int) (map[int]int, error)
}

// UserRepository is the slice of the auth store the chat needs.
type UserRepository interface {
	// CreateUser stores the user and, when vehiclePlate is not empty, its
	// carrier profile in one transaction.
	CreateUser(ctx context.Context, u *models.User, vehiclePlate string) error
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id int) (*models.User, error)
}

// OfferRepository stores carrier offers. Update and delete only match rows
// owned by the given user and report ErrNotFound otherwise.
type OfferRepository interface {
	CreateOffer(ctx context.Context, o *models.Offer) error
	GetOffer(ctx context.Context, id int) (*models.Offer, error)
	ListOffers(ctx context.Context, f models.OfferFilter) ([]models.Offer, error)
	UpdateOffer(ctx context.Context, o *models.Offer) error
	DeleteOffer(ctx context.Context, id, ownerID int) error
}
