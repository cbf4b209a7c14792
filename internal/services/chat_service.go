package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fretes-chat/internal/models"
	"fretes-chat/internal/repository"
	"fretes-chat/internal/utils"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// Notifier pushes persisted messages to connected recipients. Delivery is
// best effort and never fails a send.
type Notifier interface {
	MessageDelivered(ctx context.Context, msg *models.Message)
}

// TouchScheduler retries a conversation timestamp bump later.
type TouchScheduler interface {
	ScheduleTouch(ctx context.Context, conversationID int) error
}

type ChatService struct {
	repo     repository.ChatRepository
	users    repository.UserRepository
	offers   repository.OfferRepository
	unread   *UnreadCounter
	notifier Notifier
	touches  TouchScheduler
}

func NewChatService(repo repository.ChatRepository, users repository.UserRepository, offers repository.OfferRepository) *ChatService {
	return &ChatService{repo: repo, users: users, offers: offers, unread: NewUnreadCounter(repo)}
}

// SetNotifier wires the live delivery channel after construction, since the
// hub itself depends on the service.
func (s *ChatService) SetNotifier(n Notifier) {
	s.notifier = n
}

func (s *ChatService) SetTouchScheduler(t TouchScheduler) {
	s.touches = t
}

func (s *ChatService) Unread() *UnreadCounter {
	return s.unread
}

// canonicalPair orders two user ids so the smaller comes first.
func canonicalPair(a, b int) (int, int) {
	if a < b {
		return a, b
	}
	return b, a
}

// ResolveConversation finds or creates the single conversation for the pair
// and offer. A lost insert race resolves to the winner's row.
func (s *ChatService) ResolveConversation(ctx context.Context, userA, userB int, offerID *int) (*models.ConversationResponse, error) {
	if userA <= 0 || userB <= 0 {
		return nil, fmt.Errorf("%w: recipient_id", ErrMissingField)
	}
	if userA == userB {
		return nil, ErrSelfConversation
	}
	if offerID != nil && *offerID <= 0 {
		offerID = nil
	}
	for _, id := range []int{userA, userB} {
		if _, err := s.users.FindByID(ctx, id); errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrUserNotFound, id)
		} else if err != nil {
			return nil, err
		}
	}
	if offerID != nil {
		if _, err := s.offers.GetOffer(ctx, *offerID); errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrOfferNotFound, *offerID)
		} else if err != nil {
			return nil, err
		}
	}
	low, high := canonicalPair(userA, userB)

	conv, err := s.repo.FindConversation(ctx, low, high, offerID)
	if err == nil {
		return &models.ConversationResponse{ConversationID: conv.ID, IsNew: false}, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	conv, err = s.repo.CreateConversation(ctx, low, high, offerID)
	if errors.Is(err, repository.ErrDuplicate) {
		conv, err = s.repo.FindConversation(ctx, low, high, offerID)
		if err != nil {
			return nil, err
		}
		return &models.ConversationResponse{ConversationID: conv.ID, IsNew: false}, nil
	}
	// A participant or the offer went away between the checks and the insert.
	if errors.Is(err, repository.ErrNotFound) {
		if offerID != nil {
			return nil, ErrOfferNotFound
		}
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &models.ConversationResponse{ConversationID: conv.ID, IsNew: true}, nil
}

// conversationFor loads the conversation and hides it from non-participants.
func (s *ChatService) conversationFor(ctx context.Context, conversationID, userID int) (*models.Conversation, error) {
	if conversationID <= 0 {
		return nil, fmt.Errorf("%w: conversation_id", ErrMissingField)
	}
	conv, err := s.repo.GetConversation(ctx, conversationID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, ErrConversationNotFound
	}
	return conv, nil
}

// CheckParticipants verifies that sender and recipient are exactly the two
// participants of the conversation.
func (s *ChatService) CheckParticipants(ctx context.Context, conversationID, senderID, recipientID int) (*models.Conversation, error) {
	conv, err := s.conversationFor(ctx, conversationID, senderID)
	if err != nil {
		return nil, err
	}
	if senderID == recipientID || conv.OtherParticipant(senderID) != recipientID {
		return nil, ErrConversationNotFound
	}
	return conv, nil
}

type SendMessageInput struct {
	ConversationID int
	SenderID       int
	RecipientID    int
	Content        string
	ClientKey      string
}

type SendMessageResult struct {
	Message *models.Message
	// Duplicate is set when the client key had already been stored; the
	// original message is returned and nobody is notified again.
	Duplicate bool
}

func (s *ChatService) SendMessage(ctx context.Context, in SendMessageInput) (*SendMessageResult, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	if in.RecipientID <= 0 {
		return nil, fmt.Errorf("%w: recipient_id", ErrMissingField)
	}
	if _, err := s.CheckParticipants(ctx, in.ConversationID, in.SenderID, in.RecipientID); err != nil {
		return nil, err
	}

	msg := &models.Message{
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		RecipientID:    in.RecipientID,
		Content:        content,
	}
	if key := strings.TrimSpace(in.ClientKey); key != "" {
		msg.ClientKey = &key
		if existing, err := s.repo.FindMessageByClientKey(ctx, in.ConversationID, in.SenderID, key); err == nil {
			return &SendMessageResult{Message: existing, Duplicate: true}, nil
		} else if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}

	if err := s.repo.SaveMessage(ctx, msg); err != nil {
		if errors.Is(err, repository.ErrDuplicate) && msg.ClientKey != nil {
			existing, findErr := s.repo.FindMessageByClientKey(ctx, in.ConversationID, in.SenderID, *msg.ClientKey)
			if findErr != nil {
				return nil, findErr
			}
			return &SendMessageResult{Message: existing, Duplicate: true}, nil
		}
		return nil, err
	}

	// The message is durable at this point; a stale updated_at only affects
	// list ordering.
	if err := s.repo.TouchConversation(ctx, msg.ConversationID); err != nil {
		utils.LogError(err, "TouchConversation")
		if s.touches != nil {
			if qerr := s.touches.ScheduleTouch(ctx, msg.ConversationID); qerr != nil {
				utils.LogError(qerr, "ScheduleTouch")
			}
		}
	}

	if s.notifier != nil {
		s.notifier.MessageDelivered(ctx, msg)
	}
	return &SendMessageResult{Message: msg}, nil
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// ListMessages returns the most recent page, oldest first.
func (s *ChatService) ListMessages(ctx context.Context, userID, conversationID, limit, offset int) ([]models.Message, error) {
	if _, err := s.conversationFor(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	limit, offset = normalizePage(limit, offset)

	messages, err := s.repo.GetMessages(ctx, conversationID, limit, offset)
	if err != nil {
		return nil, err
	}

	// Reverse to show oldest first
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (s *ChatService) MarkConversationRead(ctx context.Context, conversationID, userID int) (int64, error) {
	if _, err := s.conversationFor(ctx, conversationID, userID); err != nil {
		return 0, err
	}
	return s.repo.MarkRead(ctx, conversationID, userID)
}

func (s *ChatService) CountUnread(ctx context.Context, userID int) (int, error) {
	return s.unread.Total(ctx, userID)
}

func (s *ChatService) ListConversations(ctx context.Context, userID int) ([]models.ConversationSummary, error) {
	return s.repo.ListConversations(ctx, userID)
}

// OpenConversation returns the conversation summary and a history page, then
// marks every message addressed to the user as read. The returned messages carry
// their read state from before the call.
func (s *ChatService) OpenConversation(ctx context.Context, userID, conversationID, limit, offset int) (*models.ConversationDetail, error) {
	messages, err := s.ListMessages(ctx, userID, conversationID, limit, offset)
	if err != nil {
		return nil, err
	}

	summary, err := s.repo.GetConversationSummary(ctx, userID, conversationID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.MarkRead(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	summary.UnreadCount = 0
	return &models.ConversationDetail{Conversation: summary, Messages: messages}, nil
}

// TouchConversation is the retry entrypoint for queued timestamp bumps.
func (s *ChatService) TouchConversation(ctx context.Context, conversationID int) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.repo.TouchConversation(ctx, conversationID)
}
