package services

import (
	"context"

	"fretes-chat/internal/repository"
)

// UnreadCounter derives unread totals from the message store. Nothing is
// cached, so counts always agree with the last MarkRead.
type UnreadCounter struct {
	repo repository.ChatRepository
}

func NewUnreadCounter(repo repository.ChatRepository) *UnreadCounter {
	return &UnreadCounter{repo: repo}
}

func (u *UnreadCounter) Total(ctx context.Context, userID int) (int, error) {
	return u.repo.CountUnread(ctx, userID, nil)
}

func (u *UnreadCounter) ForConversation(ctx context.Context, userID, conversationID int) (int, error) {
	return u.repo.CountUnread(ctx, userID, &conversationID)
}

func (u *UnreadCounter) ByConversation(ctx context.Context, userID int) (map[int]int, error) {
	return u.repo.CountUnreadByConversation(ctx, userID)
}
