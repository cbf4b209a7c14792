package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"fretes-chat/internal/models"
	"fretes-chat/internal/repository"
	"fretes-chat/internal/services"
)

func intPtr(v int) *int { return &v }

type recordingNotifier struct {
	mu        sync.Mutex
	delivered []*models.Message
}

func (n *recordingNotifier) MessageDelivered(ctx context.Context, msg *models.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.delivered = append(n.delivered, msg)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.delivered)
}

// failingTouchRepo makes every updated_at bump fail.
type failingTouchRepo struct {
	*repository.MemoryStore
}

func (r failingTouchRepo) TouchConversation(ctx context.Context, id int) error {
	return errors.New("connection reset")
}

type recordingScheduler struct {
	scheduled []int
}

func (s *recordingScheduler) ScheduleTouch(ctx context.Context, conversationID int) error {
	s.scheduled = append(s.scheduled, conversationID)
	return nil
}

// seededStore holds users 1, 2, 3, 10, 20 and offers 7, 8 owned by 20.
func seededStore() *repository.MemoryStore {
	store := repository.NewMemoryStore()
	store.PutUser(models.User{ID: 1, Name: "Cliente", Email: "c@x", Role: models.RoleClient})
	store.PutUser(models.User{ID: 2, Name: "Fretista", Email: "f@x", Role: models.RoleCarrier})
	store.PutUser(models.User{ID: 3, Name: "Outro", Email: "o@x", Role: models.RoleCarrier})
	store.PutUser(models.User{ID: 10, Name: "Lia", Email: "lia@x", Role: models.RoleClient})
	store.PutUser(models.User{ID: 20, Name: "Rui", Email: "rui@x", Role: models.RoleCarrier})
	store.PutOffer(models.Offer{ID: 7, OwnerID: 20, Origin: "Santos", Destination: "Campinas", Price: 500})
	store.PutOffer(models.Offer{ID: 8, OwnerID: 20, Origin: "Bauru", Destination: "Marilia", Price: 300})
	return store
}

func newService(t *testing.T) (*services.ChatService, *repository.MemoryStore) {
	t.Helper()
	store := seededStore()
	return services.NewChatService(store, store, store), store
}

func TestResolveConversationIsIdempotentAndSymmetric(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	first, err := svc.ResolveConversation(ctx, 20, 10, intPtr(7))
	if err != nil {
		t.Fatalf("ResolveConversation: %v", err)
	}
	if !first.IsNew {
		t.Fatal("first resolve should create the conversation")
	}

	again, err := svc.ResolveConversation(ctx, 20, 10, intPtr(7))
	if err != nil {
		t.Fatalf("ResolveConversation: %v", err)
	}
	swapped, err := svc.ResolveConversation(ctx, 10, 20, intPtr(7))
	if err != nil {
		t.Fatalf("ResolveConversation: %v", err)
	}
	if again.ConversationID != first.ConversationID || swapped.ConversationID != first.ConversationID {
		t.Fatalf("expected %d every time, got %d and %d", first.ConversationID, again.ConversationID, swapped.ConversationID)
	}
	if again.IsNew || swapped.IsNew {
		t.Fatal("subsequent resolves must not report a new conversation")
	}
}

func TestResolveConversationScopesByOffer(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	none, _ := svc.ResolveConversation(ctx, 10, 20, nil)
	offer, _ := svc.ResolveConversation(ctx, 10, 20, intPtr(7))
	otherOffer, _ := svc.ResolveConversation(ctx, 10, 20, intPtr(8))

	if none.ConversationID == offer.ConversationID {
		t.Fatal("no-offer and offer conversations must differ")
	}
	if offer.ConversationID == otherOffer.ConversationID {
		t.Fatal("conversations for different offers must differ")
	}
}

func TestResolveConversationRejectsSelf(t *testing.T) {
	svc, _ := newService(t)
	if _, err := svc.ResolveConversation(context.Background(), 5, 5, nil); !errors.Is(err, services.ErrSelfConversation) {
		t.Fatalf("expected ErrSelfConversation, got %v", err)
	}
}

func TestResolveConversationRequiresExistingUsersAndOffer(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)

	if _, err := svc.ResolveConversation(ctx, 10, 999, nil); !errors.Is(err, services.ErrUserNotFound) {
		t.Fatalf("unknown recipient: expected ErrUserNotFound, got %v", err)
	}
	if _, err := svc.ResolveConversation(ctx, 10, 20, intPtr(404)); !errors.Is(err, services.ErrOfferNotFound) {
		t.Fatalf("unknown offer: expected ErrOfferNotFound, got %v", err)
	}
	if err := store.DeleteOffer(ctx, 8, 20); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ResolveConversation(ctx, 10, 20, intPtr(8)); !errors.Is(err, services.ErrOfferNotFound) {
		t.Fatalf("deleted offer: expected ErrOfferNotFound, got %v", err)
	}
	if list, _ := svc.ListConversations(ctx, 10); len(list) != 0 {
		t.Fatalf("rejected resolves must not create rows, got %+v", list)
	}
}

// raceRepo hides the row from the first lookup, as if another request
// inserted it between our lookup and insert.
type raceRepo struct {
	*repository.MemoryStore
	hidden bool
}

func (r *raceRepo) FindConversation(ctx context.Context, low, high int, offerID *int) (*models.Conversation, error) {
	if !r.hidden {
		r.hidden = true
		return nil, repository.ErrNotFound
	}
	return r.MemoryStore.FindConversation(ctx, low, high, offerID)
}

func TestResolveConversationRecoversFromInsertRace(t *testing.T) {
	ctx := context.Background()
	store := seededStore()
	existing, err := store.CreateConversation(ctx, 10, 20, nil)
	if err != nil {
		t.Fatal(err)
	}
	svc := services.NewChatService(&raceRepo{MemoryStore: store}, store, store)

	res, err := svc.ResolveConversation(ctx, 20, 10, nil)
	if err != nil {
		t.Fatalf("race must not surface as an error: %v", err)
	}
	if res.ConversationID != existing.ID || res.IsNew {
		t.Fatalf("expected existing conversation %d, got %+v", existing.ID, res)
	}
}

func TestScenarioOfferConversation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	conv, err := svc.ResolveConversation(ctx, 10, 20, intPtr(7))
	if err != nil {
		t.Fatal(err)
	}
	c1 := conv.ConversationID

	if _, err := svc.SendMessage(ctx, services.SendMessageInput{
		ConversationID: c1, SenderID: 10, RecipientID: 20, Content: "Oi, ainda disponível?",
	}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	history, err := svc.ListMessages(ctx, 20, c1, 50, 0)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(history) != 1 || history[0].Read {
		t.Fatalf("expected one unread message, got %+v", history)
	}

	if _, err := svc.MarkConversationRead(ctx, c1, 20); err != nil {
		t.Fatalf("MarkConversationRead: %v", err)
	}
	history, _ = svc.ListMessages(ctx, 20, c1, 50, 0)
	if !history[0].Read {
		t.Fatal("message should be read after MarkConversationRead")
	}
	if n, _ := svc.CountUnread(ctx, 20); n != 0 {
		t.Fatalf("CountUnread = %d, want 0", n)
	}
}

func TestHistoryIsOldestFirst(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	conv, _ := svc.ResolveConversation(ctx, 1, 2, nil)

	for _, text := range []string{"m1", "m2", "m3"} {
		if _, err := svc.SendMessage(ctx, services.SendMessageInput{
			ConversationID: conv.ConversationID, SenderID: 1, RecipientID: 2, Content: text,
		}); err != nil {
			t.Fatal(err)
		}
	}

	history, err := svc.ListMessages(ctx, 1, conv.ConversationID, 50, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(history))
	}
	for i, want := range []string{"m1", "m2", "m3"} {
		if history[i].Content != want {
			t.Fatalf("history[%d] = %q, want %q", i, history[i].Content, want)
		}
	}

	page, _ := svc.ListMessages(ctx, 1, conv.ConversationID, 2, 1)
	if len(page) != 2 || page[0].Content != "m1" || page[1].Content != "m2" {
		t.Fatalf("unexpected second page: %+v", page)
	}
}

func TestUnreadAccounting(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	conv, _ := svc.ResolveConversation(ctx, 1, 2, nil)
	other, _ := svc.ResolveConversation(ctx, 3, 2, nil)

	for i := 0; i < 4; i++ {
		if _, err := svc.SendMessage(ctx, services.SendMessageInput{
			ConversationID: conv.ConversationID, SenderID: 1, RecipientID: 2, Content: "frete?",
		}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := svc.SendMessage(ctx, services.SendMessageInput{
		ConversationID: other.ConversationID, SenderID: 3, RecipientID: 2, Content: "oi",
	}); err != nil {
		t.Fatal(err)
	}

	if n, _ := svc.CountUnread(ctx, 2); n != 5 {
		t.Fatalf("CountUnread = %d, want 5", n)
	}
	if n, _ := svc.Unread().ForConversation(ctx, 2, conv.ConversationID); n != 4 {
		t.Fatalf("ForConversation = %d, want 4", n)
	}

	marked, err := svc.MarkConversationRead(ctx, conv.ConversationID, 2)
	if err != nil || marked != 4 {
		t.Fatalf("MarkConversationRead = %d, %v; want 4", marked, err)
	}
	if n, _ := svc.CountUnread(ctx, 2); n != 1 {
		t.Fatalf("total should drop by exactly 4, got %d", n)
	}
	if n, _ := svc.Unread().ForConversation(ctx, 2, conv.ConversationID); n != 0 {
		t.Fatalf("ForConversation after read = %d, want 0", n)
	}

	marked, err = svc.MarkConversationRead(ctx, conv.ConversationID, 2)
	if err != nil || marked != 0 {
		t.Fatalf("second MarkConversationRead = %d, %v; want no-op", marked, err)
	}

	byConv, _ := svc.Unread().ByConversation(ctx, 2)
	if byConv[other.ConversationID] != 1 || byConv[conv.ConversationID] != 0 {
		t.Fatalf("unexpected ByConversation: %v", byConv)
	}
}

func TestSendMessageRejectsBlankContent(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)
	conv, _ := svc.ResolveConversation(ctx, 1, 2, nil)

	for _, content := range []string{"", "   ", "\n\t"} {
		_, err := svc.SendMessage(ctx, services.SendMessageInput{
			ConversationID: conv.ConversationID, SenderID: 1, RecipientID: 2, Content: content,
		})
		if !errors.Is(err, services.ErrEmptyContent) {
			t.Fatalf("content %q: expected ErrEmptyContent, got %v", content, err)
		}
	}
	msgs, _ := store.GetMessages(ctx, conv.ConversationID, 50, 0)
	if len(msgs) != 0 {
		t.Fatalf("no message should be stored, got %d", len(msgs))
	}
}

func TestSendMessageTrimsContent(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	conv, _ := svc.ResolveConversation(ctx, 1, 2, nil)

	res, err := svc.SendMessage(ctx, services.SendMessageInput{
		ConversationID: conv.ConversationID, SenderID: 1, RecipientID: 2, Content: "  carga de 2t  ",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Message.Content != "carga de 2t" {
		t.Fatalf("content not trimmed: %q", res.Message.Content)
	}
}

func TestSendMessageRequiresExactParticipants(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	conv, _ := svc.ResolveConversation(ctx, 1, 2, nil)

	cases := []struct {
		name              string
		sender, recipient int
	}{
		{"outsider sender", 3, 2},
		{"outsider recipient", 1, 3},
		{"self addressed", 1, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.SendMessage(ctx, services.SendMessageInput{
				ConversationID: conv.ConversationID, SenderID: tc.sender, RecipientID: tc.recipient, Content: "x",
			})
			if !errors.Is(err, services.ErrConversationNotFound) {
				t.Fatalf("expected ErrConversationNotFound, got %v", err)
			}
		})
	}

	if _, err := svc.SendMessage(ctx, services.SendMessageInput{
		ConversationID: 999, SenderID: 1, RecipientID: 2, Content: "x",
	}); !errors.Is(err, services.ErrConversationNotFound) {
		t.Fatalf("unknown conversation: expected ErrConversationNotFound, got %v", err)
	}
}

func TestOutsidersCannotReadOrMark(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	conv, _ := svc.ResolveConversation(ctx, 1, 2, nil)

	if _, err := svc.ListMessages(ctx, 3, conv.ConversationID, 50, 0); !errors.Is(err, services.ErrConversationNotFound) {
		t.Fatalf("ListMessages: expected ErrConversationNotFound, got %v", err)
	}
	if _, err := svc.MarkConversationRead(ctx, conv.ConversationID, 3); !errors.Is(err, services.ErrConversationNotFound) {
		t.Fatalf("MarkConversationRead: expected ErrConversationNotFound, got %v", err)
	}
}

func TestSendMessageNotifiesOnceAndDeduplicatesClientKey(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	notifier := &recordingNotifier{}
	svc.SetNotifier(notifier)
	conv, _ := svc.ResolveConversation(ctx, 1, 2, nil)

	in := services.SendMessageInput{
		ConversationID: conv.ConversationID, SenderID: 1, RecipientID: 2, Content: "oi", ClientKey: "key-1",
	}
	first, err := svc.SendMessage(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	replay, err := svc.SendMessage(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	if !replay.Duplicate || replay.Message.ID != first.Message.ID {
		t.Fatalf("replay should return the stored message, got %+v", replay)
	}
	if notifier.count() != 1 {
		t.Fatalf("expected a single delivery, got %d", notifier.count())
	}

	history, _ := svc.ListMessages(ctx, 1, conv.ConversationID, 50, 0)
	if len(history) != 1 {
		t.Fatalf("expected one stored message, got %d", len(history))
	}
}

func TestClientKeyIsScopedToSender(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	notifier := &recordingNotifier{}
	svc.SetNotifier(notifier)
	conv, _ := svc.ResolveConversation(ctx, 1, 2, nil)

	mine, err := svc.SendMessage(ctx, services.SendMessageInput{
		ConversationID: conv.ConversationID, SenderID: 1, RecipientID: 2, Content: "oi", ClientKey: "1",
	})
	if err != nil {
		t.Fatal(err)
	}
	theirs, err := svc.SendMessage(ctx, services.SendMessageInput{
		ConversationID: conv.ConversationID, SenderID: 2, RecipientID: 1, Content: "ola", ClientKey: "1",
	})
	if err != nil {
		t.Fatalf("same key from the other participant: %v", err)
	}
	if theirs.Duplicate || theirs.Message.ID == mine.Message.ID || theirs.Message.SenderID != 2 {
		t.Fatalf("expected a new message from sender 2, got %+v", theirs)
	}
	if notifier.count() != 2 {
		t.Fatalf("both messages should be delivered, got %d", notifier.count())
	}
	if n, _ := svc.CountUnread(ctx, 1); n != 1 {
		t.Fatalf("sender 1 should have one unread reply, got %d", n)
	}
}

func TestSendMessageSucceedsWithoutNotifier(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	conv, _ := svc.ResolveConversation(ctx, 1, 2, nil)

	if _, err := svc.SendMessage(ctx, services.SendMessageInput{
		ConversationID: conv.ConversationID, SenderID: 1, RecipientID: 2, Content: "alguém aí?",
	}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	history, _ := svc.ListMessages(ctx, 2, conv.ConversationID, 50, 0)
	if len(history) != 1 {
		t.Fatalf("message should be retrievable, got %d", len(history))
	}
}

func TestTouchFailureIsScheduledNotReturned(t *testing.T) {
	ctx := context.Background()
	store := seededStore()
	svc := services.NewChatService(failingTouchRepo{store}, store, store)
	scheduler := &recordingScheduler{}
	svc.SetTouchScheduler(scheduler)

	conv, _ := svc.ResolveConversation(ctx, 1, 2, nil)
	res, err := svc.SendMessage(ctx, services.SendMessageInput{
		ConversationID: conv.ConversationID, SenderID: 1, RecipientID: 2, Content: "oi",
	})
	if err != nil {
		t.Fatalf("a failed timestamp bump must not fail the send: %v", err)
	}
	if res.Message.ID == 0 {
		t.Fatal("message should be stored")
	}
	if len(scheduler.scheduled) != 1 || scheduler.scheduled[0] != conv.ConversationID {
		t.Fatalf("expected a scheduled touch, got %v", scheduler.scheduled)
	}
}

func TestOpenConversationMarksRead(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	conv, _ := svc.ResolveConversation(ctx, 1, 2, nil)
	_, _ = svc.SendMessage(ctx, services.SendMessageInput{ConversationID: conv.ConversationID, SenderID: 1, RecipientID: 2, Content: "oi"})

	detail, err := svc.OpenConversation(ctx, 2, conv.ConversationID, 0, 0)
	if err != nil {
		t.Fatalf("OpenConversation: %v", err)
	}
	if detail.Conversation == nil || detail.Conversation.OtherUserName != "Cliente" {
		t.Fatalf("unexpected conversation detail: %+v", detail.Conversation)
	}
	if len(detail.Messages) != 1 || detail.Messages[0].Read {
		t.Fatalf("messages should reflect state before opening: %+v", detail.Messages)
	}
	if n, _ := svc.CountUnread(ctx, 2); n != 0 {
		t.Fatalf("opening should mark read, unread = %d", n)
	}
}

// summaryOnlyRepo fails the full listing so opening one conversation must
// not depend on it.
type summaryOnlyRepo struct {
	*repository.MemoryStore
	listed int
}

func (r *summaryOnlyRepo) ListConversations(ctx context.Context, userID int) ([]models.ConversationSummary, error) {
	r.listed++
	return nil, errors.New("full listing not expected")
}

func TestOpenConversationLoadsOnlyItsSummary(t *testing.T) {
	ctx := context.Background()
	store := seededStore()
	repo := &summaryOnlyRepo{MemoryStore: store}
	svc := services.NewChatService(repo, store, store)
	conv, _ := svc.ResolveConversation(ctx, 1, 2, intPtr(7))
	for _, other := range []int{3, 10, 20} {
		if _, err := svc.ResolveConversation(ctx, 2, other, nil); err != nil {
			t.Fatal(err)
		}
	}
	_, _ = svc.SendMessage(ctx, services.SendMessageInput{ConversationID: conv.ConversationID, SenderID: 1, RecipientID: 2, Content: "oi"})

	detail, err := svc.OpenConversation(ctx, 2, conv.ConversationID, 0, 0)
	if err != nil {
		t.Fatalf("OpenConversation: %v", err)
	}
	if repo.listed != 0 {
		t.Fatalf("ListConversations called %d times", repo.listed)
	}
	if detail.Conversation.ID != conv.ConversationID || detail.Conversation.Offer == nil || detail.Conversation.UnreadCount != 0 {
		t.Fatalf("unexpected summary: %+v", detail.Conversation)
	}
	if _, err := svc.OpenConversation(ctx, 3, conv.ConversationID, 0, 0); !errors.Is(err, services.ErrConversationNotFound) {
		t.Fatalf("outsider: expected ErrConversationNotFound, got %v", err)
	}
}
