package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"fretes-chat/internal/models"
)

// MemoryStore keeps users, offers, conversations and messages in process
// memory. It enforces the same uniqueness rules as the Postgres schema.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[int]*models.User
	offers        map[int]*models.Offer
	deletedOffers map[int]bool
	conversations map[int]*models.Conversation
	messages      []*models.Message
	nextUserID    int
	nextOfferID   int
	nextConvID    int
	nextMessageID int
	now           func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[int]*models.User),
		offers:        make(map[int]*models.Offer),
		deletedOffers: make(map[int]bool),
		conversations: make(map[int]*models.Conversation),
		now:           time.Now,
	}
}

var (
	_ ChatRepository  = (*MemoryStore)(nil)
	_ UserRepository  = (*MemoryStore)(nil)
	_ OfferRepository = (*MemoryStore)(nil)
)

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func sameOffer(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// SetClock replaces the time source used for created/updated timestamps.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// PutUser stores u under its own ID, for fixtures that need fixed ids.
func (s *MemoryStore) PutUser(u models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := u
	s.users[u.ID] = &stored
	if u.ID > s.nextUserID {
		s.nextUserID = u.ID
	}
}

// PutOffer stores o under its own ID, for fixtures that need fixed ids.
func (s *MemoryStore) PutOffer(o models.Offer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := o
	s.offers[o.ID] = &stored
	if o.ID > s.nextOfferID {
		s.nextOfferID = o.ID
	}
}

func (s *MemoryStore) findConversationLocked(low, high int, offerID *int) *models.Conversation {
	for _, c := range s.conversations {
		if c.ParticipantLow == low && c.ParticipantHigh == high && sameOffer(c.OfferID, offerID) {
			return c
		}
	}
	return nil
}

func (s *MemoryStore) FindConversation(ctx context.Context, low, high int, offerID *int) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c := s.findConversationLocked(low, high, offerID); c != nil {
		out := *c
		return &out, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) CreateConversation(ctx context.Context, low, high int, offerID *int) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findConversationLocked(low, high, offerID) != nil {
		return nil, ErrDuplicate
	}
	if s.users[low] == nil || s.users[high] == nil {
		return nil, ErrNotFound
	}
	if offerID != nil && s.offers[*offerID] == nil {
		return nil, ErrNotFound
	}
	s.nextConvID++
	now := s.now()
	c := &models.Conversation{
		ID:              s.nextConvID,
		ParticipantLow:  low,
		ParticipantHigh: high,
		OfferID:         copyInt(offerID),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.conversations[c.ID] = c
	out := *c
	return &out, nil
}

func (s *MemoryStore) GetConversation(ctx context.Context, id int) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *c
	return &out, nil
}

func (s *MemoryStore) TouchConversation(ctx context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return ErrNotFound
	}
	c.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) summaryLocked(c *models.Conversation, userID int) models.ConversationSummary {
	sum := models.ConversationSummary{Conversation: *c, OtherUserID: c.OtherParticipant(userID)}
	sum.OfferID = copyInt(c.OfferID)
	if u, ok := s.users[sum.OtherUserID]; ok {
		sum.OtherUserName = u.Name
		sum.OtherUserRole = u.Role
	}
	if c.OfferID != nil {
		if offer, ok := s.offers[*c.OfferID]; ok {
			oc := offer.Context()
			sum.Offer = &oc
		}
	}
	for _, m := range s.messages {
		if m.ConversationID != c.ID {
			continue
		}
		if m.RecipientID == userID && !m.Read {
			sum.UnreadCount++
		}
		content, at := m.Content, m.CreatedAt
		sum.LastMessage, sum.LastMessageAt = &content, &at
	}
	return sum
}

func (s *MemoryStore) ListConversations(ctx context.Context, userID int) ([]models.ConversationSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := []models.ConversationSummary{}
	for _, c := range s.conversations {
		if c.HasParticipant(userID) {
			summaries = append(summaries, s.summaryLocked(c, userID))
		}
	}
	sort.Slice(summaries, func(i, j int) bool {
		if !summaries[i].UpdatedAt.Equal(summaries[j].UpdatedAt) {
			return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
		}
		return summaries[i].ID > summaries[j].ID
	})
	return summaries, nil
}

func (s *MemoryStore) GetConversationSummary(ctx context.Context, userID, conversationID int) (*models.ConversationSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[conversationID]
	if !ok || !c.HasParticipant(userID) {
		return nil, ErrNotFound
	}
	sum := s.summaryLocked(c, userID)
	return &sum, nil
}

func (s *MemoryStore) withNames(m models.Message) models.Message {
	if u, ok := s.users[m.SenderID]; ok {
		m.SenderName = u.Name
	}
	if u, ok := s.users[m.RecipientID]; ok {
		m.RecipientName = u.Name
	}
	return m
}

func (s *MemoryStore) SaveMessage(ctx context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[msg.ConversationID]; !ok {
		return ErrNotFound
	}
	if msg.ClientKey != nil {
		for _, m := range s.messages {
			if m.ConversationID == msg.ConversationID && m.SenderID == msg.SenderID &&
				m.ClientKey != nil && *m.ClientKey == *msg.ClientKey {
				return ErrDuplicate
			}
		}
	}
	s.nextMessageID++
	msg.ID = s.nextMessageID
	msg.Read = false
	msg.CreatedAt = s.now()
	stored := *msg
	if msg.ClientKey != nil {
		key := *msg.ClientKey
		stored.ClientKey = &key
	}
	s.messages = append(s.messages, &stored)
	return nil
}

func (s *MemoryStore) FindMessageByClientKey(ctx context.Context, conversationID, senderID int, clientKey string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.messages {
		if m.ConversationID == conversationID && m.SenderID == senderID &&
			m.ClientKey != nil && *m.ClientKey == clientKey {
			out := s.withNames(*m)
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

// GetMessages walks the log backwards; insertion order is creation order.
func (s *MemoryStore) GetMessages(ctx context.Context, conversationID, limit, offset int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Message{}
	skipped := 0
	for i := len(s.messages) - 1; i >= 0 && len(out) < limit; i-- {
		m := s.messages[i]
		if m.ConversationID != conversationID {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, s.withNames(*m))
	}
	return out, nil
}

func (s *MemoryStore) MarkRead(ctx context.Context, conversationID, recipientID int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.messages {
		if m.ConversationID == conversationID && m.RecipientID == recipientID && !m.Read {
			m.Read = true
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CountUnread(ctx context.Context, recipientID int, conversationID *int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, m := range s.messages {
		if m.RecipientID != recipientID || m.Read {
			continue
		}
		if conversationID != nil && m.ConversationID != *conversationID {
			continue
		}
		total++
	}
	return total, nil
}

func (s *MemoryStore) CountUnreadByConversation(ctx context.Context, recipientID int) (map[int]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[int]int)
	for _, m := range s.messages {
		if m.RecipientID == recipientID && !m.Read {
			counts[m.ConversationID]++
		}
	}
	return counts, nil
}

func (s *MemoryStore) CreateUser(ctx context.Context, u *models.User, vehiclePlate string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return ErrDuplicate
		}
	}
	s.nextUserID++
	u.ID = s.nextUserID
	u.CreatedAt = s.now()
	stored := *u
	s.users[u.ID] = &stored
	return nil
}

func (s *MemoryStore) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			out := *u
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) FindByID(ctx context.Context, id int) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *u
	return &out, nil
}

func (s *MemoryStore) withOwner(o models.Offer) models.Offer {
	if u, ok := s.users[o.OwnerID]; ok {
		o.OwnerName = u.Name
	}
	return o
}

func (s *MemoryStore) CreateOffer(ctx context.Context, o *models.Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users[o.OwnerID] == nil {
		return ErrNotFound
	}
	s.nextOfferID++
	o.ID = s.nextOfferID
	o.CreatedAt = s.now()
	stored := *o
	s.offers[o.ID] = &stored
	return nil
}

func (s *MemoryStore) GetOffer(ctx context.Context, id int) (*models.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.offers[id]
	if !ok || s.deletedOffers[id] {
		return nil, ErrNotFound
	}
	out := s.withOwner(*o)
	return &out, nil
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

func (s *MemoryStore) ListOffers(ctx context.Context, f models.OfferFilter) ([]models.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Offer{}
	for _, o := range s.offers {
		switch {
		case s.deletedOffers[o.ID],
			f.Origin != "" && !containsFold(o.Origin, f.Origin),
			f.Destination != "" && !containsFold(o.Destination, f.Destination),
			f.MinPrice > 0 && o.Price < f.MinPrice,
			f.MaxPrice > 0 && o.Price > f.MaxPrice,
			f.OwnerID > 0 && o.OwnerID != f.OwnerID:
			continue
		}
		out = append(out, s.withOwner(*o))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) UpdateOffer(ctx context.Context, o *models.Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.offers[o.ID]
	if !ok || s.deletedOffers[o.ID] || existing.OwnerID != o.OwnerID {
		return ErrNotFound
	}
	o.CreatedAt = existing.CreatedAt
	stored := *o
	s.offers[o.ID] = &stored
	return nil
}

// DeleteOffer hides the offer from listings. Conversations keep pointing
// at it so their context survives.
func (s *MemoryStore) DeleteOffer(ctx context.Context, id, ownerID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offers[id]
	if !ok || s.deletedOffers[id] || o.OwnerID != ownerID {
		return ErrNotFound
	}
	s.deletedOffers[id] = true
	return nil
}
