package client

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"fretes-chat/internal/models"
	"fretes-chat/internal/utils"

	"github.com/google/uuid"
)

var ErrNoActiveConversation = errors.New("no active conversation")

// Backend is the HTTP surface the session reads from. *API implements it.
type Backend interface {
	Conversations() ([]models.ConversationSummary, error)
	Open(conversationID, limit, offset int) (*models.ConversationDetail, error)
	Send(req models.SendMessageRequest) (*models.SendMessageResponse, error)
	MarkRead(conversationID int) (int64, error)
	Unread() (*models.UnreadResponse, error)
}

// Entry is one line of the local message log.
type Entry struct {
	models.Message
	// Pending until the server has stored the message.
	Pending bool
	Failed  bool
}

func (e *Entry) key() string {
	if e.ClientKey == nil {
		return ""
	}
	return *e.ClientKey
}

// Session caches what the user sees: the conversation list, the active
// conversation's log, who is online and the unread badge. Pushed events
// keep it current; Resync replaces it from HTTP after every (re)connect.
type Session struct {
	mu      sync.Mutex
	backend Backend
	userID  int

	conversations []models.ConversationSummary
	active        *models.ConversationSummary
	log           []Entry
	online        map[int]bool
	typing        bool
	unread        int

	historyLimit int
	onChange     func()
}

func NewSession(backend Backend, userID int) *Session {
	return &Session{
		backend:      backend,
		userID:       userID,
		online:       make(map[int]bool),
		historyLimit: 50,
	}
}

// OnChange registers a callback fired after every state change, outside the lock.
func (s *Session) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

func (s *Session) changed() {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Resync reloads the conversation list, the unread total and the active
// conversation's history.
func (s *Session) Resync() error {
	conversations, err := s.backend.Conversations()
	if err != nil {
		return err
	}
	unread, err := s.backend.Unread()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.conversations = conversations
	s.unread = unread.Total
	activeID := 0
	if s.active != nil {
		activeID = s.active.ID
	}
	s.mu.Unlock()

	if activeID != 0 {
		return s.Open(activeID)
	}
	s.changed()
	return nil
}

// Open makes conversationID active and loads its latest page. The server
// marks the page read, so the local badges are lowered to match.
func (s *Session) Open(conversationID int) error {
	detail, err := s.backend.Open(conversationID, s.historyLimit, 0)
	if err != nil {
		return err
	}

	s.mu.Lock()
	pending := s.pendingFor(conversationID)
	s.active = detail.Conversation
	s.typing = false
	s.log = s.log[:0]
	for _, m := range detail.Messages {
		s.log = append(s.log, Entry{Message: m})
	}
	// Sends still in flight survive the reload.
	for _, p := range pending {
		if s.indexByKey(p.key()) < 0 {
			s.log = append(s.log, p)
		}
	}
	c := s.conversationLocked(conversationID)
	cached := c != nil
	if cached {
		s.unread -= c.UnreadCount
		c.UnreadCount = 0
	} else if detail.Conversation != nil {
		// Started after the last Resync, e.g. by a resolve from this client.
		sum := *detail.Conversation
		sum.OtherUserStatus = statusOf(s.online[sum.OtherUserID])
		s.insertConversationLocked(sum)
	}
	if s.unread < 0 {
		s.unread = 0
	}
	s.mu.Unlock()

	// Its unread share is unknown locally; take the total from the server.
	if !cached {
		if unread, err := s.backend.Unread(); err == nil {
			s.mu.Lock()
			s.unread = unread.Total
			s.mu.Unlock()
		}
	}
	s.changed()
	return nil
}

func (s *Session) pendingFor(conversationID int) []Entry {
	if s.active == nil || s.active.ID != conversationID {
		return nil
	}
	var out []Entry
	for _, e := range s.log {
		if e.Pending {
			out = append(out, e)
		}
	}
	return out
}

// Send appends a pending entry under a fresh client key and stores it over
// HTTP. Whichever of the response and the push arrives first settles the entry.
func (s *Session) Send(text string) (*Entry, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("message is empty")
	}

	s.mu.Lock()
	if s.active == nil {
		s.mu.Unlock()
		return nil, ErrNoActiveConversation
	}
	key := uuid.NewString()
	entry := Entry{
		Message: models.Message{
			ConversationID: s.active.ID,
			SenderID:       s.userID,
			RecipientID:    s.active.OtherUserID,
			Content:        text,
			ClientKey:      &key,
			CreatedAt:      time.Now(),
		},
		Pending: true,
	}
	s.log = append(s.log, entry)
	s.mu.Unlock()
	s.changed()

	res, err := s.backend.Send(models.SendMessageRequest{
		ConversationID: entry.ConversationID,
		RecipientID:    entry.RecipientID,
		Content:        text,
		ClientKey:      key,
	})
	if err != nil {
		s.mu.Lock()
		if i := s.indexByKey(key); i >= 0 && s.log[i].Pending {
			s.log[i].Failed = true
		}
		s.mu.Unlock()
		s.changed()
		return nil, err
	}

	settled := s.settle(res.Message)
	s.changed()
	return settled, nil
}

// Retry resends a failed entry under the same key.
func (s *Session) Retry(clientKey string) (*Entry, error) {
	s.mu.Lock()
	i := s.indexByKey(clientKey)
	if i < 0 || !s.log[i].Failed {
		s.mu.Unlock()
		return nil, errors.New("no failed message with that key")
	}
	s.log[i].Failed = false
	req := models.SendMessageRequest{
		ConversationID: s.log[i].ConversationID,
		RecipientID:    s.log[i].RecipientID,
		Content:        s.log[i].Content,
		ClientKey:      clientKey,
	}
	s.mu.Unlock()

	res, err := s.backend.Send(req)
	if err != nil {
		s.mu.Lock()
		if i := s.indexByKey(clientKey); i >= 0 {
			s.log[i].Failed = true
		}
		s.mu.Unlock()
		s.changed()
		return nil, err
	}
	settled := s.settle(res.Message)
	s.changed()
	return settled, nil
}

// settle records a server copy of our own message and bumps the list entry.
func (s *Session) settle(m *models.Message) *Entry {
	s.mu.Lock()
	known := s.touchConversationLocked(m)
	e := Entry{Message: *m}
	if s.active != nil && s.active.ID == m.ConversationID {
		e = s.upsertLocked(e)
	}
	s.mu.Unlock()

	if !known {
		s.reloadConversations()
	}
	return &e
}

// HandleEvent applies one pushed event.
func (s *Session) HandleEvent(ev models.WSMessage) {
	switch ev.Event {
	case models.EventMessageConfirmed:
		s.settle(messageFromEvent(ev))
	case models.EventMessageDelivered:
		s.delivered(ev)
	case models.EventTypingStart, models.EventTypingStop:
		s.mu.Lock()
		if s.active != nil && s.active.ID == ev.ConversationID && ev.SenderID != s.userID {
			s.typing = ev.Event == models.EventTypingStart
		}
		s.mu.Unlock()
	case models.EventRosterChanged:
		s.mu.Lock()
		s.online = make(map[int]bool, len(ev.OnlineUserIDs))
		for _, id := range ev.OnlineUserIDs {
			s.online[id] = true
		}
		for i := range s.conversations {
			s.conversations[i].OtherUserStatus = statusOf(s.online[s.conversations[i].OtherUserID])
		}
		s.mu.Unlock()
	case models.EventError:
		if ev.ClientKey != "" {
			s.mu.Lock()
			if i := s.indexByKey(ev.ClientKey); i >= 0 && s.log[i].Pending {
				s.log[i].Failed = true
			}
			s.mu.Unlock()
		}
		utils.Logger().Warn("server error event", "error", ev.Error, "client_key", ev.ClientKey)
	default:
		return
	}
	s.changed()
}

// delivered handles a message addressed to us. In the open conversation it
// is appended and read; elsewhere it raises the badges.
func (s *Session) delivered(ev models.WSMessage) {
	m := messageFromEvent(ev)

	s.mu.Lock()
	known := s.touchConversationLocked(m)
	isActive := s.active != nil && s.active.ID == m.ConversationID
	if isActive {
		s.upsertLocked(Entry{Message: *m})
		s.typing = false
	} else {
		s.unread++
		if c := s.conversationLocked(m.ConversationID); c != nil {
			c.UnreadCount++
		}
	}
	s.mu.Unlock()

	if isActive {
		if _, err := s.backend.MarkRead(m.ConversationID); err != nil {
			utils.Logger().Warn("mark read failed", "conversation_id", m.ConversationID, "error", err)
		}
	}
	// The other side opened a conversation we have not listed yet.
	if !known {
		s.reloadConversations()
	}
}

// reloadConversations replaces the cached list with the server's. The
// server copy already counts the new message as unread.
func (s *Session) reloadConversations() {
	conversations, err := s.backend.Conversations()
	if err != nil {
		utils.Logger().Warn("reload conversations failed", "error", err)
		return
	}
	s.mu.Lock()
	for i := range conversations {
		conversations[i].OtherUserStatus = statusOf(s.online[conversations[i].OtherUserID])
	}
	s.conversations = conversations
	s.mu.Unlock()
}

func messageFromEvent(ev models.WSMessage) *models.Message {
	m := &models.Message{
		ID:             ev.MessageID,
		ConversationID: ev.ConversationID,
		SenderID:       ev.SenderID,
		RecipientID:    ev.RecipientID,
		Content:        ev.Text,
		CreatedAt:      time.UnixMilli(ev.ServerTimestamp),
	}
	if ev.ClientKey != "" {
		key := ev.ClientKey
		m.ClientKey = &key
	}
	return m
}

// upsertLocked matches by client key, then by server id, else appends.
func (s *Session) upsertLocked(e Entry) Entry {
	i := -1
	if k := e.key(); k != "" {
		i = s.indexByKey(k)
	}
	if i < 0 && e.ID != 0 {
		for j := range s.log {
			if s.log[j].ID == e.ID {
				i = j
				break
			}
		}
	}
	if i < 0 {
		s.log = append(s.log, e)
		return e
	}
	if !e.Pending {
		// Keep names from the richer copy.
		if e.SenderName == "" {
			e.SenderName = s.log[i].SenderName
		}
		if e.RecipientName == "" {
			e.RecipientName = s.log[i].RecipientName
		}
		e.Read = e.Read || s.log[i].Read
	}
	s.log[i] = e
	return e
}

func (s *Session) indexByKey(key string) int {
	for i := range s.log {
		if s.log[i].key() == key {
			return i
		}
	}
	return -1
}

func (s *Session) conversationLocked(id int) *models.ConversationSummary {
	for i := range s.conversations {
		if s.conversations[i].ID == id {
			return &s.conversations[i]
		}
	}
	return nil
}

// touchConversationLocked moves the conversation to the top of the list
// with m as its last message. It reports false when the conversation is not
// cached.
func (s *Session) touchConversationLocked(m *models.Message) bool {
	c := s.conversationLocked(m.ConversationID)
	if c == nil {
		return false
	}
	at := m.CreatedAt
	if c.LastMessageAt != nil && at.Before(*c.LastMessageAt) {
		return true
	}
	content := m.Content
	c.LastMessage = &content
	c.LastMessageAt = &at
	c.UpdatedAt = at
	s.sortConversationsLocked()
	return true
}

func (s *Session) insertConversationLocked(sum models.ConversationSummary) {
	s.conversations = append(s.conversations, sum)
	s.sortConversationsLocked()
}

func (s *Session) sortConversationsLocked() {
	sort.SliceStable(s.conversations, func(i, j int) bool {
		return s.conversations[i].UpdatedAt.After(s.conversations[j].UpdatedAt)
	})
}

func statusOf(online bool) string {
	if online {
		return "online"
	}
	return "offline"
}

// Live wires a reconnecting socket to this session: each (re)connect
// resyncs from HTTP, then pushed events are applied.
func (s *Session) Live(wsURL, token string) *Live {
	return &Live{
		URL:       wsURL,
		Token:     token,
		UserID:    s.userID,
		OnConnect: func(*Socket) error { return s.Resync() },
		OnEvent:   s.HandleEvent,
	}
}

func (s *Session) Messages() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.log))
	copy(out, s.log)
	return out
}

func (s *Session) Conversations() []models.ConversationSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ConversationSummary, len(s.conversations))
	copy(out, s.conversations)
	return out
}

// Active returns the open conversation, or nil.
func (s *Session) Active() *models.ConversationSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil
	}
	c := *s.active
	return &c
}

func (s *Session) IsOnline(userID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online[userID]
}

// OtherTyping reports whether the other participant of the open
// conversation is typing.
func (s *Session) OtherTyping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typing
}

func (s *Session) UnreadTotal() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}
