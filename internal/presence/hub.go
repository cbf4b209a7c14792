package presence

import (
	"context"
	"errors"
	"sync"
	"time"

	"fretes-chat/internal/models"
	"fretes-chat/internal/utils"
)

var ErrAlreadyAnnounced = errors.New("connection already announced as another user")

// Hub is the only owner of the presence table. A connection moves from
// connected (anonymous) to announced (bound to a user) to gone. Each user
// has at most one recorded handle: the most recent announce wins.
type Hub struct {
	mu sync.RWMutex
	// connID -> client, every open connection
	clients map[string]*Client
	// connID -> announced user
	connUser map[string]int
	// userID -> handle that receives pushes
	users map[int]*Client

	roster Roster
}

func NewHub(roster Roster) *Hub {
	if roster == nil {
		roster = NewMemoryRoster()
	}
	return &Hub{
		clients:  make(map[string]*Client),
		connUser: make(map[string]int),
		users:    make(map[int]*Client),
		roster:   roster,
	}
}

// Connect registers an anonymous connection.
func (h *Hub) Connect(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ID] = c
}

// Announce binds the connection to userID and broadcasts the new roster.
func (h *Hub) Announce(ctx context.Context, connID string, userID int) error {
	h.mu.Lock()
	c, ok := h.clients[connID]
	if !ok {
		h.mu.Unlock()
		return errors.New("unknown connection")
	}
	if prev, announced := h.connUser[connID]; announced && prev != userID {
		h.mu.Unlock()
		return ErrAlreadyAnnounced
	}
	h.connUser[connID] = userID
	h.users[userID] = c
	h.mu.Unlock()

	if err := h.roster.Add(ctx, userID); err != nil {
		utils.LogError(err, "roster add")
	}
	h.broadcastRoster(ctx)
	return nil
}

// Disconnect drops the connection. The user's entry is only removed when
// this connection is still the recorded handle.
func (h *Hub) Disconnect(ctx context.Context, connID string) {
	h.mu.Lock()
	c, ok := h.clients[connID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, connID)
	userID, announced := h.connUser[connID]
	delete(h.connUser, connID)
	wentOffline := false
	if announced && h.users[userID] == c {
		delete(h.users, userID)
		wentOffline = true
	}
	h.mu.Unlock()
	// Writers holding a stale handle get ErrClientClosed.
	c.Close()

	if !wentOffline {
		return
	}
	if err := h.roster.Remove(ctx, userID); err != nil {
		utils.LogError(err, "roster remove")
	}
	h.broadcastRoster(ctx)
}

// IsUserOnline reports whether this instance holds a handle for userID.
func (h *Hub) IsUserOnline(userID int) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.users[userID]
	return ok
}

// OnlineUsers asks the roster, which may span several instances.
func (h *Hub) OnlineUsers(ctx context.Context) ([]int, error) {
	return h.roster.Online(ctx)
}

// SendToUser pushes to the user's handle. It returns false when the user has
// no handle here or the write failed; neither is an error for the caller.
func (h *Hub) SendToUser(userID int, payload interface{}) bool {
	h.mu.RLock()
	c, ok := h.users[userID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	if err := c.Send(payload); err != nil {
		utils.LogError(err, "SendToUser")
		return false
	}
	return true
}

func (h *Hub) BroadcastToAll(payload interface{}) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		// The read loop notices broken connections and disconnects them.
		if err := c.Send(payload); err != nil {
			utils.LogError(err, "BroadcastToAll")
		}
	}
}

func (h *Hub) broadcastRoster(ctx context.Context) {
	online, err := h.roster.Online(ctx)
	if err != nil {
		utils.LogError(err, "roster online")
		return
	}
	h.BroadcastToAll(models.WSMessage{
		Event:         models.EventRosterChanged,
		OnlineUserIDs: online,
	})
}

// MessageDelivered pushes a stored message to its recipient. An offline
// recipient is skipped silently; the message stays in history.
func (h *Hub) MessageDelivered(ctx context.Context, msg *models.Message) {
	if !h.SendToUser(msg.RecipientID, models.DeliveryEvent(models.EventMessageDelivered, msg)) {
		utils.Logger().Debug("recipient offline, push skipped",
			"conversation_id", msg.ConversationID, "recipient_id", msg.RecipientID)
	}
}

func (h *Hub) announcedUsers() []int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]int, 0, len(h.users))
	for id := range h.users {
		ids = append(ids, id)
	}
	return ids
}

// RunHeartbeat refreshes this instance's users in the roster until ctx ends.
func (h *Hub) RunHeartbeat(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.roster.Refresh(ctx, h.announcedUsers()); err != nil {
				utils.LogError(err, "roster refresh")
			}
		}
	}
}
