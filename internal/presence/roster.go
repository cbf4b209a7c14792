package presence

import (
	"context"
	"sort"
	"sync"
)

// Roster records which users are online. The hub keeps the live handles;
// the roster only answers "who is online", possibly across instances.
type Roster interface {
	Add(ctx context.Context, userID int) error
	Remove(ctx context.Context, userID int) error
	// Refresh extends the lifetime of entries owned by this instance.
	Refresh(ctx context.Context, userIDs []int) error
	Online(ctx context.Context) ([]int, error)
}

// MemoryRoster is the single-instance roster.
type MemoryRoster struct {
	mu    sync.RWMutex
	users map[int]struct{}
}

func NewMemoryRoster() *MemoryRoster {
	return &MemoryRoster{users: make(map[int]struct{})}
}

var _ Roster = (*MemoryRoster)(nil)

func (r *MemoryRoster) Add(ctx context.Context, userID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[userID] = struct{}{}
	return nil
}

func (r *MemoryRoster) Remove(ctx context.Context, userID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, userID)
	return nil
}

func (r *MemoryRoster) Refresh(ctx context.Context, userIDs []int) error {
	return nil
}

func (r *MemoryRoster) Online(ctx context.Context) ([]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}
