package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/bazario/chatkit/internal/bus"
	"github.com/samber/lo"
)

// Tracker maintains the current set of online user ids. The set is rebuilt
// wholesale from a snapshot on every (re)connect, then adjusted by
// single-user deltas in arrival order. Nothing here is persisted.
type Tracker struct {
	mu     sync.RWMutex
	online map[string]struct{}
	bus    *bus.Bus
}

// NewTracker creates an empty tracker.
func NewTracker(b *bus.Bus) *Tracker {
	return &Tracker{
		online: make(map[string]struct{}),
		bus:    b,
	}
}

// ApplySnapshot replaces the online set with the given users, discarding
// every previously applied delta.
func (t *Tracker) ApplySnapshot(users []string) {
	next := make(map[string]struct{}, len(users))
	for _, u := range lo.Uniq(users) {
		next[u] = struct{}{}
	}

	t.mu.Lock()
	t.online = next
	t.mu.Unlock()

	t.publish()
}

// SetOnline marks a user online. Idempotent.
func (t *Tracker) SetOnline(userID string) {
	t.mu.Lock()
	_, already := t.online[userID]
	t.online[userID] = struct{}{}
	t.mu.Unlock()

	if !already {
		t.publish()
	}
}

// SetOffline marks a user offline. Idempotent.
func (t *Tracker) SetOffline(userID string) {
	t.mu.Lock()
	_, present := t.online[userID]
	delete(t.online, userID)
	t.mu.Unlock()

	if present {
		t.publish()
	}
}

// IsOnline reports whether a user is currently online.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.online[userID]
	return ok
}

// Online returns a sorted snapshot of the online user ids.
func (t *Tracker) Online() []string {
	t.mu.RLock()
	users := lo.Keys(t.online)
	t.mu.RUnlock()
	sort.Strings(users)
	return users
}

func (t *Tracker) publish() {
	if t.bus == nil {
		return
	}
	t.bus.Publish(bus.Event{
		Kind:      bus.KindPresenceUpdated,
		Timestamp: time.Now(),
		Payload:   t.Online(),
	})
}
