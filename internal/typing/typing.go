// Package typing tracks the short-lived typing indicators on both sides of
// a conversation: inbound flags with automatic expiry, and a debounced
// emitter for local keystrokes.
package typing

import (
	"sync"
	"time"

	"github.com/bazario/chatkit/internal/bus"
)

// DefaultTTL is the window after which a typing flag auto-clears and the
// local debouncer emits typing=false on inactivity.
const DefaultTTL = 3 * time.Second

// Manager tracks per-user typing flags from inbound events. Every
// typing=true schedules an automatic reset after the TTL, so a lost
// typing=false event can never leave a stale indicator.
type Manager struct {
	ttl time.Duration
	bus *bus.Bus

	mu     sync.Mutex
	typing map[string]bool
	timers map[string]*time.Timer
}

// NewManager creates a manager. ttl <= 0 uses DefaultTTL.
func NewManager(ttl time.Duration, b *bus.Bus) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		ttl:    ttl,
		bus:    b,
		typing: make(map[string]bool),
		timers: make(map[string]*time.Timer),
	}
}

// Set applies an inbound typing event for a user.
func (m *Manager) Set(userID string, isTyping bool) {
	m.mu.Lock()
	if t, ok := m.timers[userID]; ok {
		t.Stop()
		delete(m.timers, userID)
	}
	changed := m.typing[userID] != isTyping
	if isTyping {
		m.typing[userID] = true
		m.timers[userID] = time.AfterFunc(m.ttl, func() { m.expire(userID) })
	} else {
		delete(m.typing, userID)
	}
	m.mu.Unlock()

	if changed {
		m.publish(userID, isTyping)
	}
}

// IsTyping reports whether a user is currently typing.
func (m *Manager) IsTyping(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.typing[userID]
}

// Stop cancels all pending expiry timers.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
}

func (m *Manager) expire(userID string) {
	m.mu.Lock()
	was := m.typing[userID]
	delete(m.typing, userID)
	delete(m.timers, userID)
	m.mu.Unlock()

	if was {
		m.publish(userID, false)
	}
}

func (m *Manager) publish(userID string, isTyping bool) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(bus.Event{
		Kind:      bus.KindTypingChanged,
		Timestamp: time.Now(),
		Payload:   Change{UserID: userID, IsTyping: isTyping},
	})
}

// Change is the payload for typing.changed events.
type Change struct {
	UserID   string
	IsTyping bool
}

// Debouncer turns a stream of local keystrokes into at most one
// typing=true per activity burst, followed by one typing=false after the
// TTL of inactivity.
type Debouncer struct {
	ttl  time.Duration
	emit func(isTyping bool)

	mu     sync.Mutex
	active bool
	timer  *time.Timer
}

// NewDebouncer creates a debouncer that calls emit on state changes.
// ttl <= 0 uses DefaultTTL.
func NewDebouncer(ttl time.Duration, emit func(isTyping bool)) *Debouncer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Debouncer{ttl: ttl, emit: emit}
}

// Touch records a keystroke. The first keystroke of a burst emits
// typing=true; repeats inside the window only push the inactivity timer.
func (d *Debouncer) Touch() {
	d.mu.Lock()
	first := !d.active
	d.active = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.ttl, d.idle)
	d.mu.Unlock()

	if first {
		d.emit(true)
	}
}

// Stop cancels the debouncer without emitting.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.active = false
	d.mu.Unlock()
}

func (d *Debouncer) idle() {
	d.mu.Lock()
	was := d.active
	d.active = false
	d.timer = nil
	d.mu.Unlock()

	if was {
		d.emit(false)
	}
}
