// Package wizard runs the owner's private-chat panel: help screens, group
// stats and the multi-step broadcast and welcome-template flows.
package wizard

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ihiteshgupta/telegram-modbot/internal/state"
)

// Session is the wizard state of one user.
type Session struct {
	UserID          int64
	State           state.State
	Draft           string
	AllGroupIDs     []int64
	ManagedGroupIDs []int64
	UpdatedAt       time.Time
}

// SessionStore holds wizard sessions keyed by user id.
type SessionStore interface {
	Get(userID int64) (Session, bool)
	Set(s Session)
	Evict(userID int64)
	// Sweep drops sessions not updated since before and returns how many
	// were dropped.
	Sweep(before time.Time) int
}

// MemorySessionStore keeps sessions in a bounded LRU.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions *lru.Cache[int64, Session]
}

// NewMemorySessionStore creates a store holding at most maxSessions.
func NewMemorySessionStore(maxSessions int) (*MemorySessionStore, error) {
	cache, err := lru.New[int64, Session](maxSessions)
	if err != nil {
		return nil, err
	}
	return &MemorySessionStore{sessions: cache}, nil
}

func (m *MemorySessionStore) Get(userID int64) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions.Get(userID)
}

func (m *MemorySessionStore) Set(s Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions.Add(s.UserID, s)
}

func (m *MemorySessionStore) Evict(userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions.Remove(userID)
}

func (m *MemorySessionStore) Sweep(before time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for _, id := range m.sessions.Keys() {
		s, ok := m.sessions.Peek(id)
		if ok && s.UpdatedAt.Before(before) {
			m.sessions.Remove(id)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored sessions.
func (m *MemorySessionStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions.Len()
}
