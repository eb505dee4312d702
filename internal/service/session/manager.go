// Package session issues the conversation identifier of a widget mount.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/optinbot/widget/internal/model/chat"
)

const idPrefix = "session-"

// Manager lazily assigns one session id per mount. The id never changes once issued.
type Manager struct {
	clientID string
	newID    func() string
	now      func() time.Time

	once    sync.Once
	mu      sync.RWMutex
	session *chat.Session
}

// NewManager returns a manager for the given client account.
func NewManager(clientID string) *Manager {
	return &Manager{clientID: clientID, newID: NewID, now: time.Now}
}

// NewID returns a fresh identifier: the prefix plus a time-ordered random UUID.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return idPrefix + uuid.NewString()
	}
	return idPrefix + id.String()
}

// Ensure issues the session id on first call and returns the same id afterwards.
func (m *Manager) Ensure() string {
	m.once.Do(func() {
		s := chat.Session{
			ID:        m.newID(),
			ClientID:  m.clientID,
			CreatedAt: m.now().UTC(),
		}
		m.mu.Lock()
		m.session = &s
		m.mu.Unlock()
	})
	return m.ID()
}

// ID returns the current id, or "" before Ensure.
func (m *Manager) ID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return ""
	}
	return m.session.ID
}

// Session returns the issued session, if any.
func (m *Manager) Session() (chat.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return chat.Session{}, false
	}
	return *m.session, true
}
