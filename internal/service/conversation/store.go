// Package conversation holds the ordered message history of one widget mount.
package conversation

import (
	"sync"
	"time"

	"github.com/optinbot/widget/internal/model/chat"
)

// Store is an append-only transcript with a greeting latch and a pending-reply counter.
type Store struct {
	mu       sync.RWMutex
	messages []chat.Message
	seeded   bool
	pending  int
	now      func() time.Time
	onChange func()
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		messages: make([]chat.Message, 0, 16),
		now:      time.Now,
	}
}

// OnChange registers fn to run after every mutation, outside the lock.
func (s *Store) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Append adds a message stamped with the current time.
func (s *Store) Append(role chat.Role, text string) chat.Message {
	s.mu.Lock()
	msg := chat.Message{Role: role, Text: text, Timestamp: s.now().UTC()}
	s.messages = append(s.messages, msg)
	notify := s.onChange
	s.mu.Unlock()

	if notify != nil {
		notify()
	}
	return msg
}

// SeedGreetingIfEmpty appends the greeting as a bot message the first time it
// is called on an empty store with a non-empty greeting. It never fires twice.
func (s *Store) SeedGreetingIfEmpty(greeting string) bool {
	s.mu.Lock()
	if s.seeded || len(s.messages) > 0 || greeting == "" {
		s.mu.Unlock()
		return false
	}
	s.seeded = true
	s.messages = append(s.messages, chat.Message{Role: chat.RoleBot, Text: greeting, Timestamp: s.now().UTC()})
	notify := s.onChange
	s.mu.Unlock()

	if notify != nil {
		notify()
	}
	return true
}

// Messages returns a copy of the transcript in append order.
func (s *Store) Messages() []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	copied := make([]chat.Message, len(s.messages))
	copy(copied, s.messages)
	return copied
}

// Len returns the number of stored messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// HasUserMessage reports whether the visitor has said anything.
func (s *Store) HasUserMessage() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.messages {
		if m.Role == chat.RoleUser {
			return true
		}
	}
	return false
}

// BeginPending marks one outstanding reply.
func (s *Store) BeginPending() {
	s.mu.Lock()
	s.pending++
	notify := s.onChange
	s.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// EndPending clears one outstanding reply.
func (s *Store) EndPending() {
	s.mu.Lock()
	if s.pending > 0 {
		s.pending--
	}
	notify := s.onChange
	s.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// Loading is true while any reply is outstanding.
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pending > 0
}
