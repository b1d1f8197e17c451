// Package memory provides conversation history storage for multi-turn
// question answering.
package memory

import (
	"strings"
	"sync"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents a single message in a conversation.
type Message struct {
	Role      Role
	Content   string
	Timestamp time.Time
}

// Conversation holds the message history for a session.
type Conversation struct {
	Messages  []Message
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store provides in-memory conversation storage with TTL eviction.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	maxMessages   int
	ttl           time.Duration
	done          chan struct{}
}

// NewStore creates a conversation store. maxMessages bounds each
// conversation; ttl evicts sessions idle longer than the given
// duration.
func NewStore(maxMessages int, ttl time.Duration) *Store {
	s := &Store{
		conversations: make(map[string]*Conversation),
		maxMessages:   maxMessages,
		ttl:           ttl,
		done:          make(chan struct{}),
	}

	go s.cleanupLoop()

	return s
}

// DefaultStore creates a store holding 20 messages per session with a
// one hour idle TTL.
func DefaultStore() *Store {
	return NewStore(20, 1*time.Hour)
}

// Close stops the background eviction loop.
func (s *Store) Close() {
	close(s.done)
}

// Append records a message in the session's conversation, evicting the
// oldest messages beyond the store's per-session limit.
func (s *Store) Append(sessionID string, role Role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[sessionID]
	if !exists {
		conv = &Conversation{CreatedAt: time.Now()}
		s.conversations[sessionID] = conv
	}

	conv.Messages = append(conv.Messages, Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
	conv.UpdatedAt = time.Now()

	if len(conv.Messages) > s.maxMessages {
		conv.Messages = conv.Messages[len(conv.Messages)-s.maxMessages:]
	}
}

// History returns a copy of the session's messages, or nil for an
// unknown session.
func (s *Store) History(sessionID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, exists := s.conversations[sessionID]
	if !exists {
		return nil
	}

	messages := make([]Message, len(conv.Messages))
	copy(messages, conv.Messages)
	return messages
}

// RecentHistory returns the last n messages of a session.
func (s *Store) RecentHistory(sessionID string, n int) []Message {
	history := s.History(sessionID)
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

// ClearSession removes a conversation.
func (s *Store) ClearSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, sessionID)
}

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.evictExpired()
		case <-s.done:
			return
		}
	}
}

func (s *Store) evictExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for id, conv := range s.conversations {
		if now.Sub(conv.UpdatedAt) > s.ttl {
			delete(s.conversations, id)
		}
	}
}

// FormatForPrompt renders a conversation for inclusion in an LLM
// prompt. Returns the empty string when there is no history.
func FormatForPrompt(messages []Message) string {
	if len(messages) == 0 {
		return ""
	}

	var sb strings.Builder
	for _, msg := range messages {
		switch msg.Role {
		case RoleUser:
			sb.WriteString("User: ")
		case RoleAssistant:
			sb.WriteString("Assistant: ")
		default:
			continue
		}
		sb.WriteString(msg.Content)
		sb.WriteByte('\n')
	}
	return sb.String()
}
