package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memoryConversation holds one conversation and its append lock.
type memoryConversation struct {
	record   Conversation
	mu       sync.Mutex
	messages []Message
}

// MemoryStore is an in-process Store used for tests and local development.
// It is not a fallback for a failed Postgres connection.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*memoryConversation
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*memoryConversation),
	}
}

// CreateConversation allocates a new unique id and records an empty conversation
func (s *MemoryStore) CreateConversation(ctx context.Context) (string, error) {
	id := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[id] = &memoryConversation{
		record: Conversation{ID: id, CreatedAt: time.Now().UTC()},
	}
	return id, nil
}

// AppendMessage assigns the next position and stores the message
func (s *MemoryStore) AppendMessage(ctx context.Context, conversationID, role, content string) (string, error) {
	if !validRole(role) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	s.mu.RLock()
	conv, ok := s.conversations[conversationID]
	s.mu.RUnlock()
	if !ok {
		return "", ErrConversationNotFound
	}

	// Appends to the same conversation are serialized; appends to different
	// conversations only share the brief map read above.
	conv.mu.Lock()
	defer conv.mu.Unlock()

	msg := Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Position:       len(conv.messages),
		CreatedAt:      time.Now().UTC(),
	}
	conv.messages = append(conv.messages, msg)
	return msg.ID, nil
}

// GetHistory returns a copy of all messages in position order
func (s *MemoryStore) GetHistory(ctx context.Context, conversationID string) ([]Message, error) {
	s.mu.RLock()
	conv, ok := s.conversations[conversationID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrConversationNotFound
	}

	conv.mu.Lock()
	defer conv.mu.Unlock()

	out := make([]Message, len(conv.messages))
	copy(out, conv.messages)
	return out, nil
}
