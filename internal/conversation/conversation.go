package conversation

import (
	"context"
	"errors"
	"time"
)

// Message roles. Every stored message carries exactly one of these.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Sentinel errors surfaced by every Store implementation.
var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrStorageUnavailable   = errors.New("storage unavailable")
	ErrInvalidRole          = errors.New("invalid message role")
)

// Conversation is a durable, ordered thread of turns identified by a unique id.
type Conversation struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is one role-tagged unit of text within a conversation. Position is
// monotonically increasing within its conversation, starting at 0, never reused.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Position       int       `json:"position"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store is the durable record of conversations and their ordered messages.
//
// AppendMessage for a given conversation id is serialized: no two messages in
// the same conversation are ever assigned the same position. Appends to
// different conversations proceed independently.
type Store interface {
	// CreateConversation allocates a new unique id and persists an empty
	// conversation record.
	CreateConversation(ctx context.Context) (string, error)

	// AppendMessage assigns the next position for the conversation and
	// persists the message. Fails with ErrConversationNotFound if the id is
	// unknown.
	AppendMessage(ctx context.Context, conversationID, role, content string) (string, error)

	// GetHistory returns all messages in position order. An empty slice is
	// legal right after creation. Fails with ErrConversationNotFound if the
	// id is unknown.
	GetHistory(ctx context.Context, conversationID string) ([]Message, error)
}

func validRole(role string) bool {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}
