package conversation

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// PostgresStore persists conversations and messages in Postgres.
//
// Position assignment uses an INSERT that computes MAX(position)+1 in the same
// statement, guarded by a per-conversation in-process mutex. The unique
// constraint on (conversation_id, position) remains as the cross-process
// backstop.
type PostgresStore struct {
	db *sql.DB

	mu    sync.Mutex
	locks map[string]*convLock
}

// convLock serializes appends to one conversation. refs counts holders and
// waiters so the map entry can be dropped once the last one releases.
type convLock struct {
	mu   sync.Mutex
	refs int
}

// NewPostgresStore creates a new Postgres-backed store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:    db,
		locks: make(map[string]*convLock),
	}
}

// acquireLock takes the append lock for a conversation id
func (s *PostgresStore) acquireLock(conversationID string) *convLock {
	s.mu.Lock()
	lock, ok := s.locks[conversationID]
	if !ok {
		lock = &convLock{}
		s.locks[conversationID] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return lock
}

// releaseLock unlocks and evicts the entry when no one else holds or awaits it
func (s *PostgresStore) releaseLock(conversationID string, lock *convLock) {
	lock.mu.Unlock()

	s.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(s.locks, conversationID)
	}
	s.mu.Unlock()
}

// CreateConversation allocates a new unique id and persists an empty record
func (s *PostgresStore) CreateConversation(ctx context.Context) (string, error) {
	id := uuid.NewString()

	query := `
		INSERT INTO conversations (id, created_at)
		VALUES ($1, $2)
	`

	if _, err := s.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return "", fmt.Errorf("insert conversation: %w: %v", ErrStorageUnavailable, err)
	}

	log.Debug().Str("conversation_id", id).Msg("Created conversation")
	return id, nil
}

// AppendMessage assigns the next position and persists the message
func (s *PostgresStore) AppendMessage(ctx context.Context, conversationID, role, content string) (string, error) {
	if !validRole(role) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	lock := s.acquireLock(conversationID)
	defer s.releaseLock(conversationID, lock)

	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM conversations WHERE id = $1)`, conversationID,
	).Scan(&exists)
	if err != nil {
		return "", fmt.Errorf("check conversation: %w: %v", ErrStorageUnavailable, err)
	}
	if !exists {
		return "", ErrConversationNotFound
	}

	id := uuid.NewString()

	// Position is computed and inserted in one statement so the next position
	// is always one greater than the current maximum, or zero when empty.
	query := `
		INSERT INTO messages (id, conversation_id, role, content, position, created_at)
		SELECT $1, $2, $3, $4, COALESCE(MAX(position) + 1, 0), $5
		FROM messages
		WHERE conversation_id = $2
		RETURNING position
	`

	var position int
	err = s.db.QueryRowContext(ctx, query, id, conversationID, role, content, time.Now().UTC()).Scan(&position)
	if err != nil {
		return "", fmt.Errorf("insert message: %w: %v", ErrStorageUnavailable, err)
	}

	log.Debug().
		Str("conversation_id", conversationID).
		Str("message_id", id).
		Str("role", role).
		Int("position", position).
		Msg("Appended message")

	return id, nil
}

// GetHistory returns all messages for a conversation in position order
func (s *PostgresStore) GetHistory(ctx context.Context, conversationID string) ([]Message, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM conversations WHERE id = $1)`, conversationID,
	).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("check conversation: %w: %v", ErrStorageUnavailable, err)
	}
	if !exists {
		return nil, ErrConversationNotFound
	}

	query := `
		SELECT id, conversation_id, role, content, position, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY position ASC
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w: %v", ErrStorageUnavailable, err)
	}
	defer rows.Close()

	messages := make([]Message, 0)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.Position, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w: %v", ErrStorageUnavailable, err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w: %v", ErrStorageUnavailable, err)
	}

	return messages, nil
}
