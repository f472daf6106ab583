package session

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/pitchcoach/internal/ai"
	"github.com/pitchcoach/internal/conversation"
	"github.com/pitchcoach/internal/rubric"
)

// Orchestrator drives the turn-taking protocol: load prior turns, append the
// user turn, invoke the gateway with full history, append the assistant turn.
// It is the sole writer to the conversation store. The assistant turn is never
// appended before the user turn, and never appended for a call that failed.
type Orchestrator struct {
	store    conversation.Store
	provider ai.Provider
}

// NewOrchestrator creates a session orchestrator
func NewOrchestrator(store conversation.Store, provider ai.Provider) *Orchestrator {
	return &Orchestrator{store: store, provider: provider}
}

// HandleAnalysis runs a structured rubric evaluation of a pitch transcript.
// When conversationID is empty a new conversation is created; a non-empty id
// that does not exist is an error, not an implicit create.
func (o *Orchestrator) HandleAnalysis(ctx context.Context, transcript, conversationID string) (*rubric.Evaluation, string, error) {
	convID, history, err := o.beginTurn(ctx, transcript, conversationID)
	if err != nil {
		return nil, "", err
	}

	turns := buildTurns(rubric.SystemPrompt, history)
	raw, err := o.provider.Complete(ctx, turns, transcript, ai.ModeStructured)
	if err != nil {
		return nil, convID, fmt.Errorf("analysis gateway: %w", err)
	}

	eval, err := rubric.Parse(raw)
	if err != nil {
		log.Warn().
			Str("conversation_id", convID).
			Err(err).
			Msg("Rubric validation failed, assistant turn not committed")
		return nil, convID, err
	}

	serialized, err := eval.Serialize()
	if err != nil {
		return nil, convID, err
	}
	if _, err := o.store.AppendMessage(ctx, convID, conversation.RoleAssistant, serialized); err != nil {
		return nil, convID, err
	}

	return eval, convID, nil
}

// HandleChat runs one freeform coaching turn and returns the full reply.
func (o *Orchestrator) HandleChat(ctx context.Context, message, conversationID string) (string, string, error) {
	convID, history, err := o.beginTurn(ctx, message, conversationID)
	if err != nil {
		return "", "", err
	}

	turns := buildTurns(rubric.ChatSystemPrompt, history)
	reply, err := o.provider.Complete(ctx, turns, message, ai.ModeFreeform)
	if err != nil {
		return "", convID, fmt.Errorf("analysis gateway: %w", err)
	}

	if _, err := o.store.AppendMessage(ctx, convID, conversation.RoleAssistant, reply); err != nil {
		return "", convID, err
	}

	return reply, convID, nil
}

// HandleChatStream runs one freeform coaching turn, forwarding chunks to fn as
// the gateway emits them. The complete text is committed as the assistant turn
// only on clean stream termination; a failed or cancelled stream leaves the
// conversation ending with the user turn.
func (o *Orchestrator) HandleChatStream(ctx context.Context, message, conversationID string, fn ai.StreamFunc) (string, error) {
	convID, history, err := o.beginTurn(ctx, message, conversationID)
	if err != nil {
		return "", err
	}

	turns := buildTurns(rubric.ChatSystemPrompt, history)
	full, err := o.provider.Stream(ctx, turns, message, fn)
	if err != nil {
		log.Info().
			Str("conversation_id", convID).
			Err(err).
			Msg("Stream terminated with error, partial assistant turn discarded")
		return convID, fmt.Errorf("analysis gateway: %w", err)
	}

	// The stream ended cleanly; commit even if the client has since gone away.
	commitCtx := context.WithoutCancel(ctx)
	if _, err := o.store.AppendMessage(commitCtx, convID, conversation.RoleAssistant, full); err != nil {
		return convID, err
	}

	return convID, nil
}

// GetHistory returns the ordered turn history for a conversation.
func (o *Orchestrator) GetHistory(ctx context.Context, conversationID string) ([]conversation.Message, error) {
	return o.store.GetHistory(ctx, conversationID)
}

// CreateConversation allocates an empty conversation up front, for callers
// that persist turns asynchronously.
func (o *Orchestrator) CreateConversation(ctx context.Context) (string, error) {
	return o.store.CreateConversation(ctx)
}

// SaveTranscript records a transcript as the opening user turn of a new
// conversation without invoking the gateway.
func (o *Orchestrator) SaveTranscript(ctx context.Context, transcript string) (string, error) {
	convID, err := o.store.CreateConversation(ctx)
	if err != nil {
		return "", err
	}
	if _, err := o.store.AppendMessage(ctx, convID, conversation.RoleUser, transcript); err != nil {
		return "", err
	}
	return convID, nil
}

// beginTurn resolves the conversation, captures the prior history, and appends
// the new user turn.
func (o *Orchestrator) beginTurn(ctx context.Context, input, conversationID string) (string, []conversation.Message, error) {
	var history []conversation.Message

	convID := conversationID
	if convID == "" {
		created, err := o.store.CreateConversation(ctx)
		if err != nil {
			return "", nil, err
		}
		convID = created
	} else {
		prior, err := o.store.GetHistory(ctx, convID)
		if err != nil {
			return "", nil, err
		}
		history = prior
	}

	if _, err := o.store.AppendMessage(ctx, convID, conversation.RoleUser, input); err != nil {
		return "", nil, err
	}

	return convID, history, nil
}

// buildTurns prefixes the per-call system prompt onto the stored history. The
// system prompt is supplied to the gateway on every call rather than persisted,
// so a fresh analysis history is exactly [user transcript, assistant rubric].
func buildTurns(systemPrompt string, history []conversation.Message) []ai.Turn {
	turns := make([]ai.Turn, 0, len(history)+1)
	turns = append(turns, ai.Turn{Role: conversation.RoleSystem, Content: systemPrompt})
	for _, m := range history {
		turns = append(turns, ai.Turn{Role: m.Role, Content: m.Content})
	}
	return turns
}
