package ai

import (
	"context"
	"errors"
)

// Mode selects the completion contract for a gateway call.
type Mode int

const (
	// ModeFreeform requests a plain-text completion.
	ModeFreeform Mode = iota
	// ModeStructured requests a JSON completion the caller will validate.
	ModeStructured
)

// Turn is one role-tagged unit of context passed to the gateway.
type Turn struct {
	Role    string
	Content string
}

// StreamFunc receives completion chunks in the order the gateway emitted them.
// Returning an error aborts the stream.
type StreamFunc func(ctx context.Context, chunk []byte) error

// Upstream failure classes. The core never retries these; they are surfaced
// verbatim to the caller.
var (
	ErrRateLimited        = errors.New("gateway rate limited")
	ErrGatewayUnavailable = errors.New("gateway unavailable")
)

// Provider represents an AI completion service consumed as an opaque boundary
type Provider interface {
	// Complete sends the full turn history plus the new input and returns the
	// model's full response text.
	Complete(ctx context.Context, history []Turn, input string, mode Mode) (string, error)

	// Stream sends the full turn history plus the new input, forwarding chunks
	// to fn as they arrive. It returns the complete concatenated text only on
	// clean stream termination.
	Stream(ctx context.Context, history []Turn, input string, fn StreamFunc) (string, error)

	// Configure sets up the provider with needed configuration
	Configure(config map[string]interface{}) error

	// Name returns the provider's name
	Name() string
}

// Factory creates AI providers based on configuration
type Factory interface {
	Create(name string, config map[string]interface{}) (Provider, error)
}

// DefaultFactory is the default implementation of Factory
type DefaultFactory struct {
	providers map[string]Provider
}

// NewDefaultFactory creates a new DefaultFactory
func NewDefaultFactory() *DefaultFactory {
	return &DefaultFactory{
		providers: make(map[string]Provider),
	}
}

// Register registers a provider with the factory
func (f *DefaultFactory) Register(name string, provider Provider) {
	f.providers[name] = provider
}

// Create creates a new AI provider based on the given name
func (f *DefaultFactory) Create(name string, config map[string]interface{}) (Provider, error) {
	provider, ok := f.providers[name]
	if !ok {
		return nil, ErrProviderNotFound
	}

	if err := provider.Configure(config); err != nil {
		return nil, err
	}

	return provider, nil
}

// ErrProviderNotFound is returned when an AI provider is not found
var ErrProviderNotFound = errors.New("ai provider not found")
