package langchain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"

	"github.com/pitchcoach/internal/ai"
	"github.com/pitchcoach/internal/conversation"
)

// Provider implements the ai.Provider interface using langchain abstractions
// over an OpenAI-compatible completion endpoint.
type Provider struct {
	mu          sync.Mutex
	llm         llms.Model
	apiKey      string
	baseURL     string
	modelName   string
	temperature float64
	limiter     *rate.Limiter
}

// NewProvider creates an unconfigured langchain provider
func NewProvider() *Provider {
	return &Provider{
		modelName:   "gpt-4o-mini",
		temperature: 0.7,
	}
}

// Name returns the provider's name
func (p *Provider) Name() string {
	return "langchain-openai"
}

// Configure sets up the provider with needed configuration
func (p *Provider) Configure(config map[string]interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	apiKey, ok := config["api_key"].(string)
	if !ok || apiKey == "" {
		return fmt.Errorf("api_key is required for %s", p.Name())
	}
	p.apiKey = apiKey

	if baseURL, ok := config["base_url"].(string); ok && baseURL != "" {
		p.baseURL = baseURL
	}
	if model, ok := config["model"].(string); ok && model != "" {
		p.modelName = model
	}
	if temp, ok := config["temperature"].(float64); ok {
		p.temperature = temp
	}
	if rps, ok := config["requests_per_second"].(float64); ok && rps > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}

	// Force re-initialization with the new settings on next call.
	p.llm = nil
	return nil
}

// model lazily initializes the underlying langchain LLM
func (p *Provider) model() (llms.Model, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.llm != nil {
		return p.llm, nil
	}
	if p.apiKey == "" {
		return nil, fmt.Errorf("%s is not configured", p.Name())
	}

	opts := []openai.Option{
		openai.WithToken(p.apiKey),
		openai.WithModel(p.modelName),
	}
	if p.baseURL != "" {
		opts = append(opts, openai.WithBaseURL(p.baseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}
	p.llm = llm
	return llm, nil
}

// Complete sends the turn history plus the new input and returns the full text
func (p *Provider) Complete(ctx context.Context, history []ai.Turn, input string, mode ai.Mode) (string, error) {
	llm, err := p.model()
	if err != nil {
		return "", err
	}

	msgs := buildMessages(history, input)

	opts := []llms.CallOption{llms.WithTemperature(p.temperature)}
	if mode == ai.ModeStructured {
		opts = append(opts, llms.WithJSONMode())
	}

	if err := p.wait(ctx); err != nil {
		return "", err
	}

	log.Debug().
		Str("model", p.modelName).
		Int("turns", len(msgs)).
		Bool("structured", mode == ai.ModeStructured).
		Msg("Calling completion gateway")

	resp, err := llm.GenerateContent(ctx, msgs, opts...)
	if err != nil {
		return "", classifyGatewayError(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty response", ai.ErrGatewayUnavailable)
	}

	return resp.Choices[0].Content, nil
}

// Stream forwards chunks as they arrive and returns the concatenated text on
// clean termination
func (p *Provider) Stream(ctx context.Context, history []ai.Turn, input string, fn ai.StreamFunc) (string, error) {
	llm, err := p.model()
	if err != nil {
		return "", err
	}

	msgs := buildMessages(history, input)

	var full strings.Builder
	opts := []llms.CallOption{
		llms.WithTemperature(p.temperature),
		llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			if err := fn(ctx, chunk); err != nil {
				return err
			}
			full.Write(chunk)
			return nil
		}),
	}

	if err := p.wait(ctx); err != nil {
		return "", err
	}

	resp, err := llm.GenerateContent(ctx, msgs, opts...)
	if err != nil {
		return "", classifyGatewayError(err)
	}

	// Some backends deliver the final text only in the response, not through
	// the streaming callback.
	if full.Len() == 0 && len(resp.Choices) > 0 {
		return resp.Choices[0].Content, nil
	}
	return full.String(), nil
}

// wait applies the client-side rate limit, if one is configured
func (p *Provider) wait(ctx context.Context) error {
	p.mu.Lock()
	limiter := p.limiter
	p.mu.Unlock()

	if limiter == nil {
		return nil
	}
	if err := limiter.Wait(ctx); err != nil {
		return classifyGatewayError(err)
	}
	return nil
}

// buildMessages converts stored turns into langchain message content
func buildMessages(history []ai.Turn, input string) []llms.MessageContent {
	msgs := make([]llms.MessageContent, 0, len(history)+1)
	for _, turn := range history {
		msgs = append(msgs, llms.TextParts(chatMessageType(turn.Role), turn.Content))
	}
	msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, input))
	return msgs
}

func chatMessageType(role string) llms.ChatMessageType {
	switch role {
	case conversation.RoleSystem:
		return llms.ChatMessageTypeSystem
	case conversation.RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}

// classifyGatewayError maps transport errors onto the upstream failure classes
func classifyGatewayError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "quota") {
		return fmt.Errorf("%w: %v", ai.ErrRateLimited, err)
	}
	return fmt.Errorf("%w: %v", ai.ErrGatewayUnavailable, err)
}
