// Package airesponder implements the automated AI participant. When
// enabled it watches inboxes the AI user belongs to and answers incoming
// messages through a configurable completion provider (OpenAI, Anthropic,
// or a caller-supplied function). All failures are logged and swallowed so
// sending a message never fails because the assistant could not reply.
package airesponder

import (
	"context"

	"github.com/tbourn/go-messaging-backend/internal/config"
)

// Conversation roles presented to providers.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one entry of the conversation context sent to a provider, in
// chronological order.
type Turn struct {
	Role    string
	Content string
}

// Provider generates a reply from the conversation so far. An empty string
// with a nil error means "no reply" and is not an error condition.
type Provider interface {
	Generate(ctx context.Context, turns []Turn) (string, error)
}

// CustomFunc is a caller-supplied completion function for the custom
// provider.
type CustomFunc func(ctx context.Context, turns []Turn) (string, error)

// NewProvider builds the Provider selected by cfg.Provider. The custom
// function is only consulted for the custom provider and may be nil
// otherwise.
func NewProvider(cfg config.AIConfig, custom CustomFunc) Provider {
	switch cfg.Provider {
	case config.ProviderAnthropic:
		return &AnthropicProvider{
			APIKey:       cfg.Anthropic.APIKey,
			Model:        cfg.Anthropic.Model,
			SystemPrompt: cfg.SystemPrompt,
			MaxTokens:    cfg.MaxTokens,
			Temperature:  cfg.Temperature,
			Client:       newHTTPClient(cfg),
		}
	case config.ProviderCustom:
		return &CustomProvider{Fn: custom}
	default:
		return &OpenAIProvider{
			APIKey:       cfg.OpenAI.APIKey,
			Model:        cfg.OpenAI.Model,
			SystemPrompt: cfg.SystemPrompt,
			MaxTokens:    cfg.MaxTokens,
			Temperature:  cfg.Temperature,
			Client:       newHTTPClient(cfg),
		}
	}
}
