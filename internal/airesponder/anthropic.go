package airesponder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
)

const (
	anthropicDefaultURL = "https://api.anthropic.com/v1/messages"
	anthropicVersion    = "2023-06-01"
)

// AnthropicProvider calls the Anthropic Messages API.
type AnthropicProvider struct {
	APIKey       string
	Model        string
	SystemPrompt string
	MaxTokens    int
	Temperature  float64

	// BaseURL overrides the API endpoint; tests point it at a local server.
	BaseURL string
	Client  *http.Client
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Temperature float64            `json:"temperature"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Generate sends the conversation to Anthropic and returns the first text
// block. A missing API key is logged and yields no reply rather than an
// error.
func (p *AnthropicProvider) Generate(ctx context.Context, turns []Turn) (string, error) {
	if p.APIKey == "" {
		log.Warn().Msg("anthropic api key not configured; skipping ai reply")
		return "", nil
	}

	msgs := make([]anthropicMessage, 0, len(turns))
	for _, t := range turns {
		msgs = append(msgs, anthropicMessage{Role: t.Role, Content: t.Content})
	}

	maxTokens := p.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 500
	}
	body, err := json.Marshal(anthropicRequest{
		Model:       p.Model,
		MaxTokens:   maxTokens,
		System:      p.SystemPrompt,
		Temperature: p.Temperature,
		Messages:    msgs,
	})
	if err != nil {
		return "", fmt.Errorf("encode anthropic request: %w", err)
	}

	url := p.BaseURL
	if url == "" {
		url = anthropicDefaultURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build anthropic request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call anthropic: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Error().
			Int("status", resp.StatusCode).
			Str("body", string(raw)).
			Msg("anthropic request failed")
		return "", nil
	}

	var out anthropicResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode anthropic response: %w", err)
	}
	for _, block := range out.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", nil
}
