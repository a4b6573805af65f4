package airesponder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-messaging-backend/internal/config"
)

const openAIDefaultURL = "https://api.openai.com/v1/chat/completions"

// newHTTPClient returns the HTTP client shared by the hosted providers,
// bounded by the configured request timeout.
func newHTTPClient(cfg config.AIConfig) *http.Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// OpenAIProvider calls the OpenAI chat completions API.
type OpenAIProvider struct {
	APIKey       string
	Model        string
	SystemPrompt string
	MaxTokens    int
	Temperature  float64

	// BaseURL overrides the API endpoint; tests point it at a local server.
	BaseURL string
	Client  *http.Client
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature"`
}

type openAIResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
}

// Generate sends the conversation to OpenAI and returns the first choice.
// A missing API key is logged and yields no reply rather than an error.
func (p *OpenAIProvider) Generate(ctx context.Context, turns []Turn) (string, error) {
	if p.APIKey == "" {
		log.Warn().Msg("openai api key not configured; skipping ai reply")
		return "", nil
	}

	msgs := make([]openAIMessage, 0, len(turns)+1)
	if p.SystemPrompt != "" {
		msgs = append(msgs, openAIMessage{Role: "system", Content: p.SystemPrompt})
	}
	for _, t := range turns {
		msgs = append(msgs, openAIMessage{Role: t.Role, Content: t.Content})
	}

	body, err := json.Marshal(openAIRequest{
		Model:       p.Model,
		Messages:    msgs,
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("encode openai request: %w", err)
	}

	url := p.BaseURL
	if url == "" {
		url = openAIDefaultURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build openai request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call openai: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Error().
			Int("status", resp.StatusCode).
			Str("body", string(raw)).
			Msg("openai request failed")
		return "", nil
	}

	var out openAIResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode openai response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", nil
	}
	return out.Choices[0].Message.Content, nil
}
