// Package llm provides a minimal client for the Anthropic Messages API and a
// response cache around it.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aristath/maestro/internal/clients"
	"github.com/rs/zerolog"
)

const (
	// DefaultBaseURL is the public Anthropic API endpoint
	DefaultBaseURL = "https://api.anthropic.com"
	// APIVersion is sent in the anthropic-version header
	APIVersion = "2023-06-01"
)

// Provider is the interface for LLM providers.
type Provider interface {
	Generate(ctx context.Context, system, prompt string, maxTokens int) (string, error)
	IsConfigured() bool
}

// AnthropicProvider calls the Messages API
type AnthropicProvider struct {
	Model   string
	BaseURL string
	apiKey  string
	client  *http.Client
	log     zerolog.Logger
}

// NewAnthropicProvider creates a new Anthropic provider. An empty baseURL
// selects DefaultBaseURL.
func NewAnthropicProvider(apiKey, model, baseURL string, log zerolog.Logger) *AnthropicProvider {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &AnthropicProvider{
		Model:   model,
		BaseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 120 * time.Second},
		log:     log.With().Str("client", "anthropic").Logger(),
	}
}

// IsConfigured checks if the API key is set.
func (p *AnthropicProvider) IsConfigured() bool {
	return p.apiKey != ""
}

type messageRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messageResponse struct {
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Generate sends a single user turn and returns the concatenated text blocks.
func (p *AnthropicProvider) Generate(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	if p.apiKey == "" {
		return "", fmt.Errorf("anthropic API key not configured")
	}

	data, err := json.Marshal(messageRequest{
		Model:     p.Model,
		System:    system,
		Messages:  []message{{Role: "user", Content: prompt}},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/v1/messages", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", APIVersion)

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("anthropic API error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &clients.StatusError{Provider: "anthropic", StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	var result messageResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	var sb strings.Builder
	for _, block := range result.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("no text content in anthropic response (stop_reason=%s)", result.StopReason)
	}

	p.log.Debug().
		Str("model", p.Model).
		Dur("duration", time.Since(start)).
		Str("stop_reason", result.StopReason).
		Msg("Generation completed")

	return sb.String(), nil
}
