// Package llm provides a synchronous OpenAI-compatible chat-completions
// client used by the filing classifier, scheduler advisory pass, and
// review-queue chat assistant.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/medxprts/spacmon/pkg/config"
)

// Role identifies the speaker of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single chat-completion turn.
type Message struct {
	Role    Role
	Content string
}

// Client wraps an OpenAI-compatible chat-completions endpoint with a
// bounded timeout and a small retry budget, per provider configuration.
type Client struct {
	api        *openai.Client
	model      string
	timeout    time.Duration
	maxRetries int
	log        *slog.Logger
}

// ErrEmptyResponse is returned when the provider returns zero choices.
var ErrEmptyResponse = errors.New("llm: provider returned no completion choices")

// NewClient builds a Client from a named LLM provider configuration.
func NewClient(providerName string, provider config.LLMProviderConfig) (*Client, error) {
	apiKey := os.Getenv(provider.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("llm: environment variable %s is not set for provider %s", provider.APIKeyEnv, providerName)
	}

	oaCfg := openai.DefaultConfig(apiKey)
	if provider.BaseURL != "" {
		oaCfg.BaseURL = provider.BaseURL
	}

	return &Client{
		api:        openai.NewClientWithConfig(oaCfg),
		model:      provider.Model,
		timeout:    provider.Timeout,
		maxRetries: provider.MaxRetries,
		log:        slog.With("component", "llm", "provider", providerName),
	}, nil
}

// Complete sends a chat-completion request and returns the first choice's
// message content. It retries up to maxRetries times on transport/API
// errors, bounded by the provider's configured timeout per attempt.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	return c.complete(ctx, messages, "")
}

// CompleteJSON is identical to Complete but requests a JSON object response,
// used by the classifier's Tier 2 pass and the scheduler's advisory pass,
// both of which parse a closed-schema JSON payload from the reply.
func (c *Client) CompleteJSON(ctx context.Context, messages []Message) (string, error) {
	return c.complete(ctx, messages, openai.ChatCompletionResponseFormatTypeJSONObject)
}

func (c *Client) complete(ctx context.Context, messages []Message, format openai.ChatCompletionResponseFormatType) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: toOpenAIMessages(messages),
	}
	if format != "" {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: format}
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		resp, err := c.api.CreateChatCompletion(attemptCtx, req)
		cancel()

		if err == nil {
			if len(resp.Choices) == 0 {
				return "", ErrEmptyResponse
			}
			return resp.Choices[0].Message.Content, nil
		}

		lastErr = err
		c.log.Warn("chat completion attempt failed", "attempt", attempt, "error", err)

		if ctx.Err() != nil {
			break
		}
	}

	return "", fmt.Errorf("llm: chat completion failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		out[i] = openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		}
	}
	return out
}
