// Package llm wraps the chat completion backends used for free-text answers
// and alarm summaries.
package llm

import (
	"context"
	"errors"
	"strings"
)

// Provider defines the interface for LLM providers.
type Provider interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	// Name returns the name of this provider.
	Name() string
}

// ErrEmptyResponse is returned by Ask when the model produced no text.
var ErrEmptyResponse = errors.New("llm returned an empty response")

// Ask sends a single system + user exchange and returns the trimmed reply.
func Ask(ctx context.Context, p Provider, system, prompt string, maxTokens int) (string, error) {
	req := CompletionRequest{
		MaxTokens:   maxTokens,
		Temperature: 0.2,
	}
	if system != "" {
		req.Messages = append(req.Messages, Message{Role: RoleSystem, Content: system})
	}
	req.Messages = append(req.Messages, Message{Role: RoleUser, Content: prompt})

	resp, err := p.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
