package summarize

import (
	"context"
	"errors"
	"fmt"

	"github.com/aktagon/llmkit/anthropic"
	"github.com/aktagon/llmkit/anthropic/types"
)

// DefaultAnthropicModel is used when no model is configured for the anthropic provider.
const DefaultAnthropicModel = "claude-3-5-haiku-latest"

type anthropicCall func(system, user, apiKey string, settings types.RequestSettings) (string, error)

// Anthropic generates summaries through the Anthropic Messages API.
type Anthropic struct {
	apiKey string
	model  string
	call   anthropicCall
}

var _ Provider = (*Anthropic)(nil)

// NewAnthropic creates an Anthropic provider.
func NewAnthropic(apiKey, model string) (*Anthropic, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic api key is required")
	}
	if model == "" {
		model = DefaultAnthropicModel
	}
	return &Anthropic{apiKey: apiKey, model: model, call: llmkitPrompt}, nil
}

// Name implements Provider.
func (a *Anthropic) Name() string { return "anthropic" }

// Complete implements Provider. The underlying client has no context
// support, so cancellation abandons the in-flight call.
func (a *Anthropic) Complete(ctx context.Context, p Prompt) (string, error) {
	settings := types.RequestSettings{
		Model:       a.model,
		MaxTokens:   p.MaxTokens,
		Temperature: float64(p.Temperature),
	}
	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := a.call(p.System, p.User, a.apiKey, settings)
		done <- result{text: text, err: err}
	}()
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("anthropic prompt: %w", ctx.Err())
	case r := <-done:
		return r.text, r.err
	}
}

func llmkitPrompt(system, user, apiKey string, settings types.RequestSettings) (string, error) {
	response, err := anthropic.PromptWithSettings(system, user, "", apiKey, settings)
	if err != nil {
		return "", fmt.Errorf("anthropic prompt: %w", err)
	}
	if len(response.Content) == 0 {
		return "", errors.New("no content in response")
	}
	return response.Content[0].Text, nil
}
