package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangChain completes prompts through a langchaingo model, for hosted
// OpenAI-compatible providers.
type LangChain struct {
	model llms.Model
	name  string
}

// NewLangChain creates an OpenAI-compatible langchaingo client.
func NewLangChain(config Config) (*LangChain, error) {
	if config.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	opts := []openai.Option{
		openai.WithToken(strings.TrimPrefix(config.APIKey, "Bearer ")),
		openai.WithModel(config.Model),
	}
	if config.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(config.BaseURL))
	}

	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create langchain model: %w", err)
	}
	return NewLangChainFromModel(model, config.Model), nil
}

// NewLangChainFromModel wraps an existing langchaingo model.
func NewLangChainFromModel(model llms.Model, name string) *LangChain {
	return &LangChain{model: model, name: name}
}

// Model returns the configured model name.
func (l *LangChain) Model() string {
	return l.name
}

// Complete sends a prompt and returns the trimmed response text.
func (l *LangChain) Complete(ctx context.Context, prompt string, cons Constraints) (string, error) {
	var messages []llms.MessageContent
	if cons.System != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, cons.System))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, prompt))

	opts := []llms.CallOption{llms.WithTemperature(cons.Temperature)}
	if cons.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(cons.MaxTokens))
	}
	if cons.JSON {
		opts = append(opts, llms.WithJSONMode())
	}

	resp, err := l.model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return "", classifyLangChainError(err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", ErrInvalidResponse)
	}

	return strings.TrimSpace(resp.Choices[0].Content), nil
}

// classifyLangChainError maps provider errors onto the sentinels. langchaingo
// only exposes the status code in the message text.
func classifyLangChainError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ErrTimeout, err)
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit"):
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	case strings.Contains(msg, "timeout"):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("generate content: %w", err)
}
