package embeddings

import (
	"context"
	"fmt"
	"strings"

	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangChain embeds text through a langchaingo embedder, for hosted
// OpenAI-compatible providers.
type LangChain struct {
	embedder lcembeddings.Embedder
}

// NewLangChain creates an OpenAI-compatible langchaingo embedder.
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
		openai.WithEmbeddingModel(config.Model),
	}
	if config.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(config.BaseURL))
	}

	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create langchain client: %w", err)
	}
	return NewLangChainFromClient(client)
}

// NewLangChainFromClient wraps any langchaingo embedder client.
func NewLangChainFromClient(client lcembeddings.EmbedderClient) (*LangChain, error) {
	embedder, err := lcembeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return &LangChain{embedder: embedder}, nil
}

// Embed generates an embedding vector for the given text.
func (l *LangChain) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := l.embedder.EmbedQuery(ctx, Truncate(text, MaxInputChars))
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return vec, nil
}
