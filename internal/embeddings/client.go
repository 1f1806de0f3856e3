package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/mfenderov/doclens/internal/llm"
)

// dmrEmbeddingsPath is the Docker Model Runner embeddings endpoint.
const dmrEmbeddingsPath = "/exp/vDD4.40/engines/llama.cpp/v1/embeddings"

// Config holds embeddings client configuration.
type Config struct {
	SocketPath string // Unix socket path for Docker Model Runner
	BaseURL    string // OpenAI-compatible base URL, used when SocketPath is empty
	APIKey     string // Bearer token for BaseURL endpoints
	Model      string // Model name (e.g., "ai/embeddinggemma")
}

// Client wraps the Docker Model Runner embeddings API.
type Client struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	model      string
}

// New creates a new embeddings client.
func New(config Config) (*Client, error) {
	if config.SocketPath == "" && config.BaseURL == "" {
		return nil, fmt.Errorf("socket path or base URL is required")
	}
	if config.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	httpClient := &http.Client{}
	endpoint := strings.TrimSuffix(config.BaseURL, "/") + "/embeddings"

	if config.SocketPath != "" {
		socketPath := config.SocketPath
		httpClient.Transport = &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		}
		endpoint = "http://localhost" + dmrEmbeddingsPath
	}

	return &Client{
		httpClient: httpClient,
		endpoint:   endpoint,
		apiKey:     config.APIKey,
		model:      config.Model,
	}, nil
}

// embeddingRequest is the request payload for the embeddings API.
type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// embeddingResponse is the response from the embeddings API.
type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// MaxInputChars limits input to stay within model context window.
// qwen3-embedding supports ~24000 chars (~6000 tokens).
// Using 20000 for safety margin.
const MaxInputChars = 20000

// Embed generates an embedding vector for the given text.
// Text exceeding MaxInputChars is truncated from the end.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	originalLen := len(text)
	text = Truncate(text, MaxInputChars)
	slog.Debug("generating embedding", "original_len", originalLen, "truncated_len", len(text))

	req := embeddingRequest{Model: c.model, Input: text}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = errors.Join(llm.ErrTimeout, err)
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w (status %d)", llm.ErrRateLimited, resp.StatusCode)
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return nil, fmt.Errorf("%w (status %d)", llm.ErrTimeout, resp.StatusCode)
	default:
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var embResp embeddingResponse
	if err := json.Unmarshal(respBody, &embResp); err != nil {
		return nil, fmt.Errorf("%w: %v", llm.ErrInvalidResponse, err)
	}

	if embResp.Error != nil {
		return nil, fmt.Errorf("%w: %s", llm.ErrInvalidResponse, embResp.Error.Message)
	}

	if len(embResp.Data) == 0 {
		return nil, fmt.Errorf("%w: no embedding returned", llm.ErrInvalidResponse)
	}

	return embResp.Data[0].Embedding, nil
}

// Truncate cuts text to at most limit bytes without splitting a UTF-8 sequence.
func Truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return text[:limit]
}

// Dimensions returns the expected embedding dimensions for common models.
func Dimensions(model string) int {
	switch model {
	case "ai/embeddinggemma":
		return 768
	case "ai/snowflake-arctic-embed":
		return 1024
	case "ai/qwen3-embedding":
		return 2560
	case "text-embedding-3-small":
		return 1536
	case "text-embedding-3-large":
		return 3072
	default:
		return 768 // default assumption
	}
}
