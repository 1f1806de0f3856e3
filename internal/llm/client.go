package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

// dmrChatPath is the Docker Model Runner chat completions endpoint.
const dmrChatPath = "/exp/vDD4.40/engines/llama.cpp/v1/chat/completions"

// Config holds LLM client configuration.
type Config struct {
	SocketPath string        // Unix socket path for Docker Model Runner
	BaseURL    string        // OpenAI-compatible base URL, used when SocketPath is empty
	APIKey     string        // Bearer token for BaseURL endpoints
	Model      string        // Model name (e.g., "ai/gemma3")
	Timeout    time.Duration // Transport timeout; per-call deadlines come from the context
}

// Constraints shape a single completion.
type Constraints struct {
	System      string  // system prompt
	Temperature float64 // 0 keeps output deterministic
	MaxTokens   int     // 0 for no limit
	JSON        bool    // ask for a JSON object response
}

// Client wraps an OpenAI-compatible chat completions API, by default the
// Docker Model Runner reached over a unix socket.
type Client struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	model      string
}

// New creates a new LLM client.
func New(config Config) (*Client, error) {
	if config.SocketPath == "" && config.BaseURL == "" {
		return nil, fmt.Errorf("socket path or base URL is required")
	}
	if config.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	httpClient := &http.Client{Timeout: config.Timeout}
	endpoint := strings.TrimSuffix(config.BaseURL, "/") + "/chat/completions"

	if config.SocketPath != "" {
		socketPath := config.SocketPath
		httpClient.Transport = &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		}
		endpoint = "http://localhost" + dmrChatPath
	}

	return &Client{
		httpClient: httpClient,
		endpoint:   endpoint,
		apiKey:     config.APIKey,
		model:      config.Model,
	}, nil
}

// chatRequest is the request payload for the chat completions API.
type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    *float64        `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

// chatResponse is the response from the chat completions API.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// Complete sends a prompt to the LLM and returns the trimmed response text.
func (c *Client) Complete(ctx context.Context, prompt string, cons Constraints) (string, error) {
	req := chatRequest{
		Model:     c.model,
		MaxTokens: cons.MaxTokens,
	}
	if cons.System != "" {
		req.Messages = append(req.Messages, chatMessage{Role: "system", Content: cons.System})
	}
	req.Messages = append(req.Messages, chatMessage{Role: "user", Content: prompt})
	temp := cons.Temperature
	req.Temperature = &temp
	if cons.JSON {
		req.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	slog.Debug("llm completion", "model", c.model, "prompt_len", len(prompt), "json", cons.JSON)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", transportError(err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", transportError(err))
	}

	if resp.StatusCode != http.StatusOK {
		if sentinel := statusError(resp.StatusCode); sentinel != nil {
			return "", fmt.Errorf("%w (status %d)", sentinel, resp.StatusCode)
		}
		return "", fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	if chatResp.Error != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidResponse, chatResp.Error.Message)
	}

	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", ErrInvalidResponse)
	}

	return strings.TrimSpace(chatResp.Choices[0].Message.Content), nil
}

// StripCodeFence removes a surrounding markdown code fence from model output.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	if end := strings.LastIndex(s, "```"); end >= 0 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}
