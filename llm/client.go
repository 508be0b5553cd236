package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// maxResponseSize caps completion responses at 10MB.
const maxResponseSize = 10 * 1024 * 1024

// Config configures the client.
type Config struct {
	// Endpoint is the OpenAI-compatible API base URL.
	Endpoint string
	// Model is the model identifier.
	Model string
	// APIKey authenticates requests. Empty means no Authorization header.
	APIKey string
	// Temperature controls randomness.
	Temperature float64
	// MaxOutputTokens limits response length.
	MaxOutputTokens int
	// Timeout bounds a single completion request.
	Timeout time.Duration
}

// Client calls an OpenAI-compatible chat completions endpoint.
type Client struct {
	config Config
	client *http.Client
	logger *slog.Logger
	retry  RetryConfig
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient replaces the HTTP client, primarily for tests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

// WithRetryConfig replaces the retry configuration.
func WithRetryConfig(retry RetryConfig) Option {
	return func(c *Client) {
		c.retry = retry
	}
}

// NewClient creates a Client.
func NewClient(config Config, opts ...Option) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}

	c := &Client{
		config: config,
		logger: slog.Default(),
		retry:  DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.client == nil {
		c.client = &http.Client{Timeout: config.Timeout}
	}
	return c
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Usage reports token consumption of the last completed call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Complete sends a system+user message pair and returns the raw assistant
// reply. Transient failures are retried with jittered exponential backoff.
func (c *Client) Complete(ctx context.Context, system, user string) (string, Usage, error) {
	var content string
	var usage Usage

	err := withRetries(ctx, c.retry, func() error {
		var err error
		content, usage, err = c.complete(ctx, system, user)
		return err
	})
	return content, usage, err
}

func (c *Client) complete(ctx context.Context, system, user string) (string, Usage, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: c.config.Temperature,
		MaxTokens:   c.config.MaxOutputTokens,
	})
	if err != nil {
		return "", Usage{}, Fatal(fmt.Errorf("marshal request: %w", err))
	}

	url := strings.TrimSuffix(c.config.Endpoint, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", Usage{}, Fatal(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", Usage{}, Transient(fmt.Errorf("call completions endpoint: %w", err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", Usage{}, Transient(fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", Usage{}, Transient(fmt.Errorf("completions endpoint returned %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return "", Usage{}, Fatal(fmt.Errorf("completions endpoint returned %d: %s", resp.StatusCode, truncate(string(data), 200)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", Usage{}, Transient(fmt.Errorf("parse response: %w", err))
	}
	if parsed.Error != nil {
		return "", Usage{}, Fatal(fmt.Errorf("completions error: %s", parsed.Error.Message))
	}
	if len(parsed.Choices) == 0 {
		return "", Usage{}, Transient(fmt.Errorf("empty choices in response"))
	}

	usage := Usage{
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
	}
	return parsed.Choices[0].Message.Content, usage, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// extractJSON pulls a JSON payload out of a model reply, handling fenced
// code blocks and surrounding prose.
func extractJSON(content string) string {
	content = strings.TrimSpace(content)

	if idx := strings.Index(content, "```json"); idx != -1 {
		rest := content[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end != -1 {
			return strings.TrimSpace(rest[:end])
		}
	}
	if idx := strings.Index(content, "```"); idx != -1 {
		rest := content[idx+3:]
		if end := strings.Index(rest, "```"); end != -1 {
			return strings.TrimSpace(rest[:end])
		}
	}

	for _, open := range []string{"{", "["} {
		start := strings.Index(content, open)
		if start == -1 {
			continue
		}
		closeCh := "}"
		if open == "[" {
			closeCh = "]"
		}
		if end := strings.LastIndex(content, closeCh); end > start {
			return content[start : end+1]
		}
	}
	return content
}
