// Package ollama provides the Ollama implementation of the
// text-generation provider, for local or self-hosted model serving.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/recallhq/recall-go/pkg/llm"
)

const (
	defaultBaseURL = "http://localhost:11434"
	defaultModel   = "llama3.1"

	// Large local models can take a while to answer.
	defaultTimeout = 120 * time.Second
)

// Client implements llm.Provider against an Ollama server's chat API.
type Client struct {
	http    *http.Client
	apiKey  string
	model   string
	baseURL string
}

// Config is the configuration for the Ollama provider.
type Config struct {
	// APIKey is optional; only authenticated remote deployments need it.
	APIKey string

	// Model is the model name. Defaults to "llama3.1".
	Model string

	// BaseURL is the server address. Defaults to "http://localhost:11434".
	BaseURL string

	// HTTPClient overrides the default client and its timeout.
	HTTPClient *http.Client
}

// chatRequest is the /api/chat request body. Ollama uses num_predict
// rather than max_tokens for the output budget.
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []llm.Message `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  chatOptions   `json:"options"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
}

type chatResponse struct {
	Message llm.Message `json:"message"`
}

// NewClient creates a new Ollama text-generation client.
func NewClient(cfg *Config) (*Client, error) {
	c := &Client{
		http:    cfg.HTTPClient,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		baseURL: cfg.BaseURL,
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.model == "" {
		c.model = defaultModel
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: defaultTimeout}
	}
	return c, nil
}

// Generate generates text from a single user prompt.
func (c *Client) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (string, error) {
	return c.GenerateWithMessages(ctx, []llm.Message{{Role: "user", Content: prompt}}, opts...)
}

// GenerateWithMessages generates text using message history.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (string, error) {
	options := llm.ApplyGenerateOptions(opts)

	body, err := json.Marshal(chatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   false,
		Options: chatOptions{
			Temperature: options.Temperature,
			NumPredict:  options.MaxTokens,
			TopP:        options.TopP,
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama chat returned status %d: %s", resp.StatusCode, string(detail))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if parsed.Message.Content == "" {
		return "", errors.New("empty response from ollama chat")
	}
	return parsed.Message.Content, nil
}

// Close closes the client. The HTTP client needs no explicit teardown.
func (c *Client) Close() error {
	return nil
}
