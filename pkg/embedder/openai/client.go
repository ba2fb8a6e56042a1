// Package openai provides the OpenAI implementation of the embedding
// provider. It also serves OpenAI-compatible endpoints via the BaseURL
// setting.
package openai

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

const defaultDimensions = 1536

// Client implements embedder.Provider on top of the OpenAI Embeddings
// API.
type Client struct {
	api        *openai.Client
	model      openai.EmbeddingModel
	dimensions int
}

// Config is the configuration for the OpenAI embedder.
type Config struct {
	// APIKey is the OpenAI API key (required).
	APIKey string

	// Model is the embedding model name. Defaults to
	// text-embedding-3-small.
	Model string

	// BaseURL overrides the official API address.
	BaseURL string

	// Dimensions is the vector dimensionality. Defaults to 1536.
	Dimensions int
}

// NewClient creates a new OpenAI embedder client.
//
// Parameters:
//   - cfg: Configuration containing APIKey, Model, BaseURL, Dimensions
//
// Returns:
//   - *Client: OpenAI embedder instance
//   - error: Error if the API key is missing
func NewClient(cfg *Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai embedder: API key is required")
	}

	sdkCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		sdkCfg.BaseURL = cfg.BaseURL
	}

	model := openai.EmbeddingModel(cfg.Model)
	if cfg.Model == "" {
		model = openai.SmallEmbedding3
	}

	dimensions := cfg.Dimensions
	if dimensions == 0 {
		dimensions = defaultDimensions
	}

	return &Client{
		api:        openai.NewClientWithConfig(sdkCfg),
		model:      model,
		dimensions: dimensions,
	}, nil
}

// Embed converts a single text to a vector.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      c.model,
		Dimensions: c.dimensions,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("no embedding data returned")
	}
	return toFloat64(resp.Data[0].Embedding), nil
}

// EmbedBatch converts multiple texts to vectors in one request. The
// output order matches the input order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      c.model,
		Dimensions: c.dimensions,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, expected %d", len(resp.Data), len(texts))
	}

	vectors := make([][]float64, len(texts))
	for i, item := range resp.Data {
		vectors[i] = toFloat64(item.Embedding)
	}
	return vectors, nil
}

// Dimensions returns the configured vector dimensionality.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Close closes the client. The SDK client holds no resources that need
// explicit teardown.
func (c *Client) Close() error {
	return nil
}

// toFloat64 widens the SDK's float32 vectors to the float64 the rest of
// the system works in.
func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}
