// Package embedder provides the embedding provider contract.
//
// Embedding generation is an external service with fixed dimensionality
// per deployment: callers hand over text and get back a float vector.
package embedder

import "context"

// Provider defines the interface for embedding providers.
type Provider interface {
	// Embed converts a text string into a vector embedding.
	Embed(ctx context.Context, text string) ([]float64, error)

	// EmbedBatch converts multiple text strings into vector embeddings.
	//
	// This is more efficient than calling Embed repeatedly, as requests
	// are batched. The returned slice matches the input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)

	// Dimensions returns the dimension of embedding vectors produced by
	// this provider.
	Dimensions() int

	// Close closes the provider and releases resources.
	Close() error
}
