package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the default number of embeddings held by CachedProvider.
const DefaultCacheSize = 1024

// CachedProvider wraps a Provider with an in-memory LRU cache keyed by the
// SHA-256 of the input text. Repeated embeds of the same content skip the
// network round trip.
type CachedProvider struct {
	inner Provider
	cache *lru.Cache[string, []float64]
}

// NewCachedProvider wraps the given provider with an LRU embedding cache.
//
// Parameters:
//   - inner: The provider that performs actual embedding generation
//   - size: Maximum number of cached embeddings; values <= 0 use DefaultCacheSize
//
// Returns:
//   - *CachedProvider: Caching provider instance
//   - error: Returns an error if the cache cannot be created
func NewCachedProvider(inner Provider, size int) (*CachedProvider, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, []float64](size)
	if err != nil {
		return nil, err
	}
	return &CachedProvider{inner: inner, cache: cache}, nil
}

// Embed returns the cached vector for text when present, otherwise delegates
// to the inner provider and caches the result.
func (c *CachedProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	key := cacheKey(text)
	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, vec)
	return vec, nil
}

// EmbedBatch embeds the given texts, serving cached entries where possible
// and sending only cache misses to the inner provider.
func (c *CachedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	results := make([][]float64, len(texts))
	var missing []string
	var missingIdx []int

	for i, text := range texts {
		if vec, ok := c.cache.Get(cacheKey(text)); ok {
			results[i] = vec
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}

	if len(missing) == 0 {
		return results, nil
	}

	fetched, err := c.inner.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}

	for j, vec := range fetched {
		i := missingIdx[j]
		results[i] = vec
		c.cache.Add(cacheKey(texts[i]), vec)
	}

	return results, nil
}

// Dimensions returns the dimensions of the inner provider.
func (c *CachedProvider) Dimensions() int {
	return c.inner.Dimensions()
}

// Close closes the inner provider and drops cached entries.
func (c *CachedProvider) Close() error {
	c.cache.Purge()
	return c.inner.Close()
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
