package embedder_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallhq/recall-go/pkg/embedder"
)

// countingProvider returns a deterministic vector per text and counts
// how many texts actually reach it.
type countingProvider struct {
	mu       sync.Mutex
	embedded []string
	err      error
	closed   bool
}

func (p *countingProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (p *countingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	out := make([][]float64, len(texts))
	for i, text := range texts {
		p.embedded = append(p.embedded, text)
		out[i] = []float64{float64(len(text)), 1}
	}
	return out, nil
}

func (p *countingProvider) Dimensions() int { return 2 }

func (p *countingProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *countingProvider) calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.embedded...)
}

func TestEmbedCachesRepeatedText(t *testing.T) {
	inner := &countingProvider{}
	cached, err := embedder.NewCachedProvider(inner, 16)
	require.NoError(t, err)

	ctx := context.Background()
	first, err := cached.Embed(ctx, "redis runs on port 6379")
	require.NoError(t, err)

	second, err := cached.Embed(ctx, "redis runs on port 6379")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, inner.calls(), 1)
}

func TestEmbedDistinctTextsMiss(t *testing.T) {
	inner := &countingProvider{}
	cached, err := embedder.NewCachedProvider(inner, 16)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = cached.Embed(ctx, "first")
	require.NoError(t, err)
	_, err = cached.Embed(ctx, "second")
	require.NoError(t, err)

	assert.Equal(t, []string{"first", "second"}, inner.calls())
}

func TestEmbedBatchFetchesOnlyMisses(t *testing.T) {
	inner := &countingProvider{}
	cached, err := embedder.NewCachedProvider(inner, 16)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = cached.Embed(ctx, "b")
	require.NoError(t, err)

	vecs, err := cached.EmbedBatch(ctx, []string{"aa", "b", "ccc"})
	require.NoError(t, err)

	// Output order matches input order, cached or not.
	require.Len(t, vecs, 3)
	assert.Equal(t, []float64{2, 1}, vecs[0])
	assert.Equal(t, []float64{1, 1}, vecs[1])
	assert.Equal(t, []float64{3, 1}, vecs[2])

	// Only the two misses reached the inner provider.
	assert.Equal(t, []string{"b", "aa", "ccc"}, inner.calls())
}

func TestEmbedBatchAllHitsSkipsInnerProvider(t *testing.T) {
	inner := &countingProvider{}
	cached, err := embedder.NewCachedProvider(inner, 16)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = cached.EmbedBatch(ctx, []string{"x", "y"})
	require.NoError(t, err)

	before := len(inner.calls())
	_, err = cached.EmbedBatch(ctx, []string{"x", "y"})
	require.NoError(t, err)
	assert.Len(t, inner.calls(), before)
}

func TestEmbedErrorIsNotCached(t *testing.T) {
	inner := &countingProvider{err: errors.New("embedding service down")}
	cached, err := embedder.NewCachedProvider(inner, 16)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = cached.Embed(ctx, "text")
	require.Error(t, err)

	inner.err = nil
	vec, err := cached.Embed(ctx, "text")
	require.NoError(t, err)
	assert.NotEmpty(t, vec)
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	inner := &countingProvider{}
	cached, err := embedder.NewCachedProvider(inner, 2)
	require.NoError(t, err)

	ctx := context.Background()
	for _, text := range []string{"one", "two", "three"} {
		_, err = cached.Embed(ctx, text)
		require.NoError(t, err)
	}

	// "one" was evicted by "three" and must be fetched again.
	_, err = cached.Embed(ctx, "one")
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two", "three", "one"}, inner.calls())
}

func TestZeroSizeUsesDefault(t *testing.T) {
	inner := &countingProvider{}
	cached, err := embedder.NewCachedProvider(inner, 0)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 100; i++ {
		_, err = cached.Embed(ctx, fmt.Sprintf("text %d", i))
		require.NoError(t, err)
	}
	// Well under DefaultCacheSize, so everything stays cached.
	before := len(inner.calls())
	for i := 0; i < 100; i++ {
		_, err = cached.Embed(ctx, fmt.Sprintf("text %d", i))
		require.NoError(t, err)
	}
	assert.Len(t, inner.calls(), before)
}

func TestDimensionsAndCloseDelegate(t *testing.T) {
	inner := &countingProvider{}
	cached, err := embedder.NewCachedProvider(inner, 4)
	require.NoError(t, err)

	assert.Equal(t, 2, cached.Dimensions())
	require.NoError(t, cached.Close())
	assert.True(t, inner.closed)
}
