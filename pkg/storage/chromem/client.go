// Package chromem provides the vector index adapter backed by
// chromem-go, a pure Go embedded vector database.
//
// One chromem collection exists per scope. Collections are created
// lazily on first upsert and the database can be persisted to disk.
package chromem

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/recallhq/recall-go/pkg/storage"
)

// Client implements storage.VectorIndex using chromem-go.
type Client struct {
	db *chromem.DB

	// collections caches per-scope collection handles.
	collections map[string]*chromem.Collection
	mu          sync.RWMutex
}

// Config contains configuration for creating a chromem vector index.
type Config struct {
	// Path is the on-disk storage directory. If empty, the index is
	// held in memory only.
	Path string

	// Compress enables gzip compression for persisted collections.
	Compress bool
}

// NewClient creates a new chromem vector index client.
//
// Parameters:
//   - cfg: Configuration; a nil config yields an in-memory index
//
// Returns:
//   - *Client: The chromem client instance
//   - error: Error if the persistent database cannot be opened
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	var db *chromem.DB
	var err error
	if cfg.Path != "" {
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("NewChromemClient: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	return &Client{
		db:          db,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

// getOrCreateCollection returns the collection for a scope, creating it
// if needed.
func (c *Client) getOrCreateCollection(name string) (*chromem.Collection, error) {
	c.mu.RLock()
	col, ok := c.collections[name]
	c.mu.RUnlock()
	if ok {
		return col, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock
	if col, ok := c.collections[name]; ok {
		return col, nil
	}

	// Embeddings are always provided by the caller, so no embedding
	// function is configured.
	col, err := c.db.GetOrCreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection %q: %w", name, err)
	}

	c.collections[name] = col
	return col, nil
}

// Upsert inserts or replaces a vector document in a collection.
func (c *Client) Upsert(ctx context.Context, collection, id string, vector []float64, content string, payload map[string]string) error {
	col, err := c.getOrCreateCollection(collection)
	if err != nil {
		return err
	}

	doc := chromem.Document{
		ID:        id,
		Content:   content,
		Embedding: toFloat32(vector),
		Metadata:  payload,
	}

	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("Upsert: %w", err)
	}

	return nil
}

// Search performs similarity search over a collection.
//
// A missing collection yields an empty result rather than an error, so
// a scope that has never seen a write degrades cleanly.
func (c *Client) Search(ctx context.Context, collection string, vector []float64, topK int, scoreThreshold float64, filter map[string]string) ([]storage.VectorHit, error) {
	c.mu.RLock()
	col, ok := c.collections[collection]
	c.mu.RUnlock()
	if !ok {
		if col = c.db.GetCollection(collection, nil); col == nil {
			return nil, nil
		}
		c.mu.Lock()
		c.collections[collection] = col
		c.mu.Unlock()
	}

	// chromem requires nResults <= collection size.
	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	if topK > count {
		topK = count
	}
	if topK <= 0 {
		topK = 1
	}

	results, err := col.QueryEmbedding(ctx, toFloat32(vector), topK, filter, nil)
	if err != nil {
		return nil, fmt.Errorf("Search: %w", err)
	}

	hits := make([]storage.VectorHit, 0, len(results))
	for _, r := range results {
		score := float64(r.Similarity)
		if score < scoreThreshold {
			continue
		}
		hits = append(hits, storage.VectorHit{
			ID:      r.ID,
			Score:   score,
			Payload: r.Metadata,
			Content: r.Content,
		})
	}

	return hits, nil
}

// Delete removes a vector document from a collection.
func (c *Client) Delete(ctx context.Context, collection, id string) error {
	c.mu.RLock()
	col, ok := c.collections[collection]
	c.mu.RUnlock()
	if !ok {
		if col = c.db.GetCollection(collection, nil); col == nil {
			return nil
		}
	}

	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("Delete: %w", err)
	}

	return nil
}

// Close closes the index. The in-memory database needs no teardown;
// persistent collections are flushed on write.
func (c *Client) Close() error {
	return nil
}

// toFloat32 converts a float64 vector to chromem's float32 format.
func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
