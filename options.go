package recall

import "github.com/recallhq/recall-go/pkg/core"

// RememberOptions contains options for Client.Remember.
type RememberOptions struct {
	// Kind classifies the memory (default semantic).
	Kind core.MemoryKind

	// Metadata is attached to the stored record.
	Metadata map[string]interface{}
}

// RememberOption configures a Remember call.
type RememberOption func(*RememberOptions)

// WithKind sets the memory kind. Semantic and episodic memories are
// written synchronously; working memories go through the queue.
func WithKind(kind core.MemoryKind) RememberOption {
	return func(o *RememberOptions) { o.Kind = kind }
}

// WithMetadata attaches metadata to the stored record.
func WithMetadata(metadata map[string]interface{}) RememberOption {
	return func(o *RememberOptions) { o.Metadata = metadata }
}

// RecallOptions contains options for Client.Recall.
type RecallOptions struct {
	// TopK is the fused result count.
	TopK int

	// ScoreThreshold filters vector hits below this similarity.
	ScoreThreshold float64

	// Filters is matched exactly against vector payloads.
	Filters map[string]string
}

// RecallOption configures a Recall call.
type RecallOption func(*RecallOptions)

// WithTopK sets the fused result count.
func WithTopK(k int) RecallOption {
	return func(o *RecallOptions) { o.TopK = k }
}

// WithScoreThreshold sets the minimum vector similarity.
func WithScoreThreshold(t float64) RecallOption {
	return func(o *RecallOptions) { o.ScoreThreshold = t }
}

// WithFilters sets the vector payload filter.
func WithFilters(filters map[string]string) RecallOption {
	return func(o *RecallOptions) { o.Filters = filters }
}
