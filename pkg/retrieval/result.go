// Package retrieval implements the hybrid retrieval engine: a query
// fans out to the vector index, the graph store, and the scope's file
// memory, and the three ranked lists are fused into one by weighted
// rank-and-score fusion.
package retrieval

import "time"

// Source identifies which lookup produced a result.
type Source string

const (
	SourceVector Source = "vector"
	SourceGraph  Source = "graph"
	SourceMemory Source = "memory"
)

// Result is one scored hit from a single source.
type Result struct {
	// DocID uniquely identifies the document within the scope.
	DocID string `json:"doc_id"`

	// Content is the matched text.
	Content string `json:"content"`

	// Score is the source-local relevance score in [0, 1].
	Score float64 `json:"score"`

	// Source names the lookup that produced this hit.
	Source Source `json:"source"`

	// Metadata carries source-specific detail.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// FusedResult is a result after cross-source fusion. A document found
// by several sources carries one FusedResult with all contributing
// sources listed.
type FusedResult struct {
	Result

	// FusionScore is the combined weighted rank-and-score value.
	FusionScore float64 `json:"fusion_score"`

	// Sources lists every source that returned this document.
	Sources []Source `json:"sources"`
}

// HybridResult is the full outcome of one retrieval: the three
// per-source lists plus the fused ranking.
type HybridResult struct {
	// VectorResults are the similarity hits (up to 2x topK).
	VectorResults []Result `json:"vector_results"`

	// GraphResults are the 1-hop neighbor hits.
	GraphResults []Result `json:"graph_results"`

	// MemoryResults are the scope-memory substring hits.
	MemoryResults []Result `json:"memory_results"`

	// FusedResults is the combined ranking, truncated to topK.
	FusedResults []FusedResult `json:"fused_results"`

	// Elapsed is the wall time of the whole retrieval.
	Elapsed time.Duration `json:"elapsed"`
}
