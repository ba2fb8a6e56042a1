package retrieval

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/recallhq/recall-go/pkg/core"
	"github.com/recallhq/recall-go/pkg/embedder"
	"github.com/recallhq/recall-go/pkg/memorybank"
	"github.com/recallhq/recall-go/pkg/storage"
)

const (
	// DefaultTopK is the fused result count when no option is given.
	DefaultTopK = 5

	// DefaultSourceTimeout bounds each individual source lookup.
	DefaultSourceTimeout = 10 * time.Second

	// graphNeighborLimit caps neighbors fetched per extracted entity.
	graphNeighborLimit = 10

	// memoryJournalWindow is how many recent journal entries the memory
	// source scans for substring matches.
	memoryJournalWindow = 5
)

// Fixed memory-source scores. The memory source has no similarity
// metric, so match classes carry fixed relevance.
const (
	summaryMatchScore = 0.9
	conceptMatchScore = 0.7
	journalMatchScore = 0.5
)

// neighborQuery ranks each 1-hop neighbor of an entity node by the
// neighbor's own connection count.
const neighborQuery = `MATCH (e {name: $name})--(n) WITH DISTINCT n MATCH (n)--(m) WITH n, count(m) AS degree RETURN n.name AS name, n.content AS content, degree ORDER BY degree DESC LIMIT $limit`

// Engine answers queries by fanning out to three sources concurrently
// and fusing the results.
//
// A failing or timed-out source degrades to an empty list for that
// source rather than failing the whole retrieval; the fused result is
// computed from whatever succeeded.
type Engine struct {
	embedder embedder.Provider
	vectors  storage.VectorIndex
	graph    storage.GraphStore
	bank     *memorybank.Bank

	weights       Weights
	vocabulary    []string
	sourceTimeout time.Duration
	logger        zerolog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithWeights overrides the per-source fusion weights.
func WithWeights(w Weights) EngineOption {
	return func(e *Engine) { e.weights = w }
}

// WithVocabulary sets the fixed entity vocabulary used for graph
// expansion. Without one, the scope's concept names are used.
func WithVocabulary(terms []string) EngineOption {
	return func(e *Engine) { e.vocabulary = terms }
}

// WithSourceTimeout sets the per-source lookup timeout.
func WithSourceTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.sourceTimeout = d
		}
	}
}

// WithEngineLogger sets the structured logger.
func WithEngineLogger(logger zerolog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates a hybrid retrieval engine.
//
// Parameters:
//   - emb: Embedding provider for query vectorization
//   - vectors: Vector index adapter (similarity source)
//   - graph: Graph store adapter (1-hop neighbor source)
//   - bank: Memory bank (scope-memory substring source)
//   - opts: Optional settings (weights, vocabulary, timeout, logger)
//
// Returns:
//   - *Engine: The engine instance
//   - error: Returns an error if a required dependency is missing
func NewEngine(emb embedder.Provider, vectors storage.VectorIndex, graph storage.GraphStore, bank *memorybank.Bank, opts ...EngineOption) (*Engine, error) {
	if emb == nil || vectors == nil || bank == nil {
		return nil, core.NewError("retrieval.new", fmt.Errorf("%w: embedder, vector index, and memory bank are required", core.ErrInvalidConfig))
	}

	e := &Engine{
		embedder:      emb,
		vectors:       vectors,
		graph:         graph,
		bank:          bank,
		weights:       DefaultWeights(),
		sourceTimeout: DefaultSourceTimeout,
		logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// RetrieveOptions holds per-call retrieval settings.
type RetrieveOptions struct {
	// TopK is the fused result count (default DefaultTopK).
	TopK int

	// ScoreThreshold filters vector hits below this similarity.
	ScoreThreshold float64

	// Filters is matched exactly against vector payloads.
	Filters map[string]string
}

// RetrieveOption configures one Retrieve call.
type RetrieveOption func(*RetrieveOptions)

// WithTopK sets the fused result count.
func WithTopK(k int) RetrieveOption {
	return func(o *RetrieveOptions) {
		if k > 0 {
			o.TopK = k
		}
	}
}

// WithScoreThreshold sets the minimum vector similarity.
func WithScoreThreshold(t float64) RetrieveOption {
	return func(o *RetrieveOptions) { o.ScoreThreshold = t }
}

// WithFilters sets the vector payload filter.
func WithFilters(filters map[string]string) RetrieveOption {
	return func(o *RetrieveOptions) { o.Filters = filters }
}

// Retrieve answers a query for one scope.
//
// The query is embedded, then the vector, graph, and memory sources run
// concurrently and join before fusion. The vector source searches with
// limit 2×topK so fusion has extra candidates to promote.
//
// Parameters:
//   - ctx: Context for the whole retrieval
//   - query: Free-text query (must be non-empty)
//   - scope: The (owner, project) scope to search
//   - opts: Optional settings (top K, score threshold, filters)
//
// Returns:
//   - *HybridResult: Per-source lists plus the fused ranking
//   - error: ErrValidation for bad input; source failures degrade
//     instead of erroring
func (e *Engine) Retrieve(ctx context.Context, query string, scope core.Scope, opts ...RetrieveOption) (*HybridResult, error) {
	const op = "retrieval.retrieve"
	started := time.Now()

	if strings.TrimSpace(query) == "" {
		return nil, core.NewError(op, fmt.Errorf("%w: empty query", core.ErrValidation))
	}
	if scope.IsZero() {
		return nil, core.NewError(op, fmt.Errorf("%w: scope has no owner", core.ErrValidation))
	}

	options := &RetrieveOptions{TopK: DefaultTopK}
	for _, opt := range opts {
		opt(options)
	}

	queryVector := e.embedQuery(ctx, query)

	result := &HybridResult{}
	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		result.VectorResults = e.vectorSource(ctx, scope, queryVector, options)
	}()
	go func() {
		defer wg.Done()
		result.GraphResults = e.graphSource(ctx, scope, query)
	}()
	go func() {
		defer wg.Done()
		result.MemoryResults = e.memorySource(ctx, scope, query)
	}()
	wg.Wait()

	result.FusedResults = Fuse(result.VectorResults, result.GraphResults, result.MemoryResults, e.weights, options.TopK)
	result.Elapsed = time.Since(started)
	return result, nil
}

// embedQuery vectorizes the query. Failure returns nil, which degrades
// the vector source to an empty list.
func (e *Engine) embedQuery(ctx context.Context, query string) []float64 {
	ectx, cancel := context.WithTimeout(ctx, e.sourceTimeout)
	defer cancel()

	vector, err := e.embedder.Embed(ectx, query)
	if err != nil {
		e.logger.Warn().Err(err).Msg("query embedding failed, vector source degraded")
		return nil
	}
	return vector
}

func (e *Engine) vectorSource(ctx context.Context, scope core.Scope, vector []float64, options *RetrieveOptions) []Result {
	if len(vector) == 0 {
		return nil
	}

	sctx, cancel := context.WithTimeout(ctx, e.sourceTimeout)
	defer cancel()

	hits, err := e.vectors.Search(sctx, scope.Key(), vector, 2*options.TopK, options.ScoreThreshold, options.Filters)
	if err != nil {
		e.logger.Warn().Err(err).Str("scope", scope.Key()).Msg("vector source failed")
		return nil
	}

	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		results = append(results, Result{
			DocID:    hit.ID,
			Content:  hit.Content,
			Score:    hit.Score,
			Source:   SourceVector,
			Metadata: hit.Payload,
		})
	}
	return results
}

// graphSource extracts entity names from the query and expands each to
// its 1-hop neighbors, ranked by neighbor connection count. A failing
// entity lookup is skipped; hits from the other entities survive.
func (e *Engine) graphSource(ctx context.Context, scope core.Scope, query string) []Result {
	if e.graph == nil {
		return nil
	}

	sctx, cancel := context.WithTimeout(ctx, e.sourceTimeout)
	defer cancel()

	entities := ExtractEntities(query, e.entityVocabulary(sctx, scope))
	if len(entities) == 0 {
		return nil
	}

	var results []Result
	seen := make(map[string]bool)
	for _, entity := range entities {
		rows, err := e.graph.Query(sctx, neighborQuery, map[string]interface{}{
			"name":  entity,
			"limit": graphNeighborLimit,
		})
		if err != nil {
			e.logger.Warn().Err(err).Str("entity", entity).Msg("graph lookup failed for entity")
			continue
		}

		for _, row := range rows {
			name, _ := row["name"].(string)
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true

			content, _ := row["content"].(string)
			degree := numericValue(row["degree"])
			results = append(results, Result{
				DocID:    graphDocID(name),
				Content:  content,
				Score:    degree / (degree + 1),
				Source:   SourceGraph,
				Metadata: map[string]string{"entity": entity, "node": name},
			})
		}
	}
	return results
}

// memorySource scans the scope's summary, concept names, and recent
// journal entries for literal substring matches.
func (e *Engine) memorySource(ctx context.Context, scope core.Scope, query string) []Result {
	sctx, cancel := context.WithTimeout(ctx, e.sourceTimeout)
	defer cancel()

	snapshot, err := e.bank.Snapshot(sctx, scope)
	if err != nil {
		e.logger.Warn().Err(err).Str("scope", scope.Key()).Msg("memory source failed")
		return nil
	}

	lowered := strings.ToLower(query)
	var results []Result

	if snapshot.Summary != "" && matchesQuery(snapshot.Summary, lowered) {
		results = append(results, Result{
			DocID:   "summary:" + scope.Key(),
			Content: snapshot.Summary,
			Score:   summaryMatchScore,
			Source:  SourceMemory,
		})
	}

	for _, concept := range snapshot.Concepts {
		if strings.Contains(lowered, strings.ToLower(concept.Name)) {
			results = append(results, Result{
				DocID:   "concept:" + concept.Name,
				Content: conceptContent(concept),
				Score:   conceptMatchScore,
				Source:  SourceMemory,
				Metadata: map[string]string{
					"category":  concept.Category,
					"frequency": fmt.Sprintf("%d", concept.Frequency),
				},
			})
		}
	}

	journal := snapshot.RecentJournal
	if len(journal) > memoryJournalWindow {
		journal = journal[len(journal)-memoryJournalWindow:]
	}
	for _, entry := range journal {
		if matchesQuery(entry.Content, lowered) {
			results = append(results, Result{
				DocID:    "journal:" + entry.Timestamp.UTC().Format(time.RFC3339Nano),
				Content:  entry.Content,
				Score:    journalMatchScore,
				Source:   SourceMemory,
				Metadata: map[string]string{"event_type": string(entry.EventType)},
			})
		}
	}
	return results
}

// entityVocabulary returns the configured vocabulary, or the scope's
// concept names when none was configured.
func (e *Engine) entityVocabulary(ctx context.Context, scope core.Scope) []string {
	if len(e.vocabulary) > 0 {
		return e.vocabulary
	}

	concepts, err := e.bank.SearchConcepts(ctx, scope, "", "")
	if err != nil {
		e.logger.Debug().Err(err).Str("scope", scope.Key()).Msg("concept vocabulary unavailable")
		return nil
	}
	names := make([]string, 0, len(concepts))
	for _, c := range concepts {
		names = append(names, c.Name)
	}
	return names
}

// matchesQuery reports whether any query word of length >= 3 appears in
// the text. Whole-query containment also counts.
func matchesQuery(text, loweredQuery string) bool {
	loweredText := strings.ToLower(text)
	if strings.Contains(loweredText, loweredQuery) {
		return true
	}
	for _, word := range strings.Fields(loweredQuery) {
		if len(word) >= 3 && strings.Contains(loweredText, word) {
			return true
		}
	}
	return false
}

func conceptContent(c core.ConceptEntry) string {
	if c.Description != "" {
		return c.Name + ": " + c.Description
	}
	return c.Name
}

// graphDocID aligns Memory nodes with their vector/record identifiers
// so fusion can corroborate across sources.
func graphDocID(nodeName string) string {
	if strings.HasPrefix(nodeName, "memory-") {
		return strings.TrimPrefix(nodeName, "memory-")
	}
	return nodeName
}

func numericValue(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}
