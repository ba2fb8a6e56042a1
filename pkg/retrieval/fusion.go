package retrieval

import "sort"

// Weights are the fixed per-source fusion weights. They do not need to
// sum to 1; relative magnitude is what matters.
type Weights struct {
	Vector float64
	Graph  float64
	Memory float64
}

// DefaultWeights favours vector similarity, then graph proximity, then
// literal memory matches.
func DefaultWeights() Weights {
	return Weights{Vector: 0.5, Graph: 0.3, Memory: 0.2}
}

func (w Weights) of(s Source) float64 {
	switch s {
	case SourceVector:
		return w.Vector
	case SourceGraph:
		return w.Graph
	case SourceMemory:
		return w.Memory
	}
	return 0
}

// Fuse merges per-source result lists into one ranking.
//
// Each unique document (keyed by DocID, unioned across sources) scores
//
//	fusionScore = Σ weight(source) × (1/(rank+1) + 0.5×score)
//
// over the sources it appears in, where rank is the 1-based position in
// that source's list. A document that is both highly ranked and
// corroborated by multiple sources therefore beats one found by a
// single source at the same rank. Output is sorted by fusion score
// descending (DocID ascending on ties, so ordering is deterministic)
// and truncated to topK.
func Fuse(vector, graph, memory []Result, weights Weights, topK int) []FusedResult {
	fused := make(map[string]*FusedResult)

	accumulate := func(results []Result, source Source) {
		weight := weights.of(source)
		for i, r := range results {
			rank := i + 1
			contribution := weight * (1.0/float64(rank+1) + 0.5*r.Score)

			entry, ok := fused[r.DocID]
			if !ok {
				entry = &FusedResult{Result: r}
				fused[r.DocID] = entry
			}
			entry.FusionScore += contribution
			entry.Sources = append(entry.Sources, source)
		}
	}

	// Vector first so the representative content of a shared DocID comes
	// from the highest-weight source.
	accumulate(vector, SourceVector)
	accumulate(graph, SourceGraph)
	accumulate(memory, SourceMemory)

	out := make([]FusedResult, 0, len(fused))
	for _, entry := range fused {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FusionScore != out[j].FusionScore {
			return out[i].FusionScore > out[j].FusionScore
		}
		return out[i].DocID < out[j].DocID
	})

	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}
