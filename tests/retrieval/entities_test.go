package retrieval_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/recallhq/recall-go/pkg/retrieval"
)

func TestExtractEntitiesMatchesVocabularyTerms(t *testing.T) {
	vocab := []string{"Go", "PostgreSQL", "Kubernetes"}

	entities := retrieval.ExtractEntities("does the user prefer go or kubernetes?", vocab)
	assert.Equal(t, []string{"Go", "Kubernetes"}, entities)
}

func TestExtractEntitiesIsCaseInsensitive(t *testing.T) {
	entities := retrieval.ExtractEntities("Tell me about POSTGRESQL", []string{"postgresql"})
	assert.Equal(t, []string{"postgresql"}, entities)
}

func TestExtractEntitiesRespectsWordBoundaries(t *testing.T) {
	// "go" inside "golang" or "cargo" is not a mention.
	entities := retrieval.ExtractEntities("cargo ships the golang binary", []string{"go"})
	assert.Empty(t, entities)

	entities = retrieval.ExtractEntities("we write go, not rust", []string{"go"})
	assert.Equal(t, []string{"go"}, entities)
}

func TestExtractEntitiesCapsResultCount(t *testing.T) {
	vocab := []string{"a1", "b2", "c3", "d4", "e5", "f6", "g7"}
	entities := retrieval.ExtractEntities("a1 b2 c3 d4 e5 f6 g7", vocab)
	assert.Len(t, entities, 5)
}

func TestExtractEntitiesEmptyInputs(t *testing.T) {
	assert.Empty(t, retrieval.ExtractEntities("", []string{"go"}))
	assert.Empty(t, retrieval.ExtractEntities("anything", nil))
	assert.Empty(t, retrieval.ExtractEntities("anything", []string{""}))
}
