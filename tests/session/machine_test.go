package session_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallhq/recall-go/pkg/coordinator"
	"github.com/recallhq/recall-go/pkg/core"
	"github.com/recallhq/recall-go/pkg/llm"
	"github.com/recallhq/recall-go/pkg/memorybank"
	"github.com/recallhq/recall-go/pkg/retrieval"
	"github.com/recallhq/recall-go/pkg/session"
	"github.com/recallhq/recall-go/pkg/storage"
	"github.com/recallhq/recall-go/pkg/storage/filelog"
)

// scriptedLLM routes calls by the system prompt so one fake serves the
// perceive, reason, and extract nodes.
type scriptedLLM struct {
	perceiveResponse string
	extractResponse  string
	answer           string
	answerErr        error
}

func (s *scriptedLLM) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (string, error) {
	if s.answerErr != nil {
		return "", s.answerErr
	}
	return s.answer, nil
}

func (s *scriptedLLM) GenerateWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (string, error) {
	if len(messages) > 0 {
		system := messages[0].Content
		if strings.Contains(system, "classify") {
			return s.perceiveResponse, nil
		}
		if strings.Contains(system, "extract") {
			return s.extractResponse, nil
		}
	}
	return s.answer, s.answerErr
}

func (s *scriptedLLM) Close() error { return nil }

type staticEmbedder struct{}

func (staticEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	return []float64{0.1, 0.2, 0.3}, nil
}

func (staticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = []float64{0.1, 0.2, 0.3}
	}
	return out, nil
}

func (staticEmbedder) Dimensions() int { return 3 }
func (staticEmbedder) Close() error    { return nil }

type captureTarget struct {
	mu      sync.Mutex
	records []*storage.Record
	kinds   []string
}

func (c *captureTarget) target() coordinator.Target {
	return coordinator.Target{
		Name: storage.TargetRecordStore,
		Apply: func(ctx context.Context, op *coordinator.Operation) error {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.records = append(c.records, op.Records...)
			for _, rec := range op.Records {
				c.kinds = append(c.kinds, rec.Kind)
			}
			return nil
		},
		Compensate: func(ctx context.Context, op *coordinator.Operation) error { return nil },
	}
}

func (c *captureTarget) storedKinds() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.kinds...)
}

type stubVectorIndex struct {
	hits []storage.VectorHit
}

func (s *stubVectorIndex) Upsert(ctx context.Context, collection, id string, vector []float64, content string, payload map[string]string) error {
	return nil
}

func (s *stubVectorIndex) Search(ctx context.Context, collection string, vector []float64, topK int, scoreThreshold float64, filter map[string]string) ([]storage.VectorHit, error) {
	if len(s.hits) > topK {
		return s.hits[:topK], nil
	}
	return s.hits, nil
}

func (s *stubVectorIndex) Delete(ctx context.Context, collection, id string) error { return nil }
func (s *stubVectorIndex) Close() error                                            { return nil }

type machineDeps struct {
	machine *session.Machine
	bank    *memorybank.Bank
	target  *captureTarget
}

func newMachine(t *testing.T, provider llm.Provider, opts ...session.MachineOption) *machineDeps {
	t.Helper()

	files, err := filelog.NewClient(t.TempDir())
	require.NoError(t, err)
	bank := memorybank.New(files, provider)

	target := &captureTarget{}
	coord, err := coordinator.New([]coordinator.Target{target.target()},
		coordinator.WithRetryDelay(5*time.Millisecond))
	require.NoError(t, err)
	coord.Start(context.Background())
	t.Cleanup(func() { _ = coord.Close() })

	vectors := &stubVectorIndex{hits: []storage.VectorHit{
		{ID: "1", Content: "we use PostgreSQL", Score: 0.9},
		{ID: "2", Content: "the cache is redis", Score: 0.6},
	}}
	engine, err := retrieval.NewEngine(staticEmbedder{}, vectors, nil, bank)
	require.NoError(t, err)

	machine, err := session.NewMachine(coord, engine, bank, provider, staticEmbedder{}, opts...)
	require.NoError(t, err)

	return &machineDeps{machine: machine, bank: bank, target: target}
}

func newSessionState(t *testing.T, deps *machineDeps) *session.State {
	t.Helper()
	scope := core.Scope{OwnerID: "user_001", ProjectID: "proj_a"}
	require.NoError(t, deps.bank.Initialize(context.Background(), scope))
	return session.NewState(scope)
}

func TestQueryTurnRunsAllNodes(t *testing.T) {
	provider := &scriptedLLM{
		perceiveResponse: `{"intent": "query", "entities": ["PostgreSQL"]}`,
		extractResponse:  `{"concepts": [{"name": "PostgreSQL", "category": "technology", "confidence": 0.9}]}`,
		answer:           "You use PostgreSQL as the primary database.",
	}
	deps := newMachine(t, provider)
	state := newSessionState(t, deps)

	response, err := deps.machine.Run(context.Background(), state, "What database do we use?")
	require.NoError(t, err)

	assert.Equal(t, "You use PostgreSQL as the primary database.", response)
	assert.Equal(t, session.StatusCompleted, state.Status)
	assert.Empty(t, state.LastError)

	// Retrieval ran and its result is attached.
	require.NotNil(t, state.Retrieval)
	assert.NotEmpty(t, state.Retrieval.FusedResults)

	// The transcript carries both sides of the turn.
	require.Len(t, state.Messages, 2)
	assert.Equal(t, session.RoleAssistant, state.Messages[1].Role)

	// The turn was persisted as an episodic memory.
	assert.Contains(t, deps.target.storedKinds(), "episodic")

	// Memory was folded back: context and concepts updated, snapshot
	// refreshed onto the state.
	require.NotNil(t, state.Memory)
	assert.Contains(t, state.Memory.Context, "What database do we use?")
	require.NotEmpty(t, state.Memory.Concepts)
	assert.Equal(t, "PostgreSQL", state.Memory.Concepts[0].Name)
}

func TestStatementTurnSkipsRetrieval(t *testing.T) {
	provider := &scriptedLLM{
		perceiveResponse: `{"intent": "statement", "entities": []}`,
		extractResponse:  `{"concepts": []}`,
		answer:           "Noted.",
	}
	deps := newMachine(t, provider)
	state := newSessionState(t, deps)

	_, err := deps.machine.Run(context.Background(), state, "We migrated to the new cluster yesterday.")
	require.NoError(t, err)

	assert.Nil(t, state.Retrieval)
	assert.Equal(t, session.StatusCompleted, state.Status)
}

func TestConfiguredRetrieveOptionsBoundFusedResults(t *testing.T) {
	provider := &scriptedLLM{
		perceiveResponse: `{"intent": "query", "entities": []}`,
		extractResponse:  `{"concepts": []}`,
		answer:           "PostgreSQL.",
	}
	deps := newMachine(t, provider, session.WithRetrieveOptions(retrieval.WithTopK(1)))
	state := newSessionState(t, deps)

	_, err := deps.machine.Run(context.Background(), state, "Which database do we run?")
	require.NoError(t, err)

	// Both vector hits were available; the configured top K trims the
	// fused ranking to one.
	require.NotNil(t, state.Retrieval)
	assert.Len(t, state.Retrieval.FusedResults, 1)
}

func TestEmptyInputFailsTheTurn(t *testing.T) {
	deps := newMachine(t, &scriptedLLM{answer: "unused"})
	state := newSessionState(t, deps)

	_, err := deps.machine.Run(context.Background(), state, "   ")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrValidation)
	assert.Equal(t, session.StatusFailed, state.Status)
	assert.NotEmpty(t, state.LastError)
}

func TestReasonFailureIsCapturedInLastError(t *testing.T) {
	provider := &scriptedLLM{
		perceiveResponse: `{"intent": "statement", "entities": []}`,
		answerErr:        errors.New("model timeout"),
	}
	deps := newMachine(t, provider)
	state := newSessionState(t, deps)

	_, err := deps.machine.Run(context.Background(), state, "remember this")
	require.Error(t, err)
	assert.Equal(t, session.StatusFailed, state.Status)
	assert.Contains(t, state.LastError, "model timeout")
}

func TestPendingDocumentIsPersistedAndListed(t *testing.T) {
	provider := &scriptedLLM{
		perceiveResponse: `{"intent": "statement", "entities": []}`,
		extractResponse:  `{"concepts": []}`,
		answer:           "Filed.",
	}
	deps := newMachine(t, provider)
	state := newSessionState(t, deps)
	state.PendingDoc = &session.PendingDocument{Content: "design doc for the ingest pipeline"}

	_, err := deps.machine.Run(context.Background(), state, "please file the attached notes")
	require.NoError(t, err)

	assert.Nil(t, state.PendingDoc)
	require.Len(t, state.RecentDocs, 1)

	// The chunk goes through the background queue as a working memory.
	require.Eventually(t, func() bool {
		for _, kind := range deps.target.storedKinds() {
			if kind == "working" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMalformedPerceptionFallsBackToHeuristics(t *testing.T) {
	provider := &scriptedLLM{
		perceiveResponse: "sorry, I cannot respond in JSON",
		extractResponse:  `{"concepts": []}`,
		answer:           "Paris.",
	}
	deps := newMachine(t, provider)
	state := newSessionState(t, deps)

	// A question mark drives the heuristic classifier to "query".
	_, err := deps.machine.Run(context.Background(), state, "What is the capital of France?")
	require.NoError(t, err)
	assert.NotNil(t, state.Retrieval)
	assert.Equal(t, session.StatusCompleted, state.Status)
}
