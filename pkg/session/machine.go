package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rs/zerolog"

	"github.com/recallhq/recall-go/pkg/coordinator"
	"github.com/recallhq/recall-go/pkg/core"
	"github.com/recallhq/recall-go/pkg/embedder"
	"github.com/recallhq/recall-go/pkg/llm"
	"github.com/recallhq/recall-go/pkg/memorybank"
	"github.com/recallhq/recall-go/pkg/retrieval"
	"github.com/recallhq/recall-go/pkg/storage"
)

const perceiveSystemPrompt = `You classify one user message for a memory assistant.
Respond with only a JSON object: {"intent": "query" or "statement", "entities": ["name", ...]}.
"query" means the user is asking for information; "statement" means they are telling you something.
Entities are the distinct people, projects, tools, or topics mentioned.`

const extractSystemPrompt = `You extract durable concepts from one conversational exchange.
Respond with only a JSON object: {"concepts": [{"name": "...", "category": "...", "description": "...", "confidence": 0.0, "relationships": ["..."]}]}.
Only include concepts worth remembering long term. Confidence is in [0, 1].`

// perception is the perceive node's output for one turn.
type perception struct {
	Intent   string   `json:"intent"`
	Entities []string `json:"entities"`
}

// Machine drives one conversational turn through the fixed node order
// perceive, process, retrieve, reason, update-memory.
//
// Retrieve runs only when the perceived intent is a query; update-memory
// runs only when reason produced a response. A node error is captured
// into State.LastError and moves the session to StatusFailed.
type Machine struct {
	coord        *coordinator.Coordinator
	engine       *retrieval.Engine
	bank         *memorybank.Bank
	llm          llm.Provider
	embedder     embedder.Provider
	ids          *snowflake.Node
	retrieveOpts []retrieval.RetrieveOption
	logger       zerolog.Logger
}

// MachineOption configures a Machine.
type MachineOption func(*Machine)

// WithMachineLogger sets the structured logger.
func WithMachineLogger(logger zerolog.Logger) MachineOption {
	return func(m *Machine) { m.logger = logger }
}

// WithIDNode sets the snowflake node used to mint record IDs.
func WithIDNode(node *snowflake.Node) MachineOption {
	return func(m *Machine) { m.ids = node }
}

// WithRetrieveOptions sets the retrieval options the retrieve node
// passes on every engine call, such as the configured top K and score
// threshold.
func WithRetrieveOptions(opts ...retrieval.RetrieveOption) MachineOption {
	return func(m *Machine) { m.retrieveOpts = opts }
}

// NewMachine creates a session state machine.
//
// Parameters:
//   - coord: Write coordinator for persisting documents and turns
//   - engine: Hybrid retrieval engine
//   - bank: Per-scope memory bank
//   - provider: Text-generation provider
//   - emb: Embedding provider for persisted records
//   - opts: Optional settings (logger, ID node)
//
// Returns:
//   - *Machine: The machine instance
//   - error: Returns an error if a required dependency is missing
func NewMachine(coord *coordinator.Coordinator, engine *retrieval.Engine, bank *memorybank.Bank, provider llm.Provider, emb embedder.Provider, opts ...MachineOption) (*Machine, error) {
	if coord == nil || engine == nil || bank == nil || provider == nil || emb == nil {
		return nil, core.NewError("session.new", fmt.Errorf("%w: coordinator, engine, bank, llm, and embedder are required", core.ErrInvalidConfig))
	}

	m := &Machine{
		coord:    coord,
		engine:   engine,
		bank:     bank,
		llm:      provider,
		embedder: emb,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.ids == nil {
		node, err := snowflake.NewNode(1)
		if err != nil {
			return nil, core.NewError("session.new", err)
		}
		m.ids = node
	}
	return m, nil
}

// Run executes one turn for the given session state and user input.
//
// Parameters:
//   - ctx: Context for the whole turn; cancellation stops in-flight
//     node work but never undoes completed store writes
//   - state: The session state, mutated in place
//   - input: The newest user message
//
// Returns:
//   - string: The assistant response
//   - error: The node error that failed the turn, also recorded in
//     state.LastError
func (m *Machine) Run(ctx context.Context, state *State, input string) (string, error) {
	const op = "session.run"

	state.Status = StatusProcessing
	state.UpdatedAt = time.Now().UTC()

	response, err := m.run(ctx, state, input)
	if err != nil {
		state.Status = StatusFailed
		state.LastError = err.Error()
		state.UpdatedAt = time.Now().UTC()
		return "", core.NewError(op, err)
	}

	state.Status = StatusCompleted
	state.LastError = ""
	state.UpdatedAt = time.Now().UTC()
	return response, nil
}

func (m *Machine) run(ctx context.Context, state *State, input string) (string, error) {
	perceived, err := m.perceive(ctx, state, input)
	if err != nil {
		return "", err
	}

	if err := m.process(ctx, state); err != nil {
		return "", err
	}

	if perceived.Intent == "query" {
		if err := m.retrieve(ctx, state, input); err != nil {
			return "", err
		}
	}

	response, err := m.reason(ctx, state, input)
	if err != nil {
		return "", err
	}

	if response != "" {
		if err := m.updateMemory(ctx, state, input, response, perceived); err != nil {
			return "", err
		}
	}
	return response, nil
}

// perceive classifies intent and extracts entities from the newest
// message. Empty input fails the turn; a malformed model response falls
// back to substring heuristics.
func (m *Machine) perceive(ctx context.Context, state *State, input string) (*perception, error) {
	if strings.TrimSpace(input) == "" {
		return nil, fmt.Errorf("%w: empty input", core.ErrValidation)
	}
	state.AppendMessage(RoleUser, input)

	raw, err := m.llm.GenerateWithMessages(ctx, []llm.Message{
		{Role: "system", Content: perceiveSystemPrompt},
		{Role: "user", Content: input},
	}, llm.WithMaxTokens(200), llm.WithTemperature(0))

	perceived := &perception{}
	if err != nil || json.Unmarshal(extractJSON(raw), perceived) != nil || perceived.Intent == "" {
		if err != nil {
			m.logger.Warn().Err(err).Msg("perceive model call failed, using heuristics")
		}
		perceived = heuristicPerception(input)
	}

	state.Remember("last_intent", perceived.Intent, 1)
	return perceived, nil
}

// process persists a pending document chunk, if one is attached, and
// records it in the recent-documents list.
func (m *Machine) process(ctx context.Context, state *State) error {
	if state.PendingDoc == nil {
		return nil
	}
	doc := state.PendingDoc
	state.PendingDoc = nil

	record, err := m.buildRecord(ctx, state.Scope, doc.Content, core.KindWorking, doc.Metadata)
	if err != nil {
		return err
	}

	result, err := m.coord.Submit(ctx, &coordinator.Intent{
		Op:         coordinator.OpCreate,
		MemoryKind: core.KindWorking,
		Records:    []*storage.Record{record},
	})
	if err != nil && !isReportedFailure(err) {
		return err
	}
	if result != nil {
		m.logger.Debug().Str("op_id", result.OpID).Int64("record_id", record.ID).Msg("document write submitted")
	}

	state.RecordDoc(fmt.Sprintf("%d", record.ID))
	return nil
}

// retrieve runs the hybrid retrieval engine for the query.
func (m *Machine) retrieve(ctx context.Context, state *State, input string) error {
	result, err := m.engine.Retrieve(ctx, input, state.Scope, m.retrieveOpts...)
	if err != nil {
		return err
	}
	state.Retrieval = result
	return nil
}

// reason builds a prompt from the fused retrieval results and the scope
// summary, calls the text service, and appends the response.
func (m *Machine) reason(ctx context.Context, state *State, input string) (string, error) {
	if state.Memory == nil {
		snapshot, err := m.bank.Snapshot(ctx, state.Scope)
		if err == nil {
			state.Memory = snapshot
		} else if !errors.Is(err, core.ErrNotFound) {
			m.logger.Warn().Err(err).Msg("snapshot unavailable for reasoning")
		}
	}

	var prompt strings.Builder
	prompt.WriteString("Answer the user using the context below. If the context does not help, say so.\n")
	if state.Memory != nil && state.Memory.Summary != "" {
		prompt.WriteString("\nWhat you know about this user:\n")
		prompt.WriteString(state.Memory.Summary)
		prompt.WriteString("\n")
	}
	if state.Retrieval != nil && len(state.Retrieval.FusedResults) > 0 {
		prompt.WriteString("\nRelevant memories:\n")
		for _, r := range state.Retrieval.FusedResults {
			prompt.WriteString("- ")
			prompt.WriteString(r.Content)
			prompt.WriteString("\n")
		}
	}
	prompt.WriteString("\nUser: ")
	prompt.WriteString(input)

	response, err := m.llm.Generate(ctx, prompt.String(), llm.WithMaxTokens(800))
	if err != nil {
		return "", fmt.Errorf("reasoning failed: %w", err)
	}

	state.AppendMessage(RoleAssistant, response)
	return response, nil
}

// updateMemory folds the completed turn back into durable memory:
// context, concepts, an episodic record of the turn, and a refreshed
// snapshot.
func (m *Machine) updateMemory(ctx context.Context, state *State, input, response string, perceived *perception) error {
	turn := "User: " + input + "\nAssistant: " + response

	if err := m.bank.UpdateContext(ctx, state.Scope, turn, "session"); err != nil {
		return err
	}

	concepts := m.extractConcepts(ctx, turn, perceived)
	if len(concepts) > 0 {
		if _, err := m.bank.AddConcepts(ctx, state.Scope, concepts); err != nil {
			return err
		}
	}

	record, err := m.buildRecord(ctx, state.Scope, turn, core.KindEpisodic, map[string]interface{}{
		"thread_id": state.ThreadID,
	})
	if err != nil {
		return err
	}
	result, err := m.coord.Submit(ctx, &coordinator.Intent{
		Op:         coordinator.OpCreate,
		MemoryKind: core.KindEpisodic,
		Records:    []*storage.Record{record},
	})
	if err != nil && !isReportedFailure(err) {
		return err
	}
	if result != nil && !result.Success {
		m.logger.Warn().Str("op_id", result.OpID).Strs("failed_targets", result.FailedTargets).Msg("turn persisted partially")
	}

	if _, err := m.bank.UpdateSummary(ctx, state.Scope, false); err != nil {
		m.logger.Warn().Err(err).Msg("summary refresh failed")
	}

	snapshot, err := m.bank.Snapshot(ctx, state.Scope)
	if err != nil {
		return err
	}
	state.Memory = snapshot
	return nil
}

// extractConcepts asks the model for durable concepts in the turn,
// falling back to the perceived entities when the response is unusable.
func (m *Machine) extractConcepts(ctx context.Context, turn string, perceived *perception) []core.ConceptEntry {
	raw, err := m.llm.GenerateWithMessages(ctx, []llm.Message{
		{Role: "system", Content: extractSystemPrompt},
		{Role: "user", Content: turn},
	}, llm.WithMaxTokens(400), llm.WithTemperature(0))

	var parsed struct {
		Concepts []core.ConceptEntry `json:"concepts"`
	}
	if err == nil && json.Unmarshal(extractJSON(raw), &parsed) == nil && len(parsed.Concepts) > 0 {
		var valid []core.ConceptEntry
		for _, c := range parsed.Concepts {
			if c.Name == "" {
				continue
			}
			if c.Confidence <= 0 || c.Confidence > 1 {
				c.Confidence = 0.5
			}
			valid = append(valid, c)
		}
		return valid
	}
	if err != nil {
		m.logger.Warn().Err(err).Msg("concept extraction failed, using perceived entities")
	}

	concepts := make([]core.ConceptEntry, 0, len(perceived.Entities))
	for _, name := range perceived.Entities {
		if name == "" {
			continue
		}
		concepts = append(concepts, core.ConceptEntry{Name: name, Confidence: 0.5})
	}
	return concepts
}

// buildRecord mints a record with a fresh snowflake ID and the content
// embedding.
func (m *Machine) buildRecord(ctx context.Context, scope core.Scope, content string, kind core.MemoryKind, metadata map[string]interface{}) (*storage.Record, error) {
	vector, err := m.embedder.Embed(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}

	now := time.Now().UTC()
	return &storage.Record{
		ID:        m.ids.Generate().Int64(),
		Content:   content,
		Kind:      string(kind),
		OwnerID:   scope.OwnerID,
		ProjectID: scope.ProjectID,
		Metadata:  metadata,
		Embedding: vector,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// isReportedFailure distinguishes a structured partial-failure result
// (adapter or timeout trouble, already compensated in the background)
// from errors that should fail the turn, such as validation.
func isReportedFailure(err error) bool {
	return errors.Is(err, core.ErrAdapter) || errors.Is(err, core.ErrTimeout)
}

// heuristicPerception is the fallback classifier: question marks and
// interrogative openers mean a query, and capitalized words double as
// entities.
func heuristicPerception(input string) *perception {
	lowered := strings.ToLower(strings.TrimSpace(input))
	intent := "statement"
	if strings.Contains(input, "?") {
		intent = "query"
	} else {
		for _, prefix := range []string{"what", "who", "where", "when", "why", "how", "which", "do ", "does ", "did ", "is ", "are ", "can ", "could "} {
			if strings.HasPrefix(lowered, prefix) {
				intent = "query"
				break
			}
		}
	}

	var entities []string
	for _, word := range strings.Fields(input) {
		trimmed := strings.Trim(word, ".,!?:;\"'()")
		if len(trimmed) > 2 && trimmed[0] >= 'A' && trimmed[0] <= 'Z' {
			entities = append(entities, trimmed)
		}
	}
	return &perception{Intent: intent, Entities: entities}
}

// extractJSON trims a model response down to its outermost JSON object
// so fenced or chatty replies still parse.
func extractJSON(raw string) []byte {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return []byte(raw)
	}
	return []byte(raw[start : end+1])
}
