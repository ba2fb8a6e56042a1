// Package recall is the public entry point: a Client wires the
// configured adapters into the write coordinator, the hybrid retrieval
// engine, the per-scope memory bank, and the session state machine.
//
// Example:
//
//	config, _ := core.LoadConfigFromEnv()
//	client, err := recall.NewClient(config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	scope := core.Scope{OwnerID: "user_001"}
//	record, result, _ := client.Remember(ctx, scope, "User prefers Go for backend work")
//	hits, _ := client.Recall(ctx, scope, "what language does the user like?")
package recall

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rs/zerolog"

	"github.com/recallhq/recall-go/pkg/coordinator"
	"github.com/recallhq/recall-go/pkg/core"
	"github.com/recallhq/recall-go/pkg/embedder"
	embedderopenai "github.com/recallhq/recall-go/pkg/embedder/openai"
	"github.com/recallhq/recall-go/pkg/llm"
	llmollama "github.com/recallhq/recall-go/pkg/llm/ollama"
	llmopenai "github.com/recallhq/recall-go/pkg/llm/openai"
	"github.com/recallhq/recall-go/pkg/memorybank"
	"github.com/recallhq/recall-go/pkg/retrieval"
	"github.com/recallhq/recall-go/pkg/session"
	"github.com/recallhq/recall-go/pkg/storage"
	"github.com/recallhq/recall-go/pkg/storage/chromem"
	"github.com/recallhq/recall-go/pkg/storage/filelog"
	"github.com/recallhq/recall-go/pkg/storage/graphdb"
	"github.com/recallhq/recall-go/pkg/storage/mysql"
	"github.com/recallhq/recall-go/pkg/storage/postgres"
	"github.com/recallhq/recall-go/pkg/storage/sqlite"
)

// Client is the main entry point for the memory service core.
//
// All dependencies are injected at construction; there are no package
// level singletons. A Client is safe for concurrent use.
type Client struct {
	config *core.Config
	logger zerolog.Logger

	records  storage.RecordStore
	vectors  storage.VectorIndex
	graph    storage.GraphStore
	files    storage.FileLog
	embedder embedder.Provider
	llm      llm.Provider

	coord   *coordinator.Coordinator
	engine  *retrieval.Engine
	bank    *memorybank.Bank
	machine *session.Machine

	ids    *snowflake.Node
	cancel context.CancelFunc
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the structured logger shared by all components.
func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a fully wired client from configuration.
//
// Parameters:
//   - cfg: Complete configuration (see core.Config)
//   - opts: Optional settings (logger)
//
// Returns:
//   - *Client: The client instance, with background queue consumers
//     already running
//   - error: Returns an error if the configuration is invalid or any
//     adapter fails to initialize
func NewClient(cfg *core.Config, opts ...ClientOption) (*Client, error) {
	const op = "recall.new"

	if cfg == nil {
		return nil, core.NewError(op, fmt.Errorf("%w: config is nil", core.ErrInvalidConfig))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		config: cfg,
		logger: zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}

	if err := c.buildAdapters(); err != nil {
		c.closeAdapters()
		return nil, core.NewError(op, err)
	}
	if err := c.buildComponents(); err != nil {
		c.closeAdapters()
		return nil, core.NewError(op, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.coord.Start(ctx)
	return c, nil
}

func (c *Client) buildAdapters() error {
	cfg := c.config

	files, err := filelog.NewClient(cfg.DataDir)
	if err != nil {
		return err
	}
	c.files = files

	c.records, err = buildRecordStore(&cfg.RecordStore)
	if err != nil {
		return err
	}

	c.vectors, err = chromem.NewClient(&chromem.Config{
		Path:     cfg.VectorIndex.Path,
		Compress: cfg.VectorIndex.Compress,
	})
	if err != nil {
		return err
	}

	if cfg.GraphStore != nil {
		c.graph, err = graphdb.NewClient(&graphdb.Config{
			BaseURL:  cfg.GraphStore.BaseURL,
			Database: cfg.GraphStore.Database,
			Username: cfg.GraphStore.Username,
			Password: cfg.GraphStore.Password,
			Timeout:  cfg.Coordinator.AdapterTimeout,
		})
		if err != nil {
			return err
		}
	}

	emb, err := embedderopenai.NewClient(&embedderopenai.Config{
		APIKey:     cfg.Embedder.APIKey,
		Model:      cfg.Embedder.Model,
		BaseURL:    cfg.Embedder.BaseURL,
		Dimensions: cfg.Embedder.Dimensions,
	})
	if err != nil {
		return err
	}
	c.embedder, err = embedder.NewCachedProvider(emb, cfg.Embedder.CacheSize)
	if err != nil {
		return err
	}

	c.llm, err = buildLLM(&cfg.LLM)
	return err
}

func (c *Client) buildComponents() error {
	cfg := c.config

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}
	c.ids = node

	var locker memorybank.Locker = &memorybank.NopLocker{}
	if cfg.Locking == "mutex" {
		locker = memorybank.NewMutexLocker()
	}
	c.bank = memorybank.New(c.files, c.llm,
		memorybank.WithLocker(locker),
		memorybank.WithLogger(c.logger),
	)

	targets := []coordinator.Target{
		coordinator.NewRecordTarget(c.records),
		coordinator.NewVectorTarget(c.vectors),
	}
	if c.graph != nil {
		targets = append(targets, coordinator.NewGraphTarget(c.graph))
	}
	targets = append(targets, coordinator.NewLogTarget(c.files))

	coordOpts := []coordinator.Option{
		coordinator.WithOperationLog(coordinator.NewOperationLog(c.files)),
		coordinator.WithRecordStore(c.records),
		coordinator.WithLogger(c.logger),
	}
	if cfg.Coordinator.MaxAttempts > 0 {
		coordOpts = append(coordOpts, coordinator.WithMaxAttempts(cfg.Coordinator.MaxAttempts))
	}
	if cfg.Coordinator.RetryDelay > 0 {
		coordOpts = append(coordOpts, coordinator.WithRetryDelay(cfg.Coordinator.RetryDelay))
	}
	if cfg.Coordinator.AdapterTimeout > 0 {
		coordOpts = append(coordOpts, coordinator.WithAdapterTimeout(cfg.Coordinator.AdapterTimeout))
	}
	if cfg.Coordinator.QueueSize > 0 {
		coordOpts = append(coordOpts, coordinator.WithQueueSize(cfg.Coordinator.QueueSize))
	}
	c.coord, err = coordinator.New(targets, coordOpts...)
	if err != nil {
		return err
	}

	engineOpts := []retrieval.EngineOption{
		retrieval.WithEngineLogger(c.logger),
	}
	if len(cfg.Retrieval.Vocabulary) > 0 {
		engineOpts = append(engineOpts, retrieval.WithVocabulary(cfg.Retrieval.Vocabulary))
	}
	if cfg.Coordinator.AdapterTimeout > 0 {
		engineOpts = append(engineOpts, retrieval.WithSourceTimeout(cfg.Coordinator.AdapterTimeout))
	}
	c.engine, err = retrieval.NewEngine(c.embedder, c.vectors, c.graph, c.bank, engineOpts...)
	if err != nil {
		return err
	}

	var retrieveOpts []retrieval.RetrieveOption
	if cfg.Retrieval.TopK > 0 {
		retrieveOpts = append(retrieveOpts, retrieval.WithTopK(cfg.Retrieval.TopK))
	}
	if cfg.Retrieval.ScoreThreshold > 0 {
		retrieveOpts = append(retrieveOpts, retrieval.WithScoreThreshold(cfg.Retrieval.ScoreThreshold))
	}
	c.machine, err = session.NewMachine(c.coord, c.engine, c.bank, c.llm, c.embedder,
		session.WithMachineLogger(c.logger),
		session.WithIDNode(c.ids),
		session.WithRetrieveOptions(retrieveOpts...),
	)
	return err
}

// Remember stores one memory under a scope.
//
// The scope is initialized on first use, the content is embedded, and
// the record fans out to every configured target. Semantic and episodic
// kinds return the full delivery result; working memories return a
// pending acknowledgement.
//
// Parameters:
//   - ctx: Context for the write
//   - scope: The (owner, project) scope
//   - content: Memory content
//   - opts: Optional settings (kind, metadata)
//
// Returns:
//   - *core.MemoryRecord: The minted record
//   - *coordinator.WriteResult: The delivery outcome
//   - error: Validation, capacity, or aggregate adapter error
func (c *Client) Remember(ctx context.Context, scope core.Scope, content string, opts ...RememberOption) (*core.MemoryRecord, *coordinator.WriteResult, error) {
	const op = "recall.remember"

	if scope.IsZero() {
		return nil, nil, core.NewError(op, fmt.Errorf("%w: scope has no owner", core.ErrValidation))
	}
	if content == "" {
		return nil, nil, core.NewError(op, fmt.Errorf("%w: empty content", core.ErrValidation))
	}

	options := &RememberOptions{Kind: core.KindSemantic}
	for _, o := range opts {
		o(options)
	}

	if err := c.bank.Initialize(ctx, scope); err != nil {
		return nil, nil, err
	}

	vector, err := c.embedder.Embed(ctx, content)
	if err != nil {
		return nil, nil, core.NewError(op, err)
	}

	record := &core.MemoryRecord{
		ID:        c.ids.Generate().Int64(),
		Content:   content,
		Kind:      options.Kind,
		OwnerID:   scope.OwnerID,
		ProjectID: scope.ProjectID,
		Metadata:  options.Metadata,
		Embedding: vector,
		CreatedAt: time.Now().UTC(),
	}

	result, err := c.coord.Submit(ctx, &coordinator.Intent{
		Op:         coordinator.OpCreate,
		MemoryKind: options.Kind,
		Records:    []*storage.Record{core.ToStorageRecord(record)},
	})
	if err != nil && result == nil {
		return nil, nil, err
	}
	return record, result, err
}

// Recall answers a query against a scope's memories through the hybrid
// retrieval engine.
//
// Parameters:
//   - ctx: Context for the retrieval
//   - scope: The (owner, project) scope
//   - query: Free-text query
//   - opts: Optional settings (top K, score threshold, filters)
//
// Returns:
//   - *retrieval.HybridResult: Per-source results plus the fused ranking
//   - error: Validation error; source failures degrade instead
func (c *Client) Recall(ctx context.Context, scope core.Scope, query string, opts ...RecallOption) (*retrieval.HybridResult, error) {
	options := &RecallOptions{
		TopK:           c.config.Retrieval.TopK,
		ScoreThreshold: c.config.Retrieval.ScoreThreshold,
	}
	for _, o := range opts {
		o(options)
	}

	var retrieveOpts []retrieval.RetrieveOption
	if options.TopK > 0 {
		retrieveOpts = append(retrieveOpts, retrieval.WithTopK(options.TopK))
	}
	if options.ScoreThreshold > 0 {
		retrieveOpts = append(retrieveOpts, retrieval.WithScoreThreshold(options.ScoreThreshold))
	}
	if len(options.Filters) > 0 {
		retrieveOpts = append(retrieveOpts, retrieval.WithFilters(options.Filters))
	}

	return c.engine.Retrieve(ctx, query, scope, retrieveOpts...)
}

// NewSession starts a session for a scope, initializing the scope's
// memory bank storage if needed.
func (c *Client) NewSession(ctx context.Context, scope core.Scope) (*session.State, error) {
	if err := c.bank.Initialize(ctx, scope); err != nil {
		return nil, err
	}
	return session.NewState(scope), nil
}

// Turn runs one conversational turn through the session state machine.
//
// Parameters:
//   - ctx: Context for the turn
//   - state: Session state from NewSession, mutated in place
//   - input: The newest user message
//
// Returns:
//   - string: The assistant response
//   - error: The node error that failed the turn
func (c *Client) Turn(ctx context.Context, state *session.State, input string) (string, error) {
	if state == nil {
		return "", core.NewError("recall.turn", fmt.Errorf("%w: nil session state", core.ErrValidation))
	}
	return c.machine.Run(ctx, state, input)
}

// Snapshot returns a point-in-time view of a scope's memory.
func (c *Client) Snapshot(ctx context.Context, scope core.Scope) (*core.ScopeMemory, error) {
	return c.bank.Snapshot(ctx, scope)
}

// Export returns the full memory dump for a scope, including the whole
// retained journal.
func (c *Client) Export(ctx context.Context, scope core.Scope) (*core.ScopeMemory, error) {
	return c.bank.Export(ctx, scope)
}

// Close stops the queue consumers and closes every adapter and
// provider. The first error encountered is returned.
func (c *Client) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	var firstErr error
	if c.coord != nil {
		firstErr = c.coord.Close()
	}
	if err := c.closeAdapters(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (c *Client) closeAdapters() error {
	var firstErr error
	closeAll := []func() error{}
	if c.llm != nil {
		closeAll = append(closeAll, c.llm.Close)
	}
	if c.embedder != nil {
		closeAll = append(closeAll, c.embedder.Close)
	}
	if c.graph != nil {
		closeAll = append(closeAll, c.graph.Close)
	}
	if c.vectors != nil {
		closeAll = append(closeAll, c.vectors.Close)
	}
	if c.records != nil {
		closeAll = append(closeAll, c.records.Close)
	}
	if c.files != nil {
		closeAll = append(closeAll, c.files.Close)
	}
	for _, close := range closeAll {
		if err := close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// buildRecordStore constructs the configured relational store.
func buildRecordStore(cfg *core.RecordStoreConfig) (storage.RecordStore, error) {
	switch cfg.Provider {
	case "sqlite":
		return sqlite.NewClient(&sqlite.Config{
			DBPath:    configString(cfg.Config, "db_path", "./recall.db"),
			TableName: configString(cfg.Config, "table_name", ""),
		})
	case "postgres":
		return postgres.NewClient(&postgres.Config{
			Host:      configString(cfg.Config, "host", "localhost"),
			Port:      configInt(cfg.Config, "port", 5432),
			User:      configString(cfg.Config, "user", "postgres"),
			Password:  configString(cfg.Config, "password", ""),
			DBName:    configString(cfg.Config, "db_name", "recall"),
			TableName: configString(cfg.Config, "table_name", ""),
			SSLMode:   configString(cfg.Config, "ssl_mode", "disable"),
		})
	case "mysql":
		return mysql.NewClient(&mysql.Config{
			Host:      configString(cfg.Config, "host", "localhost"),
			Port:      configInt(cfg.Config, "port", 3306),
			User:      configString(cfg.Config, "user", "root"),
			Password:  configString(cfg.Config, "password", ""),
			DBName:    configString(cfg.Config, "db_name", "recall"),
			TableName: configString(cfg.Config, "table_name", ""),
		})
	}
	return nil, fmt.Errorf("%w: unknown record store provider %q", core.ErrInvalidConfig, cfg.Provider)
}

// buildLLM constructs the configured text-generation provider.
func buildLLM(cfg *core.LLMConfig) (llm.Provider, error) {
	switch cfg.Provider {
	case "openai":
		return llmopenai.NewClient(&llmopenai.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
	case "ollama":
		return llmollama.NewClient(&llmollama.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
	}
	return nil, fmt.Errorf("%w: unknown llm provider %q", core.ErrInvalidConfig, cfg.Provider)
}

func configString(m map[string]interface{}, key, fallback string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func configInt(m map[string]interface{}, key string, fallback int) int {
	switch v := m[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return fallback
}
