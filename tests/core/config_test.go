package core_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallhq/recall-go/pkg/core"
)

func validConfig() *core.Config {
	return &core.Config{
		DataDir: "./recall-data",
		RecordStore: core.RecordStoreConfig{
			Provider: "sqlite",
			Config:   map[string]interface{}{"db_path": "./recall.db"},
		},
		Embedder: core.EmbedderConfig{Provider: "openai", APIKey: "sk-test"},
		LLM:      core.LLMConfig{Provider: "openai", APIKey: "sk-test"},
	}
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidateRejectsIncompleteConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*core.Config)
	}{
		{"missing data dir", func(c *core.Config) { c.DataDir = "" }},
		{"unknown record store provider", func(c *core.Config) { c.RecordStore.Provider = "mongodb" }},
		{"empty record store provider", func(c *core.Config) { c.RecordStore.Provider = "" }},
		{"missing embedder provider", func(c *core.Config) { c.Embedder.Provider = "" }},
		{"missing llm provider", func(c *core.Config) { c.LLM.Provider = "" }},
		{"graph store without base url", func(c *core.Config) { c.GraphStore = &core.GraphStoreConfig{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, core.ErrInvalidConfig)
		})
	}
}

func TestLoadConfigFromJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{
  "data_dir": "/var/lib/recall",
  "record_store": {
    "provider": "postgres",
    "config": {"host": "db.internal", "port": 5432, "db_name": "recall"}
  },
  "graph_store": {"base_url": "http://localhost:7474", "database": "neo4j"},
  "embedder": {"provider": "openai", "api_key": "sk-json", "dimensions": 768},
  "llm": {"provider": "ollama", "base_url": "http://localhost:11434"},
  "retrieval": {"top_k": 10, "vocabulary": ["redis", "postgres"]}
}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := core.LoadConfigFromJSON(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/recall", cfg.DataDir)
	assert.Equal(t, "postgres", cfg.RecordStore.Provider)
	assert.Equal(t, "db.internal", cfg.RecordStore.Config["host"])
	require.NotNil(t, cfg.GraphStore)
	assert.Equal(t, "http://localhost:7474", cfg.GraphStore.BaseURL)
	assert.Equal(t, 768, cfg.Embedder.Dimensions)
	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, 10, cfg.Retrieval.TopK)
	assert.Equal(t, []string{"redis", "postgres"}, cfg.Retrieval.Vocabulary)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `data_dir: ./data
record_store:
  provider: sqlite
  config:
    db_path: ./recall.db
embedder:
  provider: openai
  api_key: sk-yaml
llm:
  provider: openai
  api_key: sk-yaml
coordinator:
  max_attempts: 5
  retry_delay: 500ms
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := core.LoadConfigFromYAML(path)
	require.NoError(t, err)

	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, "sk-yaml", cfg.Embedder.APIKey)
	assert.Equal(t, 5, cfg.Coordinator.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Coordinator.RetryDelay)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigFromJSONMissingFile(t *testing.T) {
	_, err := core.LoadConfigFromJSON(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoadConfigFromEnvDefaults(t *testing.T) {
	t.Setenv("RECALL_DATA_DIR", "")
	t.Setenv("RECORD_STORE_PROVIDER", "")
	t.Setenv("LLM_PROVIDER", "")
	t.Setenv("GRAPH_STORE_URL", "")

	cfg, err := core.LoadConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "./recall-data", cfg.DataDir)
	assert.Equal(t, "sqlite", cfg.RecordStore.Provider)
	assert.Equal(t, "./recall.db", cfg.RecordStore.Config["db_path"])
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, 1536, cfg.Embedder.Dimensions)
	assert.Nil(t, cfg.GraphStore)
}

func TestLoadConfigFromEnvOverrides(t *testing.T) {
	t.Setenv("RECALL_DATA_DIR", "/tmp/recall-test")
	t.Setenv("RECORD_STORE_PROVIDER", "postgres")
	t.Setenv("POSTGRES_HOST", "db.internal")
	t.Setenv("POSTGRES_DATABASE", "memories")
	t.Setenv("GRAPH_STORE_URL", "http://graph:7474")
	t.Setenv("LLM_PROVIDER", "ollama")

	cfg, err := core.LoadConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/recall-test", cfg.DataDir)
	assert.Equal(t, "postgres", cfg.RecordStore.Provider)
	assert.Equal(t, "db.internal", cfg.RecordStore.Config["host"])
	assert.Equal(t, "memories", cfg.RecordStore.Config["db_name"])
	require.NotNil(t, cfg.GraphStore)
	assert.Equal(t, "http://graph:7474", cfg.GraphStore.BaseURL)
	assert.Equal(t, "neo4j", cfg.GraphStore.Database)
	assert.Equal(t, "http://localhost:11434", cfg.LLM.BaseURL)
}
