package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config contains the complete configuration for a Recall client.
//
// It covers the four backing stores, the external embedding and
// text-generation services, and the coordinator/retrieval tuning knobs.
//
// Example:
//
//	config := &core.Config{
//	    DataDir: "./recall-data",
//	    RecordStore: core.RecordStoreConfig{
//	        Provider: "sqlite",
//	        Config:   map[string]interface{}{"db_path": "./recall.db"},
//	    },
//	    Embedder: core.EmbedderConfig{
//	        Provider: "openai",
//	        APIKey:   "sk-...",
//	    },
//	    LLM: core.LLMConfig{
//	        Provider: "openai",
//	        APIKey:   "sk-...",
//	    },
//	}
type Config struct {
	// DataDir is the base directory for the per-scope file log: memory
	// bank files, the memory log, and the operation log live under it.
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// RecordStore configures the relational system of record.
	RecordStore RecordStoreConfig `json:"record_store" yaml:"record_store"`

	// VectorIndex configures the embedded vector index.
	VectorIndex VectorIndexConfig `json:"vector_index" yaml:"vector_index"`

	// GraphStore configures the graph store. Optional: when nil, the
	// graph target and graph retrieval source are disabled.
	GraphStore *GraphStoreConfig `json:"graph_store,omitempty" yaml:"graph_store,omitempty"`

	// Embedder configures the embedding provider.
	Embedder EmbedderConfig `json:"embedder" yaml:"embedder"`

	// LLM configures the text-generation provider.
	LLM LLMConfig `json:"llm" yaml:"llm"`

	// Coordinator tunes the write coordinator.
	Coordinator CoordinatorConfig `json:"coordinator" yaml:"coordinator"`

	// Retrieval tunes the hybrid retrieval engine.
	Retrieval RetrievalConfig `json:"retrieval" yaml:"retrieval"`

	// Locking selects the memory bank lock mode: "none" (default,
	// single tenant) or "mutex".
	Locking string `json:"locking,omitempty" yaml:"locking,omitempty"`
}

// RecordStoreConfig configures the relational record store.
//
// Supported providers: sqlite, postgres, mysql.
type RecordStoreConfig struct {
	// Provider is the record store provider name (sqlite, postgres, mysql).
	Provider string `json:"provider" yaml:"provider"`

	// Config contains provider-specific configuration.
	// For SQLite: db_path, table_name
	// For PostgreSQL: host, port, user, password, db_name, table_name, ssl_mode
	// For MySQL: host, port, user, password, db_name, table_name
	Config map[string]interface{} `json:"config" yaml:"config"`
}

// VectorIndexConfig configures the embedded chromem vector index.
type VectorIndexConfig struct {
	// Path is the persistence directory. Empty means in-memory only.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Compress enables gzip compression of persisted documents.
	Compress bool `json:"compress,omitempty" yaml:"compress,omitempty"`
}

// GraphStoreConfig configures the Neo4j-compatible graph store.
type GraphStoreConfig struct {
	// BaseURL is the HTTP endpoint, e.g. "http://localhost:7474".
	BaseURL string `json:"base_url" yaml:"base_url"`

	// Database is the database name (default "neo4j").
	Database string `json:"database,omitempty" yaml:"database,omitempty"`

	// Username and Password are the basic-auth credentials.
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
}

// EmbedderConfig configures the embedding provider.
//
// Supported providers: openai.
type EmbedderConfig struct {
	// Provider is the embedding provider name.
	Provider string `json:"provider" yaml:"provider"`

	// APIKey is the API key for the provider.
	APIKey string `json:"api_key" yaml:"api_key"`

	// Model is the embedding model name (default text-embedding-3-small).
	Model string `json:"model,omitempty" yaml:"model,omitempty"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`

	// Dimensions is the embedding dimensionality (default 1536).
	Dimensions int `json:"dimensions,omitempty" yaml:"dimensions,omitempty"`

	// CacheSize is the LRU embedding cache capacity; 0 uses the default.
	CacheSize int `json:"cache_size,omitempty" yaml:"cache_size,omitempty"`
}

// LLMConfig configures the text-generation provider.
//
// Supported providers: openai, ollama.
type LLMConfig struct {
	// Provider is the LLM provider name (openai, ollama).
	Provider string `json:"provider" yaml:"provider"`

	// APIKey is the API key for the provider.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// Model is the model name to use.
	Model string `json:"model,omitempty" yaml:"model,omitempty"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
}

// CoordinatorConfig tunes the write coordinator.
type CoordinatorConfig struct {
	// MaxAttempts bounds delivery retries and compensation passes.
	MaxAttempts int `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`

	// RetryDelay is the fixed delay before retried passes.
	RetryDelay time.Duration `json:"retry_delay,omitempty" yaml:"retry_delay,omitempty"`

	// AdapterTimeout bounds each individual store call.
	AdapterTimeout time.Duration `json:"adapter_timeout,omitempty" yaml:"adapter_timeout,omitempty"`

	// QueueSize is the capacity of the internal write queues.
	QueueSize int `json:"queue_size,omitempty" yaml:"queue_size,omitempty"`
}

// RetrievalConfig tunes the hybrid retrieval engine.
type RetrievalConfig struct {
	// TopK is the default fused result count.
	TopK int `json:"top_k,omitempty" yaml:"top_k,omitempty"`

	// ScoreThreshold filters vector hits below this similarity.
	ScoreThreshold float64 `json:"score_threshold,omitempty" yaml:"score_threshold,omitempty"`

	// Vocabulary is the fixed entity vocabulary for graph expansion.
	// Empty means the scope's concept names are used.
	Vocabulary []string `json:"vocabulary,omitempty" yaml:"vocabulary,omitempty"`
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// The function:
//  1. Searches for .env or .env.example files (up to 5 directory levels up)
//  2. Loads environment variables from the found file
//  3. Parses environment variables into a Config struct
//
// Supported environment variables:
//   - RECALL_DATA_DIR
//   - RECORD_STORE_PROVIDER (sqlite, postgres, mysql)
//   - SQLITE_PATH, POSTGRES_HOST/PORT/USER/PASSWORD/DATABASE/SSLMODE,
//     MYSQL_HOST/PORT/USER/PASSWORD/DATABASE
//   - VECTOR_INDEX_PATH
//   - GRAPH_STORE_URL, GRAPH_STORE_DATABASE, GRAPH_STORE_USER, GRAPH_STORE_PASSWORD
//   - EMBEDDING_API_KEY, EMBEDDING_MODEL, EMBEDDING_BASE_URL, EMBEDDING_DIMENSIONS
//   - LLM_PROVIDER (openai, ollama), LLM_API_KEY, LLM_MODEL, LLM_BASE_URL
//
// Returns a Config instance, or an error if loading fails.
//
// Example:
//
//	config, err := core.LoadConfigFromEnv()
//	if err != nil {
//	    log.Fatal(err)
//	}
func LoadConfigFromEnv() (*Config, error) {
	envPath, found := FindEnvFile()
	if found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	provider := getEnvOrDefault("RECORD_STORE_PROVIDER", "sqlite")
	recordConfig := make(map[string]interface{})

	switch provider {
	case "postgres":
		port, _ := strconv.Atoi(getEnvOrDefault("POSTGRES_PORT", "5432"))
		recordConfig = map[string]interface{}{
			"host":     getEnvOrDefault("POSTGRES_HOST", "localhost"),
			"port":     port,
			"user":     getEnvOrDefault("POSTGRES_USER", "postgres"),
			"password": os.Getenv("POSTGRES_PASSWORD"),
			"db_name":  getEnvOrDefault("POSTGRES_DATABASE", "recall"),
			"ssl_mode": getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
		}
	case "mysql":
		port, _ := strconv.Atoi(getEnvOrDefault("MYSQL_PORT", "3306"))
		recordConfig = map[string]interface{}{
			"host":     getEnvOrDefault("MYSQL_HOST", "localhost"),
			"port":     port,
			"user":     getEnvOrDefault("MYSQL_USER", "root"),
			"password": os.Getenv("MYSQL_PASSWORD"),
			"db_name":  getEnvOrDefault("MYSQL_DATABASE", "recall"),
		}
	default:
		recordConfig = map[string]interface{}{
			"db_path": getEnvOrDefault("SQLITE_PATH", "./recall.db"),
		}
	}

	llmProvider := getEnvOrDefault("LLM_PROVIDER", "openai")
	var llmBaseURL string
	if llmProvider == "ollama" {
		llmBaseURL = getEnvOrDefault("OLLAMA_BASE_URL", "http://localhost:11434")
	} else {
		llmBaseURL = os.Getenv("LLM_BASE_URL")
	}

	dims, _ := strconv.Atoi(getEnvOrDefault("EMBEDDING_DIMENSIONS", "1536"))

	config := &Config{
		DataDir: getEnvOrDefault("RECALL_DATA_DIR", "./recall-data"),
		RecordStore: RecordStoreConfig{
			Provider: provider,
			Config:   recordConfig,
		},
		VectorIndex: VectorIndexConfig{
			Path: os.Getenv("VECTOR_INDEX_PATH"),
		},
		Embedder: EmbedderConfig{
			Provider:   getEnvOrDefault("EMBEDDING_PROVIDER", "openai"),
			APIKey:     os.Getenv("EMBEDDING_API_KEY"),
			Model:      os.Getenv("EMBEDDING_MODEL"),
			BaseURL:    os.Getenv("EMBEDDING_BASE_URL"),
			Dimensions: dims,
		},
		LLM: LLMConfig{
			Provider: llmProvider,
			APIKey:   os.Getenv("LLM_API_KEY"),
			Model:    os.Getenv("LLM_MODEL"),
			BaseURL:  llmBaseURL,
		},
	}

	if url := os.Getenv("GRAPH_STORE_URL"); url != "" {
		config.GraphStore = &GraphStoreConfig{
			BaseURL:  url,
			Database: getEnvOrDefault("GRAPH_STORE_DATABASE", "neo4j"),
			Username: os.Getenv("GRAPH_STORE_USER"),
			Password: os.Getenv("GRAPH_STORE_PASSWORD"),
		}
	}

	return config, nil
}

// LoadConfigFromEnvFile loads configuration from a specific .env file.
//
// Parameters:
//   - envPath: Path to the .env file
//
// Returns a Config instance, or an error if loading fails.
func LoadConfigFromEnvFile(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	return LoadConfigFromEnv()
}

// LoadConfigFromJSON loads configuration from a JSON file.
//
// Parameters:
//   - path: Path to the JSON configuration file
//
// Returns a Config instance, or an error if loading or parsing fails.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewError("LoadConfigFromJSON", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, NewError("LoadConfigFromJSON", err)
	}

	return &config, nil
}

// LoadConfigFromYAML loads configuration from a YAML file.
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns a Config instance, or an error if loading or parsing fails.
func LoadConfigFromYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewError("LoadConfigFromYAML", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, NewError("LoadConfigFromYAML", err)
	}

	return &config, nil
}

// Validate validates the configuration.
//
// Checks that all required fields are set:
//   - DataDir must be specified
//   - Record store provider must be one of sqlite, postgres, mysql
//   - Embedder provider must be specified
//   - LLM provider must be specified
//   - A configured graph store must carry a base URL
//
// Returns an error if validation fails, nil otherwise.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return NewError("Validate", fmt.Errorf("%w: data_dir is required", ErrInvalidConfig))
	}
	switch c.RecordStore.Provider {
	case "sqlite", "postgres", "mysql":
	default:
		return NewError("Validate", fmt.Errorf("%w: unknown record store provider %q", ErrInvalidConfig, c.RecordStore.Provider))
	}
	if c.Embedder.Provider == "" {
		return NewError("Validate", fmt.Errorf("%w: embedder provider is required", ErrInvalidConfig))
	}
	if c.LLM.Provider == "" {
		return NewError("Validate", fmt.Errorf("%w: llm provider is required", ErrInvalidConfig))
	}
	if c.GraphStore != nil && c.GraphStore.BaseURL == "" {
		return NewError("Validate", fmt.Errorf("%w: graph store base_url is required", ErrInvalidConfig))
	}
	return nil
}

// getEnvOrDefault gets an environment variable or returns the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// FindEnvFile searches for .env or .env.example files.
//
// The search:
//  1. Checks the current directory
//  2. Searches up to 5 directory levels up
//  3. Returns the first .env or .env.example file found
//
// Returns:
//   - path: Path to the found file (empty if not found)
//   - found: True if a file was found, false otherwise
func FindEnvFile() (string, bool) {
	if _, err := os.Stat(".env"); err == nil {
		return ".env", true
	}
	if _, err := os.Stat(".env.example"); err == nil {
		return ".env.example", true
	}

	dir, _ := os.Getwd()
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		envExamplePath := filepath.Join(dir, ".env.example")

		if _, err := os.Stat(envPath); err == nil {
			return envPath, true
		}
		if _, err := os.Stat(envExamplePath); err == nil {
			return envExamplePath, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", false
}
