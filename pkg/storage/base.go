// Package storage provides the adapter contracts for the heterogeneous
// backing stores: the relational record store, the vector index, the
// graph store, and the per-scope file log.
//
// The types here are defined in the storage package to avoid circular
// dependencies with the core package. Record mirrors core.MemoryRecord.
package storage

import (
	"context"
	"time"
)

// Adapter names used as write-coordinator targets. The slice order is
// the fixed delivery order for multi-store writes.
const (
	TargetRecordStore = "record-store"
	TargetVectorIndex = "vector-index"
	TargetGraphStore  = "graph-store"
	TargetMemoryLog   = "memory-log"
)

// DefaultTargets returns the full target set in delivery order.
func DefaultTargets() []string {
	return []string{TargetRecordStore, TargetVectorIndex, TargetGraphStore, TargetMemoryLog}
}

// Record represents a memory record persisted by the record store and
// mirrored into the derived stores.
type Record struct {
	// ID is the unique identifier of the record.
	ID int64

	// Content is the text content of the memory.
	Content string

	// Kind classifies the memory (semantic, episodic, working).
	Kind string

	// OwnerID identifies the user who owns this record.
	OwnerID string

	// ProjectID optionally scopes the record to a project.
	ProjectID string

	// Metadata contains additional structured information.
	Metadata map[string]interface{}

	// Embedding is the vector embedding for similarity search.
	Embedding []float64

	// CreatedAt is when the record was created.
	CreatedAt time.Time

	// UpdatedAt is when the record was last written.
	UpdatedAt time.Time
}

// ListOptions contains options for RecordStore.List.
type ListOptions struct {
	// OwnerID filters results to a specific owner.
	OwnerID string

	// ProjectID filters results to a specific project.
	ProjectID string

	// Kind filters results to a specific memory kind.
	Kind string

	// Limit sets the maximum number of results to return.
	Limit int

	// Offset sets the number of results to skip (for pagination).
	Offset int
}

// RecordStore is the relational system of record for memory records.
//
// All SQL implementations (SQLite, PostgreSQL, MySQL) must satisfy this
// interface. Insert and Update are keyed by Record.ID; Delete and Get
// support the coordinator's compensation path.
type RecordStore interface {
	// Insert inserts a record. Inserting an existing ID is an error.
	Insert(ctx context.Context, record *Record) error

	// Update replaces the stored record with the given ID.
	Update(ctx context.Context, record *Record) error

	// Get retrieves a record by ID.
	Get(ctx context.Context, id int64) (*Record, error)

	// Delete removes a record by ID.
	Delete(ctx context.Context, id int64) error

	// List retrieves records with optional filtering and pagination,
	// newest first.
	List(ctx context.Context, opts *ListOptions) ([]*Record, error)

	// Close closes the store and releases resources.
	Close() error
}

// VectorHit is a single scored result from a vector similarity search.
type VectorHit struct {
	// ID is the document identifier.
	ID string

	// Score is the similarity score in [0, 1], higher is better.
	Score float64

	// Payload carries the stored document payload.
	Payload map[string]string

	// Content is the stored document text.
	Content string
}

// VectorIndex is the similarity-search adapter. One collection exists
// per scope; collections are created lazily on first upsert.
type VectorIndex interface {
	// Upsert inserts or replaces a vector document in a collection.
	Upsert(ctx context.Context, collection, id string, vector []float64, content string, payload map[string]string) error

	// Search performs similarity search over a collection.
	//
	// Results are sorted by score (highest first), limited to topK, and
	// filtered to hits with score >= scoreThreshold. The filter map is
	// matched exactly against document payloads.
	Search(ctx context.Context, collection string, vector []float64, topK int, scoreThreshold float64, filter map[string]string) ([]VectorHit, error)

	// Delete removes a vector document from a collection.
	Delete(ctx context.Context, collection, id string) error

	// Close closes the index and releases resources.
	Close() error
}

// GraphRow is one row returned by a graph query.
type GraphRow map[string]interface{}

// GraphStore is the graph adapter. It is used for entity nodes,
// concept relationships, and 1-hop neighbor expansion during retrieval.
type GraphStore interface {
	// CreateNode creates a node with the given label and properties.
	// Nodes are keyed by the "name" property within a label.
	CreateNode(ctx context.Context, label string, props map[string]interface{}) error

	// CreateRelationship creates a typed relationship between two nodes
	// identified by name.
	CreateRelationship(ctx context.Context, fromName, toName, relType string, props map[string]interface{}) error

	// Query runs a cypher-like statement with parameters and returns rows.
	Query(ctx context.Context, statement string, params map[string]interface{}) ([]GraphRow, error)

	// DeleteNode removes a node (and its relationships) by label and name.
	DeleteNode(ctx context.Context, label, name string) error

	// Close closes the store and releases resources.
	Close() error
}

// FileLog is the file-backed log adapter. Files live under a directory
// derived from the scope key; text files hold UTF-8 documents and line
// files hold newline-delimited JSON.
type FileLog interface {
	// Write replaces the named file's content within a scope directory.
	Write(scopeKey, name string, data []byte) error

	// Append appends data to the named file, creating it if absent.
	Append(scopeKey, name string, data []byte) error

	// AppendLine appends data plus a trailing newline.
	AppendLine(scopeKey, name string, data []byte) error

	// Read returns the named file's full content.
	Read(scopeKey, name string) ([]byte, error)

	// ReadLines returns the file's non-empty lines in order.
	ReadLines(scopeKey, name string) ([][]byte, error)

	// Exists reports whether the named file exists.
	Exists(scopeKey, name string) (bool, error)

	// ListFiles returns file names in a scope subdirectory matching the
	// prefix, sorted lexically.
	ListFiles(scopeKey, dir, prefix string) ([]string, error)

	// Remove deletes the named file. Removing a missing file is not an
	// error.
	Remove(scopeKey, name string) error

	// Close closes the log.
	Close() error
}
