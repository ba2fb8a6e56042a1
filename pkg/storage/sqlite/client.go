// Package sqlite provides the SQLite implementation of the relational
// record store.
//
// SQLite is a lightweight, file-based database suitable for local
// development and single-host deployments. Embeddings and metadata are
// stored as JSON strings in TEXT fields.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/recallhq/recall-go/pkg/storage"
)

// Client implements storage.RecordStore using SQLite as the backend.
type Client struct {
	// db is the SQLite database connection.
	db *sql.DB

	// tableName is the name of the table storing records.
	tableName string
}

// Config contains configuration for creating a SQLite record store.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// TableName is the name of the table to use. Defaults to "memories".
	TableName string
}

// NewClient creates a new SQLite record store client.
//
// Parameters:
//   - cfg: Configuration containing database path and table name
//
// Returns:
//   - *Client: The SQLite client instance
//   - error: Error if database connection or table creation fails
func NewClient(cfg *Config) (*Client, error) {
	// Create parent directory if it doesn't exist
	dbDir := filepath.Dir(cfg.DBPath)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("NewSQLiteClient: failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	table := cfg.TableName
	if table == "" {
		table = "memories"
	}

	client := &Client{
		db:        db,
		tableName: table,
	}

	if err := client.initTables(context.Background()); err != nil {
		return nil, err
	}

	return client, nil
}

// initTables initializes the database table structure.
func (c *Client) initTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY,
			content TEXT NOT NULL,
			kind TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			project_id TEXT,
			metadata TEXT,
			embedding TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`, c.tableName)

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("initTables: %w", err)
	}

	indexQuery := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS idx_%s_scope ON %s(owner_id, project_id)
	`, c.tableName, c.tableName)
	if _, err := c.db.ExecContext(ctx, indexQuery); err != nil {
		return fmt.Errorf("initTables: %w", err)
	}

	return nil
}

// Insert inserts a record into the SQLite database.
func (c *Client) Insert(ctx context.Context, record *storage.Record) error {
	query := fmt.Sprintf(`
		INSERT INTO %s
		(id, content, kind, owner_id, project_id, metadata, embedding, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.tableName)

	metadataJSON, embeddingJSON, err := marshalFields(record)
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}

	now := time.Now()
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err = c.db.ExecContext(ctx, query,
		record.ID,
		record.Content,
		record.Kind,
		record.OwnerID,
		record.ProjectID,
		metadataJSON,
		embeddingJSON,
		createdAt,
		now,
	)
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}

	return nil
}

// Update replaces the stored record with the given ID.
func (c *Client) Update(ctx context.Context, record *storage.Record) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET content = ?, kind = ?, metadata = ?, embedding = ?, updated_at = ?
		WHERE id = ?
	`, c.tableName)

	metadataJSON, embeddingJSON, err := marshalFields(record)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}

	result, err := c.db.ExecContext(ctx, query,
		record.Content,
		record.Kind,
		metadataJSON,
		embeddingJSON,
		time.Now(),
		record.ID,
	)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("Update: record %d not found", record.ID)
	}

	return nil
}

// Get retrieves a record by ID.
func (c *Client) Get(ctx context.Context, id int64) (*storage.Record, error) {
	query := fmt.Sprintf(`
		SELECT id, content, kind, owner_id, project_id, metadata, embedding, created_at, updated_at
		FROM %s
		WHERE id = ?
	`, c.tableName)

	record, err := scanRecord(c.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("Get: record %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}

	return record, nil
}

// Delete removes a record by ID.
func (c *Client) Delete(ctx context.Context, id int64) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", c.tableName)

	result, err := c.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("Delete: record %d not found", id)
	}

	return nil
}

// List retrieves records with optional filtering and pagination.
func (c *Client) List(ctx context.Context, opts *storage.ListOptions) ([]*storage.Record, error) {
	if opts == nil {
		opts = &storage.ListOptions{}
	}

	whereClause, args := buildWhereClause(opts)

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	query := fmt.Sprintf(`
		SELECT id, content, kind, owner_id, project_id, metadata, embedding, created_at, updated_at
		FROM %s
		%s
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, c.tableName, whereClause)

	args = append(args, limit, opts.Offset)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*storage.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("List: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}

	return records, nil
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// buildWhereClause builds a WHERE clause from list options.
func buildWhereClause(opts *storage.ListOptions) (string, []interface{}) {
	clause := ""
	var args []interface{}

	add := func(cond string, arg interface{}) {
		if clause == "" {
			clause = "WHERE " + cond
		} else {
			clause += " AND " + cond
		}
		args = append(args, arg)
	}

	if opts.OwnerID != "" {
		add("owner_id = ?", opts.OwnerID)
	}
	if opts.ProjectID != "" {
		add("project_id = ?", opts.ProjectID)
	}
	if opts.Kind != "" {
		add("kind = ?", opts.Kind)
	}

	return clause, args
}

// marshalFields serializes the JSON-encoded columns of a record.
func marshalFields(record *storage.Record) (metadata string, embedding string, err error) {
	metadataBytes, err := json.Marshal(record.Metadata)
	if err != nil {
		return "", "", err
	}
	embeddingBytes, err := json.Marshal(record.Embedding)
	if err != nil {
		return "", "", err
	}
	return string(metadataBytes), string(embeddingBytes), nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanning.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanRecord scans a record from a database row or rows.
func scanRecord(scanner rowScanner) (*storage.Record, error) {
	var record storage.Record
	var projectID sql.NullString
	var metadataStr, embeddingStr sql.NullString

	err := scanner.Scan(
		&record.ID,
		&record.Content,
		&record.Kind,
		&record.OwnerID,
		&projectID,
		&metadataStr,
		&embeddingStr,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if projectID.Valid {
		record.ProjectID = projectID.String
	}
	if metadataStr.Valid && metadataStr.String != "" && metadataStr.String != "null" {
		if err := json.Unmarshal([]byte(metadataStr.String), &record.Metadata); err != nil {
			return nil, fmt.Errorf("parse metadata: %w", err)
		}
	}
	if embeddingStr.Valid && embeddingStr.String != "" && embeddingStr.String != "null" {
		if err := json.Unmarshal([]byte(embeddingStr.String), &record.Embedding); err != nil {
			return nil, fmt.Errorf("parse embedding: %w", err)
		}
	}

	return &record, nil
}
