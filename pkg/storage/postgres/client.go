// Package postgres provides the PostgreSQL implementation of the
// relational record store.
//
// PostgreSQL is suitable for shared deployments where the record store
// outlives a single host. Embeddings and metadata are stored as JSONB.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/recallhq/recall-go/pkg/storage"
)

// Client implements storage.RecordStore using PostgreSQL as the backend.
type Client struct {
	// db is the PostgreSQL database connection pool.
	db *sql.DB

	// tableName is the name of the table storing records.
	tableName string
}

// Config contains configuration for creating a PostgreSQL record store.
type Config struct {
	// Host is the database server host.
	Host string

	// Port is the database server port.
	Port int

	// User is the database user.
	User string

	// Password is the database password.
	Password string

	// DBName is the database name.
	DBName string

	// TableName is the name of the table to use. Defaults to "memories".
	TableName string

	// SSLMode is the PostgreSQL sslmode setting. Defaults to "disable".
	SSLMode string
}

// NewClient creates a new PostgreSQL record store client.
//
// Parameters:
//   - cfg: Configuration containing connection and table settings
//
// Returns:
//   - *Client: The PostgreSQL client instance
//   - error: Error if the connection or table creation fails
func NewClient(cfg *Config) (*Client, error) {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
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
			id BIGINT PRIMARY KEY,
			content TEXT NOT NULL,
			kind TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			project_id TEXT,
			metadata JSONB,
			embedding JSONB,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW()
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

// Insert inserts a record into the PostgreSQL database.
func (c *Client) Insert(ctx context.Context, record *storage.Record) error {
	query := fmt.Sprintf(`
		INSERT INTO %s
		(id, content, kind, owner_id, project_id, metadata, embedding, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
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
		SET content = $1, kind = $2, metadata = $3, embedding = $4, updated_at = $5
		WHERE id = $6
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
		WHERE id = $1
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
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", c.tableName)

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
		LIMIT $%d OFFSET $%d
	`, c.tableName, whereClause, len(args)+1, len(args)+2)

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

// buildWhereClause builds a WHERE clause with numbered placeholders.
func buildWhereClause(opts *storage.ListOptions) (string, []interface{}) {
	clause := ""
	var args []interface{}

	add := func(column string, arg interface{}) {
		args = append(args, arg)
		cond := fmt.Sprintf("%s = $%d", column, len(args))
		if clause == "" {
			clause = "WHERE " + cond
		} else {
			clause += " AND " + cond
		}
	}

	if opts.OwnerID != "" {
		add("owner_id", opts.OwnerID)
	}
	if opts.ProjectID != "" {
		add("project_id", opts.ProjectID)
	}
	if opts.Kind != "" {
		add("kind", opts.Kind)
	}

	return clause, args
}

// marshalFields serializes the JSONB columns of a record.
func marshalFields(record *storage.Record) (metadata []byte, embedding []byte, err error) {
	metadata, err = json.Marshal(record.Metadata)
	if err != nil {
		return nil, nil, err
	}
	embedding, err = json.Marshal(record.Embedding)
	if err != nil {
		return nil, nil, err
	}
	return metadata, embedding, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanning.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanRecord scans a record from a database row or rows.
func scanRecord(scanner rowScanner) (*storage.Record, error) {
	var record storage.Record
	var projectID sql.NullString
	var metadataBytes, embeddingBytes []byte

	err := scanner.Scan(
		&record.ID,
		&record.Content,
		&record.Kind,
		&record.OwnerID,
		&projectID,
		&metadataBytes,
		&embeddingBytes,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if projectID.Valid {
		record.ProjectID = projectID.String
	}
	if len(metadataBytes) > 0 && string(metadataBytes) != "null" {
		if err := json.Unmarshal(metadataBytes, &record.Metadata); err != nil {
			return nil, fmt.Errorf("parse metadata: %w", err)
		}
	}
	if len(embeddingBytes) > 0 && string(embeddingBytes) != "null" {
		if err := json.Unmarshal(embeddingBytes, &record.Embedding); err != nil {
			return nil, fmt.Errorf("parse embedding: %w", err)
		}
	}

	return &record, nil
}
