// Package graphdb provides the graph store adapter, speaking the Neo4j
// HTTP transaction API over REST.
//
// Only a small surface is used: node and relationship creation plus
// parameterised read queries for 1-hop neighbor expansion.
package graphdb

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/recallhq/recall-go/pkg/storage"
)

// Client implements storage.GraphStore against a Neo4j-compatible HTTP
// endpoint.
type Client struct {
	baseURL    string
	database   string
	authHeader string
	httpClient *http.Client
}

// Config contains configuration for creating a graph store client.
type Config struct {
	// BaseURL is the server base URL, e.g. "http://localhost:7474".
	BaseURL string

	// Database is the database name. Defaults to "neo4j".
	Database string

	// Username and Password are basic-auth credentials (optional).
	Username string
	Password string

	// Timeout bounds each HTTP request. Defaults to 10s.
	Timeout time.Duration
}

// NewClient creates a new graph store client.
//
// Parameters:
//   - cfg: Configuration containing endpoint and credentials
//
// Returns:
//   - *Client: The graph client instance
//   - error: Error if the configuration is invalid
func NewClient(cfg *Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("NewGraphClient: base URL is required")
	}

	database := cfg.Database
	if database == "" {
		database = "neo4j"
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	authHeader := ""
	if cfg.Username != "" {
		creds := base64.StdEncoding.EncodeToString([]byte(cfg.Username + ":" + cfg.Password))
		authHeader = "Basic " + creds
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		database:   database,
		authHeader: authHeader,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// statement is one cypher statement submitted to the transaction API.
type statement struct {
	Statement  string                 `json:"statement"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// txResponse is the transaction API response envelope.
type txResponse struct {
	Results []struct {
		Columns []string `json:"columns"`
		Data    []struct {
			Row []interface{} `json:"row"`
		} `json:"data"`
	} `json:"results"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// CreateNode creates (or merges) a node with the given label and
// properties. Nodes are keyed by the "name" property.
func (c *Client) CreateNode(ctx context.Context, label string, props map[string]interface{}) error {
	name, _ := props["name"].(string)
	if name == "" {
		return fmt.Errorf("CreateNode: props must include a name")
	}

	stmt := fmt.Sprintf("MERGE (n:%s {name: $name}) SET n += $props", label)
	_, err := c.commit(ctx, statement{
		Statement: stmt,
		Parameters: map[string]interface{}{
			"name":  name,
			"props": props,
		},
	})
	if err != nil {
		return fmt.Errorf("CreateNode: %w", err)
	}
	return nil
}

// CreateRelationship creates (or merges) a typed relationship between
// two nodes identified by name.
func (c *Client) CreateRelationship(ctx context.Context, fromName, toName, relType string, props map[string]interface{}) error {
	stmt := fmt.Sprintf(
		"MATCH (a {name: $from}), (b {name: $to}) MERGE (a)-[r:%s]->(b) SET r += $props",
		relType,
	)
	if props == nil {
		props = map[string]interface{}{}
	}
	_, err := c.commit(ctx, statement{
		Statement: stmt,
		Parameters: map[string]interface{}{
			"from":  fromName,
			"to":    toName,
			"props": props,
		},
	})
	if err != nil {
		return fmt.Errorf("CreateRelationship: %w", err)
	}
	return nil
}

// Query runs a cypher statement with parameters and returns rows keyed
// by result column name.
func (c *Client) Query(ctx context.Context, stmt string, params map[string]interface{}) ([]storage.GraphRow, error) {
	resp, err := c.commit(ctx, statement{Statement: stmt, Parameters: params})
	if err != nil {
		return nil, fmt.Errorf("Query: %w", err)
	}

	if len(resp.Results) == 0 {
		return nil, nil
	}

	result := resp.Results[0]
	rows := make([]storage.GraphRow, 0, len(result.Data))
	for _, d := range result.Data {
		row := make(storage.GraphRow, len(result.Columns))
		for i, col := range result.Columns {
			if i < len(d.Row) {
				row[col] = d.Row[i]
			}
		}
		rows = append(rows, row)
	}

	return rows, nil
}

// DeleteNode removes a node and its relationships by label and name.
func (c *Client) DeleteNode(ctx context.Context, label, name string) error {
	stmt := fmt.Sprintf("MATCH (n:%s {name: $name}) DETACH DELETE n", label)
	_, err := c.commit(ctx, statement{
		Statement:  stmt,
		Parameters: map[string]interface{}{"name": name},
	})
	if err != nil {
		return fmt.Errorf("DeleteNode: %w", err)
	}
	return nil
}

// Close closes the client. The HTTP client holds no persistent state.
func (c *Client) Close() error {
	return nil
}

// commit submits statements to the auto-commit transaction endpoint.
func (c *Client) commit(ctx context.Context, stmts ...statement) (*txResponse, error) {
	body, err := json.Marshal(map[string]interface{}{"statements": stmts})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/db/%s/tx/commit", c.baseURL, c.database)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.authHeader != "" {
		req.Header.Set("Authorization", c.authHeader)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("graph server returned status %d: %s", resp.StatusCode, truncate(string(data), 200))
	}

	var parsed txResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if len(parsed.Errors) > 0 {
		return nil, fmt.Errorf("%s: %s", parsed.Errors[0].Code, parsed.Errors[0].Message)
	}

	return &parsed, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
