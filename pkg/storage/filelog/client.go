// Package filelog provides the file-backed log adapter.
//
// Each scope owns a directory derived from its scope key; files within
// it hold UTF-8 text documents (context, summary) and newline-delimited
// JSON streams (journal, operation log).
package filelog

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Client implements storage.FileLog on the local filesystem.
type Client struct {
	// baseDir is the root directory under which scope directories live.
	baseDir string
}

// NewClient creates a new file log rooted at baseDir.
//
// Parameters:
//   - baseDir: Root directory; created if absent
//
// Returns:
//   - *Client: The file log instance
//   - error: Error if the root directory cannot be created
func NewClient(baseDir string) (*Client, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("NewFileLog: base directory is required")
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("NewFileLog: %w", err)
	}
	return &Client{baseDir: baseDir}, nil
}

// BaseDir returns the root directory of the log.
func (c *Client) BaseDir() string {
	return c.baseDir
}

// path resolves a scoped file path, creating parent directories.
func (c *Client) path(scopeKey, name string, mkdir bool) (string, error) {
	p := filepath.Join(c.baseDir, sanitize(scopeKey), filepath.FromSlash(name))
	if mkdir {
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return "", err
		}
	}
	return p, nil
}

// Write replaces the named file's content within a scope directory.
func (c *Client) Write(scopeKey, name string, data []byte) error {
	p, err := c.path(scopeKey, name, true)
	if err != nil {
		return fmt.Errorf("Write: %w", err)
	}
	if err := os.WriteFile(p, data, 0644); err != nil {
		return fmt.Errorf("Write: %w", err)
	}
	return nil
}

// Append appends data to the named file, creating it if absent.
func (c *Client) Append(scopeKey, name string, data []byte) error {
	p, err := c.path(scopeKey, name, true)
	if err != nil {
		return fmt.Errorf("Append: %w", err)
	}

	f, err := os.OpenFile(p, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("Append: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("Append: %w", err)
	}
	return nil
}

// AppendLine appends data plus a trailing newline.
func (c *Client) AppendLine(scopeKey, name string, data []byte) error {
	return c.Append(scopeKey, name, append(data, '\n'))
}

// Read returns the named file's full content.
func (c *Client) Read(scopeKey, name string) ([]byte, error) {
	p, err := c.path(scopeKey, name, false)
	if err != nil {
		return nil, fmt.Errorf("Read: %w", err)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("Read: %w", err)
	}
	return data, nil
}

// ReadLines returns the file's non-empty lines in order.
func (c *Client) ReadLines(scopeKey, name string) ([][]byte, error) {
	data, err := c.Read(scopeKey, name)
	if err != nil {
		return nil, err
	}

	raw := bytes.Split(data, []byte("\n"))
	lines := make([][]byte, 0, len(raw))
	for _, line := range raw {
		if len(bytes.TrimSpace(line)) > 0 {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

// Exists reports whether the named file exists.
func (c *Client) Exists(scopeKey, name string) (bool, error) {
	p, err := c.path(scopeKey, name, false)
	if err != nil {
		return false, fmt.Errorf("Exists: %w", err)
	}
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("Exists: %w", err)
	}
	return true, nil
}

// ListFiles returns file names in a scope subdirectory matching the
// prefix, sorted lexically.
func (c *Client) ListFiles(scopeKey, dir, prefix string) ([]string, error) {
	p := filepath.Join(c.baseDir, sanitize(scopeKey), filepath.FromSlash(dir))
	entries, err := os.ReadDir(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("ListFiles: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if prefix == "" || strings.HasPrefix(e.Name(), prefix) {
			names = append(names, e.Name())
		}
	}

	sort.Strings(names)
	return names, nil
}

// Remove deletes the named file. Removing a missing file is not an
// error.
func (c *Client) Remove(scopeKey, name string) error {
	p, err := c.path(scopeKey, name, false)
	if err != nil {
		return fmt.Errorf("Remove: %w", err)
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("Remove: %w", err)
	}
	return nil
}

// Close closes the log. The filesystem client holds no open handles.
func (c *Client) Close() error {
	return nil
}

// sanitize makes a scope key safe for use as a directory name.
func sanitize(key string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		"..", "_",
		":", "_",
	)
	s := replacer.Replace(key)
	if s == "" {
		s = "_default"
	}
	return s
}
