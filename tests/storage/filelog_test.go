package storage_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallhq/recall-go/pkg/storage/filelog"
)

func newFileLog(t *testing.T) *filelog.Client {
	t.Helper()
	client, err := filelog.NewClient(t.TempDir())
	require.NoError(t, err)
	return client
}

func TestNewClientRequiresBaseDir(t *testing.T) {
	_, err := filelog.NewClient("")
	assert.Error(t, err)
}

func TestWriteAndRead(t *testing.T) {
	client := newFileLog(t)

	require.NoError(t, client.Write("user_001__proj_a", "context.md", []byte("# Memory Context\nhello")))

	data, err := client.Read("user_001__proj_a", "context.md")
	require.NoError(t, err)
	assert.Equal(t, "# Memory Context\nhello", string(data))
}

func TestWriteReplacesContent(t *testing.T) {
	client := newFileLog(t)

	require.NoError(t, client.Write("user_001", "summary.md", []byte("first")))
	require.NoError(t, client.Write("user_001", "summary.md", []byte("second")))

	data, err := client.Read("user_001", "summary.md")
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestAppendLineBuildsNDJSONStream(t *testing.T) {
	client := newFileLog(t)

	require.NoError(t, client.AppendLine("user_001", "journal/2026-08-30.ndjson", []byte(`{"event":"learn"}`)))
	require.NoError(t, client.AppendLine("user_001", "journal/2026-08-30.ndjson", []byte(`{"event":"reinforce"}`)))

	lines, err := client.ReadLines("user_001", "journal/2026-08-30.ndjson")
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, `{"event":"learn"}`, string(lines[0]))
	assert.Equal(t, `{"event":"reinforce"}`, string(lines[1]))
}

func TestReadLinesSkipsBlankLines(t *testing.T) {
	client := newFileLog(t)

	require.NoError(t, client.Write("user_001", "log.ndjson", []byte("one\n\n  \ntwo\n")))

	lines, err := client.ReadLines("user_001", "log.ndjson")
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "one", string(lines[0]))
	assert.Equal(t, "two", string(lines[1]))
}

func TestReadMissingFileFails(t *testing.T) {
	client := newFileLog(t)

	_, err := client.Read("user_001", "missing.md")
	assert.Error(t, err)
}

func TestExists(t *testing.T) {
	client := newFileLog(t)

	exists, err := client.Exists("user_001", "metadata.json")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, client.Write("user_001", "metadata.json", []byte("{}")))

	exists, err = client.Exists("user_001", "metadata.json")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestListFilesFiltersAndSorts(t *testing.T) {
	client := newFileLog(t)

	require.NoError(t, client.Write("user_001", "journal/2026-08-30.ndjson", []byte("b")))
	require.NoError(t, client.Write("user_001", "journal/2026-08-28.ndjson", []byte("a")))
	require.NoError(t, client.Write("user_001", "journal/notes.txt", []byte("c")))

	names, err := client.ListFiles("user_001", "journal", "2026-")
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-08-28.ndjson", "2026-08-30.ndjson"}, names)
}

func TestListFilesMissingDirReturnsEmpty(t *testing.T) {
	client := newFileLog(t)

	names, err := client.ListFiles("user_001", "journal", "")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestRemoveMissingFileIsNotAnError(t *testing.T) {
	client := newFileLog(t)
	assert.NoError(t, client.Remove("user_001", "gone.md"))
}

func TestScopeKeysAreSanitized(t *testing.T) {
	client := newFileLog(t)

	require.NoError(t, client.Write("../escape", "file.txt", []byte("contained")))

	// The write stays inside the base directory.
	entries, err := os.ReadDir(client.BaseDir())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotContains(t, entries[0].Name(), "..")

	_, err = os.Stat(filepath.Join(client.BaseDir(), entries[0].Name(), "file.txt"))
	assert.NoError(t, err)
}

func TestScopesAreIsolated(t *testing.T) {
	client := newFileLog(t)

	require.NoError(t, client.Write("user_001", "context.md", []byte("alpha")))
	require.NoError(t, client.Write("user_002", "context.md", []byte("beta")))

	data, err := client.Read("user_001", "context.md")
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(data))
}
