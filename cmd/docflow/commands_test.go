package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/docflow/internal/domain"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()

	app := NewApp("")
	t.Cleanup(func() { _ = app.Shutdown() })

	root := newRootCmd(app)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestExtractCommand_PrintsNormalizedText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "note.txt")
	require.NoError(t, os.WriteFile(path, []byte("Hello   world.\n\n\nSecond line."), 0o644))

	out, err := runCmd(t, "extract", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Hello world.")
	assert.Contains(t, out, "Second line.")
}

func TestExtractCommand_UnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.doc")
	require.NoError(t, os.WriteFile(path, []byte("binary"), 0o644))

	_, err := runCmd(t, "extract", path)
	require.Error(t, err)
	assert.True(t, domain.IsUnsupportedFormat(err))
	assert.Contains(t, err.Error(), ".pdf")
}

func TestUploadProcess_MoreFilesThanQueueSize(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	config := "storage:\n  sqlite_path: " + filepath.Join(dir, "docflow.db") + "\n" +
		"uploads:\n  dir: " + filepath.Join(dir, "uploads") + "\n" +
		"processor:\n  workers: 1\n  queue_size: 1\n"
	require.NoError(t, os.WriteFile(configPath, []byte(config), 0o644))

	args := []string{"--config", configPath, "upload", "--process"}
	for i := 0; i < 4; i++ {
		path := filepath.Join(dir, fmt.Sprintf("note-%d.txt", i))
		require.NoError(t, os.WriteFile(path, []byte("Hello world. This is a test."), 0o644))
		args = append(args, path)
	}

	out, err := runCmd(t, args...)
	require.NoError(t, err)

	var views []domain.StatusView
	require.NoError(t, json.Unmarshal([]byte(out), &views))
	require.Len(t, views, 4)
	for _, v := range views {
		assert.Equal(t, domain.StatusCompleted, v.Status)
		assert.Equal(t, "Hello world.", v.Content)
	}
}

func TestCommands_RequireArguments(t *testing.T) {
	for _, name := range []string{"upload", "process", "status", "result", "extract", "delete"} {
		t.Run(name, func(t *testing.T) {
			_, err := runCmd(t, name)
			assert.Error(t, err)
		})
	}
}

func TestWriteJSON_SnakeCaseAndNoHTMLEscaping(t *testing.T) {
	var buf bytes.Buffer
	page := &domain.PaginatedResult{
		Items:   []*domain.Document{{ID: "doc-1", Filename: "a<b>.txt", Status: domain.StatusUploaded}},
		Total:   3,
		Limit:   1,
		HasMore: true,
	}
	require.NoError(t, writeJSON(&buf, page))
	assert.Contains(t, buf.String(), `"a<b>.txt"`)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, true, decoded["has_more"])
	assert.EqualValues(t, 3, decoded["total"])
	items := decoded["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "uploaded", items[0].(map[string]any)["status"])
}
