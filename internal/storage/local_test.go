package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestLocalSave(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "uploads")
	s, err := NewLocal(dir, 1024, zaptest.NewLogger(t))
	require.NoError(t, err)

	path, err := s.Save(context.Background(), "Report.PDF", []byte("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))
	assert.True(t, strings.HasSuffix(path, ".pdf"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(data))

	other, err := s.Save(context.Background(), "Report.PDF", []byte("x"))
	require.NoError(t, err)
	assert.NotEqual(t, path, other)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temp files left behind")
}

func TestLocalSaveTooLarge(t *testing.T) {
	s, err := NewLocal(t.TempDir(), 3, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = s.Save(context.Background(), "a.txt", []byte("four"))
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestLocalRemove(t *testing.T) {
	s, err := NewLocal(t.TempDir(), 0, zaptest.NewLogger(t))
	require.NoError(t, err)

	path, err := s.Save(context.Background(), "a.txt", []byte("x"))
	require.NoError(t, err)
	require.NoError(t, s.Remove(path))
	require.NoError(t, s.Remove(path))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
