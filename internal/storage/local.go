// Package storage keeps uploaded files on the local file system.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/your-org/docflow/internal/domain"
)

// ErrTooLarge is returned when an upload exceeds the configured limit.
var ErrTooLarge = errors.New("upload exceeds maximum size")

// Local writes uploads under a single directory using random names.
type Local struct {
	dir     string
	maxSize int64
	logger  *zap.Logger
}

// NewLocal creates the upload directory if needed.
func NewLocal(dir string, maxSize int64, logger *zap.Logger) (*Local, error) {
	if dir == "" {
		return nil, errors.New("upload directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Local{dir: dir, maxSize: maxSize, logger: logger}, nil
}

// Save writes data to <dir>/<uuid><ext> and syncs it to disk before returning,
// so extraction never sees a partially written file.
func (l *Local) Save(ctx context.Context, filename string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if l.maxSize > 0 && int64(len(data)) > l.maxSize {
		return "", fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, len(data), l.maxSize)
	}

	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	path := filepath.Join(l.dir, uuid.NewString()+ext)

	tmp, err := os.CreateTemp(l.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	cleanup := func() { _ = os.Remove(tmp.Name()) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return "", fmt.Errorf("sync upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", fmt.Errorf("close upload: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		cleanup()
		return "", fmt.Errorf("move upload into place: %w", err)
	}

	l.logger.Debug("upload stored",
		zap.String("filename", filename),
		zap.String("path", path),
		zap.Int("bytes", len(data)),
	)
	return path, nil
}

// Remove deletes a stored file. Missing files are not an error.
func (l *Local) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

var _ domain.FileStorage = (*Local)(nil)
