package domain

import "context"

// Extractor converts a stored file into normalized plain text.
// Failures are always *ExtractionError.
type Extractor interface {
	Extract(path string) (string, error)
}

// Transformer maps extracted text to the result content for a task type.
type Transformer interface {
	Transform(ctx context.Context, text, taskType string) (string, error)
}

// FileStorage durably stores uploaded bytes and returns the storage path.
type FileStorage interface {
	Save(ctx context.Context, filename string, data []byte) (string, error)
	Remove(path string) error
}

// Cache holds read-mostly values such as completed results.
type Cache interface {
	Get(ctx context.Context, key string) (interface{}, bool)
	Set(ctx context.Context, key string, value interface{}) error
	Delete(ctx context.Context, key string) error
	CleanExpired(ctx context.Context) error
}
