package domain

import "context"

// DocumentRepository defines the interface for document persistence.
// Status changes go only through BeginProcessing, CompleteProcessing and FailProcessing.
type DocumentRepository interface {
	// Create stores a new document in the uploaded state
	Create(ctx context.Context, doc *Document) error

	// GetByID retrieves a document by ID
	GetByID(ctx context.Context, id string) (*Document, error)

	// Delete deletes a document and its result.
	// A document in processing is not deleted and yields ErrAlreadyProcessing.
	Delete(ctx context.Context, id string) error

	// ListWithPagination retrieves documents with pagination, newest first
	ListWithPagination(ctx context.Context, params PaginationParams) (*PaginatedResult, error)

	// BeginProcessing atomically moves the document into processing.
	// Returns ErrAlreadyProcessing if a run is in flight and ErrNotFound if the document is missing.
	BeginProcessing(ctx context.Context, id, taskType string) (*Document, error)

	// CompleteProcessing upserts the result and marks the document completed in one transaction.
	CompleteProcessing(ctx context.Context, id, text, content string) (*Result, error)

	// FailProcessing marks a processing document failed with the given reason.
	// text is stored when extraction had already succeeded.
	FailProcessing(ctx context.Context, id string, text *string, reason string) error
}

// ResultRepository defines the interface for result persistence
type ResultRepository interface {
	// Upsert creates the result for the document or overwrites its content
	Upsert(ctx context.Context, documentID, content string) (*Result, error)

	// GetByDocumentID retrieves the result of a document
	GetByDocumentID(ctx context.Context, documentID string) (*Result, error)
}

// HealthChecker defines the interface for health checks
type HealthChecker interface {
	// CheckConnection checks if the database connection is healthy
	CheckConnection(ctx context.Context) error

	// EnsureCollections ensures that required tables/namespaces exist
	EnsureCollections(ctx context.Context) error
}
