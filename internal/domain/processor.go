package domain

import "context"

// ProcessRequest asks for one processing run of a document.
type ProcessRequest struct {
	DocumentID string
	TaskType   string
}

// ProcessFunc runs a single processing request.
type ProcessFunc func(ctx context.Context, req ProcessRequest) (*ProcessOutcome, error)

// DocumentProcessor defines the interface for batch document processing
type DocumentProcessor interface {
	// ProcessDocuments runs fn for every request while preserving order.
	// The order of results matches the order of input requests.
	ProcessDocuments(ctx context.Context, requests []ProcessRequest, fn ProcessFunc) ([]*ProcessedDocument, error)
}

// ProcessOutcome is the final state of one processing run.
type ProcessOutcome struct {
	DocumentID string
	Status     Status
	Result     *Result
	Error      string
}

// ProcessedDocument pairs a request with its outcome
type ProcessedDocument struct {
	Request ProcessRequest
	Outcome *ProcessOutcome
	Error   error
}
