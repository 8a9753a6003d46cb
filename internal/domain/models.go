package domain

import "time"

// Status is the processing state of a document.
type Status string

const (
	StatusUploaded   Status = "uploaded"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is one of the four known states.
func (s Status) Valid() bool {
	switch s {
	case StatusUploaded, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s ends a processing run.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanBeginProcessing reports whether a processing run may start from s.
// Completed and failed documents re-enter processing on an explicit reprocess request.
func (s Status) CanBeginProcessing() bool {
	return s == StatusUploaded || s.Terminal()
}

// Document represents one uploaded file
type Document struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	StoragePath string    `json:"storage_path"`
	FileType    Format    `json:"file_type"`
	TextContent *string   `json:"text_content,omitempty"` // set only after a successful extraction
	TaskType    string    `json:"task_type"`
	Status      Status    `json:"status"`
	Error       *string   `json:"error,omitempty"` // set only when Status is failed
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Result is the derived output of processing a Document, at most one per document
type Result struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// StatusView is what a client sees when it asks about a document.
type StatusView struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	TaskType   string `json:"task_type"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	Content    string `json:"content,omitempty"`
}

// PaginationParams represents pagination parameters
type PaginationParams struct {
	Limit  int
	Offset int
}

// PaginatedResult represents a paginated result
type PaginatedResult struct {
	Items   []*Document `json:"items"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
	HasMore bool        `json:"has_more"`
}
