package usecases

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/your-org/docflow/internal/domain"
)

// MockDocumentRepository is a mock implementation of DocumentRepository
type MockDocumentRepository struct {
	mock.Mock
}

var _ domain.DocumentRepository = (*MockDocumentRepository)(nil)

func (m *MockDocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	args := m.Called(ctx, doc)
	return args.Error(0)
}

func (m *MockDocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *MockDocumentRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockDocumentRepository) ListWithPagination(ctx context.Context, params domain.PaginationParams) (*domain.PaginatedResult, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PaginatedResult), args.Error(1)
}

func (m *MockDocumentRepository) BeginProcessing(ctx context.Context, id, taskType string) (*domain.Document, error) {
	args := m.Called(ctx, id, taskType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *MockDocumentRepository) CompleteProcessing(ctx context.Context, id, text, content string) (*domain.Result, error) {
	args := m.Called(ctx, id, text, content)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Result), args.Error(1)
}

func (m *MockDocumentRepository) FailProcessing(ctx context.Context, id string, text *string, reason string) error {
	args := m.Called(ctx, id, text, reason)
	return args.Error(0)
}

// MockResultRepository is a mock implementation of ResultRepository
type MockResultRepository struct {
	mock.Mock
}

var _ domain.ResultRepository = (*MockResultRepository)(nil)

func (m *MockResultRepository) Upsert(ctx context.Context, documentID, content string) (*domain.Result, error) {
	args := m.Called(ctx, documentID, content)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Result), args.Error(1)
}

func (m *MockResultRepository) GetByDocumentID(ctx context.Context, documentID string) (*domain.Result, error) {
	args := m.Called(ctx, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Result), args.Error(1)
}

// MockFileStorage is a mock implementation of FileStorage
type MockFileStorage struct {
	mock.Mock
}

var _ domain.FileStorage = (*MockFileStorage)(nil)

func (m *MockFileStorage) Save(ctx context.Context, filename string, data []byte) (string, error) {
	args := m.Called(ctx, filename, data)
	return args.String(0), args.Error(1)
}

func (m *MockFileStorage) Remove(path string) error {
	args := m.Called(path)
	return args.Error(0)
}

// MockExtractor is a mock implementation of Extractor
type MockExtractor struct {
	mock.Mock
}

var _ domain.Extractor = (*MockExtractor)(nil)

func (m *MockExtractor) Extract(path string) (string, error) {
	args := m.Called(path)
	return args.String(0), args.Error(1)
}

// MockTransformer is a mock implementation of Transformer
type MockTransformer struct {
	mock.Mock
}

var _ domain.Transformer = (*MockTransformer)(nil)

func (m *MockTransformer) Transform(ctx context.Context, text, taskType string) (string, error) {
	args := m.Called(ctx, text, taskType)
	return args.String(0), args.Error(1)
}

// blockingProcessor holds every batch until release is closed.
type blockingProcessor struct {
	release chan struct{}
}

func (p *blockingProcessor) ProcessDocuments(ctx context.Context, reqs []domain.ProcessRequest, fn domain.ProcessFunc) ([]*domain.ProcessedDocument, error) {
	<-p.release
	return []*domain.ProcessedDocument{}, nil
}
