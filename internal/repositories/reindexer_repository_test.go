package repositories

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/your-org/docflow/internal/domain"
)

// newTestReindexer подключается к реальному Reindexer из Docker.
// Тесты пропускаются, если REINDEXER_DSN не задан.
func newTestReindexer(t *testing.T) *ReindexerRepository {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	dsn := os.Getenv("REINDEXER_DSN")
	if dsn == "" {
		t.Skip("REINDEXER_DSN is not set")
	}

	ns := fmt.Sprintf("documents_test_%d", time.Now().UnixNano())
	repo, err := NewReindexerRepository(dsn, ns, 4, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, repo.EnsureCollections(context.Background()))
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestReindexerLifecycle(t *testing.T) {
	repo := newTestReindexer(t)
	ctx := context.Background()
	doc := createDoc(t, repo, "a.txt")

	_, err := repo.BeginProcessing(ctx, doc.ID, "")
	require.NoError(t, err)
	_, err = repo.BeginProcessing(ctx, doc.ID, "")
	assert.ErrorIs(t, err, domain.ErrAlreadyProcessing)

	first, err := repo.CompleteProcessing(ctx, doc.ID, "Hello world.", "A")
	require.NoError(t, err)

	_, err = repo.BeginProcessing(ctx, doc.ID, "TASK1")
	require.NoError(t, err)
	second, err := repo.CompleteProcessing(ctx, doc.ID, "Hello world.", "B")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "B", second.Content)

	got, err := repo.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, "TASK1", got.TaskType)

	require.NoError(t, repo.Delete(ctx, doc.ID))
	_, err = repo.GetByDocumentID(ctx, doc.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReindexerFailProcessing(t *testing.T) {
	repo := newTestReindexer(t)
	ctx := context.Background()
	doc := createDoc(t, repo, "a.doc")

	assert.ErrorIs(t, repo.FailProcessing(ctx, doc.ID, nil, "x"), domain.ErrInvalidTransition)

	_, err := repo.BeginProcessing(ctx, doc.ID, "")
	require.NoError(t, err)
	require.NoError(t, repo.FailProcessing(ctx, doc.ID, nil, "unsupported format"))

	got, err := repo.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "unsupported format", *got.Error)
	assert.Nil(t, got.TextContent)
}

// TestReindexerConcurrentBeginProcessing проверяет, что документ захватывает ровно один воркер.
func TestReindexerConcurrentBeginProcessing(t *testing.T) {
	repo := newTestReindexer(t)
	ctx := context.Background()
	doc := createDoc(t, repo, "a.txt")

	const workers = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed int
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			if _, err := repo.BeginProcessing(ctx, doc.ID, ""); err == nil {
				mu.Lock()
				claimed++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, domain.ErrAlreadyProcessing)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, claimed)
}

func TestReindexerDeleteRejectsProcessingDocument(t *testing.T) {
	repo := newTestReindexer(t)
	ctx := context.Background()
	doc := createDoc(t, repo, "busy.txt")

	_, err := repo.BeginProcessing(ctx, doc.ID, "")
	require.NoError(t, err)
	assert.ErrorIs(t, repo.Delete(ctx, doc.ID), domain.ErrAlreadyProcessing)

	require.NoError(t, repo.FailProcessing(ctx, doc.ID, nil, "boom"))
	require.NoError(t, repo.Delete(ctx, doc.ID))
	assert.ErrorIs(t, repo.Delete(ctx, doc.ID), domain.ErrNotFound)
}

func TestReindexerListWithPagination(t *testing.T) {
	repo := newTestReindexer(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		createDoc(t, repo, fmt.Sprintf("doc-%d.txt", i))
		time.Sleep(time.Millisecond)
	}

	page, err := repo.ListWithPagination(ctx, domain.PaginationParams{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Items, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, "doc-2.txt", page.Items[0].Filename)
}
