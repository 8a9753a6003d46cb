package usecases

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/your-org/docflow/internal/cache"
	"github.com/your-org/docflow/internal/domain"
	"github.com/your-org/docflow/internal/extraction"
	"github.com/your-org/docflow/internal/processor"
	"github.com/your-org/docflow/internal/repositories"
	"github.com/your-org/docflow/internal/storage"
	"github.com/your-org/docflow/internal/transform"
)

// newStack wires the usecase to SQLite, local storage and the real extraction and transform code.
func newStack(t *testing.T) (*DocumentUsecase, *repositories.SQLiteRepository) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	dir := t.TempDir()

	repo, err := repositories.NewSQLiteRepository(filepath.Join(dir, "docflow.db"), logger)
	require.NoError(t, err)

	files, err := storage.NewLocal(filepath.Join(dir, "uploads"), 1<<20, logger)
	require.NoError(t, err)

	proc := processor.NewDocumentProcessor(4, 20, time.Minute, logger)
	proc.Start()

	u := NewDocumentUsecase(Dependencies{
		Documents:   repo,
		Results:     repo,
		Storage:     files,
		Extractor:   extraction.NewCoordinator(logger),
		Transformer: transform.NewRegistry(logger),
		Processor:   proc,
		Cache:       cache.NewShardedCache(4, time.Minute),
	}, logger, 4, 20)

	t.Cleanup(func() {
		u.Shutdown()
		proc.Stop()
		repo.Close()
	})
	return u, repo
}

func TestScenarioPlainTextFirstSentence(t *testing.T) {
	u, _ := newStack(t)
	ctx := context.Background()

	doc, err := u.Upload(ctx, "hello.txt", []byte("Hello   world.\n\tThis is a test."), "first_sentence")
	require.NoError(t, err)
	assert.Equal(t, domain.FormatPlainText, doc.FileType)

	view, err := u.GetStatus(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUploaded, view.Status)

	outcome, err := u.Process(ctx, doc.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, outcome.Status)
	assert.Equal(t, "Hello world.", outcome.Result.Content)

	view, err = u.GetStatus(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, view.Status)
	assert.Equal(t, "Hello world.", view.Content)
}

func TestScenarioLegacyWordFails(t *testing.T) {
	u, repo := newStack(t)
	ctx := context.Background()

	doc, err := u.Upload(ctx, "old.doc", []byte{0xD0, 0xCF, 0x11, 0xE0}, "first_sentence")
	require.NoError(t, err)

	outcome, err := u.Process(ctx, doc.ID, "")
	assert.True(t, domain.IsUnsupportedFormat(err))
	assert.Equal(t, domain.StatusFailed, outcome.Status)

	stored, err := repo.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, stored.Status)
	require.NotNil(t, stored.Error)
	assert.Nil(t, stored.TextContent)

	_, err = u.GetResult(ctx, doc.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	view, err := u.GetStatus(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, view.Status)
	assert.Contains(t, view.Message, "unsupported")
}

func TestScenarioReprocessOverwritesResult(t *testing.T) {
	u, _ := newStack(t)
	ctx := context.Background()

	doc, err := u.Upload(ctx, "hello.txt", []byte("Hello world. This is a test."), "first_sentence")
	require.NoError(t, err)

	first, err := u.Process(ctx, doc.ID, "")
	require.NoError(t, err)

	second, err := u.Process(ctx, doc.ID, "TASK2")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, second.Status)
	assert.Equal(t, "This is a test.", second.Result.Content)
	assert.Equal(t, first.Result.ID, second.Result.ID)
	assert.Equal(t, first.Result.CreatedAt, second.Result.CreatedAt)

	res, err := u.GetResult(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "This is a test.", res.Content)

	view, err := u.GetStatus(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "TASK2", view.TaskType)

	// A failing run after a completed one leaves the document failed.
	failed, err := u.Process(ctx, doc.ID, "TASK5")
	require.Error(t, err)
	assert.Equal(t, domain.StatusFailed, failed.Status)
}

func TestScenarioMissingFileFails(t *testing.T) {
	u, repo := newStack(t)
	ctx := context.Background()

	doc := &domain.Document{Filename: "gone.txt", StoragePath: filepath.Join(t.TempDir(), "gone.txt"), FileType: domain.FormatPlainText, TaskType: "first_sentence"}
	require.NoError(t, repo.Create(ctx, doc))

	outcome, err := u.Process(ctx, doc.ID, "")
	var extErr *domain.ExtractionError
	require.ErrorAs(t, err, &extErr)
	assert.Equal(t, domain.ExtractionIO, extErr.Kind)
	assert.Equal(t, domain.StatusFailed, outcome.Status)
}

func TestScenarioBatchPreservesOrder(t *testing.T) {
	u, _ := newStack(t)
	ctx := context.Background()

	inputs := []struct{ name, body string }{
		{"a.txt", "Alpha one. Alpha two."},
		{"b.doc", "legacy"},
		{"c.txt", "Gamma one! Gamma two."},
	}
	ids := make([]string, len(inputs))
	for i, in := range inputs {
		doc, err := u.Upload(ctx, in.name, []byte(in.body), "first_sentence")
		require.NoError(t, err)
		ids[i] = doc.ID
	}

	results, err := u.ProcessBatch(ctx, ids, "")
	require.NoError(t, err)
	require.Len(t, results, 3)

	for i, r := range results {
		assert.Equal(t, ids[i], r.Request.DocumentID)
	}
	assert.Equal(t, "Alpha one.", results[0].Outcome.Result.Content)
	assert.Equal(t, domain.StatusFailed, results[1].Outcome.Status)
	assert.True(t, domain.IsUnsupportedFormat(results[1].Error))
	assert.Equal(t, "Gamma one!", results[2].Outcome.Result.Content)
}

func TestScenarioConcurrentProcessRunsOnce(t *testing.T) {
	u, _ := newStack(t)
	ctx := context.Background()

	doc, err := u.Upload(ctx, "hello.txt", []byte("Hello world."), "first_sentence")
	require.NoError(t, err)

	const callers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		finished int
	)
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			outcome, err := u.Process(ctx, doc.ID, "")
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrAlreadyProcessing)
				return
			}
			assert.Equal(t, domain.StatusCompleted, outcome.Status)
			mu.Lock()
			finished++
			mu.Unlock()
		}()
	}
	wg.Wait()

	// Runs may follow each other, but every run that started also completed.
	assert.GreaterOrEqual(t, finished, 1)
	view, err := u.GetStatus(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, view.Status)
}

func TestScenarioDeleteRemovesEverything(t *testing.T) {
	u, repo := newStack(t)
	ctx := context.Background()

	doc, err := u.Upload(ctx, "hello.txt", []byte("Hello world."), "first_sentence")
	require.NoError(t, err)
	_, err = u.Process(ctx, doc.ID, "")
	require.NoError(t, err)

	require.NoError(t, u.Delete(ctx, doc.ID))

	_, err = repo.GetByID(ctx, doc.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = u.GetResult(ctx, doc.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoFileExists(t, doc.StoragePath)

	page, err := u.List(ctx, domain.PaginationParams{Limit: 10})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}
