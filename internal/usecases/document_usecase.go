package usecases

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/docflow/internal/cache"
	"github.com/your-org/docflow/internal/domain"
	"github.com/your-org/docflow/internal/extraction"
)

const (
	// DefaultTaskType используется, если при загрузке тип задачи не указан.
	DefaultTaskType = "first_sentence"

	defaultQueueSize = 100
	queueBatchSize   = 10
	queueFlushPeriod = 5 * time.Second
	cacheOpTimeout   = time.Second
)

// ErrShutdown возвращается, если usecase уже остановлен.
var ErrShutdown = errors.New("usecase is shut down")

// Dependencies — внешние коллабораторы usecase'а.
type Dependencies struct {
	Documents   domain.DocumentRepository
	Results     domain.ResultRepository
	Storage     domain.FileStorage
	Extractor   domain.Extractor
	Transformer domain.Transformer
	Processor   domain.DocumentProcessor
	Cache       domain.Cache
}

// DocumentUsecase — контроллер жизненного цикла документа.
// Только он меняет статус документа: uploaded → processing → completed|failed.
// Кроме того:
// 1. Кэширует готовые результаты (Cache-Aside).
// 2. Ограничивает число одновременных обработок (Rate Limiting).
// 3. Обрабатывает документы в фоне пакетами.
type DocumentUsecase struct {
	docs        domain.DocumentRepository
	results     domain.ResultRepository
	storage     domain.FileStorage
	extractor   domain.Extractor
	transformer domain.Transformer
	processor   domain.DocumentProcessor
	cache       *cache.ResultCache
	logger      *zap.Logger

	wg              sync.WaitGroup
	queueMu         sync.RWMutex
	queueClosed     bool
	processingQueue chan domain.ProcessRequest
	rateLimiter     *RateLimiter

	now func() time.Time
}

// NewDocumentUsecase создает usecase и сразу запускает фоновую обработку очереди.
func NewDocumentUsecase(deps Dependencies, logger *zap.Logger, maxConcurrentOps, queueSize int) *DocumentUsecase {
	if queueSize < 1 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	u := &DocumentUsecase{
		docs:            deps.Documents,
		results:         deps.Results,
		storage:         deps.Storage,
		extractor:       deps.Extractor,
		transformer:     deps.Transformer,
		processor:       deps.Processor,
		cache:           cache.NewResultCache(deps.Cache),
		logger:          logger,
		processingQueue: make(chan domain.ProcessRequest, queueSize),
		rateLimiter:     NewRateLimiter(maxConcurrentOps),
		now:             time.Now,
	}

	u.startBackgroundProcessor()
	return u
}

// Upload сохраняет файл и создает документ в статусе uploaded.
// Извлечение текста здесь не выполняется.
func (u *DocumentUsecase) Upload(ctx context.Context, filename string, data []byte, taskType string) (*domain.Document, error) {
	name := filepath.Base(strings.TrimSpace(filename))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return nil, fmt.Errorf("имя файла не задано")
	}
	if taskType == "" {
		taskType = DefaultTaskType
	}

	path, err := u.storage.Save(ctx, name, data)
	if err != nil {
		u.logger.Error("не удалось сохранить файл", zap.String("filename", name), zap.Error(err))
		return nil, fmt.Errorf("сохранение файла: %w", err)
	}

	doc := &domain.Document{
		Filename:    name,
		StoragePath: path,
		FileType:    extraction.Detect(name),
		TaskType:    taskType,
		Status:      domain.StatusUploaded,
	}
	if err := u.docs.Create(ctx, doc); err != nil {
		if rmErr := u.storage.Remove(path); rmErr != nil {
			u.logger.Warn("не удалось удалить файл после ошибки", zap.String("path", path), zap.Error(rmErr))
		}
		return nil, &domain.PersistenceError{Op: "create_document", Err: err}
	}

	u.logger.Info("документ загружен",
		zap.String("doc_id", doc.ID),
		zap.String("filename", doc.Filename),
		zap.String("format", string(doc.FileType)),
		zap.String("task_type", doc.TaskType),
	)
	return doc, nil
}

// Submit ставит документ в фоновую очередь без блокировки.
// Если очередь полна — возвращает domain.ErrQueueFull.
func (u *DocumentUsecase) Submit(id, taskType string) error {
	u.queueMu.RLock()
	defer u.queueMu.RUnlock()

	if u.queueClosed {
		return ErrShutdown
	}

	select {
	case u.processingQueue <- domain.ProcessRequest{DocumentID: id, TaskType: taskType}:
		return nil
	default:
		u.logger.Warn("очередь обработки полна", zap.String("doc_id", id))
		return domain.ErrQueueFull
	}
}

// startBackgroundProcessor разгребает очередь пакетами до queueBatchSize документов.
// Неполный пакет отправляется по тикеру, чтобы не ждать вечно.
func (u *DocumentUsecase) startBackgroundProcessor() {
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()

		batch := make([]domain.ProcessRequest, 0, queueBatchSize)
		ticker := time.NewTicker(queueFlushPeriod)
		defer ticker.Stop()

		flush := func() {
			if len(batch) == 0 {
				return
			}
			u.runQueuedBatch(batch)
			batch = make([]domain.ProcessRequest, 0, queueBatchSize)
		}

		for {
			select {
			case req, ok := <-u.processingQueue:
				if !ok {
					// Канал закрыт (Shutdown) — дорабатываем остатки и выходим
					flush()
					return
				}
				batch = append(batch, req)
				if len(batch) >= queueBatchSize {
					flush()
				}
			case <-ticker.C:
				flush()
			}
		}
	}()
}

func (u *DocumentUsecase) runQueuedBatch(batch []domain.ProcessRequest) {
	results, err := u.processor.ProcessDocuments(context.Background(), batch, u.processRequest)
	if err != nil {
		u.logger.Error("ошибка пакетной обработки", zap.Int("количество", len(batch)), zap.Error(err))
		return
	}

	completed := 0
	for _, res := range results {
		if res.Outcome != nil && res.Outcome.Status == domain.StatusCompleted {
			completed++
		}
	}
	u.logger.Info("пакет обработан",
		zap.Int("всего", len(batch)),
		zap.Int("успешно", completed),
	)
}

// ProcessBatch синхронно обрабатывает документы на пуле воркеров.
// Порядок результатов совпадает с порядком ids.
func (u *DocumentUsecase) ProcessBatch(ctx context.Context, ids []string, taskType string) ([]*domain.ProcessedDocument, error) {
	reqs := make([]domain.ProcessRequest, len(ids))
	for i, id := range ids {
		reqs[i] = domain.ProcessRequest{DocumentID: id, TaskType: taskType}
	}
	return u.processor.ProcessDocuments(ctx, reqs, u.processRequest)
}

func (u *DocumentUsecase) processRequest(ctx context.Context, req domain.ProcessRequest) (*domain.ProcessOutcome, error) {
	return u.Process(ctx, req.DocumentID, req.TaskType)
}

// GetStatus возвращает то, что видит клиент: статус, пояснение и, для completed, содержимое результата.
func (u *DocumentUsecase) GetStatus(ctx context.Context, id string) (*domain.StatusView, error) {
	doc, err := u.docs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	view := &domain.StatusView{
		DocumentID: doc.ID,
		Filename:   doc.Filename,
		TaskType:   doc.TaskType,
		Status:     doc.Status,
	}

	switch doc.Status {
	case domain.StatusUploaded:
		view.Message = "document uploaded, waiting for processing"
	case domain.StatusProcessing:
		view.Message = "document is being processed"
	case domain.StatusFailed:
		view.Message = "processing failed"
		if doc.Error != nil && *doc.Error != "" {
			view.Message = *doc.Error
		}
	case domain.StatusCompleted:
		res, err := u.GetResult(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("результат завершенного документа %s: %w", id, err)
		}
		if res.Content == "" {
			return nil, fmt.Errorf("результат завершенного документа %s: %w", id, domain.ErrEmptyContent)
		}
		view.Content = res.Content
	}
	return view, nil
}

// GetResult получает результат документа.
// Cache-Aside: ищем в кэше, при промахе идем в базу и кладем в кэш.
// Если пока мы читали базу результат перезаписали или сбросили, в кэш не кладем.
func (u *DocumentUsecase) GetResult(ctx context.Context, id string) (*domain.Result, error) {
	if res, ok := u.cache.Get(ctx, id); ok {
		u.logger.Debug("попадание в кэш", zap.String("doc_id", id))
		return res, nil
	}

	gen := u.cache.Generation()
	res, err := u.results.GetByDocumentID(ctx, id)
	if err != nil {
		return nil, err
	}

	fillCtx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
	defer cancel()
	stored, err := u.cache.Fill(fillCtx, res, gen)
	if err != nil {
		u.logger.Warn("не удалось закэшировать результат", zap.String("doc_id", id), zap.Error(err))
	} else if !stored {
		u.logger.Debug("результат изменился во время чтения, кэш не обновлен", zap.String("doc_id", id))
	}
	return res, nil
}

// List возвращает документы, новые сверху.
func (u *DocumentUsecase) List(ctx context.Context, params domain.PaginationParams) (*domain.PaginatedResult, error) {
	result, err := u.docs.ListWithPagination(ctx, params)
	if err != nil {
		u.logger.Error("ошибка получения списка", zap.Error(err))
		return nil, err
	}
	return result, nil
}

// Delete удаляет документ, его результат и сохраненный файл.
// Документ в обработке удалить нельзя: воркер еще пишет в него.
// Окончательную проверку статуса делает репозиторий в том же запросе, что и удаление.
func (u *DocumentUsecase) Delete(ctx context.Context, id string) error {
	doc, err := u.docs.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if doc.Status == domain.StatusProcessing {
		return fmt.Errorf("документ %s: %w", id, domain.ErrAlreadyProcessing)
	}

	if err := u.docs.Delete(ctx, id); err != nil {
		if errors.Is(err, domain.ErrAlreadyProcessing) {
			u.logger.Info("документ захвачен в обработку, удаление отменено", zap.String("doc_id", id))
			return err
		}
		u.logger.Error("ошибка удаления из БД", zap.String("doc_id", id), zap.Error(err))
		return err
	}
	u.invalidateResult(id)

	if err := u.storage.Remove(doc.StoragePath); err != nil {
		u.logger.Warn("не удалось удалить файл", zap.String("path", doc.StoragePath), zap.Error(err))
	}

	u.logger.Info("документ удален", zap.String("doc_id", id))
	return nil
}

func (u *DocumentUsecase) cacheResult(res *domain.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
	defer cancel()
	if err := u.cache.Set(ctx, res); err != nil {
		u.logger.Warn("не удалось закэшировать результат", zap.String("doc_id", res.DocumentID), zap.Error(err))
	}
}

func (u *DocumentUsecase) invalidateResult(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
	defer cancel()
	if err := u.cache.Invalidate(ctx, id); err != nil {
		u.logger.Warn("не удалось очистить кэш", zap.String("doc_id", id), zap.Error(err))
	}
}

// Shutdown закрывает очередь, дожидается обработки уже поставленных документов.
func (u *DocumentUsecase) Shutdown() {
	u.queueMu.Lock()
	if u.queueClosed {
		u.queueMu.Unlock()
		return
	}
	u.queueClosed = true
	close(u.processingQueue)
	u.queueMu.Unlock()

	u.wg.Wait()
	u.logger.Info("бизнес-логика остановлена")
}
