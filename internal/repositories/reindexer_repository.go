package repositories

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/restream/reindexer/v4"
	// Используем cproto (RPC) протокол — он быстрее стандартного HTTP.
	_ "github.com/restream/reindexer/v4/bindings/cproto"
	"go.uber.org/zap"

	"github.com/your-org/docflow/internal/domain"
)

const (
	// Имя неймспейса по умолчанию.
	defaultNamespace = "documents"

	defaultMaxRetries     = 3
	defaultRetryDelay     = 1 * time.Second
	defaultConnectTimeout = 10 * time.Second
)

// documentItem — запись неймспейса. Результат хранится внутри документа,
// поэтому один Upsert фиксирует и результат, и статус.
type documentItem struct {
	ID          string      `reindex:"id,hash,pk" json:"id"`
	Filename    string      `json:"filename"`
	StoragePath string      `json:"storage_path"`
	FileType    string      `reindex:"file_type,hash" json:"file_type"`
	TextContent string      `json:"text_content"`
	HasText     bool        `json:"has_text"`
	TaskType    string      `reindex:"task_type,hash" json:"task_type"`
	Status      string      `reindex:"status,hash" json:"status"`
	Error       string      `json:"error"`
	CreatedAt   int64       `reindex:"created_at,tree" json:"created_at"`
	UpdatedAt   int64       `json:"updated_at"`
	Result      *resultItem `json:"result,omitempty"`
}

type resultItem struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

func itemFromDocument(doc *domain.Document) *documentItem {
	item := &documentItem{
		ID:          doc.ID,
		Filename:    doc.Filename,
		StoragePath: doc.StoragePath,
		FileType:    string(doc.FileType),
		TaskType:    doc.TaskType,
		Status:      string(doc.Status),
		CreatedAt:   doc.CreatedAt.UnixNano(),
		UpdatedAt:   doc.UpdatedAt.UnixNano(),
	}
	if doc.TextContent != nil {
		item.TextContent = *doc.TextContent
		item.HasText = true
	}
	if doc.Error != nil {
		item.Error = *doc.Error
	}
	return item
}

func (i *documentItem) toDocument() *domain.Document {
	doc := &domain.Document{
		ID:          i.ID,
		Filename:    i.Filename,
		StoragePath: i.StoragePath,
		FileType:    domain.Format(i.FileType),
		TaskType:    i.TaskType,
		Status:      domain.Status(i.Status),
		CreatedAt:   time.Unix(0, i.CreatedAt).UTC(),
		UpdatedAt:   time.Unix(0, i.UpdatedAt).UTC(),
	}
	if i.HasText {
		text := i.TextContent
		doc.TextContent = &text
	}
	if doc.Status == domain.StatusFailed {
		reason := i.Error
		doc.Error = &reason
	}
	return doc
}

func (i *documentItem) toResult() *domain.Result {
	if i.Result == nil {
		return nil
	}
	return &domain.Result{
		ID:         i.Result.ID,
		DocumentID: i.ID,
		Content:    i.Result.Content,
		CreatedAt:  time.Unix(0, i.Result.CreatedAt).UTC(),
		UpdatedAt:  time.Unix(0, i.Result.UpdatedAt).UTC(),
	}
}

// setResult создает или перезаписывает вложенный результат, сохраняя его id и created_at.
func (i *documentItem) setResult(content string, now int64) {
	if i.Result == nil {
		i.Result = &resultItem{ID: uuid.NewString(), CreatedAt: now}
	}
	i.Result.Content = content
	i.Result.UpdatedAt = now
}

// ReindexerRepository — хранилище документов и результатов в Reindexer.
// Он умеет:
// 1. Управлять соединениями (пулинг, round-robin).
// 2. Следить за здоровьем базы.
// 3. Атомарно переводить документы между статусами.
type ReindexerRepository struct {
	dsn            string
	namespace      string
	maxConnections int
	logger         *zap.Logger

	mu          sync.RWMutex
	db          *reindexer.Reindexer   // Главное соединение
	connections []*reindexer.Reindexer // Пул дополнительных соединений
	next        atomic.Uint64          // Счетчик для round-robin

	healthStatus atomic.Value // хранит *HealthStatus

	collectionsInitialized atomic.Bool
	collectionsMu          sync.Mutex

	now func() time.Time
}

// NewReindexerRepository создает репозиторий и подключается с повторными попытками.
func NewReindexerRepository(dsn, namespace string, maxConnections int, logger *zap.Logger) (*ReindexerRepository, error) {
	if maxConnections < 1 {
		maxConnections = 1
	}
	if namespace == "" {
		namespace = defaultNamespace
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	repo := &ReindexerRepository{
		dsn:            dsn,
		namespace:      namespace,
		maxConnections: maxConnections,
		logger:         logger,
		connections:    make([]*reindexer.Reindexer, 0, maxConnections),
		now:            func() time.Time { return time.Now().UTC() },
	}

	// Пока не подключились, считаем себя нездоровыми.
	repo.updateHealthStatus(false, nil, 0)

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()

	if err := repo.Connect(ctx); err != nil {
		return nil, fmt.Errorf("ошибка подключения к базе: %w", err)
	}

	return repo, nil
}

// Connect устанавливает соединение с базой.
func (r *ReindexerRepository) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.connectWithRetry(ctx, defaultMaxRetries)
}

func (r *ReindexerRepository) connectWithRetry(ctx context.Context, maxRetries int) error {
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			delay := defaultRetryDelay * time.Duration(attempt)
			r.logger.Info("повторная попытка подключения",
				zap.Int("попытка", attempt+1),
				zap.Duration("пауза", delay),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		db := reindexer.NewReindex(r.dsn, reindexer.WithCreateDBIfMissing())
		if err := db.Status().Err; err != nil {
			lastErr = err
			db.Close()
			r.logger.Warn("тест соединения провален",
				zap.Int("попытка", attempt+1),
				zap.Error(err),
			)
			continue
		}

		r.closeAll()
		r.db = db

		for i := 0; i < r.maxConnections; i++ {
			conn := reindexer.NewReindex(r.dsn, reindexer.WithCreateDBIfMissing())
			if err := conn.Status().Err; err != nil {
				conn.Close()
				r.logger.Warn("не удалось создать соединение в пуле",
					zap.Int("индекс", i),
					zap.Error(err),
				)
				continue
			}
			r.connections = append(r.connections, conn)
		}

		r.updateHealthStatus(true, nil, len(r.connections)+1)
		r.logger.Info("успешно подключились к Reindexer",
			zap.Int("размер_пула", len(r.connections)),
			zap.String("namespace", r.namespace),
		)
		return nil
	}

	r.updateHealthStatus(false, lastErr, 0)
	return fmt.Errorf("не удалось подключиться после %d попыток: %w", maxRetries, lastErr)
}

// closeAll закрывает все соединения. Вызывается под r.mu.
func (r *ReindexerRepository) closeAll() {
	if r.db != nil {
		r.db.Close()
		r.db = nil
	}
	for _, conn := range r.connections {
		if conn != nil {
			conn.Close()
		}
	}
	r.connections = r.connections[:0]
}

// getConnection возвращает соединение из пула по очереди (round-robin).
func (r *ReindexerRepository) getConnection() (*reindexer.Reindexer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.connections) == 0 {
		if r.db == nil {
			return nil, fmt.Errorf("нет доступного соединения с БД")
		}
		return r.db, nil
	}
	idx := r.next.Add(1) % uint64(len(r.connections))
	return r.connections[idx], nil
}

func (r *ReindexerRepository) updateHealthStatus(isHealthy bool, err error, connections int) {
	r.healthStatus.Store(&HealthStatus{
		IsHealthy:   isHealthy,
		LastCheck:   time.Now(),
		LastError:   err,
		Connections: connections,
	})
}

// Health возвращает последнее известное состояние без блокировок.
func (r *ReindexerRepository) Health() *HealthStatus {
	if status, ok := r.healthStatus.Load().(*HealthStatus); ok {
		return status
	}
	return &HealthStatus{}
}

// markUnhealthy вызывается после ошибки запроса.
func (r *ReindexerRepository) markUnhealthy(err error) {
	r.updateHealthStatus(false, err, r.Health().Connections)
}

// EnsureCollections открывает неймспейс на главном соединении и на всех соединениях пула.
func (r *ReindexerRepository) EnsureCollections(ctx context.Context) error {
	if r.collectionsInitialized.Load() {
		return nil
	}

	r.collectionsMu.Lock()
	defer r.collectionsMu.Unlock()

	if r.collectionsInitialized.Load() {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.db == nil {
		return fmt.Errorf("соединение с базой не установлено")
	}

	opts := reindexer.DefaultNamespaceOptions()
	if err := r.db.OpenNamespace(r.namespace, opts, documentItem{}); err != nil {
		return fmt.Errorf("ошибка открытия неймспейса: %w", err)
	}
	for i, conn := range r.connections {
		if err := conn.OpenNamespace(r.namespace, opts, documentItem{}); err != nil {
			r.logger.Warn("ошибка открытия неймспейса для соединения из пула",
				zap.Int("индекс", i),
				zap.Error(err),
			)
		}
	}

	r.collectionsInitialized.Store(true)
	r.logger.Info("коллекции инициализированы", zap.String("namespace", r.namespace))
	return nil
}

// Create сохраняет новый документ в статусе uploaded.
func (r *ReindexerRepository) Create(ctx context.Context, doc *domain.Document) error {
	if err := prepareNewDocument(doc, r.now()); err != nil {
		return err
	}
	if err := r.EnsureCollections(ctx); err != nil {
		return fmt.Errorf("ошибка проверки коллекций: %w", err)
	}

	db, err := r.getConnection()
	if err != nil {
		return err
	}

	// Insert, а не Upsert: повторный ID не должен затереть существующий документ.
	inserted, err := db.Insert(r.namespace, itemFromDocument(doc))
	if err != nil {
		r.logger.Error("ошибка создания документа", zap.String("id", doc.ID), zap.Error(err))
		r.markUnhealthy(err)
		return fmt.Errorf("ошибка при сохранении: %w", err)
	}
	if inserted == 0 {
		return fmt.Errorf("документ %s уже существует", doc.ID)
	}
	return nil
}

// getItem читает запись целиком.
func (r *ReindexerRepository) getItem(ctx context.Context, id string) (*documentItem, error) {
	if err := r.EnsureCollections(ctx); err != nil {
		return nil, fmt.Errorf("ошибка проверки коллекций: %w", err)
	}

	db, err := r.getConnection()
	if err != nil {
		return nil, err
	}

	iter := db.Query(r.namespace).WhereString("id", reindexer.EQ, id).Limit(1).Exec()
	defer iter.Close()

	if err := iter.Error(); err != nil {
		r.logger.Error("ошибка выполнения запроса", zap.String("id", id), zap.Error(err))
		r.markUnhealthy(err)
		return nil, fmt.Errorf("ошибка запроса: %w", err)
	}

	for iter.Next() {
		item, ok := iter.Object().(*documentItem)
		if !ok {
			r.logger.Error("ошибка приведения типов",
				zap.String("id", id),
				zap.String("тип", fmt.Sprintf("%T", iter.Object())),
			)
			return nil, fmt.Errorf("внутренняя ошибка десериализации")
		}
		if !domain.Status(item.Status).Valid() {
			return nil, fmt.Errorf("документ %s: неизвестный статус %q", id, item.Status)
		}
		// Объекты из кэша итератора общие, работаем с копией.
		cp := *item
		if item.Result != nil {
			res := *item.Result
			cp.Result = &res
		}
		return &cp, nil
	}

	return nil, fmt.Errorf("документ %s: %w", id, domain.ErrNotFound)
}

func (r *ReindexerRepository) upsertItem(item *documentItem) error {
	db, err := r.getConnection()
	if err != nil {
		return err
	}
	if err := db.Upsert(r.namespace, item); err != nil {
		r.logger.Error("ошибка обновления документа", zap.String("id", item.ID), zap.Error(err))
		r.markUnhealthy(err)
		return fmt.Errorf("ошибка при обновлении: %w", err)
	}
	return nil
}

// GetByID получает документ по ID.
func (r *ReindexerRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	item, err := r.getItem(ctx, id)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("документ найден", zap.String("id", id))
	return item.toDocument(), nil
}

// Delete удаляет документ вместе с вложенным результатом.
func (r *ReindexerRepository) Delete(ctx context.Context, id string) error {
	if err := r.EnsureCollections(ctx); err != nil {
		return fmt.Errorf("ошибка проверки коллекций: %w", err)
	}

	db, err := r.getConnection()
	if err != nil {
		return err
	}

	// Условие на статус входит в сам запрос: документ, захваченный воркером, не удаляется.
	deleted, err := db.Query(r.namespace).
		WhereString("id", reindexer.EQ, id).
		Not().WhereString("status", reindexer.EQ, string(domain.StatusProcessing)).
		Delete()
	if err != nil {
		r.logger.Error("ошибка удаления документа", zap.String("id", id), zap.Error(err))
		r.markUnhealthy(err)
		return fmt.Errorf("ошибка при удалении: %w", err)
	}
	if deleted == 0 {
		if _, err := r.getItem(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("документ %s: %w", id, domain.ErrAlreadyProcessing)
	}
	return nil
}

// ListWithPagination возвращает документы, новые сверху. Общее количество берем через ReqTotal.
func (r *ReindexerRepository) ListWithPagination(ctx context.Context, params domain.PaginationParams) (*domain.PaginatedResult, error) {
	params = normalizePagination(params)

	if err := r.EnsureCollections(ctx); err != nil {
		return nil, fmt.Errorf("ошибка проверки коллекций: %w", err)
	}

	db, err := r.getConnection()
	if err != nil {
		return nil, err
	}

	iter := db.Query(r.namespace).
		Sort("created_at", true).
		Limit(params.Limit).
		Offset(params.Offset).
		ReqTotal().
		Exec()
	defer iter.Close()

	if err := iter.Error(); err != nil {
		r.markUnhealthy(err)
		return nil, fmt.Errorf("ошибка запроса списка: %w", err)
	}

	docs := make([]*domain.Document, 0, params.Limit)
	for iter.Next() {
		item, ok := iter.Object().(*documentItem)
		if !ok {
			r.logger.Error("ошибка чтения документа из итератора")
			continue
		}
		docs = append(docs, item.toDocument())
	}
	total := iter.TotalCount()

	return &domain.PaginatedResult{
		Items:   docs,
		Total:   total,
		Limit:   params.Limit,
		Offset:  params.Offset,
		HasMore: params.Offset+len(docs) < total,
	}, nil
}

// BeginProcessing выполняет check-and-set одним UPDATE-запросом:
// статус меняется только если документ сейчас не в processing.
func (r *ReindexerRepository) BeginProcessing(ctx context.Context, id, taskType string) (*domain.Document, error) {
	if err := r.EnsureCollections(ctx); err != nil {
		return nil, fmt.Errorf("ошибка проверки коллекций: %w", err)
	}

	db, err := r.getConnection()
	if err != nil {
		return nil, err
	}

	q := db.Query(r.namespace).
		WhereString("id", reindexer.EQ, id).
		Not().WhereString("status", reindexer.EQ, string(domain.StatusProcessing)).
		Set("status", string(domain.StatusProcessing)).
		Set("error", "").
		Set("updated_at", r.now().UnixNano())
	if taskType != "" {
		q = q.Set("task_type", taskType)
	}

	iter := q.Update()
	updated := iter.Count()
	err = iter.Error()
	iter.Close()
	if err != nil {
		r.markUnhealthy(err)
		return nil, fmt.Errorf("ошибка смены статуса: %w", err)
	}

	if updated == 0 {
		item, err := r.getItem(ctx, id)
		if err != nil {
			return nil, err
		}
		if !domain.Status(item.Status).CanBeginProcessing() {
			return nil, fmt.Errorf("документ %s: %w", id, domain.ErrAlreadyProcessing)
		}
		// Статус успел смениться между запросами: воркер уже завершил обработку.
		return nil, fmt.Errorf("документ %s в статусе %s: %w", id, item.Status, domain.ErrInvalidTransition)
	}
	return r.GetByID(ctx, id)
}

// CompleteProcessing записывает результат и статус completed одним Upsert.
// Документ в processing может менять только захвативший его воркер,
// поэтому чтение и последующая запись не гоняются с другими переходами.
func (r *ReindexerRepository) CompleteProcessing(ctx context.Context, id, text, content string) (*domain.Result, error) {
	if content == "" {
		return nil, fmt.Errorf("результат документа %s: %w", id, domain.ErrEmptyContent)
	}

	item, err := r.getItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Status != string(domain.StatusProcessing) {
		return nil, fmt.Errorf("документ %s в статусе %s: %w", id, item.Status, domain.ErrInvalidTransition)
	}

	now := r.now().UnixNano()
	item.setResult(content, now)
	item.Status = string(domain.StatusCompleted)
	item.TextContent = text
	item.HasText = true
	item.Error = ""
	item.UpdatedAt = now

	if err := r.upsertItem(item); err != nil {
		return nil, err
	}
	return item.toResult(), nil
}

// FailProcessing переводит документ из processing в failed.
func (r *ReindexerRepository) FailProcessing(ctx context.Context, id string, text *string, reason string) error {
	if reason == "" {
		reason = "unknown error"
	}

	item, err := r.getItem(ctx, id)
	if err != nil {
		return err
	}
	if item.Status != string(domain.StatusProcessing) {
		return fmt.Errorf("документ %s в статусе %s: %w", id, item.Status, domain.ErrInvalidTransition)
	}

	item.Status = string(domain.StatusFailed)
	item.Error = reason
	if text != nil {
		item.TextContent = *text
		item.HasText = true
	}
	item.UpdatedAt = r.now().UnixNano()

	return r.upsertItem(item)
}

// Upsert создает или перезаписывает результат документа.
func (r *ReindexerRepository) Upsert(ctx context.Context, documentID, content string) (*domain.Result, error) {
	item, err := r.getItem(ctx, documentID)
	if err != nil {
		return nil, err
	}
	item.setResult(content, r.now().UnixNano())
	if err := r.upsertItem(item); err != nil {
		return nil, err
	}
	return item.toResult(), nil
}

// GetByDocumentID возвращает вложенный результат документа.
func (r *ReindexerRepository) GetByDocumentID(ctx context.Context, documentID string) (*domain.Result, error) {
	item, err := r.getItem(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if item.Result == nil {
		return nil, fmt.Errorf("результат документа %s: %w", documentID, domain.ErrNotFound)
	}
	return item.toResult(), nil
}

// CheckConnection проверяет связь с сервером.
func (r *ReindexerRepository) CheckConnection(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	r.mu.RLock()
	db := r.db
	r.mu.RUnlock()

	if db == nil {
		return fmt.Errorf("соединение не установлено")
	}
	if err := db.Status().Err; err != nil {
		r.markUnhealthy(err)
		return fmt.Errorf("проверка связи не прошла: %w", err)
	}

	r.updateHealthStatus(true, nil, r.Health().Connections)
	return nil
}

// Close закрывает все соединения.
func (r *ReindexerRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closeAll()
	r.updateHealthStatus(false, fmt.Errorf("соединение закрыто"), 0)
	return nil
}

var (
	_ domain.DocumentRepository = (*ReindexerRepository)(nil)
	_ domain.ResultRepository   = (*ReindexerRepository)(nil)
	_ domain.HealthChecker      = (*ReindexerRepository)(nil)
)
