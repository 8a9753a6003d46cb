package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	// Чистый Go-драйвер SQLite, CGO не нужен.
	_ "modernc.org/sqlite"

	"github.com/your-org/docflow/internal/domain"
)

const (
	defaultQueryTimeout = 5 * time.Second
	defaultListLimit    = 20
)

// Схема: один результат на документ обеспечивается UNIQUE(document_id),
// удаление документа каскадно удаляет результат.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id           TEXT PRIMARY KEY,
	filename     TEXT NOT NULL,
	storage_path TEXT NOT NULL,
	file_type    TEXT NOT NULL,
	text_content TEXT,
	task_type    TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL CHECK (status IN ('uploaded', 'processing', 'completed', 'failed')),
	error        TEXT,
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at DESC);
CREATE TABLE IF NOT EXISTS results (
	id          TEXT PRIMARY KEY,
	document_id TEXT NOT NULL UNIQUE REFERENCES documents(id) ON DELETE CASCADE,
	content     TEXT NOT NULL,
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);`

const documentColumns = `id, filename, storage_path, file_type, text_content, task_type, status, error, created_at, updated_at`

// SQLiteRepository — хранилище документов и результатов поверх SQLite.
// Все переходы статусов выполняются одним UPDATE с условием на текущий статус,
// поэтому два воркера не могут одновременно захватить один документ.
type SQLiteRepository struct {
	db     *sql.DB
	path   string
	logger *zap.Logger

	healthStatus atomic.Value // хранит *HealthStatus

	collectionsMu          sync.Mutex
	collectionsInitialized atomic.Bool

	now func() time.Time
}

// NewSQLiteRepository открывает (или создает) файл базы и применяет схему.
func NewSQLiteRepository(path string, logger *zap.Logger) (*SQLiteRepository, error) {
	if path == "" {
		return nil, errors.New("путь к базе SQLite не задан")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("не удалось создать каталог базы: %w", err)
	}

	// Прагмы передаем через DSN: так они применяются к каждому соединению пула,
	// а не только к первому.
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(10000)")
	q.Add("_pragma", "synchronous(NORMAL)")
	dsn := "file:" + path + "?" + q.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия базы: %w", err)
	}
	// Один писатель: SQLite все равно сериализует запись, а так не ловим SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	repo := &SQLiteRepository{
		db:     db,
		path:   path,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	repo.updateHealthStatus(false, nil, 0)

	ctx, cancel := context.WithTimeout(context.Background(), defaultQueryTimeout)
	defer cancel()

	if err := repo.CheckConnection(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка подключения к базе: %w", err)
	}
	if err := repo.EnsureCollections(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

func (r *SQLiteRepository) updateHealthStatus(isHealthy bool, err error, connections int) {
	r.healthStatus.Store(&HealthStatus{
		IsHealthy:   isHealthy,
		LastCheck:   time.Now(),
		LastError:   err,
		Connections: connections,
	})
}

// Health возвращает последнее известное состояние базы без блокировок.
func (r *SQLiteRepository) Health() *HealthStatus {
	if status, ok := r.healthStatus.Load().(*HealthStatus); ok {
		return status
	}
	return &HealthStatus{}
}

// CheckConnection пингует базу.
func (r *SQLiteRepository) CheckConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	if err := r.db.PingContext(ctx); err != nil {
		r.updateHealthStatus(false, err, 0)
		return fmt.Errorf("проверка связи не прошла: %w", err)
	}
	r.updateHealthStatus(true, nil, r.db.Stats().OpenConnections)
	return nil
}

// EnsureCollections создает таблицы, если их еще нет. Выполняется один раз.
func (r *SQLiteRepository) EnsureCollections(ctx context.Context) error {
	if r.collectionsInitialized.Load() {
		return nil
	}

	r.collectionsMu.Lock()
	defer r.collectionsMu.Unlock()

	if r.collectionsInitialized.Load() {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("ошибка создания схемы: %w", err)
	}
	r.collectionsInitialized.Store(true)
	r.logger.Info("схема SQLite готова", zap.String("path", r.path))
	return nil
}

// Create сохраняет новый документ в статусе uploaded.
func (r *SQLiteRepository) Create(ctx context.Context, doc *domain.Document) error {
	if err := prepareNewDocument(doc, r.now()); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO documents (`+documentColumns+`) VALUES (?, ?, ?, ?, NULL, ?, ?, NULL, ?, ?)`,
		doc.ID, doc.Filename, doc.StoragePath, string(doc.FileType), doc.TaskType, string(doc.Status),
		doc.CreatedAt.UnixNano(), doc.UpdatedAt.UnixNano(),
	)
	if err != nil {
		r.logger.Error("ошибка создания документа", zap.String("id", doc.ID), zap.Error(err))
		return fmt.Errorf("ошибка при сохранении: %w", err)
	}
	return nil
}

// GetByID получает документ по ID.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("документ %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса: %w", err)
	}
	return doc, nil
}

// Delete удаляет документ; результат удаляется каскадно.
// Документ в processing не удаляется: проверка статуса входит в сам DELETE,
// иначе BeginProcessing мог бы проскочить между чтением и удалением.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	return r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ? AND status <> 'processing'`, id)
		if err != nil {
			return fmt.Errorf("ошибка при удалении: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("ошибка при удалении: %w", err)
		}
		if n == 1 {
			return nil
		}

		var status string
		err = tx.QueryRowContext(ctx, `SELECT status FROM documents WHERE id = ?`, id).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("документ %s: %w", id, domain.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("ошибка запроса: %w", err)
		}
		return fmt.Errorf("документ %s: %w", id, domain.ErrAlreadyProcessing)
	})
}

// ListWithPagination возвращает документы, новые сверху.
func (r *SQLiteRepository) ListWithPagination(ctx context.Context, params domain.PaginationParams) (*domain.PaginatedResult, error) {
	params = normalizePagination(params)

	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout*2)
	defer cancel()

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&total); err != nil {
		return nil, fmt.Errorf("ошибка подсчета документов: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		params.Limit, params.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса списка: %w", err)
	}
	defer rows.Close()

	docs := make([]*domain.Document, 0, params.Limit)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения документа: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения списка: %w", err)
	}

	return &domain.PaginatedResult{
		Items:   docs,
		Total:   total,
		Limit:   params.Limit,
		Offset:  params.Offset,
		HasMore: params.Offset+len(docs) < total,
	}, nil
}

// BeginProcessing атомарно переводит документ в processing (check-and-set).
// Пустой taskType оставляет сохраненный тип задачи.
func (r *SQLiteRepository) BeginProcessing(ctx context.Context, id, taskType string) (*domain.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx,
		`UPDATE documents
		    SET status = 'processing', error = NULL,
		        task_type = COALESCE(NULLIF(?, ''), task_type), updated_at = ?
		  WHERE id = ? AND status IN ('uploaded', 'completed', 'failed')`,
		taskType, r.now().UnixNano(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка смены статуса: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("ошибка смены статуса: %w", err)
	}
	if n == 0 {
		doc, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if doc.Status == domain.StatusProcessing {
			return nil, fmt.Errorf("документ %s: %w", id, domain.ErrAlreadyProcessing)
		}
		return nil, fmt.Errorf("документ %s в статусе %s: %w", id, doc.Status, domain.ErrInvalidTransition)
	}
	return r.GetByID(ctx, id)
}

// CompleteProcessing в одной транзакции сохраняет результат и переводит документ в completed.
// Если транзакция не прошла, документ остается в processing, и вызывающая сторона обязана
// перевести его в failed.
func (r *SQLiteRepository) CompleteProcessing(ctx context.Context, id, text, content string) (*domain.Result, error) {
	if content == "" {
		return nil, fmt.Errorf("результат документа %s: %w", id, domain.ErrEmptyContent)
	}

	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	var result *domain.Result
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		now := r.now()
		res, err := tx.ExecContext(ctx,
			`UPDATE documents SET status = 'completed', text_content = ?, error = NULL, updated_at = ?
			  WHERE id = ? AND status = 'processing'`,
			text, now.UnixNano(), id,
		)
		if err != nil {
			return fmt.Errorf("ошибка смены статуса: %w", err)
		}
		if err := r.expectOneRow(ctx, tx, res, id); err != nil {
			return err
		}

		result, err = upsertResultTx(ctx, tx, id, content, now)
		return err
	})
	if err != nil {
		r.logger.Error("не удалось завершить обработку", zap.String("id", id), zap.Error(err))
		return nil, err
	}
	return result, nil
}

// FailProcessing переводит документ из processing в failed и сохраняет причину.
func (r *SQLiteRepository) FailProcessing(ctx context.Context, id string, text *string, reason string) error {
	if reason == "" {
		reason = "unknown error"
	}

	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	var textArg sql.NullString
	if text != nil {
		textArg = sql.NullString{String: *text, Valid: true}
	}

	return r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE documents SET status = 'failed', error = ?, text_content = COALESCE(?, text_content), updated_at = ?
			  WHERE id = ? AND status = 'processing'`,
			reason, textArg, r.now().UnixNano(), id,
		)
		if err != nil {
			return fmt.Errorf("ошибка смены статуса: %w", err)
		}
		return r.expectOneRow(ctx, tx, res, id)
	})
}

// Upsert создает результат документа или перезаписывает его содержимое.
// id и created_at существующей записи сохраняются.
func (r *SQLiteRepository) Upsert(ctx context.Context, documentID, content string) (*domain.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	var result *domain.Result
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM documents WHERE id = ?`, documentID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("документ %s: %w", documentID, domain.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("ошибка запроса: %w", err)
		}
		result, err = upsertResultTx(ctx, tx, documentID, content, r.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetByDocumentID получает результат документа.
func (r *SQLiteRepository) GetByDocumentID(ctx context.Context, documentID string) (*domain.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	result, err := scanResult(r.db.QueryRowContext(ctx,
		`SELECT id, document_id, content, created_at, updated_at FROM results WHERE document_id = ?`, documentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("результат документа %s: %w", documentID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса: %w", err)
	}
	return result, nil
}

// Close закрывает базу.
func (r *SQLiteRepository) Close() error {
	r.updateHealthStatus(false, errors.New("соединение закрыто"), 0)
	return r.db.Close()
}

func (r *SQLiteRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка открытия транзакции: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

// expectOneRow превращает "0 строк обновлено" в понятную ошибку.
func (r *SQLiteRepository) expectOneRow(ctx context.Context, tx *sql.Tx, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ошибка смены статуса: %w", err)
	}
	if n == 1 {
		return nil
	}

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM documents WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("документ %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("ошибка запроса: %w", err)
	}
	return fmt.Errorf("документ %s в статусе %s: %w", id, status, domain.ErrInvalidTransition)
}

func upsertResultTx(ctx context.Context, tx *sql.Tx, documentID, content string, now time.Time) (*domain.Result, error) {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO results (id, document_id, content, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(document_id) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at`,
		uuid.NewString(), documentID, content, now.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка сохранения результата: %w", err)
	}

	result, err := scanResult(tx.QueryRowContext(ctx,
		`SELECT id, document_id, content, created_at, updated_at FROM results WHERE document_id = ?`, documentID))
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения результата: %w", err)
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	var (
		doc                  domain.Document
		fileType, status     string
		text, errMsg         sql.NullString
		createdAt, updatedAt int64
	)
	if err := row.Scan(&doc.ID, &doc.Filename, &doc.StoragePath, &fileType, &text,
		&doc.TaskType, &status, &errMsg, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	doc.FileType = domain.Format(fileType)
	doc.Status = domain.Status(status)
	if !doc.Status.Valid() {
		return nil, fmt.Errorf("документ %s: неизвестный статус %q", doc.ID, status)
	}
	if text.Valid {
		doc.TextContent = &text.String
	}
	if errMsg.Valid {
		doc.Error = &errMsg.String
	}
	doc.CreatedAt = time.Unix(0, createdAt).UTC()
	doc.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &doc, nil
}

func scanResult(row rowScanner) (*domain.Result, error) {
	var (
		res                  domain.Result
		createdAt, updatedAt int64
	)
	if err := row.Scan(&res.ID, &res.DocumentID, &res.Content, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	res.CreatedAt = time.Unix(0, createdAt).UTC()
	res.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &res, nil
}

var (
	_ domain.DocumentRepository = (*SQLiteRepository)(nil)
	_ domain.ResultRepository   = (*SQLiteRepository)(nil)
	_ domain.HealthChecker      = (*SQLiteRepository)(nil)
)
