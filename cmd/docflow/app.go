package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/docflow/internal/cache"
	"github.com/your-org/docflow/internal/config"
	"github.com/your-org/docflow/internal/domain"
	"github.com/your-org/docflow/internal/extraction"
	"github.com/your-org/docflow/internal/processor"
	"github.com/your-org/docflow/internal/repositories"
	"github.com/your-org/docflow/internal/storage"
	"github.com/your-org/docflow/internal/transform"
	"github.com/your-org/docflow/internal/usecases"
	"github.com/your-org/docflow/pkg/logger"
)

const (
	// База может стартовать медленнее приложения, поэтому даем ей несколько попыток.
	healthCheckRetries    = 5
	healthCheckRetryDelay = 2 * time.Second
)

// store — то, что нужно приложению от любого драйвера хранения.
type store interface {
	domain.DocumentRepository
	domain.ResultRepository
	domain.HealthChecker
	io.Closer
}

// App держит вместе все зависимости и управляет их жизненным циклом.
type App struct {
	configPath string

	config    *config.Config
	logger    *zap.Logger
	repo      store
	files     *storage.Local
	extractor *extraction.Coordinator
	registry  *transform.Registry
	gemini    *transform.GeminiGenerator
	cache     *cache.ShardedCache
	processor *processor.OrderedProcessor
	usecase   *usecases.DocumentUsecase

	initOnce sync.Once
	initErr  error

	shutdownOnce sync.Once
}

func NewApp(configPath string) *App {
	return &App{configPath: configPath}
}

// Initialize собирает все компоненты. Повторные вызовы возвращают результат первого.
func (a *App) Initialize(ctx context.Context) error {
	a.initOnce.Do(func() {
		a.initErr = a.doInitialize(ctx)
	})
	return a.initErr
}

// doInitialize — порядок важен: конфиг и логгер, потом хранилище, потом пайплайн и бизнес-логика.
func (a *App) doInitialize(ctx context.Context) error {
	if err := a.initBase(); err != nil {
		return err
	}

	if err := a.initializeRepository(ctx); err != nil {
		return fmt.Errorf("ошибка инициализации репозитория: %w", err)
	}

	files, err := storage.NewLocal(a.config.Uploads.Dir, a.config.Uploads.MaxFileSize, logger.Named("storage"))
	if err != nil {
		return fmt.Errorf("ошибка инициализации хранилища файлов: %w", err)
	}
	a.files = files

	a.extractor = a.newExtractor()

	a.registry = transform.NewRegistry(logger.Named("transform"))
	if key := a.config.AI.GeminiAPIKey; key != "" {
		gemini, err := transform.NewGeminiGenerator(ctx, transform.GeminiConfig{
			APIKey: key,
			Model:  a.config.AI.GeminiModel,
		}, logger.Named("gemini"))
		if err != nil {
			return fmt.Errorf("ошибка инициализации Gemini: %w", err)
		}
		a.gemini = gemini
		gemini.RegisterInto(a.registry)
	}

	a.cache = cache.NewShardedCache(a.config.Cache.Shards, a.config.Cache.TTL)
	a.cache.StartCleanupWorker()

	a.processor = processor.NewDocumentProcessor(
		a.config.Processor.Workers,
		a.config.Processor.QueueSize,
		a.config.Processor.BatchTimeout,
		logger.Named("processor"),
	)
	a.processor.Start()

	a.usecase = usecases.NewDocumentUsecase(usecases.Dependencies{
		Documents:   a.repo,
		Results:     a.repo,
		Storage:     a.files,
		Extractor:   a.extractor,
		Transformer: a.registry,
		Processor:   a.processor,
		Cache:       a.cache,
	}, logger.Named("usecase"), a.config.Concurrency.MaxConcurrentOps, a.config.Processor.QueueSize)

	a.logger.Debug("приложение готово к работе", zap.Strings("task_types", a.registry.TaskTypes()))
	return nil
}

// initBase загружает конфиг и логгер. Этого достаточно для команд, которым не нужна база.
func (a *App) initBase() error {
	if a.config != nil {
		return nil
	}
	if err := config.Load(a.configPath); err != nil {
		return fmt.Errorf("критическая ошибка конфигурации: %w", err)
	}
	cfg := config.Get()

	if err := logger.Init(cfg.Log.Level, cfg.Log.Development); err != nil {
		return fmt.Errorf("не удалось инициализировать логгер: %w", err)
	}
	a.config = cfg
	a.logger = logger.Get()
	a.logger.Debug("конфигурация загружена",
		zap.String("storage_driver", cfg.Storage.Driver),
		zap.String("uploads_dir", cfg.Uploads.Dir),
		zap.Bool("gemini", cfg.AI.GeminiAPIKey != ""),
	)
	return nil
}

// newExtractor строит координатор извлечения по конфигу. Нужен и команде extract,
// которая не трогает базу.
func (a *App) newExtractor() *extraction.Coordinator {
	return extraction.NewCoordinator(logger.Named("extraction"),
		extraction.WithOCR(extraction.NewTesseractOCR(a.config.Extraction.TesseractPath, a.config.Extraction.OCRLanguages)),
		extraction.WithMaxFileSize(a.config.Uploads.MaxFileSize),
		extraction.WithMinPrintableRatio(a.config.Extraction.MinPrintableRatio),
	)
}

// initializeRepository открывает выбранный драйвер с повторными попытками,
// проверяет связь и наличие коллекций.
func (a *App) initializeRepository(ctx context.Context) error {
	var err error

	for attempt := 0; attempt < healthCheckRetries; attempt++ {
		if attempt > 0 {
			a.logger.Info("повторная попытка подключения к БД",
				zap.Int("попытка", attempt+1),
				zap.Duration("пауза", healthCheckRetryDelay),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(healthCheckRetryDelay):
			}
		}

		repo, openErr := a.openRepository()
		if openErr != nil {
			err = openErr
			a.logger.Warn("не удалось создать клиент репозитория", zap.Int("попытка", attempt+1), zap.Error(openErr))
			continue
		}

		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if checkErr := repo.CheckConnection(checkCtx); checkErr != nil {
			cancel()
			repo.Close()
			err = checkErr
			a.logger.Warn("нет связи с БД", zap.Int("попытка", attempt+1), zap.Error(checkErr))
			continue
		}
		if ensureErr := repo.EnsureCollections(checkCtx); ensureErr != nil {
			cancel()
			repo.Close()
			err = ensureErr
			a.logger.Warn("проблема с коллекциями", zap.Int("попытка", attempt+1), zap.Error(ensureErr))
			continue
		}
		cancel()

		a.repo = repo
		a.logger.Debug("репозиторий успешно инициализирован",
			zap.String("driver", a.config.Storage.Driver),
			zap.Int("попыток_затрачено", attempt+1),
		)
		return nil
	}

	return fmt.Errorf("не удалось подключиться к БД после %d попыток: %w", healthCheckRetries, err)
}

func (a *App) openRepository() (store, error) {
	switch a.config.Storage.Driver {
	case "reindexer":
		return repositories.NewReindexerRepository(
			a.config.Reindexer.DSN,
			a.config.Reindexer.Namespace,
			a.config.Reindexer.MaxConnections,
			logger.Named("reindexer"),
		)
	default:
		return repositories.NewSQLiteRepository(a.config.Storage.SQLitePath, logger.Named("sqlite"))
	}
}

// Shutdown останавливает компоненты в обратном порядке.
// Фоновая очередь дорабатывается до конца до закрытия базы.
func (a *App) Shutdown() error {
	var shutdownErr error

	a.shutdownOnce.Do(func() {
		if a.usecase != nil {
			a.usecase.Shutdown()
		}
		if a.processor != nil {
			a.processor.Stop()
		}
		if a.cache != nil {
			a.cache.StopCleanupWorker()
		}
		if a.gemini != nil {
			if err := a.gemini.Close(); err != nil {
				a.logger.Warn("ошибка при закрытии клиента Gemini", zap.Error(err))
			}
		}
		if a.repo != nil {
			if err := a.repo.Close(); err != nil {
				a.logger.Error("ошибка при закрытии БД", zap.Error(err))
				shutdownErr = err
			}
		}
		_ = logger.Sync()
	})

	return shutdownErr
}
