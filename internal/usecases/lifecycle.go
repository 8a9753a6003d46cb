package usecases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/docflow/internal/domain"
)

// Process выполняет один прогон обработки документа:
// BeginProcessing → извлечение текста → преобразование → CompleteProcessing.
//
// Любая ошибка после захвата документа переводит его в failed с сообщением ошибки;
// в этом случае возвращается и итог (Status = failed), и сама ошибка.
// Ошибки захвата (domain.ErrAlreadyProcessing, domain.ErrNotFound) возвращаются без итога,
// статус документа при этом не меняется.
//
// Пустой taskType означает тип задачи, сохраненный в документе.
func (u *DocumentUsecase) Process(ctx context.Context, id, taskType string) (*domain.ProcessOutcome, error) {
	release, err := u.rateLimiter.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("превышен лимит одновременных обработок: %w", err)
	}
	defer release()

	doc, err := u.docs.BeginProcessing(ctx, id, taskType)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyProcessing) || errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, &domain.PersistenceError{Op: "begin_processing", Err: err}
	}

	// С этого момента документ наш. Записи статуса не должны зависеть от отмены
	// контекста вызывающей стороны, иначе документ застрянет в processing.
	persistCtx := context.WithoutCancel(ctx)
	start := u.now()
	u.invalidateResult(id)

	log := u.logger.With(
		zap.String("doc_id", doc.ID),
		zap.String("task_type", doc.TaskType),
		zap.String("format", string(doc.FileType)),
	)
	log.Info("обработка начата")

	text, err := u.extractor.Extract(doc.StoragePath)
	if err != nil {
		return u.fail(persistCtx, log, doc.ID, nil, err)
	}

	content, err := u.transformer.Transform(ctx, text, doc.TaskType)
	if err != nil {
		var tErr *domain.TransformError
		if !errors.As(err, &tErr) {
			err = &domain.TransformError{TaskType: doc.TaskType, Err: err}
		}
		return u.fail(persistCtx, log, doc.ID, &text, err)
	}
	if content == "" {
		return u.fail(persistCtx, log, doc.ID, &text, &domain.TransformError{TaskType: doc.TaskType, Err: domain.ErrEmptyContent})
	}

	res, err := u.docs.CompleteProcessing(persistCtx, doc.ID, text, content)
	if err != nil {
		return u.fail(persistCtx, log, doc.ID, &text, &domain.PersistenceError{Op: "complete_processing", Err: err})
	}

	u.cacheResult(res)
	log.Info("обработка завершена", zap.Duration("duration", time.Since(start)))

	return &domain.ProcessOutcome{
		DocumentID: doc.ID,
		Status:     domain.StatusCompleted,
		Result:     res,
	}, nil
}

// fail переводит документ в failed. Если и эта запись не удалась, документ остается
// в processing, а вызывающая сторона получает обе ошибки.
func (u *DocumentUsecase) fail(ctx context.Context, log *zap.Logger, id string, text *string, cause error) (*domain.ProcessOutcome, error) {
	reason := cause.Error()
	log.Warn("обработка завершилась ошибкой", zap.Error(cause))

	if err := u.docs.FailProcessing(ctx, id, text, reason); err != nil {
		log.Error("не удалось перевести документ в failed", zap.Error(err))
		return nil, errors.Join(cause, &domain.PersistenceError{Op: "fail_processing", Err: err})
	}

	return &domain.ProcessOutcome{
		DocumentID: id,
		Status:     domain.StatusFailed,
		Error:      reason,
	}, cause
}
