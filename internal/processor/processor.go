package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/docflow/internal/domain"
)

// ErrStopped is returned when work is submitted to a stopped processor.
var ErrStopped = errors.New("processor stopped")

const defaultBatchTimeout = 5 * time.Minute

// processingTask is one request of a batch. Results go to the batch's own channel,
// so concurrent batches never see each other's results.
type processingTask struct {
	index   int
	ctx     context.Context
	request domain.ProcessRequest
	fn      domain.ProcessFunc
	results chan<- *processingResult
}

type processingResult struct {
	index   int
	outcome *domain.ProcessOutcome
	err     error
}

// OrderedProcessor implements domain.DocumentProcessor with worker pool and order preservation
type OrderedProcessor struct {
	workers      int
	batchTimeout time.Duration
	inputQueue   chan *processingTask
	wg           sync.WaitGroup
	logger       *zap.Logger
	ctx          context.Context
	cancel       context.CancelFunc

	// Shutdown management
	shutdownOnce sync.Once
	shutdownChan chan struct{}
}

// NewDocumentProcessor creates a new ordered document processor with worker pool.
// A zero batchTimeout selects the default.
func NewDocumentProcessor(workers, queueSize int, batchTimeout time.Duration, logger *zap.Logger) *OrderedProcessor {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 100
	}
	if batchTimeout <= 0 {
		batchTimeout = defaultBatchTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &OrderedProcessor{
		workers:      workers,
		batchTimeout: batchTimeout,
		inputQueue:   make(chan *processingTask, queueSize),
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
		shutdownChan: make(chan struct{}),
	}
}

// Start starts the worker pool
func (p *OrderedProcessor) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	p.logger.Info("ordered processor started",
		zap.Int("workers", p.workers),
		zap.Duration("batch_timeout", p.batchTimeout),
	)
}

// Stop stops the worker pool. Runs in flight finish, queued ones are abandoned.
func (p *OrderedProcessor) Stop() {
	p.shutdownOnce.Do(func() {
		close(p.shutdownChan)
		p.wg.Wait()
		p.cancel()
		p.logger.Info("ordered processor stopped")
	})
}

// ProcessDocuments runs fn for every request on the pool and returns outcomes in input order.
// A request that did not finish before the batch deadline gets the context error.
func (p *OrderedProcessor) ProcessDocuments(ctx context.Context, requests []domain.ProcessRequest, fn domain.ProcessFunc) ([]*domain.ProcessedDocument, error) {
	if len(requests) == 0 {
		return []*domain.ProcessedDocument{}, nil
	}
	if fn == nil {
		return nil, fmt.Errorf("process function is nil")
	}
	if p.stopped() {
		return nil, ErrStopped
	}

	processCtx, cancel := context.WithTimeout(ctx, p.batchTimeout)
	defer cancel()

	// Buffered for the whole batch so workers never block on a caller that gave up.
	results := make(chan *processingResult, len(requests))

	sent := 0
	for i, req := range requests {
		task := &processingTask{
			index:   i,
			ctx:     processCtx,
			request: req,
			fn:      fn,
			results: results,
		}

		// select picks randomly among ready cases, and a queue with free space is
		// always ready, so shutdown has to be checked first.
		if p.stopped() {
			return nil, ErrStopped
		}
		select {
		case <-processCtx.Done():
			return nil, processCtx.Err()
		case <-p.shutdownChan:
			return nil, ErrStopped
		case p.inputQueue <- task:
			sent++
		}
	}

	collected := make(map[int]*processingResult, sent)
	var waitErr error
collect:
	for len(collected) < sent {
		select {
		case <-processCtx.Done():
			waitErr = processCtx.Err()
			break collect
		case <-p.shutdownChan:
			waitErr = ErrStopped
			break collect
		case res := <-results:
			collected[res.index] = res
		}
	}

	processed := make([]*domain.ProcessedDocument, len(requests))
	for i, req := range requests {
		res, ok := collected[i]
		if !ok {
			processed[i] = &domain.ProcessedDocument{Request: req, Error: waitErr}
			continue
		}
		processed[i] = &domain.ProcessedDocument{
			Request: req,
			Outcome: res.outcome,
			Error:   res.err,
		}
	}

	return processed, nil
}

func (p *OrderedProcessor) stopped() bool {
	select {
	case <-p.shutdownChan:
		return true
	default:
		return false
	}
}

// worker processes tasks from the input queue
func (p *OrderedProcessor) worker(id int) {
	defer p.wg.Done()

	p.logger.Debug("worker started", zap.Int("worker_id", id))

	for {
		select {
		case <-p.shutdownChan:
			p.logger.Debug("worker stopping due to shutdown", zap.Int("worker_id", id))
			return
		case task := <-p.inputQueue:
			outcome, err := p.run(id, task)
			task.results <- &processingResult{index: task.index, outcome: outcome, err: err}
		}
	}
}

// run executes one request. A panicking process function fails only its own request.
func (p *OrderedProcessor) run(workerID int, task *processingTask) (outcome *domain.ProcessOutcome, err error) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("process function panicked",
				zap.Int("worker_id", workerID),
				zap.String("doc_id", task.request.DocumentID),
				zap.Any("panic", r),
			)
			outcome, err = nil, fmt.Errorf("panic while processing %s: %v", task.request.DocumentID, r)
		}
	}()

	if err := task.ctx.Err(); err != nil {
		return nil, err
	}

	p.logger.Debug("processing document",
		zap.Int("worker_id", workerID),
		zap.String("doc_id", task.request.DocumentID),
		zap.String("task_type", task.request.TaskType),
	)

	outcome, err = task.fn(task.ctx, task.request)

	p.logger.Debug("document processed",
		zap.Int("worker_id", workerID),
		zap.String("doc_id", task.request.DocumentID),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err),
	)
	return outcome, err
}

// Verify that OrderedProcessor implements domain.DocumentProcessor interface
var _ domain.DocumentProcessor = (*OrderedProcessor)(nil)
