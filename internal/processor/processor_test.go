package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/your-org/docflow/internal/domain"
)

func makeRequests(prefix string, n int) []domain.ProcessRequest {
	reqs := make([]domain.ProcessRequest, n)
	for i := range reqs {
		reqs[i] = domain.ProcessRequest{DocumentID: fmt.Sprintf("%s-%d", prefix, i), TaskType: "first_sentence"}
	}
	return reqs
}

// completeAfter returns a process function that marks every document completed after d.
func completeAfter(d time.Duration) domain.ProcessFunc {
	return func(ctx context.Context, req domain.ProcessRequest) (*domain.ProcessOutcome, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d):
		}
		return &domain.ProcessOutcome{DocumentID: req.DocumentID, Status: domain.StatusCompleted}, nil
	}
}

// TestProcessorOrderPreservation tests that processor preserves order
func TestProcessorOrderPreservation(t *testing.T) {
	processor := NewDocumentProcessor(5, 100, 0, zaptest.NewLogger(t))
	processor.Start()
	defer processor.Stop()

	requests := makeRequests("doc", 100)

	// Later requests finish first, so any ordering bug shows up.
	fn := func(ctx context.Context, req domain.ProcessRequest) (*domain.ProcessOutcome, error) {
		var idx int
		fmt.Sscanf(req.DocumentID, "doc-%d", &idx)
		time.Sleep(time.Duration(100-idx) * 50 * time.Microsecond)
		return &domain.ProcessOutcome{DocumentID: req.DocumentID, Status: domain.StatusCompleted}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	results, err := processor.ProcessDocuments(ctx, requests, fn)
	require.NoError(t, err)
	require.Len(t, results, 100)

	for i, result := range results {
		require.NoError(t, result.Error)
		assert.Equal(t, requests[i].DocumentID, result.Request.DocumentID, "Order should be preserved at index %d", i)
		assert.Equal(t, requests[i].DocumentID, result.Outcome.DocumentID)
		assert.Equal(t, domain.StatusCompleted, result.Outcome.Status)
	}
}

// TestProcessorConcurrentBatches checks that concurrent batches get only their own results.
func TestProcessorConcurrentBatches(t *testing.T) {
	processor := NewDocumentProcessor(10, 200, 0, zaptest.NewLogger(t))
	processor.Start()
	defer processor.Stop()

	const numBatches, batchSize = 10, 20

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(numBatches)
	for batch := 0; batch < numBatches; batch++ {
		go func(batch int) {
			defer wg.Done()
			requests := makeRequests(fmt.Sprintf("batch-%d", batch), batchSize)
			results, err := processor.ProcessDocuments(ctx, requests, completeAfter(time.Millisecond))
			if !assert.NoError(t, err) {
				return
			}
			for i, result := range results {
				assert.NoError(t, result.Error)
				assert.Equal(t, requests[i].DocumentID, result.Outcome.DocumentID)
			}
		}(batch)
	}
	wg.Wait()
}

// TestProcessorWorkerPool tests worker pool functionality
func TestProcessorWorkerPool(t *testing.T) {
	processor := NewDocumentProcessor(5, 50, 0, zaptest.NewLogger(t))
	processor.Start()
	defer processor.Stop()

	var running, peak atomic.Int32
	fn := func(ctx context.Context, req domain.ProcessRequest) (*domain.ProcessOutcome, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		return &domain.ProcessOutcome{DocumentID: req.DocumentID, Status: domain.StatusCompleted}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	results, err := processor.ProcessDocuments(ctx, makeRequests("worker-doc", 50), fn)
	duration := time.Since(start)

	require.NoError(t, err)
	require.Len(t, results, 50)
	assert.LessOrEqual(t, peak.Load(), int32(5))
	assert.Greater(t, peak.Load(), int32(1))

	// Sequential would take at least 50 * 10ms = 500ms
	assert.Less(t, duration, 2*time.Second, "Processing should be faster with worker pool")
}

func TestProcessorErrorsAndPanicsStayPerRequest(t *testing.T) {
	processor := NewDocumentProcessor(3, 10, 0, zaptest.NewLogger(t))
	processor.Start()
	defer processor.Stop()

	boom := errors.New("boom")
	fn := func(ctx context.Context, req domain.ProcessRequest) (*domain.ProcessOutcome, error) {
		switch req.DocumentID {
		case "doc-1":
			return nil, boom
		case "doc-2":
			panic("kaboom")
		}
		return &domain.ProcessOutcome{DocumentID: req.DocumentID, Status: domain.StatusCompleted}, nil
	}

	results, err := processor.ProcessDocuments(context.Background(), makeRequests("doc", 4), fn)
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.NoError(t, results[0].Error)
	assert.ErrorIs(t, results[1].Error, boom)
	require.Error(t, results[2].Error)
	assert.Contains(t, results[2].Error.Error(), "kaboom")
	assert.NoError(t, results[3].Error)
}

func TestProcessorBatchTimeout(t *testing.T) {
	processor := NewDocumentProcessor(1, 10, 50*time.Millisecond, zaptest.NewLogger(t))
	processor.Start()
	defer processor.Stop()

	results, err := processor.ProcessDocuments(context.Background(), makeRequests("slow", 3), completeAfter(time.Second))
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, result := range results {
		assert.ErrorIs(t, result.Error, context.DeadlineExceeded)
	}
}

func TestProcessorEmptyBatch(t *testing.T) {
	processor := NewDocumentProcessor(1, 1, 0, zaptest.NewLogger(t))

	results, err := processor.ProcessDocuments(context.Background(), nil, completeAfter(0))
	require.NoError(t, err)
	assert.Empty(t, results)
}

// TestProcessorGracefulShutdown tests graceful shutdown
func TestProcessorGracefulShutdown(t *testing.T) {
	processor := NewDocumentProcessor(5, 100, 0, zaptest.NewLogger(t))
	processor.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_, _ = processor.ProcessDocuments(ctx, makeRequests("shutdown-doc", 100), completeAfter(10*time.Millisecond))
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	processor.Stop()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Processor did not shutdown gracefully")
	}

	_, err := processor.ProcessDocuments(ctx, makeRequests("late", 1), completeAfter(0))
	assert.ErrorIs(t, err, ErrStopped)
}

// TestProcessorRejectsEveryBatchAfterStop checks that no task lands in the queue once
// the workers are gone.
func TestProcessorRejectsEveryBatchAfterStop(t *testing.T) {
	processor := NewDocumentProcessor(2, 500, time.Second, zaptest.NewLogger(t))
	processor.Start()
	processor.Stop()

	var calls atomic.Int32
	fn := func(ctx context.Context, req domain.ProcessRequest) (*domain.ProcessOutcome, error) {
		calls.Add(1)
		return &domain.ProcessOutcome{DocumentID: req.DocumentID, Status: domain.StatusCompleted}, nil
	}

	for i := 0; i < 200; i++ {
		results, err := processor.ProcessDocuments(context.Background(), makeRequests("late", 1), fn)
		require.ErrorIs(t, err, ErrStopped)
		require.Nil(t, results)
	}
	assert.Empty(t, processor.inputQueue)
	assert.Zero(t, calls.Load())
}
