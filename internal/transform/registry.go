// Package transform maps extracted text to result content for a task type.
package transform

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/your-org/docflow/internal/domain"
)

// Func is a single task-type transform.
type Func func(ctx context.Context, text string) (string, error)

const TaskFirstSentence = "first_sentence"

// Registry dispatches on task type. Registration happens at start-up;
// lookups are safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	funcs  map[string]Func
	logger *zap.Logger
}

// NewRegistry returns a registry with the built-in text transforms:
// first_sentence and TASK1..TASK5 (n-th sentence).
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{funcs: make(map[string]Func), logger: logger}

	r.Register(TaskFirstSentence, func(_ context.Context, text string) (string, error) {
		return FirstSentence(text), nil
	})
	for n := 1; n <= 5; n++ {
		r.Register(fmt.Sprintf("TASK%d", n), nthSentence(n))
	}
	return r
}

// Register adds or replaces the transform for taskType.
func (r *Registry) Register(taskType string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[taskType] = fn
}

// TaskTypes lists registered task types in sorted order.
func (r *Registry) TaskTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.funcs))
	for t := range r.funcs {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Transform runs the transform registered for taskType. Every failure,
// including unknown task types and empty output, is a *domain.TransformError.
func (r *Registry) Transform(ctx context.Context, text, taskType string) (string, error) {
	r.mu.RLock()
	fn, ok := r.funcs[taskType]
	r.mu.RUnlock()
	if !ok {
		return "", &domain.TransformError{TaskType: taskType, Err: fmt.Errorf("unknown task type (known: %s)", strings.Join(r.TaskTypes(), ", "))}
	}

	out, err := fn(ctx, text)
	if err != nil {
		r.logger.Warn("transform failed", zap.String("task_type", taskType), zap.Error(err))
		return "", &domain.TransformError{TaskType: taskType, Err: err}
	}
	if strings.TrimSpace(out) == "" {
		return "", &domain.TransformError{TaskType: taskType, Err: domain.ErrEmptyContent}
	}
	return out, nil
}

func nthSentence(n int) Func {
	return func(_ context.Context, text string) (string, error) {
		sentences := Sentences(text)
		if len(sentences) < n {
			return "", fmt.Errorf("text has %d sentence(s), need at least %d", len(sentences), n)
		}
		return sentences[n-1], nil
	}
}

var _ domain.Transformer = (*Registry)(nil)
