package usecases

import (
	"context"
	"sync"
)

// RateLimiter ограничивает число одновременных обработок документов.
// Извлечение и распознавание тяжелые, поэтому слотов обычно меньше, чем воркеров.
type RateLimiter struct {
	slots chan struct{}
}

func NewRateLimiter(maxConcurrent int) *RateLimiter {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &RateLimiter{slots: make(chan struct{}, maxConcurrent)}
}

// Acquire ждет свободный слот и возвращает функцию его освобождения.
// Повторный вызов release ничего не делает.
func (rl *RateLimiter) Acquire(ctx context.Context) (release func(), err error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case rl.slots <- struct{}{}:
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-rl.slots })
	}, nil
}

// InFlight возвращает число занятых слотов.
func (rl *RateLimiter) InFlight() int {
	return len(rl.slots)
}

// Capacity возвращает размер лимита.
func (rl *RateLimiter) Capacity() int {
	return cap(rl.slots)
}
