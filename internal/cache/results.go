package cache

import (
	"context"
	"sync"

	"github.com/your-org/docflow/internal/domain"
)

const resultKeyPrefix = "result:"

// ResultCache stores completed results keyed by document ID on top of any domain.Cache.
// Only results of completed documents belong here; callers invalidate on reprocess and delete.
//
// Reads that miss go to the database and fill the cache afterwards. A fill carries the
// generation observed before that read and is dropped if a Set or Invalidate happened
// in between, so a slow reader never puts an older result over a newer one.
type ResultCache struct {
	cache domain.Cache

	mu         sync.Mutex
	generation uint64
}

func NewResultCache(cache domain.Cache) *ResultCache {
	return &ResultCache{cache: cache}
}

// Get returns a copy of the cached result.
func (c *ResultCache) Get(ctx context.Context, documentID string) (*domain.Result, bool) {
	v, ok := c.cache.Get(ctx, resultKeyPrefix+documentID)
	if !ok {
		return nil, false
	}
	res, ok := v.(*domain.Result)
	if !ok || res == nil {
		return nil, false
	}
	cp := *res
	return &cp, true
}

// Generation returns the token a reader passes to Fill after loading from the database.
func (c *ResultCache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Set stores a freshly written result. It always wins over pending fills.
func (c *ResultCache) Set(ctx context.Context, res *domain.Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	cp := *res
	return c.cache.Set(ctx, resultKeyPrefix+res.DocumentID, &cp)
}

// Fill stores a result read from the database unless the cache changed since generation
// was taken or already holds a newer result. Reports whether the result was stored.
func (c *ResultCache) Fill(ctx context.Context, res *domain.Result, generation uint64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != generation {
		return false, nil
	}
	if v, ok := c.cache.Get(ctx, resultKeyPrefix+res.DocumentID); ok {
		if cached, ok := v.(*domain.Result); ok && cached != nil && !res.UpdatedAt.After(cached.UpdatedAt) {
			return false, nil
		}
	}
	cp := *res
	if err := c.cache.Set(ctx, resultKeyPrefix+res.DocumentID, &cp); err != nil {
		return false, err
	}
	return true, nil
}

func (c *ResultCache) Invalidate(ctx context.Context, documentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	return c.cache.Delete(ctx, resultKeyPrefix+documentID)
}
