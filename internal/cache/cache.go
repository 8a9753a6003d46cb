package cache

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/your-org/docflow/internal/domain"
)

const (
	defaultShardCount      = 16
	defaultTTL             = 15 * time.Minute
	defaultCleanupInterval = 1 * time.Minute
)

// cacheItem is a cached value with its expiration time
type cacheItem struct {
	value     interface{}
	expiresAt time.Time
}

func (item *cacheItem) expired(now time.Time) bool {
	return now.After(item.expiresAt)
}

// cacheShard is a single shard of the cache with its own lock
type cacheShard struct {
	mu    sync.RWMutex
	items map[string]*cacheItem
}

// ShardedCache is a thread-safe TTL cache split into FNV-hashed shards
// so that readers of different keys rarely contend on one lock.
type ShardedCache struct {
	shards          []*cacheShard
	ttl             time.Duration
	cleanupInterval time.Duration

	hits   atomic.Int64
	misses atomic.Int64

	cleanupWorkerMu   sync.Mutex
	cleanupWorkerStop chan struct{}
	cleanupWorkerWg   sync.WaitGroup

	now func() time.Time
}

// NewShardedCache creates a cache. Non-positive arguments select the defaults.
func NewShardedCache(shardCount int, ttl time.Duration) *ShardedCache {
	if shardCount < 1 {
		shardCount = defaultShardCount
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}

	shards := make([]*cacheShard, shardCount)
	for i := range shards {
		shards[i] = &cacheShard{items: make(map[string]*cacheItem)}
	}

	return &ShardedCache{
		shards:          shards,
		ttl:             ttl,
		cleanupInterval: defaultCleanupInterval,
		now:             time.Now,
	}
}

func (c *ShardedCache) getShard(key string) *cacheShard {
	hash := fnv.New32a()
	hash.Write([]byte(key))
	return c.shards[hash.Sum32()%uint32(len(c.shards))]
}

// Get retrieves a value. Expired entries are reported as misses and left for the cleanup worker.
func (c *ShardedCache) Get(ctx context.Context, key string) (interface{}, bool) {
	if ctx.Err() != nil {
		return nil, false
	}

	shard := c.getShard(key)
	shard.mu.RLock()
	item, exists := shard.items[key]
	shard.mu.RUnlock()

	if !exists || item.expired(c.now()) {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return item.value, true
}

// Set stores a value for the cache TTL
func (c *ShardedCache) Set(ctx context.Context, key string, value interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	shard := c.getShard(key)
	shard.mu.Lock()
	shard.items[key] = &cacheItem{value: value, expiresAt: c.now().Add(c.ttl)}
	shard.mu.Unlock()
	return nil
}

// Delete removes a value
func (c *ShardedCache) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	shard := c.getShard(key)
	shard.mu.Lock()
	delete(shard.items, key)
	shard.mu.Unlock()
	return nil
}

// CleanExpired removes all expired items
func (c *ShardedCache) CleanExpired(ctx context.Context) error {
	now := c.now()
	for _, shard := range c.shards {
		if err := ctx.Err(); err != nil {
			return err
		}

		shard.mu.Lock()
		for key, item := range shard.items {
			if item.expired(now) {
				delete(shard.items, key)
			}
		}
		shard.mu.Unlock()
	}
	return nil
}

// StartCleanupWorker starts a background goroutine that periodically removes expired items.
// Calling it twice is a no-op.
func (c *ShardedCache) StartCleanupWorker() {
	c.cleanupWorkerMu.Lock()
	defer c.cleanupWorkerMu.Unlock()

	if c.cleanupWorkerStop != nil {
		return
	}

	c.cleanupWorkerStop = make(chan struct{})
	c.cleanupWorkerWg.Add(1)
	go c.cleanupWorker(c.cleanupWorkerStop)
}

// StopCleanupWorker stops the cleanup worker and waits for it
func (c *ShardedCache) StopCleanupWorker() {
	c.cleanupWorkerMu.Lock()
	defer c.cleanupWorkerMu.Unlock()

	if c.cleanupWorkerStop == nil {
		return
	}

	close(c.cleanupWorkerStop)
	c.cleanupWorkerWg.Wait()
	c.cleanupWorkerStop = nil
}

func (c *ShardedCache) cleanupWorker(stop <-chan struct{}) {
	defer c.cleanupWorkerWg.Done()

	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = c.CleanExpired(ctx)
			cancel()
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			_ = c.CleanExpired(ctx)
			cancel()
		}
	}
}

// Clear removes all items and resets the hit counters
func (c *ShardedCache) Clear() {
	for _, shard := range c.shards {
		shard.mu.Lock()
		shard.items = make(map[string]*cacheItem)
		shard.mu.Unlock()
	}
	c.hits.Store(0)
	c.misses.Store(0)
}

// Stats is a point-in-time snapshot of cache usage
type Stats struct {
	ShardCount   int
	TotalItems   int
	ExpiredItems int
	ShardItems   []int
	Hits         int64
	Misses       int64
}

// HitRate returns hits / (hits + misses), or 0 before the first lookup
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// GetStats returns cache statistics
func (c *ShardedCache) GetStats() Stats {
	now := c.now()
	stats := Stats{
		ShardCount: len(c.shards),
		ShardItems: make([]int, len(c.shards)),
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
	}

	for i, shard := range c.shards {
		shard.mu.RLock()
		stats.ShardItems[i] = len(shard.items)
		stats.TotalItems += len(shard.items)
		for _, item := range shard.items {
			if item.expired(now) {
				stats.ExpiredItems++
			}
		}
		shard.mu.RUnlock()
	}
	return stats
}

var _ domain.Cache = (*ShardedCache)(nil)
