package cache

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/incrustwerush/rwaf/internal/runtime/pipeline"
)

// memoryCache is a bounded in-process LRU. Insertion past capacity evicts the
// least-recently-used fingerprint.
type memoryCache struct {
	maxSize int

	mu      sync.Mutex
	entries *lru.Cache[string, pipeline.Decision]
	hits    int64
	misses  int64
}

// NewMemory builds the in-process LRU backend with the given capacity.
func NewMemory(maxSize int) (DecisionCache, error) {
	if maxSize < 1 {
		maxSize = 1
	}
	entries, err := lru.New[string, pipeline.Decision](maxSize)
	if err != nil {
		return nil, fmt.Errorf("cache: build lru: %w", err)
	}
	return &memoryCache{maxSize: maxSize, entries: entries}, nil
}

func (c *memoryCache) Lookup(_ context.Context, key string) (pipeline.Decision, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	decision, ok := c.entries.Get(key)
	if !ok {
		c.misses++
		return pipeline.Decision{}, false, nil
	}
	c.hits++
	return decision, true, nil
}

func (c *memoryCache) Store(_ context.Context, key string, decision pipeline.Decision) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Add(key, decision)
	return nil
}

func (c *memoryCache) Clear(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
	c.hits = 0
	c.misses = 0
	return nil
}

func (c *memoryCache) Stats(context.Context) (Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Hits: c.hits, Misses: c.misses, Size: c.entries.Len(), MaxSize: c.maxSize}, nil
}

func (c *memoryCache) Close(context.Context) error { return nil }
