package checkpoint

import (
	"context"
	"maps"
	"sync"

	"github.com/taxwise-partners/sp-estimator/internal/model"
)

// MemoryCache keeps entries in process memory.
type MemoryCache struct {
	opts options

	mu      sync.Mutex
	entries map[string]*Entry
}

var (
	_ Cache     = (*MemoryCache)(nil)
	_ Inspector = (*MemoryCache)(nil)
)

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache(opts ...Option) *MemoryCache {
	return &MemoryCache{
		opts:    buildOptions(opts),
		entries: make(map[string]*Entry),
	}
}

func (c *MemoryCache) Get(ctx context.Context, id string) (map[string]model.ScenarioOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return map[string]model.ScenarioOutput{}, nil
	}
	if c.opts.stale(e) {
		delete(c.entries, id)
		c.opts.metrics.IncCacheStale()
		c.opts.logger.Debug("discarded stale resume entry", "analysis_id", id)
		return map[string]model.ScenarioOutput{}, nil
	}
	if len(e.Completed) > 0 {
		c.opts.metrics.IncCacheHits()
	}
	return maps.Clone(e.Completed), nil
}

func (c *MemoryCache) Put(ctx context.Context, id string, scenario int, part model.Part, out model.ScenarioOutput) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		e = &Entry{Completed: make(map[string]model.ScenarioOutput)}
		c.entries[id] = e
	}
	e.Completed[Key(scenario, part)] = out
	e.Timestamp = c.opts.now().UnixMilli()
	return nil
}

func (c *MemoryCache) Clear(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
	return nil
}

// Inspect returns a copy of the raw entry, stale or not.
func (c *MemoryCache) Inspect(ctx context.Context, id string) (*Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return nil, ErrNoEntry
	}
	return &Entry{Completed: maps.Clone(e.Completed), Timestamp: e.Timestamp}, nil
}

func (c *MemoryCache) Close() error { return nil }
