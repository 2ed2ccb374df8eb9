package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/goccy/go-json"

	"github.com/taxwise-partners/sp-estimator/internal/model"
	"github.com/taxwise-partners/sp-estimator/internal/storage"
)

// BlobCache persists one JSON object per analysis id in a storage.Store.
type BlobCache struct {
	store storage.Store
	opts  options

	// serialises read-modify-write within this process
	mu sync.Mutex
}

var (
	_ Cache     = (*BlobCache)(nil)
	_ Inspector = (*BlobCache)(nil)
	_ Locator   = (*BlobCache)(nil)
)

// errCorruptEntry marks an entry that no longer parses.
var errCorruptEntry = errors.New("corrupt resume entry")

const entrySuffix = ".json"

// NewBlobCache creates a cache on store. The cache owns the store.
func NewBlobCache(store storage.Store, opts ...Option) *BlobCache {
	return &BlobCache{store: store, opts: buildOptions(opts)}
}

func entryKey(id string) string {
	return url.PathEscape(id) + entrySuffix
}

func (c *BlobCache) load(ctx context.Context, id string) (*Entry, error) {
	data, err := c.store.Read(ctx, entryKey(id))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNoEntry
		}
		return nil, fmt.Errorf("read resume entry: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w %s: %v", errCorruptEntry, id, err)
	}
	if e.Completed == nil {
		e.Completed = make(map[string]model.ScenarioOutput)
	}
	return &e, nil
}

func (c *BlobCache) Get(ctx context.Context, id string) (map[string]model.ScenarioOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, err := c.load(ctx, id)
	if errors.Is(err, ErrNoEntry) {
		return map[string]model.ScenarioOutput{}, nil
	}
	if errors.Is(err, errCorruptEntry) {
		c.opts.metrics.IncCacheErrors("parse")
		c.opts.logger.Warn("discarding unreadable resume entry", "analysis_id", id, "error", err)
		if err := c.store.Delete(ctx, entryKey(id)); err != nil {
			return nil, fmt.Errorf("delete corrupt entry: %w", err)
		}
		return map[string]model.ScenarioOutput{}, nil
	}
	if err != nil {
		return nil, err
	}

	if c.opts.stale(e) {
		c.opts.metrics.IncCacheStale()
		c.opts.logger.Debug("discarded stale resume entry", "analysis_id", id)
		if err := c.store.Delete(ctx, entryKey(id)); err != nil {
			return nil, fmt.Errorf("delete stale entry: %w", err)
		}
		return map[string]model.ScenarioOutput{}, nil
	}

	if len(e.Completed) > 0 {
		c.opts.metrics.IncCacheHits()
	}
	return e.Completed, nil
}

func (c *BlobCache) Put(ctx context.Context, id string, scenario int, part model.Part, out model.ScenarioOutput) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, err := c.load(ctx, id)
	if errors.Is(err, ErrNoEntry) || errors.Is(err, errCorruptEntry) {
		e = &Entry{Completed: make(map[string]model.ScenarioOutput)}
	} else if err != nil {
		return err
	}

	e.Completed[Key(scenario, part)] = out
	e.Timestamp = c.opts.now().UnixMilli()

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal resume entry: %w", err)
	}
	if err := c.store.Write(ctx, entryKey(id), data); err != nil {
		return fmt.Errorf("write resume entry: %w", err)
	}
	return nil
}

func (c *BlobCache) Clear(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Delete(ctx, entryKey(id)); err != nil {
		return fmt.Errorf("clear resume entry: %w", err)
	}
	return nil
}

// Inspect returns the raw entry, stale or not.
func (c *BlobCache) Inspect(ctx context.Context, id string) (*Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load(ctx, id)
}

func (c *BlobCache) Location(id string) string {
	return c.store.URI(entryKey(id))
}

func (c *BlobCache) Stat(ctx context.Context, id string) (*storage.ObjectInfo, error) {
	info, err := c.store.Head(ctx, entryKey(id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoEntry
	}
	return info, err
}

func (c *BlobCache) IDs(ctx context.Context) ([]string, error) {
	keys, err := c.store.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list resume entries: %w", err)
	}

	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		if !strings.HasSuffix(k, entrySuffix) || strings.Contains(k, "/") {
			continue
		}
		id, err := url.PathUnescape(strings.TrimSuffix(k, entrySuffix))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (c *BlobCache) Close() error {
	return c.store.Close()
}
