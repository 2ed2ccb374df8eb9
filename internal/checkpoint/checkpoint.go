// Package checkpoint stores per-analysis resume state: the scenario parts
// already computed for a given set of inputs.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/taxwise-partners/sp-estimator/internal/metrics"
	"github.com/taxwise-partners/sp-estimator/internal/model"
	"github.com/taxwise-partners/sp-estimator/internal/storage"
)

// DefaultTTL is how long a resume entry stays usable.
const DefaultTTL = 3600000 * time.Millisecond

// ErrNoEntry is returned by Inspect when nothing is stored for an id.
var ErrNoEntry = errors.New("no resume entry")

// Entry is the persisted resume state for one analysis id.
type Entry struct {
	Completed map[string]model.ScenarioOutput `json:"completed"`
	Timestamp int64                           `json:"timestamp"` // unix ms of last update
}

// Key names a completed unit inside an entry, e.g. "scenario3_max".
func Key(scenario int, part model.Part) string {
	return fmt.Sprintf("scenario%d_%s", scenario, part)
}

// Cache persists completed scenario parts keyed by analysis id.
type Cache interface {
	// Get returns the completed parts for id. A missing or expired entry
	// yields an empty map; expired entries are removed.
	Get(ctx context.Context, id string) (map[string]model.ScenarioOutput, error)

	// Put records one completed part and refreshes the entry timestamp.
	Put(ctx context.Context, id string, scenario int, part model.Part, out model.ScenarioOutput) error

	// Clear deletes the entry for id.
	Clear(ctx context.Context, id string) error

	// Close releases any resources.
	Close() error
}

// Inspector is implemented by caches that can expose the raw entry.
type Inspector interface {
	Inspect(ctx context.Context, id string) (*Entry, error)
}

// Locator is implemented by caches that persist entries as blobs.
type Locator interface {
	// Location returns the URI of the entry for id.
	Location(id string) string

	// Stat returns blob metadata for the entry of id, or ErrNoEntry.
	Stat(ctx context.Context, id string) (*storage.ObjectInfo, error)

	// IDs lists the analysis ids that have an entry, stale or not.
	IDs(ctx context.Context) ([]string, error)
}

// Config configures the resume cache.
type Config struct {
	Backend string // "memory" | "local" | "gcs" | "s3" | "none"
	Dir     string
	Bucket  string
	Prefix  string
	TTL     time.Duration

	// S3-compatible endpoint and region (MinIO, R2)
	Endpoint string
	Region   string
}

func (c Config) storeConfig() storage.Config {
	return storage.Config{
		Backend:    c.Backend,
		LocalDir:   c.Dir,
		Bucket:     c.Bucket,
		S3Endpoint: c.Endpoint,
		S3Region:   c.Region,
		Prefix:     c.Prefix,
	}
}

type options struct {
	ttl     time.Duration
	now     func() time.Time
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option customises a cache.
type Option func(*options)

// WithTTL overrides DefaultTTL.
func WithTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.ttl = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: slog.With("component", "checkpoint"),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) stale(e *Entry) bool {
	age := o.now().UnixMilli() - e.Timestamp
	return age > o.ttl.Milliseconds()
}

// New creates a resume cache based on configuration.
func New(ctx context.Context, cfg Config, opts ...Option) (Cache, error) {
	if cfg.TTL > 0 {
		opts = append([]Option{WithTTL(cfg.TTL)}, opts...)
	}

	switch cfg.Backend {
	case "none":
		return NewNoop(), nil
	case "memory", "":
		return NewMemoryCache(opts...), nil
	case "local", "gcs", "s3":
		store, err := storage.NewStore(ctx, cfg.storeConfig())
		if err != nil {
			return nil, fmt.Errorf("open resume store: %w", err)
		}
		return NewBlobCache(store, opts...), nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cfg.Backend)
	}
}

// noopCache is used when resuming is disabled.
type noopCache struct{}

// NewNoop returns a cache that never remembers anything.
func NewNoop() Cache { return noopCache{} }

func (noopCache) Get(ctx context.Context, id string) (map[string]model.ScenarioOutput, error) {
	return map[string]model.ScenarioOutput{}, nil
}

func (noopCache) Put(ctx context.Context, id string, scenario int, part model.Part, out model.ScenarioOutput) error {
	return nil
}

func (noopCache) Clear(ctx context.Context, id string) error { return nil }

func (noopCache) Close() error { return nil }
