package metadata

import (
	"context"
	"log/slog"
)

type CatalogConfig struct {
	PostgresDSN string
}

// Writer persists run records.
type Writer interface {
	RecordRun(ctx context.Context, rec RunRecord) error
	Close() error
}

// NewWriter returns a Postgres writer when a DSN is configured and a no-op
// writer otherwise. Connection failures degrade to the no-op writer.
func NewWriter(ctx context.Context, cfg CatalogConfig, logger *slog.Logger) Writer {
	if logger == nil {
		logger = slog.With("component", "metadata")
	}
	if cfg.PostgresDSN == "" {
		return noopWriter{}
	}
	w, err := NewPostgresWriter(ctx, cfg, logger)
	if err != nil {
		logger.Warn("run catalog unavailable, runs will not be recorded", "error", err)
		return noopWriter{}
	}
	return w
}

type noopWriter struct{}

func (noopWriter) RecordRun(_ context.Context, _ RunRecord) error { return nil }
func (noopWriter) Close() error                                  { return nil }
