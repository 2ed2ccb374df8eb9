package main

import (
	"context"
	"errors"

	"github.com/taxwise-partners/sp-estimator/internal/analysis"
	"github.com/taxwise-partners/sp-estimator/internal/audit"
	"github.com/taxwise-partners/sp-estimator/internal/checkpoint"
	"github.com/taxwise-partners/sp-estimator/internal/config"
	"github.com/taxwise-partners/sp-estimator/internal/logging"
	"github.com/taxwise-partners/sp-estimator/internal/metadata"
	"github.com/taxwise-partners/sp-estimator/internal/metrics"
	"github.com/taxwise-partners/sp-estimator/internal/model"
	"github.com/taxwise-partners/sp-estimator/internal/report"
	"github.com/taxwise-partners/sp-estimator/internal/retry"
	"github.com/taxwise-partners/sp-estimator/internal/scenario"
	"github.com/taxwise-partners/sp-estimator/internal/sheets"
	"github.com/taxwise-partners/sp-estimator/internal/storage"
)

// app holds the wired collaborators of one command invocation.
type app struct {
	metrics *metrics.Metrics
	client  *sheets.Client
	cache   checkpoint.Cache
	catalog metadata.Writer
	audit   audit.Emitter
	store   *storage.BucketStore
	orch    *analysis.Orchestrator
	retry   retry.Runner
}

func openCache(ctx context.Context, cfg config.Config, m *metrics.Metrics) (checkpoint.Cache, error) {
	return checkpoint.New(ctx, checkpoint.Config{
		Backend: cfg.Cache.Backend,
		Dir:     cfg.Cache.Dir,
		Bucket:  cfg.Cache.Bucket,
		Prefix:  cfg.Cache.Prefix,
		TTL:     cfg.Cache.TTL,

		Endpoint: cfg.Cache.Endpoint,
		Region:   cfg.Cache.Region,
	}, checkpoint.WithMetrics(m), checkpoint.WithLogger(logging.Component("checkpoint")))
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{}
	if cfg.Metrics.Enabled {
		a.metrics = metrics.Init(cfg.Metrics.Namespace)
	}

	a.client = sheets.New(sheets.Options{
		Endpoint: cfg.Sheets.Endpoint,
		Timeout:  cfg.Sheets.Timeout,
		Settler:  sheets.FixedDelay(cfg.Sheets.SettleDelay),
		Metrics:  a.metrics,
		Logger:   logging.Component("sheets"),
	})

	cache, err := openCache(ctx, cfg, a.metrics)
	if err != nil {
		return nil, err
	}
	a.cache = cache

	a.catalog = metadata.NewWriter(ctx, metadata.CatalogConfig{PostgresDSN: cfg.Catalog.PostgresDSN}, logging.Component("metadata"))
	a.audit = audit.NewEmitter(audit.Config{
		Enabled:  cfg.Audit.Enabled,
		Dir:      cfg.Audit.Dir,
		Endpoint: cfg.Audit.Endpoint,
		Producer: audit.ProducerInfo{Name: "sp-estimator", Version: analysis.Version, GitSHA: analysis.GitSHA},
	}, logging.Component("audit"))

	var reports analysis.Exporter
	if cfg.Run.ExportReport {
		store, err := storage.NewStore(ctx, storage.Config{
			Backend:    cfg.Storage.Backend,
			LocalDir:   cfg.Storage.Dir,
			Bucket:     cfg.Storage.Bucket,
			S3Endpoint: cfg.Storage.Endpoint,
			S3Region:   cfg.Storage.Region,
			Prefix:     cfg.Storage.Prefix,
		})
		if err != nil {
			logger.Warn("report store unavailable, reports disabled", "error", err)
		} else {
			a.store = store
			reports = report.NewExporter(store, logging.Component("report"))
		}
	}

	a.orch = analysis.New(a.client, analysis.Options{
		Cache:           a.cache,
		Catalog:         a.catalog,
		Audit:           a.audit,
		Reports:         reports,
		Metrics:         a.metrics,
		Logger:          logging.Component("analysis"),
		KeepWorkingCopy: !cfg.Run.DeleteWorkingCopy,
	})

	a.retry = retry.Runner{
		Attempts:    cfg.Retry.Attempts,
		Delay:       cfg.Retry.Delay,
		IsPermanent: isPermanent,
		Logger:      logging.Component("retry"),
		Metrics:     a.metrics,
	}
	return a, nil
}

func (a *app) Close() error {
	var errs []error
	errs = append(errs, a.cache.Close(), a.catalog.Close(), a.audit.Close())
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}

// isPermanent reports failures a second attempt cannot fix.
func isPermanent(err error) bool {
	return errors.Is(err, sheets.ErrNotConfigured) ||
		errors.Is(err, config.ErrInvalid) ||
		errors.Is(err, model.ErrInvalidInputs) ||
		errors.Is(err, scenario.ErrInvalidSelection)
}
