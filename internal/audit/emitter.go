package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Emitter records audit events.
type Emitter interface {
	Emit(ctx context.Context, evt *Event) error
	Close() error
}

// Config configures the audit trail.
type Config struct {
	Enabled  bool
	Dir      string // local backup and chain heads
	Endpoint string // optional collector URL
	Producer ProducerInfo
}

// NewEmitter creates an emitter based on configuration. Setup failures
// degrade to a no-op emitter.
func NewEmitter(cfg Config, logger *slog.Logger) Emitter {
	if logger == nil {
		logger = slog.With("component", "audit")
	}
	if !cfg.Enabled {
		logger.Debug("audit disabled, using no-op emitter")
		return noopEmitter{}
	}

	t, err := NewTrail(cfg, logger)
	if err != nil {
		logger.Warn("failed to create audit trail, using no-op", "error", err)
		return noopEmitter{}
	}
	return t
}

// Trail hash-chains events, backs them up locally and optionally posts
// them to a collector.
type Trail struct {
	chain    *ChainTracker
	backup   *FileBackup
	sink     *httpSink
	producer ProducerInfo
	now      func() time.Time
	logger   *slog.Logger
}

func NewTrail(cfg Config, logger *slog.Logger) (*Trail, error) {
	if cfg.Dir == "" {
		cfg.Dir = "./audit"
	}
	if logger == nil {
		logger = slog.With("component", "audit")
	}

	chain, err := NewChainTracker(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("create chain tracker: %w", err)
	}
	backup, err := NewFileBackup(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("create file backup: %w", err)
	}

	t := &Trail{
		chain:    chain,
		backup:   backup,
		producer: cfg.Producer,
		now:      time.Now,
		logger:   logger,
	}
	if cfg.Endpoint != "" {
		t.sink = newHTTPSink(cfg.Endpoint, logger)
		logger.Info("audit events will be posted", "endpoint", cfg.Endpoint)
	}
	return t, nil
}

// Emit chains, backs up and (optionally) posts evt. The chain head only
// advances after the event is stored.
func (t *Trail) Emit(ctx context.Context, evt *Event) error {
	key := evt.ChainKey()

	prevHash, err := t.chain.GetHead(key)
	if err != nil && !errors.Is(err, ErrNoChainHead) {
		return fmt.Errorf("get chain head: %w", err)
	}

	evt.stamp(t.now(), t.producer)
	evt.SetChainHashes(prevHash)

	path, err := t.backup.Save(evt)
	if err != nil {
		if t.sink == nil {
			return err
		}
		t.logger.Warn("audit backup failed", "error", err)
	}

	if t.sink != nil {
		if err := t.sink.postWithRetry(ctx, evt); err != nil {
			return fmt.Errorf("audit emit failed: %w", err)
		}
	}

	if err := t.chain.SetHead(key, evt.Chain.EventHash); err != nil {
		t.logger.Warn("failed to update chain head", "error", err)
	}

	t.logger.Debug("audit event recorded",
		"event_type", evt.EventType,
		"analysis_id", key,
		"event_hash", evt.Chain.EventHash,
		"path", path,
	)
	return nil
}

func (t *Trail) Close() error { return nil }

type noopEmitter struct{}

func (noopEmitter) Emit(ctx context.Context, evt *Event) error { return nil }
func (noopEmitter) Close() error                              { return nil }
