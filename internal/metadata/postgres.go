package metadata

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taxwise-partners/sp-estimator/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// PostgresWriter implements Writer using PostgreSQL.
type PostgresWriter struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresWriter connects to the catalog and ensures the schema exists.
func NewPostgresWriter(ctx context.Context, cfg CatalogConfig, logger *slog.Logger) (*PostgresWriter, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolCfg, err := poolConfig(cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	w := &PostgresWriter{pool: pool, logger: logger}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	logger.Info("connected to run catalog")
	return w, nil
}

func poolConfig(dsn string) (*pgxpool.Config, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}
	poolCfg.MaxConns = 5
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	return poolCfg, nil
}

// RecordRun writes the run and its scenario outputs in one transaction.
// Re-recording a run id replaces its outputs.
func (w *PostgresWriter) RecordRun(ctx context.Context, rec RunRecord) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	runQuery := `
		INSERT INTO _meta_runs (
			run_id, analysis_id, correlation_id, name, income, avg_income,
			state, filing_status, skip_range_min, selection, status,
			started_at, finished_at, producer_version, producer_git_sha
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (run_id)
		DO UPDATE SET
			status = EXCLUDED.status,
			finished_at = EXCLUDED.finished_at
	`
	in := rec.Inputs
	_, err = tx.Exec(ctx, runQuery,
		rec.RunID,
		rec.AnalysisID,
		nullable(rec.CorrelationID),
		nullable(in.Name),
		in.Income,
		in.SecondaryIncome,
		string(in.State),
		string(in.FilingStatus),
		in.SkipRangeMinimum,
		rec.Selection,
		rec.Status,
		rec.StartedAt,
		rec.FinishedAt,
		nullable(rec.ProducerVersion),
		nullable(rec.ProducerGitSHA),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM _meta_scenario_outputs WHERE run_id = $1`, rec.RunID); err != nil {
		return fmt.Errorf("clear outputs: %w", err)
	}

	batch := &pgx.Batch{}
	for _, u := range rec.Units {
		batch.Queue(`
			INSERT INTO _meta_scenario_outputs (run_id, scenario, part, cached, agi, total_tax_due, total_net_gain)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			rec.RunID, u.Scenario, string(u.Part), u.Cached,
			u.Output.AGI, u.Output.TotalTaxDue, u.Output.TotalNetGain,
		)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert outputs: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	w.logger.Debug("recorded run", "run_id", rec.RunID, "analysis_id", rec.AnalysisID, "units", len(rec.Units))
	return nil
}

// LastRun returns the most recent completed run for an analysis, or nil.
func (w *PostgresWriter) LastRun(ctx context.Context, analysisID string) (*RunRecord, error) {
	query := `
		SELECT run_id, status, started_at, finished_at
		FROM _meta_runs
		WHERE analysis_id = $1 AND status = $2
		ORDER BY finished_at DESC
		LIMIT 1
	`

	rec := RunRecord{AnalysisID: analysisID}
	err := w.pool.QueryRow(ctx, query, analysisID, StatusComplete).
		Scan(&rec.RunID, &rec.Status, &rec.StartedAt, &rec.FinishedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get last run: %w", err)
	}

	rows, err := w.pool.Query(ctx, `
		SELECT scenario, part, cached, agi, total_tax_due, total_net_gain
		FROM _meta_scenario_outputs
		WHERE run_id = $1
		ORDER BY scenario, part`, rec.RunID)
	if err != nil {
		return nil, fmt.Errorf("get run outputs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			u    UnitRecord
			part string
		)
		if err := rows.Scan(&u.Scenario, &part, &u.Cached, &u.Output.AGI, &u.Output.TotalTaxDue, &u.Output.TotalNetGain); err != nil {
			return nil, fmt.Errorf("scan output: %w", err)
		}
		u.Part = model.Part(part)
		rec.Units = append(rec.Units, u)
	}
	return &rec, rows.Err()
}

// Close releases database connections.
func (w *PostgresWriter) Close() error {
	w.pool.Close()
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
