// Package analysis drives a full estimator run: it provisions a working
// copy, executes the selected scenarios in order, resumes from the cache
// and records the outcome.
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/taxwise-partners/sp-estimator/internal/audit"
	"github.com/taxwise-partners/sp-estimator/internal/checkpoint"
	"github.com/taxwise-partners/sp-estimator/internal/logging"
	"github.com/taxwise-partners/sp-estimator/internal/metadata"
	"github.com/taxwise-partners/sp-estimator/internal/metrics"
	"github.com/taxwise-partners/sp-estimator/internal/model"
	"github.com/taxwise-partners/sp-estimator/internal/report"
	"github.com/taxwise-partners/sp-estimator/internal/scenario"
)

// Version information (set via ldflags)
var (
	Version = "v0.1.0"
	GitSHA  = "unknown"
)

// Backend is the calculation service a run provisions and drives.
// *sheets.Client satisfies it.
type Backend interface {
	scenario.Calculator
	CreateFolder(ctx context.Context, in model.UserInputs) (model.Folder, error)
	CreateWorkingCopy(ctx context.Context, folderID string) (model.WorkingCopyHandle, error)
	DeleteWorkingCopy(ctx context.Context, h model.WorkingCopyHandle) error
	Cleanup(ctx context.Context, h model.WorkingCopyHandle) error
}

// Exporter writes a run report. *report.Exporter satisfies it.
type Exporter interface {
	Export(ctx context.Context, runID string, in model.UserInputs, res *model.Results) ([]report.Artifact, error)
}

// Options wires the optional collaborators. Nil fields disable the feature.
type Options struct {
	Cache   checkpoint.Cache
	Catalog metadata.Writer
	Audit   audit.Emitter
	Reports Exporter
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// KeepWorkingCopy leaves the working copy in place after a successful run.
	KeepWorkingCopy bool
}

// Orchestrator runs analyses against one backend. Runs are sequential; one
// orchestrator may serve several runs one after another.
type Orchestrator struct {
	backend Backend
	cache   checkpoint.Cache
	catalog metadata.Writer
	audit   audit.Emitter
	reports Exporter
	metrics *metrics.Metrics
	log     *slog.Logger
	keep    bool
}

func New(backend Backend, opts Options) *Orchestrator {
	o := &Orchestrator{
		backend: backend,
		cache:   opts.Cache,
		catalog: opts.Catalog,
		audit:   opts.Audit,
		reports: opts.Reports,
		metrics: opts.Metrics,
		log:     opts.Logger,
		keep:    opts.KeepWorkingCopy,
	}
	if o.cache == nil {
		o.cache = checkpoint.NewNoop()
	}
	if o.log == nil {
		o.log = logging.Component("analysis")
	}
	return o
}

// Run executes the selection for in and returns the results.
func (o *Orchestrator) Run(ctx context.Context, in model.UserInputs, sel scenario.Selection, progress ProgressFunc) (*model.Results, error) {
	rep, err := o.Analyze(ctx, in, sel, progress)
	if err != nil {
		return nil, err
	}
	return rep.Results, nil
}

// run carries the per-run state through the steps of Analyze.
type run struct {
	*Orchestrator
	in       model.UserInputs
	rep      *RunReport
	log      *slog.Logger
	progress *progressTracker
	cached   map[string]model.ScenarioOutput
	outputs  map[int]map[model.Part]model.ScenarioOutput
	fromMemo map[metadata.UnitKey]bool
}

// Analyze is Run with a full report. The report is non-nil even on error;
// the error itself is returned unchanged so callers can classify it.
func (o *Orchestrator) Analyze(ctx context.Context, in model.UserInputs, sel scenario.Selection, progress ProgressFunc) (*RunReport, error) {
	correlationID := logging.CorrelationID(ctx)
	if correlationID == "" {
		correlationID = logging.GenerateCorrelationID()
		ctx = logging.WithCorrelationID(ctx, correlationID)
	}

	rep := &RunReport{
		RunID:         uuid.NewString(),
		AnalysisID:    in.AnalysisID(),
		CorrelationID: correlationID,
		StartedAt:     time.Now(),
	}
	rep.transition(StateInit)

	r := &run{
		Orchestrator: o,
		in:           in,
		rep:          rep,
		log:          logging.RunLogger(o.log, correlationID, rep.AnalysisID).With("run_id", rep.RunID),
		progress:     newProgressTracker(progress, o.metrics),
		outputs:      make(map[int]map[model.Part]model.ScenarioOutput),
		fromMemo:     make(map[metadata.UnitKey]bool),
	}

	if err := r.execute(ctx, sel); err != nil {
		return rep, r.fail(err)
	}
	return rep, nil
}

func (r *run) step(s State) {
	r.rep.transition(s)
	r.log.Info("run state", "state", s)
}

func (r *run) fail(err error) error {
	r.rep.transition(StateFailed)
	r.rep.Err = err
	r.rep.FinishedAt = time.Now()
	r.metrics.ObserveRun("failed", r.rep.Duration())
	r.log.Error("analysis failed",
		"error", err,
		"computed", r.rep.Computed,
		"cached", r.rep.Cached,
		"working_copy_id", r.rep.WorkingCopy.ID,
	)
	return err
}

func (r *run) execute(ctx context.Context, sel scenario.Selection) error {
	if err := r.in.Validate(); err != nil {
		return err
	}
	var err error
	if len(sel) == 0 {
		sel, err = scenario.ParseSelection("")
	} else {
		sel, err = scenario.NewSelection(sel...)
	}
	if err != nil {
		return err
	}
	r.rep.Selection = sel

	units, err := plan(sel)
	if err != nil {
		return err
	}

	r.progress.report(progressSetup, msgSetup)
	r.loadCache(ctx)

	r.progress.report(progressFolder, msgFolder)
	folder, err := r.backend.CreateFolder(ctx, r.in)
	if err != nil {
		return fmt.Errorf("create folder: %w", err)
	}
	r.rep.Folder = folder
	r.step(StateFolderCreated)

	r.progress.report(progressWorkingCopy, msgWorkingCopy)
	h, err := r.backend.CreateWorkingCopy(ctx, folder.ID)
	if err != nil {
		return fmt.Errorf("create working copy: %w", err)
	}
	r.rep.WorkingCopy = h
	r.log = r.log.With("working_copy_id", h.ID)
	r.step(StateWorkingCopyCreated)

	r.progress.report(progressPrepare, msgPrepare)
	if err := r.prepare(ctx, h); err != nil {
		return fmt.Errorf("prepare working copy: %w", err)
	}
	r.step(StatePrepared)

	for i, u := range units {
		n := u.cfg.Number
		if i == 0 || units[i-1].cfg.Number != n {
			r.step(ScenarioRunning(n))
		}
		if err := r.unit(ctx, u, h); err != nil {
			return err
		}
		if i == len(units)-1 || units[i+1].cfg.Number != n {
			r.step(ScenarioDone(n))
		}
	}

	r.rep.Results = r.results(sel)
	r.finish(ctx, h)
	return nil
}

func (r *run) loadCache(ctx context.Context) {
	cached, err := r.cache.Get(ctx, r.rep.AnalysisID)
	if err != nil {
		r.metrics.IncCacheErrors("get")
		r.log.Warn("resume cache unavailable, starting fresh", "error", err)
		cached = nil
	}
	r.cached = cached
	if len(cached) > 0 {
		r.rep.Resumed = true
		r.log.Info("resuming from previous run", "cached_units", len(cached))
		r.progress.report(progressSetup, msgResuming)
	}
}

func (r *run) prepare(ctx context.Context, h model.WorkingCopyHandle) error {
	if err := r.backend.Cleanup(ctx, h); err != nil {
		return err
	}
	if err := r.backend.SetUserInputs(ctx, h, r.in); err != nil {
		return err
	}
	return r.backend.CleanupLimited(ctx, h)
}

// unit computes, restores or derives one scenario part.
func (r *run) unit(ctx context.Context, u plannedUnit, h model.WorkingCopyHandle) error {
	cfg := u.cfg
	n, part := cfg.Number, cfg.Part
	label := strconv.Itoa(n)
	log := r.log.With("scenario", n, "part", part)

	// A skipped minimum always mirrors the maximum, even when an earlier
	// run without the skip left a computed minimum in the cache.
	if part == model.PartMin && r.in.SkipRangeMinimum {
		out := r.outputs[n][model.PartMax]
		r.record(n, part, out)
		r.rep.Derived++
		r.progress.report(u.end, "")
		log.Debug("range minimum skipped, using maximum")
		return nil
	}

	if out, ok := r.cached[checkpoint.Key(n, part)]; ok {
		r.progress.report(u.end, cfg.CachedMessage)
		r.record(n, part, out)
		r.rep.Cached++
		r.fromMemo[metadata.UnitKey{Scenario: n, Part: part}] = true
		r.metrics.IncScenarioCached(label, string(part))
		log.Info("using cached scenario output")
		r.emit(ctx, audit.NewUnitEvent(r.auditRun(), model.Unit{Scenario: n, Part: part, Output: out}, true))
		return nil
	}

	r.progress.report(u.start, cfg.StartMessage)
	exec := scenario.NewExecutor(r.backend,
		scenario.WithNotify(func(msg string) { r.progress.report(u.mid(), msg) }),
		scenario.WithLogger(r.log),
		scenario.WithMetrics(r.metrics),
	)
	out, err := exec.Execute(ctx, cfg, r.in, h)
	if err != nil {
		return err
	}
	r.record(n, part, out)
	r.rep.Computed++

	if err := r.cache.Put(ctx, r.rep.AnalysisID, n, part, out); err != nil {
		r.metrics.IncCacheErrors("put")
		log.Warn("failed to save resume entry", "error", err)
	}
	r.emit(ctx, audit.NewUnitEvent(r.auditRun(), model.Unit{Scenario: n, Part: part, Output: out}, false))
	r.progress.report(u.end, "")
	return nil
}

func (r *run) record(n int, part model.Part, out model.ScenarioOutput) {
	if r.outputs[n] == nil {
		r.outputs[n] = make(map[model.Part]model.ScenarioOutput)
	}
	r.outputs[n][part] = out
}

func (r *run) results(sel scenario.Selection) *model.Results {
	res := model.NewResults()
	for _, n := range sel {
		parts := r.outputs[n]
		if c, _ := scenario.Lookup(n); c.Range {
			res.SetRange(n, model.RangeOutput{Min: parts[model.PartMin], Max: parts[model.PartMax]})
			continue
		}
		res.SetSingle(n, parts[model.PartFull])
	}
	return res
}

// finish runs the success-path cleanup. Nothing here can fail the run.
func (r *run) finish(ctx context.Context, h model.WorkingCopyHandle) {
	if !r.keep {
		if err := r.backend.DeleteWorkingCopy(ctx, h); err != nil {
			r.log.Warn("failed to delete working copy", "error", err)
		}
	}
	r.step(StateCleanedUp)

	if err := r.cache.Clear(ctx, r.rep.AnalysisID); err != nil {
		r.metrics.IncCacheErrors("clear")
		r.log.Warn("failed to clear resume entry", "error", err)
	}

	if r.catalog != nil {
		rec := metadata.NewRunRecord(r.rep.RunID, r.in, r.rep.Selection, r.rep.Results, r.fromMemo, r.rep.StartedAt)
		rec.CorrelationID = r.rep.CorrelationID
		rec.ProducerVersion, rec.ProducerGitSHA = Version, GitSHA
		if err := r.catalog.RecordRun(ctx, rec); err != nil {
			r.metrics.IncCatalogErrors()
			r.log.Warn("failed to record run in catalog", "error", err)
		}
	}

	r.emit(ctx, audit.NewRunCompleteEvent(r.auditRun()))

	if r.reports != nil {
		if _, err := r.reports.Export(ctx, r.rep.RunID, r.in, r.rep.Results); err != nil {
			r.metrics.IncReportErrors()
			r.log.Warn("failed to export report", "error", err)
		}
	}

	r.rep.FinishedAt = time.Now()
	r.step(StateComplete)
	r.metrics.ObserveRun("success", r.rep.Duration())
	r.progress.report(progressComplete, msgComplete)
	r.log.Info("analysis complete",
		"computed", r.rep.Computed,
		"cached", r.rep.Cached,
		"derived", r.rep.Derived,
		"duration", r.rep.Duration().String(),
	)
}

func (r *run) auditRun() audit.RunInfo {
	return audit.RunInfo{
		RunID:         r.rep.RunID,
		AnalysisID:    r.rep.AnalysisID,
		CorrelationID: r.rep.CorrelationID,
		WorkingCopyID: r.rep.WorkingCopy.ID,
	}
}

func (r *run) emit(ctx context.Context, evt *audit.Event) {
	if r.audit == nil {
		return
	}
	if err := r.audit.Emit(ctx, evt); err != nil {
		r.metrics.IncAuditErrors()
		r.log.Warn("failed to emit audit event", "event_type", evt.EventType, "error", err)
	}
}
