package analysis

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/taxwise-partners/sp-estimator/internal/audit"
	"github.com/taxwise-partners/sp-estimator/internal/checkpoint"
	"github.com/taxwise-partners/sp-estimator/internal/logging"
	"github.com/taxwise-partners/sp-estimator/internal/metadata"
	"github.com/taxwise-partners/sp-estimator/internal/metrics"
	"github.com/taxwise-partners/sp-estimator/internal/model"
	"github.com/taxwise-partners/sp-estimator/internal/report"
	"github.com/taxwise-partners/sp-estimator/internal/scenario"
	"github.com/taxwise-partners/sp-estimator/internal/sheets"
	"github.com/taxwise-partners/sp-estimator/internal/sheets/sheetstest"
	"github.com/taxwise-partners/sp-estimator/internal/storage"
)

func TestMain(m *testing.M) {
	// started at init by the gcsblob driver that storage registers
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

var _ Backend = (*sheets.Client)(nil)

var testInputs = model.UserInputs{
	Name:            "Test Payer",
	Income:          1000000,
	SecondaryIncome: 100000,
	State:           "California",
	FilingStatus:    model.FilingSingle,
}

// recordingCache remembers every key written.
type recordingCache struct {
	*checkpoint.MemoryCache
	mu   sync.Mutex
	puts []string
}

func newRecordingCache() *recordingCache {
	return &recordingCache{MemoryCache: checkpoint.NewMemoryCache(checkpoint.WithLogger(logging.Nop()))}
}

func (c *recordingCache) Put(ctx context.Context, id string, n int, part model.Part, out model.ScenarioOutput) error {
	c.mu.Lock()
	c.puts = append(c.puts, checkpoint.Key(n, part))
	c.mu.Unlock()
	return c.MemoryCache.Put(ctx, id, n, part, out)
}

type stubCatalog struct {
	records []metadata.RunRecord
	err     error
}

func (s *stubCatalog) RecordRun(_ context.Context, rec metadata.RunRecord) error {
	s.records = append(s.records, rec)
	return s.err
}

func (s *stubCatalog) Close() error { return nil }

func newOrchestrator(fake *sheetstest.Fake, opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return New(fake, opts)
}

func mustSelection(t *testing.T, s string) scenario.Selection {
	t.Helper()
	sel, err := scenario.ParseSelection(s)
	require.NoError(t, err)
	return sel
}

func snapshotOrder(fake *sheetstest.Fake) []int {
	var out []int
	for _, c := range fake.Calls() {
		if c.Action == sheets.ActionCreateWorkbookCopy {
			out = append(out, c.Scenario)
		}
	}
	return out
}

func TestScenarioOutputExample(t *testing.T) {
	fake := sheetstest.New()
	fake.Outputs = func(cells map[string]any) model.ScenarioOutput {
		if fee, _ := cells["E17"].(float64); fee > 0 {
			return model.ScenarioOutput{AGI: 90000, TotalTaxDue: 15000, TotalNetGain: 5000}
		}
		return model.ScenarioOutput{AGI: 100000, TotalTaxDue: 20000, TotalNetGain: 0}
	}
	in := model.UserInputs{
		Income:           100000,
		State:            "California",
		FilingStatus:     model.FilingSingle,
		SkipRangeMinimum: true,
	}

	res, err := newOrchestrator(fake, Options{}).Run(context.Background(), in, mustSelection(t, "1,2"), nil)
	require.NoError(t, err)

	got, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"scenario1": {"agi": 100000, "totalTaxDue": 20000, "totalNetGain": 0},
		"scenario2": {"agi": 90000, "totalTaxDue": 15000, "totalNetGain": 5000},
		"scenario3": null,
		"scenario4": null,
		"scenario5": null,
		"scenario6": null
	}`, string(got))
}

func TestRangeScenarioResults(t *testing.T) {
	fake := sheetstest.New()
	res, err := newOrchestrator(fake, Options{}).Run(context.Background(), testInputs, mustSelection(t, "scenario6"), nil)
	require.NoError(t, err)

	o, ok := res.Get(3)
	require.True(t, ok)
	require.True(t, o.IsRange())
	assert.Equal(t, model.ScenarioOutput{AGI: 940000, TotalTaxDue: 320000, TotalNetGain: 30000}, o.Range.Max)
	assert.Equal(t, model.ScenarioOutput{AGI: 970000, TotalTaxDue: 335000, TotalNetGain: 15000}, o.Range.Min)

	o, ok = res.Get(6)
	require.True(t, ok)
	assert.Equal(t, 315000.0, o.Range.Max.TotalTaxDue, "carry-back applied")
}

func TestIdempotentResume(t *testing.T) {
	ctx := context.Background()
	cache := newRecordingCache()
	fake := sheetstest.New()
	orch := newOrchestrator(fake, Options{Cache: cache})
	sel := mustSelection(t, "all")

	boom := errors.New("exceeded maximum execution time")
	fake.FailOn(sheets.ActionGetOutputs, 3, boom)

	rep, err := orch.Analyze(ctx, testInputs, sel, nil)
	require.Error(t, err)
	var te *sheets.TransportError
	assert.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateFailed, rep.State)
	assert.Zero(t, fake.Count(sheets.ActionDeleteWorkingCopy), "working copy left for inspection")

	kept, err := cache.Get(ctx, testInputs.AnalysisID())
	require.NoError(t, err)
	assert.Len(t, kept, 2, "completed units survive the failure")

	fake.ClearFailures()
	fake.Reset()

	var progress []model.Progress
	rep, err = orch.Analyze(ctx, testInputs, sel, func(p model.Progress) { progress = append(progress, p) })
	require.NoError(t, err)

	assert.True(t, rep.Resumed)
	assert.Equal(t, 2, rep.Cached)
	assert.Equal(t, 6, rep.Computed)
	assert.Equal(t, 6, fake.Count(sheets.ActionGetOutputs))
	assert.Equal(t, 1, fake.Count(sheets.ActionSetInputs), "baseline was not re-executed")
	assert.Equal(t, []int{3, 3, 4, 4, 5, 5}, snapshotOrder(fake))

	var messages []string
	for _, p := range progress {
		messages = append(messages, p.Message)
	}
	assert.Contains(t, messages, "Resuming from previous run...")
	assert.Contains(t, messages, "Using cached Scenario 1: Baseline...")
	assert.Contains(t, messages, "Using cached Scenario 2: Solar Only...")

	fresh, err := newOrchestrator(sheetstest.New(), Options{}).Run(ctx, testInputs, sel, nil)
	require.NoError(t, err)
	if diff := cmp.Diff(fresh.Units(), rep.Results.Units()); diff != "" {
		t.Errorf("resumed results differ from a fresh run (-fresh +resumed):\n%s", diff)
	}

	left, err := cache.Get(ctx, testInputs.AnalysisID())
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestRangeDegeneration(t *testing.T) {
	cache := newRecordingCache()
	fake := sheetstest.New()
	in := testInputs
	in.SkipRangeMinimum = true

	rep, err := newOrchestrator(fake, Options{Cache: cache}).Analyze(context.Background(), in, mustSelection(t, "scenario5"), nil)
	require.NoError(t, err)

	o, _ := rep.Results.Get(5)
	require.True(t, o.IsRange())
	assert.Equal(t, o.Range.Max, o.Range.Min)
	assert.Equal(t, 1, rep.Derived)
	assert.Equal(t, 2, fake.Count(sheets.ActionGetOutputs))
	assert.Equal(t, []string{"scenario1_full", "scenario5_max"}, cache.puts)

	for _, c := range fake.Calls() {
		if c.Cell == "C90" {
			assert.NotEqual(t, 0.3, c.Value, "land model must not run")
		}
	}
}

func TestRangeDegenerationIgnoresCachedMinimum(t *testing.T) {
	ctx := context.Background()
	cache := newRecordingCache()
	fake := sheetstest.New()
	in := testInputs
	in.SkipRangeMinimum = true

	hi := model.ScenarioOutput{AGI: 1, TotalTaxDue: 2, TotalNetGain: 3}
	lo := model.ScenarioOutput{AGI: 9, TotalTaxDue: 9, TotalNetGain: 9}
	require.NoError(t, cache.Put(ctx, in.AnalysisID(), 3, model.PartMax, hi))
	require.NoError(t, cache.Put(ctx, in.AnalysisID(), 3, model.PartMin, lo))

	rep, err := newOrchestrator(fake, Options{Cache: cache}).Analyze(ctx, in, mustSelection(t, "1,3"), nil)
	require.NoError(t, err)

	o, ok := rep.Results.Get(3)
	require.True(t, ok)
	require.True(t, o.IsRange())
	assert.Equal(t, hi, o.Range.Max)
	assert.Equal(t, hi, o.Range.Min)
	assert.Equal(t, 1, rep.Cached)
	assert.Equal(t, 1, rep.Derived)
	assert.Equal(t, 1, fake.Count(sheets.ActionGetOutputs), "only the baseline is computed")
}

func TestBaselineRunsFirst(t *testing.T) {
	tests := []struct {
		sel  string
		want []int
	}{
		{"1", []int{1}},
		{"2", []int{1, 2}},
		{"3", []int{1, 3, 3}},
		{"6,2", []int{1, 2, 6, 6}},
		{"scenario5", []int{1, 5, 5}},
		{"every", []int{1, 2, 3, 3, 4, 4, 5, 5, 6, 6}},
	}
	for _, tt := range tests {
		t.Run(tt.sel, func(t *testing.T) {
			fake := sheetstest.New()
			_, err := newOrchestrator(fake, Options{}).Run(context.Background(), testInputs, mustSelection(t, tt.sel), nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, snapshotOrder(fake))
		})
	}
}

func TestUnorderedSelectionIsNormalised(t *testing.T) {
	fake := sheetstest.New()
	rep, err := newOrchestrator(fake, Options{}).Analyze(context.Background(), testInputs, scenario.Selection{4, 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, scenario.Selection{1, 2, 4}, rep.Selection)
	assert.Equal(t, []int{1, 2, 4, 4}, snapshotOrder(fake))
}

func TestFullSuccessCleanup(t *testing.T) {
	ctx := context.Background()
	cache := newRecordingCache()
	fake := sheetstest.New()

	rep, err := newOrchestrator(fake, Options{Cache: cache}).Analyze(ctx, testInputs, mustSelection(t, "1,2"), nil)
	require.NoError(t, err)

	assert.Equal(t, []State{
		StateInit, StateFolderCreated, StateWorkingCopyCreated, StatePrepared,
		"SCENARIO_1_RUNNING", "SCENARIO_1_DONE",
		"SCENARIO_2_RUNNING", "SCENARIO_2_DONE",
		StateCleanedUp, StateComplete,
	}, rep.Transitions)

	_, err = cache.Inspect(ctx, testInputs.AnalysisID())
	assert.ErrorIs(t, err, checkpoint.ErrNoEntry)
	assert.Len(t, cache.puts, 2)

	assert.Equal(t, 1, fake.Count(sheets.ActionDeleteWorkingCopy))
	assert.Equal(t, "wc-1", rep.WorkingCopy.ID)
	assert.Equal(t, "folder-1", rep.Folder.ID)

	actions := fake.Actions()
	assert.Equal(t, []string{
		sheets.ActionCreateFolder, sheets.ActionCreateWorkingCopy,
		sheets.ActionCleanup, sheets.ActionSetInputs, sheets.ActionCleanupLimited,
	}, actions[:5])
}

func TestKeepWorkingCopy(t *testing.T) {
	fake := sheetstest.New()
	_, err := newOrchestrator(fake, Options{KeepWorkingCopy: true}).Run(context.Background(), testInputs, mustSelection(t, "1"), nil)
	require.NoError(t, err)
	assert.Zero(t, fake.Count(sheets.ActionDeleteWorkingCopy))
}

func TestDeleteWorkingCopyFailureIsIgnored(t *testing.T) {
	fake := sheetstest.New()
	fake.FailOn(sheets.ActionDeleteWorkingCopy, 1, errors.New("permission denied"))
	_, err := newOrchestrator(fake, Options{}).Run(context.Background(), testInputs, mustSelection(t, "1"), nil)
	assert.NoError(t, err)
}

func TestProgressIsMonotonic(t *testing.T) {
	var progress []model.Progress
	fake := sheetstest.New()
	_, err := newOrchestrator(fake, Options{}).Run(context.Background(), testInputs, mustSelection(t, "every"),
		func(p model.Progress) { progress = append(progress, p) })
	require.NoError(t, err)

	require.NotEmpty(t, progress)
	assert.Equal(t, model.Progress{Percent: 0, Message: "Setting up your analysis..."}, progress[0])
	assert.Equal(t, model.Progress{Percent: 100, Message: "Analysis complete!"}, progress[len(progress)-1])
	for i := 1; i < len(progress); i++ {
		assert.GreaterOrEqual(t, progress[i].Percent, progress[i-1].Percent, "step %d: %+v", i, progress[i])
	}

	want := map[string]int{
		"Creating analysis folder...": 2,
		"Creating working copy...":    5,
		"Preparing working copy...":   8,
	}
	for _, p := range progress {
		if pct, ok := want[p.Message]; ok {
			assert.Equal(t, pct, p.Percent, p.Message)
		}
		if p.Message == "Running Scenario 1: Baseline..." {
			assert.Equal(t, 10, p.Percent)
		}
	}
}

func TestPlanWeights(t *testing.T) {
	units, err := plan(scenario.Selection{1, 2, 3, 4, 5})
	require.NoError(t, err)
	require.Len(t, units, 8)

	assert.Equal(t, 10, units[0].start)
	assert.Equal(t, 95, units[len(units)-1].end)
	for i := 1; i < len(units); i++ {
		assert.Equal(t, units[i-1].end, units[i].start)
	}
	solarDonation := units[6].end - units[6].start
	baseline := units[0].end - units[0].start
	assert.Greater(t, solarDonation, baseline)
}

func TestInvalidInputsMakeNoCalls(t *testing.T) {
	fake := sheetstest.New()
	in := testInputs
	in.Income = 0

	_, err := newOrchestrator(fake, Options{}).Run(context.Background(), in, nil, nil)
	assert.ErrorIs(t, err, model.ErrInvalidInputs)
	assert.Empty(t, fake.Calls())
}

func TestCancelledRunKeepsCache(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cache := newRecordingCache()
	fake := sheetstest.New()
	rep, err := newOrchestrator(fake, Options{Cache: cache}).Analyze(ctx, testInputs, nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFailed, rep.State)
	assert.Zero(t, fake.Count(sheets.ActionDeleteWorkingCopy))
}

func TestCollaborators(t *testing.T) {
	ctx := context.Background()
	auditDir := t.TempDir()
	store := storage.OpenMemory("reports/")
	defer store.Close()

	catalog := &stubCatalog{}
	reg := prometheus.NewRegistry()
	m := metrics.New("test", reg)

	orch := newOrchestrator(sheetstest.New(), Options{
		Cache:   newRecordingCache(),
		Catalog: catalog,
		Audit:   audit.NewEmitter(audit.Config{Enabled: true, Dir: auditDir}, logging.Nop()),
		Reports: report.NewExporter(store, logging.Nop()),
		Metrics: m,
	})

	rep, err := orch.Analyze(ctx, testInputs, mustSelection(t, "1,3"), nil)
	require.NoError(t, err)

	require.Len(t, catalog.records, 1)
	rec := catalog.records[0]
	assert.Equal(t, rep.RunID, rec.RunID)
	assert.Equal(t, rep.CorrelationID, rec.CorrelationID)
	assert.Len(t, rec.Units, 3)
	assert.Equal(t, Version, rec.ProducerVersion)

	parquetKey, jsonKey := report.Keys(rep.RunID)
	for _, key := range []string{parquetKey, jsonKey} {
		info, err := store.Head(ctx, key)
		require.NoError(t, err, key)
		assert.Positive(t, info.Size, key)
	}

	events, err := filepath.Glob(filepath.Join(auditDir, testInputs.AnalysisID(), "*.json"))
	require.NoError(t, err)
	assert.Len(t, events, 4, "three units and the completion event")
	_, err = os.Stat(filepath.Join(auditDir, "chain-heads.json"))
	assert.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("success")))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.RunProgress))
}

func TestCatalogFailureDoesNotFailRun(t *testing.T) {
	m := metrics.New("test", prometheus.NewRegistry())
	catalog := &stubCatalog{err: errors.New("connection refused")}

	_, err := newOrchestrator(sheetstest.New(), Options{Catalog: catalog, Metrics: m}).
		Run(context.Background(), testInputs, mustSelection(t, "1"), nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CatalogErrors))
}

func TestCorrelationIDFromContext(t *testing.T) {
	ctx := logging.WithCorrelationID(context.Background(), "corr-123")
	rep, err := newOrchestrator(sheetstest.New(), Options{}).Analyze(ctx, testInputs, mustSelection(t, "1"), nil)
	require.NoError(t, err)
	assert.Equal(t, "corr-123", rep.CorrelationID)
	assert.NotEmpty(t, rep.RunID)
}
