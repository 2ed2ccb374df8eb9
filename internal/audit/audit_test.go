package audit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taxwise-partners/sp-estimator/internal/logging"
	"github.com/taxwise-partners/sp-estimator/internal/model"
)

func testRun() RunInfo {
	return RunInfo{RunID: "run-1", AnalysisID: "Jane_1000000_Texas_Single"}
}

func TestComputeEventHash(t *testing.T) {
	evt := NewUnitEvent(testRun(), model.Unit{
		Scenario: 2,
		Part:     model.PartFull,
		Output:   model.ScenarioOutput{AGI: 1000000, TotalTaxDue: 300000},
	}, false)
	evt.stamp(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC), ProducerInfo{Name: "sp-estimator", Version: "test"})

	hash1 := ComputeEventHash(evt)
	hash2 := ComputeEventHash(evt)
	if hash1 != hash2 {
		t.Errorf("hash not deterministic: %s != %s", hash1, hash2)
	}
	if !strings.HasPrefix(hash1, "sha256:") {
		t.Errorf("hash should start with 'sha256:', got %s", hash1)
	}

	evt.Chain.EventHash = "sha256:whatever"
	if got := ComputeEventHash(evt); got != hash1 {
		t.Errorf("hash should ignore event_hash field")
	}

	evt.Outputs.AGI++
	if got := ComputeEventHash(evt); got == hash1 {
		t.Errorf("hash should change with outputs")
	}
}

func TestSetChainHashes(t *testing.T) {
	evt := NewRunCompleteEvent(testRun())
	evt.SetChainHashes("sha256:prev")

	assert.Equal(t, "sha256:prev", evt.Chain.PrevEventHash)
	assert.Equal(t, ComputeEventHash(evt), evt.Chain.EventHash)
}

func TestChainTrackerPersists(t *testing.T) {
	dir := t.TempDir()

	ct, err := NewChainTracker(dir)
	require.NoError(t, err)
	_, err = ct.GetHead("a")
	assert.ErrorIs(t, err, ErrNoChainHead)

	require.NoError(t, ct.SetHead("a", "sha256:1"))

	reopened, err := NewChainTracker(dir)
	require.NoError(t, err)
	head, err := reopened.GetHead("a")
	require.NoError(t, err)
	assert.Equal(t, "sha256:1", head)
}

func TestTrailChainsEventsPerAnalysis(t *testing.T) {
	dir := t.TempDir()
	trail, err := NewTrail(Config{Dir: dir, Producer: ProducerInfo{Name: "sp-estimator"}}, logging.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	first := NewUnitEvent(testRun(), model.Unit{Scenario: 1, Part: model.PartFull}, false)
	second := NewUnitEvent(testRun(), model.Unit{Scenario: 3, Part: model.PartMax}, true)
	require.NoError(t, trail.Emit(ctx, first))
	require.NoError(t, trail.Emit(ctx, second))

	assert.Empty(t, first.Chain.PrevEventHash)
	assert.Equal(t, first.Chain.EventHash, second.Chain.PrevEventHash)
	assert.True(t, strings.HasPrefix(first.EventID, "evt_"))
	assert.Equal(t, eventVersion, second.Version)

	other := NewRunCompleteEvent(RunInfo{RunID: "run-2", AnalysisID: "Other_1_Ohio_Single"})
	require.NoError(t, trail.Emit(ctx, other))
	assert.Empty(t, other.Chain.PrevEventHash, "separate analyses have separate chains")

	files, err := filepath.Glob(filepath.Join(dir, testRun().AnalysisID, "*.json"))
	require.NoError(t, err)
	assert.Len(t, files, 2)

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	var decoded Event
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, TypeScenarioUnit, decoded.EventType)
}

func TestTrailPostsToEndpoint(t *testing.T) {
	var posted atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt Event
		if err := json.NewDecoder(r.Body).Decode(&evt); err != nil || evt.Chain.EventHash == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		posted.Add(1)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	trail, err := NewTrail(Config{Dir: t.TempDir(), Endpoint: srv.URL}, logging.Nop())
	require.NoError(t, err)
	require.NoError(t, trail.Emit(context.Background(), NewRunCompleteEvent(testRun())))
	assert.Equal(t, int32(1), posted.Load())
}

func TestTrailKeepsHeadOnPostFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	trail, err := NewTrail(Config{Dir: t.TempDir(), Endpoint: srv.URL}, logging.Nop())
	require.NoError(t, err)
	trail.sink.retries = 2
	trail.sink.delay = time.Millisecond

	err = trail.Emit(context.Background(), NewRunCompleteEvent(testRun()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http 503")

	_, err = trail.chain.GetHead(testRun().AnalysisID)
	assert.ErrorIs(t, err, ErrNoChainHead)
}

func TestNewEmitterDisabled(t *testing.T) {
	e := NewEmitter(Config{}, logging.Nop())
	assert.IsType(t, noopEmitter{}, e)
	assert.NoError(t, e.Emit(context.Background(), NewRunCompleteEvent(testRun())))
	assert.NoError(t, e.Close())

	e = NewEmitter(Config{Enabled: true, Dir: t.TempDir()}, logging.Nop())
	assert.IsType(t, &Trail{}, e)
}
