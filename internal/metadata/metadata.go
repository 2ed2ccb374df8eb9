// Package metadata records completed analysis runs in a catalog.
package metadata

import (
	"time"

	"github.com/taxwise-partners/sp-estimator/internal/model"
)

// Run statuses.
const (
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// RunRecord describes one analysis run and the outputs it produced.
type RunRecord struct {
	RunID           string
	AnalysisID      string
	CorrelationID   string
	Inputs          model.UserInputs
	Selection       []int
	Units           []UnitRecord
	Status          string
	StartedAt       time.Time
	FinishedAt      time.Time
	ProducerVersion string
	ProducerGitSHA  string
}

// UnitRecord is one scenario part of a run.
type UnitRecord struct {
	Scenario int
	Part     model.Part
	Cached   bool
	Output   model.ScenarioOutput
}

// NewRunRecord builds a completed record from the run's results.
func NewRunRecord(runID string, in model.UserInputs, selection []int, res *model.Results, cached map[UnitKey]bool, started time.Time) RunRecord {
	rec := RunRecord{
		RunID:      runID,
		AnalysisID: in.AnalysisID(),
		Inputs:     in,
		Selection:  append([]int(nil), selection...),
		Status:     StatusComplete,
		StartedAt:  started.UTC(),
		FinishedAt: time.Now().UTC(),
	}
	for _, u := range res.Units() {
		rec.Units = append(rec.Units, UnitRecord{
			Scenario: u.Scenario,
			Part:     u.Part,
			Cached:   cached[UnitKey{u.Scenario, u.Part}],
			Output:   u.Output,
		})
	}
	return rec
}

// Duration is the wall time of the run.
func (r RunRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// UnitKey identifies a scenario part.
type UnitKey struct {
	Scenario int
	Part     model.Part
}
