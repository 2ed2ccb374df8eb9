// Package audit records a tamper-evident trail of computed scenario results.
// Events for the same analysis are hash-chained.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/taxwise-partners/sp-estimator/internal/model"
)

const eventVersion = "1.0"

// Event types.
const (
	TypeScenarioUnit = "scenario_unit"
	TypeRunComplete  = "run_complete"
)

// Event is one audit record.
type Event struct {
	Version   string    `json:"version"`
	EventType string    `json:"event_type"`
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`

	Run      RunInfo               `json:"run"`
	Unit     *UnitInfo             `json:"unit,omitempty"`
	Outputs  *model.ScenarioOutput `json:"outputs,omitempty"`
	Producer ProducerInfo          `json:"producer"`
	Chain    ChainInfo             `json:"chain"`
}

// RunInfo identifies the run that produced the event.
type RunInfo struct {
	RunID         string `json:"run_id"`
	AnalysisID    string `json:"analysis_id"`
	CorrelationID string `json:"correlation_id,omitempty"`
	WorkingCopyID string `json:"working_copy_id,omitempty"`
}

// UnitInfo describes one scenario part.
type UnitInfo struct {
	Scenario int        `json:"scenario"`
	Part     model.Part `json:"part"`
	Cached   bool       `json:"cached"`
}

// ProducerInfo identifies the software that produced the data.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	GitSHA  string `json:"git_sha,omitempty"`
}

// ChainInfo links the event to its predecessor.
type ChainInfo struct {
	PrevEventHash string `json:"prev_event_hash"`
	EventHash     string `json:"event_hash"`
}

// ChainKey groups events into one chain per analysis.
func (e *Event) ChainKey() string {
	return e.Run.AnalysisID
}

// SetChainHashes links e to prevHash and computes its own hash.
func (e *Event) SetChainHashes(prevHash string) {
	e.Chain.PrevEventHash = prevHash
	e.Chain.EventHash = ComputeEventHash(e)
}

// ComputeEventHash computes the SHA256 hash of an event over its JSON
// form with event_hash cleared.
func ComputeEventHash(evt *Event) string {
	c := *evt
	c.Chain.EventHash = ""

	canonical, err := json.Marshal(c)
	if err != nil {
		return ""
	}

	hash := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(hash[:])
}

// NewUnitEvent builds an event for a computed or cached scenario part.
func NewUnitEvent(run RunInfo, unit model.Unit, cached bool) *Event {
	out := unit.Output
	return &Event{
		EventType: TypeScenarioUnit,
		Run:       run,
		Unit:      &UnitInfo{Scenario: unit.Scenario, Part: unit.Part, Cached: cached},
		Outputs:   &out,
	}
}

// NewRunCompleteEvent builds the terminal event of a successful run.
func NewRunCompleteEvent(run RunInfo) *Event {
	return &Event{EventType: TypeRunComplete, Run: run}
}

func (e *Event) stamp(now time.Time, producer ProducerInfo) {
	e.Version = eventVersion
	e.EventID = "evt_" + uuid.NewString()
	e.Timestamp = now.UTC()
	e.Producer = producer
}
