package report

import "time"

// ScenarioRow is one scenario part in the columnar export.
type ScenarioRow struct {
	RunID        string `parquet:"run_id"`
	AnalysisID   string `parquet:"analysis_id"`
	Scenario     int32  `parquet:"scenario"`
	ScenarioName string `parquet:"scenario_name"`
	Part         string `parquet:"part"`

	AGI          float64 `parquet:"agi"`
	TotalTaxDue  float64 `parquet:"total_tax_due"`
	TotalNetGain float64 `parquet:"total_net_gain"`

	State        string `parquet:"state"`
	FilingStatus string `parquet:"filing_status"`

	GeneratedAt time.Time `parquet:"generated_at,timestamp(millisecond)"`
}

// SchemaVersion is bumped on breaking changes to ScenarioRow or Document.
const SchemaVersion = "1.0.0"
