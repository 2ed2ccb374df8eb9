// Package report exports a run's results as parquet and zstd-compressed JSON
// artifacts.
package report

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
	"github.com/parquet-go/parquet-go"

	"github.com/taxwise-partners/sp-estimator/internal/model"
	"github.com/taxwise-partners/sp-estimator/internal/scenario"
	"github.com/taxwise-partners/sp-estimator/internal/storage"
)

const (
	ParquetFile = "results.parquet"
	JSONFile    = "results.json.zst"
)

// Document is the JSON export.
type Document struct {
	SchemaVersion string           `json:"schemaVersion"`
	RunID         string           `json:"runId"`
	AnalysisID    string           `json:"analysisId"`
	GeneratedAt   time.Time        `json:"generatedAt"`
	Inputs        model.UserInputs `json:"inputs"`
	Results       *model.Results   `json:"results"`
}

// Artifact is one written object.
type Artifact struct {
	Key      string
	URI      string
	Bytes    int
	Checksum string
}

// Exporter writes run reports to a store.
type Exporter struct {
	store  storage.Store
	now    func() time.Time
	logger *slog.Logger
}

func NewExporter(store storage.Store, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.With("component", "report")
	}
	return &Exporter{store: store, now: time.Now, logger: logger}
}

// Keys returns the object keys for a run.
func Keys(runID string) (parquetKey, jsonKey string) {
	return path.Join(runID, ParquetFile), path.Join(runID, JSONFile)
}

// Export writes both artifacts for the run.
func (e *Exporter) Export(ctx context.Context, runID string, in model.UserInputs, res *model.Results) ([]Artifact, error) {
	now := e.now().UTC()
	parquetKey, jsonKey := Keys(runID)

	pq, err := BuildParquet(runID, in, res, now)
	if err != nil {
		return nil, err
	}
	js, err := BuildJSON(Document{
		SchemaVersion: SchemaVersion,
		RunID:         runID,
		AnalysisID:    in.AnalysisID(),
		GeneratedAt:   now,
		Inputs:        in,
		Results:       res,
	})
	if err != nil {
		return nil, err
	}

	var artifacts []Artifact
	for _, obj := range []struct {
		key  string
		data []byte
	}{{parquetKey, pq}, {jsonKey, js}} {
		if err := e.store.Write(ctx, obj.key, obj.data); err != nil {
			return artifacts, fmt.Errorf("write %s: %w", obj.key, err)
		}
		a := Artifact{
			Key:      obj.key,
			URI:      e.store.URI(obj.key),
			Bytes:    len(obj.data),
			Checksum: ComputeChecksum(obj.data),
		}
		artifacts = append(artifacts, a)
		e.logger.Debug("report artifact written", "uri", a.URI, "bytes", a.Bytes, "checksum", a.Checksum)
	}

	e.logger.Info("report exported", "run_id", runID, "analysis_id", in.AnalysisID(), "artifacts", len(artifacts))
	return artifacts, nil
}

// Rows flattens results into one row per scenario part.
func Rows(runID string, in model.UserInputs, res *model.Results, generated time.Time) []ScenarioRow {
	units := res.Units()
	rows := make([]ScenarioRow, 0, len(units))
	for _, u := range units {
		rows = append(rows, ScenarioRow{
			RunID:        runID,
			AnalysisID:   in.AnalysisID(),
			Scenario:     int32(u.Scenario),
			ScenarioName: scenario.Name(u.Scenario),
			Part:         string(u.Part),
			AGI:          u.Output.AGI,
			TotalTaxDue:  u.Output.TotalTaxDue,
			TotalNetGain: u.Output.TotalNetGain,
			State:        string(in.State),
			FilingStatus: string(in.FilingStatus),
			GeneratedAt:  generated,
		})
	}
	return rows
}

// BuildParquet encodes the rows with zstd page compression.
func BuildParquet(runID string, in model.UserInputs, res *model.Results, generated time.Time) ([]byte, error) {
	var buf bytes.Buffer
	rows := Rows(runID, in, res, generated)
	if err := parquet.Write(&buf, rows, parquet.Compression(&parquet.Zstd)); err != nil {
		return nil, fmt.Errorf("write parquet: %w", err)
	}
	return buf.Bytes(), nil
}

// BuildJSON marshals and zstd-compresses the document.
func BuildJSON(doc Document) ([]byte, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(raw, nil), nil
}

// DecodeJSON reverses BuildJSON into raw JSON bytes.
func DecodeJSON(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer dec.Close()

	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress report: %w", err)
	}
	return raw, nil
}
