package analysis

import (
	"math"

	"github.com/taxwise-partners/sp-estimator/internal/metrics"
	"github.com/taxwise-partners/sp-estimator/internal/model"
	"github.com/taxwise-partners/sp-estimator/internal/scenario"
)

// ProgressFunc receives progress notifications. It is called synchronously
// from the run.
type ProgressFunc func(model.Progress)

// Fixed progress points.
const (
	progressSetup       = 0
	progressFolder      = 2
	progressWorkingCopy = 5
	progressPrepare     = 8
	progressUnitsStart  = 10
	progressUnitsEnd    = 95
	progressComplete    = 100
)

const (
	msgSetup       = "Setting up your analysis..."
	msgResuming    = "Resuming from previous run..."
	msgFolder      = "Creating analysis folder..."
	msgWorkingCopy = "Creating working copy..."
	msgPrepare     = "Preparing working copy..."
	msgComplete    = "Analysis complete!"
)

// progressTracker never lets the reported percentage go backwards.
type progressTracker struct {
	fn      ProgressFunc
	metrics *metrics.Metrics
	last    int
	message string
}

func newProgressTracker(fn ProgressFunc, m *metrics.Metrics) *progressTracker {
	return &progressTracker{fn: fn, metrics: m, last: -1}
}

// report publishes percent and message. An empty message repeats the
// previous one.
func (t *progressTracker) report(percent int, message string) {
	if percent < t.last {
		percent = t.last
	}
	if percent > progressComplete {
		percent = progressComplete
	}
	if message == "" {
		message = t.message
	}
	t.last, t.message = percent, message
	t.metrics.SetRunProgress(percent)
	if t.fn != nil {
		t.fn(model.Progress{Percent: percent, Message: message})
	}
}

// plannedUnit is one scenario part with its slice of the progress bar.
type plannedUnit struct {
	cfg        scenario.Config
	start, end int
}

func (u plannedUnit) mid() int { return u.start + (u.end-u.start)/2 }

// plan expands a selection into parts in execution order and spreads them
// over the unit progress window by weight.
func plan(sel scenario.Selection) ([]plannedUnit, error) {
	var (
		units []plannedUnit
		total float64
	)
	for _, n := range sel {
		c, ok := scenario.Lookup(n)
		if !ok {
			return nil, scenario.ErrInvalidSelection
		}
		for _, part := range c.Parts() {
			cfg, err := c.ForPart(part)
			if err != nil {
				return nil, err
			}
			units = append(units, plannedUnit{cfg: cfg})
			total += cfg.Weight
		}
	}

	span := float64(progressUnitsEnd - progressUnitsStart)
	var acc float64
	for i := range units {
		units[i].start = progressUnitsStart + int(math.Round(span*acc/total))
		acc += units[i].cfg.Weight
		units[i].end = progressUnitsStart + int(math.Round(span*acc/total))
	}
	return units, nil
}
