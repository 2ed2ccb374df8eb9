// Package scenario defines the static scenario catalog and the executor
// that applies one scenario to a working copy.
package scenario

import (
	"fmt"

	"github.com/taxwise-partners/sp-estimator/internal/model"
)

// Baseline is the scenario every run starts with. It is the only scenario
// that writes the user inputs.
const Baseline = 1

// Config is the static definition of one scenario, optionally narrowed to a
// single part by ForPart.
type Config struct {
	Number          int
	Name            string
	Solar           bool
	CoordinationFee float64
	Donation        model.DonationType
	SeekRefund      bool
	CarryBack       bool
	Range           bool

	// Weight is the relative cost of one part, used for progress.
	Weight float64

	// Set by ForPart.
	Part            model.Part
	StartMessage    string
	ProgressMessage string
	CachedMessage   string

	messages map[model.Part]partMessages
}

type partMessages struct {
	start, capture, cached string
}

// Parts lists the parts a scenario is computed in: max then min for
// range scenarios, otherwise a single full part.
func (c Config) Parts() []model.Part {
	if c.Range {
		return []model.Part{model.PartMax, model.PartMin}
	}
	return []model.Part{model.PartFull}
}

// ForPart derives the configuration for one part. Range scenarios use the
// medtech donation model for max and land for min.
func (c Config) ForPart(part model.Part) (Config, error) {
	switch {
	case c.Range && part == model.PartMax:
		c.Donation = model.DonationMedtech
	case c.Range && part == model.PartMin:
		c.Donation = model.DonationLand
	case !c.Range && part == model.PartFull:
	default:
		return Config{}, fmt.Errorf("scenario %d has no %s part", c.Number, part)
	}

	c.Part = part
	m := c.messages[part]
	c.StartMessage, c.ProgressMessage, c.CachedMessage = m.start, m.capture, m.cached
	return c, nil
}

func (c Config) String() string {
	if c.Part == "" || c.Part == model.PartFull {
		return fmt.Sprintf("scenario %d (%s)", c.Number, c.Name)
	}
	return fmt.Sprintf("scenario %d %s (%s)", c.Number, c.Part, c.Name)
}

const solarCoordinationFee = 1950

func rangeMessages(n int, running, capture string) map[model.Part]partMessages {
	return map[model.Part]partMessages{
		model.PartMax: {
			start:   fmt.Sprintf("Running %s - Maximum (Medtech)...", running),
			capture: fmt.Sprintf("Capturing %s maximum (Medtech)...", capture),
			cached:  fmt.Sprintf("Using cached Scenario %d Max...", n),
		},
		model.PartMin: {
			start:   fmt.Sprintf("Running %s - Minimum (Land)...", running),
			capture: fmt.Sprintf("Capturing %s minimum (Land)...", capture),
			cached:  fmt.Sprintf("Using cached Scenario %d Min...", n),
		},
	}
}

var catalog = map[int]Config{
	1: {
		Number:   1,
		Name:     "Do Nothing",
		Donation: model.DonationNone,
		Weight:   1,
		messages: map[model.Part]partMessages{
			model.PartFull: {
				start:   "Running Scenario 1: Baseline...",
				capture: "Capturing baseline results...",
				cached:  "Using cached Scenario 1: Baseline...",
			},
		},
	},
	2: {
		Number:          2,
		Name:            "Solar Only",
		Solar:           true,
		CoordinationFee: solarCoordinationFee,
		Donation:        model.DonationNone,
		Weight:          1.5,
		messages: map[model.Part]partMessages{
			model.PartFull: {
				start:   "Running Scenario 2: Solar Only...",
				capture: "Capturing Solar Only results...",
				cached:  "Using cached Scenario 2: Solar Only...",
			},
		},
	},
	3: {
		Number:   3,
		Name:     "Donation Only",
		Donation: model.DonationMedtech,
		Range:    true,
		Weight:   1.5,
		messages: rangeMessages(3, "Donation Only scenario", "Donation Only"),
	},
	4: {
		Number:          4,
		Name:            "Solar + Donation (No Refund)",
		Solar:           true,
		CoordinationFee: solarCoordinationFee,
		Donation:        model.DonationMedtech,
		Range:           true,
		Weight:          2,
		messages:        rangeMessages(4, "Solar + Donation (No Refund)", "Solar + Donation (No Refund)"),
	},
	5: {
		Number:          5,
		Name:            "Solar + Donation (With Refund)",
		Solar:           true,
		CoordinationFee: solarCoordinationFee,
		Donation:        model.DonationMedtech,
		SeekRefund:      true,
		Range:           true,
		Weight:          2.5,
		messages:        rangeMessages(5, "Solar + Donation (With Refund)", "Solar + Donation (With Refund)"),
	},
	6: {
		Number:    6,
		Name:      "Donation + CTB",
		Donation:  model.DonationMedtech,
		CarryBack: true,
		Range:     true,
		Weight:    1.5,
		messages:  rangeMessages(6, "Donation + CTB", "Donation + CTB"),
	},
}

// Lookup returns the catalog entry for scenario n.
func Lookup(n int) (Config, bool) {
	c, ok := catalog[n]
	return c, ok
}

// Name returns the display name of scenario n, or "" if unknown.
func Name(n int) string {
	return catalog[n].Name
}
