package model

import (
	"fmt"
	"math"
)

// DonationType selects the donation sub-model written to the working copy.
type DonationType string

const (
	DonationNone    DonationType = "none"
	DonationLand    DonationType = "land"    // 30% AGI limitation
	DonationMedtech DonationType = "medtech" // 60% AGI limitation
)

// Part identifies which half of a scenario a unit of work computes.
type Part string

const (
	PartFull Part = "full"
	PartMax  Part = "max"
	PartMin  Part = "min"
)

// ScenarioOutput is the triple read back from the calculation engine.
type ScenarioOutput struct {
	AGI          float64 `json:"agi"`
	TotalTaxDue  float64 `json:"totalTaxDue"`
	TotalNetGain float64 `json:"totalNetGain"`
}

// RangeOutput pairs the medtech (max) and land (min) evaluations.
type RangeOutput struct {
	Min ScenarioOutput `json:"min"`
	Max ScenarioOutput `json:"max"`
}

// Folder is the per-analysis container created on the backend.
type Folder struct {
	ID   string `json:"folderId"`
	URL  string `json:"folderUrl"`
	Name string `json:"folderName"`
}

// WorkingCopyHandle identifies the isolated copy of the calculation workbook
// owned by a single run.
type WorkingCopyHandle struct {
	ID  string `json:"workingCopyId"`
	URL string `json:"workingCopyUrl"`
}

func (h WorkingCopyHandle) String() string { return h.ID }

// Snapshot locates a saved copy of the workbook for one scenario.
type Snapshot struct {
	FolderURL string `json:"folderUrl"`
	FileURL   string `json:"fileUrl"`
}

// Progress is one progress notification.
type Progress struct {
	Percent int
	Message string
}

// Unit is one computed (scenario, part) pair.
type Unit struct {
	Scenario int
	Part     Part
	Output   ScenarioOutput
}

// Row is a presentation row. For range outcomes each field is ordered so
// Low holds the smaller and High the larger value.
type Row struct {
	Scenario int
	Range    bool
	Low      ScenarioOutput
	High     ScenarioOutput
}

// Keep returns what the taxpayer keeps (AGI less tax due). For ranges the
// low end pairs the lowest AGI with the highest tax.
func (r Row) Keep() (low, high float64) {
	return r.Low.AGI - r.High.TotalTaxDue, r.High.AGI - r.Low.TotalTaxDue
}

func (r Row) String() string {
	if !r.Range {
		return fmt.Sprintf("scenario %d: agi=%s tax=%s net=%s", r.Scenario,
			FormatCurrency(r.High.AGI), FormatCurrency(r.High.TotalTaxDue), FormatCurrency(r.High.TotalNetGain))
	}
	return fmt.Sprintf("scenario %d: agi=%s..%s tax=%s..%s net=%s..%s", r.Scenario,
		FormatCurrency(r.Low.AGI), FormatCurrency(r.High.AGI),
		FormatCurrency(r.Low.TotalTaxDue), FormatCurrency(r.High.TotalTaxDue),
		FormatCurrency(r.Low.TotalNetGain), FormatCurrency(r.High.TotalNetGain))
}

func normalizeRange(r RangeOutput) (low, high ScenarioOutput) {
	low.AGI, high.AGI = math.Min(r.Min.AGI, r.Max.AGI), math.Max(r.Min.AGI, r.Max.AGI)
	low.TotalTaxDue, high.TotalTaxDue = math.Min(r.Min.TotalTaxDue, r.Max.TotalTaxDue), math.Max(r.Min.TotalTaxDue, r.Max.TotalTaxDue)
	low.TotalNetGain, high.TotalNetGain = math.Min(r.Min.TotalNetGain, r.Max.TotalNetGain), math.Max(r.Min.TotalNetGain, r.Max.TotalNetGain)
	return low, high
}
