package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/taxwise-partners/sp-estimator/internal/model"
	"github.com/taxwise-partners/sp-estimator/internal/scenario"
)

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

// renderResults formats the results table. Range values are shown low to
// high.
func renderResults(in model.UserInputs, res *model.Results) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers("Scenario", "AGI", "Total Tax Due", "What You Keep", "Net Gain")

	for _, r := range res.Rows() {
		keepLo, keepHi := r.Keep()
		t.Row(
			fmt.Sprintf("%d. %s", r.Scenario, scenario.Name(r.Scenario)),
			span(r, func(o model.ScenarioOutput) float64 { return o.AGI }),
			span(r, func(o model.ScenarioOutput) float64 { return o.TotalTaxDue }),
			amounts(r.Range, keepLo, keepHi),
			span(r, func(o model.ScenarioOutput) float64 { return o.TotalNetGain }),
		)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s | %s | %s | income %s\n",
		displayName(in), in.State, in.FilingStatus.Label(), model.FormatCurrency(in.Income))
	b.WriteString(t.String())
	return b.String()
}

func span(r model.Row, field func(model.ScenarioOutput) float64) string {
	return amounts(r.Range, field(r.Low), field(r.High))
}

func amounts(isRange bool, lo, hi float64) string {
	if !isRange || lo == hi {
		return model.FormatCurrency(hi)
	}
	return model.FormatCurrency(lo) + " - " + model.FormatCurrency(hi)
}

func displayName(in model.UserInputs) string {
	if in.Name == "" {
		return "Client"
	}
	return in.Name
}
