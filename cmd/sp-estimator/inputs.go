package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taxwise-partners/sp-estimator/internal/model"
)

// inputFlags are the taxpayer flags shared by run and cache.
type inputFlags struct {
	name         string
	income       string
	avgIncome    string
	state        string
	filingStatus string
	skipRangeMin bool
}

func (f *inputFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "Client name")
	cmd.Flags().StringVar(&f.income, "income", "", "Annual income, e.g. $1,000,000 (required)")
	cmd.Flags().StringVar(&f.avgIncome, "avg-income", "0", "Average income of the prior three years")
	cmd.Flags().StringVar(&f.state, "state", "", "State of residence (required)")
	cmd.Flags().StringVar(&f.filingStatus, "filing-status", string(model.FilingSingle), "Single or MarriedJointly")
	cmd.Flags().BoolVar(&f.skipRangeMin, "skip-range-min", false, "Reuse the maximum as the minimum for range scenarios")
	cmd.MarkFlagRequired("income")
	cmd.MarkFlagRequired("state")
}

func (f *inputFlags) inputs() (model.UserInputs, error) {
	income, err := model.ParseCurrency(f.income)
	if err != nil {
		return model.UserInputs{}, fmt.Errorf("income: %w", err)
	}
	avg, err := model.ParseCurrency(f.avgIncome)
	if err != nil {
		return model.UserInputs{}, fmt.Errorf("avg-income: %w", err)
	}
	state, err := model.ParseState(f.state)
	if err != nil {
		return model.UserInputs{}, err
	}
	status, err := model.ParseFilingStatus(f.filingStatus)
	if err != nil {
		return model.UserInputs{}, err
	}

	in := model.UserInputs{
		Name:             f.name,
		Income:           income,
		SecondaryIncome:  avg,
		State:            state,
		FilingStatus:     status,
		SkipRangeMinimum: f.skipRangeMin,
	}
	return in, in.Validate()
}
