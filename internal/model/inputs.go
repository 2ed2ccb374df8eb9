// Package model holds the data types shared by the estimator packages.
package model

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// ErrInvalidInputs is returned by UserInputs.Validate.
var ErrInvalidInputs = errors.New("invalid user inputs")

// FilingStatus is the taxpayer's federal filing status.
type FilingStatus string

const (
	FilingSingle         FilingStatus = "Single"
	FilingMarriedJointly FilingStatus = "MarriedJointly"
)

// Label returns the display label for the filing status.
func (f FilingStatus) Label() string {
	switch f {
	case FilingSingle:
		return "Single"
	case FilingMarriedJointly:
		return "Married Filing Jointly"
	default:
		return string(f)
	}
}

// ParseFilingStatus accepts the wire value or the display label.
func ParseFilingStatus(s string) (FilingStatus, error) {
	switch s {
	case "Single", "single":
		return FilingSingle, nil
	case "MarriedJointly", "married-jointly", "Married Filing Jointly", "mfj":
		return FilingMarriedJointly, nil
	}
	return "", fmt.Errorf("%w: unknown filing status %q", ErrInvalidInputs, s)
}

// UserInputs are the taxpayer parameters for one analysis run.
// The JSON names match the input cells the calculation backend expects.
type UserInputs struct {
	Name             string       `json:"name,omitempty"`
	Income           float64      `json:"income"`
	SecondaryIncome  float64      `json:"avgIncome"`
	State            State        `json:"state"`
	FilingStatus     FilingStatus `json:"filingStatus"`
	SkipRangeMinimum bool         `json:"skipScenario5Min"`
}

// Validate rejects inputs the calculation backend cannot use. A zero
// secondary income is allowed.
func (u UserInputs) Validate() error {
	if u.Income <= 0 {
		return fmt.Errorf("%w: income must be greater than zero", ErrInvalidInputs)
	}
	if u.SecondaryIncome < 0 {
		return fmt.Errorf("%w: average income must not be negative", ErrInvalidInputs)
	}
	if !u.State.Valid() {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidInputs, u.State)
	}
	if u.FilingStatus != FilingSingle && u.FilingStatus != FilingMarriedJointly {
		return fmt.Errorf("%w: unknown filing status %q", ErrInvalidInputs, u.FilingStatus)
	}
	return nil
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// AnalysisID derives the resume cache key from the inputs.
// Identical name, income, state and filing status always give the same id.
func (u UserInputs) AnalysisID() string {
	raw := fmt.Sprintf("%s_%s_%s_%s",
		u.Name,
		strconv.FormatFloat(u.Income, 'f', -1, 64),
		u.State,
		u.FilingStatus,
	)
	return whitespaceRun.ReplaceAllString(raw, "_")
}
