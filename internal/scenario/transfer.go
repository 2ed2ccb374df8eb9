package scenario

import (
	"context"

	"github.com/taxwise-partners/sp-estimator/internal/model"
)

// TransferBaseRule corrects a negative transfer base after a solver run.
//
// When F51 reads negative, F47 is pinned to zero and the solver runs again.
// Otherwise F47 is reset to =F51, and the solver runs again only when
// ReinvokeWhenNonNegative is set. The solver is re-invoked at most once.
type TransferBaseRule struct {
	Solver                  string
	ReinvokeWhenNonNegative bool
}

// Apply evaluates the rule and reports whether the negative correction was
// taken.
func (r TransferBaseRule) Apply(ctx context.Context, calc Calculator, h model.WorkingCopyHandle) (bool, error) {
	base, err := calc.ReadCellValue(ctx, h, cellTransferCalc)
	if err != nil {
		return false, err
	}

	if base < 0 {
		if err := calc.SetCellValue(ctx, h, cellTransferBase, 0); err != nil {
			return false, err
		}
		return true, calc.InvokeNamedFunction(ctx, h, r.Solver)
	}

	if err := calc.SetCellFormula(ctx, h, cellTransferBase, formulaTransferBase); err != nil {
		return false, err
	}
	if r.ReinvokeWhenNonNegative {
		return false, calc.InvokeNamedFunction(ctx, h, r.Solver)
	}
	return false, nil
}
