package scenario

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/taxwise-partners/sp-estimator/internal/metrics"
	"github.com/taxwise-partners/sp-estimator/internal/model"
)

// Calculator is the subset of the remote calculation client the executor
// drives. *sheets.Client satisfies it.
type Calculator interface {
	SetCellValue(ctx context.Context, h model.WorkingCopyHandle, cell string, value any) error
	SetCellFormula(ctx context.Context, h model.WorkingCopyHandle, cell, formula string) error
	InvokeNamedFunction(ctx context.Context, h model.WorkingCopyHandle, name string) error
	ReadCellValue(ctx context.Context, h model.WorkingCopyHandle, cell string) (float64, error)
	ReadOutputs(ctx context.Context, h model.WorkingCopyHandle) (model.ScenarioOutput, error)
	SetUserInputs(ctx context.Context, h model.WorkingCopyHandle, in model.UserInputs) error
	CleanupLimited(ctx context.Context, h model.WorkingCopyHandle) error
	SaveSnapshot(ctx context.Context, scenario int, in model.UserInputs) (model.Snapshot, error)
	Settle(ctx context.Context) error
}

// Workbook cells and solver functions.
const (
	cellCoordinationFee = "E17"
	cellDonationBase    = "C92"
	cellDonationLimit   = "C90"
	cellDonationFactor  = "C88"
	cellDonationCap     = "G88"
	cellSolarBasis      = "B43"
	cellTransferBase    = "F47"
	cellTransferCalc    = "F51"
	cellRefundSource    = "G49"
	cellRefundTarget    = "G47"
	cellCarryBackTarget = "J124"

	formulaDonationBase = "=MAX(0, B92)"
	formulaDonationCap  = "=MIN(L100, F88)"
	formulaTransferBase = "=F51"
	formulaCarryBack    = "=I124"

	SolverITC       = "solveForITC"
	SolverITCRefund = "solveForITCRefund"
)

// Option configures an Executor.
type Option func(*Executor)

// WithNotify sets the callback that receives in-scenario progress messages.
func WithNotify(fn func(message string)) Option {
	return func(e *Executor) { e.notify = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// Executor applies scenario configurations to a working copy. Calls are
// strictly sequential; one executor must not be shared by concurrent runs.
type Executor struct {
	calc    Calculator
	notify  func(string)
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewExecutor(calc Calculator, opts ...Option) *Executor {
	e := &Executor{
		calc:   calc,
		notify: func(string) {},
		logger: slog.With("component", "scenario"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one scenario part against h and returns the outputs read
// back. Remote errors are returned unchanged.
func (e *Executor) Execute(ctx context.Context, cfg Config, in model.UserInputs, h model.WorkingCopyHandle) (model.ScenarioOutput, error) {
	start := time.Now()
	log := e.logger.With("scenario", cfg.Number, "part", cfg.Part)

	if err := e.calc.CleanupLimited(ctx, h); err != nil {
		return model.ScenarioOutput{}, err
	}
	for i := 0; i < 2; i++ {
		if err := e.calc.Settle(ctx); err != nil {
			return model.ScenarioOutput{}, err
		}
	}

	if cfg.ProgressMessage != "" {
		e.notify(cfg.ProgressMessage)
	}

	if err := e.calc.SetCellValue(ctx, h, cellCoordinationFee, cfg.CoordinationFee); err != nil {
		return model.ScenarioOutput{}, err
	}

	if err := e.applyDonation(ctx, cfg.Donation, h); err != nil {
		return model.ScenarioOutput{}, err
	}

	if cfg.Number == Baseline {
		if err := e.calc.SetUserInputs(ctx, h, in); err != nil {
			return model.ScenarioOutput{}, err
		}
	}

	if err := e.applyStrategy(ctx, cfg, h, log); err != nil {
		return model.ScenarioOutput{}, err
	}

	if cfg.CarryBack {
		if err := e.calc.SetCellFormula(ctx, h, cellCarryBackTarget, formulaCarryBack); err != nil {
			return model.ScenarioOutput{}, err
		}
	}

	out, err := e.calc.ReadOutputs(ctx, h)
	if err != nil {
		return model.ScenarioOutput{}, err
	}

	if _, err := e.calc.SaveSnapshot(ctx, cfg.Number, in); err != nil {
		e.metrics.IncSnapshotFailures()
		log.Warn("snapshot failed, continuing", "error", err)
	}

	elapsed := time.Since(start)
	e.metrics.ObserveScenario(strconv.Itoa(cfg.Number), string(cfg.Part), elapsed)
	log.Info("scenario complete",
		"agi", out.AGI,
		"total_tax_due", out.TotalTaxDue,
		"total_net_gain", out.TotalNetGain,
		"duration", elapsed,
	)
	return out, nil
}

func (e *Executor) applyDonation(ctx context.Context, d model.DonationType, h model.WorkingCopyHandle) error {
	var limit, factor float64
	switch d {
	case model.DonationNone, "":
		return e.calc.SetCellValue(ctx, h, cellDonationBase, 0)
	case model.DonationMedtech:
		limit, factor = 0.6, 5
	case model.DonationLand:
		limit, factor = 0.3, 4.55
	default:
		return fmt.Errorf("unknown donation type %q", d)
	}

	if err := e.calc.SetCellFormula(ctx, h, cellDonationBase, formulaDonationBase); err != nil {
		return err
	}
	if err := e.calc.SetCellValue(ctx, h, cellDonationLimit, limit); err != nil {
		return err
	}
	if err := e.calc.SetCellValue(ctx, h, cellDonationFactor, factor); err != nil {
		return err
	}
	if d == model.DonationMedtech {
		return e.calc.SetCellFormula(ctx, h, cellDonationCap, formulaDonationCap)
	}
	return e.calc.SetCellValue(ctx, h, cellDonationCap, 0)
}

func (e *Executor) applyStrategy(ctx context.Context, cfg Config, h model.WorkingCopyHandle, log *slog.Logger) error {
	donating := cfg.Donation != model.DonationNone && cfg.Donation != ""

	switch {
	case cfg.Solar && !donating:
		if err := e.calc.SetCellFormula(ctx, h, cellTransferBase, formulaTransferBase); err != nil {
			return err
		}
		return e.calc.InvokeNamedFunction(ctx, h, SolverITC)

	case cfg.Solar && donating:
		solver := SolverITC
		if cfg.SeekRefund {
			solver = SolverITCRefund
		}
		if err := e.calc.SetCellFormula(ctx, h, cellTransferBase, formulaTransferBase); err != nil {
			return err
		}
		if err := e.calc.InvokeNamedFunction(ctx, h, solver); err != nil {
			return err
		}

		rule := TransferBaseRule{Solver: solver, ReinvokeWhenNonNegative: cfg.SeekRefund}
		corrected, err := rule.Apply(ctx, e.calc, h)
		if err != nil {
			return err
		}
		if corrected {
			log.Info("transfer base was negative, re-solved with zero base")
		}

		if cfg.SeekRefund {
			refund, err := e.calc.ReadCellValue(ctx, h, cellRefundSource)
			if err != nil {
				return err
			}
			return e.calc.SetCellValue(ctx, h, cellRefundTarget, refund)
		}
		return nil

	case donating:
		if err := e.calc.SetCellValue(ctx, h, cellSolarBasis, 0); err != nil {
			return err
		}
		return e.calc.SetCellValue(ctx, h, cellTransferBase, 0)
	}
	return nil
}
