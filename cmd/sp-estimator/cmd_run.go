package main

import (
	"context"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/taxwise-partners/sp-estimator/internal/metrics"
	"github.com/taxwise-partners/sp-estimator/internal/model"
	"github.com/taxwise-partners/sp-estimator/internal/scenario"
)

var (
	runInputs    inputFlags
	runScenarios string
	runJSON      bool
)

// runCmd executes an analysis
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scenario analysis for one taxpayer",
	Long: `Run the selected scenarios against a fresh working copy of the
calculation workbook.

Scenario selections:
  all        - scenarios 1-5 (default)
  scenario5  - baseline and Solar + Donation (With Refund)
  scenario6  - baseline, Donation Only and Donation + CTB
  every      - scenarios 1-6
  1,3,6      - an explicit list; the baseline is always included`,
	Example: `  sp-estimator run --name "Jane Doe" --income '$1,000,000' --state Texas
  sp-estimator run --income 750000 --state "New York" --filing-status MarriedJointly --scenarios scenario6 --json`,
	RunE: runAnalysis,
}

func init() {
	runInputs.bind(runCmd)
	runCmd.Flags().StringVar(&runScenarios, "scenarios", "", "Scenario selection (default from config, else all)")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print results as JSON")
}

func runAnalysis(cmd *cobra.Command, args []string) error {
	in, err := runInputs.inputs()
	if err != nil {
		return err
	}
	selection := runScenarios
	if selection == "" {
		selection = cfg.Run.Scenarios
	}
	sel, err := scenario.ParseSelection(selection)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	logger.Info("starting analysis", "analysis_id", in.AnalysisID(), "scenarios", sel.String())

	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stopServer := context.WithCancel(gctx)
	defer stopServer()

	if cfg.Metrics.Enabled {
		g.Go(func() error {
			if err := metrics.StartServer(serveCtx, cfg.Metrics.Address); err != nil {
				logger.Warn("metrics server stopped", "error", err)
			}
			return nil
		})
	}

	var res *model.Results
	progress := progressPrinter(cmd.ErrOrStderr())
	g.Go(func() error {
		defer stopServer()
		return a.retry.Do(gctx, func(ctx context.Context, attempt int) error {
			var err error
			res, err = a.orch.Run(ctx, in, sel, progress)
			return err
		})
	})

	if err := g.Wait(); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "Analysis failed. Re-run the same command to resume from the last completed scenario.")
		return err
	}

	if runJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderResults(in, res))
	return nil
}

// progressPrinter writes one line per progress change.
func progressPrinter(w io.Writer) func(model.Progress) {
	var last model.Progress
	return func(p model.Progress) {
		if p == last {
			return
		}
		last = p
		fmt.Fprintf(w, "[%3d%%] %s\n", p.Percent, p.Message)
	}
}
