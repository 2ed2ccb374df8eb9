package scenario

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taxwise-partners/sp-estimator/internal/logging"
	"github.com/taxwise-partners/sp-estimator/internal/metrics"
	"github.com/taxwise-partners/sp-estimator/internal/model"
	"github.com/taxwise-partners/sp-estimator/internal/sheets"
	"github.com/taxwise-partners/sp-estimator/internal/sheets/sheetstest"
)

var _ Calculator = (*sheets.Client)(nil)

var (
	testHandle = model.WorkingCopyHandle{ID: "wc-1"}
	testInputs = model.UserInputs{
		Name:            "Test Payer",
		Income:          1000000,
		SecondaryIncome: 100000,
		State:           "California",
		FilingStatus:    model.FilingSingle,
	}
)

func mustPart(t *testing.T, n int, part model.Part) Config {
	t.Helper()
	c, ok := Lookup(n)
	require.True(t, ok)
	cfg, err := c.ForPart(part)
	require.NoError(t, err)
	return cfg
}

// writes renders the mutation calls as "CELL=value" strings.
func writes(calls []sheetstest.Call) []string {
	var out []string
	for _, c := range calls {
		switch c.Action {
		case sheets.ActionSetValue:
			out = append(out, c.Cell+"="+formatValue(c.Value))
		case sheets.ActionWriteFormula:
			out = append(out, c.Cell+":"+c.Formula)
		case sheets.ActionRunScenario:
			out = append(out, "invoke:"+c.Function)
		case sheets.ActionGetValue:
			out = append(out, "read:"+c.Cell)
		case sheets.ActionSetInputs:
			out = append(out, "inputs")
		}
	}
	return out
}

func formatValue(v any) string {
	switch x := v.(type) {
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	default:
		return "?"
	}
}

func newExecutor(fake *sheetstest.Fake, opts ...Option) *Executor {
	return NewExecutor(fake, append([]Option{WithLogger(logging.Nop())}, opts...)...)
}

func TestBaselineSequence(t *testing.T) {
	fake := sheetstest.New()
	var messages []string
	exec := newExecutor(fake, WithNotify(func(m string) { messages = append(messages, m) }))

	_, err := exec.Execute(context.Background(), mustPart(t, 1, model.PartFull), testInputs, testHandle)
	require.NoError(t, err)

	assert.Equal(t, []string{"E17=0", "C92=0", "inputs"}, writes(fake.Calls()))
	assert.Equal(t, sheets.ActionCleanupLimited, fake.Actions()[0])
	assert.Equal(t, 2, fake.Settles())
	assert.Equal(t, []string{"Capturing baseline results..."}, messages)

	actions := fake.Actions()
	assert.Equal(t, []string{sheets.ActionGetOutputs, sheets.ActionCreateWorkbookCopy}, actions[len(actions)-2:])
}

func TestSolarOnlySequence(t *testing.T) {
	fake := sheetstest.New()
	_, err := newExecutor(fake).Execute(context.Background(), mustPart(t, 2, model.PartFull), testInputs, testHandle)
	require.NoError(t, err)

	assert.Equal(t, []string{"E17=1950", "C92=0", "F47:=F51", "invoke:solveForITC"}, writes(fake.Calls()))
}

func TestDonationOnlyWritesZeroSolarCells(t *testing.T) {
	fake := sheetstest.New()
	_, err := newExecutor(fake).Execute(context.Background(), mustPart(t, 3, model.PartMin), testInputs, testHandle)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"E17=0", "C92:=MAX(0, B92)", "C90=0.3", "C88=4.55", "G88=0",
		"B43=0", "F47=0",
	}, writes(fake.Calls()))
	assert.Zero(t, fake.Count(sheets.ActionRunScenario))
}

func TestMedtechDonationModel(t *testing.T) {
	fake := sheetstest.New()
	_, err := newExecutor(fake).Execute(context.Background(), mustPart(t, 3, model.PartMax), testInputs, testHandle)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"E17=0", "C92:=MAX(0, B92)", "C90=0.6", "C88=5", "G88:=MIN(L100, F88)",
		"B43=0", "F47=0",
	}, writes(fake.Calls()))
}

func TestSolarDonationNoRefund(t *testing.T) {
	t.Run("non-negative base restores formula without re-solving", func(t *testing.T) {
		fake := sheetstest.New()
		fake.SetReads("F51", 1200)
		_, err := newExecutor(fake).Execute(context.Background(), mustPart(t, 4, model.PartMax), testInputs, testHandle)
		require.NoError(t, err)

		got := writes(fake.Calls())
		assert.Equal(t, []string{"F47:=F51", "invoke:solveForITC", "read:F51", "F47:=F51"}, got[5:])
		assert.Equal(t, 1, fake.Count(sheets.ActionRunScenario))
	})

	t.Run("negative base re-solves exactly once", func(t *testing.T) {
		fake := sheetstest.New()
		fake.SetReads("F51", -5000)
		_, err := newExecutor(fake).Execute(context.Background(), mustPart(t, 4, model.PartMin), testInputs, testHandle)
		require.NoError(t, err)

		got := writes(fake.Calls())
		assert.Equal(t, []string{"F47:=F51", "invoke:solveForITC", "read:F51", "F47=0", "invoke:solveForITC"}, got[5:])
		assert.Equal(t, 2, fake.Count(sheets.ActionRunScenario))
		assert.Equal(t, 1, fake.Count(sheets.ActionGetValue))
	})
}

func TestSolarDonationWithRefund(t *testing.T) {
	t.Run("non-negative base", func(t *testing.T) {
		fake := sheetstest.New()
		fake.SetReads("F51", 10)
		fake.SetReads("G49", 4321)
		_, err := newExecutor(fake).Execute(context.Background(), mustPart(t, 5, model.PartMax), testInputs, testHandle)
		require.NoError(t, err)

		got := writes(fake.Calls())
		assert.Equal(t, []string{
			"F47:=F51", "invoke:solveForITCRefund", "read:F51", "F47:=F51",
			"invoke:solveForITCRefund", "read:G49", "G47=4321",
		}, got[5:])
	})

	t.Run("negative base", func(t *testing.T) {
		fake := sheetstest.New()
		fake.SetReads("F51", -1, -1)
		fake.SetReads("G49", 77)
		_, err := newExecutor(fake).Execute(context.Background(), mustPart(t, 5, model.PartMin), testInputs, testHandle)
		require.NoError(t, err)

		got := writes(fake.Calls())
		assert.Equal(t, []string{
			"F47:=F51", "invoke:solveForITCRefund", "read:F51", "F47=0",
			"invoke:solveForITCRefund", "read:G49", "G47=77",
		}, got[5:])
		assert.Equal(t, 2, fake.Count(sheets.ActionRunScenario), "never loops")
	})
}

func TestCarryBackScenario(t *testing.T) {
	fake := sheetstest.New()
	_, err := newExecutor(fake).Execute(context.Background(), mustPart(t, 6, model.PartMax), testInputs, testHandle)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"E17=0", "C92:=MAX(0, B92)", "C90=0.6", "C88=5", "G88:=MIN(L100, F88)",
		"B43=0", "F47=0", "J124:=I124",
	}, writes(fake.Calls()))
}

func TestSnapshotFailureIsNotReturned(t *testing.T) {
	fake := sheetstest.New()
	fake.SnapshotErr = errors.New("drive quota")
	m := metrics.New("test", prometheus.NewRegistry())

	out, err := newExecutor(fake, WithMetrics(m)).Execute(context.Background(), mustPart(t, 2, model.PartFull), testInputs, testHandle)
	require.NoError(t, err)
	assert.NotZero(t, out.AGI)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SnapshotFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScenariosExecuted.WithLabelValues("2", "full")))
}

func TestRemoteErrorPropagatesUnchanged(t *testing.T) {
	fake := sheetstest.New()
	boom := errors.New("quota exceeded")
	fake.FailOn(sheets.ActionRunScenario, 1, boom)

	_, err := newExecutor(fake).Execute(context.Background(), mustPart(t, 2, model.PartFull), testInputs, testHandle)
	var te *sheets.TransportError
	require.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, fake.Count(sheets.ActionGetOutputs))
}

func TestTransferBaseRuleDirect(t *testing.T) {
	fake := sheetstest.New()
	fake.SetReads("F51", -0.01)

	corrected, err := TransferBaseRule{Solver: SolverITC}.Apply(context.Background(), fake, testHandle)
	require.NoError(t, err)
	assert.True(t, corrected)
	assert.Equal(t, []string{"read:F51", "F47=0", "invoke:solveForITC"}, writes(fake.Calls()))
}
