// Package sheetstest provides an in-memory calculation backend that records
// every call, for tests of code that drives the sheets client.
package sheetstest

import (
	"context"
	"fmt"
	"sync"

	"github.com/taxwise-partners/sp-estimator/internal/model"
	"github.com/taxwise-partners/sp-estimator/internal/sheets"
)

// Call is one recorded operation.
type Call struct {
	Action   string
	Handle   string
	Cell     string
	Value    any
	Formula  string
	Function string
	Scenario int
}

// OutputsFunc computes the outputs returned by ReadOutputs from the cells
// written so far on the working copy.
type OutputsFunc func(cells map[string]any) model.ScenarioOutput

type failure struct {
	nth int
	err error
}

// Fake implements the calculation operations in memory.
type Fake struct {
	mu sync.Mutex

	calls    []Call
	settles  int
	counts   map[string]int
	failures map[string]failure
	cells    map[string]any
	reads    map[string][]float64

	// Outputs defaults to DefaultOutputs.
	Outputs OutputsFunc

	// SnapshotErr, when set, fails every SaveSnapshot.
	SnapshotErr error

	nextCopy int
}

// New returns an empty fake.
func New() *Fake {
	return &Fake{
		counts:   map[string]int{},
		failures: map[string]failure{},
		cells:    map[string]any{},
		reads:    map[string][]float64{},
		Outputs:  DefaultOutputs,
	}
}

// DefaultOutputs derives distinct, deterministic outputs from the donation
// limit and coordination fee so scenarios and parts can be told apart.
func DefaultOutputs(cells map[string]any) model.ScenarioOutput {
	fee, _ := cells["E17"].(float64)
	limit, _ := cells["C90"].(float64)
	if f, ok := cells["C92"].(float64); ok && f == 0 {
		limit = 0
	}
	carry := 0.0
	if cells["J124"] == "=I124" {
		carry = 5000
	}
	return model.ScenarioOutput{
		AGI:          1000000 - limit*100000,
		TotalTaxDue:  350000 - fee*20 - limit*50000 - carry,
		TotalNetGain: fee*20 + limit*50000 + carry,
	}
}

// SetReads queues values returned by successive ReadCellValue calls for
// cell. The last value repeats once the queue is drained.
func (f *Fake) SetReads(cell string, values ...float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads[cell] = values
}

// FailOn makes the nth (1-based) call of action return err.
func (f *Fake) FailOn(action string, nth int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[action] = failure{nth: nth, err: err}
}

// ClearFailures removes every configured failure.
func (f *Fake) ClearFailures() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = map[string]failure{}
}

// Calls returns a copy of the call log.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Actions returns the action names in call order.
func (f *Fake) Actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Action
	}
	return out
}

// Count returns how many times action was attempted.
func (f *Fake) Count(action string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[action]
}

// Settles returns how many explicit Settle calls were made.
func (f *Fake) Settles() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settles
}

// Reset clears the call log and counters but keeps configured failures.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
	f.settles = 0
	f.counts = map[string]int{}
}

func (f *Fake) record(c Call) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, c)
	f.counts[c.Action]++
	if fl, ok := f.failures[c.Action]; ok && f.counts[c.Action] == fl.nth {
		return &sheets.TransportError{Action: c.Action, Status: 500, Err: fl.err}
	}
	return nil
}

func (f *Fake) SetCellValue(ctx context.Context, h model.WorkingCopyHandle, cell string, value any) error {
	if err := f.record(Call{Action: sheets.ActionSetValue, Handle: h.ID, Cell: cell, Value: value}); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := value.(type) {
	case int:
		f.cells[cell] = float64(v)
	default:
		f.cells[cell] = v
	}
	return nil
}

func (f *Fake) SetCellFormula(ctx context.Context, h model.WorkingCopyHandle, cell, formula string) error {
	if err := f.record(Call{Action: sheets.ActionWriteFormula, Handle: h.ID, Cell: cell, Formula: formula}); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cells[cell] = formula
	return nil
}

func (f *Fake) InvokeNamedFunction(ctx context.Context, h model.WorkingCopyHandle, name string) error {
	return f.record(Call{Action: sheets.ActionRunScenario, Handle: h.ID, Function: name})
}

func (f *Fake) ForceRecalculate(ctx context.Context, h model.WorkingCopyHandle) error {
	return f.record(Call{Action: sheets.ActionForceRecalc, Handle: h.ID})
}

func (f *Fake) ReadCellValue(ctx context.Context, h model.WorkingCopyHandle, cell string) (float64, error) {
	if err := f.record(Call{Action: sheets.ActionGetValue, Handle: h.ID, Cell: cell}); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	q := f.reads[cell]
	if len(q) == 0 {
		return 0, nil
	}
	v := q[0]
	if len(q) > 1 {
		f.reads[cell] = q[1:]
	}
	return v, nil
}

func (f *Fake) ReadOutputs(ctx context.Context, h model.WorkingCopyHandle) (model.ScenarioOutput, error) {
	if err := f.record(Call{Action: sheets.ActionGetOutputs, Handle: h.ID}); err != nil {
		return model.ScenarioOutput{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Outputs(f.cells), nil
}

func (f *Fake) SetUserInputs(ctx context.Context, h model.WorkingCopyHandle, in model.UserInputs) error {
	return f.record(Call{Action: sheets.ActionSetInputs, Handle: h.ID})
}

// Cleanup and CleanupLimited forget all written cells.
func (f *Fake) Cleanup(ctx context.Context, h model.WorkingCopyHandle) error {
	if err := f.record(Call{Action: sheets.ActionCleanup, Handle: h.ID}); err != nil {
		return err
	}
	f.clearCells()
	return nil
}

func (f *Fake) CleanupLimited(ctx context.Context, h model.WorkingCopyHandle) error {
	if err := f.record(Call{Action: sheets.ActionCleanupLimited, Handle: h.ID}); err != nil {
		return err
	}
	f.clearCells()
	return nil
}

func (f *Fake) clearCells() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cells = map[string]any{}
}

func (f *Fake) SaveSnapshot(ctx context.Context, scenario int, in model.UserInputs) (model.Snapshot, error) {
	if err := f.record(Call{Action: sheets.ActionCreateWorkbookCopy, Scenario: scenario}); err != nil {
		return model.Snapshot{}, err
	}
	if f.SnapshotErr != nil {
		return model.Snapshot{}, f.SnapshotErr
	}
	return model.Snapshot{
		FolderURL: "https://drive.test/folder",
		FileURL:   fmt.Sprintf("https://drive.test/scenario%d", scenario),
	}, nil
}

func (f *Fake) CreateFolder(ctx context.Context, in model.UserInputs) (model.Folder, error) {
	if err := f.record(Call{Action: sheets.ActionCreateFolder}); err != nil {
		return model.Folder{}, err
	}
	return model.Folder{ID: "folder-1", URL: "https://drive.test/folder", Name: in.Name}, nil
}

func (f *Fake) CreateWorkingCopy(ctx context.Context, folderID string) (model.WorkingCopyHandle, error) {
	if err := f.record(Call{Action: sheets.ActionCreateWorkingCopy}); err != nil {
		return model.WorkingCopyHandle{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextCopy++
	id := fmt.Sprintf("wc-%d", f.nextCopy)
	return model.WorkingCopyHandle{ID: id, URL: "https://sheets.test/" + id}, nil
}

func (f *Fake) DeleteWorkingCopy(ctx context.Context, h model.WorkingCopyHandle) error {
	return f.record(Call{Action: sheets.ActionDeleteWorkingCopy, Handle: h.ID})
}

func (f *Fake) Settle(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settles++
	return ctx.Err()
}
