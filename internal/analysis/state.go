package analysis

import (
	"fmt"
	"time"

	"github.com/taxwise-partners/sp-estimator/internal/model"
	"github.com/taxwise-partners/sp-estimator/internal/scenario"
)

// State is a step of the run state machine.
type State string

const (
	StateInit               State = "INIT"
	StateFolderCreated      State = "FOLDER_CREATED"
	StateWorkingCopyCreated State = "WORKING_COPY_CREATED"
	StatePrepared           State = "PREPARED"
	StateCleanedUp          State = "CLEANED_UP"
	StateComplete           State = "COMPLETE"
	StateFailed             State = "FAILED"
)

// ScenarioRunning is the state while scenario n executes.
func ScenarioRunning(n int) State { return State(fmt.Sprintf("SCENARIO_%d_RUNNING", n)) }

// ScenarioDone is the state after every part of scenario n finished.
func ScenarioDone(n int) State { return State(fmt.Sprintf("SCENARIO_%d_DONE", n)) }

// RunReport summarises one run. It is returned even when the run fails.
type RunReport struct {
	RunID         string
	AnalysisID    string
	CorrelationID string
	Selection     scenario.Selection

	State       State
	Transitions []State

	Folder      model.Folder
	WorkingCopy model.WorkingCopyHandle

	Results  *model.Results
	Computed int // units executed remotely
	Cached   int // units restored from the resume cache
	Derived  int // range minimums copied from the maximum

	Resumed    bool
	StartedAt  time.Time
	FinishedAt time.Time
	Err        error
}

// Duration is the wall time of the run.
func (r *RunReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

func (r *RunReport) transition(s State) {
	r.State = s
	r.Transitions = append(r.Transitions, s)
}
