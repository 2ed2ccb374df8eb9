package model

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/goccy/go-json"
)

// MaxScenario is the highest scenario number in the output contract.
const MaxScenario = 6

// Outcome holds either a single output or a range, never both.
type Outcome struct {
	Single *ScenarioOutput
	Range  *RangeOutput
}

// IsRange reports whether the outcome is a min/max pair.
func (o Outcome) IsRange() bool { return o.Range != nil }

func (o Outcome) MarshalJSON() ([]byte, error) {
	switch {
	case o.Range != nil:
		return json.Marshal(o.Range)
	case o.Single != nil:
		return json.Marshal(o.Single)
	default:
		return []byte("null"), nil
	}
}

// Results maps scenario numbers to their outcome.
type Results struct {
	outcomes map[int]Outcome
}

// NewResults returns an empty result set.
func NewResults() *Results {
	return &Results{outcomes: make(map[int]Outcome)}
}

// SetSingle records a non-range scenario.
func (r *Results) SetSingle(n int, out ScenarioOutput) {
	r.outcomes[n] = Outcome{Single: &out}
}

// SetRange records a range scenario.
func (r *Results) SetRange(n int, rng RangeOutput) {
	r.outcomes[n] = Outcome{Range: &rng}
}

// Get returns the outcome for scenario n.
func (r *Results) Get(n int) (Outcome, bool) {
	o, ok := r.outcomes[n]
	return o, ok
}

// Scenarios returns the recorded scenario numbers in ascending order.
func (r *Results) Scenarios() []int {
	nums := make([]int, 0, len(r.outcomes))
	for n := range r.outcomes {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums
}

// Units flattens the results into one entry per computed part.
func (r *Results) Units() []Unit {
	var units []Unit
	for _, n := range r.Scenarios() {
		o := r.outcomes[n]
		if o.Range != nil {
			units = append(units,
				Unit{Scenario: n, Part: PartMax, Output: o.Range.Max},
				Unit{Scenario: n, Part: PartMin, Output: o.Range.Min},
			)
			continue
		}
		units = append(units, Unit{Scenario: n, Part: PartFull, Output: *o.Single})
	}
	return units
}

// Rows returns presentation rows in scenario order.
func (r *Results) Rows() []Row {
	rows := make([]Row, 0, len(r.outcomes))
	for _, n := range r.Scenarios() {
		o := r.outcomes[n]
		if o.Range != nil {
			low, high := normalizeRange(*o.Range)
			rows = append(rows, Row{Scenario: n, Range: true, Low: low, High: high})
			continue
		}
		rows = append(rows, Row{Scenario: n, Low: *o.Single, High: *o.Single})
	}
	return rows
}

// MarshalJSON writes scenario1..scenario6 in order; scenarios that did not
// run are null.
func (r *Results) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for n := 1; n <= MaxScenario; n++ {
		if n > 1 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(&buf, `"scenario%d":`, n)
		b, err := json.Marshal(r.outcomes[n])
		if err != nil {
			return nil, fmt.Errorf("marshal scenario %d: %w", n, err)
		}
		buf.Write(b)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
