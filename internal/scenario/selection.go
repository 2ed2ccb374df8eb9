package scenario

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// ErrInvalidSelection is returned for unknown presets or scenario numbers.
var ErrInvalidSelection = errors.New("invalid scenario selection")

// Selection is an ordered set of scenario numbers. The baseline always
// comes first and the rest follow in ascending order.
type Selection []int

// Presets are the named selections accepted by ParseSelection.
var Presets = map[string]Selection{
	"all":       {1, 2, 3, 4, 5},
	"scenario5": {1, 5},
	"scenario6": {1, 3, 6},
	"every":     {1, 2, 3, 4, 5, 6},
}

// NewSelection validates nums, removes duplicates and adds the baseline.
func NewSelection(nums ...int) (Selection, error) {
	seen := map[int]bool{Baseline: true}
	sel := Selection{Baseline}

	rest := slices.Clone(nums)
	slices.Sort(rest)
	for _, n := range rest {
		if _, ok := catalog[n]; !ok {
			return nil, fmt.Errorf("%w: unknown scenario %d", ErrInvalidSelection, n)
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		sel = append(sel, n)
	}
	return sel, nil
}

// ParseSelection accepts a preset name or a comma separated list such as
// "1,3,6". The empty string selects "all".
func ParseSelection(s string) (Selection, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		s = "all"
	}
	if p, ok := Presets[s]; ok {
		return slices.Clone(p), nil
	}

	var nums []int
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		n, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSelection, field)
		}
		nums = append(nums, n)
	}
	return NewSelection(nums...)
}

// Contains reports whether scenario n is selected.
func (s Selection) Contains(n int) bool {
	return slices.Contains(s, n)
}

func (s Selection) String() string {
	parts := make([]string, len(s))
	for i, n := range s {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}
