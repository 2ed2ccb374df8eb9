package model

import (
	"fmt"
	"strings"
)

// State is one of the 51 supported jurisdictions.
type State string

// States lists the jurisdictions in the order the intake form shows them.
var States = []State{
	"Alabama", "Alaska", "Arizona", "Arkansas", "California", "Colorado",
	"Connecticut", "DC", "Delaware", "Florida", "Georgia", "Hawaii", "Idaho",
	"Illinois", "Indiana", "Iowa", "Kansas", "Kentucky", "Louisiana", "Maine",
	"Maryland", "Massachusetts", "Michigan", "Minnesota", "Mississippi",
	"Missouri", "Montana", "Nebraska", "Nevada", "New Hampshire", "New Jersey",
	"New Mexico", "New York", "North Carolina", "North Dakota", "Ohio",
	"Oklahoma", "Oregon", "Pennsylvania", "Rhode Island", "South Carolina",
	"South Dakota", "Tennessee", "Texas", "Utah", "Vermont", "Virginia",
	"Washington", "West Virginia", "Wisconsin", "Wyoming",
}

var stateIndex = func() map[string]State {
	idx := make(map[string]State, len(States))
	for _, s := range States {
		idx[strings.ToLower(string(s))] = s
	}
	return idx
}()

// Valid reports whether s is a known jurisdiction (exact spelling).
func (s State) Valid() bool {
	canonical, ok := stateIndex[strings.ToLower(string(s))]
	return ok && canonical == s
}

// ParseState resolves a case-insensitive state name to its canonical spelling.
func ParseState(name string) (State, error) {
	if s, ok := stateIndex[strings.ToLower(strings.TrimSpace(name))]; ok {
		return s, nil
	}
	return "", fmt.Errorf("%w: unknown state %q", ErrInvalidInputs, name)
}
