package model

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseCurrency parses "$1,234,420", "1234420" or "75000.50".
func ParseCurrency(s string) (float64, error) {
	cleaned := strings.NewReplacer("$", "", ",", "", " ", "", "\t", "").Replace(s)
	if cleaned == "" {
		return 0, fmt.Errorf("%w: empty amount", ErrInvalidInputs)
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q is not a valid amount", ErrInvalidInputs, s)
	}
	return v, nil
}

// FormatCurrency renders whole dollars, e.g. "$123,456" or "-$1,234".
func FormatCurrency(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "$0"
	}
	rounded := math.Round(math.Abs(v))
	digits := strconv.FormatFloat(rounded, 'f', 0, 64)

	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if v < 0 && rounded != 0 {
		return "-$" + b.String()
	}
	return "$" + b.String()
}
