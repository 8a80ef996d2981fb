// Package units converts desk heights between millimetres, centimetres and inches.
package units

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

const (
	mmPerCM = 10.0
	mmPerIn = 25.4

	// inPerMM is the factor the desks themselves use for display, not 1/25.4.
	inPerMM = 0.039
)

// RoundHalfUp rounds x to digits decimal places, with ties away from zero.
func RoundHalfUp(x float64, digits int) float64 {
	p := math.Pow(10, float64(digits))
	if x < 0 {
		return -math.Floor(-x*p+0.5) / p
	}
	return math.Floor(x*p+0.5) / p
}

// MMToInches returns mm in inches rounded half up to one decimal place.
func MMToInches(mm int) float64 {
	return RoundHalfUp(float64(mm)*inPerMM, 1)
}

// CMToMM converts centimetres to millimetres.
func CMToMM(cm float64) float64 {
	return cm * mmPerCM
}

// InchesToMM converts inches to millimetres.
func InchesToMM(in float64) float64 {
	return in * mmPerIn
}

var (
	heightRe = regexp.MustCompile(`(?i)^(\d+(?:\.\d+)?)(mm|cm|in)$`)
	numberRe = regexp.MustCompile(`^\d+(?:\.\d+)?$`)
)

// ParseHeight parses a height with a unit suffix ("660mm", "64cm", "26.5in")
// into whole millimetres, rounding half up.
func ParseHeight(s string) (int, error) {
	s = strings.TrimSpace(s)
	m := heightRe.FindStringSubmatch(s)
	if m == nil {
		if numberRe.MatchString(s) {
			return 0, fmt.Errorf("%q is missing a unit suffix; expected one of 'mm', 'cm', or 'in'", s)
		}
		return 0, fmt.Errorf("%q is not a valid height (expected e.g. '64cm', '26.5in', or '660mm')", s)
	}

	val, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a valid height: %w", s, err)
	}

	var mm float64
	switch strings.ToLower(m[2]) {
	case "mm":
		mm = val
	case "cm":
		mm = CMToMM(val)
	case "in":
		mm = InchesToMM(val)
	}
	return int(RoundHalfUp(mm, 0)), nil
}

// FormatHeight renders mm with its approximate inch value, e.g. "720 mm (~28.1 in)".
func FormatHeight(mm int) string {
	return fmt.Sprintf("%d mm (~%.1f in)", mm, MMToInches(mm))
}
