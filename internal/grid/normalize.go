package grid

import (
	"strconv"
	"strings"
)

// ParseValue normalizes one raw cell into a float. Blank cells and the "-"
// placeholder the worksheet uses for empty entries count as missing.
// Thousands separators are stripped before parsing, so "4,553.18" and
// "4553.18" are the same value.
func ParseValue(raw string) (float64, bool) {
	cleaned := strings.TrimSpace(raw)
	if cleaned == "" || cleaned == "-" {
		return 0, false
	}
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	if cleaned == "" || cleaned == "-" {
		return 0, false
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// FormatValue renders a value the way it is typed into the simulator's value
// editor: shortest round-trippable form at six significant digits.
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}
