package exporter

import (
	"math"
	"strconv"
)

// formatFloat renders a value with up to 6 significant digits and no
// trailing zeros. NaN renders as an empty cell.
func formatFloat(f float64) string {
	if math.IsNaN(f) {
		return ""
	}
	return strconv.FormatFloat(f, 'g', 6, 64)
}

// formatInt formats an integer value for CSV output
func formatInt(i int) string {
	return strconv.Itoa(i)
}
