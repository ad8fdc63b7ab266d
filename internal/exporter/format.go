package exporter

import (
	"strconv"
)

// formatMoney formats an amount with exactly 2 decimal places
func formatMoney(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}

func formatInt(i int) string {
	return strconv.Itoa(i)
}

func formatBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
