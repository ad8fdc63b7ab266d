package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// SalesHeader is the vendor export header used across fixtures.
var SalesHeader = []string{"Item Name", "Category", "Qty Sold", "Gross Sales", "Location", "Business Date"}

// SalesCSV renders n well-formed item rows for location on date.
// Row i sells i+1 units of "Item i" at (i+1)*10.25.
func SalesCSV(location, date string, n int) string {
	var b strings.Builder
	b.WriteString(strings.Join(SalesHeader, ","))
	b.WriteString("\n")
	for i := 0; i < n; i++ {
		category := "Food"
		if i%2 == 1 {
			category = "Drinks"
		}
		fmt.Fprintf(&b, "\"Item %d\",%s,%d,\"$%.2f\",%s,%s\n", i, category, i+1, float64(i+1)*10.25, location, date)
	}
	return b.String()
}

// SalesTotal is the expected gross total of SalesCSV(_, _, n).
func SalesTotal(n int) float64 {
	cents := int64(0)
	for i := 0; i < n; i++ {
		cents += int64(i+1) * 1025
	}
	return float64(cents) / 100
}

// WriteFile writes content to dir/name and returns the path.
func WriteFile(t testing.TB, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}
