package testutil

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSalesCSV(t *testing.T) {
	content := SalesCSV("Downtown", "2024-03-01", 3)
	lines := strings.Split(strings.TrimSpace(content), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, strings.Join(SalesHeader, ","), lines[0])
	assert.Contains(t, lines[3], `"$30.75"`)
	assert.InDelta(t, 61.5, SalesTotal(3), 0.0001)

	path := WriteFile(t, t.TempDir(), "nested/sales.csv", content)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
}
