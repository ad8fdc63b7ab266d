package commands

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"posextract/internal/shared/testutil"
	"posextract/pkg/contracts/domain"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestParseCommand(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "downtown.csv", testutil.SalesCSV("Downtown", "2024-03-01", 3))

	out, err := execute(t, "parse", path, "--rows")
	require.NoError(t, err)

	assert.Contains(t, out, "3 rows")
	assert.Contains(t, out, "Downtown")
	assert.Contains(t, out, "61.50")
	assert.Contains(t, out, "Item 2")
	assert.NotContains(t, out, "Rejected rows")
}

func TestParseCommandDefaultsLocationToFileName(t *testing.T) {
	dir := t.TempDir()
	content := "Item Name,Qty Sold,Gross Sales\nLatte,2,\"$9.00\"\n"
	path := testutil.WriteFile(t, dir, "uptown.csv", content)

	out, err := execute(t, "parse", path, "--date", "2024-03-01")
	require.NoError(t, err)
	assert.Contains(t, out, "uptown")
	assert.Contains(t, out, "9.00")
}

func TestParseCommandErrors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		args []string
	}{
		{"missing file", []string{"parse", filepath.Join(dir, "nope.csv")}},
		{"unsupported extension", []string{"parse", testutil.WriteFile(t, dir, "notes.txt", "hello")}},
		{"no argument", []string{"parse"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestRenderLocationResults(t *testing.T) {
	var out bytes.Buffer
	renderLocationResults(&out, []domain.LocationResult{
		{Location: "Downtown", Success: true, ItemCount: 4, TotalSales: 102.5, Categories: []string{"Drinks", "Food"}},
		{Location: "Airport", Error: "export timed out"},
	})

	text := out.String()
	assert.Contains(t, text, "Downtown")
	assert.Contains(t, text, "102.50")
	assert.Contains(t, text, "Drinks, Food")
	assert.Contains(t, text, "failed: export timed out")
	assert.Contains(t, text, "TOTAL")
}

func TestPrintJobFailed(t *testing.T) {
	var out, errOut bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)

	err := printJob(cmd, &domain.Job{ID: "job-1", Status: domain.JobStatusFailed, Error: "login failed"})
	assert.ErrorIs(t, err, errJobFailed)
	assert.Contains(t, out.String(), "Job job-1 failed")
	assert.Contains(t, errOut.String(), "login failed")
}

func TestPrintJobCompleted(t *testing.T) {
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)

	delivered := true
	job := &domain.Job{
		ID:     "job-2",
		Status: domain.JobStatusCompleted,
		Result: &domain.JobResult{
			ReportDate:          "2024-03-01",
			LocationResults:     []domain.LocationResult{{Location: "Downtown", Success: true, ItemCount: 2, TotalSales: 30.75}},
			TotalItems:          2,
			TotalSales:          30.75,
			SuccessfulLocations: 1,
			ExportPath:          "/tmp/sales.xlsx",
		},
		Delivered: &delivered,
	}
	require.NoError(t, printJob(cmd, job))
	assert.Contains(t, out.String(), "1/1 locations succeeded")
	assert.Contains(t, out.String(), "Exported to /tmp/sales.xlsx")
	assert.Contains(t, out.String(), "Delivered: true")
}
