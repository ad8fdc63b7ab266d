package exporter

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"posextract/internal/shared/testutil"
	"posextract/pkg/contracts/domain"
)

func sampleResult() domain.JobResult {
	return domain.JobResult{
		ReportDate: "2024-03-15",
		LocationResults: []domain.LocationResult{
			{
				Location:   "Downtown",
				Success:    true,
				ItemCount:  2,
				TotalSales: 31.5,
				Categories: []string{"Drinks", "Food"},
				Records: []domain.ExtractionRecord{
					{Location: "Downtown", ItemName: "Latte", Category: "Drinks", Quantity: 3, GrossSales: 13.5, Date: "2024-03-15"},
					{Location: "Downtown", ItemName: "Bagel, plain", Category: "Food", Quantity: 4, GrossSales: 18, Date: "2024-03-15"},
				},
			},
			{Location: "Airport", Error: "download timed out"},
		},
		TotalItems:          2,
		TotalSales:          31.5,
		SuccessfulLocations: 1,
		FailedLocations:     1,
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(data), "\xEF\xBB\xBF"), "file starts with a BOM")
	rows, err := csv.NewReader(strings.NewReader(strings.TrimPrefix(string(data), "\xEF\xBB\xBF"))).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestResultExporterCSV(t *testing.T) {
	dir := t.TempDir()
	logger, _ := testutil.NewTestLogger(t)
	e, err := NewResultExporter(dir, "", logger)
	require.NoError(t, err)

	path, err := e.Export(context.Background(), "0123456789abcdef", sampleResult())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "sales_2024-03-15_01234567.csv"), path)

	rows := readCSV(t, path)
	require.Len(t, rows, 3)
	assert.Equal(t, recordHeaders, rows[0])
	assert.Equal(t, []string{"Downtown", "2024-03-15", "Latte", "Drinks", "3", "13.50"}, rows[1])
	assert.Equal(t, "Bagel, plain", rows[2][2])
	assert.Equal(t, "18.00", rows[2][5])

	summary := readCSV(t, filepath.Join(dir, "sales_2024-03-15_01234567_summary.csv"))
	require.Len(t, summary, 4)
	assert.Equal(t, []string{"Downtown", "true", "2", "31.50", "0", "Drinks|Food", ""}, summary[1])
	assert.Equal(t, "download timed out", summary[2][6])
	assert.Equal(t, []string{"TOTAL", "false", "2", "31.50", "", "", ""}, summary[3])
}

func TestResultExporterXLSX(t *testing.T) {
	dir := t.TempDir()
	e, err := NewResultExporter(dir, "XLSX", nil)
	require.NoError(t, err)

	path, err := e.Export(context.Background(), "job", sampleResult())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "sales_2024-03-15_job.xlsx"), path)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Summary", "Records"}, f.GetSheetList())

	records, err := f.GetRows("Records")
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "Latte", records[1][2])
	assert.Equal(t, "13.5", records[1][5])

	summary, err := f.GetRows("Summary")
	require.NoError(t, err)
	require.Len(t, summary, 4)
	assert.Equal(t, "TOTAL", summary[3][0])
}

func TestResultExporterRejectsUnknownFormat(t *testing.T) {
	_, err := NewResultExporter(t.TempDir(), "pdf", nil)
	assert.Error(t, err)
}

func TestResultExporterCreatesReportsDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports", "daily")
	_, err := NewResultExporter(dir, FormatCSV, nil)
	require.NoError(t, err)
	assert.DirExists(t, dir)
	assert.NoFileExists(t, filepath.Join(dir, ".write_test"))
}

func TestResultExporterRejectsUnusableReportsDir(t *testing.T) {
	parent := t.TempDir()
	blocker := filepath.Join(parent, "reports")
	require.NoError(t, os.WriteFile(blocker, []byte("not a directory"), 0644))

	_, err := NewResultExporter(filepath.Join(blocker, "daily"), FormatCSV, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create output directory")
}

func TestResultExporterCancelled(t *testing.T) {
	e, err := NewResultExporter(t.TempDir(), FormatCSV, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = e.Export(ctx, "job", sampleResult())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBaseName(t *testing.T) {
	assert.Equal(t, "sales_undated_abc", baseName("", "abc"))
	assert.Equal(t, "sales_2024-01-02_12345678", baseName("2024-01-02", "1234567890"))
}
