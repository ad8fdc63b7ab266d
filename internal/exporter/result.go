package exporter

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"posextract/internal/validation"
	"posextract/pkg/contracts/domain"
)

// Supported export formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

var (
	recordHeaders  = []string{"Location", "Date", "Item", "Category", "Quantity", "Gross Sales"}
	summaryHeaders = []string{"Location", "Success", "Items", "Total Sales", "Invalid Rows", "Categories", "Error"}
)

// ResultExporter writes job results under a reports directory.
type ResultExporter struct {
	dir    string
	format string
	csv    *CSVWriter
	logger *slog.Logger
}

// NewResultExporter creates an exporter for format ("csv" or "xlsx"). dir is
// created if missing and must be writable.
func NewResultExporter(dir, format string, logger *slog.Logger) (*ResultExporter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = FormatCSV
	}
	if format != FormatCSV && format != FormatXLSX {
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
	if err := validation.NewFileValidator(logger).ValidateOutputDirectory(dir); err != nil {
		return nil, err
	}
	logger = logger.With(slog.String("component", "exporter"))
	return &ResultExporter{
		dir:    dir,
		format: format,
		csv:    NewCSVWriter(dir, logger),
		logger: logger,
	}, nil
}

// Export writes result and returns the path of the primary file.
func (e *ResultExporter) Export(ctx context.Context, jobID string, result domain.JobResult) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	base := baseName(result.ReportDate, jobID)
	if e.format == FormatXLSX {
		return e.exportXLSX(base, result)
	}
	return e.exportCSV(base, result)
}

func baseName(reportDate, jobID string) string {
	if reportDate == "" {
		reportDate = "undated"
	}
	short := jobID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("sales_%s_%s", reportDate, short)
}

func (e *ResultExporter) exportCSV(base string, result domain.JobResult) (string, error) {
	path, err := e.csv.WriteSimpleCSV(base+".csv", recordHeaders, recordRows(result))
	if err != nil {
		return "", fmt.Errorf("failed to write records: %w", err)
	}
	if _, err := e.csv.WriteSimpleCSV(base+"_summary.csv", summaryHeaders, summaryRows(result)); err != nil {
		return "", fmt.Errorf("failed to write summary: %w", err)
	}
	return path, nil
}

func recordRows(result domain.JobResult) [][]string {
	var rows [][]string
	for _, lr := range result.LocationResults {
		for _, r := range lr.Records {
			rows = append(rows, []string{
				r.Location, r.Date, r.ItemName, r.Category,
				formatInt(r.Quantity), formatMoney(r.GrossSales),
			})
		}
	}
	return rows
}

func summaryRows(result domain.JobResult) [][]string {
	rows := make([][]string, 0, len(result.LocationResults)+1)
	for _, lr := range result.LocationResults {
		rows = append(rows, []string{
			lr.Location, formatBool(lr.Success), formatInt(lr.ItemCount),
			formatMoney(lr.TotalSales), formatInt(lr.InvalidCount),
			strings.Join(lr.Categories, "|"), lr.Error,
		})
	}
	rows = append(rows, []string{
		"TOTAL", formatBool(result.FailedLocations == 0), formatInt(result.TotalItems),
		formatMoney(result.TotalSales), "", "", "",
	})
	return rows
}

func (e *ResultExporter) exportXLSX(base string, result domain.JobResult) (string, error) {
	f := excelize.NewFile()
	defer f.Close()

	const (
		summarySheet = "Summary"
		recordsSheet = "Records"
	)
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return "", err
	}
	if _, err := f.NewSheet(recordsSheet); err != nil {
		return "", err
	}

	if err := writeSheet(f, summarySheet, summaryHeaders, summaryRows(result), map[int]bool{2: true, 3: true, 4: true}); err != nil {
		return "", err
	}
	if err := writeSheet(f, recordsSheet, recordHeaders, recordRows(result), map[int]bool{4: true, 5: true}); err != nil {
		return "", err
	}
	_ = f.SetColWidth(summarySheet, "A", "A", 24)
	_ = f.SetColWidth(summarySheet, "F", "G", 40)
	_ = f.SetColWidth(recordsSheet, "A", "D", 22)
	f.SetActiveSheet(0)

	if err := os.MkdirAll(e.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	path := filepath.Join(e.dir, base+".xlsx")
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("xlsx write: %w", err)
	}
	e.logger.Info("Wrote XLSX export",
		slog.String("full_path", path),
		slog.Int("locations", len(result.LocationResults)),
		slog.Int("records", result.TotalItems))
	return path, nil
}

// writeSheet writes headers and rows; columns in numeric are stored as
// numbers when they parse.
func writeSheet(f *excelize.File, sheet string, headers []string, rows [][]string, numeric map[int]bool) error {
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
	}
	for r, row := range rows {
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			var value any = v
			if numeric[c] && v != "" {
				var n float64
				if _, err := fmt.Sscan(v, &n); err == nil {
					value = n
				}
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return err
			}
		}
	}
	return nil
}
