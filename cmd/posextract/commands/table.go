package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"posextract/pkg/contracts/domain"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(w)
	return t
}

func money(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

func rightAligned(cols ...int) []table.ColumnConfig {
	configs := make([]table.ColumnConfig, len(cols))
	for i, c := range cols {
		configs[i] = table.ColumnConfig{Number: c, Align: text.AlignRight, AlignFooter: text.AlignRight}
	}
	return configs
}

func renderLocationResults(w io.Writer, results []domain.LocationResult) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Location", "Status", "Items", "Total Sales", "Invalid", "Categories"})
	t.SetColumnConfigs(rightAligned(3, 4, 5))

	var items int
	var total float64
	for _, r := range results {
		status := "ok"
		if !r.Success {
			status = "failed: " + r.Error
		}
		items += r.ItemCount
		total += r.TotalSales
		t.AppendRow(table.Row{r.Location, status, r.ItemCount, money(r.TotalSales), r.InvalidCount, strings.Join(r.Categories, ", ")})
	}
	if len(results) > 1 {
		t.AppendFooter(table.Row{"Total", "", items, money(total), "", ""})
	}
	t.Render()
}

func renderJobResult(w io.Writer, result domain.JobResult) {
	renderLocationResults(w, result.LocationResults)
	fmt.Fprintf(w, "Report date %s: %d items, %s total, %d/%d locations succeeded\n",
		result.ReportDate, result.TotalItems, money(result.TotalSales),
		result.SuccessfulLocations, result.SuccessfulLocations+result.FailedLocations)
	if result.ExportPath != "" {
		fmt.Fprintf(w, "Exported to %s\n", result.ExportPath)
	}
}

func renderRecords(w io.Writer, records []domain.ExtractionRecord) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Row", "Date", "Item", "Category", "Qty", "Gross Sales"})
	t.SetColumnConfigs(rightAligned(1, 5, 6))
	for _, r := range records {
		t.AppendRow(table.Row{r.SourceRow, r.Date, r.ItemName, r.Category, r.Quantity, money(r.GrossSales)})
	}
	t.Render()
}

func renderInvalid(w io.Writer, invalid []domain.ValidationOutcome) {
	t := newTable(w)
	t.SetTitle("Rejected rows")
	t.AppendHeader(table.Row{"Row", "Item", "Errors"})
	for _, inv := range invalid {
		msgs := make([]string, len(inv.Errors))
		for i, fe := range inv.Errors {
			msgs[i] = fmt.Sprintf("%s %s", fe.Field, fe.Code)
		}
		t.AppendRow(table.Row{inv.Record.SourceRow, inv.Record.ItemName, strings.Join(msgs, "; ")})
	}
	t.Render()
}
