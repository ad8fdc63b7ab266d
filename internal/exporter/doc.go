// Package exporter writes finished job results to the reports directory.
//
// CSVWriter is the low-level delimited writer. ResultExporter turns a
// JobResult into either a pair of CSV files (line items and a per-location
// summary) or a single XLSX workbook with one sheet for each.
package exporter
