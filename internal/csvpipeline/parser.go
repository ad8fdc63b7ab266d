// Package csvpipeline turns exported sales artifacts into normalized records.
package csvpipeline

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"posextract/pkg/contracts/domain"
)

var (
	// ErrEmptyFile is wrapped by ParseError for zero-byte artifacts.
	ErrEmptyFile = errors.New("file is empty")
	// ErrNoHeader is wrapped by ParseError when no header row exists.
	ErrNoHeader = errors.New("no header row")
	// ErrNoItemColumn is wrapped by ParseError when no header maps to the item name.
	ErrNoItemColumn = errors.New("no item name column in header")
)

const sampleSize = 4096

// summaryItems are vendor footer rows that repeat the totals.
var summaryItems = map[string]bool{
	"total":       true,
	"grand total": true,
	"totals":      true,
	"subtotal":    true,
}

// ParseError reports an artifact that could not be read as a sales export.
type ParseError struct {
	Path string
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse %s line %d: %v", filepath.Base(e.Path), e.Line, e.Err)
	}
	return fmt.Sprintf("parse %s: %v", filepath.Base(e.Path), e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Options carry per-artifact context.
type Options struct {
	// Location and Date fill records whose row lacks them.
	Location string
	Date     string
	// Encoding overrides detection when set.
	Encoding string
	// Delimiter overrides detection when non-zero.
	Delimiter rune
}

// Stats counts what happened to the rows of one artifact.
type Stats struct {
	Rows          int    `json:"rows"`
	Records       int    `json:"records"`
	DroppedBlank  int    `json:"dropped_blank"`
	DroppedNoItem int    `json:"dropped_no_item"`
	DroppedTotals int    `json:"dropped_totals"`
	Encoding      string `json:"encoding"`
	Delimiter     string `json:"delimiter"`
}

// Parser reads CSV and XLSX sales exports.
type Parser struct {
	columns ColumnMap
	logger  *slog.Logger
}

// NewParser creates a parser using columns, or the embedded map when nil.
func NewParser(columns ColumnMap, logger *slog.Logger) *Parser {
	if columns == nil {
		columns = DefaultColumnMap()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{
		columns: columns,
		logger:  logger.With(slog.String("component", "csv_pipeline")),
	}
}

// rowSource yields raw rows with their 1-based line number.
type rowSource interface {
	Next() ([]string, int, error)
}

// Parse reads the artifact at path. Row-level problems are recovered by
// dropping or zero-filling; only an unusable file returns an error.
func (p *Parser) Parse(ctx context.Context, path string, opts Options) ([]domain.ExtractionRecord, Stats, error) {
	var stats Stats

	info, err := os.Stat(path)
	if err != nil {
		return nil, stats, &ParseError{Path: path, Err: err}
	}
	if info.Size() == 0 {
		return nil, stats, &ParseError{Path: path, Err: ErrEmptyFile}
	}

	var src rowSource
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		rows, err := readWorkbook(path)
		if err != nil {
			return nil, stats, &ParseError{Path: path, Err: err}
		}
		stats.Encoding = "xlsx"
		src = &sliceSource{rows: rows}
	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, stats, &ParseError{Path: path, Err: err}
		}
		defer f.Close()

		csvSrc, err := p.openCSV(f, opts, &stats)
		if err != nil {
			return nil, stats, &ParseError{Path: path, Err: err}
		}
		src = csvSrc
	}

	records, err := p.consume(ctx, src, opts, &stats)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			pe.Path = path
			return nil, stats, pe
		}
		if ctx.Err() != nil {
			return nil, stats, err
		}
		return nil, stats, &ParseError{Path: path, Err: err}
	}

	p.logger.InfoContext(ctx, "Artifact parsed",
		slog.String("file", filepath.Base(path)),
		slog.Int("rows", stats.Rows),
		slog.Int("records", stats.Records),
		slog.Int("dropped_blank", stats.DroppedBlank),
		slog.Int("dropped_no_item", stats.DroppedNoItem),
		slog.String("encoding", stats.Encoding))
	return records, stats, nil
}

func (p *Parser) openCSV(r io.Reader, opts Options, stats *Stats) (*csvSource, error) {
	raw := bufio.NewReaderSize(r, sampleSize)
	sample, _ := raw.Peek(sampleSize)

	enc := opts.Encoding
	if enc == "" {
		enc = DetectEncoding(sample)
	}
	decoded, err := decodingReader(raw, enc)
	if err != nil {
		return nil, err
	}
	stats.Encoding = enc

	text := bufio.NewReaderSize(decoded, sampleSize)
	delim := opts.Delimiter
	if delim == 0 {
		head, _ := text.Peek(sampleSize)
		line := string(head)
		if i := strings.IndexAny(line, "\r\n"); i >= 0 {
			line = line[:i]
		}
		delim = DetectDelimiter(line)
	}
	stats.Delimiter = string(delim)

	reader := csv.NewReader(text)
	reader.Comma = delim
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	return &csvSource{reader: reader}, nil
}

func (p *Parser) consume(ctx context.Context, src rowSource, opts Options, stats *Stats) ([]domain.ExtractionRecord, error) {
	var (
		header  map[string]int
		records []domain.ExtractionRecord
	)

	for {
		row, line, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &ParseError{Line: line, Err: err}
		}

		if header == nil {
			if blankRow(row) {
				continue
			}
			header = p.columns.Resolve(row)
			if _, ok := header[FieldItemName]; !ok {
				return nil, &ParseError{Line: line, Err: ErrNoItemColumn}
			}
			continue
		}

		stats.Rows++
		if stats.Rows%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		if blankRow(row) {
			stats.DroppedBlank++
			continue
		}
		item := cell(row, header, FieldItemName)
		if item == "" {
			stats.DroppedNoItem++
			continue
		}
		if summaryItems[strings.ToLower(item)] {
			stats.DroppedTotals++
			continue
		}

		rec := domain.ExtractionRecord{
			Location:   cell(row, header, FieldLocation),
			ItemName:   item,
			Category:   cell(row, header, FieldCategory),
			Quantity:   ParseQuantity(cell(row, header, FieldQuantity)),
			GrossSales: ParseAmount(cell(row, header, FieldGrossSales)),
			Date:       NormalizeDate(cell(row, header, FieldDate)),
			SourceRow:  line,
		}
		if rec.Location == "" {
			rec.Location = opts.Location
		}
		if rec.Date == "" {
			rec.Date = opts.Date
		}
		records = append(records, rec)
	}

	if header == nil {
		return nil, &ParseError{Err: ErrNoHeader}
	}
	stats.Records = len(records)
	return records, nil
}

func cell(row []string, header map[string]int, field string) string {
	i, ok := header[field]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func blankRow(row []string) bool {
	for _, f := range row {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

type csvSource struct {
	reader *csv.Reader
}

func (s *csvSource) Next() ([]string, int, error) {
	row, err := s.reader.Read()
	if err != nil {
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			return nil, pe.Line, err
		}
		return nil, 0, err
	}
	line := 0
	if len(row) > 0 {
		line, _ = s.reader.FieldPos(0)
	}
	return row, line, nil
}

type sliceSource struct {
	rows [][]string
	pos  int
}

func (s *sliceSource) Next() ([]string, int, error) {
	if s.pos >= len(s.rows) {
		return nil, s.pos, io.EOF
	}
	s.pos++
	return s.rows[s.pos-1], s.pos, nil
}
