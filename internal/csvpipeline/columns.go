package csvpipeline

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"unicode"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Canonical record fields a vendor header can map to.
const (
	FieldItemName   = "item_name"
	FieldCategory   = "category"
	FieldQuantity   = "quantity"
	FieldGrossSales = "gross_sales"
	FieldLocation   = "location"
	FieldDate       = "date"
)

//go:embed columns.json
var defaultColumns []byte

//go:embed columns.schema.json
var columnsSchema []byte

// ColumnMap maps a canonical field to the vendor header names that carry it.
type ColumnMap map[string][]string

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func columnSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("columns.schema.json", bytes.NewReader(columnsSchema)); err != nil {
			schemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile("columns.schema.json")
	})
	return compiledSchema, schemaErr
}

// ParseColumnMap validates data against the column map schema and decodes it.
func ParseColumnMap(data []byte) (ColumnMap, error) {
	schema, err := columnSchema()
	if err != nil {
		return nil, fmt.Errorf("compile column schema: %w", err)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal column map: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("column map does not match schema: %w", err)
	}

	var cm ColumnMap
	if err := json.Unmarshal(data, &cm); err != nil {
		return nil, fmt.Errorf("decode column map: %w", err)
	}
	return cm, nil
}

// DefaultColumnMap returns the embedded mapping.
func DefaultColumnMap() ColumnMap {
	cm, err := ParseColumnMap(defaultColumns)
	if err != nil {
		panic(fmt.Sprintf("embedded column map invalid: %v", err))
	}
	return cm
}

// LoadColumnMap reads a mapping file, falling back to the embedded default
// when path is empty.
func LoadColumnMap(path string) (ColumnMap, error) {
	if path == "" {
		return DefaultColumnMap(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read column map %s: %w", path, err)
	}
	return ParseColumnMap(data)
}

// Resolve returns canonical field -> column index for header. Aliases are
// matched after normalization; the first header column matching a field wins.
func (cm ColumnMap) Resolve(header []string) map[string]int {
	lookup := make(map[string]string)
	for field, aliases := range cm {
		for _, alias := range aliases {
			lookup[normalizeHeader(alias)] = field
		}
	}

	out := make(map[string]int)
	for i, h := range header {
		field, ok := lookup[normalizeHeader(h)]
		if !ok {
			continue
		}
		if _, taken := out[field]; !taken {
			out[field] = i
		}
	}
	return out
}

// normalizeHeader lowercases and collapses anything that is not a letter or
// digit into single spaces.
func normalizeHeader(s string) string {
	s = strings.TrimPrefix(s, "\uFEFF")
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteRune(r)
			space = false
			continue
		}
		space = true
	}
	return b.String()
}
