package csvpipeline

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"posextract/internal/shared/testutil"
)

func TestDefaultColumnMap(t *testing.T) {
	cm := DefaultColumnMap()
	assert.Contains(t, cm, FieldItemName)
	assert.Contains(t, cm, FieldGrossSales)
}

func TestParseColumnMap(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{"valid", `{"item_name": ["Produkt"], "gross_sales": ["Umsatz"]}`, false},
		{"missing item name", `{"gross_sales": ["Umsatz"]}`, true},
		{"unknown field", `{"item_name": ["x"], "tip": ["Tip"]}`, true},
		{"empty alias list", `{"item_name": []}`, true},
		{"not json", `{`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseColumnMap([]byte(tt.data))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestLoadColumnMap(t *testing.T) {
	cm, err := LoadColumnMap("")
	require.NoError(t, err)
	assert.NotEmpty(t, cm)

	path := testutil.WriteFile(t, t.TempDir(), "columns.json", `{"item_name": ["Artikel"]}`)
	cm, err = LoadColumnMap(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Artikel"}, cm[FieldItemName])

	_, err = LoadColumnMap(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestResolve(t *testing.T) {
	cm := DefaultColumnMap()
	idx := cm.Resolve([]string{"\uFEFFItem  Name", "GROSS-SALES", "Qty Sold", "Item"})
	assert.Equal(t, 0, idx[FieldItemName], "first matching column wins")
	assert.Equal(t, 1, idx[FieldGrossSales])
	assert.Equal(t, 2, idx[FieldQuantity])
	assert.NotContains(t, idx, FieldDate)
}
