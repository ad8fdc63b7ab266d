package exporter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVWriterAppend(t *testing.T) {
	dir := t.TempDir()
	w := NewCSVWriter(dir, nil)

	path, err := w.WriteCSV(filepath.Join("nested", "out.csv"), WriteOptions{
		Headers: []string{"a", "b"},
		Records: [][]string{{"1", "2"}},
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "nested", "out.csv"), path)

	_, err = w.AppendToCSV(path, [][]string{{"3", "4"}})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n3,4\n", string(data))
}

func TestCSVWriterQuotesFields(t *testing.T) {
	w := NewCSVWriter(t.TempDir(), nil)
	path, err := w.WriteCSV("q.csv", WriteOptions{Records: [][]string{{`say "hi"`, "a,b"}}})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "\"say \"\"hi\"\"\",\"a,b\"\n", string(data))
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "13.40", formatMoney(13.4))
	assert.Equal(t, "0.00", formatMoney(0))
	assert.Equal(t, "42", formatInt(42))
	assert.Equal(t, "false", formatBool(false))
}
