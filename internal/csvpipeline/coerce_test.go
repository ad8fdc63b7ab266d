package csvpipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"12.50", 12.5},
		{"$1,234.50", 1234.5},
		{"1.234,50", 1234.5},
		{"12,5", 12.5},
		{"1,234", 1234},
		{"1.234.567", 1234567},
		{"(12.00)", -12},
		{"-3.10", -3.1},
		{"4.00-", -4},
		{"€ 9", 9},
		{" 7 ", 7},
		{"", 0},
		{"n/a", 0},
		{"--", 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.InDelta(t, tt.want, ParseAmount(tt.in), 1e-9)
		})
	}
}

func TestParseQuantity(t *testing.T) {
	assert.Equal(t, 3, ParseQuantity("2.6"))
	assert.Equal(t, 1200, ParseQuantity("1,200"))
	assert.Equal(t, 0, ParseQuantity("abc"))
	assert.Equal(t, -2, ParseQuantity("(2)"))
}

func TestNormalizeDate(t *testing.T) {
	assert.Equal(t, "2024-03-01", NormalizeDate("2024-03-01"))
	assert.Equal(t, "2024-03-01", NormalizeDate("03/01/2024"))
	assert.Equal(t, "2024-03-01", NormalizeDate("2024/03/01"))
	assert.Equal(t, "2024-03-01", NormalizeDate("Mar 1, 2024"))
	assert.Equal(t, "2024-03-01", NormalizeDate("2024-03-01 08:15:00"))
	assert.Equal(t, "someday", NormalizeDate(" someday "))
	assert.Equal(t, "", NormalizeDate(""))
}
