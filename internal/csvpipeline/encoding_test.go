package csvpipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectEncoding(t *testing.T) {
	tests := []struct {
		name   string
		sample []byte
		want   string
	}{
		{"utf-8 bom", []byte("\xEF\xBB\xBFa,b"), EncodingUTF8},
		{"utf-16le bom", []byte{0xFF, 0xFE, 'a', 0}, EncodingUTF16LE},
		{"utf-16be bom", []byte{0xFE, 0xFF, 0, 'a'}, EncodingUTF16BE},
		{"plain ascii", []byte("a,b,c"), EncodingUTF8},
		{"utf-8 multibyte", []byte("caf\xC3\xA9"), EncodingUTF8},
		{"utf-8 cut mid rune", []byte("caf\xC3"), EncodingUTF8},
		{"windows-1252 high byte", []byte("caf\xE9,1"), EncodingWindows1252},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectEncoding(tt.sample))
		})
	}
}

func TestDetectDelimiter(t *testing.T) {
	assert.Equal(t, ',', DetectDelimiter("a,b,c"))
	assert.Equal(t, ';', DetectDelimiter("a;b;c"))
	assert.Equal(t, '\t', DetectDelimiter("a\tb\tc"))
	assert.Equal(t, ';', DetectDelimiter(`"a,b";c;d`))
	assert.Equal(t, ',', DetectDelimiter(""))
}

func TestLookupEncoding(t *testing.T) {
	for _, name := range []string{"utf-8", "UTF8", "utf-16le", "utf-16be", "windows-1252", "latin1"} {
		_, err := lookupEncoding(name)
		assert.NoError(t, err, name)
	}
	_, err := lookupEncoding("ebcdic")
	assert.Error(t, err)
}
