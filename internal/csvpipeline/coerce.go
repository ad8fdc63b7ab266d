package csvpipeline

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// ParseAmount coerces a vendor-formatted number ("$1,234.50", "(12.00)",
// "1.234,5", "€ 9") to a float. Unparseable input yields 0.
func ParseAmount(s string) float64 {
	v, _ := parseNumber(s)
	return v
}

// ParseQuantity coerces s like ParseAmount and rounds to the nearest integer.
func ParseQuantity(s string) int {
	v, _ := parseNumber(s)
	return int(math.Round(v))
}

func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}

	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',':
			b.WriteRune(r)
		case r == '-':
			negative = !negative
		}
	}
	digits := b.String()
	if digits == "" {
		return 0, false
	}

	lastDot := strings.LastIndex(digits, ".")
	lastComma := strings.LastIndex(digits, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			digits = strings.ReplaceAll(digits, ".", "")
			digits = strings.Replace(digits, ",", ".", 1)
		} else {
			digits = strings.ReplaceAll(digits, ",", "")
		}
	case lastComma >= 0:
		frac := len(digits) - lastComma - 1
		if strings.Count(digits, ",") == 1 && frac > 0 && frac <= 2 {
			digits = strings.Replace(digits, ",", ".", 1)
		} else {
			digits = strings.ReplaceAll(digits, ",", "")
		}
	case strings.Count(digits, ".") > 1:
		digits = strings.ReplaceAll(digits, ".", "")
	}

	v, err := strconv.ParseFloat(digits, 64)
	if err != nil {
		return 0, false
	}
	if negative {
		v = -v
	}
	return v, true
}

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"02.01.2006",
	"Jan 2, 2006",
	"2 Jan 2006",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"01/02/2006 15:04",
}

// NormalizeDate renders s as YYYY-MM-DD when it matches a known layout.
// Unrecognized input is returned trimmed so validation can flag it.
func NormalizeDate(s string) string {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return s
}
