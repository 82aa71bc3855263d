// Package format renders amounts and prices for display.
package format

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Token renders v with at most maxDigits fraction digits, rounding half away from zero,
// without trailing zeros and with comma thousands separators.
func Token(v float64, maxDigits int) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	if math.IsInf(v, 0) {
		if v > 0 {
			return "∞"
		}
		return "-∞"
	}
	d := decimal.NewFromFloat(v).Round(int32(maxDigits))
	if d.IsZero() {
		return "0"
	}
	return group(d.String())
}

// Fiat renders v as US dollars with exactly digits fraction digits.
func Fiat(v float64, digits int) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Token(v, digits)
	}
	d := decimal.NewFromFloat(v).Round(int32(digits))
	s := group(d.Abs().StringFixed(int32(digits)))
	if d.IsNegative() {
		return "-$" + s
	}
	return "$" + s
}

// InputValue renders v for an editable amount field: six fraction digits at most, trailing
// zeros removed. Non-finite values render as the empty string.
func InputValue(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	s := decimal.NewFromFloat(v).StringFixed(6)
	s = strings.TrimSuffix(strings.TrimRight(s, "0"), ".")
	if s == "" || s == "-0" {
		return "0"
	}
	return s
}

func group(s string) string {
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac, hasFrac := strings.Cut(s, ".")
	if len(intPart) > 3 {
		var b strings.Builder
		lead := len(intPart) % 3
		if lead > 0 {
			b.WriteString(intPart[:lead])
		}
		for i := lead; i < len(intPart); i += 3 {
			if b.Len() > 0 {
				b.WriteByte(',')
			}
			b.WriteString(intPart[i : i+3])
		}
		intPart = b.String()
	}
	if hasFrac {
		return sign + intPart + "." + frac
	}
	return sign + intPart
}
